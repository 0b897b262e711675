package value

import "strings"

// KindSet is a set of kinds. The query compiler uses it to track what an
// expression or parameter may evaluate to.
type KindSet uint8

const (
	// AnyKind admits every non-null kind.
	AnyKind KindSet = 1<<KindID | 1<<KindInteger | 1<<KindReal | 1<<KindBoolean | 1<<KindText | 1<<KindBlob
	// Numeric admits Integer and Real.
	Numeric KindSet = 1<<KindInteger | 1<<KindReal
	// Orderable admits every kind that supports <, <=, > and >=.
	Orderable KindSet = 1<<KindID | Numeric | 1<<KindText
	// Identifier admits values usable as a node or edge id.
	Identifier KindSet = 1<<KindID | 1<<KindInteger
)

// SetOf builds a KindSet. Null is ignored since Null is admitted everywhere.
func SetOf(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		if k != KindNull && k.Valid() {
			s |= 1 << k
		}
	}
	return s
}

// Has reports whether k is admitted. Null is always admitted.
func (s KindSet) Has(k Kind) bool {
	if k == KindNull {
		return true
	}
	return s&(1<<k) != 0
}

// Empty reports whether no non-null kind is admitted.
func (s KindSet) Empty() bool { return s == 0 }

// Single returns the only kind in s, if s has exactly one.
func (s KindSet) Single() (Kind, bool) {
	var found Kind
	n := 0
	for k := KindID; k < KindNull; k++ {
		if s.Has(k) {
			found = k
			n++
		}
	}
	return found, n == 1
}

func (s KindSet) String() string {
	if s == AnyKind {
		return "ANY"
	}
	if s == 0 {
		return "NONE"
	}
	var parts []string
	for k := KindID; k < KindNull; k++ {
		if s.Has(k) {
			parts = append(parts, k.String())
		}
	}
	return strings.Join(parts, "|")
}

// EqualityPartners returns the kinds that k may be compared with using = and
// <> without a type mismatch.
func EqualityPartners(k Kind) KindSet {
	switch k {
	case KindInteger:
		return Numeric | 1<<KindID
	case KindReal:
		return Numeric
	case KindID:
		return Identifier
	case KindNull:
		return AnyKind
	}
	return SetOf(k)
}

// OrderPartners returns the kinds that k may be ordered against. It is empty
// for kinds without an order.
func OrderPartners(k Kind) KindSet {
	switch k {
	case KindInteger:
		return Numeric | 1<<KindID
	case KindReal:
		return Numeric
	case KindID:
		return Identifier
	case KindText:
		return SetOf(KindText)
	case KindNull:
		return Orderable
	}
	return 0
}

// EqualityPartnersOf widens EqualityPartners over every kind in s.
func EqualityPartnersOf(s KindSet) KindSet {
	var out KindSet
	for k := KindID; k < KindNull; k++ {
		if s.Has(k) {
			out |= EqualityPartners(k)
		}
	}
	return out
}

// OrderPartnersOf widens OrderPartners over every kind in s.
func OrderPartnersOf(s KindSet) KindSet {
	var out KindSet
	for k := KindID; k < KindNull; k++ {
		if s.Has(k) {
			out |= OrderPartners(k)
		}
	}
	return out
}
