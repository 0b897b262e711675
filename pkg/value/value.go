// Package value implements the tagged value type shared by properties, bound
// parameters and result columns.
//
// A Value is one of ID, Integer, Real, Boolean, Text, Blob or Null. The zero
// Value is Null. Values are immutable; Blob accessors return copies.
package value

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/orneryd/graphlite/pkg/status"
)

// Kind is the type tag of a Value. The numeric values are stable.
type Kind uint8

const (
	KindID Kind = iota
	KindInteger
	KindReal
	KindBoolean
	KindText
	KindBlob
	KindNull
)

var kindNames = [...]string{"ID", "INTEGER", "REAL", "BOOLEAN", "TEXT", "BLOB", "NULL"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k <= KindNull
}

// Value is a tagged graph value.
type Value struct {
	kind Kind
	set  bool
	bits uint64
	str  string
	blob []byte
}

// Null is the Null value.
var Null = Value{}

// ID returns an ID value.
func ID(id uint64) Value { return Value{kind: KindID, set: true, bits: id} }

// Integer returns an Integer value.
func Integer(i int64) Value { return Value{kind: KindInteger, set: true, bits: uint64(i)} }

// Real returns a Real value.
func Real(f float64) Value { return Value{kind: KindReal, set: true, bits: math.Float64bits(f)} }

// Boolean returns a Boolean value.
func Boolean(b bool) Value {
	v := Value{kind: KindBoolean, set: true}
	if b {
		v.bits = 1
	}
	return v
}

// Text returns a Text value. Use TextChecked when the input may not be UTF-8.
func Text(s string) Value { return Value{kind: KindText, set: true, str: s} }

// TextChecked returns a Text value or an INVALID_STRING error.
func TextChecked(s string) (Value, error) {
	if !utf8.ValidString(s) {
		return Null, status.New(status.InvalidString, "text is not valid UTF-8")
	}
	return Text(s), nil
}

// Blob returns a Blob value holding a copy of b. A nil slice is an empty blob,
// not Null.
func Blob(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBlob, set: true, blob: cp}
}

// Kind returns the type tag.
func (v Value) Kind() Kind {
	if !v.set {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return !v.set }

// AsID returns the ID payload. ok is false for other kinds.
func (v Value) AsID() (uint64, bool) { return v.bits, v.Kind() == KindID }

// AsInteger returns the Integer payload.
func (v Value) AsInteger() (int64, bool) { return int64(v.bits), v.Kind() == KindInteger }

// AsReal returns the Real payload.
func (v Value) AsReal() (float64, bool) { return math.Float64frombits(v.bits), v.Kind() == KindReal }

// AsBoolean returns the Boolean payload.
func (v Value) AsBoolean() (bool, bool) { return v.bits == 1, v.Kind() == KindBoolean }

// AsText returns the Text payload.
func (v Value) AsText() (string, bool) { return v.str, v.Kind() == KindText }

// AsBlob returns a copy of the Blob payload.
func (v Value) AsBlob() ([]byte, bool) {
	if v.Kind() != KindBlob {
		return nil, false
	}
	cp := make([]byte, len(v.blob))
	copy(cp, v.blob)
	return cp, true
}

// Len returns the byte length of Text and Blob values and 0 otherwise.
func (v Value) Len() int {
	switch v.Kind() {
	case KindText:
		return len(v.str)
	case KindBlob:
		return len(v.blob)
	}
	return 0
}

// ToID converts ID and non-negative Integer values to an identifier.
func (v Value) ToID() (uint64, error) {
	switch v.Kind() {
	case KindID:
		return v.bits, nil
	case KindInteger:
		if i := int64(v.bits); i >= 0 {
			return uint64(i), nil
		}
		return 0, status.New(status.TypeMismatch, "negative integer %d is not an identifier", int64(v.bits))
	}
	return 0, status.New(status.TypeMismatch, "%s is not an identifier", v.Kind())
}

// Truthy reports whether v passes a WHERE clause on its own.
func (v Value) Truthy() bool {
	switch v.Kind() {
	case KindNull:
		return false
	case KindBoolean:
		return v.bits == 1
	case KindInteger:
		return int64(v.bits) != 0
	case KindReal:
		return math.Float64frombits(v.bits) != 0
	}
	return true
}

// Identical reports exact equality including the kind. Unlike Equal it never
// fails and Null is identical to Null.
func (v Value) Identical(o Value) bool {
	if v.Kind() != o.Kind() {
		return false
	}
	switch v.Kind() {
	case KindText:
		return v.str == o.str
	case KindBlob:
		return bytes.Equal(v.blob, o.blob)
	case KindNull:
		return true
	}
	return v.bits == o.bits
}

// Any returns the payload as a plain Go value (nil for Null).
func (v Value) Any() any {
	switch v.Kind() {
	case KindID:
		return v.bits
	case KindInteger:
		return int64(v.bits)
	case KindReal:
		return math.Float64frombits(v.bits)
	case KindBoolean:
		return v.bits == 1
	case KindText:
		return v.str
	case KindBlob:
		b, _ := v.AsBlob()
		return b
	}
	return nil
}

// String renders v in query-literal syntax.
func (v Value) String() string {
	switch v.Kind() {
	case KindID:
		return "#" + strconv.FormatUint(v.bits, 10)
	case KindInteger:
		return strconv.FormatInt(int64(v.bits), 10)
	case KindReal:
		s := strconv.FormatFloat(math.Float64frombits(v.bits), 'f', -1, 64)
		if !bytes.ContainsAny([]byte(s), ".eEnN") {
			s += ".0"
		}
		return s
	case KindBoolean:
		if v.bits == 1 {
			return "TRUE"
		}
		return "FALSE"
	case KindText:
		return "'" + v.str + "'"
	case KindBlob:
		return fmt.Sprintf("x'%x'", v.blob)
	}
	return "NULL"
}

// MarshalBinary encodes v as a kind byte followed by its payload. It lets
// gob-encoded records carry values without exporting the fields.
func (v Value) MarshalBinary() ([]byte, error) {
	switch v.Kind() {
	case KindID, KindInteger, KindReal:
		buf := make([]byte, 9)
		buf[0] = byte(v.Kind())
		binary.BigEndian.PutUint64(buf[1:], v.bits)
		return buf, nil
	case KindBoolean:
		return []byte{byte(v.Kind()), byte(v.bits)}, nil
	case KindText:
		return append([]byte{byte(v.Kind())}, v.str...), nil
	case KindBlob:
		return append([]byte{byte(v.Kind())}, v.blob...), nil
	case KindNull:
		return []byte{byte(v.Kind())}, nil
	}
	return nil, fmt.Errorf("value: cannot encode kind %d", v.Kind())
}

// UnmarshalBinary decodes the MarshalBinary format.
func (v *Value) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("value: empty encoding")
	}
	k, payload := Kind(data[0]), data[1:]
	switch k {
	case KindID, KindInteger, KindReal:
		if len(payload) != 8 {
			return fmt.Errorf("value: %s payload has %d bytes", k, len(payload))
		}
		*v = Value{kind: k, set: true, bits: binary.BigEndian.Uint64(payload)}
	case KindBoolean:
		if len(payload) != 1 || payload[0] > 1 {
			return fmt.Errorf("value: malformed BOOLEAN payload")
		}
		*v = Value{kind: k, set: true, bits: uint64(payload[0])}
	case KindText:
		*v = Value{kind: k, set: true, str: string(payload)}
	case KindBlob:
		*v = Blob(payload)
	case KindNull:
		*v = Null
	default:
		return fmt.Errorf("value: unknown kind %d", data[0])
	}
	return nil
}
