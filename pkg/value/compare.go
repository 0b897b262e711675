package value

import (
	"bytes"
	"math"
	"strings"

	"github.com/orneryd/graphlite/pkg/status"
)

// Equal compares two values for the = operator.
//
// Integer and Real compare numerically and an ID compares with a non-negative
// Integer. Any comparison involving Null is false. Other cross-kind
// comparisons fail with TYPE_MISMATCH.
func Equal(a, b Value) (bool, error) {
	if a.IsNull() || b.IsNull() {
		return false, nil
	}
	ka, kb := a.Kind(), b.Kind()
	if ka == kb {
		switch ka {
		case KindReal:
			return math.Float64frombits(a.bits) == math.Float64frombits(b.bits), nil
		case KindText:
			return a.str == b.str, nil
		case KindBlob:
			return bytes.Equal(a.blob, b.blob), nil
		}
		return a.bits == b.bits, nil
	}
	if isNumeric(ka) && isNumeric(kb) {
		return toFloat(a) == toFloat(b), nil
	}
	if c, ok := compareIDInteger(a, b); ok {
		return c == 0, nil
	}
	return false, mismatch(ka, kb)
}

// Order compares two values for <, <=, > and >=. It returns -1, 0 or +1 and
// ok=false when either side is Null. Booleans and blobs are not ordered.
func Order(a, b Value) (cmp int, ok bool, err error) {
	if a.IsNull() || b.IsNull() {
		return 0, false, nil
	}
	ka, kb := a.Kind(), b.Kind()
	switch {
	case ka == KindInteger && kb == KindInteger:
		return compareInt(int64(a.bits), int64(b.bits)), true, nil
	case isNumeric(ka) && isNumeric(kb):
		x, y := toFloat(a), toFloat(b)
		if math.IsNaN(x) || math.IsNaN(y) {
			return 0, false, nil
		}
		return compareFloat(x, y), true, nil
	case ka == KindText && kb == KindText:
		return strings.Compare(a.str, b.str), true, nil
	case ka == KindID && kb == KindID:
		return compareUint(a.bits, b.bits), true, nil
	}
	if c, ok := compareIDInteger(a, b); ok {
		return c, true, nil
	}
	return 0, false, mismatch(ka, kb)
}

func mismatch(a, b Kind) error {
	return status.New(status.TypeMismatch, "cannot compare %s with %s", a, b)
}

func isNumeric(k Kind) bool {
	return k == KindInteger || k == KindReal
}

func toFloat(v Value) float64 {
	if v.Kind() == KindInteger {
		return float64(int64(v.bits))
	}
	return math.Float64frombits(v.bits)
}

// compareIDInteger orders an ID against an Integer. Negative integers sort
// before every identifier.
func compareIDInteger(a, b Value) (int, bool) {
	switch {
	case a.Kind() == KindID && b.Kind() == KindInteger:
		if int64(b.bits) < 0 {
			return 1, true
		}
		return compareUint(a.bits, b.bits), true
	case a.Kind() == KindInteger && b.Kind() == KindID:
		c, ok := compareIDInteger(b, a)
		return -c, ok
	}
	return 0, false
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
