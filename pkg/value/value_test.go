package value

import (
	"bytes"
	"encoding/gob"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphlite/pkg/status"
)

func TestZeroValueIsNull(t *testing.T) {
	var v Value
	assert.True(t, v.IsNull())
	assert.Equal(t, KindNull, v.Kind())
	assert.Equal(t, "NULL", v.String())

	id := ID(0)
	assert.False(t, id.IsNull())
	assert.Equal(t, KindID, id.Kind())
}

func TestAccessors(t *testing.T) {
	n, ok := Integer(-7).AsInteger()
	assert.True(t, ok)
	assert.Equal(t, int64(-7), n)

	_, ok = Integer(1).AsReal()
	assert.False(t, ok, "no widening between Integer and Real")

	r, ok := Real(2.5).AsReal()
	assert.True(t, ok)
	assert.Equal(t, 2.5, r)

	b, ok := Boolean(true).AsBoolean()
	assert.True(t, ok)
	assert.True(t, b)

	src := []byte{1, 2, 3}
	blob := Blob(src)
	src[0] = 9
	got, ok := blob.AsBlob()
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, got)
	assert.Equal(t, 3, blob.Len())
	assert.Equal(t, 5, Text("hello").Len())
}

func TestTextChecked(t *testing.T) {
	_, err := TextChecked(string([]byte{0xff, 0xfe}))
	require.Error(t, err)
	assert.Equal(t, status.InvalidString, status.CodeOf(err))

	v, err := TextChecked("héllo")
	require.NoError(t, err)
	s, _ := v.AsText()
	assert.Equal(t, "héllo", s)
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Value
		want     bool
		mismatch bool
	}{
		{"ints", Integer(1), Integer(1), true, false},
		{"int real", Integer(2), Real(2.0), true, false},
		{"real int", Real(2.5), Integer(2), false, false},
		{"text", Text("a"), Text("a"), true, false},
		{"blob", Blob([]byte("x")), Blob([]byte("x")), true, false},
		{"bool", Boolean(true), Boolean(false), false, false},
		{"id id", ID(3), ID(3), true, false},
		{"id int", ID(3), Integer(3), true, false},
		{"id negative int", ID(3), Integer(-3), false, false},
		{"null left", Null, Integer(1), false, false},
		{"null null", Null, Null, false, false},
		{"text int", Text("1"), Integer(1), false, true},
		{"bool int", Boolean(true), Integer(1), false, true},
		{"blob text", Blob([]byte("a")), Text("a"), false, true},
		{"id real", ID(1), Real(1), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Equal(tt.a, tt.b)
			if tt.mismatch {
				require.Error(t, err)
				assert.True(t, errors.Is(err, status.ErrTypeMismatch))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrder(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Value
		cmp      int
		ok       bool
		mismatch bool
	}{
		{"int lt", Integer(1), Integer(2), -1, true, false},
		{"int real", Integer(3), Real(2.5), 1, true, false},
		{"text", Text("abc"), Text("abd"), -1, true, false},
		{"ids", ID(9), ID(9), 0, true, false},
		{"negative int before id", Integer(-1), ID(0), -1, true, false},
		{"null", Integer(1), Null, 0, false, false},
		{"nan", Real(math.NaN()), Real(1), 0, false, false},
		{"bools", Boolean(false), Boolean(true), 0, false, true},
		{"blobs", Blob(nil), Blob(nil), 0, false, true},
		{"text int", Text("1"), Integer(1), 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmp, ok, err := Order(tt.a, tt.b)
			if tt.mismatch {
				assert.Equal(t, status.TypeMismatch, status.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.cmp, cmp)
		})
	}
}

func TestTruthy(t *testing.T) {
	assert.False(t, Null.Truthy())
	assert.False(t, Boolean(false).Truthy())
	assert.False(t, Integer(0).Truthy())
	assert.False(t, Real(0).Truthy())
	assert.True(t, Integer(-1).Truthy())
	assert.True(t, Text("").Truthy())
	assert.True(t, ID(0).Truthy())
	assert.True(t, Blob(nil).Truthy())
}

func TestToID(t *testing.T) {
	id, err := Integer(12).ToID()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), id)

	_, err = Integer(-1).ToID()
	assert.Equal(t, status.TypeMismatch, status.CodeOf(err))
	_, err = Text("1").ToID()
	assert.Equal(t, status.TypeMismatch, status.CodeOf(err))
}

func TestStringRendering(t *testing.T) {
	assert.Equal(t, "#4", ID(4).String())
	assert.Equal(t, "-4", Integer(-4).String())
	assert.Equal(t, "4.0", Real(4).String())
	assert.Equal(t, "0.25", Real(0.25).String())
	assert.Equal(t, "TRUE", Boolean(true).String())
	assert.Equal(t, "'hi'", Text("hi").String())
	assert.Equal(t, "x'0102'", Blob([]byte{1, 2}).String())
}

func TestGobRoundTripInsideRecord(t *testing.T) {
	type record struct {
		Props map[string]Value
	}
	in := record{Props: map[string]Value{
		"id":   ID(1),
		"age":  Integer(42),
		"pi":   Real(3.14),
		"ok":   Boolean(true),
		"name": Text("Alice"),
		"raw":  Blob([]byte{0, 1}),
	}}

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(in))
	var out record
	require.NoError(t, gob.NewDecoder(&buf).Decode(&out))

	require.Len(t, out.Props, len(in.Props))
	for k, v := range in.Props {
		assert.True(t, v.Identical(out.Props[k]), "property %s", k)
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var v Value
	assert.Error(t, v.UnmarshalBinary(nil))
	assert.Error(t, v.UnmarshalBinary([]byte{byte(KindInteger), 1, 2}))
	assert.Error(t, v.UnmarshalBinary([]byte{byte(KindBoolean), 7}))
	assert.Error(t, v.UnmarshalBinary([]byte{200}))
}

func TestKindSet(t *testing.T) {
	s := SetOf(KindInteger, KindReal)
	assert.Equal(t, Numeric, s)
	assert.True(t, s.Has(KindNull))
	assert.False(t, s.Has(KindText))
	assert.Equal(t, "INTEGER|REAL", s.String())
	assert.Equal(t, "ANY", AnyKind.String())

	k, ok := SetOf(KindText).Single()
	assert.True(t, ok)
	assert.Equal(t, KindText, k)
	_, ok = Numeric.Single()
	assert.False(t, ok)

	assert.True(t, (Numeric & EqualityPartners(KindText)).Empty())
	assert.True(t, OrderPartners(KindBoolean).Empty())
	assert.Equal(t, Numeric|SetOf(KindID), EqualityPartnersOf(SetOf(KindInteger)))
	assert.Equal(t, Orderable, OrderPartnersOf(AnyKind))
}
