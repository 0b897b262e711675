package graphlite

import (
	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/value"
)

// ReturnCount returns the number of columns the statement produces.
func (s *Statement) ReturnCount() int { return len(s.plan.Columns) }

// ColumnName returns the source text of column i.
func (s *Statement) ColumnName(i int) (string, error) {
	if i < 0 || i >= len(s.plan.Columns) {
		return "", status.New(status.IndexOutOfBounds, "column %d out of range [0, %d)", i, len(s.plan.Columns))
	}
	return s.plan.Columns[i].Name, nil
}

// Columns returns the source text of every column.
func (s *Statement) Columns() []string {
	names := make([]string, len(s.plan.Columns))
	for i, c := range s.plan.Columns {
		names[i] = c.Name
	}
	return names
}

// Return returns column i of the current row. It is only valid directly
// after Step returned status.Match.
func (s *Statement) Return(i int) (value.Value, error) {
	if s.finalized {
		return value.Null, errFinalized
	}
	if s.state != stmtRow {
		return value.Null, status.New(status.Misuse, "no current row; Step must return MATCH first")
	}
	row := s.cursor.Row()
	if i < 0 || i >= len(row) {
		return value.Null, status.New(status.IndexOutOfBounds, "column %d out of range [0, %d)", i, len(row))
	}
	return row[i], nil
}

// ReturnType returns the kind of column i in the current row.
func (s *Statement) ReturnType(i int) (value.Kind, error) {
	v, err := s.Return(i)
	if err != nil {
		return value.KindNull, err
	}
	return v.Kind(), nil
}

func (s *Statement) returnKind(i int, want value.Kind) (value.Value, error) {
	v, err := s.Return(i)
	if err != nil {
		return value.Null, err
	}
	if v.Kind() != want {
		return value.Null, status.New(status.TypeMismatch, "column %d is %s, not %s", i, v.Kind(), want)
	}
	return v, nil
}

// ReturnID returns column i, which must be an ID.
func (s *Statement) ReturnID(i int) (uint64, error) {
	v, err := s.returnKind(i, value.KindID)
	id, _ := v.AsID()
	return id, err
}

// ReturnInteger returns column i, which must be an Integer.
func (s *Statement) ReturnInteger(i int) (int64, error) {
	v, err := s.returnKind(i, value.KindInteger)
	n, _ := v.AsInteger()
	return n, err
}

// ReturnReal returns column i, which must be a Real.
func (s *Statement) ReturnReal(i int) (float64, error) {
	v, err := s.returnKind(i, value.KindReal)
	f, _ := v.AsReal()
	return f, err
}

// ReturnBoolean returns column i, which must be a Boolean.
func (s *Statement) ReturnBoolean(i int) (bool, error) {
	v, err := s.returnKind(i, value.KindBoolean)
	b, _ := v.AsBoolean()
	return b, err
}

// ReturnText returns column i, which must be Text.
func (s *Statement) ReturnText(i int) (string, error) {
	v, err := s.returnKind(i, value.KindText)
	t, _ := v.AsText()
	return t, err
}

// ReturnBlob returns a copy of column i, which must be a Blob.
func (s *Statement) ReturnBlob(i int) ([]byte, error) {
	v, err := s.returnKind(i, value.KindBlob)
	if err != nil {
		return nil, err
	}
	b, _ := v.AsBlob()
	return b, nil
}

// ReturnBytes returns the byte length of column i, which must be Text or
// Blob.
func (s *Statement) ReturnBytes(i int) (int, error) {
	v, err := s.Return(i)
	if err != nil {
		return 0, err
	}
	if k := v.Kind(); k != value.KindText && k != value.KindBlob {
		return 0, status.New(status.TypeMismatch, "column %d is %s, not TEXT or BLOB", i, k)
	}
	return v.Len(), nil
}
