package graphlite

import (
	"strings"

	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/value"
)

// Bind sets parameter name (with or without the leading '$') to v. Binding
// is allowed before Start and once the statement is exhausted, failed or
// reset. The kind of v must be one the parameter accepts; Null always is.
func (s *Statement) Bind(name string, v value.Value) error {
	if err := s.checkBindable(); err != nil {
		return err
	}
	name = strings.TrimPrefix(name, "$")
	i, ok := s.plan.ParamIndex(name)
	if !ok {
		return status.New(status.UnknownIdentifier, "statement has no parameter $%s", name)
	}
	if !v.IsNull() {
		if kinds := s.plan.Params[i].Kinds; !kinds.Has(v.Kind()) {
			return status.New(status.TypeMismatch, "parameter $%s accepts %s, not %s", name, kinds, v.Kind())
		}
	}
	s.params[i] = v
	s.bound[i] = true
	return nil
}

// BindID binds an entity identifier.
func (s *Statement) BindID(name string, id uint64) error { return s.Bind(name, value.ID(id)) }

// BindInteger binds a 64-bit integer.
func (s *Statement) BindInteger(name string, i int64) error { return s.Bind(name, value.Integer(i)) }

// BindReal binds a float.
func (s *Statement) BindReal(name string, f float64) error { return s.Bind(name, value.Real(f)) }

// BindBoolean binds a boolean.
func (s *Statement) BindBoolean(name string, b bool) error { return s.Bind(name, value.Boolean(b)) }

// BindText binds a string, which must be valid UTF-8.
func (s *Statement) BindText(name string, text string) error {
	v, err := value.TextChecked(text)
	if err != nil {
		if bindErr := s.checkBindable(); bindErr != nil {
			return bindErr
		}
		return err
	}
	return s.Bind(name, v)
}

// BindBlob binds a byte string. The bytes are copied.
func (s *Statement) BindBlob(name string, b []byte) error { return s.Bind(name, value.Blob(b)) }

// BindNull binds Null. A parameter bound to Null counts as bound.
func (s *Statement) BindNull(name string) error { return s.Bind(name, value.Null) }

// ClearBindings unbinds every parameter.
func (s *Statement) ClearBindings() error {
	if err := s.checkBindable(); err != nil {
		return err
	}
	for i := range s.params {
		s.params[i] = value.Null
		s.bound[i] = false
	}
	return nil
}

func (s *Statement) checkBindable() error {
	if s.finalized {
		return errFinalized
	}
	if s.state.attached() {
		return status.New(status.Misuse, "cannot change bindings while the statement is running")
	}
	return nil
}
