package planner

import (
	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/value"
)

// kinds returns the static kind set of an expression. A Null literal has
// the empty set.
func (c *compiler) kinds(e Expression) value.KindSet {
	switch e := e.(type) {
	case *Const:
		return value.SetOf(e.Value.Kind())
	case *ParamRef:
		return c.params[e.Name]
	case *IDOf:
		return value.SetOf(value.KindID)
	case *LabelOf:
		return value.SetOf(value.KindText)
	}
	return value.AnyKind
}

func isNullConst(e Expression) bool {
	k, ok := e.(*Const)
	return ok && k.Value.IsNull()
}

func partnersOf(c *Compare, s value.KindSet) value.KindSet {
	if c.Op.Ordering() {
		return value.OrderPartnersOf(s)
	}
	return value.EqualityPartnersOf(s)
}

// inferParams narrows every parameter to the kinds accepted at all of its
// comparison sites, then rejects comparisons that can never succeed.
func (c *compiler) inferParams() error {
	for changed := true; changed; {
		changed = false
		for _, cmp := range c.compares {
			if isNullConst(cmp.Left) || isNullConst(cmp.Right) {
				continue
			}
			for _, side := range [2]struct{ self, other Expression }{{cmp.Left, cmp.Right}, {cmp.Right, cmp.Left}} {
				p, ok := side.self.(*ParamRef)
				if !ok {
					continue
				}
				narrowed := c.params[p.Name] & partnersOf(cmp, c.kinds(side.other))
				if narrowed != c.params[p.Name] {
					c.params[p.Name] = narrowed
					changed = true
				}
				if narrowed.Empty() {
					return status.New(status.TypeMismatch, "parameter $%s has no kind that satisfies every use", p.Name)
				}
			}
		}
	}

	for _, cmp := range c.compares {
		if isNullConst(cmp.Left) || isNullConst(cmp.Right) {
			continue
		}
		lk, rk := c.kinds(cmp.Left), c.kinds(cmp.Right)
		if (rk & partnersOf(cmp, lk)).Empty() {
			return status.New(status.TypeMismatch, "cannot compare %s (%s) with %s (%s) using %s",
				cmp.Left, lk, cmp.Right, rk, cmp.Op)
		}
	}
	return nil
}
