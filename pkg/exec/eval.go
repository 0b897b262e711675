package exec

import (
	"github.com/orneryd/graphlite/pkg/cypher"
	"github.com/orneryd/graphlite/pkg/planner"
	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/value"
)

// Eval evaluates an expression against the current row.
func (ctx *Context) Eval(e planner.Expression) (value.Value, error) {
	switch e := e.(type) {
	case *planner.Const:
		return e.Value, nil
	case *planner.ParamRef:
		i, ok := ctx.Plan.ParamIndex(e.Name)
		if !ok || i >= len(ctx.Params) {
			return value.Null, status.New(status.Internal, "parameter $%s is not part of the plan", e.Name)
		}
		return ctx.Params[i], nil
	case *planner.IDOf:
		id, err := ctx.slotID(e.Slot)
		if err != nil || (ctx.purged && ctx.deleted[id]) {
			return value.Null, err
		}
		return value.ID(id), nil
	case *planner.LabelOf:
		if e.Edge {
			edge, err := ctx.edge(e.Slot)
			if err != nil || edge == nil {
				return value.Null, err
			}
			return value.Text(edge.Type), nil
		}
		node, err := ctx.node(e.Slot)
		if err != nil || node == nil || len(node.Labels) == 0 {
			return value.Null, err
		}
		return value.Text(node.Labels[0]), nil
	case *planner.PropertyOf:
		if e.Edge {
			edge, err := ctx.edge(e.Slot)
			if err != nil || edge == nil {
				return value.Null, err
			}
			return edge.Property(e.Key), nil
		}
		node, err := ctx.node(e.Slot)
		if err != nil || node == nil {
			return value.Null, err
		}
		return node.Property(e.Key), nil
	}
	return value.Null, status.New(status.Internal, "unhandled expression %T", e)
}

// Test evaluates a predicate against the current row. Comparisons with
// Null are false.
func (ctx *Context) Test(p planner.Predicate) (bool, error) {
	switch p := p.(type) {
	case *planner.And:
		ok, err := ctx.Test(p.Left)
		if err != nil || !ok {
			return false, err
		}
		return ctx.Test(p.Right)
	case *planner.Or:
		ok, err := ctx.Test(p.Left)
		if err != nil || ok {
			return ok, err
		}
		return ctx.Test(p.Right)
	case *planner.Not:
		ok, err := ctx.Test(p.Inner)
		return !ok && err == nil, err
	case *planner.Truth:
		v, err := ctx.Eval(p.Expr)
		return err == nil && v.Truthy(), err
	case *planner.HasLabel:
		node, err := ctx.node(p.Slot)
		return err == nil && node != nil && node.HasLabel(p.Label), err
	case *planner.HasType:
		edge, err := ctx.edge(p.Slot)
		return err == nil && edge != nil && edge.Type == p.Type, err
	case *planner.Compare:
		l, err := ctx.Eval(p.Left)
		if err != nil {
			return false, err
		}
		r, err := ctx.Eval(p.Right)
		if err != nil {
			return false, err
		}
		return compare(p.Op, l, r)
	}
	return false, status.New(status.Internal, "unhandled predicate %T", p)
}

func compare(op cypher.CompareOp, l, r value.Value) (bool, error) {
	switch op {
	case cypher.OpEq:
		return value.Equal(l, r)
	case cypher.OpNe:
		if l.IsNull() || r.IsNull() {
			return false, nil
		}
		eq, err := value.Equal(l, r)
		return !eq && err == nil, err
	}
	cmp, ok, err := value.Order(l, r)
	if err != nil || !ok {
		return false, err
	}
	switch op {
	case cypher.OpLt:
		return cmp < 0, nil
	case cypher.OpLe:
		return cmp <= 0, nil
	case cypher.OpGt:
		return cmp > 0, nil
	}
	return cmp >= 0, nil
}
