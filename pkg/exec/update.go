package exec

import (
	"github.com/orneryd/graphlite/pkg/planner"
	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/value"
)

// update applies the mutations of a statement. It is eager: the first call
// to Next drains its input, applying CREATE and SET row by row, then runs
// every collected DELETE (edges before nodes) and finally replays the rows.
// Matching therefore never observes the statement's own deletes, and a node
// whose edges are deleted by the same statement can be deleted as well.
type update struct {
	in      Operator
	actions []planner.Action

	drained bool
	rows    [][]binding
	pos     int

	edges []uint64
	nodes []uint64
}

func (u *update) Open(ctx *Context) error {
	u.drained, u.rows, u.pos = false, nil, 0
	u.edges, u.nodes = nil, nil
	return u.in.Open(ctx)
}

func (u *update) Next(ctx *Context) (bool, error) {
	if !u.drained {
		if err := u.drain(ctx); err != nil {
			return false, err
		}
		u.drained = true
	}
	if u.pos >= len(u.rows) {
		return false, nil
	}
	copy(ctx.frame, u.rows[u.pos])
	u.rows[u.pos] = nil
	u.pos++
	return true, nil
}

func (u *update) Close() { u.in.Close() }

func (u *update) drain(ctx *Context) error {
	for {
		ok, err := u.in.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		for _, action := range u.actions {
			if err := u.apply(ctx, action); err != nil {
				return err
			}
		}
		ctx.invalidate()
		row := make([]binding, len(ctx.frame))
		for i, b := range ctx.frame {
			row[i] = binding{bound: b.bound, id: b.id}
		}
		u.rows = append(u.rows, row)
	}

	for _, id := range u.edges {
		if err := ctx.Txn.DeleteEdge(id); err != nil {
			return err
		}
	}
	for _, id := range u.nodes {
		if err := ctx.Txn.DeleteNode(id); err != nil {
			return err
		}
	}
	if len(u.edges)+len(u.nodes) > 0 {
		ctx.invalidate()
		ctx.purged = true
	}
	return nil
}

func (u *update) apply(ctx *Context, action planner.Action) error {
	switch a := action.(type) {
	case *planner.CreateNodeAction:
		props, err := evalProps(ctx, a.Props)
		if err != nil {
			return err
		}
		id, err := ctx.Txn.CreateNode(a.Labels, props)
		if err != nil {
			return err
		}
		if a.Slot >= 0 {
			ctx.bind(a.Slot, id)
		}
	case *planner.CreateEdgeAction:
		origin, err := ctx.slotID(a.Origin)
		if err != nil {
			return err
		}
		target, err := ctx.slotID(a.Target)
		if err != nil {
			return err
		}
		props, err := evalProps(ctx, a.Props)
		if err != nil {
			return err
		}
		id, err := ctx.Txn.CreateEdge(a.Type, origin, target, props)
		if err != nil {
			return err
		}
		if a.Slot >= 0 {
			ctx.bind(a.Slot, id)
		}
	case *planner.SetAction:
		v, err := ctx.Eval(a.Value)
		if err != nil {
			return err
		}
		id, err := ctx.slotID(a.Slot)
		if err != nil {
			return err
		}
		if a.Edge {
			err = ctx.Txn.SetEdgeProperty(id, a.Key, v)
		} else {
			err = ctx.Txn.SetNodeProperty(id, a.Key, v)
		}
		if err != nil {
			return err
		}
		ctx.invalidate()
	case *planner.DeleteAction:
		id, err := ctx.slotID(a.Slot)
		if err != nil {
			return err
		}
		if ctx.deleted[id] {
			return nil
		}
		ctx.deleted[id] = true
		if a.Edge {
			u.edges = append(u.edges, id)
		} else {
			u.nodes = append(u.nodes, id)
		}
	default:
		return status.New(status.Internal, "unhandled action %T", action)
	}
	return nil
}

func evalProps(ctx *Context, props []planner.PropAssign) (map[string]value.Value, error) {
	if len(props) == 0 {
		return nil, nil
	}
	out := make(map[string]value.Value, len(props))
	for _, p := range props {
		v, err := ctx.Eval(p.Value)
		if err != nil {
			return nil, err
		}
		out[p.Key] = v
	}
	return out, nil
}
