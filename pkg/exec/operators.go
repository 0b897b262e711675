package exec

import (
	"github.com/orneryd/graphlite/pkg/planner"
	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/storage"
	"github.com/orneryd/graphlite/pkg/value"
)

// Operator is a pull-based iterator over rows. Next returns false once the
// operator is exhausted; the current row lives in the Context frame.
type Operator interface {
	Open(ctx *Context) error
	Next(ctx *Context) (bool, error)
	Close()
}

// build turns a plan operator chain into iterators.
func build(op planner.Op) (Operator, error) {
	if op == nil {
		return nil, status.New(status.Internal, "plan has no root operator")
	}
	var in Operator
	if op.Input() != nil {
		var err error
		if in, err = build(op.Input()); err != nil {
			return nil, err
		}
	}
	switch op := op.(type) {
	case *planner.Argument:
		return &argument{}, nil
	case *planner.NodeScan:
		return &scan{in: in, slot: op.Slot, list: func(t *storage.Txn) ([]uint64, error) { return t.AllNodeIDs() }}, nil
	case *planner.LabelScan:
		label := op.Label
		return &scan{in: in, slot: op.Slot, list: func(t *storage.Txn) ([]uint64, error) { return t.NodesByLabel(label) }}, nil
	case *planner.NodeByID:
		return &nodeByID{in: in, op: op}, nil
	case *planner.Expand:
		return &expand{in: in, op: op}, nil
	case *planner.EndpointNode:
		return &endpoint{in: in, op: op}, nil
	case *planner.Filter:
		return &filter{in: in, pred: op.Pred}, nil
	case *planner.Update:
		return &update{in: in, actions: op.Actions}, nil
	case *planner.Project:
		return &project{in: in, columns: op.Columns}, nil
	}
	return nil, status.New(status.Internal, "unhandled operator %T", op)
}

// ============================================================================
// Sources
// ============================================================================

type argument struct {
	done bool
}

func (a *argument) Open(*Context) error { a.done = false; return nil }

func (a *argument) Next(*Context) (bool, error) {
	if a.done {
		return false, nil
	}
	a.done = true
	return true, nil
}

func (a *argument) Close() {}

// scan binds a node slot to every id returned by list, once per input row.
// Ids are materialized up front, so nodes created while the scan is running
// are not visited and nodes deleted meanwhile are skipped.
type scan struct {
	in   Operator
	slot int
	list func(*storage.Txn) ([]uint64, error)

	ids []uint64
	pos int
}

func (s *scan) Open(ctx *Context) error {
	s.ids, s.pos = nil, 0
	return s.in.Open(ctx)
}

func (s *scan) Next(ctx *Context) (bool, error) {
	for {
		for s.pos < len(s.ids) {
			id := s.ids[s.pos]
			s.pos++
			n, err := loadNode(ctx.Txn, id)
			if err != nil {
				return false, err
			}
			if n != nil {
				ctx.bindNode(s.slot, n)
				return true, nil
			}
		}
		ok, err := s.in.Next(ctx)
		if err != nil || !ok {
			return false, err
		}
		if s.ids, err = s.list(ctx.Txn); err != nil {
			return false, err
		}
		s.pos = 0
	}
}

func (s *scan) Close() { s.in.Close() }

type nodeByID struct {
	in Operator
	op *planner.NodeByID
}

func (n *nodeByID) Open(ctx *Context) error { return n.in.Open(ctx) }

func (n *nodeByID) Next(ctx *Context) (bool, error) {
	for {
		ok, err := n.in.Next(ctx)
		if err != nil || !ok {
			return false, err
		}
		v, err := ctx.Eval(n.op.ID)
		if err != nil {
			return false, err
		}
		if v.IsNull() {
			continue
		}
		if i, isInt := v.AsInteger(); isInt && i < 0 {
			continue
		}
		id, err := v.ToID()
		if err != nil {
			return false, err
		}
		node, err := loadNode(ctx.Txn, id)
		if err != nil {
			return false, err
		}
		if node != nil {
			ctx.bindNode(n.op.Slot, node)
			return true, nil
		}
	}
}

func (n *nodeByID) Close() { n.in.Close() }

// ============================================================================
// Traversal
// ============================================================================

// expand binds the edge slot to each edge incident to the bound node.
type expand struct {
	in Operator
	op *planner.Expand

	adj []storage.Adjacency
	pos int
}

func (e *expand) Open(ctx *Context) error {
	e.adj, e.pos = nil, 0
	return e.in.Open(ctx)
}

func (e *expand) Next(ctx *Context) (bool, error) {
	for {
		for e.pos < len(e.adj) {
			a := e.adj[e.pos]
			e.pos++
			edge, err := loadEdge(ctx.Txn, a.Edge)
			if err != nil {
				return false, err
			}
			if edge != nil {
				ctx.bindEdge(e.op.Edge, edge)
				return true, nil
			}
		}
		ok, err := e.in.Next(ctx)
		if err != nil || !ok {
			return false, err
		}
		if e.adj, err = e.incident(ctx); err != nil {
			return false, err
		}
		e.pos = 0
	}
}

func (e *expand) incident(ctx *Context) ([]storage.Adjacency, error) {
	from, err := ctx.slotID(e.op.From)
	if err != nil {
		return nil, err
	}
	switch e.op.Dir {
	case planner.ExpandOut:
		return ctx.Txn.Outgoing(from)
	case planner.ExpandIn:
		return ctx.Txn.Incoming(from)
	}
	out, err := ctx.Txn.Outgoing(from)
	if err != nil {
		return nil, err
	}
	in, err := ctx.Txn.Incoming(from)
	if err != nil {
		return nil, err
	}
	return append(out, in...), nil
}

func (e *expand) Close() { e.in.Close() }

// endpoint binds or checks one end of the bound edge.
type endpoint struct {
	in Operator
	op *planner.EndpointNode
}

func (p *endpoint) Open(ctx *Context) error { return p.in.Open(ctx) }

func (p *endpoint) Next(ctx *Context) (bool, error) {
	for {
		ok, err := p.in.Next(ctx)
		if err != nil || !ok {
			return false, err
		}
		id, found, err := p.resolve(ctx)
		if err != nil {
			return false, err
		}
		if !found {
			continue
		}
		if p.op.Bind {
			ctx.bind(p.op.Node, id)
			return true, nil
		}
		bound, err := ctx.slotID(p.op.Node)
		if err != nil {
			return false, err
		}
		if bound == id {
			return true, nil
		}
	}
}

func (p *endpoint) resolve(ctx *Context) (uint64, bool, error) {
	edge, err := ctx.edge(p.op.Edge)
	if err != nil || edge == nil {
		return 0, false, err
	}
	switch p.op.Which {
	case planner.EndpointOrigin:
		return edge.Source, true, nil
	case planner.EndpointTarget:
		return edge.Target, true, nil
	}
	rel, err := ctx.slotID(p.op.Relative)
	if err != nil {
		return 0, false, err
	}
	switch rel {
	case edge.Source:
		return edge.Target, true, nil
	case edge.Target:
		return edge.Source, true, nil
	}
	return 0, false, nil
}

func (p *endpoint) Close() { p.in.Close() }

// ============================================================================
// Row operators
// ============================================================================

type filter struct {
	in   Operator
	pred planner.Predicate
}

func (f *filter) Open(ctx *Context) error { return f.in.Open(ctx) }

func (f *filter) Next(ctx *Context) (bool, error) {
	for {
		ok, err := f.in.Next(ctx)
		if err != nil || !ok {
			return false, err
		}
		if ok, err = ctx.Test(f.pred); err != nil || ok {
			return ok, err
		}
	}
}

func (f *filter) Close() { f.in.Close() }

type project struct {
	in      Operator
	columns []planner.Column
}

func (p *project) Open(ctx *Context) error { return p.in.Open(ctx) }

func (p *project) Next(ctx *Context) (bool, error) {
	ok, err := p.in.Next(ctx)
	if err != nil || !ok {
		return false, err
	}
	for i, col := range p.columns {
		v, err := ctx.Eval(col.Expr)
		if err != nil {
			return false, err
		}
		ctx.row[i] = v
	}
	return true, nil
}

func (p *project) Close() { p.in.Close() }

// Row values are only valid until the next call to Next.
func (ctx *Context) Row() []value.Value { return ctx.row }
