// Package exec runs compiled plans against a storage transaction.
//
// Every plan operator becomes an iterator. Iterators pull rows from their
// input and share one frame per cursor: each operator writes the slots it
// binds and leaves the others alone, so the frame always describes the
// current row.
package exec

import (
	"errors"

	"github.com/orneryd/graphlite/pkg/planner"
	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/storage"
	"github.com/orneryd/graphlite/pkg/value"
)

// binding is one frame slot. Entities are loaded on first use and dropped
// whenever the current statement mutates the graph.
type binding struct {
	bound bool
	id    uint64
	node  *storage.Node
	edge  *storage.Edge
}

// Context is the execution state of one cursor.
type Context struct {
	Txn    *storage.Txn
	Plan   *planner.Plan
	Params []value.Value

	frame   []binding
	row     []value.Value
	deleted map[uint64]bool
	purged  bool // deletes in deleted have been applied
}

func newContext(plan *planner.Plan, txn *storage.Txn, params []value.Value) *Context {
	return &Context{
		Txn:     txn,
		Plan:    plan,
		Params:  params,
		frame:   make([]binding, len(plan.Slots)),
		row:     make([]value.Value, len(plan.Columns)),
		deleted: map[uint64]bool{},
	}
}

func (ctx *Context) bind(slot int, id uint64) {
	ctx.frame[slot] = binding{bound: true, id: id}
}

func (ctx *Context) bindNode(slot int, n *storage.Node) {
	ctx.frame[slot] = binding{bound: true, id: n.ID, node: n}
}

func (ctx *Context) bindEdge(slot int, e *storage.Edge) {
	ctx.frame[slot] = binding{bound: true, id: e.ID, edge: e}
}

// invalidate drops every cached entity after a mutation.
func (ctx *Context) invalidate() {
	for i := range ctx.frame {
		ctx.frame[i].node = nil
		ctx.frame[i].edge = nil
	}
}

func (ctx *Context) slotID(slot int) (uint64, error) {
	b := ctx.frame[slot]
	if !b.bound {
		return 0, status.New(status.Internal, "slot %s read before it was bound", ctx.Plan.Slots[slot].Name)
	}
	return b.id, nil
}

// node returns the node bound to slot, or nil if it no longer exists.
func (ctx *Context) node(slot int) (*storage.Node, error) {
	b := &ctx.frame[slot]
	if !b.bound {
		return nil, status.New(status.Internal, "slot %s read before it was bound", ctx.Plan.Slots[slot].Name)
	}
	if b.node == nil {
		n, err := loadNode(ctx.Txn, b.id)
		if err != nil || n == nil {
			return nil, err
		}
		b.node = n
	}
	return b.node, nil
}

// edge returns the edge bound to slot, or nil if it no longer exists.
func (ctx *Context) edge(slot int) (*storage.Edge, error) {
	b := &ctx.frame[slot]
	if !b.bound {
		return nil, status.New(status.Internal, "slot %s read before it was bound", ctx.Plan.Slots[slot].Name)
	}
	if b.edge == nil {
		e, err := loadEdge(ctx.Txn, b.id)
		if err != nil || e == nil {
			return nil, err
		}
		b.edge = e
	}
	return b.edge, nil
}

// loadNode reads a node, mapping "not found" to nil.
func loadNode(txn *storage.Txn, id uint64) (*storage.Node, error) {
	n, err := txn.GetNode(id)
	if errors.Is(err, storage.ErrNodeNotFound) {
		return nil, nil
	}
	return n, err
}

// loadEdge reads an edge, mapping "not found" to nil.
func loadEdge(txn *storage.Txn, id uint64) (*storage.Edge, error) {
	e, err := txn.GetEdge(id)
	if errors.Is(err, storage.ErrEdgeNotFound) {
		return nil, nil
	}
	return e, err
}
