package exec

import (
	"github.com/orneryd/graphlite/pkg/planner"
	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/storage"
	"github.com/orneryd/graphlite/pkg/value"
)

// Cursor drives one execution of a plan. A cursor is not safe for
// concurrent use; independent cursors over the same plan are.
type Cursor struct {
	ctx    *Context
	root   Operator
	opened bool
	done   bool
	err    error
}

// Start prepares a cursor over plan. params holds one value per entry of
// plan.Params, in the same order. No rows are read until the first Next.
func Start(plan *planner.Plan, txn *storage.Txn, params []value.Value) (*Cursor, error) {
	if len(params) != len(plan.Params) {
		return nil, status.New(status.Internal, "plan takes %d parameters, got %d", len(plan.Params), len(params))
	}
	root, err := build(plan.Root)
	if err != nil {
		return nil, err
	}
	return &Cursor{ctx: newContext(plan, txn, params), root: root}, nil
}

// Next advances to the next row. It returns false when the plan is
// exhausted; further calls keep returning false. An error is sticky.
func (c *Cursor) Next() (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	if c.done {
		return false, nil
	}
	if !c.opened {
		if c.ctx.Plan.Mutates && !c.ctx.Txn.Writable() {
			return false, c.fail(status.New(status.ReadOnlyWrite, "statement modifies the graph but the transaction is read-only"))
		}
		if err := c.root.Open(c.ctx); err != nil {
			return false, c.fail(err)
		}
		c.opened = true
	}
	ok, err := c.root.Next(c.ctx)
	if err != nil {
		return false, c.fail(err)
	}
	if !ok {
		c.done = true
		c.root.Close()
	}
	return ok, nil
}

// Row returns the projected values of the current row.
func (c *Cursor) Row() []value.Value { return c.ctx.Row() }

// Done reports whether the cursor is exhausted.
func (c *Cursor) Done() bool { return c.done }

// Close releases the operator tree. It is safe to call more than once.
func (c *Cursor) Close() {
	if c.opened && !c.done {
		c.root.Close()
	}
	c.done = true
}

func (c *Cursor) fail(err error) error {
	c.err = err
	if c.opened {
		c.root.Close()
	}
	c.done = true
	return err
}
