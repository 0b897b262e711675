package planner

import (
	"github.com/orneryd/graphlite/pkg/cypher"
)

// lower assembles the pipeline: binding steps in order, each followed by
// the filters that become evaluable there, then Update and Project.
func (c *compiler) lower() {
	// attached[i+1] holds the filters placed after step i; attached[0] the
	// ones that need no binding at all.
	attached := make([][]Predicate, len(c.steps)+1)
	for _, pred := range c.preds {
		at := -1
		for _, slot := range pred.slots() {
			if i, ok := c.bindAt[slot]; ok && i > at {
				at = i
			}
		}
		attached[at+1] = append(attached[at+1], pred)
	}

	for i := range c.steps {
		scan, ok := c.steps[i].op.(*NodeScan)
		if !ok {
			continue
		}
		c.steps[i].op, attached[i+1] = c.narrowScan(scan, attached[i+1])
	}

	var op Op = &Argument{}
	op = withFilter(op, attached[0])
	for i, st := range c.steps {
		link(st.op, op)
		op = withFilter(st.op, attached[i+1])
	}
	if len(c.actions) > 0 {
		op = &Update{In: op, Actions: c.actions}
	}
	if len(c.plan.Columns) > 0 {
		op = &Project{In: op, Columns: c.plan.Columns}
	}
	c.plan.Root = op
}

// narrowScan replaces a full node scan with an id lookup when a filter pins
// ID(n), or else with a scan of the rarest required label.
func (c *compiler) narrowScan(scan *NodeScan, preds []Predicate) (Op, []Predicate) {
	for i, pred := range preds {
		if id := idLookup(scan.Slot, pred); id != nil {
			rest := append(append([]Predicate(nil), preds[:i]...), preds[i+1:]...)
			return &NodeByID{Slot: scan.Slot, Name: scan.Name, ID: id}, rest
		}
	}

	best := -1
	var bestCount uint64
	for i, pred := range preds {
		hl, ok := pred.(*HasLabel)
		if !ok || hl.Slot != scan.Slot {
			continue
		}
		count := c.labelCount(hl.Label)
		if best < 0 || count < bestCount || (count == bestCount && hl.Label < preds[best].(*HasLabel).Label) {
			best, bestCount = i, count
		}
	}
	if best < 0 {
		return scan, preds
	}
	label := preds[best].(*HasLabel).Label
	rest := append(append([]Predicate(nil), preds[:best]...), preds[best+1:]...)
	return &LabelScan{Slot: scan.Slot, Name: scan.Name, Label: label}, rest
}

func (c *compiler) labelCount(label string) uint64 {
	if c.cat == nil {
		return 0
	}
	return c.cat.LabelCount(label)
}

// idLookup returns expr when pred is ID(slot) = expr with expr independent
// of slot.
func idLookup(slot int, pred Predicate) Expression {
	cmp, ok := pred.(*Compare)
	if !ok || cmp.Op != cypher.OpEq {
		return nil
	}
	for _, pair := range [2][2]Expression{{cmp.Left, cmp.Right}, {cmp.Right, cmp.Left}} {
		id, ok := pair[0].(*IDOf)
		if !ok || id.Slot != slot || usesSlot(pair[1], slot) {
			continue
		}
		return pair[1]
	}
	return nil
}

func usesSlot(e Expression, slot int) bool {
	for _, s := range e.slots() {
		if s == slot {
			return true
		}
	}
	return false
}

func withFilter(in Op, preds []Predicate) Op {
	if len(preds) == 0 {
		return in
	}
	return &Filter{In: in, Pred: joinAnd(preds)}
}

func link(op, in Op) {
	switch op := op.(type) {
	case *NodeScan:
		op.In = in
	case *LabelScan:
		op.In = in
	case *NodeByID:
		op.In = in
	case *Expand:
		op.In = in
	case *EndpointNode:
		op.In = in
	case *Filter:
		op.In = in
	}
}
