// Package planner turns parsed queries into executable plans.
//
// Compilation resolves every pattern name to a frame slot, infers the kinds
// each parameter may take, and lowers the query to a linear pipeline of
// operators. Filters are pushed down to the earliest operator that binds
// every name they use, and scans are narrowed to id lookups or label scans
// where a filter allows it.
//
// Plans do not depend on a transaction. The catalog is consulted only to
// pick among candidate label scans, so labels are late bound: a plan stays
// valid however the graph changes after it was compiled.
package planner

import (
	"fmt"

	"github.com/orneryd/graphlite/pkg/cypher"
	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/value"
)

// Catalog reports label usage to guide scan selection.
// *storage.Catalog satisfies it.
type Catalog interface {
	LabelCount(label string) uint64
}

// Prepare parses and compiles query text.
func Prepare(text string, cat Catalog) (*Plan, error) {
	query, err := cypher.Parse(text)
	if err != nil {
		return nil, err
	}
	return Compile(query, cat)
}

// step is a binding operator awaiting its input.
type step struct {
	op    Op
	binds int // slot bound by op, or -1
}

type compiler struct {
	plan  *Plan
	cat   Catalog
	scope map[string]int

	steps   []step
	bindAt  map[int]int // slot -> index of the step binding it
	preds   []Predicate
	actions []Action

	params   map[string]value.KindSet
	order    []string
	compares []*Compare
}

// Compile resolves and lowers a parsed query. cat may be nil.
func Compile(query *cypher.Query, cat Catalog) (*Plan, error) {
	c := &compiler{
		plan:   &Plan{},
		cat:    cat,
		scope:  map[string]int{},
		bindAt: map[int]int{},
		params: map[string]value.KindSet{},
	}

	for _, m := range query.Matches {
		if err := c.match(m); err != nil {
			return nil, err
		}
	}
	for _, w := range query.Where {
		pred, err := c.condition(w)
		if err != nil {
			return nil, err
		}
		c.preds = append(c.preds, splitAnd(pred)...)
	}
	for _, cr := range query.Creates {
		if err := c.create(cr); err != nil {
			return nil, err
		}
	}
	for _, s := range query.Sets {
		if err := c.set(s); err != nil {
			return nil, err
		}
	}
	if err := c.deletes(query.Deletes); err != nil {
		return nil, err
	}
	for _, r := range query.Return {
		e, err := c.expr(r)
		if err != nil {
			return nil, err
		}
		c.plan.Columns = append(c.plan.Columns, Column{Expr: e, Name: e.String()})
	}

	if err := c.inferParams(); err != nil {
		return nil, err
	}
	c.lower()

	for _, name := range c.order {
		c.plan.Params = append(c.plan.Params, ParamInfo{Name: name, Kinds: c.params[name]})
	}
	c.plan.Mutates = len(c.actions) > 0
	c.plan.finish()
	return c.plan, nil
}

// ============================================================================
// Name resolution
// ============================================================================

func (c *compiler) declare(name string, kind SlotKind, anonymous bool) int {
	slot := len(c.plan.Slots)
	if anonymous {
		prefix := "_n"
		if kind == SlotEdge {
			prefix = "_e"
		}
		name = fmt.Sprintf("%s%d", prefix, slot)
	} else {
		c.scope[name] = slot
	}
	c.plan.Slots = append(c.plan.Slots, Slot{Name: name, Kind: kind, Anonymous: anonymous})
	return slot
}

func (c *compiler) lookup(id *cypher.Ident) (int, error) {
	slot, ok := c.scope[id.Name]
	if !ok {
		return 0, status.New(status.UnknownIdentifier, "unknown identifier %q at %s", id.Name, id.Pos)
	}
	return slot, nil
}

func (c *compiler) lookupNode(id *cypher.Ident) (int, error) {
	slot, err := c.lookup(id)
	if err != nil {
		return 0, err
	}
	if c.plan.Slots[slot].Kind != SlotNode {
		return 0, notNode(id)
	}
	return slot, nil
}

func (c *compiler) mustBeNew(id *cypher.Ident) error {
	if id == nil {
		return nil
	}
	if _, ok := c.scope[id.Name]; ok {
		return status.New(status.IdentifierExists, "identifier %q already declared at %s", id.Name, id.Pos)
	}
	return nil
}

func notNode(id *cypher.Ident) error {
	return status.New(status.IdentifierIsNotNode, "identifier %q is an edge, not a node at %s", id.Name, id.Pos)
}

func notEdge(id *cypher.Ident) error {
	return status.New(status.IdentifierIsNotEdge, "identifier %q is a node, not an edge at %s", id.Name, id.Pos)
}

func (c *compiler) addStep(op Op, binds int) {
	if binds >= 0 {
		c.bindAt[binds] = len(c.steps)
	}
	c.steps = append(c.steps, step{op: op, binds: binds})
}

// ============================================================================
// MATCH
// ============================================================================

func (c *compiler) match(m *cypher.MatchClause) error {
	from, err := c.startNode(m.Start)
	if err != nil {
		return err
	}
	for _, st := range m.Steps {
		if from, err = c.matchStep(from, st); err != nil {
			return err
		}
	}
	return nil
}

// startNode binds the first node of a path, scanning when it is new.
func (c *compiler) startNode(n *cypher.NodePattern) (int, error) {
	slot, isNew, err := c.patternNode(n)
	if err != nil {
		return 0, err
	}
	if isNew {
		c.addStep(&NodeScan{Slot: slot, Name: c.slotName(slot)}, slot)
	}
	return slot, c.nodeConstraints(slot, n)
}

// patternNode resolves the name of a MATCH node pattern.
func (c *compiler) patternNode(n *cypher.NodePattern) (slot int, isNew bool, err error) {
	if n.Var == nil {
		return c.declare("", SlotNode, true), true, nil
	}
	if slot, ok := c.scope[n.Var.Name]; ok {
		if c.plan.Slots[slot].Kind != SlotNode {
			return 0, false, notNode(n.Var)
		}
		return slot, false, nil
	}
	return c.declare(n.Var.Name, SlotNode, false), true, nil
}

func (c *compiler) matchStep(from int, st cypher.MatchStep) (int, error) {
	edge := st.Edge
	var eslot int
	repeated := false
	switch {
	case edge.Var == nil:
		eslot = c.declare("", SlotEdge, true)
	default:
		if s, ok := c.scope[edge.Var.Name]; ok {
			if c.plan.Slots[s].Kind != SlotEdge {
				return 0, notEdge(edge.Var)
			}
			eslot, repeated = s, true
		} else {
			eslot = c.declare(edge.Var.Name, SlotEdge, false)
		}
	}

	nslot, nodeNew, err := c.patternNode(st.Node)
	if err != nil {
		return 0, err
	}

	endpoint := func(which Endpoint, node int, bind bool) *EndpointNode {
		return &EndpointNode{
			Edge: eslot, EdgeName: c.slotName(eslot),
			Which:    which,
			Relative: from, RelativeName: c.slotName(from),
			Node: node, NodeName: c.slotName(node),
			Bind: bind,
		}
	}
	bindIf := func(bind bool) int {
		if bind {
			return nslot
		}
		return -1
	}

	if !repeated {
		dir, which := ExpandOut, EndpointTarget
		switch edge.Dir {
		case cypher.DirLeft:
			dir, which = ExpandIn, EndpointOrigin
		case cypher.DirEither:
			dir, which = ExpandBoth, EndpointOther
		}
		c.addStep(&Expand{From: from, FromName: c.slotName(from), Edge: eslot, EdgeName: c.slotName(eslot), Dir: dir}, eslot)
		c.addStep(endpoint(which, nslot, nodeNew), bindIf(nodeNew))
	} else {
		switch edge.Dir {
		case cypher.DirRight:
			c.addStep(endpoint(EndpointOrigin, from, false), -1)
			c.addStep(endpoint(EndpointTarget, nslot, nodeNew), bindIf(nodeNew))
		case cypher.DirLeft:
			c.addStep(endpoint(EndpointTarget, from, false), -1)
			c.addStep(endpoint(EndpointOrigin, nslot, nodeNew), bindIf(nodeNew))
		default:
			c.addStep(endpoint(EndpointOther, nslot, nodeNew), bindIf(nodeNew))
		}
	}

	if edge.Type != nil {
		c.preds = append(c.preds, &HasType{Slot: eslot, Name: c.slotName(eslot), Type: edge.Type.Name})
	}
	if err := c.propConstraints(eslot, true, edge.Props); err != nil {
		return 0, err
	}
	return nslot, c.nodeConstraints(nslot, st.Node)
}

func (c *compiler) nodeConstraints(slot int, n *cypher.NodePattern) error {
	for _, l := range n.Labels {
		c.preds = append(c.preds, &HasLabel{Slot: slot, Name: c.slotName(slot), Label: l.Name})
	}
	return c.propConstraints(slot, false, n.Props)
}

// propConstraints turns a pattern property map into equality filters.
func (c *compiler) propConstraints(slot int, edge bool, props []*cypher.PropEntry) error {
	for _, p := range props {
		v, err := c.expr(p.Value)
		if err != nil {
			return err
		}
		cmp := &Compare{
			Op:    cypher.OpEq,
			Left:  &PropertyOf{Slot: slot, Name: c.slotName(slot), Key: p.Key.Name, Edge: edge},
			Right: v,
		}
		c.compares = append(c.compares, cmp)
		c.preds = append(c.preds, cmp)
	}
	return nil
}

func (c *compiler) slotName(slot int) string {
	return c.plan.Slots[slot].Name
}

// ============================================================================
// WHERE
// ============================================================================

func (c *compiler) condition(cond cypher.Condition) (Predicate, error) {
	switch cond := cond.(type) {
	case *cypher.AndCond:
		l, r, err := c.pair(cond.Left, cond.Right)
		if err != nil {
			return nil, err
		}
		return &And{Left: l, Right: r}, nil
	case *cypher.OrCond:
		l, r, err := c.pair(cond.Left, cond.Right)
		if err != nil {
			return nil, err
		}
		return &Or{Left: l, Right: r}, nil
	case *cypher.NotCond:
		inner, err := c.condition(cond.Inner)
		if err != nil {
			return nil, err
		}
		return &Not{Inner: inner}, nil
	case *cypher.CompareCond:
		l, err := c.expr(cond.Left)
		if err != nil {
			return nil, err
		}
		r, err := c.expr(cond.Right)
		if err != nil {
			return nil, err
		}
		cmp := &Compare{Op: cond.Op, Left: l, Right: r}
		c.compares = append(c.compares, cmp)
		return cmp, nil
	case *cypher.TruthCond:
		e, err := c.expr(cond.Expr)
		if err != nil {
			return nil, err
		}
		return &Truth{Expr: e}, nil
	}
	return nil, status.New(status.Internal, "unhandled condition %T", cond)
}

func (c *compiler) pair(a, b cypher.Condition) (Predicate, Predicate, error) {
	l, err := c.condition(a)
	if err != nil {
		return nil, nil, err
	}
	r, err := c.condition(b)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

func (c *compiler) expr(e cypher.Expr) (Expression, error) {
	switch e := e.(type) {
	case *cypher.ParamExpr:
		if _, ok := c.params[e.Name]; !ok {
			c.params[e.Name] = value.AnyKind
			c.order = append(c.order, e.Name)
		}
		return &ParamRef{Name: e.Name}, nil
	case *cypher.LiteralExpr:
		return &Const{Value: e.Value}, nil
	case *cypher.IDExpr:
		slot, err := c.lookup(e.Var)
		if err != nil {
			return nil, err
		}
		return &IDOf{Slot: slot, Name: e.Var.Name}, nil
	case *cypher.LabelExpr:
		slot, err := c.lookup(e.Var)
		if err != nil {
			return nil, err
		}
		return &LabelOf{Slot: slot, Name: e.Var.Name, Edge: c.plan.Slots[slot].Kind == SlotEdge}, nil
	case *cypher.PropertyExpr:
		slot, err := c.lookup(e.Var)
		if err != nil {
			return nil, err
		}
		return &PropertyOf{Slot: slot, Name: e.Var.Name, Key: e.Key.Name, Edge: c.plan.Slots[slot].Kind == SlotEdge}, nil
	}
	return nil, status.New(status.Internal, "unhandled expression %T", e)
}

// ============================================================================
// CREATE, SET, DELETE
// ============================================================================

func (c *compiler) create(cr cypher.CreateClause) error {
	switch cr := cr.(type) {
	case *cypher.CreateNode:
		props, err := c.assigns(cr.Props)
		if err != nil {
			return err
		}
		if err := c.mustBeNew(cr.Var); err != nil {
			return err
		}
		action := &CreateNodeAction{Slot: -1, Props: props}
		if cr.Var != nil {
			action.Slot = c.declare(cr.Var.Name, SlotNode, false)
			action.Name = cr.Var.Name
		}
		for _, l := range cr.Labels {
			action.Labels = append(action.Labels, l.Name)
		}
		c.actions = append(c.actions, action)
		return nil

	case *cypher.CreateEdge:
		origin, err := c.lookupNode(cr.Origin)
		if err != nil {
			return err
		}
		target, err := c.lookupNode(cr.Target)
		if err != nil {
			return err
		}
		props, err := c.assigns(cr.Props)
		if err != nil {
			return err
		}
		if err := c.mustBeNew(cr.Var); err != nil {
			return err
		}
		action := &CreateEdgeAction{
			Slot: -1, Type: cr.Type.Name,
			Origin: origin, OriginName: cr.Origin.Name,
			Target: target, TargetName: cr.Target.Name,
			Props: props,
		}
		if cr.Var != nil {
			action.Slot = c.declare(cr.Var.Name, SlotEdge, false)
			action.Name = cr.Var.Name
		}
		c.actions = append(c.actions, action)
		return nil
	}
	return status.New(status.Internal, "unhandled create clause %T", cr)
}

func (c *compiler) assigns(props []*cypher.PropEntry) ([]PropAssign, error) {
	out := make([]PropAssign, 0, len(props))
	for _, p := range props {
		v, err := c.expr(p.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, PropAssign{Key: p.Key.Name, Value: v})
	}
	return out, nil
}

func (c *compiler) set(s *cypher.SetItem) error {
	slot, err := c.lookup(s.Target)
	if err != nil {
		return err
	}
	v, err := c.expr(s.Value)
	if err != nil {
		return err
	}
	c.actions = append(c.actions, &SetAction{
		Slot: slot, Name: s.Target.Name,
		Edge: c.plan.Slots[slot].Kind == SlotEdge,
		Key:  s.Key.Name, Value: v,
	})
	return nil
}

// deletes resolves DELETE targets, dropping duplicates and ordering edges
// before nodes so a node and its edges can go in one statement.
func (c *compiler) deletes(names []*cypher.Ident) error {
	seen := map[int]bool{}
	var edges, nodes []Action
	for _, name := range names {
		slot, err := c.lookup(name)
		if err != nil {
			return err
		}
		if seen[slot] {
			continue
		}
		seen[slot] = true
		isEdge := c.plan.Slots[slot].Kind == SlotEdge
		action := &DeleteAction{Slot: slot, Name: name.Name, Edge: isEdge}
		if isEdge {
			edges = append(edges, action)
		} else {
			nodes = append(nodes, action)
		}
	}
	c.actions = append(c.actions, edges...)
	c.actions = append(c.actions, nodes...)
	return nil
}
