package planner

import (
	"github.com/orneryd/graphlite/pkg/cypher"
	"github.com/orneryd/graphlite/pkg/value"
)

// Expression is a resolved scalar expression. Pattern names have been
// replaced by frame slots.
type Expression interface {
	String() string
	slots() []int
}

// Const is a literal value.
type Const struct {
	Value value.Value
}

// ParamRef reads a bound parameter.
type ParamRef struct {
	Name string
}

// IDOf is ID(name).
type IDOf struct {
	Slot int
	Name string
}

// LabelOf is LABEL(name): the first label of a node or the type of an edge.
type LabelOf struct {
	Slot int
	Name string
	Edge bool
}

// PropertyOf is name.key.
type PropertyOf struct {
	Slot int
	Name string
	Key  string
	Edge bool
}

func (e *Const) String() string      { return e.Value.String() }
func (e *ParamRef) String() string   { return "$" + e.Name }
func (e *IDOf) String() string       { return "ID(" + e.Name + ")" }
func (e *LabelOf) String() string    { return "LABEL(" + e.Name + ")" }
func (e *PropertyOf) String() string { return e.Name + "." + e.Key }

func (*Const) slots() []int        { return nil }
func (*ParamRef) slots() []int     { return nil }
func (e *IDOf) slots() []int       { return []int{e.Slot} }
func (e *LabelOf) slots() []int    { return []int{e.Slot} }
func (e *PropertyOf) slots() []int { return []int{e.Slot} }

// Predicate is a resolved boolean condition.
type Predicate interface {
	String() string
	slots() []int
}

// Compare is "left op right".
type Compare struct {
	Op          cypher.CompareOp
	Left, Right Expression
}

// And is a conjunction.
type And struct{ Left, Right Predicate }

// Or is a disjunction.
type Or struct{ Left, Right Predicate }

// Not negates its operand.
type Not struct{ Inner Predicate }

// Truth tests an expression for truthiness.
type Truth struct{ Expr Expression }

// HasLabel holds when the node in Slot carries Label.
type HasLabel struct {
	Slot  int
	Name  string
	Label string
}

// HasType holds when the edge in Slot has type Type.
type HasType struct {
	Slot int
	Name string
	Type string
}

func (p *Compare) String() string {
	return p.Left.String() + " " + p.Op.String() + " " + p.Right.String()
}
func (p *And) String() string      { return "(" + p.Left.String() + " AND " + p.Right.String() + ")" }
func (p *Or) String() string       { return "(" + p.Left.String() + " OR " + p.Right.String() + ")" }
func (p *Not) String() string      { return "NOT " + p.Inner.String() }
func (p *Truth) String() string    { return p.Expr.String() }
func (p *HasLabel) String() string { return p.Name + ":" + p.Label }
func (p *HasType) String() string  { return p.Name + ":" + p.Type }

func (p *Compare) slots() []int  { return append(p.Left.slots(), p.Right.slots()...) }
func (p *And) slots() []int      { return append(p.Left.slots(), p.Right.slots()...) }
func (p *Or) slots() []int       { return append(p.Left.slots(), p.Right.slots()...) }
func (p *Not) slots() []int      { return p.Inner.slots() }
func (p *Truth) slots() []int    { return p.Expr.slots() }
func (p *HasLabel) slots() []int { return []int{p.Slot} }
func (p *HasType) slots() []int  { return []int{p.Slot} }

// splitAnd flattens nested conjunctions.
func splitAnd(p Predicate) []Predicate {
	if and, ok := p.(*And); ok {
		return append(splitAnd(and.Left), splitAnd(and.Right)...)
	}
	return []Predicate{p}
}

// joinAnd combines predicates left to right.
func joinAnd(preds []Predicate) Predicate {
	if len(preds) == 0 {
		return nil
	}
	out := preds[0]
	for _, p := range preds[1:] {
		out = &And{Left: out, Right: p}
	}
	return out
}
