package cypher

import (
	"strings"

	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/value"
)

// Query is a parsed query. Clauses keep their source order within each kind.
type Query struct {
	Matches []*MatchClause
	Where   []Condition
	Creates []CreateClause
	Sets    []*SetItem
	Deletes []*Ident
	Return  []Expr
}

// Mutates reports whether running the query can change the graph.
func (q *Query) Mutates() bool {
	return len(q.Creates) > 0 || len(q.Sets) > 0 || len(q.Deletes) > 0
}

// Ident is a name occurring in query text.
type Ident struct {
	Name string
	Pos  status.Position
}

// Direction of an edge pattern, read left to right.
type Direction int

const (
	DirRight  Direction = iota // -[]->
	DirLeft                    // <-[]-
	DirEither                  // -[]-
)

func (d Direction) String() string {
	switch d {
	case DirRight:
		return "->"
	case DirLeft:
		return "<-"
	}
	return "-"
}

// PropEntry is one key: expr pair of a property map.
type PropEntry struct {
	Key   *Ident
	Value Expr
}

// NodePattern is "(name:L1:L2 {k: v})".
type NodePattern struct {
	Var    *Ident
	Labels []*Ident
	Props  []*PropEntry
	Pos    status.Position
}

// EdgePattern is "-[name:TYPE {k: v}]->" and its shorter forms.
type EdgePattern struct {
	Var   *Ident
	Type  *Ident
	Props []*PropEntry
	Dir   Direction
	Pos   status.Position
}

// MatchStep is one edge and the node it leads to.
type MatchStep struct {
	Edge *EdgePattern
	Node *NodePattern
}

// MatchClause is a path pattern.
type MatchClause struct {
	Start *NodePattern
	Steps []MatchStep
}

// CreateClause is CreateNode or CreateEdge.
type CreateClause interface {
	createClause()
}

// CreateNode is "CREATE (name:Label {..})".
type CreateNode struct {
	Var    *Ident
	Labels []*Ident
	Props  []*PropEntry
	Pos    status.Position
}

// CreateEdge is "CREATE (a) -[name:TYPE {..}]-> (b)". Origin and Target are
// already normalised for "<-".
type CreateEdge struct {
	Var    *Ident
	Type   *Ident
	Origin *Ident
	Target *Ident
	Props  []*PropEntry
	Pos    status.Position
}

func (*CreateNode) createClause() {}
func (*CreateEdge) createClause() {}

// SetItem is "name.key = expr".
type SetItem struct {
	Target *Ident
	Key    *Ident
	Value  Expr
}

// ============================================================================
// Expressions
// ============================================================================

// Expr is a scalar expression.
type Expr interface {
	Position() status.Position
	String() string
	expr()
}

// ParamExpr is "$name".
type ParamExpr struct {
	Name string
	Pos  status.Position
}

// LiteralExpr is a constant.
type LiteralExpr struct {
	Value value.Value
	Pos   status.Position
}

// IDExpr is "ID(name)".
type IDExpr struct {
	Var *Ident
	Pos status.Position
}

// LabelExpr is "LABEL(name)".
type LabelExpr struct {
	Var *Ident
	Pos status.Position
}

// PropertyExpr is "name.key".
type PropertyExpr struct {
	Var *Ident
	Key *Ident
}

func (e *ParamExpr) Position() status.Position    { return e.Pos }
func (e *LiteralExpr) Position() status.Position  { return e.Pos }
func (e *IDExpr) Position() status.Position       { return e.Pos }
func (e *LabelExpr) Position() status.Position    { return e.Pos }
func (e *PropertyExpr) Position() status.Position { return e.Var.Pos }

func (e *ParamExpr) String() string    { return "$" + e.Name }
func (e *LiteralExpr) String() string  { return e.Value.String() }
func (e *IDExpr) String() string       { return "ID(" + e.Var.Name + ")" }
func (e *LabelExpr) String() string    { return "LABEL(" + e.Var.Name + ")" }
func (e *PropertyExpr) String() string { return e.Var.Name + "." + e.Key.Name }

func (*ParamExpr) expr()    {}
func (*LiteralExpr) expr()  {}
func (*IDExpr) expr()       {}
func (*LabelExpr) expr()    {}
func (*PropertyExpr) expr() {}

// ============================================================================
// Conditions
// ============================================================================

// CompareOp is a comparison operator.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

func (op CompareOp) String() string {
	return [...]string{"=", "<>", "<", "<=", ">", ">="}[op]
}

// Ordering reports whether the operator needs an order rather than equality.
func (op CompareOp) Ordering() bool {
	return op != OpEq && op != OpNe
}

// Flip returns the operator with its operands swapped.
func (op CompareOp) Flip() CompareOp {
	switch op {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	}
	return op
}

// Condition is a WHERE predicate.
type Condition interface {
	String() string
	condition()
}

// AndCond is "l AND r".
type AndCond struct{ Left, Right Condition }

// OrCond is "l OR r".
type OrCond struct{ Left, Right Condition }

// NotCond is "NOT c".
type NotCond struct{ Inner Condition }

// CompareCond is "l op r".
type CompareCond struct {
	Op          CompareOp
	Left, Right Expr
}

// TruthCond is a bare expression tested for truthiness.
type TruthCond struct{ Expr Expr }

func (c *AndCond) String() string { return "(" + c.Left.String() + " AND " + c.Right.String() + ")" }
func (c *OrCond) String() string  { return "(" + c.Left.String() + " OR " + c.Right.String() + ")" }
func (c *NotCond) String() string { return "NOT " + c.Inner.String() }
func (c *CompareCond) String() string {
	return c.Left.String() + " " + c.Op.String() + " " + c.Right.String()
}
func (c *TruthCond) String() string { return c.Expr.String() }

func (*AndCond) condition()     {}
func (*OrCond) condition()      {}
func (*NotCond) condition()     {}
func (*CompareCond) condition() {}
func (*TruthCond) condition()   {}

// Conjuncts flattens nested ANDs.
func Conjuncts(c Condition) []Condition {
	if and, ok := c.(*AndCond); ok {
		return append(Conjuncts(and.Left), Conjuncts(and.Right)...)
	}
	return []Condition{c}
}

// ExprNames returns the pattern names an expression refers to.
func ExprNames(e Expr) []string {
	switch e := e.(type) {
	case *IDExpr:
		return []string{e.Var.Name}
	case *LabelExpr:
		return []string{e.Var.Name}
	case *PropertyExpr:
		return []string{e.Var.Name}
	}
	return nil
}

// CondNames returns the pattern names a condition refers to, without
// duplicates, in order of first appearance.
func CondNames(c Condition) []string {
	var names []string
	seen := map[string]bool{}
	var walk func(Condition)
	add := func(e Expr) {
		for _, n := range ExprNames(e) {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	walk = func(c Condition) {
		switch c := c.(type) {
		case *AndCond:
			walk(c.Left)
			walk(c.Right)
		case *OrCond:
			walk(c.Left)
			walk(c.Right)
		case *NotCond:
			walk(c.Inner)
		case *CompareCond:
			add(c.Left)
			add(c.Right)
		case *TruthCond:
			add(c.Expr)
		}
	}
	walk(c)
	return names
}

// FormatProps renders a property map as "{k: v, ...}".
func FormatProps(props []*PropEntry) string {
	if len(props) == 0 {
		return ""
	}
	parts := make([]string, len(props))
	for i, p := range props {
		parts[i] = p.Key.Name + ": " + p.Value.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
