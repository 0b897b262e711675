package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/orneryd/graphlite/pkg/value"
)

// SlotKind says whether a frame slot holds a node or an edge.
type SlotKind int

const (
	SlotNode SlotKind = iota
	SlotEdge
)

func (k SlotKind) String() string {
	if k == SlotEdge {
		return "edge"
	}
	return "node"
}

// Slot is one entry of the row frame the executor fills while matching.
type Slot struct {
	Name      string
	Kind      SlotKind
	Anonymous bool
}

// ParamInfo describes a parameter and the kinds it may be bound to.
type ParamInfo struct {
	Name  string
	Kinds value.KindSet
}

// Column is one RETURN expression.
type Column struct {
	Expr Expression
	Name string
}

// Plan is a compiled query. Plans are immutable and may be shared by any
// number of statements.
type Plan struct {
	Root    Op
	Slots   []Slot
	Params  []ParamInfo
	Columns []Column
	Mutates bool

	paramIndex  map[string]int
	explain     string
	fingerprint uint64
}

// Param looks up a parameter by name.
func (p *Plan) Param(name string) (ParamInfo, bool) {
	i, ok := p.paramIndex[name]
	if !ok {
		return ParamInfo{}, false
	}
	return p.Params[i], true
}

// ParamIndex returns the position of name in Params.
func (p *Plan) ParamIndex(name string) (int, bool) {
	i, ok := p.paramIndex[name]
	return i, ok
}

// Explain renders the operator tree, outermost operator first.
func (p *Plan) Explain() string { return p.explain }

// Fingerprint is a hash of Explain. Equal query text compiled against an
// equal catalog always yields an equal fingerprint.
func (p *Plan) Fingerprint() uint64 { return p.fingerprint }

func (p *Plan) finish() {
	sort.Slice(p.Params, func(i, j int) bool { return p.Params[i].Name < p.Params[j].Name })
	p.paramIndex = make(map[string]int, len(p.Params))
	for i, param := range p.Params {
		p.paramIndex[param.Name] = i
	}

	var b strings.Builder
	depth := 0
	for op := p.Root; op != nil; op = op.Input() {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(op.describe())
		b.WriteByte('\n')
		depth++
	}
	if len(p.Params) > 0 {
		b.WriteString("Params:")
		for _, param := range p.Params {
			fmt.Fprintf(&b, " $%s:%s", param.Name, param.Kinds)
		}
		b.WriteByte('\n')
	}
	p.explain = b.String()
	p.fingerprint = xxhash.Sum64String(p.explain)
}

// ============================================================================
// Operators
// ============================================================================

// Op is a plan operator. Operators form a pipeline: each one consumes the
// rows of its Input. Argument is the source and has no input.
type Op interface {
	Input() Op
	describe() string
}

// Argument produces a single empty row.
type Argument struct{}

// NodeScan binds Slot to every node.
type NodeScan struct {
	In   Op
	Slot int
	Name string
}

// LabelScan binds Slot to every node carrying Label.
type LabelScan struct {
	In    Op
	Slot  int
	Name  string
	Label string
}

// NodeByID binds Slot to the node whose id equals ID, if any.
type NodeByID struct {
	In   Op
	Slot int
	Name string
	ID   Expression
}

// ExpandDir selects which incident edges Expand follows.
type ExpandDir int

const (
	ExpandOut ExpandDir = iota
	ExpandIn
	ExpandBoth
)

func (d ExpandDir) String() string {
	return [...]string{"out", "in", "both"}[d]
}

// Expand binds Edge to every edge incident to the node in From. ExpandBoth
// yields outgoing edges then incoming ones, so a self-loop appears twice.
type Expand struct {
	In       Op
	From     int
	FromName string
	Edge     int
	EdgeName string
	Dir      ExpandDir
}

// Endpoint names an end of an edge.
type Endpoint int

const (
	EndpointOrigin Endpoint = iota
	EndpointTarget
	// EndpointOther is the end opposite Relative.
	EndpointOther
)

func (e Endpoint) String() string {
	return [...]string{"origin", "target", "other"}[e]
}

// EndpointNode resolves an end of the edge in Edge. With Bind set the node
// is stored in Node; otherwise the row is kept only when Node already holds
// that endpoint.
type EndpointNode struct {
	In           Op
	Edge         int
	EdgeName     string
	Which        Endpoint
	Relative     int
	RelativeName string
	Node         int
	NodeName     string
	Bind         bool
}

// Filter keeps rows for which Pred holds.
type Filter struct {
	In   Op
	Pred Predicate
}

// Update applies mutations to every row, in the order CREATE, SET, DELETE.
type Update struct {
	In      Op
	Actions []Action
}

// Project emits Columns for every row.
type Project struct {
	In      Op
	Columns []Column
}

func (*Argument) Input() Op       { return nil }
func (o *NodeScan) Input() Op     { return o.In }
func (o *LabelScan) Input() Op    { return o.In }
func (o *NodeByID) Input() Op     { return o.In }
func (o *Expand) Input() Op       { return o.In }
func (o *EndpointNode) Input() Op { return o.In }
func (o *Filter) Input() Op       { return o.In }
func (o *Update) Input() Op       { return o.In }
func (o *Project) Input() Op      { return o.In }

func (*Argument) describe() string    { return "Argument" }
func (o *NodeScan) describe() string  { return fmt.Sprintf("NodeScan (%s)", o.Name) }
func (o *LabelScan) describe() string { return fmt.Sprintf("LabelScan (%s:%s)", o.Name, o.Label) }
func (o *NodeByID) describe() string {
	return fmt.Sprintf("NodeByID (%s) id=%s", o.Name, o.ID)
}
func (o *Expand) describe() string {
	return fmt.Sprintf("Expand (%s) %s [%s]", o.FromName, o.Dir, o.EdgeName)
}
func (o *EndpointNode) describe() string {
	verb := "check"
	if o.Bind {
		verb = "bind"
	}
	which := o.Which.String()
	if o.Which == EndpointOther {
		which = fmt.Sprintf("other of %s", o.RelativeName)
	}
	return fmt.Sprintf("EndpointNode %s (%s) = %s [%s]", verb, o.NodeName, which, o.EdgeName)
}
func (o *Filter) describe() string { return "Filter " + o.Pred.String() }
func (o *Update) describe() string {
	parts := make([]string, len(o.Actions))
	for i, a := range o.Actions {
		parts[i] = a.String()
	}
	return "Update " + strings.Join(parts, "; ")
}
func (o *Project) describe() string {
	names := make([]string, len(o.Columns))
	for i, c := range o.Columns {
		names[i] = c.Name
	}
	return "Project " + strings.Join(names, ", ")
}

// ============================================================================
// Update actions
// ============================================================================

// Action is one mutation of an Update operator.
type Action interface {
	String() string
}

// PropAssign is one key of a CREATE property map.
type PropAssign struct {
	Key   string
	Value Expression
}

// CreateNodeAction creates a node and binds it to Slot. Slot is -1 for an
// anonymous node.
type CreateNodeAction struct {
	Slot   int
	Name   string
	Labels []string
	Props  []PropAssign
}

// CreateEdgeAction creates an edge between two bound nodes.
type CreateEdgeAction struct {
	Slot       int
	Name       string
	Type       string
	Origin     int
	OriginName string
	Target     int
	TargetName string
	Props      []PropAssign
}

// SetAction sets one property of a bound node or edge.
type SetAction struct {
	Slot  int
	Name  string
	Edge  bool
	Key   string
	Value Expression
}

// DeleteAction deletes a bound node or edge.
type DeleteAction struct {
	Slot int
	Name string
	Edge bool
}

func formatAssigns(props []PropAssign) string {
	if len(props) == 0 {
		return ""
	}
	parts := make([]string, len(props))
	for i, p := range props {
		parts[i] = p.Key + ": " + p.Value.String()
	}
	return " {" + strings.Join(parts, ", ") + "}"
}

func (a *CreateNodeAction) String() string {
	return fmt.Sprintf("create (%s:%s%s)", a.Name, strings.Join(a.Labels, ":"), formatAssigns(a.Props))
}

func (a *CreateEdgeAction) String() string {
	return fmt.Sprintf("create (%s)-[%s:%s%s]->(%s)", a.OriginName, a.Name, a.Type, formatAssigns(a.Props), a.TargetName)
}

func (a *SetAction) String() string {
	return fmt.Sprintf("set %s.%s = %s", a.Name, a.Key, a.Value)
}

func (a *DeleteAction) String() string {
	return "delete " + a.Name
}
