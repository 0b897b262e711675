// Package cypher parses the graphlite query language, a small subset of
// Cypher:
//
//	MATCH (a:Person) -[:KNOWS]-> (b:Person)
//	WHERE a.name = $name AND b.age >= 18
//	SET b.seen = TRUE
//	RETURN ID(b), b.name
//
// Clauses must appear in the order MATCH, WHERE, CREATE, SET, DELETE, RETURN;
// every clause but RETURN may repeat. Keywords are upper case. Parsing only
// checks syntax: name resolution and typing happen in the planner.
package cypher

import (
	"strconv"

	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/value"
)

// Parser is a recursive-descent parser over a token slice.
type Parser struct {
	tokens []Token
	pos    int
}

// Parse parses a complete query. Errors are SYNTAX errors carrying the
// position of the offending token, or INVALID_STRING for text literals that
// are not valid UTF-8.
func Parse(query string) (*Query, error) {
	tokens, err := Tokenize(query)
	if err != nil {
		return nil, err
	}
	parser := &Parser{tokens: tokens}
	return parser.parseQuery()
}

func (parser *Parser) cur() Token { return parser.tokens[parser.pos] }

func (parser *Parser) peek(n int) Token {
	if parser.pos+n >= len(parser.tokens) {
		return parser.tokens[len(parser.tokens)-1]
	}
	return parser.tokens[parser.pos+n]
}

func (parser *Parser) advance() Token {
	token := parser.cur()
	if token.Type != EOF {
		parser.pos++
	}
	return token
}

func (parser *Parser) is(t TokenType) bool { return parser.cur().Type == t }

func (parser *Parser) accept(t TokenType) bool {
	if parser.is(t) {
		parser.advance()
		return true
	}
	return false
}

func (parser *Parser) expect(t TokenType) (Token, error) {
	if !parser.is(t) {
		return parser.cur(), parser.unexpected(t.String())
	}
	return parser.advance(), nil
}

// adjacent reports whether the current token starts right where the
// previous one ended, as required inside arrows like "-[" and "]->".
func (parser *Parser) adjacent() bool {
	if parser.pos == 0 {
		return false
	}
	return parser.tokens[parser.pos-1].End == parser.cur().Pos.Offset
}

func (parser *Parser) unexpected(want string) error {
	token := parser.cur()
	return status.At(token.Pos, "expected %s, found %s", want, token.Describe())
}

func (parser *Parser) parseQuery() (*Query, error) {
	query := &Query{}

	for parser.is(Match) {
		match, err := parser.parseMatch()
		if err != nil {
			return nil, err
		}
		query.Matches = append(query.Matches, match)
	}

	for parser.is(Where) {
		if len(query.Matches) == 0 {
			return nil, status.At(parser.cur().Pos, "WHERE requires a preceding MATCH")
		}
		parser.advance()
		cond, err := parser.parseCondition()
		if err != nil {
			return nil, err
		}
		query.Where = append(query.Where, cond)
	}

	for parser.is(Create) {
		create, err := parser.parseCreate()
		if err != nil {
			return nil, err
		}
		query.Creates = append(query.Creates, create)
	}

	for parser.accept(Set) {
		for {
			item, err := parser.parseSetItem()
			if err != nil {
				return nil, err
			}
			query.Sets = append(query.Sets, item)
			if !parser.accept(Comma) {
				break
			}
		}
	}

	for parser.accept(Delete) {
		for {
			name, err := parser.parseIdent()
			if err != nil {
				return nil, err
			}
			query.Deletes = append(query.Deletes, name)
			if !parser.accept(Comma) {
				break
			}
		}
	}

	if parser.accept(Return) {
		for {
			e, err := parser.parseExpr()
			if err != nil {
				return nil, err
			}
			query.Return = append(query.Return, e)
			if !parser.accept(Comma) {
				break
			}
		}
	}

	if !parser.is(EOF) {
		return nil, status.At(parser.cur().Pos, "unexpected %s", parser.cur().Describe())
	}
	return query, nil
}

func (parser *Parser) parseIdent() (*Ident, error) {
	token, err := parser.expect(Identifier)
	if err != nil {
		return nil, err
	}
	return &Ident{Name: token.Value, Pos: token.Pos}, nil
}

// ============================================================================
// Patterns
// ============================================================================

func (parser *Parser) parseMatch() (*MatchClause, error) {
	parser.advance() // MATCH
	start, err := parser.parseNode()
	if err != nil {
		return nil, err
	}
	match := &MatchClause{Start: start}
	for parser.is(Dash) || parser.is(LessThan) {
		edge, err := parser.parseEdge()
		if err != nil {
			return nil, err
		}
		node, err := parser.parseNode()
		if err != nil {
			return nil, err
		}
		match.Steps = append(match.Steps, MatchStep{Edge: edge, Node: node})
	}
	return match, nil
}

// parseNode parses "(name:L1:L2 {..})".
func (parser *Parser) parseNode() (*NodePattern, error) {
	open, err := parser.expect(ParenOpen)
	if err != nil {
		return nil, err
	}
	node := &NodePattern{Pos: open.Pos}
	if err := parser.parseNodeBody(node); err != nil {
		return nil, err
	}
	return node, nil
}

// parseNodeBody parses the part of a node pattern after "(".
func (parser *Parser) parseNodeBody(node *NodePattern) error {
	if parser.is(Identifier) {
		node.Var, _ = parser.parseIdent()
	}
	for parser.accept(Colon) {
		label, err := parser.parseIdent()
		if err != nil {
			return err
		}
		node.Labels = append(node.Labels, label)
	}
	if parser.is(BraceOpen) {
		props, err := parser.parseProps()
		if err != nil {
			return err
		}
		node.Props = props
	}
	_, err := parser.expect(ParenClose)
	return err
}

// parseEdge parses one of "-[..]->", "-[..]-", "<-[..]-", "<-", "->", "-".
func (parser *Parser) parseEdge() (*EdgePattern, error) {
	first := parser.advance()
	edge := &EdgePattern{Pos: first.Pos, Dir: DirEither}

	if first.Type == LessThan {
		if !parser.is(Dash) || !parser.adjacent() {
			return nil, status.At(first.Pos, "expected \"<-\"")
		}
		parser.advance()
		edge.Dir = DirLeft
	}

	if parser.is(BracketOpen) && parser.adjacent() {
		parser.advance()
		if err := parser.parseAnnotation(edge); err != nil {
			return nil, err
		}
		closing, err := parser.expect(BracketClose)
		if err != nil {
			return nil, err
		}
		if !parser.is(Dash) || !parser.adjacent() {
			return nil, status.At(closing.Pos, "expected \"]-\" or \"]->\"")
		}
		parser.advance()
	}

	if parser.is(GreaterThan) && parser.adjacent() {
		if edge.Dir == DirLeft {
			return nil, status.At(parser.cur().Pos, "edge cannot point both ways")
		}
		parser.advance()
		edge.Dir = DirRight
	}
	return edge, nil
}

// parseAnnotation parses "name:TYPE {..}" inside edge brackets.
func (parser *Parser) parseAnnotation(edge *EdgePattern) error {
	if parser.is(Identifier) {
		edge.Var, _ = parser.parseIdent()
	}
	if parser.accept(Colon) {
		typ, err := parser.parseIdent()
		if err != nil {
			return err
		}
		edge.Type = typ
	}
	if parser.is(BraceOpen) {
		props, err := parser.parseProps()
		if err != nil {
			return err
		}
		edge.Props = props
	}
	return nil
}

func (parser *Parser) parseProps() ([]*PropEntry, error) {
	open := parser.advance() // {
	var props []*PropEntry
	seen := map[string]bool{}
	for {
		key, err := parser.parseIdent()
		if err != nil {
			return nil, err
		}
		if seen[key.Name] {
			return nil, status.At(key.Pos, "duplicate property key %q", key.Name)
		}
		seen[key.Name] = true
		if _, err := parser.expect(Colon); err != nil {
			return nil, err
		}
		v, err := parser.parseExpr()
		if err != nil {
			return nil, err
		}
		props = append(props, &PropEntry{Key: key, Value: v})
		if !parser.accept(Comma) {
			break
		}
	}
	if !parser.is(BraceClose) {
		if parser.is(EOF) {
			return nil, status.At(open.Pos, "unclosed property map")
		}
		return nil, parser.unexpected("\",\" or \"}\"")
	}
	parser.advance()
	return props, nil
}

// ============================================================================
// Mutations
// ============================================================================

func (parser *Parser) parseCreate() (CreateClause, error) {
	kw := parser.advance() // CREATE

	// "(a) -[..]-> (b)" has a bare name in the first parens followed by an arrow.
	isEdge := parser.is(ParenOpen) &&
		parser.peek(1).Type == Identifier &&
		parser.peek(2).Type == ParenClose &&
		(parser.peek(3).Type == Dash || parser.peek(3).Type == LessThan)
	if isEdge {
		return parser.parseCreateEdge(kw)
	}

	node, err := parser.parseNode()
	if err != nil {
		return nil, err
	}
	if len(node.Labels) == 0 {
		return nil, status.At(node.Pos, "a label is required")
	}
	return &CreateNode{Var: node.Var, Labels: node.Labels, Props: node.Props, Pos: node.Pos}, nil
}

func (parser *Parser) parseCreateEdge(kw Token) (CreateClause, error) {
	parser.advance() // (
	lhs, _ := parser.parseIdent()
	parser.advance() // )

	edge, err := parser.parseEdge()
	if err != nil {
		return nil, err
	}
	if _, err := parser.expect(ParenOpen); err != nil {
		return nil, err
	}
	rhs, err := parser.parseIdent()
	if err != nil {
		return nil, err
	}
	if _, err := parser.expect(ParenClose); err != nil {
		return nil, err
	}

	if edge.Type == nil {
		return nil, status.At(edge.Pos, "a type is required")
	}
	create := &CreateEdge{Var: edge.Var, Type: edge.Type, Props: edge.Props, Pos: kw.Pos}
	switch edge.Dir {
	case DirRight:
		create.Origin, create.Target = lhs, rhs
	case DirLeft:
		create.Origin, create.Target = rhs, lhs
	default:
		return nil, status.At(edge.Pos, "edge must be directed")
	}
	return create, nil
}

func (parser *Parser) parseSetItem() (*SetItem, error) {
	target, err := parser.parseIdent()
	if err != nil {
		return nil, err
	}
	if _, err := parser.expect(Dot); err != nil {
		return nil, err
	}
	key, err := parser.parseIdent()
	if err != nil {
		return nil, err
	}
	if _, err := parser.expect(Equals); err != nil {
		return nil, err
	}
	v, err := parser.parseExpr()
	if err != nil {
		return nil, err
	}
	return &SetItem{Target: target, Key: key, Value: v}, nil
}

// ============================================================================
// Conditions and expressions
// ============================================================================

// parseCondition parses a disjunction. AND binds tighter than OR.
func (parser *Parser) parseCondition() (Condition, error) {
	left, err := parser.parseConjunction()
	if err != nil {
		return nil, err
	}
	for parser.accept(Or) {
		right, err := parser.parseConjunction()
		if err != nil {
			return nil, err
		}
		left = &OrCond{Left: left, Right: right}
	}
	return left, nil
}

func (parser *Parser) parseConjunction() (Condition, error) {
	left, err := parser.parseUnary()
	if err != nil {
		return nil, err
	}
	for parser.accept(And) {
		right, err := parser.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &AndCond{Left: left, Right: right}
	}
	return left, nil
}

func (parser *Parser) parseUnary() (Condition, error) {
	if parser.accept(Not) {
		inner, err := parser.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotCond{Inner: inner}, nil
	}
	if parser.accept(ParenOpen) {
		cond, err := parser.parseCondition()
		if err != nil {
			return nil, err
		}
		if _, err := parser.expect(ParenClose); err != nil {
			return nil, err
		}
		return cond, nil
	}

	left, err := parser.parseExpr()
	if err != nil {
		return nil, err
	}
	op, ok := compareOps[parser.cur().Type]
	if !ok {
		return &TruthCond{Expr: left}, nil
	}
	parser.advance()
	right, err := parser.parseExpr()
	if err != nil {
		return nil, err
	}
	return &CompareCond{Op: op, Left: left, Right: right}, nil
}

var compareOps = map[TokenType]CompareOp{
	Equals:             OpEq,
	NotEquals:          OpNe,
	LessThan:           OpLt,
	LessThanOrEqual:    OpLe,
	GreaterThan:        OpGt,
	GreaterThanOrEqual: OpGe,
}

func (parser *Parser) parseExpr() (Expr, error) {
	token := parser.cur()
	switch token.Type {
	case Parameter:
		parser.advance()
		return &ParamExpr{Name: token.Value, Pos: token.Pos}, nil
	case Int, Float:
		parser.advance()
		return parser.number(token, "")
	case Dash:
		parser.advance()
		if (parser.is(Int) || parser.is(Float)) && parser.adjacent() {
			return parser.number(parser.advance(), "-")
		}
		return nil, status.At(token.Pos, "expected number after \"-\"")
	case True, False:
		parser.advance()
		return &LiteralExpr{Value: value.Boolean(token.Type == True), Pos: token.Pos}, nil
	case Null:
		parser.advance()
		return &LiteralExpr{Value: value.Null, Pos: token.Pos}, nil
	case Text:
		parser.advance()
		v, err := value.TextChecked(token.Value)
		if err != nil {
			return nil, err
		}
		return &LiteralExpr{Value: v, Pos: token.Pos}, nil
	case IDFunc, LabelFunc:
		parser.advance()
		if _, err := parser.expect(ParenOpen); err != nil {
			return nil, err
		}
		name, err := parser.parseIdent()
		if err != nil {
			return nil, err
		}
		if _, err := parser.expect(ParenClose); err != nil {
			return nil, err
		}
		if token.Type == IDFunc {
			return &IDExpr{Var: name, Pos: token.Pos}, nil
		}
		return &LabelExpr{Var: name, Pos: token.Pos}, nil
	case Identifier:
		name, _ := parser.parseIdent()
		if _, err := parser.expect(Dot); err != nil {
			return nil, err
		}
		key, err := parser.parseIdent()
		if err != nil {
			return nil, err
		}
		return &PropertyExpr{Var: name, Key: key}, nil
	}
	return nil, parser.unexpected("expression")
}

func (parser *Parser) number(token Token, sign string) (Expr, error) {
	text := sign + token.Value
	pos := token.Pos
	if sign != "" {
		pos = parser.tokens[parser.pos-2].Pos
	}
	if token.Type == Float {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, status.At(pos, "invalid real %s", text)
		}
		return &LiteralExpr{Value: value.Real(f), Pos: pos}, nil
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, status.At(pos, "integer %s out of range", text)
	}
	return &LiteralExpr{Value: value.Integer(i), Pos: pos}, nil
}
