package cypher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/value"
)

func mustParse(t *testing.T, query string) *Query {
	t.Helper()
	q, err := Parse(query)
	require.NoError(t, err, query)
	return q
}

func syntaxError(t *testing.T, query string) *status.Error {
	t.Helper()
	_, err := Parse(query)
	require.Error(t, err, query)
	var se *status.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, status.Syntax, se.Code, "query %q: %v", query, err)
	return se
}

func TestTokenize(t *testing.T) {
	tokens, err := Tokenize("MATCH (a:Person) <-[e]- (b) WHERE a.age <= -4.5 RETURN $p")
	require.NoError(t, err)

	var types []TokenType
	for _, token := range tokens {
		types = append(types, token.Type)
	}
	assert.Equal(t, []TokenType{
		Match, ParenOpen, Identifier, Colon, Identifier, ParenClose,
		LessThan, Dash, BracketOpen, Identifier, BracketClose, Dash,
		ParenOpen, Identifier, ParenClose,
		Where, Identifier, Dot, Identifier, LessThanOrEqual, Dash, Float,
		Return, Parameter, EOF,
	}, types)
	assert.Equal(t, "p", tokens[len(tokens)-2].Value)
}

func TestTokenize_Positions(t *testing.T) {
	tokens, err := Tokenize("MATCH (a)\n  RETURN a.x")
	require.NoError(t, err)
	ret := tokens[4]
	require.Equal(t, Return, ret.Type)
	assert.Equal(t, status.Position{Offset: 12, Line: 2, Column: 3}, ret.Pos)
	assert.Equal(t, 18, ret.End)
}

func TestTokenize_Errors(t *testing.T) {
	for _, query := range []string{
		"RETURN 'open",
		"RETURN 'two\nlines'",
		"RETURN $",
		"RETURN a.b ; ",
	} {
		_, err := Tokenize(query)
		assert.Equal(t, status.Syntax, status.CodeOf(err), query)
	}
}

func TestParse_CreateNode(t *testing.T) {
	q := mustParse(t, "CREATE (a:Person:Admin {name: 'Alice', age: 42, score: 0.5, ok: TRUE, gone: NULL})")
	require.Len(t, q.Creates, 1)
	node, ok := q.Creates[0].(*CreateNode)
	require.True(t, ok)
	assert.Equal(t, "a", node.Var.Name)
	require.Len(t, node.Labels, 2)
	assert.Equal(t, "Admin", node.Labels[1].Name)
	assert.Equal(t, "{name: 'Alice', age: 42, score: 0.5, ok: TRUE, gone: NULL}", FormatProps(node.Props))
	assert.True(t, q.Mutates())
}

func TestParse_CreateEdge(t *testing.T) {
	q := mustParse(t, "MATCH (a) MATCH (b) CREATE (a) -[e:KNOWS {since: 2020}]-> (b) CREATE (a) <-[:LIKES]- (b)")
	require.Len(t, q.Creates, 2)

	right := q.Creates[0].(*CreateEdge)
	assert.Equal(t, "e", right.Var.Name)
	assert.Equal(t, "KNOWS", right.Type.Name)
	assert.Equal(t, "a", right.Origin.Name)
	assert.Equal(t, "b", right.Target.Name)

	left := q.Creates[1].(*CreateEdge)
	assert.Nil(t, left.Var)
	assert.Equal(t, "b", left.Origin.Name)
	assert.Equal(t, "a", left.Target.Name)
}

func TestParse_MatchEdgeForms(t *testing.T) {
	tests := []struct {
		query string
		dir   Direction
		named bool
	}{
		{"MATCH (a) -[e:T]-> (b)", DirRight, true},
		{"MATCH (a) -[e]- (b)", DirEither, true},
		{"MATCH (a) <-[e {w: 1}]- (b)", DirLeft, true},
		{"MATCH (a) -> (b)", DirRight, false},
		{"MATCH (a) <- (b)", DirLeft, false},
		{"MATCH (a) - (b)", DirEither, false},
		{"MATCH (a)-[:T]->(b)", DirRight, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q := mustParse(t, tt.query)
			require.Len(t, q.Matches, 1)
			require.Len(t, q.Matches[0].Steps, 1)
			edge := q.Matches[0].Steps[0].Edge
			assert.Equal(t, tt.dir, edge.Dir)
			assert.Equal(t, tt.named, edge.Var != nil)
		})
	}
}

func TestParse_MatchPath(t *testing.T) {
	q := mustParse(t, "MATCH (a:P {x: 1}) -> (b) <- (c:Q)")
	m := q.Matches[0]
	assert.Equal(t, "P", m.Start.Labels[0].Name)
	require.Len(t, m.Steps, 2)
	assert.Equal(t, "c", m.Steps[1].Node.Var.Name)
	assert.Equal(t, DirLeft, m.Steps[1].Edge.Dir)
}

func TestParse_WherePrecedence(t *testing.T) {
	q := mustParse(t, "MATCH (a) WHERE a.x = 1 OR a.y = 2 AND NOT a.z WHERE (a.p <> 'q')")
	require.Len(t, q.Where, 2)
	assert.Equal(t, "(a.x = 1 OR (a.y = 2 AND NOT a.z))", q.Where[0].String())
	assert.Equal(t, "a.p <> 'q'", q.Where[1].String())
	assert.Equal(t, []string{"a"}, CondNames(q.Where[0]))
}

func TestParse_NegativeNumbers(t *testing.T) {
	q := mustParse(t, "MATCH (a) WHERE a.x <-5 AND a.y > -0.25 RETURN -9223372036854775808")
	assert.Equal(t, "(a.x < -5 AND a.y > -0.25)", q.Where[0].String())
	lit := q.Return[0].(*LiteralExpr)
	n, ok := lit.Value.AsInteger()
	require.True(t, ok)
	assert.Equal(t, int64(-9223372036854775808), n)
}

func TestParse_Expressions(t *testing.T) {
	q := mustParse(t, "MATCH (a) -[e]-> (b) RETURN ID(a), LABEL(e), b.name, $p, 3, 3.0, 'x'")
	var kinds []string
	for _, e := range q.Return {
		kinds = append(kinds, e.String())
	}
	assert.Equal(t, []string{"ID(a)", "LABEL(e)", "b.name", "$p", "3", "3.0", "'x'"}, kinds)

	real := q.Return[5].(*LiteralExpr)
	assert.Equal(t, value.KindReal, real.Value.Kind())
}

func TestParse_SetAndDelete(t *testing.T) {
	q := mustParse(t, "MATCH (a) -[e]-> (b) SET a.x = 1, b.y = $v SET a.z = NULL DELETE e DELETE a, b")
	require.Len(t, q.Sets, 3)
	assert.Equal(t, "y", q.Sets[1].Key.Name)
	require.Len(t, q.Deletes, 3)
	assert.Equal(t, "b", q.Deletes[2].Name)
	assert.Empty(t, q.Return)
}

func TestParse_ReadOnlyQuery(t *testing.T) {
	q := mustParse(t, "MATCH (a) RETURN a.name")
	assert.False(t, q.Mutates())
	q = mustParse(t, "  RETURN 1  ")
	assert.Len(t, q.Return, 1)
	q = mustParse(t, "")
	assert.Empty(t, q.Return)
}

func TestParse_SyntaxErrors(t *testing.T) {
	for _, query := range []string{
		"CREATE (a)",
		"CREATE (a) -[:T]- (b)",
		"CREATE (a) -> (b)",
		"WHERE a.x = 1",
		"RETURN a.x MATCH (a)",
		"CREATE (a:A) MATCH (b)",
		"MATCH (a) -[e] (b)",
		"MATCH (a) - [e]-> (b)",
		"MATCH (a) <-[e]-> (b)",
		"MATCH (a {x: 1, x: 2})",
		"MATCH (a {x: 1",
		"MATCH a",
		"match (a)",
		"RETURN a",
		"RETURN 99999999999999999999",
		"RETURN - 1",
		"SET a = 1",
		"DELETE",
		"MATCH (a) WHERE (a.x = 1",
	} {
		syntaxError(t, query)
	}
}

func TestParse_ErrorPosition(t *testing.T) {
	se := syntaxError(t, "MATCH (a)\nRETURN a.")
	require.NotNil(t, se.Pos)
	assert.Equal(t, 2, se.Pos.Line)
	assert.Equal(t, 10, se.Pos.Column)
	assert.Contains(t, se.Error(), "expected identifier, found end of query")
}

func TestParse_InvalidText(t *testing.T) {
	_, err := Parse("RETURN '" + string([]byte{0xff}) + "'")
	assert.Equal(t, status.InvalidString, status.CodeOf(err))
}
