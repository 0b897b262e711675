package planner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/value"
)

type fakeCatalog map[string]uint64

func (c fakeCatalog) LabelCount(label string) uint64 { return c[label] }

func mustPrepare(t *testing.T, query string, cat Catalog) *Plan {
	t.Helper()
	plan, err := Prepare(query, cat)
	require.NoError(t, err, query)
	return plan
}

func explainLines(plan *Plan) []string {
	lines := strings.Split(strings.TrimRight(plan.Explain(), "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return lines
}

func TestPrepare_NameErrors(t *testing.T) {
	tests := []struct {
		query string
		code  status.Code
	}{
		{"RETURN unknown.name", status.UnknownIdentifier},
		{"CREATE (a) -[:TEST]-> (b)", status.UnknownIdentifier},
		{"MATCH (a) SET b.age = 42", status.UnknownIdentifier},
		{"MATCH (a) RETURN ID(a), LABEL(b)", status.UnknownIdentifier},
		{"MATCH (a) DELETE b", status.UnknownIdentifier},
		{"MATCH (a) WHERE b.x = 1", status.UnknownIdentifier},
		{"CREATE (a:N {x: a.y})", status.UnknownIdentifier},
		{"MATCH (a) CREATE (a:NODE)", status.IdentifierExists},
		{"MATCH (a) -[e]-> (b) CREATE (e:NODE)", status.IdentifierExists},
		{"CREATE (a:NODE) CREATE (a:NODE2)", status.IdentifierExists},
		{"MATCH (a), (b)", status.Syntax},
		{"MATCH (a) MATCH (b) CREATE (a) -[a:T]-> (b)", status.IdentifierExists},
		{"MATCH (a) -[a]-> (b)", status.IdentifierIsNotEdge},
		{"MATCH (a) -[b]-> (b)", status.IdentifierIsNotNode},
		{"MATCH (a) -[e]-> (b) MATCH (e)", status.IdentifierIsNotNode},
		{"MATCH (a) -[e]-> (b) CREATE (a) -[:T]-> (e)", status.IdentifierIsNotNode},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, err := Prepare(tt.query, nil)
			require.Error(t, err)
			assert.Equal(t, tt.code, status.CodeOf(err), "%v", err)
		})
	}
}

func TestPrepare_TypeErrors(t *testing.T) {
	for _, query := range []string{
		"MATCH (a) WHERE ID(a) = 'x'",
		"MATCH (a) WHERE a.x < TRUE",
		"MATCH (a) WHERE 1 = 'one'",
		"MATCH (a) WHERE ID(a) = $p AND $p = 'x'",
		"MATCH (a) WHERE $p < 1 AND $p = 'x'",
		"MATCH (a) WHERE LABEL(a) = 3",
	} {
		t.Run(query, func(t *testing.T) {
			_, err := Prepare(query, nil)
			require.Error(t, err)
			assert.Equal(t, status.TypeMismatch, status.CodeOf(err), "%v", err)
		})
	}

	// Comparisons against NULL are always legal.
	_, err := Prepare("MATCH (a) WHERE ID(a) = NULL AND a.x < NULL", nil)
	assert.NoError(t, err)
}

func TestPrepare_ParamInference(t *testing.T) {
	plan := mustPrepare(t, "MATCH (a) WHERE ID(a) = $id AND a.age >= $min AND a.name = $name SET a.v = $v RETURN $r", nil)

	expect := map[string]value.KindSet{
		"id":   value.Identifier,
		"min":  value.Orderable,
		"name": value.AnyKind,
		"v":    value.AnyKind,
		"r":    value.AnyKind,
	}
	require.Len(t, plan.Params, len(expect))
	for name, kinds := range expect {
		p, ok := plan.Param(name)
		require.True(t, ok, name)
		assert.Equal(t, kinds, p.Kinds, name)
	}
	// Params are sorted by name.
	assert.Equal(t, "id", plan.Params[0].Name)
	idx, ok := plan.ParamIndex("v")
	assert.True(t, ok)
	assert.Equal(t, 4, idx)

	plan = mustPrepare(t, "MATCH (a) WHERE $x = $y AND $y = 1.5", nil)
	x, _ := plan.Param("x")
	y, _ := plan.Param("y")
	assert.Equal(t, value.Numeric, y.Kinds)
	assert.Equal(t, value.Numeric|value.SetOf(value.KindID), x.Kinds)
}

func TestExplain_PushdownAndLabelScan(t *testing.T) {
	plan := mustPrepare(t,
		"MATCH (a:Person) -[e:KNOWS]-> (b:Person) WHERE a.name = $name RETURN b.name",
		fakeCatalog{"Person": 2})

	assert.Equal(t, []string{
		"Project b.name",
		"Filter b:Person",
		"EndpointNode bind (b) = target [e]",
		"Filter e:KNOWS",
		"Expand (a) out [e]",
		"Filter a.name = $name",
		"LabelScan (a:Person)",
		"Argument",
		"Params: $name:ANY",
	}, explainLines(plan))
	assert.False(t, plan.Mutates)
	require.Len(t, plan.Columns, 1)
	assert.Equal(t, "b.name", plan.Columns[0].Name)
}

func TestExplain_RarestLabelWins(t *testing.T) {
	cat := fakeCatalog{"Common": 100, "Rare": 3}
	plan := mustPrepare(t, "MATCH (a:Common:Rare) RETURN ID(a)", cat)
	assert.Equal(t, []string{
		"Project ID(a)",
		"Filter a:Common",
		"LabelScan (a:Rare)",
		"Argument",
	}, explainLines(plan))

	// Ties are broken by name.
	plan = mustPrepare(t, "MATCH (a:Zed:Alpha) RETURN ID(a)", nil)
	assert.Contains(t, plan.Explain(), "LabelScan (a:Alpha)")
}

func TestExplain_NodeByID(t *testing.T) {
	plan := mustPrepare(t, "MATCH (a:Person) WHERE $id = ID(a) RETURN a.name", fakeCatalog{"Person": 1})
	assert.Equal(t, []string{
		"Project a.name",
		"Filter a:Person",
		"NodeByID (a) id=$id",
		"Argument",
		"Params: $id:ID|INTEGER",
	}, explainLines(plan))
}

func TestExplain_UndirectedAndRepeatedEdge(t *testing.T) {
	plan := mustPrepare(t, "MATCH (a) -[e]- (b) MATCH (c) <-[e]- (d) RETURN ID(d)", nil)
	assert.Equal(t, []string{
		"Project ID(d)",
		"EndpointNode bind (d) = origin [e]",
		"EndpointNode check (c) = target [e]",
		"NodeScan (c)",
		"EndpointNode bind (b) = other of a [e]",
		"Expand (a) both [e]",
		"NodeScan (a)",
		"Argument",
	}, explainLines(plan))
}

func TestExplain_AnonymousNames(t *testing.T) {
	plan := mustPrepare(t, "MATCH () -> (:X) RETURN 1", nil)
	assert.Equal(t, []string{
		"Project 1",
		"Filter _n2:X",
		"EndpointNode bind (_n2) = target [_e1]",
		"Expand (_n0) out [_e1]",
		"NodeScan (_n0)",
		"Argument",
	}, explainLines(plan))
}

func TestExplain_Updates(t *testing.T) {
	plan := mustPrepare(t,
		"MATCH (a) -[e]-> (b) CREATE (c:New {k: a.x}) CREATE (a) <-[:R]- (c) SET b.y = 1 DELETE a, e, a",
		nil)
	assert.True(t, plan.Mutates)
	lines := explainLines(plan)
	assert.Equal(t,
		"Update create (c:New {k: a.x}); create (c)-[:R]->(a); set b.y = 1; delete e; delete a",
		lines[0])
}

func TestExplain_ConstantFilterRunsFirst(t *testing.T) {
	plan := mustPrepare(t, "MATCH (a) WHERE $on RETURN ID(a)", nil)
	assert.Equal(t, []string{
		"Project ID(a)",
		"NodeScan (a)",
		"Filter $on",
		"Argument",
		"Params: $on:ANY",
	}, explainLines(plan))
}

func TestFingerprint_Deterministic(t *testing.T) {
	const q = "MATCH (a:A:B) -[e]-> (b) WHERE a.x = 1 OR b.y <> 'z' RETURN ID(e)"
	cat := fakeCatalog{"A": 5, "B": 7}
	p1 := mustPrepare(t, q, cat)
	p2 := mustPrepare(t, q, cat)
	assert.Equal(t, p1.Explain(), p2.Explain())
	assert.Equal(t, p1.Fingerprint(), p2.Fingerprint())

	p3 := mustPrepare(t, q, fakeCatalog{"A": 9, "B": 7})
	assert.NotEqual(t, p1.Fingerprint(), p3.Fingerprint())
}

func TestPrepare_ReturnOnly(t *testing.T) {
	plan := mustPrepare(t, "RETURN 1, 'two', NULL", nil)
	assert.Equal(t, []string{"Project 1, 'two', NULL", "Argument"}, explainLines(plan))
	assert.Len(t, plan.Columns, 3)
}
