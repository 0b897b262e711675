package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphlite/pkg/planner"
	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/storage"
	"github.com/orneryd/graphlite/pkg/value"
)

// ============================================================================
// Test Helpers
// ============================================================================

func newEngine(t *testing.T) *storage.Engine {
	engine, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func beginWrite(t *testing.T, e *storage.Engine) *storage.Txn {
	txn, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { txn.Rollback() })
	return txn
}

type params map[string]value.Value

func start(t *testing.T, txn *storage.Txn, query string, args params) *Cursor {
	t.Helper()
	cat, err := txn.Catalog()
	require.NoError(t, err)
	plan, err := planner.Prepare(query, cat)
	require.NoError(t, err, query)
	vals := make([]value.Value, len(plan.Params))
	for i, p := range plan.Params {
		vals[i] = args[p.Name]
	}
	cur, err := Start(plan, txn, vals)
	require.NoError(t, err)
	return cur
}

// run executes query to completion and returns its rows.
func run(t *testing.T, txn *storage.Txn, query string, args params) ([][]value.Value, error) {
	t.Helper()
	cur := start(t, txn, query, args)
	defer cur.Close()
	var rows [][]value.Value
	for {
		ok, err := cur.Next()
		if err != nil {
			return rows, err
		}
		if !ok {
			return rows, nil
		}
		rows = append(rows, append([]value.Value(nil), cur.Row()...))
	}
}

func mustRun(t *testing.T, txn *storage.Txn, query string, args params) [][]value.Value {
	t.Helper()
	rows, err := run(t, txn, query, args)
	require.NoError(t, err, query)
	return rows
}

func seedPeople(t *testing.T, txn *storage.Txn) (alice, bob uint64) {
	rows := mustRun(t, txn,
		"CREATE (a:Person {name: 'Alice', age: 30}) CREATE (b:Person {name: 'Bob', age: 25}) CREATE (a) -[:KNOWS {since: 2020}]-> (b) RETURN ID(a), ID(b)",
		nil)
	require.Len(t, rows, 1)
	a, _ := rows[0][0].AsID()
	b, _ := rows[0][1].AsID()
	return a, b
}

// ============================================================================
// Matching
// ============================================================================

func TestCursor_CreateThenMatch(t *testing.T) {
	engine := newEngine(t)
	txn := beginWrite(t, engine)
	alice, bob := seedPeople(t, txn)
	require.NoError(t, txn.Commit())

	read, err := engine.BeginRead()
	require.NoError(t, err)
	defer read.Rollback()

	rows := mustRun(t, read, "MATCH (a) -[:KNOWS]-> (b) RETURN ID(a), ID(b)", nil)
	require.Len(t, rows, 1)
	assert.True(t, rows[0][0].Identical(value.ID(alice)))
	assert.True(t, rows[0][1].Identical(value.ID(bob)))

	rows = mustRun(t, read, "MATCH (b) <-[e]- (a) RETURN a.name, LABEL(e), e.since, LABEL(b)", nil)
	require.Len(t, rows, 1)
	assert.True(t, rows[0][0].Identical(value.Text("Alice")))
	assert.True(t, rows[0][1].Identical(value.Text("KNOWS")))
	assert.True(t, rows[0][2].Identical(value.Integer(2020)))
	assert.True(t, rows[0][3].Identical(value.Text("Person")))
}

func TestCursor_WhereWithParameters(t *testing.T) {
	engine := newEngine(t)
	txn := beginWrite(t, engine)
	seedPeople(t, txn)

	rows := mustRun(t, txn, "MATCH (p:Person) WHERE p.age >= $min RETURN p.name", params{"min": value.Integer(28)})
	require.Len(t, rows, 1)
	assert.True(t, rows[0][0].Identical(value.Text("Alice")))

	rows = mustRun(t, txn, "MATCH (p:Person) WHERE p.age > $min OR p.name = 'Bob' RETURN p.name", params{"min": value.Real(100)})
	require.Len(t, rows, 1)
	assert.True(t, rows[0][0].Identical(value.Text("Bob")))
}

func TestCursor_NullComparisonsAreFalse(t *testing.T) {
	engine := newEngine(t)
	txn := beginWrite(t, engine)
	seedPeople(t, txn)

	assert.Empty(t, mustRun(t, txn, "MATCH (p) WHERE p.missing = 1 RETURN ID(p)", nil))
	assert.Empty(t, mustRun(t, txn, "MATCH (p) WHERE p.missing <> 1 RETURN ID(p)", nil))
	assert.Len(t, mustRun(t, txn, "MATCH (p) WHERE NOT p.missing = 1 RETURN ID(p)", nil), 2)
	assert.Empty(t, mustRun(t, txn, "MATCH (p) WHERE p.age < $unset RETURN ID(p)", nil))
}

func TestCursor_RuntimeTypeMismatchIsSticky(t *testing.T) {
	engine := newEngine(t)
	txn := beginWrite(t, engine)
	seedPeople(t, txn)

	cur := start(t, txn, "MATCH (p) WHERE p.name < $v RETURN ID(p)", params{"v": value.Integer(3)})
	_, err := cur.Next()
	require.Error(t, err)
	assert.Equal(t, status.TypeMismatch, status.CodeOf(err))
	_, again := cur.Next()
	assert.Equal(t, err, again)
}

func TestCursor_NodeByID(t *testing.T) {
	engine := newEngine(t)
	txn := beginWrite(t, engine)
	alice, _ := seedPeople(t, txn)

	rows := mustRun(t, txn, "MATCH (a) WHERE ID(a) = $id RETURN a.name", params{"id": value.Integer(int64(alice))})
	require.Len(t, rows, 1)
	assert.True(t, rows[0][0].Identical(value.Text("Alice")))

	rows = mustRun(t, txn, "MATCH (a) WHERE ID(a) = $id RETURN a.name", params{"id": value.ID(alice)})
	assert.Len(t, rows, 1)
	assert.Empty(t, mustRun(t, txn, "MATCH (a) WHERE ID(a) = $id RETURN a.name", params{"id": value.Integer(-1)}))
	assert.Empty(t, mustRun(t, txn, "MATCH (a) WHERE ID(a) = $id RETURN a.name", params{"id": value.ID(999)}))
	assert.Empty(t, mustRun(t, txn, "MATCH (a) WHERE ID(a) = $id RETURN a.name", nil))

	// The edge between the two people shares the id space with nodes.
	assert.Empty(t, mustRun(t, txn, "MATCH (a) WHERE ID(a) = 2 RETURN a.name", nil))
}

func TestCursor_UndirectedSelfLoopMatchesTwice(t *testing.T) {
	engine := newEngine(t)
	txn := beginWrite(t, engine)
	mustRun(t, txn, "CREATE (a:Loop) CREATE (a) -[:SELF]-> (a)", nil)

	assert.Len(t, mustRun(t, txn, "MATCH (a) -[e]- (b) RETURN ID(e)", nil), 2)
	assert.Len(t, mustRun(t, txn, "MATCH (a) -[e]-> (b) RETURN ID(e)", nil), 1)
}

func TestCursor_UndirectedYieldsBothOrientations(t *testing.T) {
	engine := newEngine(t)
	txn := beginWrite(t, engine)
	seedPeople(t, txn)

	rows := mustRun(t, txn, "MATCH (a) -[e]- (b) RETURN a.name, b.name", nil)
	require.Len(t, rows, 2)
	names := map[string]string{}
	for _, r := range rows {
		a, _ := r[0].AsText()
		b, _ := r[1].AsText()
		names[a] = b
	}
	assert.Equal(t, map[string]string{"Alice": "Bob", "Bob": "Alice"}, names)
}

func TestCursor_DoneIsIdempotent(t *testing.T) {
	engine := newEngine(t)
	txn := beginWrite(t, engine)
	seedPeople(t, txn)

	cur := start(t, txn, "MATCH (a) -[:KNOWS]-> (b) RETURN ID(a)", nil)
	ok, err := cur.Next()
	require.NoError(t, err)
	assert.True(t, ok)
	for i := 0; i < 3; i++ {
		ok, err = cur.Next()
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.True(t, cur.Done())
	cur.Close()
	cur.Close()
}

// ============================================================================
// Updates
// ============================================================================

func TestCursor_SetProperties(t *testing.T) {
	engine := newEngine(t)
	txn := beginWrite(t, engine)
	alice, _ := seedPeople(t, txn)

	rows := mustRun(t, txn, "MATCH (a:Person) WHERE a.name = 'Alice' SET a.age = 31, a.nick = 'Al' RETURN a.age, a.nick", nil)
	require.Len(t, rows, 1)
	assert.True(t, rows[0][0].Identical(value.Integer(31)))
	assert.True(t, rows[0][1].Identical(value.Text("Al")))

	mustRun(t, txn, "MATCH (a) -[e]-> (b) SET e.since = NULL, a.age = 31.5", nil)
	node, err := txn.GetNode(alice)
	require.NoError(t, err)
	assert.True(t, node.Property("age").Identical(value.Real(31.5)))

	rows = mustRun(t, txn, "MATCH (a) -[e]-> (b) RETURN e.since", nil)
	require.Len(t, rows, 1)
	assert.True(t, rows[0][0].IsNull())
}

func TestCursor_DeleteEdgesBeforeNodes(t *testing.T) {
	engine := newEngine(t)
	txn := beginWrite(t, engine)
	mustRun(t, txn, "CREATE (a:Hub) CREATE (b:Leaf) CREATE (c:Leaf) CREATE (a) -[:L]-> (b) CREATE (a) -[:L]-> (c)", nil)

	rows := mustRun(t, txn, "MATCH (a:Hub) -[e]-> (b) DELETE a, e RETURN ID(e)", nil)
	assert.Len(t, rows, 2)

	ids, err := txn.AllNodeIDs()
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	edges, err := txn.AllEdgeIDs()
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestCursor_DeletedEntitiesReadAsNull(t *testing.T) {
	engine := newEngine(t)
	txn := beginWrite(t, engine)
	mustRun(t, txn, "CREATE (a:Hub {x: 1}) CREATE (b:Leaf) CREATE (c:Leaf) CREATE (a) -[:L]-> (b) CREATE (a) -[:L]-> (c)", nil)

	hub := mustRun(t, txn, "MATCH (a:Hub) RETURN ID(a)", nil)[0][0]

	rows := mustRun(t, txn, "MATCH (a:Hub) -[e]-> (b) SET b.hub = ID(a) DELETE a, e RETURN ID(a), a.x, LABEL(a), ID(e), b.hub", nil)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.True(t, row[0].IsNull(), "ID of a deleted node")
		assert.True(t, row[1].IsNull())
		assert.True(t, row[2].IsNull())
		assert.True(t, row[3].IsNull(), "ID of a deleted edge")
		// SET ran before the deletes, so every row saw the hub id.
		assert.True(t, row[4].Identical(hub), "got %s", row[4])
	}
}

func TestCursor_DeleteConnectedLeavesNoPartialDelete(t *testing.T) {
	engine := newEngine(t)
	txn := beginWrite(t, engine)
	seedPeople(t, txn)

	sp := txn.Savepoint()
	_, err := run(t, txn, "MATCH (p:Person) DELETE p", nil)
	require.Error(t, err)
	assert.Equal(t, status.DeleteConnected, status.CodeOf(err))
	require.NoError(t, txn.RollbackTo(sp))

	ids, err := txn.AllNodeIDs()
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestCursor_CreatedNodesAreNotRescanned(t *testing.T) {
	engine := newEngine(t)
	txn := beginWrite(t, engine)
	seedPeople(t, txn)

	rows := mustRun(t, txn, "MATCH (p:Person) CREATE (q:Person {name: p.name}) RETURN ID(q)", nil)
	assert.Len(t, rows, 2)
	ids, err := txn.NodesByLabel("Person")
	require.NoError(t, err)
	assert.Len(t, ids, 4)
}

func TestCursor_MutationOnReadTxn(t *testing.T) {
	engine := newEngine(t)
	read, err := engine.BeginRead()
	require.NoError(t, err)
	defer read.Rollback()

	_, err = run(t, read, "CREATE (a:X)", nil)
	require.Error(t, err)
	assert.Equal(t, status.ReadOnlyWrite, status.CodeOf(err))
}

func TestStart_ParamCountMismatch(t *testing.T) {
	engine := newEngine(t)
	txn := beginWrite(t, engine)
	plan, err := planner.Prepare("MATCH (a) WHERE a.x = $x", nil)
	require.NoError(t, err)
	_, err = Start(plan, txn, nil)
	assert.Equal(t, status.Internal, status.CodeOf(err))
}
