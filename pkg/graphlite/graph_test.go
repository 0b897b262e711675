package graphlite

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphlite/pkg/config"
	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/value"
)

// ============================================================================
// Test Helpers
// ============================================================================

func newGraph(t *testing.T) *Graph {
	return newGraphWith(t, config.LoadDefaults())
}

func newGraphWith(t *testing.T, cfg *config.Config) *Graph {
	g, err := OpenAnonymous(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func mustExec(t *testing.T, g *Graph, query string, params Params) {
	t.Helper()
	require.NoError(t, g.Exec(context.Background(), query, params), query)
}

func mustRows(t *testing.T, g *Graph, query string, params Params) []Row {
	t.Helper()
	rows, err := g.QueryRows(query, params)
	require.NoError(t, err, query)
	return rows
}

func seedKnows(t *testing.T, g *Graph) {
	mustExec(t, g, "CREATE (a:Person {name: 'Alice', age: 30}) CREATE (b:Person {name: 'Bob', age: 25}) CREATE (a) -[:KNOWS]-> (b)", nil)
}

func countRows(t *testing.T, g *Graph, query string) int {
	return len(mustRows(t, g, query, nil))
}

// ============================================================================
// Open / Close
// ============================================================================

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("", nil)
	assert.Equal(t, status.Misuse, status.CodeOf(err))
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := config.LoadDefaults()
	cfg.Database.WriteLockMode = "sometimes"
	_, err := OpenAnonymous(cfg)
	assert.Equal(t, status.Misuse, status.CodeOf(err))
}

func TestOpen_Persistence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "graph")

	g, err := Open(dir, nil)
	require.NoError(t, err)
	seedKnows(t, g)
	require.NoError(t, g.Close())

	g, err = Open(dir, nil)
	require.NoError(t, err)
	defer g.Close()
	rows := mustRows(t, g, "MATCH (a) -[:KNOWS]-> (b) RETURN a.name, b.name", nil)
	require.Len(t, rows, 1)
	assert.True(t, rows[0][0].Identical(value.Text("Alice")))
	assert.True(t, rows[0][1].Identical(value.Text("Bob")))
}

func TestOpen_Encrypted(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LoadDefaults()
	cfg.Database.EncryptionEnabled = true
	cfg.Database.EncryptionPassword = "correct horse"

	g, err := Open(dir, cfg)
	require.NoError(t, err)
	seedKnows(t, g)
	require.NoError(t, g.Close())

	g, err = Open(dir, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, countRows(t, g, "MATCH (p:Person) RETURN ID(p)"))
	require.NoError(t, g.Close())

	cfg.Database.EncryptionPassword = "battery staple"
	_, err = Open(dir, cfg)
	assert.Error(t, err)

	_, err = OpenAnonymous(cfg)
	assert.Equal(t, status.Misuse, status.CodeOf(err))
}

func TestClose_Lifecycle(t *testing.T) {
	g, err := OpenAnonymous(nil)
	require.NoError(t, err)

	txn, err := g.BeginRead()
	require.NoError(t, err)
	assert.Equal(t, status.OpenTransaction, status.CodeOf(g.Close()))
	require.NoError(t, txn.Drop())

	stmt, err := g.Prepare("RETURN 1")
	require.NoError(t, err)
	assert.Equal(t, status.OpenStatement, status.CodeOf(g.Close()))
	require.NoError(t, stmt.Finalize())

	require.NoError(t, g.Close())
	assert.Equal(t, status.Misuse, status.CodeOf(g.Close()))

	_, err = g.BeginRead()
	assert.Equal(t, status.Misuse, status.CodeOf(err))
}

func TestPrepare_ErrorsLeaveNoStatement(t *testing.T) {
	g, err := OpenAnonymous(nil)
	require.NoError(t, err)

	_, err = g.Prepare("MATCH (a RETURN a")
	assert.Equal(t, status.Syntax, status.CodeOf(err))
	_, err = g.Prepare("RETURN b.name")
	assert.Equal(t, status.UnknownIdentifier, status.CodeOf(err))
	_, err = g.Prepare("MATCH (a) WHERE a.x = '\xff'")
	assert.Equal(t, status.InvalidString, status.CodeOf(err))

	require.NoError(t, g.Close())
}

// ============================================================================
// Transactions
// ============================================================================

func TestTxn_CommitAndDrop(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	stmt, err := g.Prepare("CREATE (n:Thing {v: $v})")
	require.NoError(t, err)
	defer stmt.Finalize()

	txn, err := g.BeginWrite(ctx)
	require.NoError(t, err)
	assert.True(t, txn.Writable())
	assert.NotEmpty(t, txn.ID())
	require.NoError(t, stmt.Execute(txn, Params{"v": value.Integer(1)}))
	require.NoError(t, txn.Drop())
	assert.Zero(t, countRows(t, g, "MATCH (n:Thing) RETURN ID(n)"))

	txn, err = g.BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, stmt.Execute(txn, Params{"v": value.Integer(2)}))
	require.NoError(t, txn.Commit())

	rows := mustRows(t, g, "MATCH (n:Thing) RETURN n.v", nil)
	require.Len(t, rows, 1)
	assert.True(t, rows[0][0].Identical(value.Integer(2)))

	// Finished handles.
	assert.Equal(t, status.Misuse, status.CodeOf(txn.Commit()))
	assert.NoError(t, txn.Drop())
	assert.False(t, txn.Active())
}

func TestTxn_SnapshotIsolation(t *testing.T) {
	g := newGraph(t)
	seedKnows(t, g)

	read, err := g.BeginRead()
	require.NoError(t, err)
	defer read.Drop()

	mustExec(t, g, "CREATE (c:Person {name: 'Carol'})", nil)

	stmt, err := g.Prepare("MATCH (p:Person) RETURN p.name")
	require.NoError(t, err)
	defer stmt.Finalize()

	var n int
	require.NoError(t, stmt.Query(read, nil, func(Row) error { n++; return nil }))
	assert.Equal(t, 2, n, "old snapshot must not see the later commit")
	assert.Equal(t, 3, countRows(t, g, "MATCH (p:Person) RETURN p.name"))
}

func TestTxn_SingleWriterFailMode(t *testing.T) {
	cfg := config.LoadDefaults()
	cfg.Database.WriteLockMode = "fail"
	g := newGraphWith(t, cfg)

	w1, err := g.BeginWrite(context.Background())
	require.NoError(t, err)

	_, err = g.BeginWrite(context.Background())
	assert.Equal(t, status.OpenTransaction, status.CodeOf(err))

	// Readers are never blocked by the writer.
	r, err := g.BeginRead()
	require.NoError(t, err)
	require.NoError(t, r.Drop())

	require.NoError(t, w1.Commit())
	w2, err := g.BeginWrite(context.Background())
	require.NoError(t, err)
	require.NoError(t, w2.Drop())
}

func TestTxn_SingleWriterBlockMode(t *testing.T) {
	cfg := config.LoadDefaults()
	cfg.Database.WriteLockTimeout = 200 * time.Millisecond
	g := newGraphWith(t, cfg)

	w1, err := g.BeginWrite(context.Background())
	require.NoError(t, err)

	_, err = g.BeginWrite(context.Background())
	assert.Equal(t, status.OpenTransaction, status.CodeOf(err))

	got := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		txn, err := g.BeginWrite(ctx)
		if err == nil {
			err = txn.Drop()
		}
		got <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, w1.Drop())
	assert.NoError(t, <-got)
}

func TestTxn_CommitWithRunningStatement(t *testing.T) {
	g := newGraph(t)
	seedKnows(t, g)

	txn, err := g.BeginWrite(context.Background())
	require.NoError(t, err)
	stmt, err := g.Prepare("MATCH (p:Person) RETURN ID(p)")
	require.NoError(t, err)
	defer stmt.Finalize()

	require.NoError(t, stmt.Start(txn))
	code, err := stmt.Step()
	require.NoError(t, err)
	assert.Equal(t, status.Match, code)

	assert.Equal(t, status.OpenStatement, status.CodeOf(txn.Commit()))

	for code == status.Match {
		code, err = stmt.Step()
		require.NoError(t, err)
	}
	assert.Equal(t, status.Done, code)
	require.NoError(t, txn.Commit())
}

func TestTxn_FinalizeDoesNotBlockCommit(t *testing.T) {
	g := newGraph(t)
	seedKnows(t, g)

	txn, err := g.BeginWrite(context.Background())
	require.NoError(t, err)
	stmt, err := g.Prepare("MATCH (p:Person) RETURN ID(p)")
	require.NoError(t, err)
	require.NoError(t, stmt.Start(txn))
	_, err = stmt.Step()
	require.NoError(t, err)

	require.NoError(t, stmt.Finalize())
	require.NoError(t, txn.Commit())
}

func TestTxn_AddLabel(t *testing.T) {
	g := newGraph(t)
	seedKnows(t, g)

	err := g.Update(context.Background(), func(txn *Txn) error {
		return txn.AddLabel(0, "Admin")
	})
	require.NoError(t, err)
	rows := mustRows(t, g, "MATCH (a:Admin) RETURN a.name", nil)
	require.Len(t, rows, 1)
	assert.True(t, rows[0][0].Identical(value.Text("Alice")))

	err = g.View(func(txn *Txn) error { return txn.AddLabel(1, "Admin") })
	assert.Equal(t, status.ReadOnlyWrite, status.CodeOf(err))
	err = g.Update(context.Background(), func(txn *Txn) error { return txn.AddLabel(42, "Admin") })
	assert.Equal(t, status.MissingNode, status.CodeOf(err))
}

// ============================================================================
// Poison
// ============================================================================

func TestPoison_Graph(t *testing.T) {
	g, err := OpenAnonymous(nil)
	require.NoError(t, err)
	txn, err := g.BeginRead()
	require.NoError(t, err)

	g.observe(status.New(status.Internal, "invariant broken"))

	_, err = g.BeginRead()
	assert.ErrorIs(t, err, status.ErrPoison)
	_, err = g.Prepare("RETURN 1")
	assert.Equal(t, status.Poison, status.CodeOf(err))
	assert.Equal(t, status.Poison, status.CodeOf(txn.Commit()))

	// Release paths still work.
	require.NoError(t, txn.Drop())
	require.NoError(t, g.Close())
}

func TestPoison_Txn(t *testing.T) {
	g, err := OpenAnonymous(nil)
	require.NoError(t, err)
	stmt, err := g.Prepare("RETURN 1")
	require.NoError(t, err)
	txn, err := g.BeginWrite(context.Background())
	require.NoError(t, err)

	// Non-fatal errors never poison.
	txn.observe(status.New(status.TypeMismatch, "nope"))
	require.NoError(t, stmt.Start(txn))
	require.NoError(t, stmt.Reset())

	txn.observe(status.New(status.Corruption, "bad page"))
	assert.Equal(t, status.Poison, status.CodeOf(stmt.Start(txn)))
	assert.Equal(t, status.Poison, status.CodeOf(txn.Commit()))
	require.NoError(t, txn.Drop())
	require.NoError(t, stmt.Finalize())
	require.NoError(t, g.Close())
}

// ============================================================================
// Plans, explain, maintenance
// ============================================================================

func TestPrepare_PlanCache(t *testing.T) {
	g := newGraph(t)
	s1, err := g.Prepare("MATCH (a:Person) RETURN a.name")
	require.NoError(t, err)
	defer s1.Finalize()
	s2, err := g.Prepare("MATCH (a:Person) RETURN a.name")
	require.NoError(t, err)
	defer s2.Finalize()
	assert.Same(t, s1.plan, s2.plan)

	cfg := config.LoadDefaults()
	cfg.Query.PlanCacheSize = 0
	uncached := newGraphWith(t, cfg)
	s3, err := uncached.Prepare("RETURN 1")
	require.NoError(t, err)
	defer s3.Finalize()
	s4, err := uncached.Prepare("RETURN 1")
	require.NoError(t, err)
	defer s4.Finalize()
	assert.NotSame(t, s3.plan, s4.plan)
}

func TestExplain(t *testing.T) {
	g := newGraph(t)
	seedKnows(t, g)
	text, err := g.Explain("MATCH (a:Person) -[:KNOWS]-> (b) WHERE ID(a) = $id RETURN b.name")
	require.NoError(t, err)
	assert.Contains(t, text, "NodeByID (a) id=$id")
	assert.Contains(t, text, "Params: $id:ID|INTEGER")

	_, err = g.Explain("MATCH")
	assert.Equal(t, status.Syntax, status.CodeOf(err))
}

func TestCatalogAndStats(t *testing.T) {
	g := newGraph(t)
	seedKnows(t, g)

	cat, err := g.Catalog()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cat.LabelCount("Person"))
	assert.Equal(t, uint64(1), cat.EdgeTypeCount("KNOWS"))
	assert.Equal(t, uint64(2), cat.PropertyKeys["name"])

	stats, err := g.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Nodes)
	assert.Equal(t, int64(1), stats.Edges)
}

func TestBackupRestore(t *testing.T) {
	src := newGraph(t)
	seedKnows(t, src)

	path := filepath.Join(t.TempDir(), "graph.bak")
	require.NoError(t, src.BackupFile(path, true))

	var buf bytes.Buffer
	require.NoError(t, src.Backup(&buf, false))
	assert.NotZero(t, buf.Len())

	dst := newGraph(t)
	require.NoError(t, dst.RestoreFile(path))
	assert.Equal(t, 1, countRows(t, dst, "MATCH (a:Person) -[:KNOWS]-> (b:Person) RETURN ID(a)"))

	// New ids continue after the restored ones.
	mustExec(t, dst, "CREATE (c:Person {name: 'Carol'})", nil)
	rows := mustRows(t, dst, "MATCH (c) WHERE c.name = 'Carol' RETURN ID(c)", nil)
	require.Len(t, rows, 1)
	assert.True(t, rows[0][0].Identical(value.ID(3)))
}
