// Package graphlite is the call-level interface of the graph database.
//
// A Graph is one open database. Work happens inside transactions: any number
// of read transactions may run alongside at most one write transaction.
// Queries are compiled once into a Statement, which is started against a
// transaction and stepped row by row:
//
//	g, err := graphlite.Open("./data", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer g.Close()
//
//	stmt, err := g.Prepare("MATCH (a:Person) -[:KNOWS]-> (b) WHERE a.name = $name RETURN b.name")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer stmt.Finalize()
//
//	txn, _ := g.BeginRead()
//	defer txn.Drop()
//
//	stmt.BindText("name", "Alice")
//	stmt.Start(txn)
//	for {
//		code, err := stmt.Step()
//		if err != nil {
//			log.Fatal(err)
//		}
//		if code == status.Done {
//			break
//		}
//		name, _ := stmt.ReturnText(0)
//		fmt.Println(name)
//	}
//
// Every failure is a *status.Error whose Code belongs to one closed
// enumeration. An INTERNAL or CORRUPTION failure poisons the transaction and
// graph it happened on: later calls on them fail with POISON without doing
// any work. Close, Drop and Finalize still release their resources.
package graphlite

import (
	"context"
	"io"
	"log"
	"sync"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/orneryd/graphlite/pkg/config"
	"github.com/orneryd/graphlite/pkg/crypto"
	"github.com/orneryd/graphlite/pkg/planner"
	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/storage"
)

// Graph is an open database.
type Graph struct {
	mu       sync.Mutex
	engine   *storage.Engine
	config   *config.Config
	path     string
	plans    *lru.Cache[string, *planner.Plan]
	txns     int
	stmts    int
	closed   bool
	poisoned error
}

// Open opens (or creates) the graph stored in path. A nil config uses the
// built-in defaults.
func Open(path string, cfg *config.Config) (*Graph, error) {
	if path == "" {
		return nil, status.New(status.Misuse, "graph path is empty")
	}
	return open(path, cfg)
}

// OpenAnonymous opens an empty in-memory graph. Nothing is persisted.
func OpenAnonymous(cfg *config.Config) (*Graph, error) {
	return open("", cfg)
}

func open(path string, cfg *config.Config) (*Graph, error) {
	if cfg == nil {
		cfg = config.LoadDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, status.Wrap(status.Misuse, err, "invalid configuration")
	}

	opts := storage.Options{
		DataDir:          path,
		InMemory:         path == "",
		SyncWrites:       cfg.Database.SyncWrites,
		LowMemory:        cfg.Database.LowMemory,
		HighPerformance:  cfg.Database.HighPerformance,
		BlockCacheSize:   cfg.Memory.BlockCacheSize,
		WriteLockMode:    storage.WriteLockMode(cfg.Database.WriteLockMode),
		WriteLockTimeout: cfg.Database.WriteLockTimeout,
		Logger:           storage.NewBadgerLogger(storage.ParseLogLevel(cfg.Logging.Level)),
	}
	if cfg.Database.EncryptionEnabled {
		if path == "" {
			return nil, status.New(status.Misuse, "encryption requires an on-disk graph")
		}
		key, err := crypto.KeyForDir(path, cfg.Database.EncryptionPassword, 0)
		if err != nil {
			return nil, status.Wrap(status.IO, err, "failed to derive encryption key")
		}
		opts.EncryptionKey = key
	}

	engine, err := storage.Open(opts)
	if err != nil {
		return nil, err
	}

	g := &Graph{engine: engine, config: cfg, path: path}
	if cfg.Query.PlanCacheSize > 0 {
		if g.plans, err = lru.New[string, *planner.Plan](cfg.Query.PlanCacheSize); err != nil {
			engine.Close()
			return nil, status.Wrap(status.Internal, err, "failed to create plan cache")
		}
	}
	if path == "" {
		log.Printf("[graphlite] opened anonymous graph")
	} else {
		log.Printf("[graphlite] opened graph at %s (encryption: %v)", path, cfg.Database.EncryptionEnabled)
	}
	return g, nil
}

// Close closes the graph. Every transaction must be finished and every
// statement finalized first.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return status.New(status.Misuse, "graph already closed")
	}
	if g.poisoned == nil {
		if g.txns > 0 {
			return status.New(status.OpenTransaction, "%d transactions are still open", g.txns)
		}
		if g.stmts > 0 {
			return status.New(status.OpenStatement, "%d statements are not finalized", g.stmts)
		}
	}
	g.closed = true
	if g.plans != nil {
		g.plans.Purge()
	}
	return g.engine.Close()
}

// Path returns the data directory, or "" for an anonymous graph.
func (g *Graph) Path() string { return g.path }

// check returns the error every call on an unusable graph reports.
func (g *Graph) check() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkLocked()
}

func (g *Graph) checkLocked() error {
	if g.closed {
		return status.New(status.Misuse, "graph is closed")
	}
	if g.poisoned != nil {
		return status.ErrPoison
	}
	return nil
}

// observe poisons the graph when err is fatal and returns err unchanged.
func (g *Graph) observe(err error) error {
	if err == nil || !status.CodeOf(err).Fatal() {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.poisoned == nil {
		g.poisoned = err
		log.Printf("[graphlite] graph poisoned: %v", err)
	}
	return err
}

// ============================================================================
// Transactions
// ============================================================================

// BeginRead starts a read transaction on a snapshot of the graph.
func (g *Graph) BeginRead() (*Txn, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	st, err := g.engine.BeginRead()
	if err != nil {
		return nil, g.observe(err)
	}
	return g.track(st), nil
}

// BeginWrite starts the write transaction. While another one is active it
// blocks or fails with OPEN_TRANSACTION, depending on the configured write
// lock mode. ctx bounds the wait in block mode.
func (g *Graph) BeginWrite(ctx context.Context) (*Txn, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	st, err := g.engine.BeginWrite(ctx)
	if err != nil {
		return nil, g.observe(err)
	}
	return g.track(st), nil
}

func (g *Graph) track(st *storage.Txn) *Txn {
	g.mu.Lock()
	g.txns++
	g.mu.Unlock()
	return &Txn{graph: g, st: st}
}

func (g *Graph) txnDone() {
	g.mu.Lock()
	g.txns--
	g.mu.Unlock()
}

// ============================================================================
// Statements
// ============================================================================

// Prepare compiles query into a statement. Compiled plans are cached by
// query text and shared between statements.
func (g *Graph) Prepare(query string) (*Statement, error) {
	plan, err := g.plan(query)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkLocked(); err != nil {
		return nil, err
	}
	g.stmts++
	return newStatement(g, query, plan), nil
}

// Explain compiles query and renders its plan.
func (g *Graph) Explain(query string) (string, error) {
	plan, err := g.plan(query)
	if err != nil {
		return "", err
	}
	return plan.Explain(), nil
}

func (g *Graph) plan(query string) (*planner.Plan, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	if !utf8.ValidString(query) {
		return nil, status.New(status.InvalidString, "query text is not valid UTF-8")
	}
	if g.plans != nil {
		if plan, ok := g.plans.Get(query); ok {
			return plan, nil
		}
	}

	cat, err := g.Catalog()
	if err != nil {
		return nil, err
	}
	plan, err := planner.Prepare(query, cat)
	if err != nil {
		return nil, g.observe(err)
	}
	if g.plans != nil {
		g.plans.Add(query, plan)
	}
	return plan, nil
}

func (g *Graph) stmtDone() {
	g.mu.Lock()
	g.stmts--
	g.mu.Unlock()
}

// ============================================================================
// Maintenance
// ============================================================================

// Catalog returns the labels, edge types and property keys in use by
// committed data.
func (g *Graph) Catalog() (*storage.Catalog, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	st, err := g.engine.BeginRead()
	if err != nil {
		return nil, g.observe(err)
	}
	defer st.Rollback()
	cat, err := st.Catalog()
	return cat, g.observe(err)
}

// Stats returns entity counts and on-disk sizes.
func (g *Graph) Stats() (*storage.Stats, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	stats, err := g.engine.Stats()
	return stats, g.observe(err)
}

// Backup writes a full backup of committed data to w.
func (g *Graph) Backup(w io.Writer, compress bool) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.observe(g.engine.Backup(w, compress))
}

// BackupFile writes a full backup to path.
func (g *Graph) BackupFile(path string, compress bool) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.observe(g.engine.BackupFile(path, compress))
}

// RestoreFile loads a backup written by BackupFile. No transaction may be
// open. Cached plans are dropped because their label choices no longer
// reflect the data.
func (g *Graph) RestoreFile(path string) error {
	if err := g.check(); err != nil {
		return err
	}
	if err := g.engine.RestoreFile(path); err != nil {
		return g.observe(err)
	}
	if g.plans != nil {
		g.plans.Purge()
	}
	return nil
}
