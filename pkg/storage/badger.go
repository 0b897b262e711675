package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/value"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixNode          = byte(0x01) // node:nodeID -> nodeRecord
	prefixEdge          = byte(0x02) // edge:edgeID -> edgeRecord
	prefixLabelIndex    = byte(0x03) // label:labelName:0x00:nodeID -> empty
	prefixOutgoingIndex = byte(0x04) // outgoing:sourceID:edgeID -> targetID
	prefixIncomingIndex = byte(0x05) // incoming:targetID:edgeID -> sourceID
	prefixEdgeTypeIndex = byte(0x06) // edgetype:type:0x00:edgeID -> empty
	prefixCatalog       = byte(0x07) // catalog:kind:name -> uint64 count
	prefixMeta          = byte(0x08) // meta:name -> bytes
)

const (
	formatMarker = "graphlite/1"
	metaFormat   = "format"
	metaSequence = "sequence"
)

// Options configures the engine.
type Options struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode. Nothing is persisted.
	InMemory bool

	// SyncWrites forces an fsync before Commit returns.
	SyncWrites bool

	// Logger for BadgerDB internal logging. Nil silences badger.
	Logger badger.Logger

	// LowMemory reduces memtable and cache sizes.
	LowMemory bool

	// HighPerformance enables larger buffers and caches.
	HighPerformance bool

	// EncryptionKey is the 16, 24, or 32 byte AES key for encryption at rest.
	// Leave empty to disable encryption.
	EncryptionKey []byte

	// BlockCacheSize overrides the block cache size in bytes when > 0.
	BlockCacheSize int64

	// WriteLockMode controls BeginWrite while another writer is active.
	// Defaults to WriteLockBlock.
	WriteLockMode WriteLockMode

	// WriteLockTimeout bounds how long a blocking BeginWrite waits.
	// Zero waits until the context is done.
	WriteLockTimeout time.Duration
}

// Engine is the badger-backed graph store.
//
// Engine is safe for concurrent use. Any number of read transactions may be
// open at once; at most one write transaction is open at any time.
type Engine struct {
	db       *badger.DB
	mu       sync.RWMutex
	closed   bool
	inMemory bool

	// gate holds a token while a write transaction is active.
	gate        chan struct{}
	lockMode    WriteLockMode
	lockTimeout time.Duration

	openTxns atomic.Int64
}

// Open opens (or creates) a graph store.
//
// Failures to open the underlying files are IO errors. A directory that
// holds data of another format is a CORRUPTION error.
//
// Example:
//
//	engine, err := storage.Open(storage.Options{DataDir: "./data", SyncWrites: true})
//	if err != nil {
//		return fmt.Errorf("failed to open graph: %w", err)
//	}
//	defer engine.Close()
func Open(opts Options) (*Engine, error) {
	if !opts.InMemory && opts.DataDir == "" {
		return nil, status.New(status.Misuse, "storage: data directory is required")
	}

	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithSyncWrites(opts.SyncWrites)
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	if len(opts.EncryptionKey) > 0 {
		keyLen := len(opts.EncryptionKey)
		if keyLen != 16 && keyLen != 24 && keyLen != 32 {
			return nil, status.New(status.Misuse, "encryption key must be 16, 24, or 32 bytes (got %d bytes)", keyLen)
		}
		// Badger requires an index cache when encryption is on.
		badgerOpts = badgerOpts.WithEncryptionKey(opts.EncryptionKey).WithIndexCacheSize(16 << 20)
	}

	switch {
	case opts.HighPerformance:
		badgerOpts = badgerOpts.
			WithMemTableSize(128 << 20).
			WithNumMemtables(5).
			WithNumLevelZeroTables(10).
			WithNumLevelZeroTablesStall(20).
			WithValueThreshold(1 << 20).
			WithBlockCacheSize(256 << 20).
			WithIndexCacheSize(128 << 20).
			WithNumCompactors(4)
	case opts.LowMemory:
		badgerOpts = badgerOpts.
			WithMemTableSize(8 << 20).
			WithNumMemtables(1).
			WithNumLevelZeroTables(1).
			WithNumLevelZeroTablesStall(2).
			WithValueThreshold(512).
			WithBlockCacheSize(8 << 20).
			WithIndexCacheSize(4 << 20)
	default:
		badgerOpts = badgerOpts.
			WithMemTableSize(64 << 20).
			WithNumMemtables(3).
			WithValueThreshold(64 << 10).
			WithBlockCacheSize(64 << 20)
	}
	if opts.BlockCacheSize > 0 {
		badgerOpts = badgerOpts.WithBlockCacheSize(opts.BlockCacheSize)
	}
	if !opts.InMemory {
		badgerOpts = badgerOpts.WithValueLogFileSize(128 << 20)
	}
	// The write gate guarantees a single writer, so badger never has to
	// detect write-write conflicts.
	badgerOpts = badgerOpts.WithDetectConflicts(false)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, status.Wrap(status.IO, err, "failed to open BadgerDB")
	}

	mode := opts.WriteLockMode
	if mode == "" {
		mode = WriteLockBlock
	}
	engine := &Engine{
		db:          db,
		inMemory:    opts.InMemory,
		gate:        make(chan struct{}, 1),
		lockMode:    mode,
		lockTimeout: opts.WriteLockTimeout,
	}

	if err := engine.initFormat(); err != nil {
		db.Close()
		return nil, err
	}
	return engine, nil
}

// OpenInMemory opens an anonymous store that is discarded on Close.
func OpenInMemory() (*Engine, error) {
	return Open(Options{InMemory: true})
}

// initFormat stamps a fresh store or verifies an existing one.
func (e *Engine) initFormat() error {
	return e.withUpdate(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(metaFormat))
		if errors.Is(err, badger.ErrKeyNotFound) {
			if err := txn.Set(metaKey(metaFormat), []byte(formatMarker)); err != nil {
				return status.Wrap(status.IO, err, "failed to write format marker")
			}
			return nil
		}
		if err != nil {
			return status.Wrap(status.IO, err, "failed to read format marker")
		}
		marker, err := item.ValueCopy(nil)
		if err != nil {
			return status.Wrap(status.IO, err, "failed to read format marker")
		}
		if string(marker) != formatMarker {
			return status.New(status.Corruption, "unsupported store format %q", marker)
		}
		return nil
	})
}

// IsInMemory returns true if the engine is running in memory-only mode.
func (e *Engine) IsInMemory() bool {
	return e.inMemory
}

// OpenTransactions returns the number of transactions begun and not yet
// committed or rolled back.
func (e *Engine) OpenTransactions() int64 {
	return e.openTxns.Load()
}

// BeginRead starts a read-only transaction over the current snapshot.
func (e *Engine) BeginRead() (*Txn, error) {
	if err := e.ensureOpen(); err != nil {
		return nil, err
	}
	txn := newTxn(e, e.db.NewTransaction(false), false)
	e.openTxns.Add(1)
	return txn, nil
}

// BeginWrite starts the single read-write transaction.
//
// While another write transaction is active it either waits (WriteLockBlock,
// bounded by ctx and WriteLockTimeout) or fails at once (WriteLockFail). In
// both cases the failure is ErrWriterActive, an OPEN_TRANSACTION error.
func (e *Engine) BeginWrite(ctx context.Context) (*Txn, error) {
	if err := e.ensureOpen(); err != nil {
		return nil, err
	}
	if err := e.acquireWriter(ctx); err != nil {
		return nil, err
	}
	// Re-check after a possibly long wait.
	if err := e.ensureOpen(); err != nil {
		e.releaseWriter()
		return nil, err
	}
	txn := newTxn(e, e.db.NewTransaction(true), true)
	e.openTxns.Add(1)
	return txn, nil
}

func (e *Engine) acquireWriter(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case e.gate <- struct{}{}:
		return nil
	default:
	}
	if e.lockMode == WriteLockFail {
		return ErrWriterActive
	}

	if e.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.lockTimeout)
		defer cancel()
	}
	select {
	case e.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return status.Wrap(status.OpenTransaction, ctx.Err(), ErrWriterActive.Msg)
	}
}

func (e *Engine) releaseWriter() {
	select {
	case <-e.gate:
	default:
		log.Printf("[storage] write gate released twice")
	}
}

// Close closes the underlying database. Transactions still open become
// unusable.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStorageClosed
	}
	e.closed = true
	if err := e.db.Close(); err != nil {
		return status.Wrap(status.IO, err, "failed to close BadgerDB")
	}
	return nil
}

// Sync flushes badger's write-ahead state to disk.
func (e *Engine) Sync() error {
	if err := e.ensureOpen(); err != nil {
		return err
	}
	if e.inMemory {
		return nil
	}
	return status.Wrap(status.IO, e.db.Sync(), "sync failed")
}

// Size returns the LSM and value log sizes in bytes.
func (e *Engine) Size() (lsm, vlog int64) {
	return e.db.Size()
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func encodeID(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

func decodeID(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, status.New(status.Corruption, "malformed identifier of %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// nodeKey creates a key for storing a node.
func nodeKey(id uint64) []byte {
	return append([]byte{prefixNode}, encodeID(id)...)
}

// edgeKey creates a key for storing an edge.
func edgeKey(id uint64) []byte {
	return append([]byte{prefixEdge}, encodeID(id)...)
}

// labelIndexKey creates a key for the label index.
// Format: prefix + label + 0x00 + nodeID
func labelIndexKey(label string, nodeID uint64) []byte {
	return append(labelIndexPrefix(label), encodeID(nodeID)...)
}

// labelIndexPrefix returns the prefix for scanning all nodes with a label.
func labelIndexPrefix(label string) []byte {
	key := make([]byte, 0, 1+len(label)+1+8)
	key = append(key, prefixLabelIndex)
	key = append(key, label...)
	key = append(key, 0x00)
	return key
}

// outgoingIndexKey creates a key for the outgoing edge index.
// Format: prefix + sourceID + edgeID
func outgoingIndexKey(source, edgeID uint64) []byte {
	return append(outgoingIndexPrefix(source), encodeID(edgeID)...)
}

// outgoingIndexPrefix returns the prefix for scanning outgoing edges.
func outgoingIndexPrefix(source uint64) []byte {
	return append([]byte{prefixOutgoingIndex}, encodeID(source)...)
}

// incomingIndexKey creates a key for the incoming edge index.
func incomingIndexKey(target, edgeID uint64) []byte {
	return append(incomingIndexPrefix(target), encodeID(edgeID)...)
}

// incomingIndexPrefix returns the prefix for scanning incoming edges.
func incomingIndexPrefix(target uint64) []byte {
	return append([]byte{prefixIncomingIndex}, encodeID(target)...)
}

// edgeTypeIndexKey creates a key for the edge type index.
// Format: prefix + type + 0x00 + edgeID
func edgeTypeIndexKey(typ string, edgeID uint64) []byte {
	return append(edgeTypeIndexPrefix(typ), encodeID(edgeID)...)
}

// edgeTypeIndexPrefix returns the prefix for scanning all edges of a type.
func edgeTypeIndexPrefix(typ string) []byte {
	key := make([]byte, 0, 1+len(typ)+1+8)
	key = append(key, prefixEdgeTypeIndex)
	key = append(key, typ...)
	key = append(key, 0x00)
	return key
}

func catalogKey(kind CatalogKind, name string) []byte {
	key := make([]byte, 0, 2+len(name))
	key = append(key, prefixCatalog, byte(kind))
	key = append(key, name...)
	return key
}

func metaKey(name string) []byte {
	return append([]byte{prefixMeta}, name...)
}

// idSuffix extracts the trailing 8-byte identifier of an index key.
func idSuffix(key []byte) (uint64, error) {
	if len(key) < 9 {
		return 0, status.New(status.Corruption, "index key too short")
	}
	return decodeID(key[len(key)-8:])
}

// validName checks a label, edge type or property key.
func validName(name string) error {
	if name == "" || !utf8.ValidString(name) || bytes.IndexByte([]byte(name), 0x00) >= 0 {
		return ErrInvalidKey
	}
	return nil
}

// ============================================================================
// Serialization helpers
// ============================================================================

type nodeRecord struct {
	Labels     []string
	Properties map[string]value.Value
}

type edgeRecord struct {
	Type       string
	Source     uint64
	Target     uint64
	Properties map[string]value.Value
}

// encodeNode serializes a Node using gob.
func encodeNode(n *Node) ([]byte, error) {
	var buf bytes.Buffer
	rec := nodeRecord{Labels: n.Labels, Properties: n.Properties}
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return nil, status.Wrap(status.Internal, err, "failed to encode node")
	}
	return buf.Bytes(), nil
}

// decodeNode deserializes a Node from gob.
func decodeNode(id uint64, data []byte) (*Node, error) {
	var rec nodeRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, status.Wrap(status.Corruption, err, fmt.Sprintf("failed to decode node %d", id))
	}
	if rec.Properties == nil {
		rec.Properties = map[string]value.Value{}
	}
	return &Node{ID: id, Labels: rec.Labels, Properties: rec.Properties}, nil
}

// encodeEdge serializes an Edge using gob.
func encodeEdge(e *Edge) ([]byte, error) {
	var buf bytes.Buffer
	rec := edgeRecord{Type: e.Type, Source: e.Source, Target: e.Target, Properties: e.Properties}
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return nil, status.Wrap(status.Internal, err, "failed to encode edge")
	}
	return buf.Bytes(), nil
}

// decodeEdge deserializes an Edge from gob.
func decodeEdge(id uint64, data []byte) (*Edge, error) {
	var rec edgeRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, status.Wrap(status.Corruption, err, fmt.Sprintf("failed to decode edge %d", id))
	}
	if rec.Properties == nil {
		rec.Properties = map[string]value.Value{}
	}
	return &Edge{ID: id, Type: rec.Type, Source: rec.Source, Target: rec.Target, Properties: rec.Properties}, nil
}
