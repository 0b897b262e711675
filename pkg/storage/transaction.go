package storage

import (
	"errors"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/value"
)

// OperationType represents the type of operation in a transaction.
type OperationType string

const (
	OpCreateNode OperationType = "create_node"
	OpUpdateNode OperationType = "update_node"
	OpDeleteNode OperationType = "delete_node"
	OpCreateEdge OperationType = "create_edge"
	OpUpdateEdge OperationType = "update_edge"
	OpDeleteEdge OperationType = "delete_edge"
)

// Operation is one undo record of a write transaction.
//
// OldNode and OldEdge hold the state before the operation, nil for creates.
type Operation struct {
	Type    OperationType
	NodeID  uint64
	EdgeID  uint64
	OldNode *Node
	OldEdge *Edge
}

func (op Operation) isEdge() bool {
	return op.Type == OpCreateEdge || op.Type == OpUpdateEdge || op.Type == OpDeleteEdge
}

// Txn is a storage transaction.
//
// A read transaction observes the snapshot taken by BeginRead. A write
// transaction sees its own uncommitted changes, and every change is recorded
// in an undo log so a failing statement can be rolled back to a Savepoint
// without abandoning the whole transaction.
//
// A Txn must not be used from several goroutines at once.
type Txn struct {
	mu sync.Mutex

	ID        string
	StartTime time.Time
	Status    TxStatus

	engine   *Engine
	badgerTx *badger.Txn
	writable bool

	seqLoaded bool
	nextID    uint64

	operations []Operation
}

func newTxn(e *Engine, btx *badger.Txn, writable bool) *Txn {
	return &Txn{
		ID:        uuid.New().String(),
		StartTime: time.Now(),
		Status:    TxStatusActive,
		engine:    e,
		badgerTx:  btx,
		writable:  writable,
	}
}

// Writable reports whether this is a read-write transaction.
func (t *Txn) Writable() bool { return t.writable }

// IsActive reports whether the transaction has not been committed or rolled back.
func (t *Txn) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status == TxStatusActive
}

// OperationCount returns the number of undo records.
func (t *Txn) OperationCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.operations)
}

// Savepoint marks the current position of the undo log.
func (t *Txn) Savepoint() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.operations)
}

// RollbackTo undoes every change made after sp, newest first.
func (t *Txn) RollbackTo(sp int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return err
	}
	if sp < 0 || sp > len(t.operations) {
		return status.New(status.Internal, "invalid savepoint %d", sp)
	}
	for i := len(t.operations) - 1; i >= sp; i-- {
		if err := t.undo(t.operations[i]); err != nil {
			return err
		}
	}
	t.operations = t.operations[:sp]
	return nil
}

func (t *Txn) undo(op Operation) error {
	if op.isEdge() {
		cur, err := t.loadEdge(op.EdgeID)
		if err != nil {
			return err
		}
		return t.writeEdge(cur, op.OldEdge)
	}
	cur, err := t.loadNode(op.NodeID)
	if err != nil {
		return err
	}
	return t.writeNode(cur, op.OldNode)
}

// Commit makes all changes visible atomically. Committing a read
// transaction releases its snapshot.
func (t *Txn) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status != TxStatusActive {
		return ErrTransactionClosed
	}
	defer t.finish()

	if !t.writable {
		t.badgerTx.Discard()
		t.Status = TxStatusCommitted
		return nil
	}
	if err := t.engine.ensureOpen(); err != nil {
		t.badgerTx.Discard()
		t.Status = TxStatusRolledBack
		return err
	}
	if err := t.badgerTx.Commit(); err != nil {
		t.Status = TxStatusRolledBack
		log.Printf("[Transaction %s] commit failed: %v", t.ID, err)
		return ioError(err, "commit failed")
	}
	t.Status = TxStatusCommitted
	if len(t.operations) > 0 {
		log.Printf("[Transaction %s] committed %d operations in %v", t.ID, len(t.operations), time.Since(t.StartTime))
	}
	return nil
}

// Rollback discards every change.
func (t *Txn) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status != TxStatusActive {
		return ErrTransactionClosed
	}
	defer t.finish()
	t.badgerTx.Discard()
	t.Status = TxStatusRolledBack
	return nil
}

func (t *Txn) finish() {
	t.operations = nil
	t.engine.openTxns.Add(-1)
	if t.writable {
		t.engine.releaseWriter()
	}
}

func (t *Txn) checkActive() error {
	if t.Status != TxStatusActive {
		return ErrTransactionClosed
	}
	return t.engine.ensureOpen()
}

func (t *Txn) checkWritable() error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if !t.writable {
		return status.ErrReadOnlyWrite
	}
	return nil
}

// ============================================================================
// Reads
// ============================================================================

// GetNode returns the node with id, or ErrNodeNotFound.
func (t *Txn) GetNode(id uint64) (*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	n, err := t.loadNode(id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, ErrNodeNotFound
	}
	return n, nil
}

// GetEdge returns the edge with id, or ErrEdgeNotFound.
func (t *Txn) GetEdge(id uint64) (*Edge, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	e, err := t.loadEdge(id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrEdgeNotFound
	}
	return e, nil
}

// AllNodeIDs returns the ids of every node in ascending order.
func (t *Txn) AllNodeIDs() ([]uint64, error) {
	return t.scan([]byte{prefixNode})
}

// AllEdgeIDs returns the ids of every edge in ascending order.
func (t *Txn) AllEdgeIDs() ([]uint64, error) {
	return t.scan([]byte{prefixEdge})
}

// NodesByLabel returns the ids of nodes carrying label in ascending order.
func (t *Txn) NodesByLabel(label string) ([]uint64, error) {
	return t.scan(labelIndexPrefix(label))
}

// EdgesByType returns the ids of edges of type typ in ascending order.
func (t *Txn) EdgesByType(typ string) ([]uint64, error) {
	return t.scan(edgeTypeIndexPrefix(typ))
}

// Outgoing lists the edges leaving node id. Other is the target node.
func (t *Txn) Outgoing(id uint64) ([]Adjacency, error) {
	return t.adjacent(outgoingIndexPrefix(id))
}

// Incoming lists the edges entering node id. Other is the source node.
func (t *Txn) Incoming(id uint64) ([]Adjacency, error) {
	return t.adjacent(incomingIndexPrefix(id))
}

func (t *Txn) scan(prefix []byte) ([]uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	return collectIDs(t.badgerTx, prefix)
}

func (t *Txn) adjacent(prefix []byte) ([]Adjacency, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	return collectAdjacency(t.badgerTx, prefix)
}

// loadNode reads a node record. A missing node is (nil, nil).
func (t *Txn) loadNode(id uint64) (*Node, error) {
	item, err := t.badgerTx.Get(nodeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, ioError(err, "failed to read node")
	}
	var node *Node
	err = item.Value(func(val []byte) error {
		node, err = decodeNode(id, val)
		return err
	})
	if err != nil {
		return nil, ioError(err, "failed to read node")
	}
	return node, nil
}

// loadEdge reads an edge record. A missing edge is (nil, nil).
func (t *Txn) loadEdge(id uint64) (*Edge, error) {
	item, err := t.badgerTx.Get(edgeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, ioError(err, "failed to read edge")
	}
	var edge *Edge
	err = item.Value(func(val []byte) error {
		edge, err = decodeEdge(id, val)
		return err
	})
	if err != nil {
		return nil, ioError(err, "failed to read edge")
	}
	return edge, nil
}

// ============================================================================
// Writes
// ============================================================================

// CreateNode inserts a node and returns its new id. Null properties are
// skipped and duplicate labels collapse.
func (t *Txn) CreateNode(labels []string, props map[string]value.Value) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return 0, err
	}
	node := &Node{Properties: map[string]value.Value{}}
	for _, l := range labels {
		if err := validName(l); err != nil {
			return 0, err
		}
		if !node.HasLabel(l) {
			node.Labels = append(node.Labels, l)
		}
	}
	if err := copyProps(node.Properties, props); err != nil {
		return 0, err
	}

	id, err := t.allocateID()
	if err != nil {
		return 0, err
	}
	node.ID = id
	if err := t.writeNode(nil, node); err != nil {
		return 0, err
	}
	t.operations = append(t.operations, Operation{Type: OpCreateNode, NodeID: id})
	return id, nil
}

// CreateEdge inserts an edge from source to target and returns its id.
// Both endpoints must exist.
func (t *Txn) CreateEdge(typ string, source, target uint64, props map[string]value.Value) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return 0, err
	}
	if err := validName(typ); err != nil {
		return 0, err
	}
	for _, endpoint := range []uint64{source, target} {
		n, err := t.loadNode(endpoint)
		if err != nil {
			return 0, err
		}
		if n == nil {
			return 0, status.New(status.MissingNode, "edge endpoint %d does not exist", endpoint)
		}
	}
	edge := &Edge{Type: typ, Source: source, Target: target, Properties: map[string]value.Value{}}
	if err := copyProps(edge.Properties, props); err != nil {
		return 0, err
	}

	id, err := t.allocateID()
	if err != nil {
		return 0, err
	}
	edge.ID = id
	if err := t.writeEdge(nil, edge); err != nil {
		return 0, err
	}
	t.operations = append(t.operations, Operation{Type: OpCreateEdge, EdgeID: id})
	return id, nil
}

// SetNodeProperty sets key on node id. Setting Null removes the property.
func (t *Txn) SetNodeProperty(id uint64, key string, v value.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := validName(key); err != nil {
		return err
	}
	if err := validValue(v); err != nil {
		return err
	}
	old, err := t.loadNode(id)
	if err != nil {
		return err
	}
	if old == nil {
		return ErrNodeNotFound
	}
	updated := old.Clone()
	applyProperty(updated.Properties, key, v)
	if err := t.writeNode(old, updated); err != nil {
		return err
	}
	t.operations = append(t.operations, Operation{Type: OpUpdateNode, NodeID: id, OldNode: old})
	return nil
}

// AddLabel adds label to node id. Adding a label the node already has is a
// no-op.
func (t *Txn) AddLabel(id uint64, label string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := validName(label); err != nil {
		return err
	}
	old, err := t.loadNode(id)
	if err != nil {
		return err
	}
	if old == nil {
		return ErrNodeNotFound
	}
	if old.HasLabel(label) {
		return nil
	}
	updated := old.Clone()
	updated.Labels = append(updated.Labels, label)
	if err := t.writeNode(old, updated); err != nil {
		return err
	}
	t.operations = append(t.operations, Operation{Type: OpUpdateNode, NodeID: id, OldNode: old})
	return nil
}

// SetEdgeProperty sets key on edge id. Setting Null removes the property.
func (t *Txn) SetEdgeProperty(id uint64, key string, v value.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := validName(key); err != nil {
		return err
	}
	if err := validValue(v); err != nil {
		return err
	}
	old, err := t.loadEdge(id)
	if err != nil {
		return err
	}
	if old == nil {
		return ErrEdgeNotFound
	}
	updated := old.Clone()
	applyProperty(updated.Properties, key, v)
	if err := t.writeEdge(old, updated); err != nil {
		return err
	}
	t.operations = append(t.operations, Operation{Type: OpUpdateEdge, EdgeID: id, OldEdge: old})
	return nil
}

// DeleteNode removes a node. A node that still has incident edges cannot be
// deleted and the graph is left unchanged.
func (t *Txn) DeleteNode(id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return err
	}
	old, err := t.loadNode(id)
	if err != nil {
		return err
	}
	if old == nil {
		return ErrNodeNotFound
	}
	for _, prefix := range [][]byte{outgoingIndexPrefix(id), incomingIndexPrefix(id)} {
		connected, err := t.hasAny(prefix)
		if err != nil {
			return err
		}
		if connected {
			return status.New(status.DeleteConnected, "node %d still has incident edges", id)
		}
	}
	if err := t.writeNode(old, nil); err != nil {
		return err
	}
	t.operations = append(t.operations, Operation{Type: OpDeleteNode, NodeID: id, OldNode: old})
	return nil
}

// DeleteEdge removes an edge.
func (t *Txn) DeleteEdge(id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return err
	}
	old, err := t.loadEdge(id)
	if err != nil {
		return err
	}
	if old == nil {
		return ErrEdgeNotFound
	}
	if err := t.writeEdge(old, nil); err != nil {
		return err
	}
	t.operations = append(t.operations, Operation{Type: OpDeleteEdge, EdgeID: id, OldEdge: old})
	return nil
}

func (t *Txn) hasAny(prefix []byte) (bool, error) {
	it := t.badgerTx.NewIterator(badgerIterOptsKeyOnly(prefix))
	defer it.Close()
	it.Rewind()
	return it.Valid(), nil
}

// allocateID hands out the next id from the shared node/edge sequence.
func (t *Txn) allocateID() (uint64, error) {
	if !t.seqLoaded {
		item, err := t.badgerTx.Get(metaKey(metaSequence))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			t.nextID = 0
		case err != nil:
			return 0, ioError(err, "failed to read id sequence")
		default:
			var raw []byte
			if raw, err = item.ValueCopy(nil); err != nil {
				return 0, ioError(err, "failed to read id sequence")
			}
			if t.nextID, err = decodeID(raw); err != nil {
				return 0, err
			}
		}
		t.seqLoaded = true
	}
	id := t.nextID
	if err := t.badgerTx.Set(metaKey(metaSequence), encodeID(id+1)); err != nil {
		return 0, ioError(err, "failed to advance id sequence")
	}
	t.nextID++
	return id, nil
}

func copyProps(dst, src map[string]value.Value) error {
	for k, v := range src {
		if err := validName(k); err != nil {
			return err
		}
		if err := validValue(v); err != nil {
			return err
		}
		applyProperty(dst, k, v)
	}
	return nil
}

// validValue rejects text that is not valid UTF-8.
func validValue(v value.Value) error {
	if text, ok := v.AsText(); ok && !utf8.ValidString(text) {
		return status.New(status.InvalidString, "property text is not valid UTF-8")
	}
	return nil
}

func applyProperty(props map[string]value.Value, key string, v value.Value) {
	if v.IsNull() {
		delete(props, key)
		return
	}
	props[key] = v
}
