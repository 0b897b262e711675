// Package storage provides the transactional graph store for graphlite.
//
// The store keeps nodes, edges and their typed properties in BadgerDB and
// exposes them through transactions:
//
//   - Read transactions pin a badger snapshot taken when they begin and never
//     observe later commits.
//   - Write transactions are exclusive engine-wide. All mutations are buffered
//     in the badger transaction and become visible atomically on Commit.
//
// Example Usage:
//
//	engine, err := storage.Open(storage.Options{InMemory: true})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	txn, err := engine.BeginWrite(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	alice, _ := txn.CreateNode([]string{"Person"}, map[string]value.Value{
//		"name": value.Text("Alice"),
//	})
//	bob, _ := txn.CreateNode([]string{"Person"}, nil)
//	txn.CreateEdge("KNOWS", alice, bob, nil)
//	if err := txn.Commit(); err != nil {
//		log.Fatal(err)
//	}
package storage

import (
	"sort"

	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/value"
)

// Common errors
var (
	ErrStorageClosed     = status.New(status.Misuse, "storage closed")
	ErrTransactionClosed = status.New(status.Misuse, "transaction already closed")
	ErrWriterActive      = status.New(status.OpenTransaction, "another write transaction is active")
	ErrNodeNotFound      = status.New(status.MissingNode, "node not found")
	ErrEdgeNotFound      = status.New(status.MissingEdge, "edge not found")
	ErrNodeConnected     = status.New(status.DeleteConnected, "node has incident edges")
	ErrInvalidKey        = status.New(status.InvalidString, "property key, label or type must be non-empty UTF-8")
	ErrCorruptCatalog    = status.New(status.Corruption, "malformed catalog entry")
)

// Node is a graph node as seen by one transaction.
//
// Labels keep their insertion order and contain no duplicates. A property
// that is absent reads as Null.
type Node struct {
	ID         uint64
	Labels     []string
	Properties map[string]value.Value
}

// Edge is a directed, typed relationship between two nodes.
type Edge struct {
	ID         uint64
	Type       string
	Source     uint64
	Target     uint64
	Properties map[string]value.Value
}

// HasLabel reports whether the node carries label.
func (n *Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Property returns the property value or Null.
func (n *Node) Property(key string) value.Value {
	if v, ok := n.Properties[key]; ok {
		return v
	}
	return value.Null
}

// Property returns the property value or Null.
func (e *Edge) Property(key string) value.Value {
	if v, ok := e.Properties[key]; ok {
		return v
	}
	return value.Null
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	cp := &Node{ID: n.ID, Labels: append([]string(nil), n.Labels...)}
	cp.Properties = cloneProps(n.Properties)
	return cp
}

// Clone returns a deep copy of the edge.
func (e *Edge) Clone() *Edge {
	cp := *e
	cp.Properties = cloneProps(e.Properties)
	return &cp
}

// PropertyKeys returns the property keys in sorted order.
func PropertyKeys(props map[string]value.Value) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneProps(props map[string]value.Value) map[string]value.Value {
	out := make(map[string]value.Value, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// WriteLockMode selects what BeginWrite does while another writer is active.
type WriteLockMode string

const (
	// WriteLockBlock waits for the active writer to finish.
	WriteLockBlock WriteLockMode = "block"
	// WriteLockFail returns ErrWriterActive immediately.
	WriteLockFail WriteLockMode = "fail"
)

// TxStatus is the lifecycle state of a transaction.
type TxStatus string

const (
	TxStatusActive     TxStatus = "active"
	TxStatusCommitted  TxStatus = "committed"
	TxStatusRolledBack TxStatus = "rolled_back"
)

// CatalogKind distinguishes the namespaces tracked by the catalog.
type CatalogKind byte

const (
	CatalogLabel       CatalogKind = 'L'
	CatalogEdgeType    CatalogKind = 'T'
	CatalogPropertyKey CatalogKind = 'P'
)

func (k CatalogKind) String() string {
	switch k {
	case CatalogLabel:
		return "label"
	case CatalogEdgeType:
		return "type"
	case CatalogPropertyKey:
		return "property"
	}
	return "unknown"
}

// Catalog is the identifier namespace of a graph: every label, edge type
// and property key in use, with the number of entities using it.
type Catalog struct {
	Labels       map[string]uint64
	EdgeTypes    map[string]uint64
	PropertyKeys map[string]uint64
}

// LabelCount returns the number of nodes carrying label.
func (c *Catalog) LabelCount(label string) uint64 {
	if c == nil {
		return 0
	}
	return c.Labels[label]
}

// EdgeTypeCount returns the number of edges of type typ.
func (c *Catalog) EdgeTypeCount(typ string) uint64 {
	if c == nil {
		return 0
	}
	return c.EdgeTypes[typ]
}
