package storage

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// writeNode moves a node from state old to state cur, keeping the label
// index and catalog in step. A nil old inserts, a nil cur removes.
func (t *Txn) writeNode(old, cur *Node) error {
	var oldLabels, curLabels, oldKeys, curKeys []string
	var id uint64
	if old != nil {
		id = old.ID
		oldLabels = old.Labels
		oldKeys = PropertyKeys(old.Properties)
	}
	if cur != nil {
		id = cur.ID
		curLabels = cur.Labels
		curKeys = PropertyKeys(cur.Properties)
	}

	if cur == nil {
		if err := t.badgerTx.Delete(nodeKey(id)); err != nil {
			return ioError(err, "failed to delete node")
		}
	} else {
		data, err := encodeNode(cur)
		if err != nil {
			return err
		}
		if err := t.badgerTx.Set(nodeKey(id), data); err != nil {
			return ioError(err, "failed to write node")
		}
	}

	added, removed := diffNames(oldLabels, curLabels)
	for _, l := range removed {
		if err := t.badgerTx.Delete(labelIndexKey(l, id)); err != nil {
			return ioError(err, "failed to update label index")
		}
		if err := t.adjustCatalog(CatalogLabel, l, -1); err != nil {
			return err
		}
	}
	for _, l := range added {
		if err := t.badgerTx.Set(labelIndexKey(l, id), []byte{}); err != nil {
			return ioError(err, "failed to update label index")
		}
		if err := t.adjustCatalog(CatalogLabel, l, 1); err != nil {
			return err
		}
	}
	return t.adjustKeys(oldKeys, curKeys)
}

// writeEdge moves an edge from state old to state cur. Type and endpoints
// never change, so an update only touches properties.
func (t *Txn) writeEdge(old, cur *Edge) error {
	var oldKeys, curKeys []string
	if old != nil {
		oldKeys = PropertyKeys(old.Properties)
	}
	if cur != nil {
		curKeys = PropertyKeys(cur.Properties)
	}

	switch {
	case cur == nil:
		if err := t.badgerTx.Delete(edgeKey(old.ID)); err != nil {
			return ioError(err, "failed to delete edge")
		}
		if err := t.setEdgeIndexes(old, false); err != nil {
			return err
		}
		if err := t.adjustCatalog(CatalogEdgeType, old.Type, -1); err != nil {
			return err
		}
	default:
		data, err := encodeEdge(cur)
		if err != nil {
			return err
		}
		if err := t.badgerTx.Set(edgeKey(cur.ID), data); err != nil {
			return ioError(err, "failed to write edge")
		}
		if old == nil {
			if err := t.setEdgeIndexes(cur, true); err != nil {
				return err
			}
			if err := t.adjustCatalog(CatalogEdgeType, cur.Type, 1); err != nil {
				return err
			}
		}
	}
	return t.adjustKeys(oldKeys, curKeys)
}

func (t *Txn) setEdgeIndexes(e *Edge, present bool) error {
	entries := []struct {
		key, val []byte
	}{
		{outgoingIndexKey(e.Source, e.ID), encodeID(e.Target)},
		{incomingIndexKey(e.Target, e.ID), encodeID(e.Source)},
		{edgeTypeIndexKey(e.Type, e.ID), []byte{}},
	}
	for _, entry := range entries {
		var err error
		if present {
			err = t.badgerTx.Set(entry.key, entry.val)
		} else {
			err = t.badgerTx.Delete(entry.key)
		}
		if err != nil {
			return ioError(err, "failed to update edge index")
		}
	}
	return nil
}

func (t *Txn) adjustKeys(oldKeys, curKeys []string) error {
	added, removed := diffNames(oldKeys, curKeys)
	for _, k := range removed {
		if err := t.adjustCatalog(CatalogPropertyKey, k, -1); err != nil {
			return err
		}
	}
	for _, k := range added {
		if err := t.adjustCatalog(CatalogPropertyKey, k, 1); err != nil {
			return err
		}
	}
	return nil
}

// adjustCatalog changes the usage count of a name. A count that drops to
// zero removes the name from the catalog.
func (t *Txn) adjustCatalog(kind CatalogKind, name string, delta int64) error {
	key := catalogKey(kind, name)
	var count uint64
	item, err := t.badgerTx.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return ioError(err, "failed to read catalog")
	default:
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return ioError(err, "failed to read catalog")
		}
		if count, err = decodeID(raw); err != nil {
			return err
		}
	}

	next := int64(count) + delta
	if next <= 0 {
		return ioError(t.badgerTx.Delete(key), "failed to update catalog")
	}
	return ioError(t.badgerTx.Set(key, encodeID(uint64(next))), "failed to update catalog")
}

// Catalog returns the names in use with their usage counts.
func (t *Txn) Catalog() (*Catalog, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return nil, err
	}

	cat := &Catalog{
		Labels:       map[string]uint64{},
		EdgeTypes:    map[string]uint64{},
		PropertyKeys: map[string]uint64{},
	}
	it := t.badgerTx.NewIterator(badgerIterOptsPrefetchValues([]byte{prefixCatalog}, 100))
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if len(key) < 3 {
			return nil, ErrCorruptCatalog
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return nil, ioError(err, "failed to read catalog")
		}
		count, err := decodeID(raw)
		if err != nil {
			return nil, err
		}
		name := string(key[2:])
		switch CatalogKind(key[1]) {
		case CatalogLabel:
			cat.Labels[name] = count
		case CatalogEdgeType:
			cat.EdgeTypes[name] = count
		case CatalogPropertyKey:
			cat.PropertyKeys[name] = count
		default:
			return nil, ErrCorruptCatalog
		}
	}
	return cat, nil
}

// diffNames returns the names in cur but not old, and in old but not cur.
func diffNames(old, cur []string) (added, removed []string) {
	inOld := make(map[string]struct{}, len(old))
	for _, n := range old {
		inOld[n] = struct{}{}
	}
	inCur := make(map[string]struct{}, len(cur))
	for _, n := range cur {
		inCur[n] = struct{}{}
		if _, ok := inOld[n]; !ok {
			added = append(added, n)
		}
	}
	for _, n := range old {
		if _, ok := inCur[n]; !ok {
			removed = append(removed, n)
		}
	}
	return added, removed
}
