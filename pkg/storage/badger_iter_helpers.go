package storage

import "github.com/dgraph-io/badger/v4"

func badgerIterOptsKeyOnly(prefix []byte) badger.IteratorOptions {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	return opts
}

func badgerIterOptsPrefetchValues(prefix []byte, prefetchSize int) badger.IteratorOptions {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	if prefetchSize > 0 {
		opts.PrefetchSize = prefetchSize
	}
	opts.Prefix = prefix
	return opts
}

// collectIDs walks every key under prefix and decodes its trailing id.
// Results are materialized so callers may mutate the store while consuming
// them, and because a read-write badger txn allows one live iterator only.
func collectIDs(txn *badger.Txn, prefix []byte) ([]uint64, error) {
	it := txn.NewIterator(badgerIterOptsKeyOnly(prefix))
	defer it.Close()

	var ids []uint64
	for it.Rewind(); it.Valid(); it.Next() {
		id, err := idSuffix(it.Item().Key())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Adjacency is one entry of the outgoing or incoming edge index.
type Adjacency struct {
	Edge  uint64
	Other uint64
}

// collectAdjacency walks an edge index prefix. Values hold the node at the
// far end of the edge.
func collectAdjacency(txn *badger.Txn, prefix []byte) ([]Adjacency, error) {
	it := txn.NewIterator(badgerIterOptsPrefetchValues(prefix, 64))
	defer it.Close()

	var out []Adjacency
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		edgeID, err := idSuffix(item.Key())
		if err != nil {
			return nil, err
		}
		var other uint64
		err = item.Value(func(val []byte) error {
			other, err = decodeID(val)
			return err
		})
		if err != nil {
			return nil, ioError(err, "failed to read edge index")
		}
		out = append(out, Adjacency{Edge: edgeID, Other: other})
	}
	return out, nil
}
