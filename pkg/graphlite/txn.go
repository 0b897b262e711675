package graphlite

import (
	"sync"

	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/storage"
)

// Txn is a read or write transaction on a Graph.
//
// A Txn may be shared by several statements, but each statement steps it
// from one goroutine at a time.
type Txn struct {
	graph *Graph
	st    *storage.Txn

	mu       sync.Mutex
	attached int
	finished bool
	poisoned error
}

// ID identifies the transaction in logs.
func (t *Txn) ID() string { return t.st.ID }

// Writable reports whether this is the write transaction.
func (t *Txn) Writable() bool { return t.st.Writable() }

// Active reports whether the transaction can still be used.
func (t *Txn) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.finished
}

// Commit makes every change of the transaction durable and visible to
// transactions that begin afterwards. It fails with OPEN_STATEMENT while a
// statement is started on the transaction and not yet exhausted.
func (t *Txn) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return status.New(status.Misuse, "transaction %s is already finished", t.ID())
	}
	if t.poisoned != nil {
		return status.ErrPoison
	}
	if err := t.graph.check(); err != nil {
		return err
	}
	if t.attached > 0 {
		return status.New(status.OpenStatement, "%d statements are still running on transaction %s", t.attached, t.ID())
	}
	t.finished = true
	err := t.st.Commit()
	t.graph.txnDone()
	return t.graph.observe(err)
}

// AddLabel adds label to node id. The query language has no clause for
// this; it exists for tooling.
func (t *Txn) AddLabel(id uint64, label string) error {
	t.mu.Lock()
	switch {
	case t.finished:
		t.mu.Unlock()
		return status.New(status.Misuse, "transaction %s is already finished", t.ID())
	case t.poisoned != nil:
		t.mu.Unlock()
		return status.ErrPoison
	}
	t.mu.Unlock()
	if err := t.graph.check(); err != nil {
		return err
	}
	return t.observe(t.st.AddLabel(id, label))
}

// Drop discards every change of the transaction. Dropping a finished
// transaction does nothing.
func (t *Txn) Drop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return nil
	}
	t.finished = true
	t.st.Rollback()
	t.graph.txnDone()
	return nil
}

// attach registers a started statement. The transaction must be usable.
func (t *Txn) attach() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return status.New(status.OpenTransaction, "transaction %s is no longer active", t.ID())
	}
	if t.poisoned != nil {
		return status.ErrPoison
	}
	t.attached++
	return nil
}

func (t *Txn) detach() {
	t.mu.Lock()
	t.attached--
	t.mu.Unlock()
}

// usable reports the error a statement stepping this transaction gets.
func (t *Txn) usable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return status.New(status.Misuse, "transaction %s finished while the statement was running", t.ID())
	}
	if t.poisoned != nil {
		return status.ErrPoison
	}
	return nil
}

// observe poisons the transaction and its graph when err is fatal.
func (t *Txn) observe(err error) error {
	if err == nil || !status.CodeOf(err).Fatal() {
		return err
	}
	t.mu.Lock()
	if t.poisoned == nil {
		t.poisoned = err
	}
	t.mu.Unlock()
	return t.graph.observe(err)
}
