package storage

import (
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/graphlite/pkg/status"
)

func (e *Engine) ensureOpen() error {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrStorageClosed
	}
	return nil
}

func (e *Engine) withView(fn func(txn *badger.Txn) error) error {
	if err := e.ensureOpen(); err != nil {
		return err
	}
	return ioError(e.db.View(fn), "read failed")
}

func (e *Engine) withUpdate(fn func(txn *badger.Txn) error) error {
	if err := e.ensureOpen(); err != nil {
		return err
	}
	return ioError(e.db.Update(fn), "write failed")
}

// ioError tags a raw badger error as IO. Errors that already carry a status
// code pass through unchanged.
func ioError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var se *status.Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, badger.ErrTxnTooBig) {
		return status.Wrap(status.IO, err, "transaction too large")
	}
	return status.Wrap(status.IO, err, msg)
}
