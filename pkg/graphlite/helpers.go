package graphlite

import (
	"context"

	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/value"
)

// Params maps parameter names to values for Execute and Query.
type Params map[string]value.Value

// Row is one result row. Query passes a fresh copy to its callback.
type Row []value.Value

// Execute binds params, runs the statement on txn to completion and
// discards any rows. Bindings not named in params are cleared.
func (s *Statement) Execute(txn *Txn, params Params) error {
	return s.run(txn, params, nil)
}

// Query binds params, runs the statement on txn and calls fn for each row.
// An error from fn stops the statement and is returned as is.
func (s *Statement) Query(txn *Txn, params Params, fn func(Row) error) error {
	return s.run(txn, params, fn)
}

func (s *Statement) run(txn *Txn, params Params, fn func(Row) error) error {
	if err := s.Reset(); err != nil {
		return err
	}
	if err := s.ClearBindings(); err != nil {
		return err
	}
	for name, v := range params {
		if err := s.Bind(name, v); err != nil {
			return err
		}
	}
	if err := s.Start(txn); err != nil {
		return err
	}
	for {
		code, err := s.Step()
		if err != nil {
			return err
		}
		if code != status.Match {
			return nil
		}
		if fn == nil {
			continue
		}
		row := make(Row, s.ReturnCount())
		copy(row, s.cursor.Row())
		if err := fn(row); err != nil {
			s.Reset()
			return err
		}
	}
}

// View runs fn in a read transaction that is always dropped afterwards.
func (g *Graph) View(fn func(*Txn) error) error {
	txn, err := g.BeginRead()
	if err != nil {
		return err
	}
	defer txn.Drop()
	return fn(txn)
}

// Update runs fn in the write transaction and commits when fn succeeds.
// Any error drops the transaction.
func (g *Graph) Update(ctx context.Context, fn func(*Txn) error) error {
	txn, err := g.BeginWrite(ctx)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		txn.Drop()
		return err
	}
	if err := txn.Commit(); err != nil {
		txn.Drop()
		return err
	}
	return nil
}

// Exec prepares query, runs it once in its own write transaction and
// commits.
func (g *Graph) Exec(ctx context.Context, query string, params Params) error {
	stmt, err := g.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Finalize()
	return g.Update(ctx, func(txn *Txn) error {
		return stmt.Execute(txn, params)
	})
}

// QueryRows prepares query and collects every row it returns in a fresh
// read transaction.
func (g *Graph) QueryRows(query string, params Params) ([]Row, error) {
	stmt, err := g.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Finalize()
	var rows []Row
	err = g.View(func(txn *Txn) error {
		return stmt.Query(txn, params, func(r Row) error {
			rows = append(rows, r)
			return nil
		})
	})
	return rows, err
}
