package graphlite

import (
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/graphlite/pkg/exec"
	"github.com/orneryd/graphlite/pkg/planner"
	"github.com/orneryd/graphlite/pkg/status"
	"github.com/orneryd/graphlite/pkg/value"
)

type stmtState int

const (
	stmtUnstarted stmtState = iota
	stmtReady               // started, no current row
	stmtRow                 // started, a row is readable
	stmtExhausted
	stmtFailed
)

func (s stmtState) attached() bool { return s == stmtReady || s == stmtRow }

// Statement is a compiled query with its own parameter bindings and cursor.
//
// Lifecycle: bind parameters, Start on a transaction, Step until DONE, then
// Start again (on any transaction) or Finalize. An error from Step is sticky
// until the next Start, and any change the failed step made is undone.
//
// A Statement must not be used from several goroutines at once.
type Statement struct {
	graph *Graph
	id    string
	query string
	plan  *planner.Plan

	params []value.Value
	bound  []bool

	state     stmtState
	txn       *Txn
	cursor    *exec.Cursor
	savepoint int
	err       error
	stepped   bool
	elapsed   time.Duration
	finalized bool
}

func newStatement(g *Graph, query string, plan *planner.Plan) *Statement {
	return &Statement{
		graph:  g,
		id:     uuid.New().String(),
		query:  query,
		plan:   plan,
		params: make([]value.Value, len(plan.Params)),
		bound:  make([]bool, len(plan.Params)),
	}
}

// Text returns the query text the statement was prepared from.
func (s *Statement) Text() string { return s.query }

// Explain renders the statement's plan.
func (s *Statement) Explain() string { return s.plan.Explain() }

// Mutates reports whether the statement changes the graph.
func (s *Statement) Mutates() bool { return s.plan.Mutates }

// Params lists the statement's parameters and the kinds each accepts.
func (s *Statement) Params() []planner.ParamInfo { return s.plan.Params }

// ============================================================================
// Lifecycle
// ============================================================================

// Start attaches the statement to txn and rewinds its cursor. It fails with
// OPEN_TRANSACTION when txn is finished and MISUSE while the statement is
// already running.
func (s *Statement) Start(txn *Txn) error {
	if s.finalized {
		return errFinalized
	}
	if txn == nil || txn.graph != s.graph {
		return status.New(status.Misuse, "transaction belongs to another graph")
	}
	if err := s.graph.check(); err != nil {
		return err
	}
	if s.state.attached() {
		return status.New(status.Misuse, "statement is already running; step it to DONE or Reset it first")
	}
	if err := txn.attach(); err != nil {
		return err
	}

	cursor, err := exec.Start(s.plan, txn.st, s.params)
	if err != nil {
		txn.detach()
		return txn.observe(err)
	}
	s.txn, s.cursor, s.err = txn, cursor, nil
	s.savepoint = txn.st.Savepoint()
	s.stepped, s.elapsed = false, 0
	s.state = stmtReady
	return nil
}

// Step advances the statement. It returns status.Match when a row is
// readable through the Return accessors and status.Done once the statement
// is exhausted; Done repeats on every later call. A statement without
// RETURN runs to completion in a single step.
//
// On error the returned code is the error's code, every change made since
// Start is undone and the statement stays failed until the next Start.
func (s *Statement) Step() (status.Code, error) {
	if s.finalized {
		return status.Misuse, errFinalized
	}
	switch s.state {
	case stmtUnstarted:
		return status.Misuse, status.New(status.Misuse, "statement has not been started")
	case stmtExhausted:
		return status.Done, nil
	case stmtFailed:
		return status.CodeOf(s.err), s.err
	}
	if err := s.txn.usable(); err != nil {
		return s.fail(err)
	}
	if !s.stepped {
		if err := s.checkBound(); err != nil {
			return s.fail(err)
		}
		s.stepped = true
	}

	begin := time.Now()
	for {
		ok, err := s.cursor.Next()
		s.elapsed += time.Since(begin)
		begin = time.Now()
		if err != nil {
			return s.fail(err)
		}
		if !ok {
			s.finish()
			return status.Done, nil
		}
		if len(s.plan.Columns) > 0 {
			s.state = stmtRow
			return status.Match, nil
		}
	}
}

// Reset detaches the statement from its transaction without running it to
// the end. Bindings are kept. Changes already made stay in the transaction.
func (s *Statement) Reset() error {
	if s.finalized {
		return errFinalized
	}
	s.detach()
	s.state, s.err = stmtUnstarted, nil
	return nil
}

// Finalize releases the statement. The transaction it ran on is left as it
// is; finalizing twice is MISUSE.
func (s *Statement) Finalize() error {
	if s.finalized {
		return errFinalized
	}
	s.detach()
	s.finalized = true
	s.graph.stmtDone()
	return nil
}

var errFinalized = status.New(status.Misuse, "statement is finalized")

func (s *Statement) checkBound() error {
	var missing []string
	for i, ok := range s.bound {
		if !ok {
			missing = append(missing, "$"+s.plan.Params[i].Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if len(missing) == 1 {
		return status.New(status.Misuse, "parameter %s is not bound", missing[0])
	}
	return status.New(status.Misuse, "parameters %s are not bound", strings.Join(missing, ", "))
}

func (s *Statement) fail(err error) (status.Code, error) {
	if s.txn.Writable() && s.txn.Active() {
		if rbErr := s.txn.st.RollbackTo(s.savepoint); rbErr != nil {
			log.Printf("[graphlite] statement %s: rollback after %v failed: %v", s.id, err, rbErr)
			err = status.Wrap(status.Internal, rbErr, "statement rollback failed")
		}
	}
	err = s.txn.observe(err)
	s.detach()
	s.state, s.err = stmtFailed, err
	return status.CodeOf(err), err
}

func (s *Statement) finish() {
	s.detach()
	s.state = stmtExhausted
	cfg := s.graph.config.Logging
	if cfg.QueryLogEnabled && s.elapsed >= cfg.SlowQueryThreshold {
		log.Printf("[graphlite] slow statement %s took %v: %s", s.id, s.elapsed, s.query)
	}
}

func (s *Statement) detach() {
	if !s.state.attached() {
		return
	}
	s.cursor.Close()
	s.cursor = nil
	s.txn.detach()
	s.state = stmtUnstarted
}
