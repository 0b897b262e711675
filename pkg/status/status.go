// Package status defines the closed set of result codes returned by every
// graphlite operation.
//
// Callers branch on a Code, never on error strings. Successful calls report
// OK; the step protocol additionally reports Match and Done. Every other code
// is an error kind and is carried by *Error:
//
//	code, err := stmt.Step()
//	switch code {
//	case status.Match:
//		// read the row
//	case status.Done:
//		// finished
//	default:
//		log.Printf("step failed (%s): %v", code, err)
//	}
package status

import (
	"errors"
	"fmt"
)

// Code is a result code. The numeric values are stable and safe to persist
// or pass across a foreign function boundary.
type Code uint8

const (
	OK    Code = 0
	Match Code = 1
	Done  Code = 2

	IO                  Code = 100
	Corruption          Code = 101
	Poison              Code = 102
	Internal            Code = 103
	ReadOnlyWrite       Code = 104
	Syntax              Code = 105
	IdentifierIsNotNode Code = 106
	IdentifierIsNotEdge Code = 107
	IdentifierExists    Code = 108
	UnknownIdentifier   Code = 109
	TypeMismatch        Code = 110
	IndexOutOfBounds    Code = 111
	MissingNode         Code = 112
	MissingEdge         Code = 113
	DeleteConnected     Code = 114
	InvalidString       Code = 115
	OpenTransaction     Code = 116
	OpenStatement       Code = 117
	Misuse              Code = 118
)

var codeNames = map[Code]string{
	OK:                  "OK",
	Match:               "MATCH",
	Done:                "DONE",
	IO:                  "IO",
	Corruption:          "CORRUPTION",
	Poison:              "POISON",
	Internal:            "INTERNAL",
	ReadOnlyWrite:       "READ_ONLY_WRITE",
	Syntax:              "SYNTAX",
	IdentifierIsNotNode: "IDENTIFIER_IS_NOT_NODE",
	IdentifierIsNotEdge: "IDENTIFIER_IS_NOT_EDGE",
	IdentifierExists:    "IDENTIFIER_EXISTS",
	UnknownIdentifier:   "UNKNOWN_IDENTIFIER",
	TypeMismatch:        "TYPE_MISMATCH",
	IndexOutOfBounds:    "INDEX_OUT_OF_BOUNDS",
	MissingNode:         "MISSING_NODE",
	MissingEdge:         "MISSING_EDGE",
	DeleteConnected:     "DELETE_CONNECTED",
	InvalidString:       "INVALID_STRING",
	OpenTransaction:     "OPEN_TRANSACTION",
	OpenStatement:       "OPEN_STATEMENT",
	Misuse:              "MISUSE",
}

// String returns the canonical upper-case name of the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint8(c))
}

// IsError reports whether c is an error kind rather than OK, Match or Done.
func (c Code) IsError() bool {
	return c >= IO
}

// Fatal reports whether an error of this kind poisons the handle it was
// observed on.
func (c Code) Fatal() bool {
	return c == Internal || c == Corruption
}

// Codes returns every defined code in ascending order.
func Codes() []Code {
	out := []Code{OK, Match, Done}
	for c := IO; c <= Misuse; c++ {
		out = append(out, c)
	}
	return out
}

// Position locates a syntax error inside query text.
// Line and Column are 1-based, Offset is the 0-based byte offset.
type Position struct {
	Offset int
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("line %d, column %d", p.Line, p.Column)
}

// Error is an error carrying a status code.
type Error struct {
	Code Code
	Msg  string
	// Pos is set for syntax errors.
	Pos *Position
	Err error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Pos != nil {
		msg = fmt.Sprintf("%s at %s", msg, e.Pos)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so the package sentinels below
// work with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// New returns an *Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error. A nil err returns nil.
func Wrap(code Code, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Msg: msg, Err: err}
}

// At returns a syntax error located at pos.
func At(pos Position, format string, args ...any) *Error {
	return &Error{Code: Syntax, Msg: fmt.Sprintf(format, args...), Pos: &pos}
}

// CodeOf extracts the code of err. nil is OK and errors that carry no code
// are Internal.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return Internal
}

// Sentinels for errors.Is checks.
var (
	ErrIO                  = &Error{Code: IO}
	ErrCorruption          = &Error{Code: Corruption}
	ErrPoison              = &Error{Code: Poison, Msg: "handle is poisoned by an earlier fatal error"}
	ErrInternal            = &Error{Code: Internal}
	ErrReadOnlyWrite       = &Error{Code: ReadOnlyWrite, Msg: "write attempted in a read-only transaction"}
	ErrSyntax              = &Error{Code: Syntax}
	ErrIdentifierIsNotNode = &Error{Code: IdentifierIsNotNode}
	ErrIdentifierIsNotEdge = &Error{Code: IdentifierIsNotEdge}
	ErrIdentifierExists    = &Error{Code: IdentifierExists}
	ErrUnknownIdentifier   = &Error{Code: UnknownIdentifier}
	ErrTypeMismatch        = &Error{Code: TypeMismatch}
	ErrIndexOutOfBounds    = &Error{Code: IndexOutOfBounds}
	ErrMissingNode         = &Error{Code: MissingNode}
	ErrMissingEdge         = &Error{Code: MissingEdge}
	ErrDeleteConnected     = &Error{Code: DeleteConnected}
	ErrInvalidString       = &Error{Code: InvalidString}
	ErrOpenTransaction     = &Error{Code: OpenTransaction}
	ErrOpenStatement       = &Error{Code: OpenStatement}
	ErrMisuse              = &Error{Code: Misuse}
)
