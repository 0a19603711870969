// Package errs defines the distinct error types for the error kinds in
// SPEC_FULL.md §7, wrapped with %w at each layer so errors.Is/errors.As can
// recover the original kind at the CLI boundary for exit-code mapping.
// Kind 4 (rule match) is never an error value — it's a Trigger.
package errs

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ParseError is kind 1: unparseable SQL or an unsupported construct. A
// ParseError ends processing of its script: it is returned when the script
// cannot be read, split, substituted or parsed as a whole, and by the tracer
// (which aborts the transaction) when a statement cannot be lowered. The
// linter reports a statement it cannot lower as a parse_error trigger
// instead and goes on with later statements; one unparseable statement
// still fails the whole script.
type ParseError struct {
	LineNumber int
	Cause      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: parse error: %v", e.LineNumber, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// UnknownVariableError is kind 2: a ${name} reference with no supplied
// value. Fatal at the script level before any rule fires.
type UnknownVariableError struct {
	Name  string
	Cause error
}

func (e *UnknownVariableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unknown variable %q: %v", e.Name, e.Cause)
	}
	return fmt.Sprintf("unknown variable %q", e.Name)
}

func (e *UnknownVariableError) Unwrap() error { return e.Cause }

// DatabaseError is kind 3: a tracer-side connection, execution, or
// permission failure. The current script rolls back; sibling scripts in
// the same invocation still proceed.
type DatabaseError struct {
	Statement string
	Cause     error
}

func (e *DatabaseError) Error() string {
	if e.Statement != "" {
		return fmt.Sprintf("database error executing %q: %v", e.Statement, e.Cause)
	}
	return fmt.Sprintf("database error: %v", e.Cause)
}

func (e *DatabaseError) Unwrap() error { return e.Cause }

// PgError extracts the underlying *pgconn.PgError from a DatabaseError's
// cause chain, if present, for callers that want SQLSTATE-level detail.
func (e *DatabaseError) PgError() *pgconn.PgError {
	var pe *pgconn.PgError
	if errors.As(e.Cause, &pe) {
		return pe
	}
	return nil
}

// InvariantError is kind 5: an internal invariant violation (a snapshot
// missing a previously observed oid, for example). It is intentionally
// left unwrapped by errors.Is chains further up the stack — a caller that
// sees one should treat it as a bug report, not a recoverable condition.
type InvariantError struct {
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("internal invariant violated: %s", e.Detail)
}
