package errs

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestParseErrorUnwraps(t *testing.T) {
	cause := errors.New("unexpected token")
	err := &ParseError{LineNumber: 3, Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should find the wrapped cause")
	}
}

func TestUnknownVariableErrorMessage(t *testing.T) {
	err := &UnknownVariableError{Name: "schema"}
	if err.Error() != `unknown variable "schema"` {
		t.Errorf("got %q", err.Error())
	}
}

func TestDatabaseErrorExtractsPgError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "55P03", Message: "lock not available"}
	err := &DatabaseError{Statement: "ALTER TABLE t ADD COLUMN x int", Cause: pgErr}
	got := err.PgError()
	if got == nil || got.Code != "55P03" {
		t.Fatalf("got %+v", got)
	}
	if !errors.Is(err, pgErr) {
		t.Fatal("errors.Is should find the wrapped pgconn.PgError")
	}
}

func TestDatabaseErrorPgErrorNilWhenNotAPgError(t *testing.T) {
	err := &DatabaseError{Cause: errors.New("connection refused")}
	if err.PgError() != nil {
		t.Fatal("expected nil PgError for a non-pgconn cause")
	}
}

func TestInvariantErrorIsNotUnwrapped(t *testing.T) {
	err := &InvariantError{Detail: "oid 12345 missing from after-snapshot"}
	if errors.Unwrap(err) != nil {
		t.Fatal("InvariantError must not implement Unwrap")
	}
}
