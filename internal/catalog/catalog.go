// Package catalog captures PostgreSQL system-catalog state — locks,
// columns, constraints, indexes, and on-disk relation identities — as
// Snapshot values the tracer can diff across a statement's execution.
package catalog

import (
	"context"
	"fmt"

	"github.com/pglockguard/pglockguard/internal/locks"
)

// Lock is one row of pg_locks held by the current backend's transaction,
// joined back to the relation it targets.
type Lock struct {
	Schema     string
	ObjectName string
	RelKind    byte
	OID        uint32
	Mode       locks.Mode
}

// Column describes one non-system column of a tracked relation.
type Column struct {
	Schema   string
	Table    string
	Name     string
	DataType string
	Nullable bool
}

// ConstraintKind mirrors pg_constraint.contype.
type ConstraintKind int

const (
	ConstraintUnknown ConstraintKind = iota
	ConstraintCheck
	ConstraintForeignKey
	ConstraintUnique
	ConstraintPrimaryKey
	ConstraintExclusion
)

// ConstraintKindFromChar maps a pg_constraint.contype byte to a ConstraintKind.
func ConstraintKindFromChar(c byte) ConstraintKind {
	switch c {
	case 'c':
		return ConstraintCheck
	case 'f':
		return ConstraintForeignKey
	case 'u':
		return ConstraintUnique
	case 'p':
		return ConstraintPrimaryKey
	case 'x':
		return ConstraintExclusion
	default:
		return ConstraintUnknown
	}
}

// Constraint is one row of pg_constraint.
type Constraint struct {
	OID         uint32
	Schema      string
	Table       string
	Name        string
	Kind        ConstraintKind
	Valid       bool
	Definition  string
	TargetOID   uint32
	FKTargetOID uint32 // zero when the constraint has no foreign target
}

// Index is one row of pg_index, with its indexed column names resolved.
type Index struct {
	OID     uint32
	Schema  string
	Name    string
	Table   string
	Unique  bool
	Valid   bool
	Columns []string
}

// LockableTarget is a user-owned relation the tracer can hold a lock on:
// a table, index, sequence, or materialized view.
type LockableTarget struct {
	Schema  string
	Name    string
	RelKind byte
	OID     uint32
}

// Snapshot is the full catalog state captured at one instant.
type Snapshot struct {
	Locks       []Lock
	Columns     []Column
	Constraints []Constraint
	Indexes     []Index
	Identities  map[uint32]uint32 // relation oid -> relfilenode
}

// Reader is the catalog-query surface the tracer needs. pgxReader (in
// pgx.go) implements it against a live transaction; FakeReader (in
// fake.go) implements it in memory for rule tests that must not require a
// database.
type Reader interface {
	Locks(ctx context.Context) ([]Lock, error)
	Columns(ctx context.Context, oids []uint32) ([]Column, error)
	Constraints(ctx context.Context, oids []uint32) ([]Constraint, error)
	Indexes(ctx context.Context, oids []uint32) ([]Index, error)
	Relfilenodes(ctx context.Context, oids []uint32) (map[uint32]uint32, error)
	LockTimeoutMillis(ctx context.Context) (int64, error)
	ResolveRelation(ctx context.Context, schema, name string) (oid uint32, relkind byte, found bool, err error)
	LockableObjects(ctx context.Context, skip []uint32) ([]LockableTarget, error)
}

// TakeSnapshot runs every catalog query against oids and assembles the
// result into one Snapshot.
func TakeSnapshot(ctx context.Context, r Reader, oids []uint32) (Snapshot, error) {
	locksHeld, err := r.Locks(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot locks: %w", err)
	}
	columns, err := r.Columns(ctx, oids)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot columns: %w", err)
	}
	constraints, err := r.Constraints(ctx, oids)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot constraints: %w", err)
	}
	indexes, err := r.Indexes(ctx, oids)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot indexes: %w", err)
	}
	identities, err := r.Relfilenodes(ctx, oids)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot relfilenodes: %w", err)
	}
	return Snapshot{
		Locks:       locksHeld,
		Columns:     columns,
		Constraints: constraints,
		Indexes:     indexes,
		Identities:  identities,
	}, nil
}
