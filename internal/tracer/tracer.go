// Package tracer drives a migration script through a live PostgreSQL
// transaction, snapshotting catalog state before and after each statement
// and diffing the two snapshots into a StatementExecution the trace rule
// set can be evaluated against.
package tracer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pglockguard/pglockguard/internal/ast"
	"github.com/pglockguard/pglockguard/internal/catalog"
	"github.com/pglockguard/pglockguard/internal/locks"
	"github.com/pglockguard/pglockguard/internal/segment"
	"github.com/pglockguard/pglockguard/internal/tracectx"
)

// ColumnChange is a column observed with different metadata across two
// snapshots.
type ColumnChange struct {
	Before, After catalog.Column
}

// ConstraintChange is a constraint observed with different metadata across
// two snapshots — typically a NOT VALID constraint being validated.
type ConstraintChange struct {
	Before, After catalog.Constraint
}

// StatementExecution is one statement's observed effects, per the Data
// Model's StatementExecution entity.
type StatementExecution struct {
	Statement                segment.Statement
	AST                      ast.Statement
	DurationMillis           int64
	LocksHeldAtStart         []catalog.Lock
	NewLocks                 []catalog.Lock
	NewColumns               []catalog.Column
	AlteredColumns           []ColumnChange
	NewConstraints           []catalog.Constraint
	AlteredConstraints       []ConstraintChange
	NewIndexes               []catalog.Index
	NewObjects               []catalog.LockableTarget
	Rewrites                 []uint32
	LockTimeoutMillisAtStart int64
	Err                      error

	// Diff is the fold input for tracectx.Context.Update, pre-built from the
	// same snapshot diff this StatementExecution was rendered from. Rule
	// evaluation (rules.Trace) must run against the context as it stood
	// before this statement; callers fold Diff in via Session.FoldContext
	// only after evaluating rules, mirroring the lint side's Lint-then-
	// Update sequencing.
	Diff tracectx.StatementDiff
}

// ConnOpener opens a fresh, unpooled connection for statements — like
// CREATE INDEX CONCURRENTLY — that PostgreSQL refuses to run inside a
// transaction block.
type ConnOpener func(ctx context.Context) (*pgx.Conn, error)

// Session drives one script through a single PostgreSQL transaction.
type Session struct {
	ID          uuid.UUID
	Name        string
	Ctx         tracectx.Context
	conn        *pgx.Conn
	tx          pgx.Tx
	reader      catalog.Reader
	trackedOIDs map[uint32]bool
	before      catalog.Snapshot
	openConn    ConnOpener
}

// New opens a transaction on conn and captures the initial snapshot of
// every user-owned relation, so the first statement's diff has a baseline
// to compare against.
func New(ctx context.Context, conn *pgx.Conn, name string, openConn ConnOpener) (*Session, error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	reader := catalog.NewReader(tx)

	objects, err := reader.LockableObjects(ctx, nil)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("list initial relations: %w", err)
	}
	tracked := make(map[uint32]bool, len(objects))
	for _, o := range objects {
		tracked[o.OID] = true
	}

	before, err := catalog.TakeSnapshot(ctx, reader, oidsOf(tracked))
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("initial snapshot: %w", err)
	}

	return &Session{
		ID:          uuid.New(),
		Name:        name,
		conn:        conn,
		tx:          tx,
		reader:      reader,
		trackedOIDs: tracked,
		before:      before,
		openConn:    openConn,
	}, nil
}

func oidsOf(m map[uint32]bool) []uint32 {
	out := make([]uint32, 0, len(m))
	for oid := range m {
		out = append(out, oid)
	}
	return out
}

// Run executes stmt, snapshots the resulting catalog state, diffs it
// against the previous snapshot, and stores the fold input in the returned
// StatementExecution's Diff; it does not update the session's trace
// context, which FoldContext does. idx is the statement's 1-based position
// in the script.
func (s *Session) Run(ctx context.Context, idx int, stmt segment.Statement, lowered ast.Statement) (StatementExecution, error) {
	if lowered.Kind == ast.KindCreateIndex && lowered.Concurrent {
		return s.runConcurrently(ctx, stmt, lowered)
	}

	lockTimeout, err := s.reader.LockTimeoutMillis(ctx)
	if err != nil {
		return StatementExecution{}, fmt.Errorf("read lock_timeout: %w", err)
	}

	start := time.Now()
	_, execErr := s.tx.Exec(ctx, stmt.SQL)
	duration := time.Since(start)
	if execErr != nil {
		return StatementExecution{
			Statement:                stmt,
			AST:                      lowered,
			Err:                      execErr,
			LockTimeoutMillisAtStart: lockTimeout,
		}, execErr
	}

	newObjects, err := s.reader.LockableObjects(ctx, oidsOf(s.trackedOIDs))
	if err != nil {
		return StatementExecution{}, fmt.Errorf("list new relations: %w", err)
	}
	for _, o := range newObjects {
		s.trackedOIDs[o.OID] = true
	}

	after, err := catalog.TakeSnapshot(ctx, s.reader, oidsOf(s.trackedOIDs))
	if err != nil {
		return StatementExecution{}, fmt.Errorf("snapshot after statement: %w", err)
	}

	exec := diffSnapshots(s.before, after, duration, lockTimeout, newObjects)
	exec.Statement = stmt
	exec.AST = lowered
	exec.Diff = tracectx.StatementDiff{
		NewLocks:       exec.NewLocks,
		NewColumns:     exec.NewColumns,
		NewConstraints: exec.NewConstraints,
		NewIndexes:     exec.NewIndexes,
		NewObjects:     exec.NewObjects,
		IsAlterTable:   lowered.Kind == ast.KindAlterTable,
		Schema:         lowered.Schema,
		Table:          lowered.Name,
		StatementIndex: idx,
	}

	s.before = after
	return exec, nil
}

// FoldContext folds exec's observed diff into the session's trace context.
// Callers must evaluate rules.Trace against exec before calling this, since
// it mutates the very state those rules read.
func (s *Session) FoldContext(exec StatementExecution) {
	s.Ctx.Update(exec.Diff)
}

// runConcurrently executes a CONCURRENTLY statement on its own short-lived
// connection outside the traced transaction, since PostgreSQL refuses to
// run it inside one. Its locks and catalog diffs are recorded as empty,
// mirroring the reference implementation: nothing it does can be captured
// by the transaction's own snapshot, and it cannot be rolled back with the
// rest of the script.
func (s *Session) runConcurrently(ctx context.Context, stmt segment.Statement, lowered ast.Statement) (StatementExecution, error) {
	if s.openConn == nil {
		return StatementExecution{}, fmt.Errorf("statement requires CONCURRENTLY execution but no connection opener was configured")
	}
	conn, err := s.openConn(ctx)
	if err != nil {
		return StatementExecution{}, fmt.Errorf("open connection for concurrent statement: %w", err)
	}
	defer conn.Close(ctx)

	start := time.Now()
	_, execErr := conn.Exec(ctx, stmt.SQL)
	duration := time.Since(start)

	exec := StatementExecution{
		Statement:      stmt,
		AST:            lowered,
		DurationMillis: duration.Milliseconds(),
		Err:            execErr,
	}
	if execErr != nil {
		return exec, execErr
	}
	return exec, nil
}

// End finalizes the session: rollback by default, commit only when
// requested.
func (s *Session) End(ctx context.Context, commit bool) error {
	if commit {
		return s.tx.Commit(ctx)
	}
	return s.tx.Rollback(ctx)
}

func diffSnapshots(before, after catalog.Snapshot, duration time.Duration, lockTimeout int64, newObjects []catalog.LockableTarget) StatementExecution {
	return StatementExecution{
		DurationMillis:           duration.Milliseconds(),
		LocksHeldAtStart:         before.Locks,
		NewLocks:                 newLocks(before.Locks, after.Locks),
		NewColumns:               newColumns(before.Columns, after.Columns),
		AlteredColumns:           alteredColumns(before.Columns, after.Columns),
		NewConstraints:           newConstraints(before.Constraints, after.Constraints),
		AlteredConstraints:       alteredConstraints(before.Constraints, after.Constraints),
		NewIndexes:               newIndexes(before.Indexes, after.Indexes),
		NewObjects:               newObjects,
		Rewrites:                 rewrittenOIDs(before.Identities, after.Identities),
		LockTimeoutMillisAtStart: lockTimeout,
	}
}

type lockKey struct {
	oid  uint32
	mode locks.Mode
}

func newLocks(before, after []catalog.Lock) []catalog.Lock {
	had := make(map[lockKey]bool, len(before))
	for _, l := range before {
		had[lockKey{l.OID, l.Mode}] = true
	}
	var out []catalog.Lock
	for _, l := range after {
		if !had[lockKey{l.OID, l.Mode}] {
			out = append(out, l)
		}
	}
	return out
}

type columnKey struct {
	schema, table, name string
}

func columnsByKey(cols []catalog.Column) map[columnKey]catalog.Column {
	m := make(map[columnKey]catalog.Column, len(cols))
	for _, c := range cols {
		m[columnKey{c.Schema, c.Table, c.Name}] = c
	}
	return m
}

func newColumns(before, after []catalog.Column) []catalog.Column {
	beforeMap := columnsByKey(before)
	var out []catalog.Column
	for _, c := range after {
		if _, ok := beforeMap[columnKey{c.Schema, c.Table, c.Name}]; !ok {
			out = append(out, c)
		}
	}
	return out
}

func alteredColumns(before, after []catalog.Column) []ColumnChange {
	beforeMap := columnsByKey(before)
	var out []ColumnChange
	for _, c := range after {
		if old, ok := beforeMap[columnKey{c.Schema, c.Table, c.Name}]; ok && old != c {
			out = append(out, ColumnChange{Before: old, After: c})
		}
	}
	return out
}

func constraintsByOID(cons []catalog.Constraint) map[uint32]catalog.Constraint {
	m := make(map[uint32]catalog.Constraint, len(cons))
	for _, c := range cons {
		m[c.OID] = c
	}
	return m
}

func newConstraints(before, after []catalog.Constraint) []catalog.Constraint {
	beforeMap := constraintsByOID(before)
	var out []catalog.Constraint
	for _, c := range after {
		if _, ok := beforeMap[c.OID]; !ok {
			out = append(out, c)
		}
	}
	return out
}

func alteredConstraints(before, after []catalog.Constraint) []ConstraintChange {
	beforeMap := constraintsByOID(before)
	var out []ConstraintChange
	for _, c := range after {
		if old, ok := beforeMap[c.OID]; ok && old != c {
			out = append(out, ConstraintChange{Before: old, After: c})
		}
	}
	return out
}

func newIndexes(before, after []catalog.Index) []catalog.Index {
	beforeSet := make(map[uint32]bool, len(before))
	for _, idx := range before {
		beforeSet[idx.OID] = true
	}
	var out []catalog.Index
	for _, idx := range after {
		if !beforeSet[idx.OID] {
			out = append(out, idx)
		}
	}
	return out
}

func rewrittenOIDs(before, after map[uint32]uint32) []uint32 {
	var out []uint32
	for oid, relfilenode := range after {
		if old, ok := before[oid]; ok && old != relfilenode {
			out = append(out, oid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
