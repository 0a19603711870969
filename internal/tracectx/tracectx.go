// Package tracectx holds the mutable state a trace pass accumulates while
// replaying a script against a live connection: which objects it created
// itself, which columns carry a validated NOT NULL check, whether a
// dangerous lock is currently held, per-table ALTER TABLE counts, and
// pending foreign keys awaiting a supporting index — the trace-side
// counterpart of internal/lintctx, fed by observed catalog diffs instead of
// static AST lowering.
package tracectx

import (
	"regexp"
	"strings"

	"github.com/pglockguard/pglockguard/internal/catalog"
	"github.com/pglockguard/pglockguard/internal/locks"
)

type tableKey [2]string

func key(schema, table string) tableKey {
	return tableKey{strings.ToLower(schema), strings.ToLower(table)}
}

// PendingForeignKey records a foreign key observed without (yet) being
// known to be backed by a complete index, for the end-of-script E15 check.
type PendingForeignKey struct {
	Schema         string
	Table          string
	ConstraintName string
	Columns        []string
	StatementIndex int
}

// StatementDiff is the slice of one statement's observed catalog effects
// tracectx needs in order to fold state forward. The tracer builds one of
// these per statement from its Snapshot diff.
type StatementDiff struct {
	NewLocks       []catalog.Lock
	NewColumns     []catalog.Column
	NewConstraints []catalog.Constraint
	NewIndexes     []catalog.Index
	NewObjects     []catalog.LockableTarget
	IsAlterTable   bool
	Schema, Table  string
	StatementIndex int
}

// Context is the per-script state a trace pass folds across statements.
// The zero value is a valid, empty Context.
type Context struct {
	createdObjects         map[uint32]bool
	createdTables          map[tableKey]bool
	validatedNotNull       map[[3]string]bool
	holdingDangerous       bool
	holdingAccessExclusive bool
	alterCount             map[tableKey]int
	indexedColumnSets      map[tableKey][]string
	pendingForeignKeys     []PendingForeignKey
}

func (c *Context) ensureMaps() {
	if c.createdObjects == nil {
		c.createdObjects = make(map[uint32]bool)
	}
	if c.createdTables == nil {
		c.createdTables = make(map[tableKey]bool)
	}
	if c.validatedNotNull == nil {
		c.validatedNotNull = make(map[[3]string]bool)
	}
	if c.alterCount == nil {
		c.alterCount = make(map[tableKey]int)
	}
	if c.indexedColumnSets == nil {
		c.indexedColumnSets = make(map[tableKey][]string)
	}
}

// HasCreatedObject reports whether oid was created earlier in this script.
func (c *Context) HasCreatedObject(oid uint32) bool {
	return c.createdObjects[oid]
}

// HoldingDangerousLock reports whether a dangerous lock has been observed
// earlier in the script and, within one transaction, is therefore still
// held.
func (c *Context) HoldingDangerousLock() bool {
	return c.holdingDangerous
}

// HoldingAccessExclusive reports whether an AccessExclusive lock has been
// observed earlier in the script and, within one transaction, is therefore
// still held.
func (c *Context) HoldingAccessExclusive() bool {
	return c.holdingAccessExclusive
}

// HasCreatedTable reports whether a regular table named (schema, table) was
// created earlier in this script.
func (c *Context) HasCreatedTable(schema, table string) bool {
	return c.createdTables[key(schema, table)]
}

// AlterTableCount returns how many ALTER TABLE statements have targeted
// (schema, table) so far, including the current one once Update has run.
func (c *Context) AlterTableCount(schema, table string) int {
	return c.alterCount[key(schema, table)]
}

// HasValidatedNotNull reports whether (schema, table, column) is known to
// carry a validated CHECK (col IS NOT NULL).
func (c *Context) HasValidatedNotNull(schema, table, column string) bool {
	return c.validatedNotNull[[3]string{strings.ToLower(schema), strings.ToLower(table), strings.ToLower(column)}]
}

// HasFullIndexOn reports whether an index observed as new earlier in this
// script covers exactly the given ordered column list on (schema, table).
// Neither the index's validity nor any partial-index predicate is checked.
func (c *Context) HasFullIndexOn(schema, table string, columns []string) bool {
	want := strings.Join(columns, ",")
	for _, have := range c.indexedColumnSets[key(schema, table)] {
		if have == want {
			return true
		}
	}
	return false
}

// PendingForeignKeys returns the foreign keys observed so far that are not
// (yet) known to be backed by a full index.
func (c *Context) PendingForeignKeys() []PendingForeignKey {
	return c.pendingForeignKeys
}

var notNullCheckPattern = regexp.MustCompile(`(?i)^CHECK\s*\(+\s*([a-zA-Z_][a-zA-Z0-9_]*)\s+IS\s+NOT\s+NULL\s*\)+$`)

var foreignKeyColumnsPattern = regexp.MustCompile(`(?i)FOREIGN KEY\s*\(([^)]+)\)`)

// foreignKeyColumns extracts the referencing column list from a
// pg_get_constraintdef definition of the form "FOREIGN KEY (a, b)
// REFERENCES ...".
func foreignKeyColumns(definition string) []string {
	m := foreignKeyColumnsPattern.FindStringSubmatch(definition)
	if m == nil {
		return nil
	}
	parts := strings.Split(m[1], ",")
	columns := make([]string, 0, len(parts))
	for _, p := range parts {
		columns = append(columns, strings.TrimSpace(p))
	}
	return columns
}

// notNullCheckColumn extracts the column name from a pg_get_constraintdef
// definition of the form "CHECK (col IS NOT NULL)", or "" if it isn't one.
func notNullCheckColumn(definition string) string {
	m := notNullCheckPattern.FindStringSubmatch(strings.TrimSpace(definition))
	if m == nil {
		return ""
	}
	return m[1]
}

// Update folds one statement's observed catalog diff into the context.
func (c *Context) Update(d StatementDiff) {
	c.ensureMaps()

	for _, obj := range d.NewObjects {
		c.createdObjects[obj.OID] = true
		if obj.RelKind == 'r' {
			c.createdTables[key(obj.Schema, obj.Name)] = true
		}
	}

	if d.IsAlterTable {
		c.alterCount[key(d.Schema, d.Table)]++
	}

	for _, con := range d.NewConstraints {
		if con.Kind == catalog.ConstraintUnique || con.Kind == catalog.ConstraintPrimaryKey {
			// Without the indexed column list in hand here, fall back to
			// the index diff below, which carries it directly.
			continue
		}
		if con.Kind == catalog.ConstraintCheck && con.Valid {
			if column := notNullCheckColumn(con.Definition); column != "" {
				c.validatedNotNull[[3]string{strings.ToLower(con.Schema), strings.ToLower(con.Table), strings.ToLower(column)}] = true
			}
		}
		if con.Kind == catalog.ConstraintForeignKey {
			c.pendingForeignKeys = append(c.pendingForeignKeys, PendingForeignKey{
				Schema:         con.Schema,
				Table:          con.Table,
				ConstraintName: con.Name,
				Columns:        foreignKeyColumns(con.Definition),
				StatementIndex: d.StatementIndex,
			})
		}
	}

	for _, idx := range d.NewIndexes {
		if len(idx.Columns) == 0 {
			continue
		}
		c.indexedColumnSets[key(idx.Schema, idx.Table)] = append(
			c.indexedColumnSets[key(idx.Schema, idx.Table)], strings.Join(idx.Columns, ","))
	}

	for _, l := range d.NewLocks {
		if l.Mode.IsDangerous() {
			c.holdingDangerous = true
		}
		if l.Mode == locks.AccessExclusive {
			c.holdingAccessExclusive = true
		}
	}
}

func anyModeFrom(ls []catalog.Lock, mode locks.Mode) bool {
	for _, l := range ls {
		if l.Mode == mode {
			return true
		}
	}
	return false
}
