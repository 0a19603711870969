// Package lintctx holds the mutable state a static lint pass accumulates
// while walking a script: which objects it created itself, which columns
// carry a validated NOT NULL check, whether an AccessExclusive lock is
// currently held, per-table ALTER TABLE counts, and lock_timeout status.
package lintctx

import (
	"strings"

	"github.com/pglockguard/pglockguard/internal/ast"
)

type tableKey [2]string

func key(schema, name string) tableKey {
	return tableKey{strings.ToLower(schema), strings.ToLower(name)}
}

// PendingForeignKey records a foreign key added without (yet) being known
// to be backed by a complete index, so E15 can be evaluated once the whole
// script has been seen.
type PendingForeignKey struct {
	Schema         string
	Table          string
	ConstraintName string
	Columns        []string
	StatementIndex int
}

// Context is the per-script state a lint pass folds across statements. The
// zero value is a valid, empty Context.
type Context struct {
	lockTimeout            bool
	createdObjects         map[tableKey]bool
	validatedNotNull       map[[3]string]bool // schema, table, column
	holdingAccessExclusive bool
	alterCount             map[tableKey]int
	indexedColumnSets      map[tableKey][]string // table -> comma-joined column lists, in index column order, covered by a full index
	pendingForeignKeys     []PendingForeignKey
	pendingNotNullChecks   map[[3]string]string // (schema, table, constraint name) -> column
}

func (c *Context) ensureMaps() {
	if c.createdObjects == nil {
		c.createdObjects = make(map[tableKey]bool)
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
	if c.pendingNotNullChecks == nil {
		c.pendingNotNullChecks = make(map[[3]string]string)
	}
}

// HasCreatedObject reports whether the script has already created an
// object with the given schema and name, case-insensitively.
func (c *Context) HasCreatedObject(schema, name string) bool {
	return c.createdObjects[key(schema, name)]
}

// HasLockTimeout reports whether the script has previously set
// lock_timeout to a non-zero value.
func (c *Context) HasLockTimeout() bool {
	return c.lockTimeout
}

// HoldingAccessExclusive reports whether an AccessExclusive lock has been
// taken earlier in this script and not yet released — which, inside a
// single transaction, means "for the rest of the script".
func (c *Context) HoldingAccessExclusive() bool {
	return c.holdingAccessExclusive
}

// AlterTableCount returns how many ALTER TABLE statements have targeted
// this (schema, table) so far, including the current one once Update has
// run for it.
func (c *Context) AlterTableCount(schema, table string) int {
	return c.alterCount[key(schema, table)]
}

// HasValidatedNotNull reports whether (schema, table, column) is known to
// carry a validated CHECK (col IS NOT NULL), via a prior VALIDATE
// CONSTRAINT.
func (c *Context) HasValidatedNotNull(schema, table, column string) bool {
	return c.validatedNotNull[[3]string{strings.ToLower(schema), strings.ToLower(table), strings.ToLower(column)}]
}

// HasFullIndexOn reports whether a complete, non-partial index already
// covers exactly the given ordered column list on (schema, table).
func (c *Context) HasFullIndexOn(schema, table string, columns []string) bool {
	want := strings.Join(columns, ",")
	for _, have := range c.indexedColumnSets[key(schema, table)] {
		if have == want {
			return true
		}
	}
	return false
}

// PendingForeignKeys returns the foreign keys added so far that are not
// (yet) known to be backed by a full index, for the end-of-script E15
// check.
func (c *Context) PendingForeignKeys() []PendingForeignKey {
	return c.pendingForeignKeys
}

// RecordValidatedNotNullCheck marks (schema, table, column) as validated,
// called by the rule that recognizes a VALIDATE CONSTRAINT promoting a
// CHECK (col IS NOT NULL).
func (c *Context) RecordValidatedNotNullCheck(schema, table, column string) {
	c.ensureMaps()
	c.validatedNotNull[[3]string{strings.ToLower(schema), strings.ToLower(table), strings.ToLower(column)}] = true
}

// Update folds one lowered statement into the context: records created
// objects, lock_timeout changes, AccessExclusive acquisition, per-table
// ALTER TABLE counts, index coverage, and pending foreign keys. stmtIndex
// is the statement's 1-based position in the script.
func (c *Context) Update(stmt ast.Statement, stmtIndex int) {
	c.ensureMaps()

	if stmt.Kind == ast.KindLockTimeout {
		c.lockTimeout = stmt.ParamValue != "" && stmt.ParamValue != "0"
	}

	for _, obj := range stmt.CreatedObjects() {
		c.createdObjects[key(obj[0], obj[1])] = true
	}

	switch stmt.Kind {
	case ast.KindAlterTable:
		c.alterCount[key(stmt.Schema, stmt.Name)]++
		for _, action := range stmt.Actions {
			switch action.Kind {
			case ast.ActionAddConstraint:
				if action.ConstraintKind == ast.ConstraintForeignKey {
					// FOREIGN KEY constraints carry their referencing columns in
					// FkAttrs, not Keys, so action.Columns (sourced from Keys) is
					// always empty here; action.RefColumns is the FkAttrs capture.
					c.pendingForeignKeys = append(c.pendingForeignKeys, PendingForeignKey{
						Schema:         stmt.Schema,
						Table:          stmt.Name,
						ConstraintName: action.ConstraintName,
						Columns:        action.RefColumns,
						StatementIndex: stmtIndex,
					})
				}
				if action.ConstraintKind == ast.ConstraintUnique || action.ConstraintKind == ast.ConstraintPrimaryKey {
					cols := action.Columns
					if cols == nil {
						cols = []string{action.ConstraintName}
					}
					c.indexedColumnSets[key(stmt.Schema, stmt.Name)] = append(
						c.indexedColumnSets[key(stmt.Schema, stmt.Name)], strings.Join(cols, ","))
				}
				if action.ConstraintKind == ast.ConstraintCheck && action.CheckIsNotNullColumn != "" {
					c.pendingNotNullChecks[[3]string{
						strings.ToLower(stmt.Schema), strings.ToLower(stmt.Name), strings.ToLower(action.ConstraintName),
					}] = action.CheckIsNotNullColumn
				}
			case ast.ActionValidateConstraint:
				k := [3]string{strings.ToLower(stmt.Schema), strings.ToLower(stmt.Name), strings.ToLower(action.ConstraintName)}
				if column, ok := c.pendingNotNullChecks[k]; ok {
					c.RecordValidatedNotNullCheck(stmt.Schema, stmt.Name, column)
				}
			}
		}
	case ast.KindCreateIndex:
		if len(stmt.IndexColumns) > 0 && !stmt.Partial {
			c.indexedColumnSets[key(stmt.Schema, stmt.Table)] = append(
				c.indexedColumnSets[key(stmt.Schema, stmt.Table)], strings.Join(stmt.IndexColumns, ","))
		}
	}

	if takesAccessExclusive(stmt) {
		c.holdingAccessExclusive = true
	}
}

// takesAccessExclusive reports whether stmt, in the absence of a live
// catalog, is known to take AccessExclusiveLock. Most ALTER TABLE actions
// do; VALIDATE CONSTRAINT alone takes only ShareUpdateExclusive.
func takesAccessExclusive(stmt ast.Statement) bool {
	if stmt.Kind != ast.KindAlterTable || len(stmt.Actions) == 0 {
		return false
	}
	for _, a := range stmt.Actions {
		if a.Kind != ast.ActionValidateConstraint {
			return true
		}
	}
	return false
}

// LockVisibleOutsideTx reports whether any of stmt's lock targets refer to
// an object not created earlier in this same script — i.e. a lock another
// transaction could actually be blocked by.
func (c *Context) LockVisibleOutsideTx(stmt ast.Statement) bool {
	for _, target := range stmt.LockTargets() {
		if !c.HasCreatedObject(target[0], target[1]) {
			return true
		}
	}
	return false
}
