package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pglockguard/pglockguard/internal/ast"
	"github.com/pglockguard/pglockguard/internal/catalog"
	"github.com/pglockguard/pglockguard/internal/locks"
	"github.com/pglockguard/pglockguard/internal/tracectx"
	"github.com/pglockguard/pglockguard/internal/tracer"
)

// traceRule is one pure (StatementExecution, *Context) -> []Trigger
// function. Like lintRule, it reads ctx as it stood strictly before the
// current statement; the tracer's Session.FoldContext folds the statement's
// observed diff in only after every rule has been evaluated.
type traceRule func(exec tracer.StatementExecution, ctx *tracectx.Context) []Trigger

// Trace evaluates every trace rule against exec and the context accumulated
// so far, returning triggers in ascending rule-ID order.
func Trace(exec tracer.StatementExecution, ctx *tracectx.Context) []Trigger {
	var all []Trigger
	for _, rule := range traceRules {
		all = append(all, rule(exec, ctx)...)
	}
	return sortTriggers(all)
}

// TraceEndOfScript evaluates the rules that can only be decided once an
// entire traced script has run (currently only E15).
func TraceEndOfScript(ctx *tracectx.Context) []Trigger {
	return sortTriggers(tracedForeignKeysWithoutIndex(ctx))
}

var traceRules = []traceRule{
	validatingConstraintWithLockTraced,
	makeColumnNotNullableWithLockTraced,
	addJSONColumnTraced,
	runningStatementWhileHoldingAccessExclusiveTraced,
	changeColumnTypeRequiresRewriteTraced,
	createIndexNonconcurrentlyTraced,
	addUniqueConstraintWithoutUsingIndexTraced,
	addExclusionConstraintTraced,
	dangerousLockWithoutTimeoutTraced,
	rewroteWhileHoldingDangerousLock,
	addSerialOrStoredGeneratedColumnTraced,
	multipleAlterTablesOnSameTargetTraced,
	creatingEnumTraced,
	addPrimaryKeyUsingIndexTraced,
}

// E1. Fires only for a constraint that arrived already VALID in the same
// statement that added it — an ALTER TABLE ... VALIDATE CONSTRAINT
// promoting an existing NOT VALID constraint shows up as AlteredConstraints,
// not NewConstraints, and takes ShareUpdateExclusive rather than
// AccessExclusive, so it correctly does not trigger this rule.
func validatingConstraintWithLockTraced(exec tracer.StatementExecution, ctx *tracectx.Context) []Trigger {
	for _, con := range exec.NewConstraints {
		if con.Kind != catalog.ConstraintCheck && con.Kind != catalog.ConstraintForeignKey {
			continue
		}
		if !con.Valid {
			continue
		}
		if ctx.HasCreatedTable(con.Schema, con.Table) {
			continue
		}
		name := ""
		if con.Name != "" {
			name = fmt.Sprintf("`%s` ", con.Name)
		}
		return []Trigger{{E1, fmt.Sprintf(
			"Statement takes AccessExclusiveLock on `%s`, blocking reads until constraint %sis validated",
			qualify(con.Schema, con.Table), name)}}
	}
	return nil
}

// E2. SetNotNull fires regardless of visibility, matching the static rule;
// a new NOT NULL column only matters when it lands on a pre-existing table.
func makeColumnNotNullableWithLockTraced(exec tracer.StatementExecution, ctx *tracectx.Context) []Trigger {
	for _, cc := range exec.AlteredColumns {
		if cc.Before.Nullable && !cc.After.Nullable && !ctx.HasValidatedNotNull(cc.After.Schema, cc.After.Table, cc.After.Name) {
			return []Trigger{{E2, fmt.Sprintf(
				"Statement takes AccessExclusiveLock on `%s` by setting `%s` to NOT NULL, blocking reads until all rows are validated",
				qualify(cc.After.Schema, cc.After.Table), cc.After.Name)}}
		}
	}
	for _, c := range exec.NewColumns {
		if !c.Nullable && !ctx.HasCreatedTable(c.Schema, c.Table) && !ctx.HasValidatedNotNull(c.Schema, c.Table, c.Name) {
			return []Trigger{{E2, fmt.Sprintf(
				"Statement adds NOT NULL column `%s` to `%s`, blocking reads until all rows are validated",
				c.Name, qualify(c.Schema, c.Table))}}
		}
	}
	return nil
}

func isJSONType(t string) bool { return strings.EqualFold(t, "json") }

// E3
func addJSONColumnTraced(exec tracer.StatementExecution, ctx *tracectx.Context) []Trigger {
	for _, c := range exec.NewColumns {
		if isJSONType(c.DataType) {
			return []Trigger{{E3, fmt.Sprintf(
				"Column `%s` in `%s` has type json, which does not support equality; use jsonb instead",
				c.Name, qualify(c.Schema, c.Table))}}
		}
	}
	for _, cc := range exec.AlteredColumns {
		if isJSONType(cc.After.DataType) {
			return []Trigger{{E3, fmt.Sprintf(
				"Column `%s` in `%s` has type json, which does not support equality; use jsonb instead",
				cc.After.Name, qualify(cc.After.Schema, cc.After.Table))}}
		}
	}
	return nil
}

// E4
func runningStatementWhileHoldingAccessExclusiveTraced(exec tracer.StatementExecution, ctx *tracectx.Context) []Trigger {
	if ctx.HoldingAccessExclusive() {
		return []Trigger{{E4, "Running more statements after taking AccessExclusiveLock"}}
	}
	return nil
}

// E5. Unlike the static rule, the tracer observes both the before and after
// type and can apply the binary-compatible whitelist directly instead of
// flagging every column type change.
func changeColumnTypeRequiresRewriteTraced(exec tracer.StatementExecution, ctx *tracectx.Context) []Trigger {
	for _, cc := range exec.AlteredColumns {
		if cc.Before.DataType == cc.After.DataType {
			continue
		}
		if IsBinaryCompatibleTypeChange(cc.Before.DataType, cc.After.DataType) {
			continue
		}
		return []Trigger{{E5, fmt.Sprintf(
			"Changed type of column `%s` to `%s` in `%s`; this requires a full table rewrite unless the new type is binary compatible with the old one",
			cc.After.Name, cc.After.DataType, qualify(cc.After.Schema, cc.After.Table))}}
	}
	return nil
}

// E6. The trace signal is the observed effect, not the statement kind: a
// new index appearing while the statement held a Share lock on its table,
// matching eugene's new_index_on_existing_table_is_nonconcurrent (a
// CONCURRENTLY build never takes Share, so it can never match here).
func createIndexNonconcurrentlyTraced(exec tracer.StatementExecution, ctx *tracectx.Context) []Trigger {
	lock := shareLock(exec.NewLocks)
	if lock == nil {
		return nil
	}
	index := newIndexObject(exec.NewObjects)
	if index == nil {
		return nil
	}
	if ctx.HasCreatedTable(lock.Schema, lock.ObjectName) {
		return nil
	}
	return []Trigger{{E6, fmt.Sprintf(
		"Statement takes ShareLock on `%s`, blocking writes while creating index `%s`",
		qualify(lock.Schema, lock.ObjectName), index.Name)}}
}

func shareLock(heldLocks []catalog.Lock) *catalog.Lock {
	for i, l := range heldLocks {
		if l.Mode == locks.Share {
			return &heldLocks[i]
		}
	}
	return nil
}

func newIndexObject(objects []catalog.LockableTarget) *catalog.LockableTarget {
	for i, o := range objects {
		if o.RelKind == 'i' {
			return &objects[i]
		}
	}
	return nil
}

// E7. UsingIndex and NOT VALID are parse-tree-only facts the catalog diff
// doesn't carry, so this rule, like its static counterpart, reads exec.AST.
func addUniqueConstraintWithoutUsingIndexTraced(exec tracer.StatementExecution, ctx *tracectx.Context) []Trigger {
	if exec.AST.Kind != ast.KindAlterTable || ctx.HasCreatedTable(exec.AST.Schema, exec.AST.Name) {
		return nil
	}
	for _, a := range exec.AST.Actions {
		if a.Kind != ast.ActionAddConstraint || a.UsingIndex {
			continue
		}
		if a.ConstraintKind != ast.ConstraintUnique && a.ConstraintKind != ast.ConstraintPrimaryKey {
			continue
		}
		return []Trigger{{E7, fmt.Sprintf(
			"New constraint `%s` creates an implicit index on `%s`, blocking writes until the index is created and validated",
			a.ConstraintName, qualify(exec.AST.Schema, exec.AST.Name))}}
	}
	return nil
}

// E8
func addExclusionConstraintTraced(exec tracer.StatementExecution, ctx *tracectx.Context) []Trigger {
	if exec.AST.Kind != ast.KindAlterTable || ctx.HasCreatedTable(exec.AST.Schema, exec.AST.Name) {
		return nil
	}
	for _, a := range exec.AST.Actions {
		if a.Kind == ast.ActionAddConstraint && a.ConstraintKind == ast.ConstraintExclusion {
			return []Trigger{{E8, fmt.Sprintf(
				"Statement takes AccessExclusiveLock on `%s`, blocking reads and writes until constraint `%s` is validated and its index is created",
				qualify(exec.AST.Schema, exec.AST.Name), a.ConstraintName)}}
		}
	}
	return nil
}

// E9. The tracer observes the real per-statement lock_timeout and the real
// locks taken, including the OID each lock targets, so visibility is
// checked per-object instead of via the static heuristic of inspecting
// lock-target names in the parse tree.
func dangerousLockWithoutTimeoutTraced(exec tracer.StatementExecution, ctx *tracectx.Context) []Trigger {
	if exec.LockTimeoutMillisAtStart > 0 {
		return nil
	}
	for _, l := range exec.NewLocks {
		if l.Mode.IsDangerous() && !ctx.HasCreatedObject(l.OID) {
			return []Trigger{{E9, fmt.Sprintf(
				"Statement takes a lock on `%s`, but does not set a lock timeout",
				qualify(l.Schema, l.ObjectName))}}
		}
	}
	return nil
}

// E10. Trace-only: a rewrite can only be observed, never inferred statically.
func rewroteWhileHoldingDangerousLock(exec tracer.StatementExecution, ctx *tracectx.Context) []Trigger {
	if len(exec.Rewrites) == 0 {
		return nil
	}
	holding := ctx.HoldingDangerousLock()
	if !holding {
		for _, l := range exec.NewLocks {
			if l.Mode.IsDangerous() {
				holding = true
				break
			}
		}
	}
	if !holding {
		return nil
	}
	target := exec.AST.Name
	if exec.AST.Kind == ast.KindCreateIndex {
		target = exec.AST.Table
	}
	return []Trigger{{E10, fmt.Sprintf(
		"Statement rewrote `%s` while holding a lock that blocks many operations",
		qualify(exec.AST.Schema, target))}}
}

// E11
func addSerialOrStoredGeneratedColumnTraced(exec tracer.StatementExecution, ctx *tracectx.Context) []Trigger {
	if exec.AST.Kind != ast.KindAlterTable {
		return nil
	}
	for _, a := range exec.AST.Actions {
		if a.Kind == ast.ActionAddColumn && (a.Serial || a.StoredGenerated) {
			return []Trigger{{E11, fmt.Sprintf(
				"Added column `%s` with a type that forces a table rewrite in `%s`",
				a.Column, qualify(exec.AST.Schema, exec.AST.Name))}}
		}
	}
	return nil
}

// W12
func multipleAlterTablesOnSameTargetTraced(exec tracer.StatementExecution, ctx *tracectx.Context) []Trigger {
	if exec.AST.Kind != ast.KindAlterTable {
		return nil
	}
	if ctx.AlterTableCount(exec.AST.Schema, exec.AST.Name) < 1 {
		return nil
	}
	return []Trigger{{W12, fmt.Sprintf(
		"Multiple ALTER TABLE statements on `%s`; combine them into one to avoid repeated table scans",
		qualify(exec.AST.Schema, exec.AST.Name))}}
}

// W13
func creatingEnumTraced(exec tracer.StatementExecution, ctx *tracectx.Context) []Trigger {
	if exec.AST.Kind != ast.KindCreateType || exec.AST.TypeKind != "Enum" {
		return nil
	}
	return []Trigger{{W13, fmt.Sprintf(
		"Created enum `%s`; consider a foreign key to a lookup table instead", exec.AST.Name)}}
}

// W14
func addPrimaryKeyUsingIndexTraced(exec tracer.StatementExecution, ctx *tracectx.Context) []Trigger {
	if exec.AST.Kind != ast.KindAlterTable {
		return nil
	}
	for _, a := range exec.AST.Actions {
		if a.Kind == ast.ActionAddPrimaryKeyUsingIndex {
			return []Trigger{{W14, fmt.Sprintf(
				"New primary key constraint on `%s` uses index `%s`; this may force its columns to NOT NULL. "+
					"Ignore with -- pglockguard: ignore %s if they already are",
				qualify(exec.AST.Schema, exec.AST.Name), a.IndexName, W14)}}
		}
	}
	return nil
}

// E15 — evaluated once per traced script, after every statement's diff has
// been folded into ctx.
func tracedForeignKeysWithoutIndex(ctx *tracectx.Context) []Trigger {
	pending := ctx.PendingForeignKeys()
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].StatementIndex < pending[j].StatementIndex
	})
	var out []Trigger
	for _, fk := range pending {
		if ctx.HasFullIndexOn(fk.Schema, fk.Table, fk.Columns) {
			continue
		}
		out = append(out, Trigger{E15, fmt.Sprintf(
			"Foreign key `%s` on `%s` (%s) has no supporting index; updates and deletes on the referenced table may scan `%s`",
			fk.ConstraintName, qualify(fk.Schema, fk.Table), strings.Join(fk.Columns, ", "), fk.Table)})
	}
	return out
}
