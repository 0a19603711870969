package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pglockguard/pglockguard/internal/ast"
	"github.com/pglockguard/pglockguard/internal/lintctx"
	"github.com/pglockguard/pglockguard/internal/locks"
)

// lintRule is one pure (Statement, *Context) -> []Trigger function. ctx
// reflects state accumulated strictly before the current statement;
// callers are responsible for folding the statement into ctx only after
// all rules have fired.
type lintRule func(stmt ast.Statement, ctx *lintctx.Context) []Trigger

// Lint evaluates every lint rule against stmt and the context accumulated
// so far, returning triggers in ascending rule-ID order.
func Lint(stmt ast.Statement, ctx *lintctx.Context) []Trigger {
	var all []Trigger
	for _, rule := range lintRules {
		all = append(all, rule(stmt, ctx)...)
	}
	return sortTriggers(all)
}

// EndOfScript evaluates the rules that can only be decided once an entire
// script has been seen (currently only E15).
func EndOfScript(ctx *lintctx.Context) []Trigger {
	return sortTriggers(foreignKeysWithoutIndex(ctx))
}

var lintRules = []lintRule{
	validatingConstraintWithLock,
	makeColumnNotNullableWithLock,
	addJSONColumn,
	runningStatementWhileHoldingAccessExclusive,
	changeColumnTypeRequiresRewrite,
	createIndexNonconcurrently,
	addUniqueConstraintWithoutUsingIndex,
	addExclusionConstraint,
	dangerousLockWithoutTimeout,
	addSerialOrStoredGeneratedColumn,
	multipleAlterTablesOnSameTarget,
	creatingEnum,
	addPrimaryKeyUsingIndex,
}

func qualify(schema, name string) string {
	if schema == "" {
		schema = "public"
	}
	return fmt.Sprintf("%s.%s", schema, name)
}

func visibleOutsideTx(ctx *lintctx.Context, schema, name string) bool {
	return !ctx.HasCreatedObject(schema, name)
}

// E1
func validatingConstraintWithLock(stmt ast.Statement, ctx *lintctx.Context) []Trigger {
	if stmt.Kind != ast.KindAlterTable || !visibleOutsideTx(ctx, stmt.Schema, stmt.Name) {
		return nil
	}
	for _, a := range stmt.Actions {
		if a.Kind != ast.ActionAddConstraint || a.NotValid {
			continue
		}
		if a.ConstraintKind != ast.ConstraintCheck && a.ConstraintKind != ast.ConstraintForeignKey {
			continue
		}
		name := ""
		if a.ConstraintName != "" {
			name = fmt.Sprintf("`%s` ", a.ConstraintName)
		}
		return []Trigger{{E1, fmt.Sprintf(
			"Statement takes AccessExclusiveLock on `%s`, blocking reads until constraint %sis validated",
			qualify(stmt.Schema, stmt.Name), name)}}
	}
	return nil
}

// E2. SetNotNull fires regardless of visibility — it takes
// AccessExclusiveLock and validates every row whether or not the table is
// script-local. AddColumn{not_null: true} only matters on a pre-existing
// table: a brand new table has no rows to validate.
func makeColumnNotNullableWithLock(stmt ast.Statement, ctx *lintctx.Context) []Trigger {
	if stmt.Kind != ast.KindAlterTable {
		return nil
	}
	for _, a := range stmt.Actions {
		switch a.Kind {
		case ast.ActionSetNotNull:
			if !ctx.HasValidatedNotNull(stmt.Schema, stmt.Name, a.Column) {
				return []Trigger{{E2, fmt.Sprintf(
					"Statement takes AccessExclusiveLock on `%s` by setting `%s` to NOT NULL, blocking reads until all rows are validated",
					qualify(stmt.Schema, stmt.Name), a.Column)}}
			}
		case ast.ActionAddColumn:
			if a.NotNull && visibleOutsideTx(ctx, stmt.Schema, stmt.Name) &&
				!ctx.HasValidatedNotNull(stmt.Schema, stmt.Name, a.Column) {
				return []Trigger{{E2, fmt.Sprintf(
					"Statement adds NOT NULL column `%s` to `%s`, blocking reads until all rows are validated",
					a.Column, qualify(stmt.Schema, stmt.Name))}}
			}
		}
	}
	return nil
}

// E3
func addJSONColumn(stmt ast.Statement, ctx *lintctx.Context) []Trigger {
	isJSON := func(typeName string) bool { return strings.EqualFold(typeName, "json") }
	switch stmt.Kind {
	case ast.KindAlterTable:
		for _, a := range stmt.Actions {
			if (a.Kind == ast.ActionAddColumn || a.Kind == ast.ActionAlterColumnType) && isJSON(a.NewType) {
				return []Trigger{{E3, fmt.Sprintf(
					"Column `%s` in `%s` has type json, which does not support equality; use jsonb instead",
					a.Column, qualify(stmt.Schema, stmt.Name))}}
			}
		}
	case ast.KindCreateTable:
		for _, c := range stmt.Columns {
			if isJSON(c.TypeName) {
				return []Trigger{{E3, fmt.Sprintf(
					"Column `%s` created with type json, which does not support equality; use jsonb instead",
					c.Name)}}
			}
		}
	}
	return nil
}

// E4
func runningStatementWhileHoldingAccessExclusive(stmt ast.Statement, ctx *lintctx.Context) []Trigger {
	if ctx.HoldingAccessExclusive() {
		return []Trigger{{E4, "Running more statements after taking AccessExclusiveLock"}}
	}
	return nil
}

// E5
//
// The static lowering has no view of the column's prior type (that lives
// in the catalog, not the parse tree), so the linter cannot apply the
// binary-compatible whitelist itself — it always flags a column type
// change, whether or not the table was created earlier in the script,
// erring toward over-reporting. The
// tracer applies the actual whitelist (see trace.go) because it observes
// both the before and after type.
func changeColumnTypeRequiresRewrite(stmt ast.Statement, ctx *lintctx.Context) []Trigger {
	if stmt.Kind != ast.KindAlterTable {
		return nil
	}
	for _, a := range stmt.Actions {
		if a.Kind != ast.ActionAlterColumnType {
			continue
		}
		return []Trigger{{E5, fmt.Sprintf(
			"Changed type of column `%s` to `%s` in `%s`; this requires a full table rewrite unless the new type is binary compatible with the old one",
			a.Column, a.NewType, qualify(stmt.Schema, stmt.Name))}}
	}
	return nil
}

// IsBinaryCompatibleTypeChange reports whether changing a column from
// oldType to newType is known not to require a table rewrite. Shared with
// the tracer, which is the only analyzer with enough information (the
// catalog's prior type) to apply it.
func IsBinaryCompatibleTypeChange(oldType, newType string) bool {
	oldType, newType = strings.ToLower(oldType), strings.ToLower(newType)
	if oldType == newType {
		return true
	}
	if newType == "text" && strings.HasPrefix(oldType, "varchar") {
		return true
	}
	if strings.HasPrefix(oldType, "varchar") && newType == "varchar" {
		return true
	}
	if oldType == "text" && newType == "varchar" {
		return true
	}
	return false
}

// E6
func createIndexNonconcurrently(stmt ast.Statement, ctx *lintctx.Context) []Trigger {
	if stmt.Kind != ast.KindCreateIndex || stmt.Concurrent {
		return nil
	}
	if !visibleOutsideTx(ctx, stmt.Schema, stmt.Table) {
		return nil
	}
	return []Trigger{{E6, fmt.Sprintf(
		"Statement takes ShareLock on `%s`, blocking writes while creating index `%s`",
		qualify(stmt.Schema, stmt.Table), stmt.IndexName)}}
}

// E7
func addUniqueConstraintWithoutUsingIndex(stmt ast.Statement, ctx *lintctx.Context) []Trigger {
	if stmt.Kind != ast.KindAlterTable || !visibleOutsideTx(ctx, stmt.Schema, stmt.Name) {
		return nil
	}
	for _, a := range stmt.Actions {
		if a.Kind != ast.ActionAddConstraint || a.UsingIndex {
			continue
		}
		if a.ConstraintKind != ast.ConstraintUnique && a.ConstraintKind != ast.ConstraintPrimaryKey {
			continue
		}
		return []Trigger{{E7, fmt.Sprintf(
			"New constraint `%s` creates an implicit index on `%s`, blocking writes until the index is created and validated",
			a.ConstraintName, qualify(stmt.Schema, stmt.Name))}}
	}
	return nil
}

// E8
func addExclusionConstraint(stmt ast.Statement, ctx *lintctx.Context) []Trigger {
	if stmt.Kind != ast.KindAlterTable || !visibleOutsideTx(ctx, stmt.Schema, stmt.Name) {
		return nil
	}
	for _, a := range stmt.Actions {
		if a.Kind == ast.ActionAddConstraint && a.ConstraintKind == ast.ConstraintExclusion {
			return []Trigger{{E8, fmt.Sprintf(
				"Statement takes AccessExclusiveLock on `%s`, blocking reads and writes until constraint `%s` is validated and its index is created",
				qualify(stmt.Schema, stmt.Name), a.ConstraintName)}}
		}
	}
	return nil
}

// E9
func locksTakenBy(stmt ast.Statement) []locks.Mode {
	switch stmt.Kind {
	case ast.KindAlterTable:
		strongest := locks.AccessShare
		raise := func(m locks.Mode) {
			if m > strongest {
				strongest = m
			}
		}
		if len(stmt.Actions) == 0 {
			return []locks.Mode{locks.AccessShare}
		}
		for _, a := range stmt.Actions {
			switch {
			case a.Kind == ast.ActionValidateConstraint:
				raise(locks.ShareUpdateExclusive)
			case a.Kind == ast.ActionAddConstraint && a.NotValid && a.ConstraintKind == ast.ConstraintCheck:
				// A NOT VALID CHECK constraint adds a catalog row without
				// scanning existing data, so it only needs to serialize
				// against other DDL.
				raise(locks.ShareUpdateExclusive)
			case a.Kind == ast.ActionAddConstraint && a.NotValid && a.ConstraintKind == ast.ConstraintForeignKey:
				// A NOT VALID foreign key still installs enforcement
				// triggers on both tables, which blocks concurrent writes.
				raise(locks.ShareRowExclusive)
			default:
				raise(locks.AccessExclusive)
			}
		}
		return []locks.Mode{strongest}
	case ast.KindCreateIndex:
		if stmt.Concurrent {
			return []locks.Mode{locks.ShareUpdateExclusive}
		}
		return []locks.Mode{locks.Share}
	default:
		return []locks.Mode{locks.AccessShare}
	}
}

func dangerousLockWithoutTimeout(stmt ast.Statement, ctx *lintctx.Context) []Trigger {
	if ctx.HasLockTimeout() {
		return nil
	}
	if !ctx.LockVisibleOutsideTx(stmt) {
		return nil
	}
	for _, mode := range locksTakenBy(stmt) {
		if mode.IsDangerous() {
			target := stmt.Name
			if stmt.Kind == ast.KindCreateIndex {
				target = stmt.Table
			}
			return []Trigger{{E9, fmt.Sprintf(
				"Statement takes a lock on `%s`, but does not set a lock timeout",
				qualify(stmt.Schema, target))}}
		}
	}
	return nil
}

// E11
func addSerialOrStoredGeneratedColumn(stmt ast.Statement, ctx *lintctx.Context) []Trigger {
	if stmt.Kind != ast.KindAlterTable {
		return nil
	}
	for _, a := range stmt.Actions {
		if a.Kind == ast.ActionAddColumn && (a.Serial || a.StoredGenerated) {
			return []Trigger{{E11, fmt.Sprintf(
				"Added column `%s` with a type that forces a table rewrite in `%s`",
				a.Column, qualify(stmt.Schema, stmt.Name))}}
		}
	}
	return nil
}

// W12
func multipleAlterTablesOnSameTarget(stmt ast.Statement, ctx *lintctx.Context) []Trigger {
	if stmt.Kind != ast.KindAlterTable {
		return nil
	}
	if ctx.AlterTableCount(stmt.Schema, stmt.Name) < 1 {
		return nil
	}
	return []Trigger{{W12, fmt.Sprintf(
		"Multiple ALTER TABLE statements on `%s`; combine them into one to avoid repeated table scans",
		qualify(stmt.Schema, stmt.Name))}}
}

// W13
func creatingEnum(stmt ast.Statement, ctx *lintctx.Context) []Trigger {
	if stmt.Kind != ast.KindCreateType || stmt.TypeKind != "Enum" {
		return nil
	}
	return []Trigger{{W13, fmt.Sprintf(
		"Created enum `%s`; consider a foreign key to a lookup table instead", stmt.Name)}}
}

// W14
func addPrimaryKeyUsingIndex(stmt ast.Statement, ctx *lintctx.Context) []Trigger {
	if stmt.Kind != ast.KindAlterTable {
		return nil
	}
	for _, a := range stmt.Actions {
		if a.Kind == ast.ActionAddPrimaryKeyUsingIndex {
			return []Trigger{{W14, fmt.Sprintf(
				"New primary key constraint on `%s` uses index `%s`; this may force its columns to NOT NULL. "+
					"Ignore with -- pglockguard: ignore %s if they already are",
				qualify(stmt.Schema, stmt.Name), a.IndexName, W14)}}
		}
	}
	return nil
}

// E15 — evaluated once per script, after every statement has been folded
// into ctx.
func foreignKeysWithoutIndex(ctx *lintctx.Context) []Trigger {
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
