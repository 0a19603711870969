// Package ast lowers a parsed PostgreSQL statement into a compact,
// rule-friendly representation. Only the statement shapes the rule catalog
// cares about are distinguished; everything else collapses into Other.
package ast

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Kind tags which variant of Statement is populated.
type Kind int

const (
	KindOther Kind = iota
	KindIgnored
	KindLockTimeout
	KindCreateTable
	KindCreateTableAs
	KindCreateIndex
	KindCreateType
	KindAlterTable
)

func (k Kind) String() string {
	switch k {
	case KindIgnored:
		return "Ignored"
	case KindLockTimeout:
		return "LockTimeout"
	case KindCreateTable:
		return "CreateTable"
	case KindCreateTableAs:
		return "CreateTableAs"
	case KindCreateIndex:
		return "CreateIndex"
	case KindCreateType:
		return "CreateType"
	case KindAlterTable:
		return "AlterTable"
	default:
		return "Other"
	}
}

// ColumnDef describes one column of a CREATE TABLE.
type ColumnDef struct {
	Name            string
	TypeName        string
	NotNull         bool
	StoredGenerated bool
	Serial          bool
}

// ConstraintKind mirrors PostgreSQL's pg_constraint.contype, restricted to
// the variants the rule catalog distinguishes.
type ConstraintKind int

const (
	ConstraintUnknown ConstraintKind = iota
	ConstraintCheck
	ConstraintForeignKey
	ConstraintPrimaryKey
	ConstraintUnique
	ConstraintExclusion
)

func (k ConstraintKind) String() string {
	switch k {
	case ConstraintCheck:
		return "CHECK"
	case ConstraintForeignKey:
		return "FOREIGN KEY"
	case ConstraintPrimaryKey:
		return "PRIMARY KEY"
	case ConstraintUnique:
		return "UNIQUE"
	case ConstraintExclusion:
		return "EXCLUSION"
	default:
		return "UNKNOWN"
	}
}

// ActionKind tags which variant of AlterAction is populated.
type ActionKind int

const (
	ActionUnrecognized ActionKind = iota
	ActionAddColumn
	ActionSetNotNull
	ActionDropNotNull
	ActionAlterColumnType
	ActionAddConstraint
	ActionAddPrimaryKeyUsingIndex
	ActionValidateConstraint
	ActionDropColumn
	ActionRenameColumn
)

// AlterAction is one command inside an ALTER TABLE statement.
type AlterAction struct {
	Kind ActionKind

	Column  string // AddColumn, SetNotNull, DropNotNull, AlterColumnType, DropColumn
	NewType string // AddColumn, AlterColumnType

	NotNull         bool // AddColumn
	StoredGenerated bool // AddColumn
	Serial          bool // AddColumn

	ConstraintName string         // AddConstraint, AddPrimaryKeyUsingIndex, ValidateConstraint
	ConstraintKind ConstraintKind // AddConstraint
	NotValid       bool           // AddConstraint
	UsingIndex     bool           // AddConstraint
	IndexName      string         // AddConstraint (USING INDEX name), AddPrimaryKeyUsingIndex
	RefTable       string         // AddConstraint, kind == ForeignKey (referenced table)
	RefColumns     []string       // AddConstraint, kind == ForeignKey; the referencing table's own columns (FkAttrs), not the referenced table's
	Columns        []string       // AddConstraint, columns the constraint covers (best-effort)

	// CheckIsNotNullColumn is set when AddConstraint's kind is
	// ConstraintCheck and the check expression is exactly
	// "<column> IS NOT NULL" — the shape that lets a later VALIDATE
	// CONSTRAINT promote the column into the validated-not-null set.
	CheckIsNotNullColumn string

	RenameFrom string // RenameColumn
	RenameTo   string // RenameColumn
}

// Statement is the lowered, rule-friendly view of one parsed SQL statement.
type Statement struct {
	Kind Kind

	Schema string
	Name   string

	// CreateTable
	Columns   []ColumnDef
	Temporary bool

	// CreateIndex
	IndexName    string
	Table        string
	Concurrent   bool
	Unique       bool
	Partial      bool
	IndexColumns []string

	// CreateType
	TypeKind string // "Enum"

	// AlterTable
	Actions []AlterAction

	// SetParameter (surfaced via Kind == KindLockTimeout when Name matches;
	// otherwise folded into KindIgnored, since no other rule needs generic
	// SET tracking)
	ParamName  string
	ParamValue string
	Local      bool

	Raw string // not set by Lower; a KindOther statement carries no text of its own
}

// CreatedObjects returns the (schema, name) pairs this statement creates,
// for populating a transaction-local "created in this script" set.
func (s Statement) CreatedObjects() [][2]string {
	switch s.Kind {
	case KindCreateIndex:
		return [][2]string{{s.Schema, s.IndexName}}
	case KindCreateTable, KindCreateTableAs:
		return [][2]string{{s.Schema, s.Name}}
	default:
		return nil
	}
}

// LockTargets returns the (schema, name) pairs this statement takes a lock
// on, excluding CREATE INDEX CONCURRENTLY (whose ShareUpdateExclusive lock
// on the table blocks neither reads nor writes).
func (s Statement) LockTargets() [][2]string {
	switch s.Kind {
	case KindCreateIndex:
		if s.Concurrent {
			return nil
		}
		return [][2]string{{s.Schema, s.Table}}
	case KindAlterTable:
		return [][2]string{{s.Schema, s.Name}}
	default:
		return nil
	}
}

// Lower converts a parsed statement node into its Statement form. An error
// indicates the parse tree had an unexpected shape (e.g. an ALTER TABLE
// command with no definition node) rather than that the construct is simply
// unsupported — unsupported constructs lower to KindOther.
func Lower(node *pg_query.Node) (Statement, error) {
	if node == nil {
		return Statement{Kind: KindOther}, nil
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_VariableSetStmt:
		return lowerVariableSet(n.VariableSetStmt), nil
	case *pg_query.Node_CreateStmt:
		return lowerCreateTable(n.CreateStmt)
	case *pg_query.Node_CreateTableAsStmt:
		return lowerCreateTableAs(n.CreateTableAsStmt)
	case *pg_query.Node_IndexStmt:
		return lowerCreateIndex(n.IndexStmt)
	case *pg_query.Node_AlterTableStmt:
		return lowerAlterTable(n.AlterTableStmt)
	case *pg_query.Node_CreateEnumStmt:
		return lowerCreateEnum(n.CreateEnumStmt)
	default:
		return Statement{Kind: KindOther}, nil
	}
}

func lowerVariableSet(stmt *pg_query.VariableSetStmt) Statement {
	if strings.EqualFold(stmt.Name, "lock_timeout") {
		return Statement{
			Kind:       KindLockTimeout,
			ParamName:  stmt.Name,
			Local:      stmt.IsLocal,
			ParamValue: variableSetValue(stmt),
		}
	}
	return Statement{Kind: KindIgnored}
}

// variableSetValue best-effort extracts the literal text of a SET
// statement's single argument, e.g. "2s" from SET lock_timeout = '2s' or
// "0" from SET lock_timeout = 0.
func variableSetValue(stmt *pg_query.VariableSetStmt) string {
	if len(stmt.Args) == 0 {
		return ""
	}
	constNode := stmt.Args[0].GetAConst()
	if constNode == nil {
		return ""
	}
	if s := constNode.GetSval(); s != nil {
		return s.Sval
	}
	if i := constNode.GetIval(); i != nil {
		return fmt.Sprintf("%d", i.Ival)
	}
	if f := constNode.GetFval(); f != nil {
		return f.Fval
	}
	return ""
}

func lowerCreateTable(stmt *pg_query.CreateStmt) (Statement, error) {
	if stmt.Relation == nil {
		return Statement{}, fmt.Errorf("ast: CREATE TABLE statement has no relation")
	}
	var cols []ColumnDef
	for _, elt := range stmt.TableElts {
		colDef := elt.GetColumnDef()
		if colDef == nil {
			continue
		}
		typeName, err := colTypeAsString(colDef)
		if err != nil {
			return Statement{}, err
		}
		cols = append(cols, ColumnDef{
			Name:            colDef.Colname,
			TypeName:        typeName,
			StoredGenerated: isStoredGenerated(colDef),
		})
	}
	return Statement{
		Kind:      KindCreateTable,
		Schema:    stmt.Relation.Schemaname,
		Name:      stmt.Relation.Relname,
		Columns:   cols,
		Temporary: stmt.Relation.Relpersistence == "t",
	}, nil
}

func lowerCreateTableAs(stmt *pg_query.CreateTableAsStmt) (Statement, error) {
	if stmt.Into == nil || stmt.Into.Rel == nil {
		return Statement{}, fmt.Errorf("ast: CREATE TABLE AS statement has no relation")
	}
	return Statement{
		Kind:   KindCreateTableAs,
		Schema: stmt.Into.Rel.Schemaname,
		Name:   stmt.Into.Rel.Relname,
	}, nil
}

func lowerCreateIndex(stmt *pg_query.IndexStmt) (Statement, error) {
	if stmt.Relation == nil {
		return Statement{}, fmt.Errorf("ast: CREATE INDEX statement has no relation")
	}
	var cols []string
	for _, param := range stmt.IndexParams {
		if elem := param.GetIndexElem(); elem != nil && elem.Name != "" {
			cols = append(cols, elem.Name)
		}
	}
	return Statement{
		Kind:         KindCreateIndex,
		Schema:       stmt.Relation.Schemaname,
		IndexName:    stmt.Idxname,
		Table:        stmt.Relation.Relname,
		Concurrent:   stmt.Concurrent,
		Unique:       stmt.Unique,
		Partial:      stmt.WhereClause != nil,
		IndexColumns: cols,
	}, nil
}

func lowerCreateEnum(stmt *pg_query.CreateEnumStmt) (Statement, error) {
	var parts []string
	for _, n := range stmt.TypeName {
		str := n.GetString_()
		if str == nil {
			return Statement{}, fmt.Errorf("ast: CREATE TYPE ... AS ENUM has non-string type name part")
		}
		parts = append(parts, str.Sval)
	}
	return Statement{
		Kind:     KindCreateType,
		TypeKind: "Enum",
		Name:     strings.Join(parts, "."),
	}, nil
}

func lowerAlterTable(stmt *pg_query.AlterTableStmt) (Statement, error) {
	if stmt.Relation == nil {
		return Statement{}, fmt.Errorf("ast: ALTER TABLE statement has no relation")
	}
	actions := make([]AlterAction, 0, len(stmt.Cmds))
	for _, cmd := range stmt.Cmds {
		alterCmd := cmd.GetAlterTableCmd()
		if alterCmd == nil {
			return Statement{}, fmt.Errorf("ast: ALTER TABLE command node is not an AlterTableCmd")
		}
		action, err := lowerAlterTableCmd(alterCmd)
		if err != nil {
			return Statement{}, err
		}
		actions = append(actions, action)
	}
	return Statement{
		Kind:    KindAlterTable,
		Schema:  stmt.Relation.Schemaname,
		Name:    stmt.Relation.Relname,
		Actions: actions,
	}, nil
}

func lowerAlterTableCmd(cmd *pg_query.AlterTableCmd) (AlterAction, error) {
	switch cmd.Subtype {
	case pg_query.AlterTableType_AT_AlterColumnType:
		colDef := cmd.GetDef().GetColumnDef()
		if colDef == nil {
			return AlterAction{}, fmt.Errorf("ast: ALTER COLUMN TYPE has no column definition")
		}
		typeName, err := colTypeAsString(colDef)
		if err != nil {
			return AlterAction{}, err
		}
		return AlterAction{Kind: ActionAlterColumnType, Column: cmd.Name, NewType: typeName}, nil

	case pg_query.AlterTableType_AT_AddColumn:
		colDef := cmd.GetDef().GetColumnDef()
		if colDef == nil {
			return AlterAction{}, fmt.Errorf("ast: ADD COLUMN has no column definition")
		}
		typeName, err := colTypeAsString(colDef)
		if err != nil {
			return AlterAction{}, err
		}
		return AlterAction{
			Kind:            ActionAddColumn,
			Column:          colDef.Colname,
			NewType:         typeName,
			NotNull:         colHasNotNull(colDef),
			StoredGenerated: isStoredGenerated(colDef),
			Serial:          isSerialType(typeName),
		}, nil

	case pg_query.AlterTableType_AT_SetNotNull:
		return AlterAction{Kind: ActionSetNotNull, Column: cmd.Name}, nil

	case pg_query.AlterTableType_AT_DropNotNull:
		return AlterAction{Kind: ActionDropNotNull, Column: cmd.Name}, nil

	case pg_query.AlterTableType_AT_DropColumn:
		return AlterAction{Kind: ActionDropColumn, Column: cmd.Name}, nil

	case pg_query.AlterTableType_AT_AddConstraint:
		def := cmd.GetDef().GetConstraint()
		if def == nil {
			return AlterAction{}, fmt.Errorf("ast: ADD CONSTRAINT has no constraint definition")
		}
		kind, usingPK := constraintKindFromConstrType(def.Contype)
		if usingPK && def.Indexname != "" {
			return AlterAction{
				Kind:           ActionAddPrimaryKeyUsingIndex,
				ConstraintName: def.Conname,
				IndexName:      def.Indexname,
			}, nil
		}
		action := AlterAction{
			Kind:           ActionAddConstraint,
			ConstraintName: def.Conname,
			ConstraintKind: kind,
			NotValid:       def.SkipValidation,
			UsingIndex:     def.Indexname != "",
			IndexName:      def.Indexname,
		}
		if def.Pktable != nil {
			action.RefTable = def.Pktable.Relname
		}
		for _, col := range def.FkAttrs {
			if str := col.GetString_(); str != nil {
				action.RefColumns = append(action.RefColumns, str.Sval)
			}
		}
		for _, col := range def.Keys {
			if str := col.GetString_(); str != nil {
				action.Columns = append(action.Columns, str.Sval)
			}
		}
		if kind == ConstraintCheck {
			action.CheckIsNotNullColumn = checkIsNotNullColumn(def.RawExpr)
		}
		return action, nil

	case pg_query.AlterTableType_AT_ValidateConstraint:
		return AlterAction{Kind: ActionValidateConstraint, ConstraintName: cmd.Name}, nil

	case pg_query.AlterTableType_AT_RenameColumn:
		return AlterAction{Kind: ActionRenameColumn, RenameFrom: cmd.Name}, nil

	default:
		return AlterAction{Kind: ActionUnrecognized}, nil
	}
}

func constraintKindFromConstrType(ct pg_query.ConstrType) (ConstraintKind, bool) {
	switch ct {
	case pg_query.ConstrType_CONSTR_CHECK:
		return ConstraintCheck, false
	case pg_query.ConstrType_CONSTR_FOREIGN:
		return ConstraintForeignKey, false
	case pg_query.ConstrType_CONSTR_PRIMARY:
		return ConstraintPrimaryKey, true
	case pg_query.ConstrType_CONSTR_UNIQUE:
		return ConstraintUnique, false
	case pg_query.ConstrType_CONSTR_EXCLUSION:
		return ConstraintExclusion, false
	default:
		return ConstraintUnknown, false
	}
}

// checkIsNotNullColumn reports the column name if expr is exactly
// "<column> IS NOT NULL", and "" otherwise.
func checkIsNotNullColumn(expr *pg_query.Node) string {
	nullTest := expr.GetNullTest()
	if nullTest == nil || nullTest.Nulltesttype != pg_query.NullTestType_IS_NOT_NULL {
		return ""
	}
	colRef := nullTest.Arg.GetColumnRef()
	if colRef == nil || len(colRef.Fields) == 0 {
		return ""
	}
	last := colRef.Fields[len(colRef.Fields)-1]
	if str := last.GetString_(); str != nil {
		return str.Sval
	}
	return ""
}

func colTypeAsString(colDef *pg_query.ColumnDef) (string, error) {
	if colDef.TypeName == nil {
		return "", fmt.Errorf("ast: column definition %q has no type name", colDef.Colname)
	}
	var parts []string
	for _, n := range colDef.TypeName.Names {
		str := n.GetString_()
		if str == nil {
			return "", fmt.Errorf("ast: column definition %q has a non-string type name part", colDef.Colname)
		}
		parts = append(parts, str.Sval)
	}
	return strings.Join(parts, "."), nil
}

func colHasNotNull(colDef *pg_query.ColumnDef) bool {
	for _, c := range colDef.Constraints {
		if constr := c.GetConstraint(); constr != nil && constr.Contype == pg_query.ConstrType_CONSTR_NOTNULL {
			return true
		}
	}
	return false
}

func isStoredGenerated(colDef *pg_query.ColumnDef) bool {
	for _, c := range colDef.Constraints {
		constr := c.GetConstraint()
		if constr == nil {
			continue
		}
		if constr.GeneratedWhen == "a" && constr.Contype == pg_query.ConstrType_CONSTR_GENERATED {
			return true
		}
	}
	return false
}

// isSerialType reports whether a resolved column type name denotes one of
// PostgreSQL's pseudo-serial types. pg_query's raw parse tree preserves the
// literal type name ("serial"/"bigserial"/"smallserial") rather than
// desugaring it into int4/int8/int2, so a literal match is sufficient.
func isSerialType(typeName string) bool {
	lower := strings.ToLower(typeName)
	return lower == "serial" || lower == "bigserial" || lower == "smallserial" ||
		lower == "pg_catalog.serial" || lower == "pg_catalog.bigserial"
}
