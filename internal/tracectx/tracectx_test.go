package tracectx

import (
	"testing"

	"github.com/pglockguard/pglockguard/internal/catalog"
	"github.com/pglockguard/pglockguard/internal/locks"
)

func TestHasCreatedObjectAfterNewObject(t *testing.T) {
	var ctx Context
	if ctx.HasCreatedObject(100) {
		t.Fatal("zero value should have no created objects")
	}
	ctx.Update(StatementDiff{
		NewObjects: []catalog.LockableTarget{{Schema: "public", Name: "books", OID: 100}},
	})
	if !ctx.HasCreatedObject(100) {
		t.Fatal("expected oid 100 to be recorded as created")
	}
}

func TestHoldingDangerousLockAfterAccessExclusive(t *testing.T) {
	var ctx Context
	ctx.Update(StatementDiff{
		IsAlterTable: true,
		Schema:       "public",
		Table:        "books",
		NewLocks:     []catalog.Lock{{Schema: "public", ObjectName: "books", Mode: locks.AccessExclusive}},
	})
	if !ctx.HoldingDangerousLock() {
		t.Fatal("expected AccessExclusive to mark a dangerous lock as held")
	}
}

func TestAlterTableCountAccumulates(t *testing.T) {
	var ctx Context
	diff := StatementDiff{IsAlterTable: true, Schema: "public", Table: "authors"}
	ctx.Update(diff)
	ctx.Update(diff)
	if got := ctx.AlterTableCount("public", "authors"); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
}

func TestValidatedNotNullFromCheckConstraint(t *testing.T) {
	var ctx Context
	ctx.Update(StatementDiff{
		NewConstraints: []catalog.Constraint{
			{Schema: "public", Table: "books", Name: "title_not_null", Kind: catalog.ConstraintCheck,
				Valid: true, Definition: "CHECK ((title IS NOT NULL))"},
		},
	})
	if !ctx.HasValidatedNotNull("public", "books", "title") {
		t.Fatal("expected a valid NOT NULL check constraint to be recorded")
	}
}

func TestValidatedNotNullIgnoresUnvalidatedCheck(t *testing.T) {
	var ctx Context
	ctx.Update(StatementDiff{
		NewConstraints: []catalog.Constraint{
			{Schema: "public", Table: "books", Name: "title_not_null", Kind: catalog.ConstraintCheck,
				Valid: false, Definition: "CHECK ((title IS NOT NULL))"},
		},
	})
	if ctx.HasValidatedNotNull("public", "books", "title") {
		t.Fatal("a NOT VALID check should not be recorded as validated")
	}
}

func TestPendingForeignKeyExtractsColumns(t *testing.T) {
	var ctx Context
	ctx.Update(StatementDiff{
		NewConstraints: []catalog.Constraint{
			{Schema: "public", Table: "books", Name: "fk_author", Kind: catalog.ConstraintForeignKey,
				Definition: "FOREIGN KEY (author_id) REFERENCES authors(id)"},
		},
		StatementIndex: 1,
	})
	pending := ctx.PendingForeignKeys()
	if len(pending) != 1 || len(pending[0].Columns) != 1 || pending[0].Columns[0] != "author_id" {
		t.Fatalf("got %+v", pending)
	}
}

func TestHasFullIndexOnFromNewIndex(t *testing.T) {
	var ctx Context
	ctx.Update(StatementDiff{
		NewIndexes: []catalog.Index{{Schema: "public", Table: "books", Columns: []string{"author_id"}}},
	})
	if !ctx.HasFullIndexOn("public", "books", []string{"author_id"}) {
		t.Fatal("expected index coverage to be recorded")
	}
}
