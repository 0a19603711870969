package rules

import (
	"sort"
	"testing"

	"github.com/pglockguard/pglockguard/internal/ast"
	"github.com/pglockguard/pglockguard/internal/lintctx"
	"github.com/pglockguard/pglockguard/internal/segment"
)

// runScript lints every statement of sql in order and returns the rule IDs
// triggered per 1-based statement index; end-of-script triggers are
// attached to the last statement.
func runScript(t *testing.T, sql string) map[int][]string {
	t.Helper()
	script, err := segment.Parse(sql, nil)
	if err != nil {
		t.Fatalf("segment.Parse: %v", err)
	}
	var ctx lintctx.Context
	byStatement := make(map[int][]string)
	for i, stmt := range script.Statements {
		lowered, err := ast.Lower(stmt.AST.Stmts[0].Stmt)
		if err != nil {
			t.Fatalf("statement %d: ast.Lower: %v", i+1, err)
		}
		triggers := Lint(lowered, &ctx)
		for _, tr := range triggers {
			byStatement[i+1] = append(byStatement[i+1], tr.RuleID)
		}
		ctx.Update(lowered, i+1)
	}
	for _, end := range EndOfScript(&ctx) {
		byStatement[len(script.Statements)] = append(byStatement[len(script.Statements)], end.RuleID)
	}
	return byStatement
}

func assertTriggers(t *testing.T, got map[int][]string, stmtIndex int, want ...string) {
	t.Helper()
	gotIDs := append([]string{}, got[stmtIndex]...)
	sort.Strings(gotIDs)
	wantIDs := append([]string{}, want...)
	sort.Strings(wantIDs)
	if len(gotIDs) != len(wantIDs) {
		t.Fatalf("statement %d: got %v, want %v", stmtIndex, gotIDs, wantIDs)
	}
	for i := range gotIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Fatalf("statement %d: got %v, want %v", stmtIndex, gotIDs, wantIDs)
		}
	}
}

func TestScenarioSerialColumnAfterCreateTable(t *testing.T) {
	got := runScript(t, "CREATE TABLE prices (price int NOT NULL); ALTER TABLE prices ADD COLUMN id serial;")
	assertTriggers(t, got, 1)
	assertTriggers(t, got, 2, E11)
}

func TestScenarioNewConstraintValidatedWithLock(t *testing.T) {
	got := runScript(t, "ALTER TABLE authors ADD CONSTRAINT name_not_null CHECK (name IS NOT NULL);")
	assertTriggers(t, got, 1, E1, E9)
}

func TestScenarioLockTimeoutThenNotValidConstraint(t *testing.T) {
	got := runScript(t, "SET LOCAL lock_timeout = '2s'; ALTER TABLE authors ADD CONSTRAINT name_not_null CHECK (name IS NOT NULL) NOT VALID;")
	assertTriggers(t, got, 1)
	assertTriggers(t, got, 2)
}

func TestScenarioValidateConstraintWhileHoldingAccessExclusive(t *testing.T) {
	got := runScript(t, "ALTER TABLE books ADD CONSTRAINT c CHECK (title IS NOT NULL) NOT VALID; ALTER TABLE books VALIDATE CONSTRAINT c;")
	assertTriggers(t, got, 1)
	assertTriggers(t, got, 2, E4)
}

func TestScenarioCreatingEnumType(t *testing.T) {
	got := runScript(t, "CREATE TYPE document_type AS ENUM ('a','b'); CREATE TABLE document (type document_type);")
	assertTriggers(t, got, 1, W13)
	assertTriggers(t, got, 2)
}

func TestScenarioTwoSetNotNullsOneTable(t *testing.T) {
	got := runScript(t, "SET LOCAL lock_timeout='2s'; ALTER TABLE authors ALTER COLUMN name SET NOT NULL; ALTER TABLE authors ALTER COLUMN email SET NOT NULL;")
	assertTriggers(t, got, 1)
	assertTriggers(t, got, 2, E2)
	assertTriggers(t, got, 3, E2, E4, W12)
}

func TestScenarioEmptyScript(t *testing.T) {
	got := runScript(t, "")
	if len(got) != 0 {
		t.Fatalf("got %v, want no triggers", got)
	}
}

func TestScenarioOnlySetStatements(t *testing.T) {
	got := runScript(t, "SET lock_timeout = '2s'; SET statement_timeout = '5s';")
	if len(got) != 0 {
		t.Fatalf("got %v, want no triggers", got)
	}
}

func TestJSONColumnOnCreateTable(t *testing.T) {
	got := runScript(t, "CREATE TABLE events (payload json);")
	assertTriggers(t, got, 1, E3)
}

func TestJSONColumnOnAddColumn(t *testing.T) {
	got := runScript(t, "ALTER TABLE events ADD COLUMN payload json;")
	assertTriggers(t, got, 1, E3, E9)
}

func TestNonConcurrentIndexOnExistingTable(t *testing.T) {
	got := runScript(t, "CREATE INDEX books_title_idx ON books (title);")
	assertTriggers(t, got, 1, E6, E9)
}

func TestConcurrentIndexNoTrigger(t *testing.T) {
	got := runScript(t, "CREATE INDEX CONCURRENTLY books_title_idx ON books (title);")
	assertTriggers(t, got, 1)
}

func TestIndexOnTableCreatedInSameScript(t *testing.T) {
	got := runScript(t, "CREATE TABLE books (id int); CREATE INDEX books_id_idx ON books (id);")
	assertTriggers(t, got, 1)
	assertTriggers(t, got, 2)
}

func TestAddUniqueConstraintWithoutUsingIndex(t *testing.T) {
	got := runScript(t, "ALTER TABLE books ADD CONSTRAINT books_isbn_key UNIQUE (isbn);")
	assertTriggers(t, got, 1, E7, E9)
}

func TestAddUniqueConstraintUsingIndexNoE7(t *testing.T) {
	got := runScript(t, "ALTER TABLE books ADD CONSTRAINT books_isbn_key UNIQUE USING INDEX books_isbn_idx;")
	assertTriggers(t, got, 1, E9)
}

func TestAddExclusionConstraint(t *testing.T) {
	got := runScript(t, "ALTER TABLE reservations ADD CONSTRAINT no_overlap EXCLUDE USING gist (room WITH =, during WITH &&);")
	assertTriggers(t, got, 1, E8, E9)
}

func TestAddPrimaryKeyUsingIndexWarns(t *testing.T) {
	got := runScript(t, "ALTER TABLE books ADD CONSTRAINT books_pkey PRIMARY KEY USING INDEX books_pkey_idx;")
	assertTriggers(t, got, 1, W14, E9)
}

func TestForeignKeyWithoutSupportingIndex(t *testing.T) {
	got := runScript(t, "ALTER TABLE books ADD CONSTRAINT fk_author FOREIGN KEY (author_id) REFERENCES authors (id);")
	assertTriggers(t, got, 1, E1, E9, E15)
}

func TestForeignKeyWithSupportingIndexNoE15(t *testing.T) {
	got := runScript(t, "CREATE INDEX CONCURRENTLY books_author_idx ON books (author_id); ALTER TABLE books ADD CONSTRAINT fk_author FOREIGN KEY (author_id) REFERENCES authors (id) NOT VALID;")
	assertTriggers(t, got, 1)
	assertTriggers(t, got, 2, E9)
}
