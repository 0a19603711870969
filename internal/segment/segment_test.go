package segment

import "testing"

func TestParseSplitsMultipleStatements(t *testing.T) {
	script, err := Parse("SELECT 1; SELECT 2;", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(script.Statements) != 2 {
		t.Fatalf("got %d statements, want 2", len(script.Statements))
	}
}

func TestParseEmptyScript(t *testing.T) {
	script, err := Parse("   \n\t  ", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(script.Statements) != 0 {
		t.Fatalf("got %d statements, want 0", len(script.Statements))
	}
}

func TestParseLineNumbers(t *testing.T) {
	script, err := Parse("SELECT 1;\n\nSELECT 2;", nil)
	if err != nil {
		t.Fatal(err)
	}
	if script.Statements[0].LineNumber != 1 {
		t.Fatalf("got line %d, want 1", script.Statements[0].LineNumber)
	}
	if script.Statements[1].LineNumber != 3 {
		t.Fatalf("got line %d, want 3", script.Statements[1].LineNumber)
	}
}

func TestParseIgnoreAll(t *testing.T) {
	script, err := Parse("-- pglockguard: ignore\nSELECT 1;", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !script.Statements[0].Ignore.SkipAll {
		t.Fatalf("expected SkipAll")
	}
}

func TestParseIgnoreSeveral(t *testing.T) {
	script, err := Parse("-- pglockguard: ignore E1, E2\nSELECT 1;", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"E1", "E2"}
	got := script.Statements[0].Ignore.Skip
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseIgnoreSeveralWhitespaceSeparated(t *testing.T) {
	script, err := Parse("-- pglockguard: ignore E1 E2\nSELECT 1;", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"E1", "E2"}
	got := script.Statements[0].Ignore.Skip
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseIgnoreDirectiveIsAdditive(t *testing.T) {
	script, err := Parse("-- pglockguard: ignore E1\n-- pglockguard: ignore E2\nSELECT 1;", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"E1", "E2"}
	got := script.Statements[0].Ignore.Skip
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseNoDirective(t *testing.T) {
	script, err := Parse("SELECT 1;", nil)
	if err != nil {
		t.Fatal(err)
	}
	a := script.Statements[0].Ignore
	if a.SkipAll || len(a.Skip) != 0 {
		t.Fatalf("expected empty Action, got %+v", a)
	}
}

func TestSubstituteResolvesVariable(t *testing.T) {
	got, err := Substitute("SELECT * FROM ${table}", map[string]string{"table": "books"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "SELECT * FROM books" {
		t.Fatalf("got %q", got)
	}
}

func TestSubstituteUnknownVariable(t *testing.T) {
	_, err := Substitute("SELECT * FROM ${table}", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var uv *UnknownVariableError
	if !isUnknownVariableError(err, &uv) {
		t.Fatalf("got %v, want *UnknownVariableError", err)
	}
	if uv.Name != "table" {
		t.Fatalf("got %q", uv.Name)
	}
}

func isUnknownVariableError(err error, target **UnknownVariableError) bool {
	if uv, ok := err.(*UnknownVariableError); ok {
		*target = uv
		return true
	}
	return false
}

func TestParseDollarQuoteIsRecoverableError(t *testing.T) {
	_, err := Parse("CREATE FUNCTION f() RETURNS void AS $$ BEGIN END; $$ LANGUAGE plpgsql;", nil)
	if err == nil {
		t.Fatal("expected error")
	}
}
