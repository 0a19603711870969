package catalog

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pglockguard/pglockguard/internal/locks"
)

func TestTakeSnapshotAssemblesAllQueries(t *testing.T) {
	reader := NewFakeReader()
	reader.LockRows = []Lock{
		{Schema: "public", ObjectName: "books", RelKind: 'r', OID: 100, Mode: locks.AccessExclusive},
	}
	reader.ColumnRows = []Column{
		{Schema: "public", Table: "books", Name: "title", DataType: "text", Nullable: true},
	}
	reader.ConstraintRows = []Constraint{
		{OID: 200, Schema: "public", Table: "books", Name: "books_pkey", Kind: ConstraintPrimaryKey, Valid: true, TargetOID: 100},
	}
	reader.IndexRows = []Index{
		{OID: 300, Schema: "public", Name: "books_pkey", Table: "books", Unique: true, Valid: true, Columns: []string{"id"}},
	}
	reader.RelfilenodeRows = map[uint32]uint32{100: 1000}

	got, err := TakeSnapshot(context.Background(), reader, []uint32{100})
	if err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}

	want := Snapshot{
		Locks:       reader.LockRows,
		Columns:     reader.ColumnRows,
		Constraints: reader.ConstraintRows,
		Indexes:     reader.IndexRows,
		Identities:  map[uint32]uint32{100: 1000},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestConstraintKindFromChar(t *testing.T) {
	cases := map[byte]ConstraintKind{
		'c': ConstraintCheck,
		'f': ConstraintForeignKey,
		'u': ConstraintUnique,
		'p': ConstraintPrimaryKey,
		'x': ConstraintExclusion,
		'?': ConstraintUnknown,
	}
	for char, want := range cases {
		if got := ConstraintKindFromChar(char); got != want {
			t.Errorf("ConstraintKindFromChar(%q) = %v, want %v", char, got, want)
		}
	}
}

func TestFakeReaderResolveRelation(t *testing.T) {
	reader := NewFakeReader()
	reader.AddRelation("public", "books", 100, 'r')

	oid, relkind, found, err := reader.ResolveRelation(context.Background(), "public", "books")
	if err != nil {
		t.Fatalf("ResolveRelation: %v", err)
	}
	if !found || oid != 100 || relkind != 'r' {
		t.Fatalf("got (%d, %q, %v), want (100, 'r', true)", oid, relkind, found)
	}

	if _, _, found, err := reader.ResolveRelation(context.Background(), "public", "missing"); err != nil || found {
		t.Fatalf("expected missing relation to be not found, got found=%v err=%v", found, err)
	}
}

func TestFakeReaderDefaultsEmptySchemaToPublic(t *testing.T) {
	reader := NewFakeReader()
	reader.AddRelation("", "orders", 42, 'r')

	oid, _, found, err := reader.ResolveRelation(context.Background(), "public", "orders")
	if err != nil || !found || oid != 42 {
		t.Fatalf("got (%d, %v, %v), want (42, true, nil)", oid, found, err)
	}
}
