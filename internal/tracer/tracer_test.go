package tracer

import (
	"testing"
	"time"

	"github.com/pglockguard/pglockguard/internal/catalog"
	"github.com/pglockguard/pglockguard/internal/locks"
)

func TestDiffSnapshotsDetectsNewColumn(t *testing.T) {
	before := catalog.Snapshot{}
	after := catalog.Snapshot{
		Columns: []catalog.Column{{Schema: "public", Table: "books", Name: "isbn", DataType: "text", Nullable: true}},
	}
	exec := diffSnapshots(before, after, time.Millisecond, 0, nil)
	if len(exec.NewColumns) != 1 || exec.NewColumns[0].Name != "isbn" {
		t.Fatalf("got %+v", exec.NewColumns)
	}
	if len(exec.AlteredColumns) != 0 {
		t.Fatalf("unexpected altered columns: %+v", exec.AlteredColumns)
	}
}

func TestDiffSnapshotsDetectsAlteredColumn(t *testing.T) {
	before := catalog.Snapshot{
		Columns: []catalog.Column{{Schema: "public", Table: "books", Name: "title", DataType: "varchar", Nullable: true}},
	}
	after := catalog.Snapshot{
		Columns: []catalog.Column{{Schema: "public", Table: "books", Name: "title", DataType: "text", Nullable: true}},
	}
	exec := diffSnapshots(before, after, time.Millisecond, 0, nil)
	if len(exec.AlteredColumns) != 1 {
		t.Fatalf("got %+v", exec.AlteredColumns)
	}
	if exec.AlteredColumns[0].Before.DataType != "varchar" || exec.AlteredColumns[0].After.DataType != "text" {
		t.Fatalf("got %+v", exec.AlteredColumns[0])
	}
}

func TestDiffSnapshotsDetectsRewrite(t *testing.T) {
	before := catalog.Snapshot{Identities: map[uint32]uint32{100: 1000}}
	after := catalog.Snapshot{Identities: map[uint32]uint32{100: 1001}}
	exec := diffSnapshots(before, after, time.Millisecond, 0, nil)
	if len(exec.Rewrites) != 1 || exec.Rewrites[0] != 100 {
		t.Fatalf("got %+v", exec.Rewrites)
	}
}

func TestDiffSnapshotsNoRewriteWhenUnchanged(t *testing.T) {
	before := catalog.Snapshot{Identities: map[uint32]uint32{100: 1000}}
	after := catalog.Snapshot{Identities: map[uint32]uint32{100: 1000}}
	exec := diffSnapshots(before, after, time.Millisecond, 0, nil)
	if len(exec.Rewrites) != 0 {
		t.Fatalf("got %+v, want no rewrites", exec.Rewrites)
	}
}

func TestDiffSnapshotsDetectsNewLock(t *testing.T) {
	before := catalog.Snapshot{}
	after := catalog.Snapshot{
		Locks: []catalog.Lock{{Schema: "public", ObjectName: "books", OID: 100, Mode: locks.AccessExclusive}},
	}
	exec := diffSnapshots(before, after, time.Millisecond, 0, nil)
	if len(exec.NewLocks) != 1 || exec.NewLocks[0].Mode != locks.AccessExclusive {
		t.Fatalf("got %+v", exec.NewLocks)
	}
}

func TestDiffSnapshotsIgnoresAlreadyHeldLock(t *testing.T) {
	held := catalog.Lock{Schema: "public", ObjectName: "books", OID: 100, Mode: locks.AccessExclusive}
	before := catalog.Snapshot{Locks: []catalog.Lock{held}}
	after := catalog.Snapshot{Locks: []catalog.Lock{held}}
	exec := diffSnapshots(before, after, time.Millisecond, 0, nil)
	if len(exec.NewLocks) != 0 {
		t.Fatalf("got %+v, want no new locks", exec.NewLocks)
	}
}

func TestDiffSnapshotsDetectsNewConstraint(t *testing.T) {
	before := catalog.Snapshot{}
	after := catalog.Snapshot{
		Constraints: []catalog.Constraint{{OID: 500, Schema: "public", Table: "books", Name: "books_pkey", Kind: catalog.ConstraintPrimaryKey, Valid: true}},
	}
	exec := diffSnapshots(before, after, time.Millisecond, 0, nil)
	if len(exec.NewConstraints) != 1 || exec.NewConstraints[0].Name != "books_pkey" {
		t.Fatalf("got %+v", exec.NewConstraints)
	}
}

func TestDiffSnapshotsDetectsValidatedConstraint(t *testing.T) {
	before := catalog.Snapshot{
		Constraints: []catalog.Constraint{{OID: 500, Schema: "public", Table: "books", Name: "c", Kind: catalog.ConstraintCheck, Valid: false}},
	}
	after := catalog.Snapshot{
		Constraints: []catalog.Constraint{{OID: 500, Schema: "public", Table: "books", Name: "c", Kind: catalog.ConstraintCheck, Valid: true}},
	}
	exec := diffSnapshots(before, after, time.Millisecond, 0, nil)
	if len(exec.AlteredConstraints) != 1 || !exec.AlteredConstraints[0].After.Valid {
		t.Fatalf("got %+v", exec.AlteredConstraints)
	}
}

func TestDiffSnapshotsDetectsNewIndex(t *testing.T) {
	before := catalog.Snapshot{}
	after := catalog.Snapshot{
		Indexes: []catalog.Index{{OID: 700, Schema: "public", Name: "books_title_idx", Table: "books", Columns: []string{"title"}}},
	}
	exec := diffSnapshots(before, after, time.Millisecond, 0, nil)
	if len(exec.NewIndexes) != 1 || exec.NewIndexes[0].Name != "books_title_idx" {
		t.Fatalf("got %+v", exec.NewIndexes)
	}
}

func TestOidsOfReturnsOneEntryPerOID(t *testing.T) {
	m := map[uint32]bool{1: true, 2: true, 3: true}
	got := oidsOf(m)
	if len(got) != 3 {
		t.Fatalf("got %v", got)
	}
}
