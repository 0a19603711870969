package locks

import "testing"

func TestFromDBStringRoundTrip(t *testing.T) {
	for _, m := range All {
		s := m.String()
		got, ok := FromDBString(s)
		if !ok {
			t.Fatalf("FromDBString(%q) not found", s)
		}
		if got != m {
			t.Fatalf("FromDBString(%q) = %v, want %v", s, got, m)
		}
	}
}

func TestAccessExclusiveConflictsWithEverything(t *testing.T) {
	conflicts := AccessExclusive.ConflictsWith()
	if len(conflicts) != len(All) {
		t.Fatalf("AccessExclusive should conflict with all 8 modes, got %d", len(conflicts))
	}
}

func TestLocksThatBlockSelectAreDangerous(t *testing.T) {
	for _, m := range All {
		blocksSelect := false
		for _, q := range m.BlockedQueries() {
			if q == "SELECT" {
				blocksSelect = true
			}
		}
		if blocksSelect && !m.IsDangerous() {
			t.Errorf("%v blocks SELECT but IsDangerous() is false", m)
		}
	}
}

func TestLocksThatBlockUpdateAreDangerous(t *testing.T) {
	for _, m := range All {
		blocksUpdate := false
		for _, q := range m.BlockedQueries() {
			if q == "UPDATE" {
				blocksUpdate = true
			}
		}
		if blocksUpdate && !m.IsDangerous() {
			t.Errorf("%v blocks UPDATE but IsDangerous() is false", m)
		}
	}
}

func TestRowExclusiveIsNotDangerousToItself(t *testing.T) {
	// RowExclusive is the mode INSERT/UPDATE/DELETE themselves take; it must
	// not be considered a mode that blocks those operations on its own.
	for _, q := range RowExclusive.BlockedQueries() {
		if q == "INSERT" || q == "UPDATE" || q == "DELETE" {
			t.Errorf("RowExclusive should not block %s", q)
		}
	}
}

func TestAccessShareOnlyBlockedByAccessExclusive(t *testing.T) {
	got := AccessShare.ConflictsWith()
	if len(got) != 1 || got[0] != AccessExclusive {
		t.Fatalf("AccessShare.ConflictsWith() = %v, want [AccessExclusive]", got)
	}
}

func TestBlockedDDLExcludesQueryCapabilities(t *testing.T) {
	for _, m := range All {
		for _, d := range m.BlockedDDL() {
			if queryCapabilities[d] {
				t.Errorf("%v.BlockedDDL() contains query capability %q", m, d)
			}
		}
	}
}
