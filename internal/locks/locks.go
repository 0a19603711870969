// Package locks describes PostgreSQL lock modes: which other modes they
// conflict with, and which SQL operations each mode blocks.
package locks

// Mode is one of the eight PostgreSQL table-level lock modes.
type Mode int

const (
	AccessShare Mode = iota
	RowShare
	RowExclusive
	ShareUpdateExclusive
	Share
	ShareRowExclusive
	Exclusive
	AccessExclusive
)

// All lists every lock mode in strength order, weakest first.
var All = [8]Mode{
	AccessShare,
	RowShare,
	RowExclusive,
	ShareUpdateExclusive,
	Share,
	ShareRowExclusive,
	Exclusive,
	AccessExclusive,
}

func (m Mode) String() string {
	return m.dbString()
}

// dbString returns the exact string found in pg_locks.mode for this mode.
func (m Mode) dbString() string {
	switch m {
	case AccessShare:
		return "AccessShareLock"
	case RowShare:
		return "RowShareLock"
	case RowExclusive:
		return "RowExclusiveLock"
	case ShareUpdateExclusive:
		return "ShareUpdateExclusiveLock"
	case Share:
		return "ShareLock"
	case ShareRowExclusive:
		return "ShareRowExclusiveLock"
	case Exclusive:
		return "ExclusiveLock"
	case AccessExclusive:
		return "AccessExclusiveLock"
	default:
		return "UnknownLock"
	}
}

// FromDBString parses a pg_locks.mode value, e.g. "AccessExclusiveLock".
func FromDBString(s string) (Mode, bool) {
	for _, m := range All {
		if m.dbString() == s {
			return m, true
		}
	}
	return 0, false
}

// queryCapabilities are the operations OLTP workloads depend on; a lock
// mode that blocks any of these is dangerous.
var queryCapabilities = map[string]bool{
	"SELECT":           true,
	"FOR UPDATE":       true,
	"FOR NO KEY UPDATE": true,
	"FOR SHARE":        true,
	"FOR KEY SHARE":    true,
	"UPDATE":           true,
	"DELETE":           true,
	"INSERT":           true,
	"MERGE":            true,
}

// capabilities lists the operations that acquire each lock mode. Several
// entries recur across modes because PostgreSQL has many ALTER TABLE
// variants that don't all need AccessExclusive.
func (m Mode) capabilities() []string {
	switch m {
	case AccessShare:
		return []string{"SELECT"}
	case RowShare:
		return []string{"FOR UPDATE", "FOR NO KEY UPDATE", "FOR SHARE", "FOR KEY SHARE"}
	case RowExclusive:
		return []string{"UPDATE", "DELETE", "INSERT", "MERGE"}
	case ShareUpdateExclusive:
		return []string{
			"VACUUM", "ANALYZE", "CREATE INDEX CONCURRENTLY",
			"CREATE STATISTICS", "REINDEX CONCURRENTLY", "ALTER INDEX", "ALTER TABLE",
		}
	case Share:
		return []string{"CREATE INDEX"}
	case ShareRowExclusive:
		return []string{"CREATE TRIGGER", "ALTER TABLE"}
	case Exclusive:
		return []string{"REFRESH MATERIALIZED VIEW CONCURRENTLY"}
	case AccessExclusive:
		return []string{
			"ALTER TABLE", "DROP TABLE", "TRUNCATE", "REINDEX",
			"CLUSTER", "VACUUM FULL", "REFRESH MATERIALIZED VIEW",
		}
	default:
		return nil
	}
}

// ConflictsWith returns the lock modes that cannot be held simultaneously
// with m on the same relation.
func (m Mode) ConflictsWith() []Mode {
	switch m {
	case AccessShare:
		return []Mode{AccessExclusive}
	case RowShare:
		return []Mode{Exclusive, AccessExclusive}
	case RowExclusive:
		return []Mode{Share, ShareRowExclusive, Exclusive, AccessExclusive}
	case ShareUpdateExclusive:
		return []Mode{ShareUpdateExclusive, Share, ShareRowExclusive, Exclusive, AccessExclusive}
	case Share:
		return []Mode{RowExclusive, ShareUpdateExclusive, ShareRowExclusive, Exclusive, AccessExclusive}
	case ShareRowExclusive:
		return []Mode{RowExclusive, ShareUpdateExclusive, Share, ShareRowExclusive, Exclusive, AccessExclusive}
	case Exclusive:
		return []Mode{RowShare, RowExclusive, ShareUpdateExclusive, Share, ShareRowExclusive, Exclusive, AccessExclusive}
	case AccessExclusive:
		return All[:]
	default:
		return nil
	}
}

func (m Mode) blockedCapabilities() []string {
	var out []string
	for _, conflicting := range m.ConflictsWith() {
		out = append(out, conflicting.capabilities()...)
	}
	return out
}

// BlockedQueries returns the OLTP-relevant operations this lock mode
// blocks, e.g. SELECT, UPDATE.
func (m Mode) BlockedQueries() []string {
	var out []string
	for _, cap := range m.blockedCapabilities() {
		if queryCapabilities[cap] {
			out = append(out, cap)
		}
	}
	return out
}

// BlockedDDL returns the non-query operations this lock mode blocks.
func (m Mode) BlockedDDL() []string {
	var out []string
	for _, cap := range m.blockedCapabilities() {
		if !queryCapabilities[cap] {
			out = append(out, cap)
		}
	}
	return out
}

// IsDangerous reports whether this lock mode blocks at least one of
// SELECT, INSERT, UPDATE, or DELETE.
func (m Mode) IsDangerous() bool {
	return len(m.BlockedQueries()) > 0
}
