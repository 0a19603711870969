// Package rules holds the shared rule-metadata catalog (name, trigger
// condition, effect, workaround, detecting analyzer) and the pure rule
// functions both the static linter and the dynamic tracer evaluate
// against it. Rule IDs are stable and, once assigned, never reused.
package rules

import "sort"

// Meta is one entry of the rule catalog: the fixed, statement-independent
// text a Trigger is rendered against.
type Meta struct {
	ID         string
	Name       string
	Condition  string
	Effect     string
	Workaround string
	DetectedBy []string // "lint", "trace"
}

// Trigger is a single application of a rule to a single statement.
type Trigger struct {
	RuleID  string
	Message string
}

const (
	E1  = "E1"
	E2  = "E2"
	E3  = "E3"
	E4  = "E4"
	E5  = "E5"
	E6  = "E6"
	E7  = "E7"
	E8  = "E8"
	E9  = "E9"
	E10 = "E10"
	E11 = "E11"
	E15 = "E15"
	W12 = "W12"
	W13 = "W13"
	W14 = "W14"
)

// Catalog is the authoritative rule-metadata table, consulted by both the
// lint and trace rule sets and by the report renderer.
var Catalog = map[string]Meta{
	E1: {
		ID:         E1,
		Name:       "Validating table with a new constraint",
		Condition:  "A new constraint was added and it is already `VALID`",
		Effect:     "This blocks all table access until all rows are validated",
		Workaround: "Add the constraint as `NOT VALID` and validate it with `ALTER TABLE ... VALIDATE CONSTRAINT` later",
		DetectedBy: []string{"lint", "trace"},
	},
	E2: {
		ID:         E2,
		Name:       "Validating table with a new `NOT NULL` column",
		Condition:  "A column was changed from `NULL` to `NOT NULL`",
		Effect:     "This blocks all table access until all rows are validated",
		Workaround: "Add a `CHECK` constraint as `NOT VALID`, validate it later, then make the column `NOT NULL`",
		DetectedBy: []string{"lint", "trace"},
	},
	E3: {
		ID:         E3,
		Name:       "Add a new JSON column",
		Condition:  "A new column of type `json` was added to a table",
		Effect:     "This breaks `SELECT DISTINCT` queries or other operations that need equality checks on the column",
		Workaround: "Use the `jsonb` type instead, it supports all use-cases of `json` and is more robust and compact",
		DetectedBy: []string{"lint", "trace"},
	},
	E4: {
		ID:         E4,
		Name:       "Running more statements after taking `AccessExclusiveLock`",
		Condition:  "A transaction that holds an `AccessExclusiveLock` started a new statement",
		Effect:     "This blocks all access to the table for the duration of this statement",
		Workaround: "Run this statement in a new transaction",
		DetectedBy: []string{"lint", "trace"},
	},
	E5: {
		ID:         E5,
		Name:       "Type change requiring table rewrite",
		Condition:  "A column was changed to a data type that isn't binary compatible",
		Effect:     "This causes a full table rewrite while holding a lock that prevents all other use of the table",
		Workaround: "Add a new column, update it in batches, and drop the old column",
		DetectedBy: []string{"lint", "trace"},
	},
	E6: {
		ID:         E6,
		Name:       "Creating a new index on an existing table",
		Condition:  "A new index was created on an existing table without the `CONCURRENTLY` keyword",
		Effect:     "This blocks all writes to the table while the index is being created",
		Workaround: "Run `CREATE INDEX CONCURRENTLY` instead of `CREATE INDEX`",
		DetectedBy: []string{"lint", "trace"},
	},
	E7: {
		ID:         E7,
		Name:       "Creating a new unique constraint",
		Condition:  "Adding a new unique constraint implicitly creates an index",
		Effect:     "This blocks all writes to the table while the index is being created and validated",
		Workaround: "`CREATE UNIQUE INDEX CONCURRENTLY`, then add the constraint using the index",
		DetectedBy: []string{"lint", "trace"},
	},
	E8: {
		ID:         E8,
		Name:       "Creating a new exclusion constraint",
		Condition:  "Found a new exclusion constraint",
		Effect:     "This blocks all reads and writes to the table while the constraint index is being created",
		Workaround: "There is no safe way to add an exclusion constraint to an existing table",
		DetectedBy: []string{"lint", "trace"},
	},
	E9: {
		ID:        E9,
		Name:      "Taking dangerous lock without timeout",
		Condition: "A lock that would block many common operations was taken without a timeout",
		Effect: "This can block all other operations on the table indefinitely if any other " +
			"transaction holds a conflicting lock while idle in transaction or active",
		Workaround: "Run `SET LOCAL lock_timeout = '2s';` before the statement and retry the migration if necessary",
		DetectedBy: []string{"lint", "trace"},
	},
	E10: {
		ID:         E10,
		Name:       "Rewrote table or index while holding dangerous lock",
		Condition:  "A table or index was rewritten while holding a lock that blocks many operations",
		Effect:     "This blocks many operations on the table or index while the rewrite is in progress",
		Workaround: "Build a new table or index, write to both, then swap them",
		DetectedBy: []string{"trace"},
	},
	E11: {
		ID:         E11,
		Name:       "Adding a `SERIAL` or `GENERATED ... STORED` column",
		Condition:  "A new column was added with a `SERIAL` or `GENERATED` type",
		Effect:     "This blocks all table access until the table is rewritten",
		Workaround: "Cannot be done without a table rewrite",
		DetectedBy: []string{"lint", "trace"},
	},
	E15: {
		ID:         E15,
		Name:       "Missing index",
		Condition:  "A foreign key is missing a complete index on the referencing side",
		Effect:     "Updates and deletes on the referenced table may cause a table scan on the referencing table",
		Workaround: "Create the missing index",
		DetectedBy: []string{"lint", "trace"},
	},
	W12: {
		ID:         W12,
		Name:       "Multiple `ALTER TABLE` statements where one will do",
		Condition:  "Multiple `ALTER TABLE` statements target the same table",
		Effect:     "If the statements require table scans, there will be more scans than necessary",
		Workaround: "Combine the statements into one, separating the actions with commas",
		DetectedBy: []string{"lint", "trace"},
	},
	W13: {
		ID:         W13,
		Name:       "Creating an enum",
		Condition:  "A new enum was created",
		Effect:     "Removing values from an enum requires difficult migrations, and associating more data with an enum value is difficult",
		Workaround: "Use a foreign key to a lookup table instead",
		DetectedBy: []string{"lint", "trace"},
	},
	W14: {
		ID:         W14,
		Name:       "Adding a primary key using an index",
		Condition:  "A primary key was added using an index on the table",
		Effect:     "This can cause postgres to alter the index columns to be `NOT NULL`",
		Workaround: "Make sure that all the columns in the index are already `NOT NULL`",
		DetectedBy: []string{"lint", "trace"},
	},
}

// SortedIDs returns every rule ID in ascending order, matching the
// report's ordering requirement (statement_index, rule_id).
func SortedIDs() []string {
	ids := make([]string, 0, len(Catalog))
	for id := range Catalog {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ruleOrderKey(ids[i]) < ruleOrderKey(ids[j]) })
	return ids
}

// sortTriggers orders triggers by rule ID ascending, as required within a
// single statement's result set.
func sortTriggers(triggers []Trigger) []Trigger {
	sort.SliceStable(triggers, func(i, j int) bool {
		return ruleOrderKey(triggers[i].RuleID) < ruleOrderKey(triggers[j].RuleID)
	})
	return triggers
}

// ruleOrderKey makes "E2" sort before "E10" by ordering on (prefix, numeric
// suffix) rather than lexicographically.
func ruleOrderKey(id string) string {
	if len(id) == 0 {
		return id
	}
	prefix := id[:1]
	digits := id[1:]
	for len(digits) < 4 {
		digits = "0" + digits
	}
	return prefix + digits
}
