// Package report assembles the per-statement triggers produced by the lint
// or trace rule sets, together with whatever catalog state the tracer
// observed, into the stable Report value §6 of the external-interface
// contract describes — the sole artifact cmd/pglockguard renders to text,
// JSON, or YAML.
package report

import (
	"strings"

	"github.com/pglockguard/pglockguard/internal/catalog"
	"github.com/pglockguard/pglockguard/internal/rules"
)

// Trigger is one rule application rendered with its full catalog metadata,
// ready for serialization.
type Trigger struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Condition  string `json:"condition" yaml:"condition"`
	Effect     string `json:"effect" yaml:"effect"`
	Workaround string `json:"workaround" yaml:"workaround"`
	Help       string `json:"help" yaml:"help"`
	Message    string `json:"message" yaml:"message"`
}

// Lock is one lock object in a statement's locks_at_start/new_locks_taken
// arrays, enriched with the derived blocked-operation lists the mode
// catalog can compute for any mode.
type Lock struct {
	Schema         string   `json:"schema" yaml:"schema"`
	ObjectName     string   `json:"object_name" yaml:"object_name"`
	Mode           string   `json:"mode" yaml:"mode"`
	Relkind        string   `json:"relkind" yaml:"relkind"`
	OID            uint32   `json:"oid" yaml:"oid"`
	MaybeDangerous bool     `json:"maybe_dangerous" yaml:"maybe_dangerous"`
	BlockedQueries []string `json:"blocked_queries" yaml:"blocked_queries"`
	BlockedDDL     []string `json:"blocked_ddl" yaml:"blocked_ddl"`
}

// ColumnChange is a column reported with its before/after state, for
// altered_columns.
type ColumnChange struct {
	Before catalog.Column `json:"before" yaml:"before"`
	After  catalog.Column `json:"after" yaml:"after"`
}

// ConstraintChange is a constraint reported with its before/after state,
// for altered_constraints — typically a NOT VALID constraint being
// validated.
type ConstraintChange struct {
	Before catalog.Constraint `json:"before" yaml:"before"`
	After  catalog.Constraint `json:"after" yaml:"after"`
}

// StatementReport is one statement's entry in statements[].
type StatementReport struct {
	StatementNumberInTransaction int                  `json:"statement_number_in_transaction" yaml:"statement_number_in_transaction"`
	SQL                          string               `json:"sql" yaml:"sql"`
	DurationMillis               *int64               `json:"duration_millis,omitempty" yaml:"duration_millis,omitempty"`
	LocksAtStart                 []Lock               `json:"locks_at_start" yaml:"locks_at_start"`
	NewLocksTaken                []Lock               `json:"new_locks_taken" yaml:"new_locks_taken"`
	NewColumns                   []catalog.Column     `json:"new_columns" yaml:"new_columns"`
	AlteredColumns               []ColumnChange       `json:"altered_columns" yaml:"altered_columns"`
	NewConstraints               []catalog.Constraint `json:"new_constraints" yaml:"new_constraints"`
	AlteredConstraints           []ConstraintChange   `json:"altered_constraints" yaml:"altered_constraints"`
	TriggeredRules               []Trigger            `json:"triggered_rules" yaml:"triggered_rules"`
}

// Report is the sole core output of a lint or trace run over one script.
type Report struct {
	Name                string            `json:"name" yaml:"name"`
	StartTime           string            `json:"start_time" yaml:"start_time"`
	TotalDurationMillis int64             `json:"total_duration_millis" yaml:"total_duration_millis"`
	PassedAllChecks     bool              `json:"passed_all_checks" yaml:"passed_all_checks"`
	Statements          []StatementReport `json:"statements" yaml:"statements"`
}

// FilterTriggers drops every trigger when skipAll (the statement's own
// SkipAll ignore) is set, and otherwise any trigger whose ID is in
// statementSkip (the statement's own ID list) or global (ignore IDs
// supplied at invocation). Ignoring a non-existent ID is
// a no-op by construction: it simply never matches.
func FilterTriggers(triggers []rules.Trigger, skipAll bool, statementSkip, global []string) []rules.Trigger {
	if skipAll {
		return nil
	}
	skip := make(map[string]bool, len(statementSkip)+len(global))
	for _, id := range statementSkip {
		skip[strings.ToUpper(strings.TrimSpace(id))] = true
	}
	for _, id := range global {
		skip[strings.ToUpper(strings.TrimSpace(id))] = true
	}
	if len(skip) == 0 {
		return triggers
	}
	out := make([]rules.Trigger, 0, len(triggers))
	for _, t := range triggers {
		if !skip[t.RuleID] {
			out = append(out, t)
		}
	}
	return out
}

// renderTrigger attaches a trigger's catalog metadata to its per-statement
// message.
func renderTrigger(t rules.Trigger) Trigger {
	meta := rules.Catalog[t.RuleID]
	return Trigger{
		ID:         t.RuleID,
		Name:       meta.Name,
		Condition:  meta.Condition,
		Effect:     meta.Effect,
		Workaround: meta.Workaround,
		Help:       meta.Effect + " " + meta.Workaround,
		Message:    t.Message,
	}
}

func renderTriggers(ts []rules.Trigger) []Trigger {
	out := make([]Trigger, 0, len(ts))
	for _, t := range ts {
		out = append(out, renderTrigger(t))
	}
	return out
}

// passedAllChecks reports whether none of the rendered triggers across
// every statement carry an E-prefixed rule ID — W-prefixed warnings never
// affect pass/fail.
func passedAllChecks(statements []StatementReport) bool {
	for _, s := range statements {
		for _, t := range s.TriggeredRules {
			if strings.HasPrefix(t.ID, "E") {
				return false
			}
		}
	}
	return true
}

func renderLock(l catalog.Lock) Lock {
	return Lock{
		Schema:         l.Schema,
		ObjectName:     l.ObjectName,
		Mode:           l.Mode.String(),
		Relkind:        string(l.RelKind),
		OID:            l.OID,
		MaybeDangerous: l.Mode.IsDangerous(),
		BlockedQueries: l.Mode.BlockedQueries(),
		BlockedDDL:     l.Mode.BlockedDDL(),
	}
}

func renderLocks(ls []catalog.Lock) []Lock {
	out := make([]Lock, 0, len(ls))
	for _, l := range ls {
		out = append(out, renderLock(l))
	}
	return out
}
