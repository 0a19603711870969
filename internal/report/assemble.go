package report

import (
	"time"

	"github.com/pglockguard/pglockguard/internal/catalog"
	"github.com/pglockguard/pglockguard/internal/rules"
	"github.com/pglockguard/pglockguard/internal/segment"
	"github.com/pglockguard/pglockguard/internal/tracer"
)

// LintStatement is one statement's already-filtered trigger set from a
// static run, paired with the script statement it was produced for.
type LintStatement struct {
	Statement segment.Statement
	Triggers  []rules.Trigger
}

// AssembleLint builds a Report from a lint run. Lint statements carry no
// catalog observations, so every lock/column/constraint array is empty;
// only sql and triggered_rules are populated.
func AssembleLint(name string, startTime time.Time, statements []LintStatement) Report {
	out := make([]StatementReport, 0, len(statements))
	for i, s := range statements {
		out = append(out, StatementReport{
			StatementNumberInTransaction: i + 1,
			SQL:                          s.Statement.SQL,
			LocksAtStart:                 []Lock{},
			NewLocksTaken:                []Lock{},
			NewColumns:                   []catalog.Column{},
			AlteredColumns:               []ColumnChange{},
			NewConstraints:               []catalog.Constraint{},
			AlteredConstraints:           []ConstraintChange{},
			TriggeredRules:               renderTriggers(s.Triggers),
		})
	}
	return Report{
		Name:            name,
		StartTime:       startTime.UTC().Format(time.RFC3339),
		PassedAllChecks: passedAllChecks(out),
		Statements:      out,
	}
}

// TraceStatement is one statement's already-filtered trigger set from a
// dynamic run, paired with the catalog diff the tracer observed.
type TraceStatement struct {
	Execution tracer.StatementExecution
	Triggers  []rules.Trigger
}

func alteredColumnChanges(cs []tracer.ColumnChange) []ColumnChange {
	out := make([]ColumnChange, 0, len(cs))
	for _, c := range cs {
		out = append(out, ColumnChange{Before: c.Before, After: c.After})
	}
	return out
}

func alteredConstraintChanges(cs []tracer.ConstraintChange) []ConstraintChange {
	out := make([]ConstraintChange, 0, len(cs))
	for _, c := range cs {
		out = append(out, ConstraintChange{Before: c.Before, After: c.After})
	}
	return out
}

// AssembleTrace builds a Report from a trace run, where every field of the
// §6 statement contract is populated from the tracer's observed diffs.
func AssembleTrace(name string, startTime time.Time, totalDuration time.Duration, statements []TraceStatement) Report {
	out := make([]StatementReport, 0, len(statements))
	for i, s := range statements {
		exec := s.Execution
		duration := exec.DurationMillis
		out = append(out, StatementReport{
			StatementNumberInTransaction: i + 1,
			SQL:                          exec.Statement.SQL,
			DurationMillis:               &duration,
			LocksAtStart:                 renderLocks(exec.LocksHeldAtStart),
			NewLocksTaken:                renderLocks(exec.NewLocks),
			NewColumns:                   nonNilColumns(exec.NewColumns),
			AlteredColumns:               alteredColumnChanges(exec.AlteredColumns),
			NewConstraints:               nonNilConstraints(exec.NewConstraints),
			AlteredConstraints:           alteredConstraintChanges(exec.AlteredConstraints),
			TriggeredRules:               renderTriggers(s.Triggers),
		})
	}
	return Report{
		Name:                name,
		StartTime:           startTime.UTC().Format(time.RFC3339),
		TotalDurationMillis: totalDuration.Milliseconds(),
		PassedAllChecks:     passedAllChecks(out),
		Statements:          out,
	}
}

func nonNilColumns(cs []catalog.Column) []catalog.Column {
	if cs == nil {
		return []catalog.Column{}
	}
	return cs
}

func nonNilConstraints(cs []catalog.Constraint) []catalog.Constraint {
	if cs == nil {
		return []catalog.Constraint{}
	}
	return cs
}
