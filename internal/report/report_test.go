package report

import (
	"testing"
	"time"

	"github.com/pglockguard/pglockguard/internal/rules"
	"github.com/pglockguard/pglockguard/internal/segment"
)

func TestAssembleLintComputesPassedAllChecks(t *testing.T) {
	statements := []LintStatement{
		{Statement: segment.Statement{SQL: "CREATE INDEX idx ON orders (customer_id)"},
			Triggers: []rules.Trigger{{RuleID: rules.E6, Message: "blocking writes"}}},
	}
	r := AssembleLint("script.sql", time.Time{}, statements)
	if r.PassedAllChecks {
		t.Fatal("expected failure, E6 is an error-class rule")
	}
	if len(r.Statements) != 1 || r.Statements[0].TriggeredRules[0].ID != rules.E6 {
		t.Fatalf("got %+v", r.Statements)
	}
}

func TestAssembleLintWarningOnlyPasses(t *testing.T) {
	statements := []LintStatement{
		{Statement: segment.Statement{SQL: "CREATE TYPE t AS ENUM ('a')"},
			Triggers: []rules.Trigger{{RuleID: rules.W13, Message: "enum"}}},
	}
	r := AssembleLint("script.sql", time.Time{}, statements)
	if !r.PassedAllChecks {
		t.Fatal("a warning-only report should still pass")
	}
}

func TestAssembleLintEmptyScriptPasses(t *testing.T) {
	r := AssembleLint("empty.sql", time.Time{}, nil)
	if !r.PassedAllChecks || len(r.Statements) != 0 {
		t.Fatalf("got %+v", r)
	}
}

func TestFilterTriggersSkipAll(t *testing.T) {
	in := []rules.Trigger{{RuleID: rules.E1}, {RuleID: rules.W12}}
	out := FilterTriggers(in, true, nil, nil)
	if len(out) != 0 {
		t.Fatalf("got %+v", out)
	}
}

func TestFilterTriggersByID(t *testing.T) {
	in := []rules.Trigger{{RuleID: rules.E1}, {RuleID: rules.W12}}
	out := FilterTriggers(in, false, []string{"E1"}, nil)
	if len(out) != 1 || out[0].RuleID != rules.W12 {
		t.Fatalf("got %+v", out)
	}
}

func TestFilterTriggersGlobalIgnore(t *testing.T) {
	in := []rules.Trigger{{RuleID: rules.E1}, {RuleID: rules.W12}}
	out := FilterTriggers(in, false, nil, []string{"w12"})
	if len(out) != 1 || out[0].RuleID != rules.E1 {
		t.Fatalf("got %+v", out)
	}
}

func TestFilterTriggersUnknownIDIsNoOp(t *testing.T) {
	in := []rules.Trigger{{RuleID: rules.E1}}
	out := FilterTriggers(in, false, []string{"E999"}, nil)
	if len(out) != 1 {
		t.Fatalf("got %+v, want unchanged", out)
	}
}

func TestRenderTriggerAttachesMetadata(t *testing.T) {
	got := renderTrigger(rules.Trigger{RuleID: rules.E9, Message: "specific message"})
	if got.Name == "" || got.Condition == "" || got.Workaround == "" {
		t.Fatalf("got %+v, expected metadata filled in", got)
	}
	if got.Message != "specific message" {
		t.Fatalf("got message %q", got.Message)
	}
}
