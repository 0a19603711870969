package suggest

import (
	"strings"
	"testing"
)

func TestSuggester_HasSuggestion(t *testing.T) {
	s := NewSuggester()
	for _, id := range []string{"E1", "E2", "E3", "E4", "E5", "E6", "E7", "E8", "E9", "E10", "E11", "E15", "W12", "W13", "W14"} {
		if !s.HasSuggestion(id) {
			t.Errorf("HasSuggestion(%q) = false, want true", id)
		}
	}
	if s.HasSuggestion("E999") {
		t.Error("HasSuggestion(\"E999\") = true, want false")
	}
}

func TestSuggester_E6_CreateIndexConcurrently(t *testing.T) {
	s := NewSuggester()
	sugg, err := s.GetSuggestion("E6", Metadata{
		"tableName": "orders",
		"indexName": "idx_orders_customer_id",
		"columns":   []string{"customer_id"},
	})
	if err != nil {
		t.Fatalf("GetSuggestion() error = %v", err)
	}
	if len(sugg.Steps) != 1 {
		t.Fatalf("Steps count = %v, want 1", len(sugg.Steps))
	}
	step := sugg.Steps[0]
	if step.CanRunInTransaction {
		t.Error("CREATE INDEX CONCURRENTLY must not run inside a transaction")
	}
	if !strings.Contains(step.SQL, "CREATE INDEX CONCURRENTLY idx_orders_customer_id ON orders (customer_id)") {
		t.Errorf("SQL = %q", step.SQL)
	}
}

func TestSuggester_E7_UniqueConstraintUsesIndex(t *testing.T) {
	s := NewSuggester()
	sugg, err := s.GetSuggestion("E7", Metadata{
		"tableName":      "users",
		"indexName":      "uniq_users_email",
		"constraintName": "users_email_key",
		"columns":        []string{"email"},
	})
	if err != nil {
		t.Fatalf("GetSuggestion() error = %v", err)
	}
	if len(sugg.Steps) != 2 {
		t.Fatalf("Steps count = %v, want 2", len(sugg.Steps))
	}
	if sugg.Steps[0].CanRunInTransaction {
		t.Error("index build must run outside a transaction")
	}
	if !strings.Contains(sugg.Steps[1].SQL, "UNIQUE USING INDEX uniq_users_email") {
		t.Errorf("SQL = %q", sugg.Steps[1].SQL)
	}
}

func TestSuggester_E1_ValidateConstraintSplitsInTwo(t *testing.T) {
	s := NewSuggester()
	sugg, err := s.GetSuggestion("E1", Metadata{
		"tableName":        "orders",
		"constraintName":   "check_positive_amount",
		"constraintClause": "CHECK (amount > 0)",
	})
	if err != nil {
		t.Fatalf("GetSuggestion() error = %v", err)
	}
	if !strings.Contains(sugg.Steps[0].SQL, "NOT VALID") {
		t.Errorf("first step should add the constraint as NOT VALID, got %q", sugg.Steps[0].SQL)
	}
	if !strings.Contains(sugg.Steps[1].SQL, "VALIDATE CONSTRAINT check_positive_amount") {
		t.Errorf("second step should validate it, got %q", sugg.Steps[1].SQL)
	}
}

func TestSuggester_E8_IsPartialAlternative(t *testing.T) {
	s := NewSuggester()
	sugg, err := s.GetSuggestion("E8", Metadata{})
	if err != nil {
		t.Fatalf("GetSuggestion() error = %v", err)
	}
	if !sugg.IsPartial {
		t.Error("exclusion constraints have no full online alternative")
	}
}

func TestSuggester_UnknownRuleID(t *testing.T) {
	s := NewSuggester()
	_, err := s.GetSuggestion("E999", Metadata{})
	if err != ErrNoSuggestion {
		t.Fatalf("err = %v, want ErrNoSuggestion", err)
	}
}

func TestSuggester_W14_RangesOverColumns(t *testing.T) {
	s := NewSuggester()
	sugg, err := s.GetSuggestion("W14", Metadata{
		"tableName": "users",
		"columns":   []string{"user_id", "tenant_id"},
	})
	if err != nil {
		t.Fatalf("GetSuggestion() error = %v", err)
	}
	sql := sugg.Steps[0].SQL
	if !strings.Contains(sql, "ALTER COLUMN user_id SET NOT NULL") || !strings.Contains(sql, "ALTER COLUMN tenant_id SET NOT NULL") {
		t.Errorf("SQL = %q, want both columns set NOT NULL", sql)
	}
}
