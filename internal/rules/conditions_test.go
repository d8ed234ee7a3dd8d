package rules

import (
	"testing"
	"time"
)

func TestMatchOperators(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	facts := Facts{
		"status":          "opened",
		"engagementScore": 35,
		"opens":           int64(2),
		"tags":            []string{"vip", "dental"},
		"businessType":    "Dental Clinic",
		"lastActivity":    now,
		"optedOut":        false,
	}

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals string case-insensitive", Condition{"status", OpEquals, "OPENED"}, true},
		{"equals number across types", Condition{"opens", OpEquals, 2.0}, true},
		{"equals bool from string", Condition{"optedOut", OpEquals, "false"}, true},
		{"not equals", Condition{"status", OpNotEquals, "replied"}, true},
		{"greater than", Condition{"engagementScore", OpGreaterThan, 30}, true},
		{"greater or equal boundary", Condition{"engagementScore", OpGreaterOrEq, "35"}, true},
		{"less than false", Condition{"engagementScore", OpLessThan, 10}, false},
		{"less or equal", Condition{"opens", OpLessOrEq, 2}, true},
		{"time compare", Condition{"lastActivity", OpLessThan, now.Add(time.Hour).Format(time.RFC3339)}, true},
		{"substring", Condition{"businessType", OpContains, "dental"}, true},
		{"slice membership", Condition{"tags", OpContains, "vip"}, true},
		{"slice not contains", Condition{"tags", OpNotContains, "cold"}, true},
		{"in list", Condition{"status", OpIn, []any{"clicked", "opened"}}, true},
		{"not in list", Condition{"status", OpNotIn, []any{"lost"}}, true},
		{"exists", Condition{"status", OpExists, nil}, true},
		{"missing fact equals", Condition{"missing", OpEquals, "x"}, false},
		{"missing fact not equals", Condition{"missing", OpNotEquals, "x"}, true},
		{"missing fact not exists", Condition{"missing", OpNotExists, nil}, true},
		{"incomparable", Condition{"status", OpGreaterThan, 3}, false},
	}

	for _, tc := range cases {
		if got := Match(tc.cond, facts); got != tc.want {
			t.Errorf("%s: Match(%+v) = %v, want %v", tc.name, tc.cond, got, tc.want)
		}
	}
}

func TestEvaluateLogic(t *testing.T) {
	facts := Facts{"status": "clicked", "engagementScore": 15}
	conds := []Condition{
		{Field: "status", Operator: OpEquals, Value: "clicked"},
		{Field: "engagementScore", Operator: OpGreaterThan, Value: 50},
	}

	if Evaluate(conds, LogicAll, facts) {
		t.Fatal("expected conjunction to fail")
	}
	if !Evaluate(conds, LogicAny, facts) {
		t.Fatal("expected disjunction to pass")
	}
	if !Evaluate(nil, LogicAll, facts) {
		t.Fatal("expected empty condition list to pass")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate([]Condition{{Field: "status", Operator: OpEquals}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Validate([]Condition{{Field: "", Operator: OpEquals}}); err == nil {
		t.Fatal("expected missing field error")
	}
	if err := Validate([]Condition{{Field: "status", Operator: "like"}}); err == nil {
		t.Fatal("expected unknown operator error")
	}
}
