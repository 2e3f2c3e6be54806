package engine

import (
	"testing"

	"rocket-nested/internal/metadata"
)

func fieldRule(field, op string, value any) *metadata.Rule {
	return &metadata.Rule{
		Type:       "field",
		Definition: metadata.RuleDefinition{Field: field, Operator: op, Value: value},
	}
}

func TestEvaluateFieldRule(t *testing.T) {
	tests := []struct {
		name   string
		rule   *metadata.Rule
		record map[string]any
		fail   bool
	}{
		{"min below", fieldRule("population", "min", float64(0)), map[string]any{"population": float64(-1)}, true},
		{"min at bound", fieldRule("population", "min", float64(0)), map[string]any{"population": int64(0)}, false},
		{"max above int", fieldRule("population", "max", 100), map[string]any{"population": 150}, true},
		{"max absent", fieldRule("population", "max", 100), map[string]any{}, false},
		{"max_length runes", fieldRule("name", "max_length", 9), map[string]any{"name": "São Paulo"}, false},
		{"max_length over", fieldRule("name", "max_length", 3), map[string]any{"name": "Rio!"}, true},
		{"min_length under", fieldRule("name", "min_length", 2), map[string]any{"name": "A"}, true},
		{"pattern match", fieldRule("code", "pattern", `^[A-Z]{2}\d$`), map[string]any{"code": "SP1"}, false},
		{"pattern miss", fieldRule("code", "pattern", `^[A-Z]{2}\d$`), map[string]any{"code": "sp1"}, true},
		{"in listed", fieldRule("status", "in", []any{"draft", "published"}), map[string]any{"status": "draft"}, false},
		{"in unlisted", fieldRule("status", "in", []any{"draft", "published"}), map[string]any{"status": "gone"}, true},
		{"not_in numeric", fieldRule("position", "not_in", []any{float64(0)}), map[string]any{"position": int64(0)}, true},
		{"nil value", fieldRule("name", "min_length", 2), map[string]any{"name": nil}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detail := EvaluateFieldRule(tt.rule, tt.record)
			if tt.fail && detail == nil {
				t.Fatalf("expected %s to fail", tt.rule.Definition.Operator)
			}
			if !tt.fail && detail != nil {
				t.Fatalf("expected pass, got %+v", detail)
			}
			if detail != nil && detail.Rule != tt.rule.Definition.Operator {
				t.Fatalf("expected rule=%s, got %s", tt.rule.Definition.Operator, detail.Rule)
			}
		})
	}
}

func TestCompileExpression(t *testing.T) {
	if _, err := CompileExpression(`record.name == "x"`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := CompileExpression(`record.name ==`); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestEvaluateExpressionRule(t *testing.T) {
	rule := &metadata.Rule{
		Type: "expression",
		Definition: metadata.RuleDefinition{
			Field:      "name",
			Expression: `action == "update" && record.name != old.name && old.name == "hq"`,
			Message:    "The head office cannot be renamed",
		},
	}

	env := map[string]any{
		"record": map[string]any{"name": "branch"},
		"old":    map[string]any{"name": "hq"},
		"action": "update",
	}
	detail := EvaluateExpressionRule(rule, env)
	if detail == nil {
		t.Fatal("expected violation")
	}
	if detail.Field != "name" || detail.Message != "The head office cannot be renamed" {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if rule.Compiled == nil {
		t.Fatal("expected compiled program to be cached on the rule")
	}

	env["action"] = "create"
	if detail := EvaluateExpressionRule(rule, env); detail != nil {
		t.Fatalf("expected pass on create, got %+v", detail)
	}
}

func TestEvaluateComputedField(t *testing.T) {
	rule := &metadata.Rule{
		Type:       "computed",
		Definition: metadata.RuleDefinition{Field: "label", Expression: `record.name + " (" + string(record.position) + ")"`},
	}
	val, err := EvaluateComputedField(rule, map[string]any{"record": map[string]any{"name": "hq", "position": 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "hq (2)" {
		t.Fatalf("expected %q, got %v", "hq (2)", val)
	}
}

func TestEvaluateRules_ComputedRunsOnlyWhenValid(t *testing.T) {
	rules := []*metadata.Rule{
		fieldRule("name", "max_length", 5),
		{
			Type:       "computed",
			Definition: metadata.RuleDefinition{Field: "code", Expression: `upper(record.name)`},
		},
	}

	fields := map[string]any{"name": "hq"}
	if errs := evaluateRules(rules, fields, map[string]any{}, true); len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	if fields["code"] != "HQ" {
		t.Fatalf("expected code=HQ, got %v", fields["code"])
	}

	fields = map[string]any{"name": "headquarters"}
	errs := evaluateRules(rules, fields, map[string]any{}, true)
	if len(errs) != 1 || errs[0].Rule != "max_length" {
		t.Fatalf("expected one max_length error, got %+v", errs)
	}
	if _, ok := fields["code"]; ok {
		t.Fatal("computed field should not be set when validation fails")
	}
}

func TestEvaluateRules_StopOnFail(t *testing.T) {
	first := fieldRule("name", "min_length", 3)
	first.Definition.StopOnFail = true
	rules := []*metadata.Rule{
		first,
		{Type: "expression", Definition: metadata.RuleDefinition{Expression: `true`}},
	}

	errs := evaluateRules(rules, map[string]any{"name": "a"}, map[string]any{}, false)
	if len(errs) != 1 {
		t.Fatalf("expected evaluation to stop after the first failure, got %+v", errs)
	}
}

func TestKeyString(t *testing.T) {
	cases := map[string]any{
		"5":     float64(5),
		"5.5":   5.5,
		"7":     int64(7),
		"abc":   "abc",
		"true":  true,
		"<nil>": nil,
	}
	for want, in := range cases {
		if got := keyString(in); got != want {
			t.Errorf("keyString(%v) = %q, want %q", in, got, want)
		}
	}
}
