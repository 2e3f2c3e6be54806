package metadata

import (
	"encoding/json"
	"testing"
)

func TestRuleParsing_FieldRule(t *testing.T) {
	raw := `{
		"field": "population",
		"operator": "min",
		"value": 0,
		"message": "Population must be non-negative"
	}`
	var def RuleDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		t.Fatalf("parse field rule: %v", err)
	}
	if def.Field != "population" {
		t.Fatalf("expected field=population, got %s", def.Field)
	}
	if def.Operator != "min" {
		t.Fatalf("expected operator=min, got %s", def.Operator)
	}
	if def.Value != float64(0) {
		t.Fatalf("expected value=0, got %v", def.Value)
	}
}

func TestRuleParsing_ExpressionRule(t *testing.T) {
	raw := `{
		"expression": "record.main == 1 && record.user_id == nil",
		"message": "A main author needs a user",
		"stop_on_fail": true
	}`
	var def RuleDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		t.Fatalf("parse expression rule: %v", err)
	}
	if def.Expression != "record.main == 1 && record.user_id == nil" {
		t.Fatalf("expression mismatch: %s", def.Expression)
	}
	if !def.StopOnFail {
		t.Fatal("expected stop_on_fail=true")
	}
}

func TestRegistryGetRulesForEntity(t *testing.T) {
	reg := NewRegistry()
	reg.LoadRules([]*Rule{
		{ID: "1", Entity: "region", Hook: "before_write", Type: "field", Active: true, Priority: 20},
		{ID: "2", Entity: "region", Hook: "before_write", Type: "expression", Active: true, Priority: 10},
		{ID: "3", Entity: "region", Hook: "before_delete", Type: "expression", Active: true},
		{ID: "4", Entity: "city", Hook: "before_write", Type: "field", Active: true},
		{ID: "5", Entity: "region", Hook: "before_write", Type: "field", Active: false},
	})

	beforeWrite := reg.GetRulesForEntity("region", "before_write")
	if len(beforeWrite) != 2 {
		t.Fatalf("expected 2 active before_write rules for region, got %d", len(beforeWrite))
	}
	if beforeWrite[0].ID != "2" {
		t.Fatalf("expected rules sorted by priority, got %s first", beforeWrite[0].ID)
	}

	if n := len(reg.GetRulesForEntity("region", "before_delete")); n != 1 {
		t.Fatalf("expected 1 before_delete rule for region, got %d", n)
	}
	if n := len(reg.GetRulesForEntity("city", "before_write")); n != 1 {
		t.Fatalf("expected 1 rule for city, got %d", n)
	}
	if n := len(reg.GetRulesForEntity("nonexistent", "before_write")); n != 0 {
		t.Fatalf("expected 0 rules for nonexistent, got %d", n)
	}
}
