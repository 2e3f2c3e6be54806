package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"rocket-nested/internal/instrument"
	"rocket-nested/internal/metadata"
)

// Validator decides whether the attributes about to be written for one
// entity are acceptable. fields holds only the attributes being written;
// old holds the stored row on update and is empty on create. A validator
// may add computed attributes to fields.
type Validator interface {
	Validate(ctx context.Context, entity *metadata.Entity, fields, old map[string]any, isCreate bool) []ErrorDetail
}

// RuleValidator checks field metadata (required, type, enum) and then the
// entity's before_write rules from the registry.
type RuleValidator struct {
	registry *metadata.Registry
}

func NewRuleValidator(reg *metadata.Registry) *RuleValidator {
	return &RuleValidator{registry: reg}
}

func (v *RuleValidator) Validate(ctx context.Context, entity *metadata.Entity, fields, old map[string]any, isCreate bool) []ErrorDetail {
	_, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "rules", "rules.evaluate")
	defer span.End()
	span.SetEntity(entity.Name, "")

	errs := ValidateFields(entity, fields, isCreate)
	if len(errs) == 0 {
		errs = evaluateRules(v.registry.GetRulesForEntity(entity.Name, "before_write"), fields, old, isCreate)
	}
	if len(errs) > 0 {
		span.SetStatus("error")
	} else {
		span.SetStatus("ok")
	}
	return errs
}

// ValidateFields applies the constraints declared on the entity's fields.
// On create a required field must be present and non-empty unless it has a
// default; on update it may be omitted but not cleared.
func ValidateFields(entity *metadata.Entity, fields map[string]any, isCreate bool) []ErrorDetail {
	var errs []ErrorDetail
	for _, f := range entity.Fields {
		if f.IsAuto() || (f.Name == entity.PrimaryKey.Field && entity.PrimaryKey.Generated) {
			continue
		}
		v, present := fields[f.Name]

		if f.Required && blank(v) {
			if (isCreate && f.Default == nil) || (!isCreate && present) {
				errs = append(errs, ErrorDetail{Field: f.Name, Rule: "required", Message: fmt.Sprintf("%s is required", f.Name)})
			}
			continue
		}
		if v == nil {
			continue
		}
		if !typeMatches(f.Type, v) {
			errs = append(errs, ErrorDetail{Field: f.Name, Rule: "type", Message: fmt.Sprintf("%s must be of type %s", f.Name, f.Type)})
			continue
		}
		if len(f.Enum) > 0 && !inEnum(f.Enum, v) {
			errs = append(errs, ErrorDetail{
				Field:   f.Name,
				Rule:    "enum",
				Message: fmt.Sprintf("%s must be one of: %s", f.Name, strings.Join(f.Enum, ", ")),
			})
		}
	}
	return errs
}

func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func typeMatches(typ string, v any) bool {
	switch typ {
	case "int", "integer", "bigint":
		switch n := v.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == math.Trunc(n)
		case json.Number:
			_, err := n.Int64()
			return err == nil
		}
		return false
	case "decimal", "float":
		if _, ok := v.(json.Number); ok {
			return true
		}
		_, ok := toFloat64(v)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "string", "text", "uuid":
		_, ok := v.(string)
		return ok
	case "timestamp", "date":
		switch v.(type) {
		case string, time.Time:
			return true
		}
		return false
	}
	return true
}

func inEnum(enum []string, v any) bool {
	s := fmt.Sprintf("%v", v)
	for _, e := range enum {
		if e == s {
			return true
		}
	}
	return false
}
