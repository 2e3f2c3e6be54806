package engine

import (
	"fmt"
	"regexp"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"rocket-nested/internal/metadata"
)

// evaluateRules runs the active rules of one hook in three passes: field
// rules, then expression rules, then computed fields. Computed fields only
// run when nothing failed and are written back into fields.
func evaluateRules(rules []*metadata.Rule, fields, old map[string]any, isCreate bool) []ErrorDetail {
	action := "update"
	if isCreate {
		action = "create"
	}
	env := map[string]any{
		"record": fields,
		"old":    old,
		"action": action,
	}

	var errs []ErrorDetail
	for _, pass := range []string{"field", "expression"} {
		for _, r := range rules {
			if r.Type != pass {
				continue
			}
			var detail *ErrorDetail
			if pass == "field" {
				detail = EvaluateFieldRule(r, fields)
			} else {
				detail = EvaluateExpressionRule(r, env)
			}
			if detail == nil {
				continue
			}
			errs = append(errs, *detail)
			if r.Definition.StopOnFail {
				return errs
			}
		}
	}
	if len(errs) > 0 {
		return errs
	}

	for _, r := range rules {
		if r.Type != "computed" {
			continue
		}
		val, err := EvaluateComputedField(r, env)
		if err != nil {
			errs = append(errs, ErrorDetail{Field: r.Definition.Field, Rule: "computed", Message: err.Error()})
			continue
		}
		fields[r.Definition.Field] = val
	}
	return errs
}

// EvaluateFieldRule evaluates a single field rule against a record.
// Absent fields pass; use Field.Required for presence.
func EvaluateFieldRule(rule *metadata.Rule, record map[string]any) *ErrorDetail {
	fieldName := rule.Definition.Field
	val, exists := record[fieldName]
	if !exists || val == nil {
		return nil
	}

	op := rule.Definition.Operator
	msg := rule.Definition.Message
	if msg == "" {
		msg = fmt.Sprintf("field %s failed %s validation", fieldName, op)
	}
	fail := &ErrorDetail{Field: fieldName, Rule: op, Message: msg}

	switch op {
	case "min", "max":
		num, ok1 := toFloat64(val)
		threshold, ok2 := toFloat64(rule.Definition.Value)
		if !ok1 || !ok2 {
			return nil
		}
		if (op == "min" && num < threshold) || (op == "max" && num > threshold) {
			return fail
		}

	case "min_length", "max_length":
		s, ok1 := val.(string)
		threshold, ok2 := toFloat64(rule.Definition.Value)
		if !ok1 || !ok2 {
			return nil
		}
		n := len([]rune(s))
		if (op == "min_length" && n < int(threshold)) || (op == "max_length" && n > int(threshold)) {
			return fail
		}

	case "pattern":
		s, ok1 := val.(string)
		pattern, ok2 := rule.Definition.Value.(string)
		if !ok1 || !ok2 {
			return nil
		}
		matched, err := regexp.MatchString(pattern, s)
		if err != nil || !matched {
			return fail
		}

	case "in", "not_in":
		options, ok := rule.Definition.Value.([]any)
		if !ok {
			return nil
		}
		found := false
		for _, o := range options {
			if keyString(o) == keyString(val) {
				found = true
				break
			}
		}
		if found != (op == "in") {
			return fail
		}
	}

	return nil
}

// CompileExpression compiles a boolean rule expression.
func CompileExpression(expression string) (*vm.Program, error) {
	prog, err := expr.Compile(expression, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	return prog, nil
}

// EvaluateExpressionRule runs an expression rule against env (record, old,
// action). The rule is violated when the expression evaluates to true.
func EvaluateExpressionRule(rule *metadata.Rule, env map[string]any) *ErrorDetail {
	prog, ok := rule.Compiled.(*vm.Program)
	if !ok || prog == nil {
		compiled, err := CompileExpression(rule.Definition.Expression)
		if err != nil {
			return &ErrorDetail{Rule: "expression", Message: fmt.Sprintf("compile error: %v", err)}
		}
		rule.Compiled = compiled
		prog = compiled
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return &ErrorDetail{Rule: "expression", Message: fmt.Sprintf("rule evaluation error: %v", err)}
	}
	if violated, _ := result.(bool); !violated {
		return nil
	}

	msg := rule.Definition.Message
	if msg == "" {
		msg = "Expression rule violated"
	}
	return &ErrorDetail{Field: rule.Definition.Field, Rule: "expression", Message: msg}
}

// CompileComputedExpression compiles an expression for a computed field.
func CompileComputedExpression(expression string) (*vm.Program, error) {
	prog, err := expr.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("compile computed expression: %w", err)
	}
	return prog, nil
}

// EvaluateComputedField evaluates a computed field rule and returns its value.
func EvaluateComputedField(rule *metadata.Rule, env map[string]any) (any, error) {
	prog, ok := rule.Compiled.(*vm.Program)
	if !ok || prog == nil {
		compiled, err := CompileComputedExpression(rule.Definition.Expression)
		if err != nil {
			return nil, err
		}
		rule.Compiled = compiled
		prog = compiled
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate computed field %s: %w", rule.Definition.Field, err)
	}
	return result, nil
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// keyString is the comparison form of a key or attribute value, so that a
// decoded JSON 5 (float64) matches a stored 5 (int64).
func keyString(v any) string {
	if f, ok := toFloat64(v); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", v)
}
