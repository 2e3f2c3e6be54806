package metadata

// RuleDefinition is the JSON content of a rule.
type RuleDefinition struct {
	// Field rules
	Field    string `json:"field,omitempty" yaml:"field,omitempty"`
	Operator string `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`

	// Expression / computed rules
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`

	// Shared
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
	StopOnFail bool   `json:"stop_on_fail,omitempty" yaml:"stop_on_fail,omitempty"`
}

// Rule represents a validation or computed rule attached to an entity.
type Rule struct {
	ID         string         `json:"id" yaml:"id"`
	Entity     string         `json:"entity" yaml:"entity"`
	Hook       string         `json:"hook" yaml:"hook"`
	Type       string         `json:"type" yaml:"type"` // "field", "expression", "computed"
	Definition RuleDefinition `json:"definition" yaml:"definition"`
	Priority   int            `json:"priority" yaml:"priority"`
	Active     bool           `json:"active" yaml:"active"`

	// Compiled holds the compiled expression program (set lazily, not serialized).
	Compiled any `json:"-" yaml:"-"`
}
