// Package validation checks candidate outputs against per-step schema rules
// and reports a pass rate for confidence aggregation.
package validation

import (
	"strings"

	"github.com/halcyonlabs/extractd/internal/worker"
)

// Kind names the expected JSON type of a field.
type Kind string

const (
	KindAny    Kind = ""
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindArray  Kind = "array"
	KindObject Kind = "object"
)

// Rule is one schema constraint on an output field.
type Rule struct {
	Field    string `koanf:"field" json:"field"`
	Required bool   `koanf:"required" json:"required"`
	Kind     Kind   `koanf:"kind" json:"kind"`
}

// Validator holds rules per step kind. Configuration is read-only after
// construction and safe to share across concurrent document pipelines.
type Validator struct {
	rules map[string][]Rule
}

// New creates a validator from per-step-kind rules.
func New(rules map[string][]Rule) *Validator {
	return &Validator{rules: rules}
}

// PassRate checks the output against the step's rules and returns the
// fraction that passed, or nil when no rules are configured for the step
// kind (the source is then unavailable, not zero).
func (v *Validator) PassRate(stepKind string, out *worker.Output) *float64 {
	rules := v.rules[stepKind]
	if len(rules) == 0 || out == nil {
		return nil
	}

	passed := 0
	for _, rule := range rules {
		if checkRule(rule, out.Fields) {
			passed++
		}
	}
	rate := float64(passed) / float64(len(rules))
	return &rate
}

func checkRule(rule Rule, fields map[string]any) bool {
	val, present := fields[rule.Field]
	if !present || val == nil {
		return !rule.Required
	}
	if isEmpty(val) && rule.Required {
		return false
	}
	return matchesKind(rule.Kind, val)
}

func isEmpty(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func matchesKind(kind Kind, v any) bool {
	switch kind {
	case KindAny:
		return true
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindArray:
		_, ok := v.([]any)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return false
	}
}
