// Package policy is the deterministic decision gate. A table of rules is
// built once, frozen, and consulted with plain values; evaluation never
// mutates the table, so concurrent readers need no locking.
//
// Every verdict carries a machine-readable code and human-readable
// reasons: an operator can always tell "policy disabled" from "confidence
// too low" from "guard rejected".
package policy

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"
)

// Deny codes.
const (
	CodeUnknownPath   = "POLICY_UNKNOWN_PATH"
	CodeDisabled      = "POLICY_DISABLED"
	CodeConfidenceLow = "POLICY_CONFIDENCE_LOW"
	CodeGuardRejected = "POLICY_GUARD_REJECTED"
)

// Rule is one policy entry. Guard is an optional CEL expression over
// {path, confidence, attrs}; it must evaluate to true for the rule to
// allow.
type Rule struct {
	Path          string  `json:"path"`
	Enabled       bool    `json:"enabled"`
	MinConfidence float64 `json:"min_confidence"`
	Guard         string  `json:"guard,omitempty"`
}

// Verdict is the outcome of one evaluation.
type Verdict struct {
	Path    string   `json:"path"`
	Allowed bool     `json:"allowed"`
	Code    string   `json:"code,omitempty"`
	Reasons []string `json:"reasons"`
}

type compiledPolicy struct {
	rule  Rule
	guard cel.Program
}

// Table is a frozen policy table.
type Table struct {
	rules map[string]compiledPolicy
}

// Builder accumulates rules for a table. Chain Add calls and finish with
// Build; problems surface there, not during evaluation.
type Builder struct {
	rules []Rule
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends a rule. Returns the builder for chaining.
func (b *Builder) Add(rule Rule) *Builder {
	b.rules = append(b.rules, rule)
	return b
}

// Build validates the accumulated rules, compiles their guards and freezes
// the table. Duplicate paths, empty paths, out-of-range confidence minimums
// and uncompilable guards are configuration errors.
func (b *Builder) Build() (*Table, error) {
	env, err := cel.NewEnv(
		cel.Variable("path", cel.StringType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: create guard environment: %w", err)
	}

	table := &Table{rules: make(map[string]compiledPolicy, len(b.rules))}
	for _, rule := range b.rules {
		if rule.Path == "" {
			return nil, fmt.Errorf("policy: rule with empty path")
		}
		if rule.MinConfidence < 0 || rule.MinConfidence > 1 {
			return nil, fmt.Errorf("policy: rule %q min_confidence %v outside [0, 1]", rule.Path, rule.MinConfidence)
		}
		if _, dup := table.rules[rule.Path]; dup {
			return nil, fmt.Errorf("policy: duplicate path %q", rule.Path)
		}

		compiled := compiledPolicy{rule: rule}
		if rule.Guard != "" {
			ast, issues := env.Compile(rule.Guard)
			if issues != nil && issues.Err() != nil {
				return nil, fmt.Errorf("policy: rule %q guard: %w", rule.Path, issues.Err())
			}
			prg, err := env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				return nil, fmt.Errorf("policy: rule %q guard program: %w", rule.Path, err)
			}
			compiled.guard = prg
		}
		table.rules[rule.Path] = compiled
	}
	return table, nil
}

// Paths returns the table's policy paths in sorted order.
func (t *Table) Paths() []string {
	paths := make([]string, 0, len(t.rules))
	for p := range t.rules {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Evaluate gates one decision. Unknown paths deny; disabled rules deny;
// confidence below the rule's minimum denies; a guard that evaluates to
// anything but true denies. A guard that cannot evaluate also denies: the
// gate fails closed.
func (t *Table) Evaluate(path string, confidence float64, attrs map[string]interface{}) Verdict {
	compiled, ok := t.rules[path]
	if !ok {
		return Verdict{
			Path:    path,
			Code:    CodeUnknownPath,
			Reasons: []string{fmt.Sprintf("no policy registered for path %q", path)},
		}
	}
	rule := compiled.rule
	if !rule.Enabled {
		return Verdict{
			Path:    path,
			Code:    CodeDisabled,
			Reasons: []string{fmt.Sprintf("policy %q is disabled", path)},
		}
	}
	if confidence < rule.MinConfidence {
		return Verdict{
			Path:    path,
			Code:    CodeConfidenceLow,
			Reasons: []string{fmt.Sprintf("confidence %.4f below minimum %.4f", confidence, rule.MinConfidence)},
		}
	}
	if compiled.guard != nil {
		if attrs == nil {
			attrs = map[string]interface{}{}
		}
		out, _, err := compiled.guard.Eval(map[string]interface{}{
			"path":       path,
			"confidence": confidence,
			"attrs":      attrs,
		})
		if err != nil {
			return Verdict{
				Path:    path,
				Code:    CodeGuardRejected,
				Reasons: []string{fmt.Sprintf("guard evaluation failed: %v", err)},
			}
		}
		if allowed, ok := out.Value().(bool); !ok || !allowed {
			return Verdict{
				Path:    path,
				Code:    CodeGuardRejected,
				Reasons: []string{fmt.Sprintf("guard %q rejected the request", rule.Guard)},
			}
		}
	}
	return Verdict{
		Path:    path,
		Allowed: true,
		Reasons: []string{fmt.Sprintf("confidence %.4f meets minimum %.4f", confidence, rule.MinConfidence)},
	}
}
