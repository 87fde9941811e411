// Package pattern evaluates the detection rule DSL over metric series and
// scores the signals that come out.
//
// A condition judges the newest sample of its metric and contributes its
// trailing window length as evidence. A rule matches when every condition
// passes and the summed evidence reaches the rule's minimum. Rules are
// compiled once into a frozen engine; malformed rules fail construction,
// not evaluation.
package pattern

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/ledgerline/cortex/pkg/canonical"
	"github.com/ledgerline/cortex/pkg/contracts"
)

// Comparator is the comparison operator of a rule condition.
type Comparator string

const (
	CompGT  Comparator = ">"
	CompGTE Comparator = ">="
	CompLT  Comparator = "<"
	CompLTE Comparator = "<="
	CompEQ  Comparator = "="
)

// Valid reports whether c is a defined comparator.
func (c Comparator) Valid() bool {
	switch c {
	case CompGT, CompGTE, CompLT, CompLTE, CompEQ:
		return true
	default:
		return false
	}
}

// Apply evaluates value against threshold.
func (c Comparator) Apply(value, threshold float64) bool {
	switch c {
	case CompGT:
		return value > threshold
	case CompGTE:
		return value >= threshold
	case CompLT:
		return value < threshold
	case CompLTE:
		return value <= threshold
	case CompEQ:
		return value == threshold
	default:
		return false
	}
}

// Condition is one clause of a rule: the trailing OverPeriods values of
// Metric, judged by Comparator against Threshold.
type Condition struct {
	Metric      string     `json:"metric"`
	Comparator  Comparator `json:"comparator"`
	Threshold   float64    `json:"threshold"`
	OverPeriods int        `json:"over_periods"`
}

// Rule is one detection rule. Where is an optional CEL guard over
// {tenant, metrics, evidence}; a guard that evaluates to anything but true
// vetoes the match.
type Rule struct {
	ID               string      `json:"id"`
	When             []Condition `json:"when"`
	MinEvidenceCount int         `json:"min_evidence_count"`
	ThenEmit         string      `json:"then_emit"`
	Where            string      `json:"where,omitempty"`
}

// Validate checks the rule's shape.
func (r Rule) Validate() contracts.ValidationResult {
	var errs []string
	if r.ID == "" {
		errs = append(errs, "rule id is required")
	}
	if len(r.When) == 0 {
		errs = append(errs, "rule must have at least one condition")
	}
	for i, c := range r.When {
		if c.Metric == "" {
			errs = append(errs, fmt.Sprintf("condition %d: metric is required", i))
		}
		if !c.Comparator.Valid() {
			errs = append(errs, fmt.Sprintf("condition %d: comparator %q is not one of >, >=, <, <=, =", i, c.Comparator))
		}
		if c.OverPeriods <= 0 {
			errs = append(errs, fmt.Sprintf("condition %d: over_periods must be positive", i))
		}
	}
	if r.MinEvidenceCount < 1 {
		errs = append(errs, "min_evidence_count must be at least 1")
	}
	if r.ThenEmit == "" {
		errs = append(errs, "then_emit is required")
	}
	if len(errs) > 0 {
		return contracts.ValidationResult{Valid: false, Errors: errs}
	}
	return contracts.ValidationResult{Valid: true}
}

// SeriesSet holds metric series for one tenant, oldest value first. Keys are
// NFC-folded at ingest so visually identical metric names land in one series.
type SeriesSet map[string][]float64

// NewSeriesSet returns an empty set.
func NewSeriesSet() SeriesSet {
	return make(SeriesSet)
}

// Add appends values to a metric series.
func (s SeriesSet) Add(metric string, values ...float64) {
	key := canonical.FoldKey(metric)
	s[key] = append(s[key], values...)
}

// Window returns the trailing n values of a metric, or the whole series when
// it is shorter than n.
func (s SeriesSet) Window(metric string, n int) []float64 {
	values := s[canonical.FoldKey(metric)]
	if n <= 0 || len(values) == 0 {
		return nil
	}
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

// Latest returns the newest value of a metric and whether one exists.
func (s SeriesSet) Latest(metric string) (float64, bool) {
	values := s[canonical.FoldKey(metric)]
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}

// ConditionResult records how one condition evaluated.
type ConditionResult struct {
	Metric    string  `json:"metric"`
	Latest    float64 `json:"latest"`
	WindowLen int     `json:"window_len"`
	Passed    bool    `json:"passed"`
}

// Match is a successful rule evaluation. EvidenceCount is the sum of the
// window lengths across all conditions.
type Match struct {
	RuleID        string            `json:"rule_id"`
	Signal        string            `json:"signal"`
	EvidenceCount int               `json:"evidence_count"`
	Conditions    []ConditionResult `json:"conditions"`
}

type compiledRule struct {
	rule  Rule
	guard cel.Program // nil when the rule has no Where clause
}

// Engine evaluates a frozen rule set. Built once at startup; rule problems
// are construction errors, never evaluation surprises.
type Engine struct {
	rules []compiledRule
}

// NewEngine validates and compiles the rules. Duplicate rule ids, malformed
// rules and uncompilable guards are all fatal here.
func NewEngine(rules []Rule) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tenant", cel.StringType),
		cel.Variable("metrics", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("evidence", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("pattern: create guard environment: %w", err)
	}

	engine := &Engine{rules: make([]compiledRule, 0, len(rules))}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if res := r.Validate(); !res.Valid {
			return nil, fmt.Errorf("pattern: rule %q invalid: %v", r.ID, res.Errors)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("pattern: duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true

		compiled := compiledRule{rule: r}
		if r.Where != "" {
			ast, issues := env.Compile(r.Where)
			if issues != nil && issues.Err() != nil {
				return nil, fmt.Errorf("pattern: rule %q guard: %w", r.ID, issues.Err())
			}
			prg, err := env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				return nil, fmt.Errorf("pattern: rule %q guard program: %w", r.ID, err)
			}
			compiled.guard = prg
		}
		engine.rules = append(engine.rules, compiled)
	}
	return engine, nil
}

// Rules returns the rule definitions in registration order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	for i, c := range e.rules {
		out[i] = c.rule
	}
	return out
}

// Evaluate runs every rule against the series set, in registration order.
// The same input always yields the same matches in the same order.
func (e *Engine) Evaluate(tenantID string, series SeriesSet) ([]Match, error) {
	var matches []Match
	for _, c := range e.rules {
		match, ok, err := e.evaluateRule(c, tenantID, series)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, match)
		}
	}
	return matches, nil
}

func (e *Engine) evaluateRule(c compiledRule, tenantID string, series SeriesSet) (Match, bool, error) {
	evidence := 0
	results := make([]ConditionResult, 0, len(c.rule.When))

	for _, cond := range c.rule.When {
		window := series.Window(cond.Metric, cond.OverPeriods)
		if len(window) == 0 {
			return Match{}, false, nil
		}
		latest := window[len(window)-1]
		if !cond.Comparator.Apply(latest, cond.Threshold) {
			return Match{}, false, nil
		}
		evidence += len(window)
		results = append(results, ConditionResult{
			Metric:    canonical.FoldKey(cond.Metric),
			Latest:    latest,
			WindowLen: len(window),
			Passed:    true,
		})
	}

	if evidence < c.rule.MinEvidenceCount {
		return Match{}, false, nil
	}

	if c.guard != nil {
		latest := make(map[string]float64, len(series))
		for metric, values := range series {
			if len(values) > 0 {
				latest[metric] = values[len(values)-1]
			}
		}
		out, _, err := c.guard.Eval(map[string]interface{}{
			"tenant":   tenantID,
			"metrics":  latest,
			"evidence": int64(evidence),
		})
		if err != nil {
			return Match{}, false, fmt.Errorf("pattern: rule %q guard eval: %w", c.rule.ID, err)
		}
		allowed, ok := out.Value().(bool)
		if !ok || !allowed {
			return Match{}, false, nil
		}
	}

	return Match{
		RuleID:        c.rule.ID,
		Signal:        c.rule.ThenEmit,
		EvidenceCount: evidence,
		Conditions:    results,
	}, true, nil
}
