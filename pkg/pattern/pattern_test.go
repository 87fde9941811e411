package pattern

import (
	"strings"
	"testing"
)

func costVarianceRule() Rule {
	return Rule{
		ID: "cost-variance-spike",
		When: []Condition{
			{Metric: "cost_variance_pct", Comparator: CompGT, Threshold: 0.1, OverPeriods: 3},
		},
		MinEvidenceCount: 3,
		ThenEmit:         "cost_variance_breach",
	}
}

func TestRuleMatchesTrailingWindow(t *testing.T) {
	engine, err := NewEngine([]Rule{costVarianceRule()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	series := NewSeriesSet()
	series.Add("cost_variance_pct", 0.05, 0.12, 0.15)

	matches, err := engine.Evaluate("tenant-a", series)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}
	m := matches[0]
	if m.RuleID != "cost-variance-spike" {
		t.Errorf("rule id = %q", m.RuleID)
	}
	if m.Signal != "cost_variance_breach" {
		t.Errorf("signal = %q", m.Signal)
	}
	if m.EvidenceCount != 3 {
		t.Errorf("evidence count = %d, want 3", m.EvidenceCount)
	}
	if len(m.Conditions) != 1 || m.Conditions[0].Latest != 0.15 {
		t.Errorf("condition results = %+v", m.Conditions)
	}
}

func TestRuleLatestValueGates(t *testing.T) {
	// Window values above threshold do not matter when the latest sample
	// has fallen back under it.
	engine, err := NewEngine([]Rule{costVarianceRule()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	series := NewSeriesSet()
	series.Add("cost_variance_pct", 0.12, 0.15, 0.05)

	matches, err := engine.Evaluate("tenant-a", series)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no match, got %+v", matches)
	}
}

func TestRuleEmptyWindowNoMatch(t *testing.T) {
	engine, err := NewEngine([]Rule{costVarianceRule()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	matches, err := engine.Evaluate("tenant-a", NewSeriesSet())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no match on empty series, got %+v", matches)
	}
}

func TestRuleMinEvidenceGates(t *testing.T) {
	rule := costVarianceRule()
	rule.MinEvidenceCount = 4

	engine, err := NewEngine([]Rule{rule})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	series := NewSeriesSet()
	series.Add("cost_variance_pct", 0.12, 0.15)

	matches, err := engine.Evaluate("tenant-a", series)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected evidence 2 < 4 to suppress the match, got %+v", matches)
	}
}

func TestRuleMultipleConditionsAccumulateEvidence(t *testing.T) {
	rule := Rule{
		ID: "margin-and-variance",
		When: []Condition{
			{Metric: "cost_variance_pct", Comparator: CompGT, Threshold: 0.1, OverPeriods: 3},
			{Metric: "margin_drop_pct", Comparator: CompGTE, Threshold: 0.05, OverPeriods: 2},
		},
		MinEvidenceCount: 5,
		ThenEmit:         "margin_erosion",
	}
	engine, err := NewEngine([]Rule{rule})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	series := NewSeriesSet()
	series.Add("cost_variance_pct", 0.05, 0.12, 0.15)
	series.Add("margin_drop_pct", 0.06, 0.08)

	matches, err := engine.Evaluate("tenant-a", series)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}
	if matches[0].EvidenceCount != 5 {
		t.Errorf("evidence count = %d, want 5 (3+2)", matches[0].EvidenceCount)
	}

	// One failing condition suppresses the whole rule.
	series["margin_drop_pct"] = []float64{0.06, 0.01}
	matches, err = engine.Evaluate("tenant-a", series)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected failing second condition to suppress match, got %+v", matches)
	}
}

func TestRuleShortSeriesCountsActualWindow(t *testing.T) {
	rule := costVarianceRule()
	rule.MinEvidenceCount = 2

	engine, err := NewEngine([]Rule{rule})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	series := NewSeriesSet()
	series.Add("cost_variance_pct", 0.12, 0.15)

	matches, err := engine.Evaluate("tenant-a", series)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}
	if matches[0].EvidenceCount != 2 {
		t.Errorf("evidence count = %d, want 2 for a two-sample series", matches[0].EvidenceCount)
	}
}

func TestGuardVetoesMatch(t *testing.T) {
	allow := costVarianceRule()
	allow.ID = "with-open-guard"
	allow.Where = `tenant == "tenant-a" && evidence >= 3`

	veto := costVarianceRule()
	veto.ID = "with-closed-guard"
	veto.Where = `metrics["cost_variance_pct"] > 0.5`

	engine, err := NewEngine([]Rule{allow, veto})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	series := NewSeriesSet()
	series.Add("cost_variance_pct", 0.05, 0.12, 0.15)

	matches, err := engine.Evaluate("tenant-a", series)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly the open-guard match, got %+v", matches)
	}
	if matches[0].RuleID != "with-open-guard" {
		t.Errorf("matched rule = %q", matches[0].RuleID)
	}

	// Same input, different tenant: the tenant guard now vetoes too.
	matches, err = engine.Evaluate("tenant-b", series)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected tenant guard to veto, got %+v", matches)
	}
}

func TestEvaluateDeterministicOrder(t *testing.T) {
	first := costVarianceRule()
	first.ID = "zz-first-registered"
	second := costVarianceRule()
	second.ID = "aa-second-registered"

	engine, err := NewEngine([]Rule{first, second})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	series := NewSeriesSet()
	series.Add("cost_variance_pct", 0.12, 0.15, 0.2)

	for i := 0; i < 5; i++ {
		matches, err := engine.Evaluate("tenant-a", series)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if len(matches) != 2 {
			t.Fatalf("expected both rules to match, got %d", len(matches))
		}
		if matches[0].RuleID != "zz-first-registered" || matches[1].RuleID != "aa-second-registered" {
			t.Fatalf("matches not in registration order: %q, %q", matches[0].RuleID, matches[1].RuleID)
		}
	}
}

func TestNewEngineRejectsBadRules(t *testing.T) {
	cases := []struct {
		name string
		rule Rule
		want string
	}{
		{
			name: "missing id",
			rule: Rule{When: []Condition{{Metric: "m", Comparator: CompGT, Threshold: 1, OverPeriods: 1}}, MinEvidenceCount: 1, ThenEmit: "s"},
			want: "invalid",
		},
		{
			name: "no conditions",
			rule: Rule{ID: "r", MinEvidenceCount: 1, ThenEmit: "s"},
			want: "invalid",
		},
		{
			name: "bad comparator",
			rule: Rule{ID: "r", When: []Condition{{Metric: "m", Comparator: "!=", Threshold: 1, OverPeriods: 1}}, MinEvidenceCount: 1, ThenEmit: "s"},
			want: "invalid",
		},
		{
			name: "zero periods",
			rule: Rule{ID: "r", When: []Condition{{Metric: "m", Comparator: CompGT, Threshold: 1, OverPeriods: 0}}, MinEvidenceCount: 1, ThenEmit: "s"},
			want: "invalid",
		},
		{
			name: "zero min evidence",
			rule: Rule{ID: "r", When: []Condition{{Metric: "m", Comparator: CompGT, Threshold: 1, OverPeriods: 1}}, MinEvidenceCount: 0, ThenEmit: "s"},
			want: "invalid",
		},
		{
			name: "missing emit",
			rule: Rule{ID: "r", When: []Condition{{Metric: "m", Comparator: CompGT, Threshold: 1, OverPeriods: 1}}, MinEvidenceCount: 1},
			want: "invalid",
		},
		{
			name: "uncompilable guard",
			rule: Rule{ID: "r", When: []Condition{{Metric: "m", Comparator: CompGT, Threshold: 1, OverPeriods: 1}}, MinEvidenceCount: 1, ThenEmit: "s", Where: "evidence >>> 2"},
			want: "guard",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEngine([]Rule{tc.rule})
			if err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestNewEngineRejectsDuplicateIDs(t *testing.T) {
	r := costVarianceRule()
	_, err := NewEngine([]Rule{r, r})
	if err == nil {
		t.Fatal("expected duplicate rule id to be rejected")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error %q does not mention duplicate", err)
	}
}

func TestSeriesSetFoldsKeys(t *testing.T) {
	series := NewSeriesSet()
	// NFD "é" (e + combining acute) and NFC "é" must land in one series.
	series.Add("laténcia", 0.1)
	series.Add("laténcia", 0.2)

	window := series.Window("laténcia", 5)
	if len(window) != 2 {
		t.Fatalf("expected folded series of 2 values, got %v", window)
	}
	latest, ok := series.Latest("laténcia")
	if !ok || latest != 0.2 {
		t.Errorf("Latest = %v, %v", latest, ok)
	}
}

func TestComparators(t *testing.T) {
	cases := []struct {
		comp      Comparator
		value     float64
		threshold float64
		want      bool
	}{
		{CompGT, 0.2, 0.1, true},
		{CompGT, 0.1, 0.1, false},
		{CompGTE, 0.1, 0.1, true},
		{CompLT, 0.05, 0.1, true},
		{CompLT, 0.1, 0.1, false},
		{CompLTE, 0.1, 0.1, true},
		{CompEQ, 0.1, 0.1, true},
		{CompEQ, 0.2, 0.1, false},
	}
	for _, tc := range cases {
		if got := tc.comp.Apply(tc.value, tc.threshold); got != tc.want {
			t.Errorf("%v %s %v = %v, want %v", tc.value, tc.comp, tc.threshold, got, tc.want)
		}
	}
	if Comparator("!=").Valid() {
		t.Error("!= should not be a valid comparator")
	}
}
