package readiness

import "fmt"

// Dimension identifiers for the six closure gates.
const (
	GateDeterminism = "determinism"
	GateIntegrity   = "integrity"
	GateACL         = "acl"
	GateEmulator    = "emulator"
	GatePreflight   = "preflight"
	GatePerfBudget  = "perf_budget"
)

// DefaultGates returns the six closure gates in canonical order.
func DefaultGates() []Gate {
	return []Gate{
		&DeterminismGate{},
		&IntegrityGate{},
		&ACLGate{},
		&EmulatorGate{},
		&PreflightGate{},
		&PerfBudgetGate{},
	}
}

func newResult(id string) *GateResult {
	return &GateResult{
		GateID:  id,
		Pass:    true,
		Reasons: []string{},
		Metrics: GateMetrics{Counts: make(map[string]int)},
	}
}

func fail(res *GateResult, reasons ...string) *GateResult {
	res.Pass = false
	res.Reasons = append(res.Reasons, reasons...)
	return res
}

// DeterminismEvidence holds the state hashes from a live run and from a
// replay of the same ledger.
type DeterminismEvidence struct {
	LiveStateHash   string `json:"live_state_hash"`
	ReplayStateHash string `json:"replay_state_hash"`
}

// DeterminismGate fails when replaying the ledger does not reproduce
// the live state hash.
type DeterminismGate struct{}

func (g *DeterminismGate) ID() string   { return GateDeterminism }
func (g *DeterminismGate) Name() string { return "Deterministic Replay" }

func (g *DeterminismGate) Run(ctx *RunContext) *GateResult {
	res := newResult(g.ID())
	ev := ctx.Evidence.Determinism
	if ev.LiveStateHash == "" || ev.ReplayStateHash == "" {
		return fail(res, "no replay state hashes recorded")
	}
	res.Metrics.Counts["hash_comparisons"] = 1
	if ev.LiveStateHash != ev.ReplayStateHash {
		return fail(res, "live and replay state hashes diverge")
	}
	return res
}

// IntegrityEvidence reports the ledger chain and artifact verification
// outcome for the audited period.
type IntegrityEvidence struct {
	ChainVerified     bool     `json:"chain_verified"`
	ArtifactsVerified bool     `json:"artifacts_verified"`
	Faults            []string `json:"faults,omitempty"`
}

// IntegrityGate fails when chain or artifact verification reported a
// fault.
type IntegrityGate struct{}

func (g *IntegrityGate) ID() string   { return GateIntegrity }
func (g *IntegrityGate) Name() string { return "Ledger and Artifact Integrity" }

func (g *IntegrityGate) Run(ctx *RunContext) *GateResult {
	res := newResult(g.ID())
	ev := ctx.Evidence.Integrity
	if !ev.ChainVerified {
		fail(res, "event chain verification failed")
	}
	if !ev.ArtifactsVerified {
		fail(res, "artifact hash verification failed")
	}
	if !res.Pass {
		res.Reasons = append(res.Reasons, ev.Faults...)
	}
	return res
}

// ACLProbe is one boundary probe run against the memory gate before the
// readiness check. Want records the verdict the probe must produce.
type ACLProbe struct {
	Name    string `json:"name"`
	Allowed bool   `json:"allowed"`
	Want    bool   `json:"want"`
}

// ACLGate fails when any isolation probe produced the wrong verdict, or
// when no probes ran at all.
type ACLGate struct{}

func (g *ACLGate) ID() string   { return GateACL }
func (g *ACLGate) Name() string { return "Tenant Isolation Probes" }

func (g *ACLGate) Run(ctx *RunContext) *GateResult {
	res := newResult(g.ID())
	probes := ctx.Evidence.ACL
	if len(probes) == 0 {
		return fail(res, "no isolation probes recorded")
	}
	res.Metrics.Counts["probes"] = len(probes)
	for _, p := range probes {
		if p.Allowed != p.Want {
			fail(res, fmt.Sprintf("probe %s: got allowed=%t, want %t", p.Name, p.Allowed, p.Want))
		}
	}
	return res
}

// EmulatorEvidence reports the outcome of an end-to-end emulator cycle.
type EmulatorEvidence struct {
	Ran       bool     `json:"ran"`
	Completed bool     `json:"completed"`
	Envelopes int      `json:"envelopes"`
	Faults    []string `json:"faults,omitempty"`
}

// EmulatorGate fails unless an emulator cycle ran to completion and
// produced at least one decision envelope.
type EmulatorGate struct{}

func (g *EmulatorGate) ID() string   { return GateEmulator }
func (g *EmulatorGate) Name() string { return "End-to-End Emulator Cycle" }

func (g *EmulatorGate) Run(ctx *RunContext) *GateResult {
	res := newResult(g.ID())
	ev := ctx.Evidence.Emulator
	if !ev.Ran {
		return fail(res, "emulator cycle never ran")
	}
	if !ev.Completed {
		fail(res, "emulator cycle did not complete")
		res.Reasons = append(res.Reasons, ev.Faults...)
		return res
	}
	res.Metrics.Counts["envelopes"] = ev.Envelopes
	if ev.Envelopes == 0 {
		fail(res, "emulator cycle produced no decision envelope")
	}
	return res
}

// PreflightCheck is one startup check, e.g. a compiled rule table or a
// registered skill set.
type PreflightCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// PreflightGate fails when any startup check failed, or when none ran.
type PreflightGate struct{}

func (g *PreflightGate) ID() string   { return GatePreflight }
func (g *PreflightGate) Name() string { return "Configuration Preflight" }

func (g *PreflightGate) Run(ctx *RunContext) *GateResult {
	res := newResult(g.ID())
	checks := ctx.Evidence.Preflight
	if len(checks) == 0 {
		return fail(res, "no preflight checks recorded")
	}
	res.Metrics.Counts["checks"] = len(checks)
	for _, c := range checks {
		if c.OK {
			continue
		}
		reason := fmt.Sprintf("preflight %s failed", c.Name)
		if c.Detail != "" {
			reason = fmt.Sprintf("preflight %s failed: %s", c.Name, c.Detail)
		}
		fail(res, reason)
	}
	return res
}

// PerfEvidence pairs the declared budget with the measured replay
// benchmark. A nil benchmark means no measurement was taken.
type PerfEvidence struct {
	Budget PerfBudget       `json:"budget"`
	Bench  *BenchmarkResult `json:"bench,omitempty"`
}

// PerfBudgetGate fails when the replay benchmark violates any declared
// budget dimension. Every violation is reported.
type PerfBudgetGate struct{}

func (g *PerfBudgetGate) ID() string   { return GatePerfBudget }
func (g *PerfBudgetGate) Name() string { return "Replay Performance Budget" }

func (g *PerfBudgetGate) Run(ctx *RunContext) *GateResult {
	res := newResult(g.ID())
	ev := ctx.Evidence.Perf
	if ev.Bench == nil {
		return fail(res, "no benchmark recorded")
	}
	report := EvaluateBudget(ev.Budget, *ev.Bench)
	res.Metrics.Counts["violations"] = len(report.Violations)
	res.Details = map[string]any{
		"operations":    ev.Bench.Operations,
		"avg_ms":        float64(ev.Bench.Avg) / 1e6,
		"p95_ms":        float64(ev.Bench.P95) / 1e6,
		"throughput_ps": ev.Bench.Throughput,
	}
	if !report.Pass {
		fail(res, report.Violations...)
	}
	return res
}
