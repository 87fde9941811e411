// Package readiness runs the closure scoreboard that gates promotion of
// a tenant to higher autonomy tiers.
//
// Six fixed dimensions are checked: determinism, integrity, acl,
// emulator, preflight and perf_budget. The scoreboard is ready only when
// every dimension passes, and a freeze candidate is approved only
// against a ready scoreboard.
package readiness

import (
	"time"
)

// Gate is one readiness dimension. Gates must not panic; every failure
// is expressed through the GateResult.
type Gate interface {
	// ID returns the stable dimension identifier (e.g. "determinism").
	ID() string

	// Name returns a human-readable name.
	Name() string

	// Run checks the gate's dimension against the run context.
	Run(ctx *RunContext) *GateResult
}

// GateResult is a single gate's verdict.
type GateResult struct {
	GateID  string         `json:"gate_id"`
	Pass    bool           `json:"pass"`
	Reasons []string       `json:"reasons"`
	Metrics GateMetrics    `json:"metrics"`
	Details map[string]any `json:"details,omitempty"`
}

// GateMetrics captures timing and count data per gate.
type GateMetrics struct {
	DurationMs int64          `json:"duration_ms"`
	Counts     map[string]int `json:"counts,omitempty"`
}

// RunContext carries the evidence a readiness run inspects. Callers
// assemble it from the live subsystems before the run; gates only read
// it, and a gate whose evidence is missing fails closed.
type RunContext struct {
	TenantID string
	Evidence Evidence
	Clock    func() time.Time
}

// Evidence holds the per-dimension inputs for one readiness run.
type Evidence struct {
	Determinism DeterminismEvidence
	Integrity   IntegrityEvidence
	ACL         []ACLProbe
	Emulator    EmulatorEvidence
	Preflight   []PreflightCheck
	Perf        PerfEvidence
}

// RequiredGates is the closed set of dimensions the scoreboard demands,
// in canonical order.
var RequiredGates = []string{
	GateDeterminism,
	GateIntegrity,
	GateACL,
	GateEmulator,
	GatePreflight,
	GatePerfBudget,
}

// Runner executes registered gates deterministically in registration
// order and folds their verdicts into a Scoreboard.
type Runner struct {
	gates   map[string]Gate
	ordered []string
	clock   func() time.Time
}

// NewRunner creates an empty runner.
func NewRunner() *Runner {
	return &Runner{
		gates: make(map[string]Gate),
		clock: time.Now,
	}
}

// DefaultRunner returns a runner with the six closure gates registered
// in canonical order.
func DefaultRunner() *Runner {
	r := NewRunner()
	for _, g := range DefaultGates() {
		r.Register(g)
	}
	return r
}

// WithClock overrides the clock for deterministic testing.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// Register adds a gate. Gates run in registration order; re-registering
// an id replaces the gate without changing its position.
func (r *Runner) Register(g Gate) {
	id := g.ID()
	if _, exists := r.gates[id]; !exists {
		r.ordered = append(r.ordered, id)
	}
	r.gates[id] = g
}

// Scoreboard is the outcome of one readiness run.
type Scoreboard struct {
	TenantID string        `json:"tenant_id"`
	RanAt    time.Time     `json:"ran_at"`
	Results  []*GateResult `json:"results"`
	Ready    bool          `json:"ready"`
}

// Run executes every registered gate against the context. Ready demands
// a passing result for each required dimension and for every extra gate
// the runner carries.
func (r *Runner) Run(ctx *RunContext) *Scoreboard {
	start := r.clock()
	if ctx.Clock == nil {
		ctx.Clock = r.clock
	}

	results := make([]*GateResult, 0, len(r.ordered))
	passed := make(map[string]bool, len(r.ordered))
	allPass := true
	for _, id := range r.ordered {
		g := r.gates[id]
		gateStart := r.clock()
		res := g.Run(ctx)
		res.Metrics.DurationMs = r.clock().Sub(gateStart).Milliseconds()
		results = append(results, res)
		passed[res.GateID] = res.Pass
		if !res.Pass {
			allPass = false
		}
	}

	ready := allPass
	for _, id := range RequiredGates {
		if !passed[id] {
			ready = false
			break
		}
	}

	return &Scoreboard{
		TenantID: ctx.TenantID,
		RanAt:    start.UTC(),
		Results:  results,
		Ready:    ready,
	}
}

// Failing returns the dimensions that block readiness: required gates
// that failed or never ran, in canonical order, followed by any extra
// failing gates in run order.
func (s *Scoreboard) Failing() []string {
	passed := make(map[string]bool, len(s.Results))
	for _, res := range s.Results {
		passed[res.GateID] = res.Pass
	}

	required := make(map[string]bool, len(RequiredGates))
	var failing []string
	for _, id := range RequiredGates {
		required[id] = true
		if !passed[id] {
			failing = append(failing, id)
		}
	}
	for _, res := range s.Results {
		if !res.Pass && !required[res.GateID] {
			failing = append(failing, res.GateID)
		}
	}
	return failing
}

// Freeze actions.
const (
	FreezeApprove = "approve"
	FreezeHold    = "hold"
)

// FreezeDecision recommends whether a freeze candidate may ship.
type FreezeDecision struct {
	Action  string   `json:"action"`
	Ready   bool     `json:"ready"`
	Reasons []string `json:"reasons,omitempty"`
}

// Freeze approves a candidate only against a ready scoreboard. A hold
// carries the failing dimension names as its reasons.
func Freeze(board *Scoreboard) FreezeDecision {
	if board.Ready {
		return FreezeDecision{Action: FreezeApprove, Ready: true}
	}
	return FreezeDecision{
		Action:  FreezeHold,
		Reasons: board.Failing(),
	}
}
