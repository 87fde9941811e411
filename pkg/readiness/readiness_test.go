package readiness

import (
	"strings"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
}

func passingEvidence() Evidence {
	return Evidence{
		Determinism: DeterminismEvidence{
			LiveStateHash:   "1f2c9a",
			ReplayStateHash: "1f2c9a",
		},
		Integrity: IntegrityEvidence{ChainVerified: true, ArtifactsVerified: true},
		ACL: []ACLProbe{
			{Name: "cross_tenant_read", Allowed: false, Want: false},
			{Name: "same_tenant_write", Allowed: true, Want: true},
		},
		Emulator: EmulatorEvidence{Ran: true, Completed: true, Envelopes: 2},
		Preflight: []PreflightCheck{
			{Name: "pattern_rules", OK: true},
			{Name: "policy_table", OK: true},
		},
		Perf: PerfEvidence{
			Budget: PerfBudget{MaxAvg: 10 * time.Millisecond, MaxP95: 25 * time.Millisecond, MinThroughput: 100},
			Bench: &BenchmarkResult{
				Operations: 1000,
				Total:      2 * time.Second,
				Avg:        2 * time.Millisecond,
				P95:        5 * time.Millisecond,
				Throughput: 500,
			},
		},
	}
}

func TestScoreboardReady(t *testing.T) {
	runner := DefaultRunner().WithClock(fixedClock)
	board := runner.Run(&RunContext{TenantID: "acme", Evidence: passingEvidence()})

	if !board.Ready {
		t.Fatalf("board not ready: %+v", board.Failing())
	}
	if len(board.Results) != len(RequiredGates) {
		t.Fatalf("results = %d, want %d", len(board.Results), len(RequiredGates))
	}
	for i, res := range board.Results {
		if res.GateID != RequiredGates[i] {
			t.Errorf("gate %d = %s, want %s", i, res.GateID, RequiredGates[i])
		}
		if !res.Pass {
			t.Errorf("gate %s failed: %v", res.GateID, res.Reasons)
		}
	}

	decision := Freeze(board)
	if decision.Action != FreezeApprove || !decision.Ready {
		t.Errorf("freeze = %+v, want approve", decision)
	}
	if len(decision.Reasons) != 0 {
		t.Errorf("approve should carry no reasons, got %v", decision.Reasons)
	}
}

func TestScoreboardFailsClosedOnMissingEvidence(t *testing.T) {
	runner := DefaultRunner().WithClock(fixedClock)
	board := runner.Run(&RunContext{TenantID: "acme"})

	if board.Ready {
		t.Fatal("empty evidence must not be ready")
	}
	failing := board.Failing()
	if len(failing) != len(RequiredGates) {
		t.Fatalf("failing = %v, want all six dimensions", failing)
	}
	for i, id := range RequiredGates {
		if failing[i] != id {
			t.Errorf("failing[%d] = %s, want %s", i, failing[i], id)
		}
	}

	decision := Freeze(board)
	if decision.Action != FreezeHold {
		t.Fatalf("freeze = %+v, want hold", decision)
	}
	if len(decision.Reasons) != len(RequiredGates) {
		t.Errorf("hold reasons = %v, want the six dimension names", decision.Reasons)
	}
}

func TestDeterminismDivergence(t *testing.T) {
	ev := passingEvidence()
	ev.Determinism.ReplayStateHash = "aa00bb"

	board := DefaultRunner().WithClock(fixedClock).Run(&RunContext{TenantID: "acme", Evidence: ev})
	if board.Ready {
		t.Fatal("diverged replay must not be ready")
	}
	failing := board.Failing()
	if len(failing) != 1 || failing[0] != GateDeterminism {
		t.Fatalf("failing = %v, want [determinism]", failing)
	}
	res := board.Results[0]
	if len(res.Reasons) == 0 || !strings.Contains(res.Reasons[0], "diverge") {
		t.Errorf("reasons = %v", res.Reasons)
	}
}

func TestIntegrityFaultsSurface(t *testing.T) {
	ev := passingEvidence()
	ev.Integrity = IntegrityEvidence{
		ChainVerified:     false,
		ArtifactsVerified: true,
		Faults:            []string{"event evt-9: hash mismatch"},
	}

	board := DefaultRunner().WithClock(fixedClock).Run(&RunContext{TenantID: "acme", Evidence: ev})
	var res *GateResult
	for _, r := range board.Results {
		if r.GateID == GateIntegrity {
			res = r
		}
	}
	if res == nil || res.Pass {
		t.Fatalf("integrity gate = %+v, want failure", res)
	}
	joined := strings.Join(res.Reasons, "; ")
	if !strings.Contains(joined, "event chain verification failed") || !strings.Contains(joined, "evt-9") {
		t.Errorf("reasons = %v", res.Reasons)
	}
}

func TestACLProbeMismatch(t *testing.T) {
	ev := passingEvidence()
	ev.ACL = []ACLProbe{
		{Name: "cross_tenant_read", Allowed: true, Want: false},
		{Name: "same_tenant_write", Allowed: true, Want: true},
	}

	board := DefaultRunner().WithClock(fixedClock).Run(&RunContext{TenantID: "acme", Evidence: ev})
	failing := board.Failing()
	if len(failing) != 1 || failing[0] != GateACL {
		t.Fatalf("failing = %v, want [acl]", failing)
	}
	var res *GateResult
	for _, r := range board.Results {
		if r.GateID == GateACL {
			res = r
		}
	}
	if len(res.Reasons) != 1 || !strings.Contains(res.Reasons[0], "cross_tenant_read") {
		t.Errorf("reasons = %v", res.Reasons)
	}
	if res.Metrics.Counts["probes"] != 2 {
		t.Errorf("probe count = %d", res.Metrics.Counts["probes"])
	}
}

func TestEmulatorGate(t *testing.T) {
	cases := []struct {
		name   string
		ev     EmulatorEvidence
		pass   bool
		reason string
	}{
		{"never ran", EmulatorEvidence{}, false, "never ran"},
		{"incomplete", EmulatorEvidence{Ran: true, Faults: []string{"skill denied"}}, false, "did not complete"},
		{"no envelope", EmulatorEvidence{Ran: true, Completed: true}, false, "no decision envelope"},
		{"complete", EmulatorEvidence{Ran: true, Completed: true, Envelopes: 1}, true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := passingEvidence()
			ev.Emulator = tc.ev
			board := DefaultRunner().WithClock(fixedClock).Run(&RunContext{TenantID: "acme", Evidence: ev})
			var res *GateResult
			for _, r := range board.Results {
				if r.GateID == GateEmulator {
					res = r
				}
			}
			if res.Pass != tc.pass {
				t.Fatalf("pass = %t, reasons %v", res.Pass, res.Reasons)
			}
			if tc.reason != "" && !strings.Contains(strings.Join(res.Reasons, "; "), tc.reason) {
				t.Errorf("reasons = %v, want mention of %q", res.Reasons, tc.reason)
			}
		})
	}
}

func TestPreflightDetailInReason(t *testing.T) {
	ev := passingEvidence()
	ev.Preflight = []PreflightCheck{
		{Name: "pattern_rules", OK: true},
		{Name: "policy_table", OK: false, Detail: "guard compile failed"},
	}

	board := DefaultRunner().WithClock(fixedClock).Run(&RunContext{TenantID: "acme", Evidence: ev})
	var res *GateResult
	for _, r := range board.Results {
		if r.GateID == GatePreflight {
			res = r
		}
	}
	if res.Pass {
		t.Fatal("failed preflight check must fail the gate")
	}
	if len(res.Reasons) != 1 || !strings.Contains(res.Reasons[0], "guard compile failed") {
		t.Errorf("reasons = %v", res.Reasons)
	}
}

func TestPerfGateReportsEveryViolation(t *testing.T) {
	ev := passingEvidence()
	ev.Perf.Bench = &BenchmarkResult{
		Operations: 1000,
		Avg:        12 * time.Millisecond,
		P95:        40 * time.Millisecond,
		Throughput: 80,
	}

	board := DefaultRunner().WithClock(fixedClock).Run(&RunContext{TenantID: "acme", Evidence: ev})
	var res *GateResult
	for _, r := range board.Results {
		if r.GateID == GatePerfBudget {
			res = r
		}
	}
	if res.Pass {
		t.Fatal("violated budget must fail the gate")
	}
	if len(res.Reasons) != 3 {
		t.Fatalf("reasons = %v, want every violated dimension", res.Reasons)
	}
	if res.Metrics.Counts["violations"] != 3 {
		t.Errorf("violation count = %d", res.Metrics.Counts["violations"])
	}
	if res.Details["throughput_ps"] != 80.0 {
		t.Errorf("details = %v", res.Details)
	}
}

type namedGate struct {
	id   string
	pass bool
}

func (g *namedGate) ID() string   { return g.id }
func (g *namedGate) Name() string { return g.id }
func (g *namedGate) Run(*RunContext) *GateResult {
	res := newResult(g.id)
	if !g.pass {
		fail(res, "forced failure")
	}
	return res
}

func TestExtraGateBlocksReadiness(t *testing.T) {
	runner := DefaultRunner().WithClock(fixedClock)
	runner.Register(&namedGate{id: "chaos", pass: false})

	board := runner.Run(&RunContext{TenantID: "acme", Evidence: passingEvidence()})
	if board.Ready {
		t.Fatal("a failing extra gate must block readiness")
	}
	failing := board.Failing()
	if len(failing) != 1 || failing[0] != "chaos" {
		t.Errorf("failing = %v, want [chaos]", failing)
	}
	decision := Freeze(board)
	if decision.Action != FreezeHold || len(decision.Reasons) != 1 {
		t.Errorf("freeze = %+v", decision)
	}
}

func TestRegisterReplacesInPlace(t *testing.T) {
	runner := NewRunner().WithClock(fixedClock)
	runner.Register(&namedGate{id: "a", pass: false})
	runner.Register(&namedGate{id: "b", pass: true})
	runner.Register(&namedGate{id: "a", pass: true})

	board := runner.Run(&RunContext{TenantID: "acme"})
	if len(board.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(board.Results))
	}
	if board.Results[0].GateID != "a" || !board.Results[0].Pass {
		t.Errorf("replaced gate did not keep position: %+v", board.Results[0])
	}
}
