package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/ledgerline/cortex/pkg/artifacts"
	"github.com/ledgerline/cortex/pkg/canonical"
	"github.com/ledgerline/cortex/pkg/config"
	"github.com/ledgerline/cortex/pkg/contracts"
	"github.com/ledgerline/cortex/pkg/engine"
	"github.com/ledgerline/cortex/pkg/health"
	"github.com/ledgerline/cortex/pkg/ledger"
	"github.com/ledgerline/cortex/pkg/memorygate"
	"github.com/ledgerline/cortex/pkg/pattern"
	"github.com/ledgerline/cortex/pkg/policy"
	"github.com/ledgerline/cortex/pkg/readiness"
	"github.com/ledgerline/cortex/pkg/store"
)

// runGatesCmd implements `cortex gates`.
//
// Assembles readiness evidence from the exports: a double replay for
// determinism, chain and artifact verification for integrity, live memory
// gate probes for isolation, an in-memory engine cycle for the emulator,
// profile validation for preflight and a replay benchmark against the
// budget. The scoreboard passes only when every dimension does.
//
// Exit codes:
//
//	0 = scoreboard ready, freeze approved
//	1 = one or more gates failed, freeze held
//	2 = runtime error
func runGatesCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("gates", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		eventsFile    string
		artifactsFile string
		profileDir    string
		tenantID      string
		benchOps      int
		maxAvgMs      int
		maxP95Ms      int
		minThroughput float64
		jsonOutput    bool
	)

	cmd.StringVar(&eventsFile, "events", "", "Path to JSONL event export (REQUIRED)")
	cmd.StringVar(&artifactsFile, "artifacts", "", "Path to JSONL artifact export")
	cmd.StringVar(&profileDir, "profile-dir", "", "Directory holding tenant profiles")
	cmd.StringVar(&tenantID, "tenant", "", "Tenant id (default: taken from the export)")
	cmd.IntVar(&benchOps, "ops", 25, "Replay operations for the perf benchmark")
	cmd.IntVar(&maxAvgMs, "max-avg-ms", 0, "Budget: max average replay latency (0 = unconstrained)")
	cmd.IntVar(&maxP95Ms, "max-p95-ms", 5000, "Budget: max p95 replay latency")
	cmd.Float64Var(&minThroughput, "min-throughput", 0, "Budget: min replays per second (0 = unconstrained)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output scoreboard as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if eventsFile == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --events is required")
		return 2
	}

	hasher := canonical.SHA256{}
	events, err := decodeEventsFile(eventsFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if tenantID == "" && len(events) > 0 {
		tenantID = events[0].Actor.TenantID
	}
	if tenantID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --tenant is required for an empty export")
		return 2
	}

	var evidence readiness.Evidence

	// Determinism: two independent folds of the same chain must agree.
	if first, rerr := ledger.Replay(hasher, events); rerr == nil {
		if second, rerr2 := ledger.Replay(hasher, events); rerr2 == nil {
			evidence.Determinism = readiness.DeterminismEvidence{
				LiveStateHash:   first.StateHash,
				ReplayStateHash: second.StateHash,
			}
		}
	}

	// Integrity: the chain and, when exported, every artifact digest.
	chainErr := ledger.VerifyChain(hasher, events)
	evidence.Integrity.ChainVerified = chainErr == nil
	if chainErr != nil {
		evidence.Integrity.Faults = append(evidence.Integrity.Faults, chainErr.Error())
	}
	if artifactsFile != "" {
		arts, aerr := artifacts.DecodeArtifactsFile(artifactsFile)
		if aerr != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", aerr)
			return 2
		}
		evidence.Integrity.ArtifactsVerified = true
		for _, a := range arts {
			if verr := artifacts.VerifyArtifact(hasher, a); verr != nil {
				evidence.Integrity.ArtifactsVerified = false
				evidence.Integrity.Faults = append(evidence.Integrity.Faults, verr.Error())
			}
		}
	} else {
		evidence.Integrity.Faults = append(evidence.Integrity.Faults, "no artifact export supplied")
	}

	evidence.ACL = isolationProbes(tenantID)

	// Preflight: the export parsed; a supplied profile must validate.
	evidence.Preflight = []readiness.PreflightCheck{
		{Name: "event export parses", OK: true, Detail: fmt.Sprintf("%d events", len(events))},
	}
	var profile *config.TenantProfile
	if profileDir != "" {
		check := readiness.PreflightCheck{Name: "tenant profile validates", OK: true}
		profile, err = config.LoadProfile(profileDir, tenantID)
		if err == nil {
			err = profile.Validate()
		}
		if err != nil {
			check.OK = false
			check.Detail = err.Error()
			profile = nil
		}
		evidence.Preflight = append(evidence.Preflight, check)
	}

	evidence.Emulator = emulatorCycle(profile, tenantID)

	// Perf: replay the export under the declared budget.
	bench, berr := readiness.Measure(benchOps, time.Now, func(int) error {
		_, rerr := ledger.Replay(hasher, events)
		return rerr
	})
	if berr == nil {
		evidence.Perf = readiness.PerfEvidence{
			Budget: readiness.PerfBudget{
				MaxAvg:        time.Duration(maxAvgMs) * time.Millisecond,
				MaxP95:        time.Duration(maxP95Ms) * time.Millisecond,
				MinThroughput: minThroughput,
			},
			Bench: &bench,
		}
	}

	board := readiness.DefaultRunner().Run(&readiness.RunContext{
		TenantID: tenantID,
		Evidence: evidence,
	})
	decision := readiness.Freeze(board)

	if jsonOutput {
		out := map[string]any{
			"scoreboard": board,
			"freeze":     decision,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "Readiness scoreboard for %s\n", tenantID)
		for _, res := range board.Results {
			status := "PASS"
			if !res.Pass {
				status = "FAIL"
			}
			_, _ = fmt.Fprintf(stdout, "  [%s] %-12s (%dms)\n", status, res.GateID, res.Metrics.DurationMs)
			for _, reason := range res.Reasons {
				_, _ = fmt.Fprintf(stdout, "         - %s\n", reason)
			}
		}
		_, _ = fmt.Fprintf(stdout, "Freeze: %s\n", decision.Action)
	}

	if !board.Ready {
		return 1
	}
	return 0
}

// isolationProbes exercises the memory gate's boundary rules for a tenant.
func isolationProbes(tenantID string) []readiness.ACLProbe {
	sameTenant := memorygate.Check(memorygate.Request{
		TenantID:        tenantID,
		ActorTenantID:   tenantID,
		Namespace:       contracts.NamespaceEventLedger,
		Operation:       memorygate.OpRead,
		ContextReadOnly: true,
	})
	crossTenant := memorygate.Check(memorygate.Request{
		TenantID:        tenantID,
		ActorTenantID:   tenantID + "-intruder",
		Namespace:       contracts.NamespaceEventLedger,
		Operation:       memorygate.OpRead,
		ContextReadOnly: true,
	})
	brokenContext := memorygate.Check(memorygate.Request{
		TenantID:        tenantID,
		ActorTenantID:   tenantID,
		Namespace:       contracts.NamespaceBehaviorSummary,
		Operation:       memorygate.OpWrite,
		ContextReadOnly: false,
	})
	return []readiness.ACLProbe{
		{Name: "same-tenant read", Allowed: sameTenant.Allowed, Want: true},
		{Name: "cross-tenant read", Allowed: crossTenant.Allowed, Want: false},
		{Name: "write without read-only context", Allowed: brokenContext.Allowed, Want: false},
	}
}

// emulatorCycle runs one full in-memory decision cycle. A profile supplies
// the rule set when available; otherwise a canned margin rule stands in.
func emulatorCycle(profile *config.TenantProfile, tenantID string) readiness.EmulatorEvidence {
	evidence := readiness.EmulatorEvidence{Ran: true}

	var (
		eng *engine.Engine
		err error
	)
	if profile != nil {
		eng, err = engine.FromProfile(profile, store.NewMemoryStore())
	} else {
		eng, err = cannedEngine()
	}
	if err != nil {
		evidence.Faults = append(evidence.Faults, err.Error())
		return evidence
	}

	series := pattern.NewSeriesSet()
	series.Add("gross_margin_delta", -0.03, -0.04, -0.05)
	res, err := eng.RunCycle(context.Background(), engine.CycleInput{
		TenantID:            tenantID,
		Series:              series,
		TimeWeight:          1.0,
		HistoricalStability: 0.9,
		Health: health.Input{
			Accuracy:          0.9,
			RoiDelta:          0.1,
			DriftScore:        0.1,
			FalsePositiveRate: 0.02,
			Stability:         0.9,
		},
		RiskExposure: 0.2,
	})
	if err != nil {
		evidence.Faults = append(evidence.Faults, err.Error())
		return evidence
	}
	evidence.Completed = true
	evidence.Envelopes = len(res.Events)
	return evidence
}

func cannedEngine() (*engine.Engine, error) {
	patterns, err := pattern.NewEngine([]pattern.Rule{{
		ID: "emulator-margin-erosion",
		When: []pattern.Condition{
			{Metric: "gross_margin_delta", Comparator: pattern.CompLT, Threshold: -0.02, OverPeriods: 3},
		},
		MinEvidenceCount: 3,
		ThenEmit:         "margin_erosion",
	}})
	if err != nil {
		return nil, err
	}
	policies, err := policy.NewBuilder().
		Add(policy.Rule{Path: "finops.variance.flag", Enabled: true, MinConfidence: 0.35}).
		Build()
	if err != nil {
		return nil, err
	}
	return engine.New(patterns, policies, store.NewMemoryStore())
}
