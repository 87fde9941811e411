package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ledgerline/cortex/pkg/artifacts"
	"github.com/ledgerline/cortex/pkg/canonical"
	"github.com/ledgerline/cortex/pkg/config"
	"github.com/ledgerline/cortex/pkg/contracts"
	"github.com/ledgerline/cortex/pkg/escalation"
	"github.com/ledgerline/cortex/pkg/health"
	"github.com/ledgerline/cortex/pkg/ledger"
	"github.com/ledgerline/cortex/pkg/pattern"
	"github.com/ledgerline/cortex/pkg/policy"
	"github.com/ledgerline/cortex/pkg/store"
)

var cycleTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func marginRule() pattern.Rule {
	return pattern.Rule{
		ID: "gross-margin-erosion",
		When: []pattern.Condition{
			{Metric: "gross_margin_delta", Comparator: pattern.CompLT, Threshold: -0.02, OverPeriods: 3},
		},
		MinEvidenceCount: 3,
		ThenEmit:         "margin_erosion",
	}
}

func testPolicies(t *testing.T) *policy.Table {
	t.Helper()
	table, err := policy.NewBuilder().
		Add(policy.Rule{Path: "finops.variance.flag", Enabled: true, MinConfidence: 0.35}).
		Add(policy.Rule{Path: "finops.contract.renegotiate", Enabled: true, MinConfidence: 0.5, Guard: "attrs.autonomy != 'locked'"}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return table
}

func testEngine(t *testing.T, st *store.MemoryStore) *Engine {
	t.Helper()
	patterns, err := pattern.NewEngine([]pattern.Rule{marginRule()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	eng, err := New(patterns, testPolicies(t), st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng.WithArtifactStore(st)
}

// healthyInput scores well clear of every containment threshold.
func healthyInput() health.Input {
	return health.Input{
		Accuracy:          0.9,
		RoiDelta:          0.1,
		DriftScore:        0.1,
		FalsePositiveRate: 0.02,
		Stability:         0.9,
	}
}

func quietCycle(tenantID string) CycleInput {
	return CycleInput{
		TenantID:            tenantID,
		Now:                 cycleTime,
		Series:              pattern.NewSeriesSet(),
		TimeWeight:          1.0,
		HistoricalStability: 0.9,
		Health:              healthyInput(),
		RiskExposure:        0.2,
	}
}

// erodingSeries trips the margin rule with three qualifying periods.
func erodingSeries() pattern.SeriesSet {
	s := pattern.NewSeriesSet()
	s.Add("gross_margin_delta", -0.03, -0.04, -0.05)
	return s
}

func eventTypes(events []contracts.Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestRunCycleQuietTenant(t *testing.T) {
	st := store.NewMemoryStore()
	eng := testEngine(t, st)

	res, err := eng.RunCycle(context.Background(), quietCycle("t-acme"))
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(res.Signals) != 0 {
		t.Errorf("signals = %+v, want none", res.Signals)
	}
	if res.Health.Containment.Sensitivity != health.SensitivityNominal {
		t.Errorf("sensitivity = %s, want nominal", res.Health.Containment.Sensitivity)
	}
	if res.Escalation.Tier != escalation.TierNone {
		t.Errorf("tier = %s, want none", res.Escalation.Tier)
	}
	if res.Autonomy.From != contracts.AutonomyAdvisory || res.Autonomy.To != contracts.AutonomyAdvisory {
		t.Errorf("autonomy = %s -> %s, want advisory -> advisory", res.Autonomy.From, res.Autonomy.To)
	}
	if res.Policy != nil {
		t.Errorf("policy verdict = %+v, want none without a proposal", res.Policy)
	}

	// A quiet cycle still records the health evaluation.
	if got := eventTypes(res.Events); len(got) != 1 || got[0] != contracts.EventHealthScored {
		t.Fatalf("event types = %v, want [%s]", got, contracts.EventHealthScored)
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].Type != contracts.ArtifactHealth {
		t.Fatalf("artifacts = %+v, want one health artifact", res.Artifacts)
	}

	persisted, err := st.Events(context.Background(), "t-acme")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if err := ledger.VerifyChain(canonical.SHA256{}, persisted); err != nil {
		t.Errorf("VerifyChain: %v", err)
	}
	if err := artifacts.VerifyArtifact(canonical.SHA256{}, res.Artifacts[0]); err != nil {
		t.Errorf("VerifyArtifact: %v", err)
	}
}

func TestRunCycleFullPipeline(t *testing.T) {
	st := store.NewMemoryStore()
	eng := testEngine(t, st)

	in := quietCycle("t-acme")
	in.Series = erodingSeries()
	in.ProposedAction = "finops.variance.flag"

	res, err := eng.RunCycle(context.Background(), in)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(res.Signals) != 1 {
		t.Fatalf("signals = %+v, want one", res.Signals)
	}
	sig := res.Signals[0]
	if sig.RuleID != "gross-margin-erosion" || sig.Type != "margin_erosion" {
		t.Errorf("signal = %+v, want gross-margin-erosion emitting margin_erosion", sig)
	}
	if sig.EvidenceCount != 3 {
		t.Errorf("evidence = %d, want 3", sig.EvidenceCount)
	}
	if sig.Confidence < 0.35 {
		t.Errorf("confidence = %.4f, want at least the policy minimum", sig.Confidence)
	}

	if res.Policy == nil || !res.Policy.Allowed {
		t.Fatalf("verdict = %+v, want allow", res.Policy)
	}

	want := []string{
		contracts.EventSignalDetected,
		contracts.EventHealthScored,
		contracts.EventDecisionProposed,
	}
	got := eventTypes(res.Events)
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event types = %v, want %v", got, want)
		}
	}
	for _, ev := range res.Events {
		if ev.Context.PolicyPath != "finops.variance.flag" {
			t.Errorf("event %s policy path = %q, want the proposed action", ev.Type, ev.Context.PolicyPath)
		}
		if ev.Actor.ActorType != contracts.ActorSystem {
			t.Errorf("event %s actor type = %q, want system", ev.Type, ev.Actor.ActorType)
		}
	}

	// The decision artifact hangs off the health artifact for the cycle.
	if len(res.Artifacts) != 2 {
		t.Fatalf("artifacts = %+v, want health and decision", res.Artifacts)
	}
	healthArt, decisionArt := res.Artifacts[0], res.Artifacts[1]
	if healthArt.Type != contracts.ArtifactHealth || decisionArt.Type != contracts.ArtifactDecision {
		t.Fatalf("artifact types = %s, %s", healthArt.Type, decisionArt.Type)
	}
	if decisionArt.ParentArtifactID != healthArt.ArtifactID {
		t.Errorf("decision parent = %q, want health artifact %q", decisionArt.ParentArtifactID, healthArt.ArtifactID)
	}

	persisted, err := st.Events(context.Background(), "t-acme")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if err := ledger.VerifyChain(canonical.SHA256{}, persisted); err != nil {
		t.Errorf("VerifyChain: %v", err)
	}
}

func TestRunCycleEscalationCriticalLocks(t *testing.T) {
	st := store.NewMemoryStore()
	eng := testEngine(t, st)

	in := quietCycle("t-acme")
	in.FinancialDeviationPct = 0.25
	in.Reviewers = []escalation.Reviewer{{ID: "rev-owner-1", Role: escalation.RoleOwner, Capacity: 1}}

	res, err := eng.RunCycle(context.Background(), in)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	esc := res.Escalation
	if esc.Tier != escalation.TierCritical {
		t.Fatalf("tier = %s, want critical", esc.Tier)
	}
	if esc.SLA == nil || esc.SLA.MaxResponseMinutes != 15 {
		t.Errorf("sla = %+v, want 15 minute window", esc.SLA)
	}
	if esc.Reviewer == nil || esc.Reviewer.ID != "rev-owner-1" {
		t.Errorf("reviewer = %+v, want rev-owner-1", esc.Reviewer)
	}
	if want := cycleTime.Add(15 * time.Minute); !esc.DeadlineAt.Equal(want) {
		t.Errorf("deadline = %s, want %s", esc.DeadlineAt, want)
	}

	// A critical escalation trips the breaker straight to locked.
	if !res.Autonomy.BreakerTripped {
		t.Error("breaker should trip on a critical escalation")
	}
	if res.Autonomy.To != contracts.AutonomyLocked {
		t.Errorf("autonomy = %s, want locked", res.Autonomy.To)
	}

	got := eventTypes(res.Events)
	want := []string{
		contracts.EventHealthScored,
		contracts.EventEscalationRaised,
		contracts.EventAutonomyChanged,
	}
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event types = %v, want %v", got, want)
		}
	}

	// Escalation artifact chains to the cycle's health artifact.
	if len(res.Artifacts) != 2 {
		t.Fatalf("artifacts = %+v, want health and escalation", res.Artifacts)
	}
	if res.Artifacts[1].Type != contracts.ArtifactEscalation {
		t.Errorf("artifact type = %s, want escalation", res.Artifacts[1].Type)
	}
	if res.Artifacts[1].ParentArtifactID != res.Artifacts[0].ArtifactID {
		t.Errorf("escalation parent = %q, want %q", res.Artifacts[1].ParentArtifactID, res.Artifacts[0].ArtifactID)
	}
}

func TestRunCycleQueuesEscalationNotification(t *testing.T) {
	st := store.NewMemoryStore()
	outbox := store.NewMemoryOutbox()
	eng := testEngine(t, st).WithOutbox(outbox)

	in := quietCycle("t-acme")
	in.FinancialDeviationPct = 0.25
	in.Reviewers = []escalation.Reviewer{{ID: "rev-owner-1", Role: escalation.RoleOwner, Capacity: 1}}

	res, err := eng.RunCycle(context.Background(), in)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	pending, err := outbox.Pending(context.Background(), 0)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending notifications = %d, want 1", len(pending))
	}
	n := pending[0]
	if n.ID != res.Artifacts[1].ArtifactID {
		t.Errorf("notification id = %q, want escalation artifact id %q", n.ID, res.Artifacts[1].ArtifactID)
	}
	if n.TenantID != "t-acme" || n.Tier != string(escalation.TierCritical) || n.ReviewerID != "rev-owner-1" {
		t.Errorf("notification = %+v", n)
	}
	if !n.DeadlineAt.Equal(res.Escalation.DeadlineAt) {
		t.Errorf("deadline = %s, want %s", n.DeadlineAt, res.Escalation.DeadlineAt)
	}

	// Replaying the cycle against a fresh chain store reuses the same
	// artifact id, so the queue does not grow.
	st2 := store.NewMemoryStore()
	if _, err := testEngine(t, st2).WithOutbox(outbox).RunCycle(context.Background(), in); err != nil {
		t.Fatalf("replayed RunCycle: %v", err)
	}
	pending, err = outbox.Pending(context.Background(), 0)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("replay double-notified: %d pending", len(pending))
	}
}

func TestRunCycleBreakerLocksOnHealth(t *testing.T) {
	st := store.NewMemoryStore()
	eng := testEngine(t, st)

	in := quietCycle("t-acme")
	// Accuracy and ROI stay clean so the plain transition would hold at
	// advisory; only the composite health score drags the tenant down.
	in.Health = health.Input{
		Accuracy:          0.7,
		RoiDelta:          0,
		DriftScore:        1.0,
		FalsePositiveRate: 0.3,
		Stability:         0,
	}

	res, err := eng.RunCycle(context.Background(), in)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Health.Score >= 0.35 {
		t.Fatalf("score = %.4f, expected a critical reading", res.Health.Score)
	}
	if res.Health.Containment.Sensitivity != health.SensitivityCritical {
		t.Errorf("sensitivity = %s, want critical", res.Health.Containment.Sensitivity)
	}
	if !res.Health.Containment.FreezeStrategic {
		t.Error("critical containment should freeze strategic suggestions")
	}
	if !res.Autonomy.BreakerTripped {
		t.Error("breaker should trip below the lock threshold")
	}
	if res.Autonomy.To != contracts.AutonomyLocked {
		t.Errorf("autonomy = %s, want locked", res.Autonomy.To)
	}
}

func TestRunCyclePolicyDeniedWhenLocked(t *testing.T) {
	st := store.NewMemoryStore()
	eng := testEngine(t, st)

	in := quietCycle("t-acme")
	in.Series = erodingSeries()
	in.Health.RoiDelta = -0.5
	in.ProposedAction = "finops.contract.renegotiate"

	res, err := eng.RunCycle(context.Background(), in)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Autonomy.To != contracts.AutonomyLocked {
		t.Fatalf("autonomy = %s, want locked on negative ROI", res.Autonomy.To)
	}
	if res.Policy == nil {
		t.Fatal("expected a policy verdict")
	}
	if res.Policy.Allowed {
		t.Fatalf("verdict = %+v, want deny", res.Policy)
	}
	if res.Policy.Code != policy.CodeGuardRejected {
		t.Errorf("code = %q, want %q", res.Policy.Code, policy.CodeGuardRejected)
	}

	// The denial is still proposed and recorded on the chain.
	got := eventTypes(res.Events)
	want := []string{
		contracts.EventSignalDetected,
		contracts.EventHealthScored,
		contracts.EventAutonomyChanged,
		contracts.EventDecisionProposed,
	}
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event types = %v, want %v", got, want)
		}
	}
}

func TestRunCycleChainResume(t *testing.T) {
	st := store.NewMemoryStore()
	eng := testEngine(t, st)
	ctx := context.Background()

	first, err := eng.RunCycle(ctx, quietCycle("t-acme"))
	if err != nil {
		t.Fatalf("first RunCycle: %v", err)
	}
	// Same nominal clock: the second cycle must still land after the head.
	second, err := eng.RunCycle(ctx, quietCycle("t-acme"))
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}

	events, err := st.Events(ctx, "t-acme")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if err := ledger.VerifyChain(canonical.SHA256{}, events); err != nil {
		t.Fatalf("VerifyChain across cycles: %v", err)
	}
	if events[1].ParentID != events[0].ID {
		t.Errorf("second cycle parent = %q, want %q", events[1].ParentID, events[0].ID)
	}
	if !second.Events[0].Timestamp.After(first.Events[0].Timestamp) {
		t.Errorf("second cycle timestamp %s not after head %s",
			second.Events[0].Timestamp, first.Events[0].Timestamp)
	}
}

func TestRunCycleDeterministicEvents(t *testing.T) {
	ctx := context.Background()
	in := quietCycle("t-acme")
	in.Series = erodingSeries()
	in.ProposedAction = "finops.variance.flag"

	var runs [2][]contracts.Event
	for i := range runs {
		st := store.NewMemoryStore()
		res, err := testEngine(t, st).RunCycle(ctx, in)
		if err != nil {
			t.Fatalf("RunCycle %d: %v", i, err)
		}
		runs[i] = res.Events
	}

	if len(runs[0]) != len(runs[1]) {
		t.Fatalf("event counts differ: %d vs %d", len(runs[0]), len(runs[1]))
	}
	for i := range runs[0] {
		if runs[0][i].ID != runs[1][i].ID {
			t.Errorf("event %d id %q != %q", i, runs[0][i].ID, runs[1][i].ID)
		}
		if runs[0][i].Hash != runs[1][i].Hash {
			t.Errorf("event %d hash %q != %q", i, runs[0][i].Hash, runs[1][i].Hash)
		}
	}
}

func TestRunCycleShadowTable(t *testing.T) {
	st := store.NewMemoryStore()
	eng := testEngine(t, st)

	candidate, err := policy.NewBuilder().
		Add(policy.Rule{Path: "finops.variance.flag", Enabled: true, MinConfidence: 0.9}).
		Build()
	if err != nil {
		t.Fatalf("Build candidate: %v", err)
	}
	eng.WithShadowTable(candidate)

	in := quietCycle("t-acme")
	in.Series = erodingSeries()
	in.ProposedAction = "finops.variance.flag"

	res, err := eng.RunCycle(context.Background(), in)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Policy == nil || !res.Policy.Allowed {
		t.Fatalf("enforced verdict = %+v, want allow", res.Policy)
	}
	if res.Shadow == nil {
		t.Fatal("expected a shadow report")
	}
	if res.Shadow.Outcome != policy.ShadowFalseBlockRisk {
		t.Errorf("shadow outcome = %s, want %s", res.Shadow.Outcome, policy.ShadowFalseBlockRisk)
	}
	if res.Shadow.Candidate.Allowed {
		t.Errorf("candidate verdict = %+v, want deny", res.Shadow.Candidate)
	}
}

func TestRunCycleSLATightening(t *testing.T) {
	st := store.NewMemoryStore()
	eng := testEngine(t, st).
		WithSLATightening(map[escalation.Tier]int{escalation.TierRecommended: 120}).
		WithReviewers([]escalation.Reviewer{{ID: "rev-auditor-1", Role: escalation.RoleAuditor, Capacity: 3}})

	in := quietCycle("t-acme")
	in.FinancialDeviationPct = 0.1

	res, err := eng.RunCycle(context.Background(), in)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	esc := res.Escalation
	if esc.Tier != escalation.TierRecommended {
		t.Fatalf("tier = %s, want recommended", esc.Tier)
	}
	if esc.SLA == nil || esc.SLA.MaxResponseMinutes != 120 {
		t.Errorf("sla = %+v, want tightened 120 minute window", esc.SLA)
	}
	if want := cycleTime.Add(120 * time.Minute); !esc.DeadlineAt.Equal(want) {
		t.Errorf("deadline = %s, want %s", esc.DeadlineAt, want)
	}
	if esc.Reviewer == nil || esc.Reviewer.ID != "rev-auditor-1" {
		t.Errorf("reviewer = %+v, want the default roster assignment", esc.Reviewer)
	}
}

func TestRunCycleRequiresTenant(t *testing.T) {
	st := store.NewMemoryStore()
	eng := testEngine(t, st)

	if _, err := eng.RunCycle(context.Background(), CycleInput{Now: cycleTime}); err == nil {
		t.Fatal("expected an error for a missing tenant id")
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	patterns, err := pattern.NewEngine([]pattern.Rule{marginRule()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	table := testPolicies(t)
	st := store.NewMemoryStore()

	if _, err := New(nil, table, st); err == nil {
		t.Error("expected an error for a nil pattern engine")
	}
	if _, err := New(patterns, nil, st); err == nil {
		t.Error("expected an error for a nil policy table")
	}
	if _, err := New(patterns, table, nil); err == nil {
		t.Error("expected an error for a nil event store")
	}
}

func TestFromProfile(t *testing.T) {
	dir := t.TempDir()
	profileYAML := `name: Acme
tenant_id: t-acme
patterns:
  - id: gross-margin-erosion
    when:
      - metric: gross_margin_delta
        comparator: "<"
        threshold: -0.02
        over_periods: 3
    min_evidence_count: 3
    then_emit: margin_erosion
policies:
  - path: finops.variance.flag
    enabled: true
    min_confidence: 0.35
sla:
  response_minutes:
    escalation_critical: 10
reviewers:
  - id: rev-owner-1
    role: owner
    capacity: 1
`
	if err := os.WriteFile(filepath.Join(dir, "profile_t-acme.yaml"), []byte(profileYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	profile, err := config.LoadProfile(dir, "t-acme")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}

	st := store.NewMemoryStore()
	eng, err := FromProfile(profile, st)
	if err != nil {
		t.Fatalf("FromProfile: %v", err)
	}
	eng.WithArtifactStore(st)

	in := quietCycle("t-acme")
	in.Series = erodingSeries()
	in.FinancialDeviationPct = 0.25
	in.ProposedAction = "finops.variance.flag"

	res, err := eng.RunCycle(context.Background(), in)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(res.Signals) != 1 {
		t.Fatalf("signals = %+v, want the profile rule to fire", res.Signals)
	}
	if res.Policy == nil || !res.Policy.Allowed {
		t.Errorf("verdict = %+v, want allow from the profile table", res.Policy)
	}
	// Profile roster and tightened critical SLA both bind.
	if res.Escalation.Reviewer == nil || res.Escalation.Reviewer.ID != "rev-owner-1" {
		t.Errorf("reviewer = %+v, want the profile roster owner", res.Escalation.Reviewer)
	}
	if res.Escalation.SLA == nil || res.Escalation.SLA.MaxResponseMinutes != 10 {
		t.Errorf("sla = %+v, want the profile's 10 minute window", res.Escalation.SLA)
	}
}

func TestStamperStepsPastHead(t *testing.T) {
	head := cycleTime.Add(5 * time.Second)
	s := newStamper(cycleTime, head)

	first := s.next()
	if !first.After(head) {
		t.Fatalf("first stamp %s not after head %s", first, head)
	}
	second := s.next()
	if !second.After(first) {
		t.Errorf("stamps not strictly increasing: %s then %s", first, second)
	}
}

func TestStamperFreshChain(t *testing.T) {
	s := newStamper(cycleTime, time.Time{})
	if got := s.next(); !got.Equal(cycleTime) {
		t.Errorf("first stamp = %s, want the cycle time", got)
	}
}
