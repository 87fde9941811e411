// Package engine runs the decision cycle for one tenant at a time:
// detection, health scoring, escalation, autonomy and the policy gate, in
// that order. Every outcome is appended to the tenant's event chain and
// minted as artifacts, so a cycle leaves a complete audit trail behind.
//
// The engine itself is frozen at construction. Rules, policies and drift
// thresholds never change after New; everything that varies arrives in the
// CycleInput, which keeps a cycle replayable from its inputs.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/cortex/pkg/artifacts"
	"github.com/ledgerline/cortex/pkg/autonomy"
	"github.com/ledgerline/cortex/pkg/config"
	"github.com/ledgerline/cortex/pkg/contracts"
	"github.com/ledgerline/cortex/pkg/escalation"
	"github.com/ledgerline/cortex/pkg/health"
	"github.com/ledgerline/cortex/pkg/ledger"
	"github.com/ledgerline/cortex/pkg/observability"
	"github.com/ledgerline/cortex/pkg/pattern"
	"github.com/ledgerline/cortex/pkg/policy"
	"github.com/ledgerline/cortex/pkg/store"
)

// EngineActorID identifies the decision brain as event actor.
const EngineActorID = "cortex-engine"

// Engine evaluates decision cycles against a frozen rule set and policy
// table.
type Engine struct {
	patterns      *pattern.Engine
	policies      *policy.Table
	shadow        *policy.Table
	drift         *pattern.DriftDetector
	events        store.EventStore
	artifactStore store.ArtifactStore
	minter        *artifacts.Minter
	obs           *observability.Provider
	slo           *observability.SLOTracker
	outbox        store.Outbox
	slaTighten    map[escalation.Tier]int
	reviewers     []escalation.Reviewer
	log           *slog.Logger
	newCycleID    func() string
}

// New builds an engine. The pattern engine, policy table and event store
// are required; everything else has chained options.
func New(patterns *pattern.Engine, policies *policy.Table, events store.EventStore) (*Engine, error) {
	if patterns == nil {
		return nil, fmt.Errorf("engine: pattern engine is required")
	}
	if policies == nil {
		return nil, fmt.Errorf("engine: policy table is required")
	}
	if events == nil {
		return nil, fmt.Errorf("engine: event store is required")
	}
	drift, err := pattern.NewDriftDetector(nil)
	if err != nil {
		return nil, err
	}
	return &Engine{
		patterns:   patterns,
		policies:   policies,
		drift:      drift,
		events:     events,
		minter:     artifacts.NewMinter(),
		obs:        observability.Disabled(),
		log:        slog.Default().With("component", "engine"),
		newCycleID: uuid.NewString,
	}, nil
}

// FromProfile builds an engine fully wired from a tenant profile: its
// pattern rules, policy table, drift thresholds, SLA tightening and
// reviewer roster.
func FromProfile(p *config.TenantProfile, events store.EventStore) (*Engine, error) {
	patterns, err := p.PatternEngine()
	if err != nil {
		return nil, err
	}
	policies, err := p.PolicyTable()
	if err != nil {
		return nil, err
	}
	eng, err := New(patterns, policies, events)
	if err != nil {
		return nil, err
	}
	thresholds, err := p.DriftThresholds()
	if err != nil {
		return nil, err
	}
	drift, err := pattern.NewDriftDetector(thresholds)
	if err != nil {
		return nil, err
	}
	overrides, err := p.SLAOverrides()
	if err != nil {
		return nil, err
	}
	roster, err := p.ReviewerRoster()
	if err != nil {
		return nil, err
	}
	return eng.WithDriftDetector(drift).
		WithSLATightening(overrides).
		WithReviewers(roster), nil
}

// WithDriftDetector overrides the stock drift thresholds. Returns the
// engine for chaining.
func (e *Engine) WithDriftDetector(d *pattern.DriftDetector) *Engine {
	e.drift = d
	return e
}

// WithArtifactStore persists minted artifacts. Without it, artifacts are
// only returned in the cycle result.
func (e *Engine) WithArtifactStore(s store.ArtifactStore) *Engine {
	e.artifactStore = s
	return e
}

// WithShadowTable runs a candidate policy table dark alongside the
// enforced one. Only the enforced verdict has effect.
func (e *Engine) WithShadowTable(t *policy.Table) *Engine {
	e.shadow = t
	return e
}

// WithObservability attaches a telemetry provider.
func (e *Engine) WithObservability(p *observability.Provider) *Engine {
	e.obs = p
	return e
}

// WithSLOTracker records a cycle observation per run.
func (e *Engine) WithSLOTracker(t *observability.SLOTracker) *Engine {
	e.slo = t
	return e
}

// WithOutbox queues a notification for the ticketing collaborator
// whenever a cycle raises an escalation. The notification id is the
// escalation artifact id, so replayed cycles do not double-notify.
func (e *Engine) WithOutbox(o store.Outbox) *Engine {
	e.outbox = o
	return e
}

// WithSLATightening shortens escalation response windows per tier.
// Overrides looser than the stock plan are ignored; SLAs only tighten.
func (e *Engine) WithSLATightening(overrides map[escalation.Tier]int) *Engine {
	e.slaTighten = overrides
	return e
}

// WithReviewers sets the roster used when the cycle input carries none.
func (e *Engine) WithReviewers(roster []escalation.Reviewer) *Engine {
	e.reviewers = roster
	return e
}

// WithLogger overrides the component logger.
func (e *Engine) WithLogger(log *slog.Logger) *Engine {
	e.log = log
	return e
}

// CycleInput carries one tenant's readings for a single decision cycle.
type CycleInput struct {
	TenantID string
	// Now anchors the cycle's event timestamps. Zero takes the wall clock.
	Now     time.Time
	TraceID string

	// Detection inputs.
	Series              pattern.SeriesSet
	Drift               map[pattern.DriftType]float64
	Dampening           pattern.DampeningInput
	TimeWeight          float64
	HistoricalStability float64
	PatternConflict     bool

	// Health inputs.
	Health health.Input

	// Autonomy inputs. An empty state counts as advisory.
	Autonomy            contracts.AutonomyState
	RiskExposure        float64
	ConsecutiveMisfires int

	// Escalation inputs.
	FinancialDeviationPct     float64
	ReconciliationInstability float64
	Reviewers                 []escalation.Reviewer

	// ProposedAction is the policy path under consideration. Empty means
	// the cycle observes without proposing anything.
	ProposedAction string
}

// CycleResult is everything one cycle produced. Events and artifacts have
// already been persisted when the configured stores allow it.
type CycleResult struct {
	CycleID   string    `json:"cycle_id"`
	TenantID  string    `json:"tenant_id"`
	StartedAt time.Time `json:"started_at"`

	Signals    []pattern.Signal      `json:"signals,omitempty"`
	Health     health.Report         `json:"health"`
	Escalation escalation.Escalation `json:"escalation"`
	Autonomy   autonomy.Decision     `json:"autonomy"`
	Policy     *policy.Verdict       `json:"policy,omitempty"`
	Shadow     *policy.ShadowReport  `json:"shadow,omitempty"`

	Events    []contracts.Event    `json:"events,omitempty"`
	Artifacts []contracts.Artifact `json:"artifacts,omitempty"`
}

// RunCycle evaluates one cycle. Events append to the tenant's chain in
// stage order; the health artifact roots the cycle's artifact lineage.
func (e *Engine) RunCycle(ctx context.Context, in CycleInput) (res *CycleResult, err error) {
	if in.TenantID == "" {
		return nil, fmt.Errorf("engine: tenant id is required")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	if in.Autonomy == "" {
		in.Autonomy = contracts.AutonomyAdvisory
	}
	if in.Reviewers == nil {
		in.Reviewers = e.reviewers
	}

	cycleID := e.newCycleID()
	started := time.Now()
	ctx, finish := e.obs.TrackCycle(ctx, "cortex.cycle", observability.CycleOperation(in.TenantID, cycleID)...)
	defer func() {
		finish(err)
		if e.slo != nil {
			e.slo.Record(observability.SLOObservation{
				Operation: observability.OpCycle,
				Latency:   time.Since(started),
				Success:   err == nil,
			})
		}
	}()

	chain, headAt, err := e.resumeChain(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}
	stamp := newStamper(now, headAt)

	res = &CycleResult{CycleID: cycleID, TenantID: in.TenantID, StartedAt: now}
	ectx := contracts.ExecContext{
		TenantID:   in.TenantID,
		TraceID:    in.TraceID,
		PolicyPath: in.ProposedAction,
		ReadOnly:   true,
	}

	// Detection.
	signals, driftScores, err := e.detect(ctx, in)
	if err != nil {
		return nil, err
	}
	res.Signals = signals
	for _, sig := range signals {
		payload, perr := toPayload(sig)
		if perr != nil {
			return nil, fmt.Errorf("engine: encode signal %s: %w", sig.RuleID, perr)
		}
		if aerr := e.appendEvent(ctx, chain, contracts.EventSignalDetected, ectx, payload, stamp.next(), res); aerr != nil {
			return nil, aerr
		}
	}
	topConfidence := 0.0
	if len(signals) > 0 {
		topConfidence = signals[0].Confidence
	}

	// Health.
	report := e.scoreHealth(ctx, in)
	res.Health = report
	healthPayload, err := toPayload(report)
	if err != nil {
		return nil, fmt.Errorf("engine: encode health report: %w", err)
	}
	if err = e.appendEvent(ctx, chain, contracts.EventHealthScored, ectx, healthPayload, stamp.next(), res); err != nil {
		return nil, err
	}
	healthArt, err := e.mintArtifact(ctx, contracts.ArtifactHealth, now, healthPayload, "", res)
	if err != nil {
		return nil, err
	}

	// Escalation.
	esc := e.escalate(ctx, in, topConfidence, now)
	res.Escalation = esc
	if esc.Tier != escalation.TierNone {
		escPayload, perr := toPayload(esc)
		if perr != nil {
			return nil, fmt.Errorf("engine: encode escalation: %w", perr)
		}
		if err = e.appendEvent(ctx, chain, contracts.EventEscalationRaised, ectx, escPayload, stamp.next(), res); err != nil {
			return nil, err
		}
		escArt, merr := e.mintArtifact(ctx, contracts.ArtifactEscalation, now, escPayload, healthArt.ArtifactID, res)
		if merr != nil {
			return nil, merr
		}
		if err = e.notify(ctx, esc, escArt, now); err != nil {
			return nil, err
		}
	}

	// Autonomy.
	decision := e.decideAutonomy(ctx, in, report, esc, driftScores)
	res.Autonomy = decision
	if decision.To != decision.From {
		decisionPayload, perr := toPayload(decision)
		if perr != nil {
			return nil, fmt.Errorf("engine: encode autonomy decision: %w", perr)
		}
		if err = e.appendEvent(ctx, chain, contracts.EventAutonomyChanged, ectx, decisionPayload, stamp.next(), res); err != nil {
			return nil, err
		}
	}

	// Policy gate.
	if in.ProposedAction != "" {
		verdict, shadow := e.gate(ctx, in, topConfidence, report, esc, decision, driftScores)
		res.Policy = &verdict
		res.Shadow = shadow

		proposalPayload := map[string]interface{}{
			"path":           in.ProposedAction,
			"verdict":        verdict,
			"autonomy":       string(decision.To),
			"top_confidence": topConfidence,
			"signal_count":   len(signals),
		}
		proposalPayload, err = toPayload(proposalPayload)
		if err != nil {
			return nil, fmt.Errorf("engine: encode proposal: %w", err)
		}
		if err = e.appendEvent(ctx, chain, contracts.EventDecisionProposed, ectx, proposalPayload, stamp.next(), res); err != nil {
			return nil, err
		}
		if _, err = e.mintArtifact(ctx, contracts.ArtifactDecision, now, proposalPayload, healthArt.ArtifactID, res); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// detect runs the rule engine and drift assessment and scores the matches.
func (e *Engine) detect(ctx context.Context, in CycleInput) ([]pattern.Signal, []pattern.DriftScore, error) {
	ctx, span := e.obs.StartSpan(ctx, "cortex.stage.pattern")
	defer span.End()

	matches, err := e.patterns.Evaluate(in.TenantID, in.Series)
	if err != nil {
		return nil, nil, err
	}
	driftScores, err := e.drift.Assess(in.Drift)
	if err != nil {
		return nil, nil, err
	}

	conf := pattern.ConfidenceInput{
		TimeWeight:          in.TimeWeight,
		HistoricalStability: in.HistoricalStability,
	}
	signals := make([]pattern.Signal, 0, len(matches))
	for _, m := range matches {
		signals = append(signals, pattern.ScoreSignal(in.TenantID, m, conf, in.Dampening, driftScores))
	}
	pattern.SortSignals(signals)

	for _, sig := range signals {
		observability.AddSpanEvent(ctx, "signal.detected",
			observability.SignalOperation(in.TenantID, sig.RuleID, sig.Type)...)
	}
	return signals, driftScores, nil
}

func (e *Engine) scoreHealth(ctx context.Context, in CycleInput) health.Report {
	_, span := e.obs.StartSpan(ctx, "cortex.stage.health")
	defer span.End()

	report := health.Evaluate(in.TenantID, in.Health)
	if report.Containment.Sensitivity != health.SensitivityNominal {
		e.log.Warn("tenant health degraded",
			"tenant_id", in.TenantID,
			"score", report.Score,
			"sensitivity", report.Containment.Sensitivity,
		)
	}
	return report
}

func (e *Engine) escalate(ctx context.Context, in CycleInput, topConfidence float64, raisedAt time.Time) escalation.Escalation {
	ctx, span := e.obs.StartSpan(ctx, "cortex.stage.escalation")
	defer span.End()

	esc := escalation.Evaluate(in.TenantID, escalation.Input{
		FinancialDeviationPct:     in.FinancialDeviationPct,
		Confidence:                topConfidence,
		RiskExposure:              in.RiskExposure,
		ReconciliationInstability: in.ReconciliationInstability,
		PatternConflict:           in.PatternConflict,
	}, in.Reviewers, raisedAt)

	if esc.SLA != nil {
		if minutes, ok := e.slaTighten[esc.Tier]; ok && minutes > 0 && minutes < esc.SLA.MaxResponseMinutes {
			esc.SLA.MaxResponseMinutes = minutes
			esc.DeadlineAt = esc.SLA.Deadline(esc.RaisedAt)
		}
	}

	if esc.Tier != escalation.TierNone {
		e.obs.RecordEscalation(ctx, in.TenantID, string(esc.Tier))
		e.log.Info("escalation raised",
			"tenant_id", in.TenantID,
			"tier", esc.Tier,
			"unassigned", esc.Unassigned,
			"reasons", esc.Reasons,
		)
	}
	return esc
}

func (e *Engine) decideAutonomy(ctx context.Context, in CycleInput, report health.Report, esc escalation.Escalation, driftScores []pattern.DriftScore) autonomy.Decision {
	ctx, span := e.obs.StartSpan(ctx, "cortex.stage.autonomy")
	defer span.End()

	decision := autonomy.Decide(in.Autonomy,
		autonomy.TransitionInput{
			Accuracy:            in.Health.Accuracy,
			RoiNegative:         in.Health.RoiDelta < 0,
			ConsecutiveMisfires: in.ConsecutiveMisfires,
			RiskExposure:        in.RiskExposure,
			DriftTriggered:      pattern.AnyTriggered(driftScores),
		},
		autonomy.BreakerInput{
			HealthScore:        report.Score,
			RiskExposure:       in.RiskExposure,
			EscalationCritical: esc.Critical(),
		},
	)

	if decision.BreakerTripped {
		e.obs.RecordBreakerTrip(ctx, in.TenantID)
	}
	if decision.To != decision.From {
		observability.AddSpanEvent(ctx, "autonomy.changed",
			observability.AutonomyTransition(in.TenantID, string(decision.From), string(decision.To))...)
		e.log.Info("autonomy changed",
			"tenant_id", in.TenantID,
			"from", decision.From,
			"to", decision.To,
			"breaker", decision.BreakerTripped,
			"reasons", decision.Reasons,
		)
	}
	return decision
}

func (e *Engine) gate(ctx context.Context, in CycleInput, topConfidence float64, report health.Report, esc escalation.Escalation, decision autonomy.Decision, driftScores []pattern.DriftScore) (policy.Verdict, *policy.ShadowReport) {
	ctx, span := e.obs.StartSpan(ctx, "cortex.stage.policy")
	defer span.End()

	attrs := map[string]interface{}{
		"tenant":           in.TenantID,
		"autonomy":         string(decision.To),
		"sensitivity":      string(report.Containment.Sensitivity),
		"freeze_strategic": report.Containment.FreezeStrategic,
		"escalation_tier":  string(esc.Tier),
		"drift_triggered":  pattern.AnyTriggered(driftScores),
	}

	var verdict policy.Verdict
	var shadowReport *policy.ShadowReport
	if e.shadow != nil {
		sr := policy.Shadow(e.policies, e.shadow, in.ProposedAction, topConfidence, attrs)
		verdict = sr.Enforced
		shadowReport = &sr
	} else {
		verdict = e.policies.Evaluate(in.ProposedAction, topConfidence, attrs)
	}

	if !verdict.Allowed {
		e.obs.RecordPolicyDenial(ctx, verdict.Path, verdict.Code)
		e.log.Warn("policy denied action",
			"tenant_id", in.TenantID,
			"path", verdict.Path,
			"code", verdict.Code,
			"reasons", verdict.Reasons,
		)
	}
	return verdict, shadowReport
}

// resumeChain continues the tenant's persisted chain, or starts a fresh one
// for a tenant with no history.
func (e *Engine) resumeChain(ctx context.Context, tenantID string) (*ledger.Chain, time.Time, error) {
	head, err := e.events.Head(ctx, tenantID)
	switch {
	case err == nil:
		return ledger.ResumeChain(tenantID, head.ID, head.Timestamp), head.Timestamp, nil
	case errors.Is(err, store.ErrNotFound):
		return ledger.NewChain(tenantID), time.Time{}, nil
	default:
		return nil, time.Time{}, fmt.Errorf("engine: load chain head for %s: %w", tenantID, err)
	}
}

func (e *Engine) appendEvent(ctx context.Context, chain *ledger.Chain, eventType string, ectx contracts.ExecContext, payload map[string]interface{}, at time.Time, res *CycleResult) error {
	actor := contracts.Actor{
		TenantID:  res.TenantID,
		ActorID:   EngineActorID,
		ActorType: contracts.ActorSystem,
	}
	ev, err := chain.Append(eventType, actor, ectx, payload, at)
	if err != nil {
		return fmt.Errorf("engine: append %s: %w", eventType, err)
	}
	if err := e.events.Append(ctx, ev); err != nil {
		return fmt.Errorf("engine: persist %s: %w", eventType, err)
	}
	res.Events = append(res.Events, ev)
	return nil
}

func (e *Engine) mintArtifact(ctx context.Context, typ contracts.ArtifactType, at time.Time, payload map[string]interface{}, parentID string, res *CycleResult) (contracts.Artifact, error) {
	art, err := e.minter.Mint(res.TenantID, typ, at, payload, parentID)
	if err != nil {
		return contracts.Artifact{}, fmt.Errorf("engine: mint %s artifact: %w", typ, err)
	}
	if e.artifactStore != nil {
		if err := e.artifactStore.PutArtifact(ctx, art); err != nil {
			return contracts.Artifact{}, fmt.Errorf("engine: persist %s artifact: %w", typ, err)
		}
	}
	res.Artifacts = append(res.Artifacts, art)
	return art, nil
}

// notify queues the escalation assignment for the ticketing collaborator.
func (e *Engine) notify(ctx context.Context, esc escalation.Escalation, escArt contracts.Artifact, now time.Time) error {
	if e.outbox == nil {
		return nil
	}
	n := store.Notification{
		ID:          escArt.ArtifactID,
		TenantID:    esc.TenantID,
		Tier:        string(esc.Tier),
		DeadlineAt:  esc.DeadlineAt,
		ScheduledAt: now,
	}
	if esc.Reviewer != nil {
		n.ReviewerID = esc.Reviewer.ID
	}
	if err := e.outbox.Schedule(ctx, n); err != nil {
		return fmt.Errorf("engine: schedule escalation notification: %w", err)
	}
	return nil
}

// stamper hands out strictly increasing timestamps inside one cycle so
// chained events keep a total order even when minted in the same instant.
// It starts past the persisted head, which keeps (timestamp, id) reads in
// true append order.
type stamper struct {
	at time.Time
}

func newStamper(start, headAt time.Time) *stamper {
	start = start.UTC()
	if !headAt.IsZero() && !headAt.Before(start) {
		start = headAt.Add(time.Microsecond).UTC()
	}
	return &stamper{at: start}
}

func (s *stamper) next() time.Time {
	t := s.at
	s.at = s.at.Add(time.Microsecond)
	return t
}

func toPayload(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
