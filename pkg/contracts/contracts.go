// Package contracts defines the shared data shapes that flow through the
// cortex decision brain: chained events, content-addressed artifacts,
// decision contracts, skill execution envelopes, and the validation and
// denial types every boundary returns.
//
// Shapes here are wire contracts. Identifiers and hashes are derived from
// canonical form elsewhere; this package only states what the fields mean
// and which values are legal.
package contracts

import (
	"fmt"
	"strings"
	"time"
)

// AutonomyState is the brain's operating mode for a tenant, ordered by
// restriction. Only the current state is ever held; prior states live in the
// event chain.
type AutonomyState string

const (
	AutonomyAdvisory   AutonomyState = "advisory"
	AutonomyAssisted   AutonomyState = "assisted"
	AutonomyRestricted AutonomyState = "restricted"
	AutonomyLocked     AutonomyState = "locked"
)

// Rank returns the position on the restriction ladder, advisory = 0 through
// locked = 3. Unknown states rank above locked so they can never loosen a
// comparison.
func (s AutonomyState) Rank() int {
	switch s {
	case AutonomyAdvisory:
		return 0
	case AutonomyAssisted:
		return 1
	case AutonomyRestricted:
		return 2
	case AutonomyLocked:
		return 3
	default:
		return 4
	}
}

// Valid reports whether s is one of the four defined states.
func (s AutonomyState) Valid() bool {
	return s.Rank() <= 3
}

// Actor type constants.
const (
	ActorHuman  = "human"
	ActorAgent  = "agent"
	ActorSystem = "system"
)

// Actor identifies who caused an event.
type Actor struct {
	TenantID  string `json:"tenant_id"`
	ActorID   string `json:"actor_id"`
	ActorType string `json:"actor_type"` // "human", "agent", "system"
	Role      string `json:"role,omitempty"`
}

// ExecContext carries the execution scope an event or skill run happens in.
type ExecContext struct {
	TenantID string `json:"tenant_id"`

	// TraceID correlates the event with the observability trace.
	TraceID string `json:"trace_id,omitempty"`

	// PolicyPath is the dot-separated decision path being exercised,
	// e.g. "finops.variance.flag".
	PolicyPath string `json:"policy_path"`

	// ReadOnly must be true for every autonomous skill run.
	ReadOnly bool `json:"read_only"`
}

// Event type constants for the events the brain emits itself. Event.Type is
// open-ended; collaborators may append their own types.
const (
	EventSignalDetected    = "signal.detected"
	EventDecisionProposed  = "decision.proposed"
	EventDecisionEvaluated = "decision.evaluated"
	EventEscalationRaised  = "escalation.raised"
	EventAutonomyChanged   = "autonomy.changed"
	EventHealthScored      = "health.scored"
	EventOverrideRecorded  = "override.recorded"
	EventSkillExecuted     = "skill.executed"
)

// Event is one append-only entry in a tenant's hash chain.
//
// Hash covers every field except itself. The first event of a chain carries
// an empty ParentID; every later event's ParentID equals the previous
// event's ID in timestamp-then-id order.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Actor     Actor                  `json:"actor"`
	Context   ExecContext            `json:"context"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	ParentID  string                 `json:"parent_id,omitempty"`
	Hash      string                 `json:"hash"`
}

// Validate checks the event's shape. Hash correctness is the ledger's job.
func (e Event) Validate() ValidationResult {
	var errs []string
	if e.ID == "" {
		errs = append(errs, "event id is required")
	}
	if e.Type == "" {
		errs = append(errs, "event type is required")
	}
	if e.Actor.TenantID == "" {
		errs = append(errs, "actor tenant_id is required")
	}
	if e.Context.TenantID == "" {
		errs = append(errs, "context tenant_id is required")
	}
	if e.Actor.TenantID != "" && e.Context.TenantID != "" && e.Actor.TenantID != e.Context.TenantID {
		errs = append(errs, fmt.Sprintf("actor tenant %q does not match context tenant %q", e.Actor.TenantID, e.Context.TenantID))
	}
	if e.Timestamp.IsZero() {
		errs = append(errs, "timestamp is required")
	}
	return result(errs)
}

// ArtifactType classifies a governance artifact.
type ArtifactType string

const (
	ArtifactDecision      ArtifactType = "decision"
	ArtifactEscalation    ArtifactType = "escalation"
	ArtifactHealth        ArtifactType = "health"
	ArtifactContextWindow ArtifactType = "context_window"
	ArtifactSnapshot      ArtifactType = "snapshot"
	ArtifactGateAudit     ArtifactType = "gate_audit"
	ArtifactEventLog      ArtifactType = "event_log"
)

// ArtifactTypes lists every defined artifact type. A complete audit period
// carries at least one artifact of each.
func ArtifactTypes() []ArtifactType {
	return []ArtifactType{
		ArtifactDecision,
		ArtifactEscalation,
		ArtifactHealth,
		ArtifactContextWindow,
		ArtifactSnapshot,
		ArtifactGateAudit,
		ArtifactEventLog,
	}
}

// Valid reports whether t is a defined artifact type.
func (t ArtifactType) Valid() bool {
	for _, known := range ArtifactTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Artifact is a content-addressed governance record grouped by tenant and
// calendar month.
//
// Hash is the SHA-256 digest of the canonical payload: exactly 64 lowercase
// hex characters, no prefix. Downstream verifiers depend on that shape.
type Artifact struct {
	ArtifactID string       `json:"artifact_id"`
	TenantID   string       `json:"tenant_id"`
	MonthKey   string       `json:"month_key"` // "2026-08"
	Type       ArtifactType `json:"type"`

	GeneratedAt   time.Time `json:"generated_at"`
	Hash          string    `json:"hash"`
	SchemaVersion int       `json:"schema_version"`

	// ParentArtifactID links derived artifacts to their source for lineage.
	ParentArtifactID string `json:"parent_artifact_id,omitempty"`

	Payload map[string]interface{} `json:"payload,omitempty"`
}

// SchemaVersionCurrent is stamped on every artifact minted by this module.
const SchemaVersionCurrent = 1

// MonthKeyOf formats t as an artifact month key in UTC.
func MonthKeyOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Risk level constants for decision contracts.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// DecisionContract is the immutable record of what a decision predicted.
// Outcomes are recorded separately as a DecisionEvaluation; the contract
// itself never changes after creation.
type DecisionContract struct {
	DecisionID string `json:"decision_id"`

	// Hypothesis states the expected causal effect in operator language.
	Hypothesis string `json:"hypothesis"`

	// MetricTarget names the series the contract will be judged against.
	MetricTarget string `json:"metric_target"`

	EvaluationWindowDays int     `json:"evaluation_window_days"`
	ExpectedDelta        float64 `json:"expected_delta"`

	// RiskLevel is "low", "medium" or "high".
	RiskLevel string `json:"risk_level"`

	// Domain groups contracts for reporting, e.g. "supplier", "cashflow".
	Domain string `json:"domain"`
}

// Validate checks contract shape before registration.
func (c DecisionContract) Validate() ValidationResult {
	var errs []string
	if c.DecisionID == "" {
		errs = append(errs, "decision_id is required")
	}
	if c.Hypothesis == "" {
		errs = append(errs, "hypothesis is required")
	}
	if c.MetricTarget == "" {
		errs = append(errs, "metric_target is required")
	}
	if c.EvaluationWindowDays <= 0 {
		errs = append(errs, "evaluation_window_days must be positive")
	}
	switch c.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		errs = append(errs, fmt.Sprintf("risk_level %q is not one of low, medium, high", c.RiskLevel))
	}
	return result(errs)
}

// DecisionEvaluation records how a contract turned out. Success means the
// observed delta met or beat the contract's expectation.
type DecisionEvaluation struct {
	DecisionID  string    `json:"decision_id"`
	ActualDelta float64   `json:"actual_delta"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	Success     bool      `json:"success"`
}

// TriggerEvent is the inbound shape collaborators deliver when something
// notable happened outside the brain.
type TriggerEvent struct {
	TriggerID    string    `json:"trigger_id"`
	TriggerClass string    `json:"trigger_class"`
	Source       string    `json:"source"`
	Severity     string    `json:"severity"`
	OccurredAt   time.Time `json:"occurred_at"`
	EvidenceRefs []string  `json:"evidence_refs,omitempty"`
}

// Validate checks the trigger's shape.
func (t TriggerEvent) Validate() ValidationResult {
	var errs []string
	if t.TriggerID == "" {
		errs = append(errs, "trigger_id is required")
	}
	if t.TriggerClass == "" {
		errs = append(errs, "trigger_class is required")
	}
	if t.Source == "" {
		errs = append(errs, "source is required")
	}
	if t.OccurredAt.IsZero() {
		errs = append(errs, "occurred_at is required")
	}
	return result(errs)
}

// Memory namespace constants. Writes outside this closed set are denied.
const (
	NamespaceEventLedger     = "event-ledger"
	NamespaceTemporalGraph   = "temporal-graph"
	NamespaceBehaviorSummary = "behavior-summary"
)

// ValidNamespace reports whether ns is one of the allowed memory namespaces.
func ValidNamespace(ns string) bool {
	switch ns {
	case NamespaceEventLedger, NamespaceTemporalGraph, NamespaceBehaviorSummary:
		return true
	default:
		return false
	}
}

// TenantSkillContext scopes one skill run to a tenant, a policy path and an
// observation window.
type TenantSkillContext struct {
	TenantID  string `json:"tenant_id"`
	SkillName string `json:"skill_name"`

	// PolicyPath is the decision path the run executes under. Must be
	// non-empty before any skill code runs.
	PolicyPath string `json:"policy_path"`

	// ReadOnly must be true; the brain never grants write effects to skills.
	ReadOnly bool `json:"read_only"`

	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	TraceID string `json:"trace_id,omitempty"`
}

// SkillInput is the payload handed to a skill handler.
type SkillInput struct {
	TenantID   string                 `json:"tenant_id"`
	Intent     string                 `json:"intent"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// MemoryWrite is one requested write to tenant memory. The gate denies any
// write whose tenant differs from the execution context or whose namespace
// is not in the closed set.
type MemoryWrite struct {
	TenantID  string                 `json:"tenant_id"`
	Namespace string                 `json:"namespace"`
	Key       string                 `json:"key"`
	Value     map[string]interface{} `json:"value,omitempty"`
}

// DecisionEnvelope is the structured verdict a skill returns.
type DecisionEnvelope struct {
	TenantID   string   `json:"tenant_id"`
	DecisionID string   `json:"decision_id,omitempty"`
	Action     string   `json:"action"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons,omitempty"`
}

// SkillOutput is everything a skill run may produce. Every tenant reference
// inside must equal the execution context tenant.
type SkillOutput struct {
	Envelope     DecisionEnvelope   `json:"envelope"`
	MemoryWrites []MemoryWrite      `json:"memory_writes,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
}

// ValidationResult reports shape problems without stopping the caller.
// Invalid input is an expected outcome, not an error value.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func result(errs []string) ValidationResult {
	if len(errs) > 0 {
		return ValidationResult{Valid: false, Errors: errs}
	}
	return ValidationResult{Valid: true}
}

// Denial is a typed refusal from an authorization or contract boundary.
// Code is machine readable; Reasons are operator readable. A Denial is
// terminal for the attempted operation, never retried.
type Denial struct {
	Code    string   `json:"code"`
	Reasons []string `json:"reasons"`
}

// Error implements the error interface so denials travel as error values.
func (d *Denial) Error() string {
	if len(d.Reasons) == 0 {
		return d.Code
	}
	return d.Code + ": " + strings.Join(d.Reasons, "; ")
}

// Deny builds a Denial with formatted reasons.
func Deny(code string, reasons ...string) *Denial {
	return &Denial{Code: code, Reasons: reasons}
}

// IntegrityError reports a fatal verification failure: a broken hash chain,
// a tampered artifact, or an inconsistent lineage. Processing for the named
// tenant and scope must halt until an operator intervenes.
type IntegrityError struct {
	TenantID string   `json:"tenant_id"`
	Scope    string   `json:"scope"` // "event-chain", "artifact", "compaction", "lineage"
	Reasons  []string `json:"reasons"`
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity failure in %s for tenant %s: %s", e.Scope, e.TenantID, strings.Join(e.Reasons, "; "))
}
