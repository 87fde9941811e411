package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for decision cycles.
var (
	// Cycle attributes
	AttrTenantID = attribute.Key("cortex.tenant.id")
	AttrCycleID  = attribute.Key("cortex.cycle.id")
	AttrStage    = attribute.Key("cortex.stage")

	// Signal attributes
	AttrRuleID     = attribute.Key("cortex.signal.rule_id")
	AttrSignalType = attribute.Key("cortex.signal.type")

	// Policy gate attributes
	AttrPolicyPath    = attribute.Key("cortex.policy.path")
	AttrPolicyCode    = attribute.Key("cortex.policy.code")
	AttrPolicyAllowed = attribute.Key("cortex.policy.allowed")

	// Containment attributes
	AttrEscalationTier = attribute.Key("cortex.escalation.tier")
	AttrAutonomyFrom   = attribute.Key("cortex.autonomy.from")
	AttrAutonomyTo     = attribute.Key("cortex.autonomy.to")
	AttrSensitivity    = attribute.Key("cortex.health.sensitivity")

	// Artifact attributes
	AttrArtifactType = attribute.Key("cortex.artifact.type")
)

// CycleOperation creates attributes for one decision cycle.
func CycleOperation(tenantID, cycleID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrCycleID.String(cycleID),
	}
}

// StageOperation creates attributes for one stage of a cycle.
func StageOperation(tenantID, stage string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrStage.String(stage),
	}
}

// SignalOperation creates attributes for a detected signal.
func SignalOperation(tenantID, ruleID, signalType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrRuleID.String(ruleID),
		AttrSignalType.String(signalType),
	}
}

// PolicyOperation creates attributes for a policy verdict.
func PolicyOperation(path, code string, allowed bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPolicyPath.String(path),
		AttrPolicyCode.String(code),
		AttrPolicyAllowed.Bool(allowed),
	}
}

// AutonomyTransition creates attributes for an autonomy change.
func AutonomyTransition(tenantID, from, to string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrAutonomyFrom.String(from),
		AttrAutonomyTo.String(to),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
