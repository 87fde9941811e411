// Package observability provides OpenTelemetry tracing and metrics for the
// decision brain, plus service level objective tracking over its runtime
// operations.
//
// # Tracing and metrics
//
// Initialize the provider at startup and shut it down on exit:
//
//	provider, err := observability.New(ctx, observability.DefaultConfig())
//	defer provider.Shutdown(ctx)
//
// Track a decision cycle end to end:
//
//	ctx, finish := provider.TrackCycle(ctx, "cortex.cycle",
//		observability.CycleOperation(tenantID, cycleID)...)
//	// ... run the cycle ...
//	finish(err)
//
// Record domain events as they happen:
//
//	provider.RecordPolicyDenial(ctx, verdict.Path, verdict.Code)
//	provider.RecordEscalation(ctx, tenantID, string(esc.Tier))
//	provider.RecordBreakerTrip(ctx, tenantID)
//
// A provider from Disabled() is inert: spans are no-ops and nothing is
// exported, so wiring code needs no conditionals.
//
// # Service level objectives
//
// SLOTracker judges recorded observations against per-operation targets:
//
//	tracker := observability.NewSLOTracker()
//	for _, target := range observability.DefaultTargets() {
//		tracker.SetTarget(target)
//	}
//	tracker.Record(observability.SLOObservation{
//		Operation: observability.OpCycle,
//		Latency:   elapsed,
//		Success:   err == nil,
//	})
//	status, _ := tracker.Status(observability.OpCycle)
package observability
