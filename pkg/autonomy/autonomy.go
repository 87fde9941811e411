// Package autonomy decides how much freedom the assistant keeps for a
// tenant. The transition function is pure: the next state is derived every
// cycle from the current state and the cycle's inputs, and a circuit
// breaker clamps the result when tenant health or risk says the gradual
// ladder is not cautious enough.
package autonomy

import (
	"fmt"

	"github.com/ledgerline/cortex/pkg/contracts"
)

// Transition thresholds.
const (
	lockRisk     = 0.8
	restrictRisk = 0.6
	assistRisk   = 0.35

	restrictAccuracy = 0.45
	assistAccuracy   = 0.7

	misfireLimit = 3
)

// Breaker thresholds. They mirror the containment bands of the health
// index.
const (
	breakerLockHealth     = 0.35
	breakerRestrictHealth = 0.55
	breakerLockRisk       = 0.8
	breakerRestrictRisk   = 0.6
)

// TransitionInput carries one cycle's operational readings.
type TransitionInput struct {
	Accuracy            float64 `json:"accuracy"`
	RoiNegative         bool    `json:"roi_negative"`
	ConsecutiveMisfires int     `json:"consecutive_misfires"`
	RiskExposure        float64 `json:"risk_exposure"`
	DriftTriggered      bool    `json:"drift_triggered"`
}

// Transition computes the next autonomy state. Recovery out of locked
// passes through restricted even when every reading is clean; a tenant
// never jumps from locked straight to advisory.
func Transition(current contracts.AutonomyState, in TransitionInput) (contracts.AutonomyState, []string) {
	switch {
	case in.RoiNegative:
		return contracts.AutonomyLocked, []string{"roi delta negative"}
	case in.ConsecutiveMisfires >= misfireLimit:
		return contracts.AutonomyLocked, []string{fmt.Sprintf("%d consecutive misfires", in.ConsecutiveMisfires)}
	case in.RiskExposure > lockRisk:
		return contracts.AutonomyLocked, []string{fmt.Sprintf("risk exposure %.2f above %.2f", in.RiskExposure, lockRisk)}
	case in.Accuracy < restrictAccuracy:
		return contracts.AutonomyRestricted, []string{fmt.Sprintf("accuracy %.2f below %.2f", in.Accuracy, restrictAccuracy)}
	case in.DriftTriggered:
		return contracts.AutonomyRestricted, []string{"drift triggered"}
	case in.RiskExposure > restrictRisk:
		return contracts.AutonomyRestricted, []string{fmt.Sprintf("risk exposure %.2f above %.2f", in.RiskExposure, restrictRisk)}
	case in.Accuracy < assistAccuracy:
		return contracts.AutonomyAssisted, []string{fmt.Sprintf("accuracy %.2f below %.2f", in.Accuracy, assistAccuracy)}
	case in.RiskExposure > assistRisk:
		return contracts.AutonomyAssisted, []string{fmt.Sprintf("risk exposure %.2f above %.2f", in.RiskExposure, assistRisk)}
	case current == contracts.AutonomyLocked:
		return contracts.AutonomyRestricted, []string{"recovery from locked passes through restricted"}
	default:
		return contracts.AutonomyAdvisory, nil
	}
}

// BreakerInput carries the readings the circuit breaker trips on.
type BreakerInput struct {
	HealthScore        float64 `json:"health_score"`
	RiskExposure       float64 `json:"risk_exposure"`
	EscalationCritical bool    `json:"escalation_critical"`
}

// Breaker checks the hard trip conditions. When tripped it returns the
// state the tenant must not exceed.
func Breaker(in BreakerInput) (contracts.AutonomyState, bool, []string) {
	switch {
	case in.EscalationCritical:
		return contracts.AutonomyLocked, true, []string{"critical escalation active"}
	case in.HealthScore < breakerLockHealth:
		return contracts.AutonomyLocked, true, []string{fmt.Sprintf("health %.4f below %.2f", in.HealthScore, breakerLockHealth)}
	case in.RiskExposure > breakerLockRisk:
		return contracts.AutonomyLocked, true, []string{fmt.Sprintf("risk exposure %.2f above %.2f", in.RiskExposure, breakerLockRisk)}
	case in.HealthScore < breakerRestrictHealth:
		return contracts.AutonomyRestricted, true, []string{fmt.Sprintf("health %.4f below %.2f", in.HealthScore, breakerRestrictHealth)}
	case in.RiskExposure > breakerRestrictRisk:
		return contracts.AutonomyRestricted, true, []string{fmt.Sprintf("risk exposure %.2f above %.2f", in.RiskExposure, breakerRestrictRisk)}
	default:
		return "", false, nil
	}
}

// Decision records one autonomy evaluation for the audit trail.
type Decision struct {
	From           contracts.AutonomyState `json:"from"`
	To             contracts.AutonomyState `json:"to"`
	BreakerTripped bool                    `json:"breaker_tripped"`
	Reasons        []string                `json:"reasons,omitempty"`
}

// Decide runs the transition and clamps it with the breaker. The breaker
// only ever tightens: when both fire, the stricter state wins.
func Decide(current contracts.AutonomyState, t TransitionInput, b BreakerInput) Decision {
	next, reasons := Transition(current, t)
	verdict, tripped, breakerReasons := Breaker(b)
	if tripped && verdict.Rank() > next.Rank() {
		next = verdict
		reasons = breakerReasons
	} else if tripped {
		reasons = append(reasons, breakerReasons...)
	}
	return Decision{
		From:           current,
		To:             next,
		BreakerTripped: tripped,
		Reasons:        reasons,
	}
}
