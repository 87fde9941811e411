// Package health computes the per-tenant health index and the containment
// plan that follows from it.
//
// The index is a pure weighted blend of five operational components. The
// same inputs always produce the same score, so health artifacts recorded
// by two replicas agree byte for byte.
package health

import "math"

// Component weights. They sum to 1.
const (
	weightAccuracy      = 0.30
	weightRoi           = 0.25
	weightDrift         = 0.20
	weightFalsePositive = 0.15
	weightStability     = 0.10

	// A false-positive rate of 25% already exhausts the component.
	falsePositiveAmplifier = 4.0
)

// Containment thresholds.
const (
	criticalBelow = 0.35
	elevatedBelow = 0.55
)

// Input carries the raw components of a health computation. Accuracy,
// DriftScore, FalsePositiveRate and Stability are fractions in [0, 1];
// RoiDelta is a signed fraction in [-1, 1].
type Input struct {
	Accuracy          float64 `json:"accuracy"`
	RoiDelta          float64 `json:"roi_delta"`
	DriftScore        float64 `json:"drift_score"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	Stability         float64 `json:"stability"`
}

// Score computes the health index in [0, 1], rounded half-up to four
// decimals. Drift and false positives count against the score; a neutral
// ROI delta of zero lands mid-range.
func Score(in Input) float64 {
	normRoi := clamp01((in.RoiDelta + 1) / 2)
	fpScore := 1 - math.Min(1, falsePositiveAmplifier*clamp01(in.FalsePositiveRate))

	score := weightAccuracy*clamp01(in.Accuracy) +
		weightRoi*normRoi +
		weightDrift*(1-clamp01(in.DriftScore)) +
		weightFalsePositive*fpScore +
		weightStability*clamp01(in.Stability)

	return round4(clamp01(score))
}

// Sensitivity is the monitoring posture a containment plan selects.
type Sensitivity string

const (
	SensitivityNominal  Sensitivity = "nominal"
	SensitivityElevated Sensitivity = "elevated"
	SensitivityCritical Sensitivity = "critical"
)

// Containment is the action plan derived from a health score.
type Containment struct {
	Sensitivity      Sensitivity `json:"sensitivity"`
	RestrictAutonomy bool        `json:"restrict_autonomy"`
	FreezeStrategic  bool        `json:"freeze_strategic"`
	Reasons          []string    `json:"reasons,omitempty"`
}

// Plan maps a health score onto a containment posture. Below 0.35 the
// tenant is restricted, moved to critical sensitivity and strategic
// suggestions freeze; below 0.55 it is restricted at elevated sensitivity;
// otherwise operation stays nominal.
func Plan(score float64) Containment {
	switch {
	case score < criticalBelow:
		return Containment{
			Sensitivity:      SensitivityCritical,
			RestrictAutonomy: true,
			FreezeStrategic:  true,
			Reasons:          []string{"health below critical threshold 0.35"},
		}
	case score < elevatedBelow:
		return Containment{
			Sensitivity:      SensitivityElevated,
			RestrictAutonomy: true,
			Reasons:          []string{"health below elevated threshold 0.55"},
		}
	default:
		return Containment{Sensitivity: SensitivityNominal}
	}
}

// Report is the health artifact payload for one tenant evaluation.
type Report struct {
	TenantID    string      `json:"tenant_id"`
	Score       float64     `json:"score"`
	Inputs      Input       `json:"inputs"`
	Containment Containment `json:"containment"`
}

// Evaluate scores the inputs and attaches the resulting containment plan.
func Evaluate(tenantID string, in Input) Report {
	score := Score(in)
	return Report{
		TenantID:    tenantID,
		Score:       score,
		Inputs:      in,
		Containment: Plan(score),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
