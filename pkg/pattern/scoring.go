package pattern

import (
	"fmt"
	"math"
	"sort"
)

// Confidence weights. Evidence saturates at ten samples.
const (
	confWeightEvidence  = 0.35
	confWeightTime      = 0.20
	confWeightDrift     = 0.30
	confWeightStability = 0.15

	evidenceSaturation = 10.0
)

// Dampening penalties. Repeated triggers without operator action and quick
// auto-resolutions both erode confidence, each up to its own cap.
const (
	repeatPenaltyStep = 0.05
	repeatPenaltyCap  = 0.25

	quickResolvePenaltyStep = 0.07
	quickResolvePenaltyCap  = 0.35
)

// ConfidenceInput carries the scored properties of a fresh signal. All
// fractional inputs are clamped to [0, 1] before weighting.
type ConfidenceInput struct {
	EvidenceCount       int     `json:"evidence_count"`
	TimeWeight          float64 `json:"time_weight"`
	DriftMagnitude      float64 `json:"drift_magnitude"`
	HistoricalStability float64 `json:"historical_stability"`
}

// ConfidenceScore blends evidence volume, recency, drift magnitude and
// historical stability into a single [0, 1] score.
func ConfidenceScore(in ConfidenceInput) float64 {
	evidence := clamp01(float64(in.EvidenceCount) / evidenceSaturation)
	score := confWeightEvidence*evidence +
		confWeightTime*clamp01(in.TimeWeight) +
		confWeightDrift*clamp01(in.DriftMagnitude) +
		confWeightStability*clamp01(in.HistoricalStability)
	return clamp01(score)
}

// DampeningInput counts the prior occurrences that weaken a fresh signal.
type DampeningInput struct {
	RepeatedTriggers int `json:"repeated_triggers"`
	QuickResolutions int `json:"quick_resolutions"`
}

// Dampen lowers confidence for signals that keep firing without consequence.
// The result never drops below zero.
func Dampen(confidence float64, in DampeningInput) float64 {
	score := clamp01(confidence)
	score -= math.Min(repeatPenaltyCap, repeatPenaltyStep*float64(max(0, in.RepeatedTriggers)))
	score -= math.Min(quickResolvePenaltyCap, quickResolvePenaltyStep*float64(max(0, in.QuickResolutions)))
	if score < 0 {
		return 0
	}
	return score
}

// DriftType names one of the monitored drift dimensions.
type DriftType string

const (
	DriftModel               DriftType = "model"
	DriftBehavioral          DriftType = "behavioral"
	DriftSupplierVolatility  DriftType = "supplier-volatility"
	DriftDecisionInstability DriftType = "decision-instability"
)

// DriftTypes returns the monitored drift dimensions in canonical order.
func DriftTypes() []DriftType {
	return []DriftType{DriftModel, DriftBehavioral, DriftSupplierVolatility, DriftDecisionInstability}
}

// Valid reports whether t is a monitored drift type.
func (t DriftType) Valid() bool {
	switch t {
	case DriftModel, DriftBehavioral, DriftSupplierVolatility, DriftDecisionInstability:
		return true
	default:
		return false
	}
}

// DriftThresholds maps each drift type to its trigger threshold.
type DriftThresholds map[DriftType]float64

// DefaultDriftThresholds returns the stock thresholds. Instability triggers
// are tuned progressively looser from model to decision drift.
func DefaultDriftThresholds() DriftThresholds {
	return DriftThresholds{
		DriftModel:               0.30,
		DriftBehavioral:          0.35,
		DriftSupplierVolatility:  0.40,
		DriftDecisionInstability: 0.45,
	}
}

// DriftScore is the assessed state of one drift dimension.
type DriftScore struct {
	Type      DriftType `json:"type"`
	Score     float64   `json:"score"`
	Threshold float64   `json:"threshold"`
	Triggered bool      `json:"triggered"`
}

// DriftDetector judges drift scores against per-type thresholds.
type DriftDetector struct {
	thresholds DriftThresholds
}

// NewDriftDetector builds a detector. A nil thresholds map takes the
// defaults; a partial map takes defaults for the missing types. Unknown
// types and thresholds outside [0, 1] are configuration errors.
func NewDriftDetector(thresholds DriftThresholds) (*DriftDetector, error) {
	merged := DefaultDriftThresholds()
	for t, v := range thresholds {
		if !t.Valid() {
			return nil, fmt.Errorf("pattern: unknown drift type %q", t)
		}
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("pattern: drift threshold for %q must be in [0, 1], got %v", t, v)
		}
		merged[t] = v
	}
	return &DriftDetector{thresholds: merged}, nil
}

// Assess scores each reported dimension against its threshold and returns
// the results in canonical type order. Unknown types are rejected.
func (d *DriftDetector) Assess(scores map[DriftType]float64) ([]DriftScore, error) {
	for t := range scores {
		if !t.Valid() {
			return nil, fmt.Errorf("pattern: unknown drift type %q", t)
		}
	}
	out := make([]DriftScore, 0, len(scores))
	for _, t := range DriftTypes() {
		score, ok := scores[t]
		if !ok {
			continue
		}
		clamped := clamp01(score)
		threshold := d.thresholds[t]
		out = append(out, DriftScore{
			Type:      t,
			Score:     clamped,
			Threshold: threshold,
			Triggered: clamped >= threshold,
		})
	}
	return out, nil
}

// AnyTriggered reports whether at least one dimension crossed its threshold.
func AnyTriggered(scores []DriftScore) bool {
	for _, s := range scores {
		if s.Triggered {
			return true
		}
	}
	return false
}

// MaxDriftMagnitude returns the highest assessed score, for use as the
// drift term of a confidence computation.
func MaxDriftMagnitude(scores []DriftScore) float64 {
	magnitude := 0.0
	for _, s := range scores {
		if s.Score > magnitude {
			magnitude = s.Score
		}
	}
	return magnitude
}

// Signal is the fully scored outcome of a rule match for one tenant.
type Signal struct {
	TenantID       string       `json:"tenant_id"`
	RuleID         string       `json:"rule_id"`
	Type           string       `json:"type"`
	EvidenceCount  int          `json:"evidence_count"`
	Confidence     float64      `json:"confidence"`
	Drift          []DriftScore `json:"drift,omitempty"`
	DriftTriggered bool         `json:"drift_triggered"`
}

// ScoreSignal combines a match with its confidence inputs, dampening and
// drift assessment into a Signal.
func ScoreSignal(tenantID string, m Match, conf ConfidenceInput, damp DampeningInput, drift []DriftScore) Signal {
	conf.EvidenceCount = m.EvidenceCount
	conf.DriftMagnitude = MaxDriftMagnitude(drift)
	confidence := Dampen(ConfidenceScore(conf), damp)
	return Signal{
		TenantID:       tenantID,
		RuleID:         m.RuleID,
		Type:           m.Signal,
		EvidenceCount:  m.EvidenceCount,
		Confidence:     confidence,
		Drift:          drift,
		DriftTriggered: AnyTriggered(drift),
	}
}

// SortSignals orders signals by descending confidence, then rule id for
// stability.
func SortSignals(signals []Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Confidence != signals[j].Confidence {
			return signals[i].Confidence > signals[j].Confidence
		}
		return signals[i].RuleID < signals[j].RuleID
	})
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
