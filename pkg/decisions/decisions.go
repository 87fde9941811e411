// Package decisions scores decision outcomes, grades them and aggregates
// batches for the audit trail.
package decisions

// Quality weights and penalties.
const (
	qualityWeightRoi        = 0.45
	qualityWeightConfidence = 0.35

	qualityPenaltyRisk     = 0.10
	qualityPenaltyOverride = 0.05
	qualityPenaltyDrift    = 0.05
)

// Grade bands.
const (
	gradeABar = 0.85
	gradeBBar = 0.70
	gradeCBar = 0.55
)

// Grade is the letter classification of a quality score.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// GradeFor maps a quality score onto its letter grade.
func GradeFor(score float64) Grade {
	switch {
	case score >= gradeABar:
		return GradeA
	case score >= gradeBBar:
		return GradeB
	case score >= gradeCBar:
		return GradeC
	default:
		return GradeD
	}
}

// QualityInput carries the components of a quality computation. Roi is a
// signed fraction in [-1, 1]; the rest are fractions in [0, 1].
type QualityInput struct {
	Roi             float64 `json:"roi"`
	Confidence      float64 `json:"confidence"`
	RiskPenalty     float64 `json:"risk_penalty"`
	OverridePenalty float64 `json:"override_penalty"`
	DriftPenalty    float64 `json:"drift_penalty"`
}

// QualityScore blends ROI and confidence and subtracts the penalties. The
// result is clamped to [0, 1].
func QualityScore(in QualityInput) float64 {
	score := qualityWeightRoi*((clampSigned(in.Roi)+1)/2) +
		qualityWeightConfidence*clamp01(in.Confidence) -
		qualityPenaltyRisk*clamp01(in.RiskPenalty) -
		qualityPenaltyOverride*clamp01(in.OverridePenalty) -
		qualityPenaltyDrift*clamp01(in.DriftPenalty)
	return clamp01(score)
}

// Record is one decision's entry in a batch.
type Record struct {
	DecisionID string  `json:"decision_id"`
	Roi        float64 `json:"roi"`
	Success    bool    `json:"success"`
	// FalsePositive marks a signal that fired without a real issue behind
	// it.
	FalsePositive bool `json:"false_positive"`
	// Suggested marks decisions where the assistant proposed an action;
	// SuggestionAccurate counts only among those.
	Suggested          bool `json:"suggested"`
	SuggestionAccurate bool `json:"suggestion_accurate"`
	Overridden         bool `json:"overridden"`
}

// Summary aggregates a batch of decision records. Every denominator floors
// at one, so an empty batch reports zeros instead of dividing by zero.
type Summary struct {
	Count              int     `json:"count"`
	SuccessRate        float64 `json:"success_rate"`
	FalsePositiveRate  float64 `json:"false_positive_rate"`
	AvgRoi             float64 `json:"avg_roi"`
	SuggestionAccuracy float64 `json:"suggestion_accuracy"`
	OverrideFrequency  float64 `json:"override_frequency"`
}

// Summarize folds a batch into its summary.
func Summarize(records []Record) Summary {
	var successes, falsePositives, overrides int
	var suggestions, accurate int
	var roiSum float64

	for _, r := range records {
		roiSum += r.Roi
		if r.Success {
			successes++
		}
		if r.FalsePositive {
			falsePositives++
		}
		if r.Overridden {
			overrides++
		}
		if r.Suggested {
			suggestions++
			if r.SuggestionAccurate {
				accurate++
			}
		}
	}

	total := float64(max(1, len(records)))
	return Summary{
		Count:              len(records),
		SuccessRate:        float64(successes) / total,
		FalsePositiveRate:  float64(falsePositives) / total,
		AvgRoi:             roiSum / total,
		SuggestionAccuracy: float64(accurate) / float64(max(1, suggestions)),
		OverrideFrequency:  float64(overrides) / total,
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

func clampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
