package health

import (
	"math"
	"reflect"
	"testing"
)

func TestScoreReferenceVector(t *testing.T) {
	score := Score(Input{
		Accuracy:          0.9,
		RoiDelta:          0.5,
		DriftScore:        0.1,
		FalsePositiveRate: 0.05,
		Stability:         0.9,
	})
	// 0.27 + 0.1875 + 0.18 + 0.12 + 0.09
	if score != 0.8475 {
		t.Fatalf("Score = %v, want 0.8475", score)
	}
}

func TestScoreBounds(t *testing.T) {
	perfect := Score(Input{Accuracy: 1, RoiDelta: 1, DriftScore: 0, FalsePositiveRate: 0, Stability: 1})
	if perfect != 1.0 {
		t.Errorf("perfect inputs = %v, want 1.0", perfect)
	}
	worst := Score(Input{Accuracy: 0, RoiDelta: -1, DriftScore: 1, FalsePositiveRate: 1, Stability: 0})
	if worst != 0.0 {
		t.Errorf("worst inputs = %v, want 0.0", worst)
	}
}

func TestScoreClampsInputs(t *testing.T) {
	// Out-of-range inputs behave exactly like their clamped versions.
	wild := Score(Input{Accuracy: 3, RoiDelta: 9, DriftScore: -2, FalsePositiveRate: -1, Stability: 7})
	tame := Score(Input{Accuracy: 1, RoiDelta: 1, DriftScore: 0, FalsePositiveRate: 0, Stability: 1})
	if wild != tame {
		t.Errorf("clamped score %v != %v", wild, tame)
	}
}

func TestScoreFalsePositiveAmplification(t *testing.T) {
	base := Input{Accuracy: 1, RoiDelta: 1, DriftScore: 0, Stability: 1}

	quarter := base
	quarter.FalsePositiveRate = 0.25
	if got := Score(quarter); got != 0.85 {
		t.Errorf("fp 0.25 should zero the component: %v, want 0.85", got)
	}

	// Past 25% the component is already exhausted.
	half := base
	half.FalsePositiveRate = 0.5
	if got := Score(half); got != 0.85 {
		t.Errorf("fp 0.5 = %v, want 0.85", got)
	}
}

func TestScoreNeutralRoiMidRange(t *testing.T) {
	got := Score(Input{RoiDelta: 0})
	// Only drift (0.20), fp (0.15) and roi (0.125) contribute.
	if math.Abs(got-0.475) > 1e-9 {
		t.Errorf("neutral roi score = %v, want 0.475", got)
	}
}

func TestScoreRoundsToFourDecimals(t *testing.T) {
	got := Score(Input{Accuracy: 0.123456})
	// 0.30*0.123456 = 0.0370368, plus roi 0.125, drift 0.20, fp 0.15.
	if got != 0.5120 {
		t.Errorf("score = %v, want 0.5120", got)
	}
}

func TestPlanThresholds(t *testing.T) {
	cases := []struct {
		score    float64
		want     Sensitivity
		restrict bool
		freeze   bool
	}{
		{0.0, SensitivityCritical, true, true},
		{0.34, SensitivityCritical, true, true},
		{0.35, SensitivityElevated, true, false},
		{0.54, SensitivityElevated, true, false},
		{0.55, SensitivityNominal, false, false},
		{1.0, SensitivityNominal, false, false},
	}
	for _, tc := range cases {
		plan := Plan(tc.score)
		if plan.Sensitivity != tc.want {
			t.Errorf("Plan(%v).Sensitivity = %v, want %v", tc.score, plan.Sensitivity, tc.want)
		}
		if plan.RestrictAutonomy != tc.restrict {
			t.Errorf("Plan(%v).RestrictAutonomy = %v, want %v", tc.score, plan.RestrictAutonomy, tc.restrict)
		}
		if plan.FreezeStrategic != tc.freeze {
			t.Errorf("Plan(%v).FreezeStrategic = %v, want %v", tc.score, plan.FreezeStrategic, tc.freeze)
		}
	}
}

func TestEvaluate(t *testing.T) {
	report := Evaluate("tenant-a", Input{
		Accuracy:          0.2,
		RoiDelta:          -0.5,
		DriftScore:        0.8,
		FalsePositiveRate: 0.3,
		Stability:         0.1,
	})
	if report.TenantID != "tenant-a" {
		t.Errorf("tenant = %q", report.TenantID)
	}
	// 0.06 + 0.0625 + 0.04 + 0 + 0.01 = 0.1725
	if report.Score != 0.1725 {
		t.Errorf("score = %v, want 0.1725", report.Score)
	}
	if report.Containment.Sensitivity != SensitivityCritical {
		t.Errorf("containment = %+v, want critical", report.Containment)
	}
	if !report.Containment.FreezeStrategic {
		t.Error("critical containment must freeze strategic suggestions")
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	in := Input{Accuracy: 0.77, RoiDelta: 0.12, DriftScore: 0.33, FalsePositiveRate: 0.08, Stability: 0.61}
	first := Evaluate("tenant-a", in)
	for i := 0; i < 10; i++ {
		if got := Evaluate("tenant-a", in); !reflect.DeepEqual(got, first) {
			t.Fatalf("evaluation drifted between runs: %+v vs %+v", got, first)
		}
	}
}
