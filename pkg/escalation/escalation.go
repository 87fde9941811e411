// Package escalation classifies risky situations into review tiers, binds
// each tier to its SLA plan and assigns a reviewer deterministically.
package escalation

import (
	"fmt"
	"time"
)

// Tier is the severity classification of an escalation.
type Tier string

const (
	TierNone        Tier = "none"
	TierRecommended Tier = "escalation_recommended"
	TierRequired    Tier = "escalation_required"
	TierCritical    Tier = "escalation_critical"
)

// Rank orders tiers by severity, none lowest.
func (t Tier) Rank() int {
	switch t {
	case TierNone:
		return 0
	case TierRecommended:
		return 1
	case TierRequired:
		return 2
	case TierCritical:
		return 3
	default:
		return -1
	}
}

// Valid reports whether t is a defined tier.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// ReviewerRole is the seniority of a human reviewer.
type ReviewerRole string

const (
	RoleAnalyst    ReviewerRole = "analyst"
	RoleAuditor    ReviewerRole = "auditor"
	RoleController ReviewerRole = "controller"
	RoleOwner      ReviewerRole = "owner"
)

// Rank orders roles by seniority, analyst lowest. Unknown roles rank below
// every defined role so they never satisfy a minimum.
func (r ReviewerRole) Rank() int {
	switch r {
	case RoleAnalyst:
		return 0
	case RoleAuditor:
		return 1
	case RoleController:
		return 2
	case RoleOwner:
		return 3
	default:
		return -1
	}
}

// Valid reports whether r is a defined role.
func (r ReviewerRole) Valid() bool {
	return r.Rank() >= 0
}

// Classification thresholds.
const (
	criticalDeviation  = 0.2
	criticalConfidence = 0.4
	criticalRisk       = 0.7

	requiredDeviation   = 0.12
	requiredInstability = 0.6

	recommendedDeviation = 0.07
	recommendedRisk      = 0.5
)

// Input carries the readings an escalation decision is made from.
type Input struct {
	FinancialDeviationPct     float64 `json:"financial_deviation_pct"`
	Confidence                float64 `json:"confidence"`
	RiskExposure              float64 `json:"risk_exposure"`
	ReconciliationInstability float64 `json:"reconciliation_instability"`
	PatternConflict           bool    `json:"pattern_conflict"`
}

// Classify maps the readings onto a tier. Tiers are checked from most to
// least severe; the first band that fires wins.
func Classify(in Input) (Tier, []string) {
	switch {
	case in.FinancialDeviationPct > criticalDeviation:
		return TierCritical, []string{fmt.Sprintf("financial deviation %.2f above %.2f", in.FinancialDeviationPct, criticalDeviation)}
	case in.Confidence < criticalConfidence && in.RiskExposure > criticalRisk:
		return TierCritical, []string{fmt.Sprintf("confidence %.2f below %.2f with risk %.2f above %.2f", in.Confidence, criticalConfidence, in.RiskExposure, criticalRisk)}
	case in.FinancialDeviationPct > requiredDeviation:
		return TierRequired, []string{fmt.Sprintf("financial deviation %.2f above %.2f", in.FinancialDeviationPct, requiredDeviation)}
	case in.ReconciliationInstability > requiredInstability:
		return TierRequired, []string{fmt.Sprintf("reconciliation instability %.2f above %.2f", in.ReconciliationInstability, requiredInstability)}
	case in.PatternConflict:
		return TierRequired, []string{"conflicting pattern matches"}
	case in.FinancialDeviationPct > recommendedDeviation:
		return TierRecommended, []string{fmt.Sprintf("financial deviation %.2f above %.2f", in.FinancialDeviationPct, recommendedDeviation)}
	case in.RiskExposure > recommendedRisk:
		return TierRecommended, []string{fmt.Sprintf("risk exposure %.2f above %.2f", in.RiskExposure, recommendedRisk)}
	default:
		return TierNone, nil
	}
}

// SLAPlan fixes the response window and reviewer seniority a tier demands.
type SLAPlan struct {
	MaxResponseMinutes int          `json:"max_response_minutes"`
	MinReviewerRole    ReviewerRole `json:"min_reviewer_role"`
}

var slaPlans = map[Tier]SLAPlan{
	TierRecommended: {MaxResponseMinutes: 180, MinReviewerRole: RoleAuditor},
	TierRequired:    {MaxResponseMinutes: 60, MinReviewerRole: RoleController},
	TierCritical:    {MaxResponseMinutes: 15, MinReviewerRole: RoleOwner},
}

// PlanFor returns the SLA plan for a tier. TierNone has no plan.
func PlanFor(t Tier) (SLAPlan, bool) {
	plan, ok := slaPlans[t]
	return plan, ok
}

// Deadline computes the response deadline for a plan raised at the given
// instant.
func (p SLAPlan) Deadline(raisedAt time.Time) time.Time {
	return raisedAt.UTC().Add(time.Duration(p.MaxResponseMinutes) * time.Minute)
}

// Reviewer is a human candidate for an escalation assignment. Capacity is
// the number of open reviews the reviewer can still take.
type Reviewer struct {
	ID       string       `json:"id"`
	Role     ReviewerRole `json:"role"`
	Capacity int          `json:"capacity"`
}

// Assign picks the reviewer for a tier: the first reviewer in the given
// order whose role rank meets the plan's minimum and who has capacity left.
// The caller supplies the order; the same roster always yields the same
// assignment.
func Assign(reviewers []Reviewer, minRole ReviewerRole) (Reviewer, bool) {
	for _, r := range reviewers {
		if r.Role.Rank() >= minRole.Rank() && r.Capacity > 0 {
			return r, true
		}
	}
	return Reviewer{}, false
}

// Escalation is the full record of one evaluation, the escalation artifact
// payload.
type Escalation struct {
	TenantID   string    `json:"tenant_id"`
	Tier       Tier      `json:"tier"`
	SLA        *SLAPlan  `json:"sla,omitempty"`
	Reviewer   *Reviewer `json:"reviewer,omitempty"`
	RaisedAt   time.Time `json:"raised_at"`
	DeadlineAt time.Time `json:"deadline_at,omitempty"`
	Unassigned bool      `json:"unassigned,omitempty"`
	Reasons    []string  `json:"reasons,omitempty"`
}

// Critical reports whether the escalation sits at the critical tier.
func (e Escalation) Critical() bool {
	return e.Tier == TierCritical
}

// Evaluate classifies the input and, when a tier fires, binds the SLA plan
// and assigns a reviewer from the roster. An empty roster or one with no
// eligible reviewer leaves the escalation raised but unassigned.
func Evaluate(tenantID string, in Input, reviewers []Reviewer, raisedAt time.Time) Escalation {
	tier, reasons := Classify(in)
	esc := Escalation{
		TenantID: tenantID,
		Tier:     tier,
		RaisedAt: raisedAt.UTC(),
		Reasons:  reasons,
	}
	plan, ok := PlanFor(tier)
	if !ok {
		return esc
	}
	esc.SLA = &plan
	esc.DeadlineAt = plan.Deadline(raisedAt)

	if reviewer, found := Assign(reviewers, plan.MinReviewerRole); found {
		esc.Reviewer = &reviewer
	} else {
		esc.Unassigned = true
		esc.Reasons = append(esc.Reasons, fmt.Sprintf("no reviewer with role %s or above has capacity", plan.MinReviewerRole))
	}
	return esc
}
