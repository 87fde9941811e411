package policy

// ShadowOutcome classifies how a candidate table's verdict compares with
// the enforced one.
type ShadowOutcome string

const (
	// ShadowAgree: both tables reach the same allow/deny decision.
	ShadowAgree ShadowOutcome = "shadow_agree"
	// ShadowFalseBlockRisk: the candidate would deny a request the
	// enforced table allows.
	ShadowFalseBlockRisk ShadowOutcome = "false_block_risk"
	// ShadowFalseAllowRisk: the candidate would allow a request the
	// enforced table denies.
	ShadowFalseAllowRisk ShadowOutcome = "false_allow_risk"
)

// ShadowReport is the comparison record for one request. Only the enforced
// verdict has effect; the candidate runs dark.
type ShadowReport struct {
	Path      string        `json:"path"`
	Outcome   ShadowOutcome `json:"outcome"`
	Enforced  Verdict       `json:"enforced"`
	Candidate Verdict       `json:"candidate"`
}

// Shadow evaluates the same request against the enforced and candidate
// tables and classifies the disagreement, if any. The enforced verdict is
// returned inside the report unchanged; callers act on it alone.
func Shadow(enforced, candidate *Table, path string, confidence float64, attrs map[string]interface{}) ShadowReport {
	enforcedVerdict := enforced.Evaluate(path, confidence, attrs)
	candidateVerdict := candidate.Evaluate(path, confidence, attrs)

	outcome := ShadowAgree
	switch {
	case enforcedVerdict.Allowed && !candidateVerdict.Allowed:
		outcome = ShadowFalseBlockRisk
	case !enforcedVerdict.Allowed && candidateVerdict.Allowed:
		outcome = ShadowFalseAllowRisk
	}

	return ShadowReport{
		Path:      path,
		Outcome:   outcome,
		Enforced:  enforcedVerdict,
		Candidate: candidateVerdict,
	}
}
