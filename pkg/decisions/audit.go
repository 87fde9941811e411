package decisions

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ledgerline/cortex/pkg/contracts"
)

// Override records a human taking the wheel on one decision.
type Override struct {
	DecisionID string    `json:"decision_id"`
	ActorID    string    `json:"actor_id"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// PairedOutcome joins a contract with its recorded evaluation.
type PairedOutcome struct {
	Contract   contracts.DecisionContract   `json:"contract"`
	Evaluation contracts.DecisionEvaluation `json:"evaluation"`
}

// Audit pairs decision contracts with their eventual evaluations and any
// human overrides. Contracts register before their outcome exists; the
// evaluation arrives once, later.
type Audit struct {
	mu          sync.RWMutex
	contracts   map[string]contracts.DecisionContract
	evaluations map[string]contracts.DecisionEvaluation
	overrides   map[string][]Override
}

// NewAudit returns an empty audit.
func NewAudit() *Audit {
	return &Audit{
		contracts:   make(map[string]contracts.DecisionContract),
		evaluations: make(map[string]contracts.DecisionEvaluation),
		overrides:   make(map[string][]Override),
	}
}

// RegisterContract adds a decision contract. Malformed contracts and
// duplicate decision ids are configuration errors.
func (a *Audit) RegisterContract(c contracts.DecisionContract) error {
	if res := c.Validate(); !res.Valid {
		return fmt.Errorf("decisions: contract invalid: %v", res.Errors)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.contracts[c.DecisionID]; dup {
		return fmt.Errorf("decisions: contract %q already registered", c.DecisionID)
	}
	a.contracts[c.DecisionID] = c
	return nil
}

// RecordOutcome evaluates a registered contract against the observed
// delta. Success means the actual delta met or beat the expectation. A
// contract is evaluated exactly once.
func (a *Audit) RecordOutcome(decisionID string, actualDelta float64, at time.Time) (contracts.DecisionEvaluation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	contract, ok := a.contracts[decisionID]
	if !ok {
		return contracts.DecisionEvaluation{}, fmt.Errorf("decisions: no contract registered for %q", decisionID)
	}
	if _, done := a.evaluations[decisionID]; done {
		return contracts.DecisionEvaluation{}, fmt.Errorf("decisions: contract %q already evaluated", decisionID)
	}

	eval := contracts.DecisionEvaluation{
		DecisionID:  decisionID,
		ActualDelta: actualDelta,
		EvaluatedAt: at.UTC(),
		Success:     actualDelta >= contract.ExpectedDelta,
	}
	a.evaluations[decisionID] = eval
	return eval, nil
}

// RecordOverride attaches a human override to a registered contract.
func (a *Audit) RecordOverride(o Override) error {
	if o.DecisionID == "" || o.ActorID == "" {
		return fmt.Errorf("decisions: override needs decision_id and actor_id")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.contracts[o.DecisionID]; !ok {
		return fmt.Errorf("decisions: no contract registered for %q", o.DecisionID)
	}
	o.At = o.At.UTC()
	a.overrides[o.DecisionID] = append(a.overrides[o.DecisionID], o)
	return nil
}

// Overrides returns the overrides recorded against one decision, in
// arrival order.
func (a *Audit) Overrides(decisionID string) []Override {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Override, len(a.overrides[decisionID]))
	copy(out, a.overrides[decisionID])
	return out
}

// Pending returns the contracts still waiting for an evaluation, sorted by
// decision id.
func (a *Audit) Pending() []contracts.DecisionContract {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []contracts.DecisionContract
	for id, c := range a.contracts {
		if _, done := a.evaluations[id]; !done {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecisionID < out[j].DecisionID })
	return out
}

// Evaluated returns every contract-evaluation pair, sorted by decision id.
func (a *Audit) Evaluated() []PairedOutcome {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []PairedOutcome
	for id, eval := range a.evaluations {
		out = append(out, PairedOutcome{Contract: a.contracts[id], Evaluation: eval})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Contract.DecisionID < out[j].Contract.DecisionID })
	return out
}

// Records converts the evaluated pairs into batch records, marking
// overridden decisions. Roi carries the actual delta; the caller supplies
// suggestion accuracy separately when it has that signal.
func (a *Audit) Records() []Record {
	pairs := a.Evaluated()
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Record, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, Record{
			DecisionID: p.Contract.DecisionID,
			Roi:        p.Evaluation.ActualDelta,
			Success:    p.Evaluation.Success,
			Overridden: len(a.overrides[p.Contract.DecisionID]) > 0,
		})
	}
	return out
}
