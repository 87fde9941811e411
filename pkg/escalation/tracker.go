package escalation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/cortex/pkg/canonical"
	"github.com/ledgerline/cortex/pkg/observability"
)

// TicketStatus is the lifecycle state of an open escalation.
type TicketStatus string

const (
	StatusPending      TicketStatus = "pending"
	StatusAcknowledged TicketStatus = "acknowledged"
	StatusResolved     TicketStatus = "resolved"
	StatusBreached     TicketStatus = "breached"
)

// Ticket is one raised escalation under SLA tracking.
type Ticket struct {
	ID string `json:"id"`
	Escalation
	Status         TicketStatus `json:"status"`
	AcknowledgedBy string       `json:"acknowledged_by,omitempty"`
	AcknowledgedAt time.Time    `json:"acknowledged_at,omitempty"`
}

// Resolution is the immutable closing record of a ticket. Its ID is derived
// from the closing facts, so replaying the same lifecycle yields the same
// record.
type Resolution struct {
	ID         string       `json:"id"`
	TicketID   string       `json:"ticket_id"`
	TenantID   string       `json:"tenant_id"`
	Tier       Tier         `json:"tier"`
	Outcome    TicketStatus `json:"outcome"`
	ResolvedBy string       `json:"resolved_by,omitempty"`
	Note       string       `json:"note,omitempty"`
	RaisedAt   time.Time    `json:"raised_at"`
	ResolvedAt time.Time    `json:"resolved_at"`
	ResponseMs int64        `json:"response_ms"`
	WithinSLA  bool         `json:"within_sla"`
}

// Tracker follows raised escalations through their SLA window: open,
// acknowledge, resolve, or breach when the deadline passes unanswered.
// Response latency feeds the escalation-response objective when a tracker
// is attached.
type Tracker struct {
	mu      sync.Mutex
	tickets map[string]*Ticket
	clock   func() time.Time
	slo     *observability.SLOTracker
}

// NewTracker returns an empty tracker on the wall clock.
func NewTracker() *Tracker {
	return &Tracker{
		tickets: make(map[string]*Ticket),
		clock:   time.Now,
	}
}

// WithClock overrides the clock. Returns the tracker for chaining.
func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	t.clock = clock
	return t
}

// WithSLOTracker wires response observations into an objective tracker.
// Returns the tracker for chaining.
func (t *Tracker) WithSLOTracker(slo *observability.SLOTracker) *Tracker {
	t.slo = slo
	return t
}

// Open starts SLA tracking for a raised escalation. The escalation must
// carry a tier and a bound SLA plan.
func (t *Tracker) Open(esc Escalation) (*Ticket, error) {
	if esc.Tier == TierNone || !esc.Tier.Valid() {
		return nil, fmt.Errorf("escalation for tenant %q raises no review tier", esc.TenantID)
	}
	if esc.SLA == nil || esc.DeadlineAt.IsZero() {
		return nil, fmt.Errorf("escalation for tenant %q carries no SLA plan", esc.TenantID)
	}

	ticket := &Ticket{
		ID:         uuid.NewString(),
		Escalation: esc,
		Status:     StatusPending,
	}

	t.mu.Lock()
	t.tickets[ticket.ID] = ticket
	t.mu.Unlock()

	return ticket, nil
}

// Acknowledge marks a pending ticket as picked up by a reviewer. The SLA
// clock keeps running until Resolve.
func (t *Tracker) Acknowledge(ticketID, reviewerID string) (*Ticket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ticket, ok := t.tickets[ticketID]
	if !ok {
		return nil, fmt.Errorf("escalation ticket %q not found", ticketID)
	}
	if ticket.Status != StatusPending {
		return nil, fmt.Errorf("escalation ticket %q is not pending (status=%s)", ticketID, ticket.Status)
	}

	ticket.Status = StatusAcknowledged
	ticket.AcknowledgedBy = reviewerID
	ticket.AcknowledgedAt = t.clock().UTC()
	return ticket, nil
}

// Resolve closes a pending or acknowledged ticket. A resolution after the
// deadline still closes the ticket but is recorded as outside the SLA.
func (t *Tracker) Resolve(ticketID, reviewerID, note string) (*Resolution, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ticket, ok := t.tickets[ticketID]
	if !ok {
		return nil, fmt.Errorf("escalation ticket %q not found", ticketID)
	}
	if ticket.Status != StatusPending && ticket.Status != StatusAcknowledged {
		return nil, fmt.Errorf("escalation ticket %q is already closed (status=%s)", ticketID, ticket.Status)
	}

	now := t.clock().UTC()
	ticket.Status = StatusResolved
	res, err := closeTicket(ticket, StatusResolved, reviewerID, note, now)
	if err != nil {
		return nil, err
	}
	t.observe(res)
	return res, nil
}

// SweepOverdue breaches every open ticket whose deadline has passed and
// returns their closing records in ticket-id order.
func (t *Tracker) SweepOverdue() ([]*Resolution, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock().UTC()
	var overdue []*Ticket
	for _, ticket := range t.tickets {
		if ticket.Status != StatusPending && ticket.Status != StatusAcknowledged {
			continue
		}
		if now.After(ticket.DeadlineAt) {
			overdue = append(overdue, ticket)
		}
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].ID < overdue[j].ID })

	resolutions := make([]*Resolution, 0, len(overdue))
	for _, ticket := range overdue {
		ticket.Status = StatusBreached
		res, err := closeTicket(ticket, StatusBreached, "", "response deadline passed", now)
		if err != nil {
			return resolutions, err
		}
		t.observe(res)
		resolutions = append(resolutions, res)
	}
	return resolutions, nil
}

// Get returns a ticket by id.
func (t *Tracker) Get(ticketID string) (*Ticket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ticket, ok := t.tickets[ticketID]
	if !ok {
		return nil, fmt.Errorf("escalation ticket %q not found", ticketID)
	}
	return ticket, nil
}

// OpenCount returns the number of tickets still awaiting resolution.
func (t *Tracker) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for _, ticket := range t.tickets {
		if ticket.Status == StatusPending || ticket.Status == StatusAcknowledged {
			count++
		}
	}
	return count
}

func closeTicket(ticket *Ticket, outcome TicketStatus, resolvedBy, note string, at time.Time) (*Resolution, error) {
	material := map[string]interface{}{
		"ticket_id":   ticket.ID,
		"outcome":     string(outcome),
		"resolved_by": resolvedBy,
		"resolved_at": at.Format(time.RFC3339Nano),
	}
	id, err := canonical.DeterministicID("resolution", material)
	if err != nil {
		return nil, fmt.Errorf("escalation: close ticket %q: %w", ticket.ID, err)
	}

	return &Resolution{
		ID:         id,
		TicketID:   ticket.ID,
		TenantID:   ticket.TenantID,
		Tier:       ticket.Tier,
		Outcome:    outcome,
		ResolvedBy: resolvedBy,
		Note:       note,
		RaisedAt:   ticket.RaisedAt,
		ResolvedAt: at,
		ResponseMs: at.Sub(ticket.RaisedAt).Milliseconds(),
		WithinSLA:  !at.After(ticket.DeadlineAt),
	}, nil
}

func (t *Tracker) observe(res *Resolution) {
	if t.slo == nil {
		return
	}
	t.slo.Record(observability.SLOObservation{
		Operation: observability.OpEscalationResponse,
		Latency:   res.ResolvedAt.Sub(res.RaisedAt),
		Success:   res.WithinSLA,
		Timestamp: res.ResolvedAt,
	})
}
