// Package ledger maintains the per-tenant append-only event chain.
//
// Every event is content-addressed: its id and hash derive from canonical
// form, each event links to its predecessor through parent_id, and the whole
// chain can be re-verified offline from an export. Appends never mutate or
// delete; corrections are new events.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ledgerline/cortex/pkg/canonical"
	"github.com/ledgerline/cortex/pkg/contracts"
)

// eventMaterial is the hashed portion of an event. ID is left empty while
// deriving the id itself and set while deriving the content hash.
type eventMaterial struct {
	ID        string                 `json:"id,omitempty"`
	Type      string                 `json:"type"`
	Actor     contracts.Actor        `json:"actor"`
	Context   contracts.ExecContext  `json:"context"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	ParentID  string                 `json:"parent_id,omitempty"`
}

func materialOf(e contracts.Event) eventMaterial {
	return eventMaterial{
		ID:        e.ID,
		Type:      e.Type,
		Actor:     e.Actor,
		Context:   e.Context,
		Payload:   e.Payload,
		Timestamp: e.Timestamp,
		ParentID:  e.ParentID,
	}
}

// EventHash returns the content hash an intact copy of e must carry.
func EventHash(h canonical.Hasher, e contracts.Event) (string, error) {
	return h.Digest(materialOf(e))
}

// Chain builds the event chain for a single tenant. Appends are serialized;
// reads return copies.
type Chain struct {
	mu       sync.Mutex
	tenantID string
	hasher   canonical.Hasher
	events   []contracts.Event
	headID   string
	headAt   time.Time
}

// NewChain creates an empty chain for tenantID.
func NewChain(tenantID string) *Chain {
	return &Chain{
		tenantID: tenantID,
		hasher:   canonical.SHA256{},
		events:   make([]contracts.Event, 0),
	}
}

// ResumeChain creates a chain whose next append links to an existing head.
// Use it to continue a persisted chain without reloading its history; the
// returned chain holds only events appended after the resume point.
func ResumeChain(tenantID, headID string, headAt time.Time) *Chain {
	return &Chain{
		tenantID: tenantID,
		hasher:   canonical.SHA256{},
		events:   make([]contracts.Event, 0),
		headID:   headID,
		headAt:   headAt.UTC(),
	}
}

// WithHasher overrides the digest scheme. Returns the chain for chaining.
func (c *Chain) WithHasher(h canonical.Hasher) *Chain {
	c.hasher = h
	return c
}

// TenantID returns the tenant this chain belongs to.
func (c *Chain) TenantID() string {
	return c.tenantID
}

// Append derives the event's id and hash, links it to the current head and
// stores it. The timestamp is normalized to UTC and must not move backwards
// relative to the head.
func (c *Chain) Append(eventType string, actor contracts.Actor, ectx contracts.ExecContext, payload map[string]interface{}, at time.Time) (contracts.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if actor.TenantID != c.tenantID || ectx.TenantID != c.tenantID {
		return contracts.Event{}, fmt.Errorf("ledger: append for tenant %q rejected on chain %q", actor.TenantID, c.tenantID)
	}
	at = at.UTC()
	if !c.headAt.IsZero() && at.Before(c.headAt) {
		return contracts.Event{}, fmt.Errorf("ledger: timestamp %s precedes chain head %s", at.Format(time.RFC3339Nano), c.headAt.Format(time.RFC3339Nano))
	}

	mat := eventMaterial{
		Type:      eventType,
		Actor:     actor,
		Context:   ectx,
		Payload:   payload,
		Timestamp: at,
		ParentID:  c.headID,
	}
	id, err := c.hasher.ID("evt", mat)
	if err != nil {
		return contracts.Event{}, fmt.Errorf("ledger: derive event id: %w", err)
	}
	mat.ID = id
	hash, err := c.hasher.Digest(mat)
	if err != nil {
		return contracts.Event{}, fmt.Errorf("ledger: derive event hash: %w", err)
	}

	ev := contracts.Event{
		ID:        id,
		Type:      eventType,
		Actor:     actor,
		Context:   ectx,
		Payload:   payload,
		Timestamp: at,
		ParentID:  c.headID,
		Hash:      hash,
	}
	if res := ev.Validate(); !res.Valid {
		return contracts.Event{}, fmt.Errorf("ledger: invalid event: %v", res.Errors)
	}

	c.events = append(c.events, ev)
	c.headID = id
	c.headAt = at
	return ev, nil
}

// Events returns a copy of the chain in append order.
func (c *Chain) Events() []contracts.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]contracts.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Head returns the id of the newest event, or "" for an empty chain.
func (c *Chain) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headID
}

// Len returns the number of events in the chain.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// SortEvents orders events by timestamp, then id. This is the canonical
// recovery order when chain linkage must be rebuilt from an unordered set.
func SortEvents(events []contracts.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].ID < events[j].ID
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

// VerifyChain re-verifies an exported chain: recomputed content hashes,
// parent linkage, tenant consistency and timestamp ordering. The returned
// error is an *contracts.IntegrityError carrying every break found, so one
// pass reports the full damage. A nil return means the chain is intact.
func VerifyChain(h canonical.Hasher, events []contracts.Event) error {
	if h == nil {
		h = canonical.SHA256{}
	}
	if len(events) == 0 {
		return nil
	}

	tenant := events[0].Actor.TenantID
	var reasons []string

	if events[0].ParentID != "" {
		reasons = append(reasons, fmt.Sprintf("event[0] %s: first event must have no parent, got %s", events[0].ID, events[0].ParentID))
	}

	prevID := ""
	var prevAt time.Time
	for i, ev := range events {
		if ev.Actor.TenantID != tenant {
			reasons = append(reasons, fmt.Sprintf("event[%d] %s: tenant %q differs from chain tenant %q", i, ev.ID, ev.Actor.TenantID, tenant))
		}
		if i > 0 {
			if ev.ParentID != prevID {
				reasons = append(reasons, fmt.Sprintf("event[%d] %s: parent %s does not link to %s", i, ev.ID, ev.ParentID, prevID))
			}
			if ev.Timestamp.Before(prevAt) {
				reasons = append(reasons, fmt.Sprintf("event[%d] %s: timestamp moves backwards", i, ev.ID))
			}
		}

		computed, err := EventHash(h, ev)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("event[%d] %s: hash recompute failed: %v", i, ev.ID, err))
		} else if computed != ev.Hash {
			reasons = append(reasons, fmt.Sprintf("event[%d] %s: content hash mismatch", i, ev.ID))
		}

		prevID = ev.ID
		prevAt = ev.Timestamp
	}

	if len(reasons) > 0 {
		return &contracts.IntegrityError{TenantID: tenant, Scope: "event-chain", Reasons: reasons}
	}
	return nil
}
