package ledger

import (
	"time"

	"github.com/ledgerline/cortex/pkg/contracts"
)

// EventQuery filters an event slice. Zero-valued fields match everything;
// After and Before are inclusive bounds.
type EventQuery struct {
	TenantID  string     `json:"tenant_id,omitempty"`
	Types     []string   `json:"types,omitempty"`
	ActorType string     `json:"actor_type,omitempty"`
	After     *time.Time `json:"after,omitempty"`
	Before    *time.Time `json:"before,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// FilterEvents returns the events matching the query in chain order. The
// input slice is left untouched.
func FilterEvents(events []contracts.Event, q EventQuery) []contracts.Event {
	ordered := make([]contracts.Event, len(events))
	copy(ordered, events)
	SortEvents(ordered)

	var out []contracts.Event
	for _, ev := range ordered {
		if q.TenantID != "" && ev.Actor.TenantID != q.TenantID {
			continue
		}
		if len(q.Types) > 0 && !matchesType(q.Types, ev.Type) {
			continue
		}
		if q.ActorType != "" && ev.Actor.ActorType != q.ActorType {
			continue
		}
		if q.After != nil && ev.Timestamp.Before(*q.After) {
			continue
		}
		if q.Before != nil && ev.Timestamp.After(*q.Before) {
			continue
		}
		out = append(out, ev)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

func matchesType(types []string, eventType string) bool {
	for _, t := range types {
		if t == eventType {
			return true
		}
	}
	return false
}
