package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/ledgerline/cortex/pkg/canonical"
	"github.com/ledgerline/cortex/pkg/contracts"
)

// Snapshot captures the replay state at a chain position so later replays
// can resume from it instead of folding the full history.
type Snapshot struct {
	SnapshotID  string      `json:"snapshot_id"`
	TenantID    string      `json:"tenant_id"`
	AtEventID   string      `json:"at_event_id"`
	AtTimestamp time.Time   `json:"at_timestamp"`
	EventCount  int         `json:"event_count"`
	State       ReplayState `json:"state"`
	StateHash   string      `json:"state_hash"`
}

// SnapshotPolicy controls snapshot cadence and retention.
type SnapshotPolicy struct {
	// Interval cuts a snapshot every Interval events. Must be positive.
	Interval int `json:"interval"`

	// Retain keeps the N most recent snapshots per tenant. Must be positive.
	Retain int `json:"retain"`
}

// Snapshotter cuts snapshots per policy. Construction fails on a malformed
// policy; a bad cadence is a setup error, not a runtime condition.
type Snapshotter struct {
	policy SnapshotPolicy
	hasher canonical.Hasher
}

// NewSnapshotter validates the policy and returns a snapshotter.
func NewSnapshotter(policy SnapshotPolicy) (*Snapshotter, error) {
	if policy.Interval <= 0 {
		return nil, fmt.Errorf("ledger: snapshot interval must be positive, got %d", policy.Interval)
	}
	if policy.Retain <= 0 {
		return nil, fmt.Errorf("ledger: snapshot retention must be positive, got %d", policy.Retain)
	}
	return &Snapshotter{policy: policy, hasher: canonical.SHA256{}}, nil
}

// WithHasher overrides the digest scheme. Returns the snapshotter for chaining.
func (s *Snapshotter) WithHasher(h canonical.Hasher) *Snapshotter {
	s.hasher = h
	return s
}

// Policy returns the active policy.
func (s *Snapshotter) Policy() SnapshotPolicy {
	return s.policy
}

// Due reports whether a snapshot is due at the given event count.
func (s *Snapshotter) Due(eventCount int) bool {
	return eventCount > 0 && eventCount%s.policy.Interval == 0
}

// Cut builds the snapshot for the state reached at head. Callers check Due
// first; Cut itself never consults a clock, the head event supplies the
// timestamp.
func (s *Snapshotter) Cut(state ReplayState, head contracts.Event) (*Snapshot, error) {
	if state.LastEventID != head.ID {
		return nil, fmt.Errorf("ledger: snapshot head %s does not match state head %s", head.ID, state.LastEventID)
	}

	stateHash, err := s.hasher.Digest(state)
	if err != nil {
		return nil, fmt.Errorf("ledger: digest snapshot state: %w", err)
	}
	id, err := s.hasher.ID("snap", map[string]interface{}{
		"tenant_id":    state.TenantID,
		"at_event_id":  head.ID,
		"at_timestamp": head.Timestamp,
		"state_hash":   stateHash,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: derive snapshot id: %w", err)
	}

	return &Snapshot{
		SnapshotID:  id,
		TenantID:    state.TenantID,
		AtEventID:   head.ID,
		AtTimestamp: head.Timestamp,
		EventCount:  state.EventCount,
		State:       state,
		StateHash:   stateHash,
	}, nil
}

// Retain applies the retention policy to a tenant's snapshots: the N most
// recent survive, oldest evicted first. The input is not modified.
func (s *Snapshotter) Retain(snapshots []Snapshot) []Snapshot {
	if len(snapshots) <= s.policy.Retain {
		out := make([]Snapshot, len(snapshots))
		copy(out, snapshots)
		sortSnapshots(out)
		return out
	}
	out := make([]Snapshot, len(snapshots))
	copy(out, snapshots)
	sortSnapshots(out)
	return out[len(out)-s.policy.Retain:]
}

// sortSnapshots orders oldest first, by timestamp then event count then id.
func sortSnapshots(snaps []Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		if !snaps[i].AtTimestamp.Equal(snaps[j].AtTimestamp) {
			return snaps[i].AtTimestamp.Before(snaps[j].AtTimestamp)
		}
		if snaps[i].EventCount != snaps[j].EventCount {
			return snaps[i].EventCount < snaps[j].EventCount
		}
		return snaps[i].SnapshotID < snaps[j].SnapshotID
	})
}
