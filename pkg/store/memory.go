package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ledgerline/cortex/pkg/contracts"
	"github.com/ledgerline/cortex/pkg/ledger"
)

// MemoryStore keeps events, artifacts and snapshots in process memory.
// It implements EventStore, ArtifactStore and SnapshotStore and is the
// default backing for tests and single-node runs.
type MemoryStore struct {
	mu        sync.RWMutex
	events    map[string][]contracts.Event
	artifacts map[string]map[string]contracts.Artifact
	snapshots map[string][]ledger.Snapshot
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:    make(map[string][]contracts.Event),
		artifacts: make(map[string]map[string]contracts.Artifact),
		snapshots: make(map[string][]ledger.Snapshot),
	}
}

func (s *MemoryStore) Append(ctx context.Context, ev contracts.Event) error {
	if err := checkEvent(ev); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant := ev.Actor.TenantID
	s.events[tenant] = append(s.events[tenant], ev)
	return nil
}

func (s *MemoryStore) Events(ctx context.Context, tenantID string) ([]contracts.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.Event, len(s.events[tenantID]))
	copy(out, s.events[tenantID])
	ledger.SortEvents(out)
	return out, nil
}

func (s *MemoryStore) Head(ctx context.Context, tenantID string) (contracts.Event, error) {
	events, err := s.Events(ctx, tenantID)
	if err != nil {
		return contracts.Event{}, err
	}
	if len(events) == 0 {
		return contracts.Event{}, ErrNotFound
	}
	return events[len(events)-1], nil
}

func (s *MemoryStore) Tenants(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenants := make([]string, 0, len(s.events))
	for tenant := range s.events {
		tenants = append(tenants, tenant)
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (s *MemoryStore) PutArtifact(ctx context.Context, art contracts.Artifact) error {
	if err := checkArtifact(art); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.artifacts[art.TenantID]
	if !ok {
		byID = make(map[string]contracts.Artifact)
		s.artifacts[art.TenantID] = byID
	}
	if existing, dup := byID[art.ArtifactID]; dup {
		if existing.Hash == art.Hash {
			return nil
		}
		return fmt.Errorf("store: artifact %s already exists with a different hash", art.ArtifactID)
	}
	byID[art.ArtifactID] = art
	return nil
}

func (s *MemoryStore) GetArtifact(ctx context.Context, tenantID, artifactID string) (contracts.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	art, ok := s.artifacts[tenantID][artifactID]
	if !ok {
		return contracts.Artifact{}, ErrNotFound
	}
	return art, nil
}

func (s *MemoryStore) ListMonth(ctx context.Context, tenantID, monthKey string) ([]contracts.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.Artifact
	for _, art := range s.artifacts[tenantID] {
		if art.MonthKey == monthKey {
			out = append(out, art)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GeneratedAt.Equal(out[j].GeneratedAt) {
			return out[i].GeneratedAt.Before(out[j].GeneratedAt)
		}
		return out[i].ArtifactID < out[j].ArtifactID
	})
	return out, nil
}

func (s *MemoryStore) PutSnapshot(ctx context.Context, snap ledger.Snapshot) error {
	if err := checkSnapshot(snap); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.snapshots[snap.TenantID] {
		if existing.SnapshotID == snap.SnapshotID {
			if existing.StateHash == snap.StateHash {
				return nil
			}
			return fmt.Errorf("store: snapshot %s already exists with a different state hash", snap.SnapshotID)
		}
	}
	s.snapshots[snap.TenantID] = append(s.snapshots[snap.TenantID], snap)
	return nil
}

func (s *MemoryStore) LatestSnapshot(ctx context.Context, tenantID string) (ledger.Snapshot, error) {
	snaps, err := s.ListSnapshots(ctx, tenantID)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	if len(snaps) == 0 {
		return ledger.Snapshot{}, ErrNotFound
	}
	return snaps[len(snaps)-1], nil
}

func (s *MemoryStore) ListSnapshots(ctx context.Context, tenantID string) ([]ledger.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Snapshot, len(s.snapshots[tenantID]))
	copy(out, s.snapshots[tenantID])
	sortSnapshots(out)
	return out, nil
}

func (s *MemoryStore) PruneSnapshots(ctx context.Context, tenantID string, retain int) (int, error) {
	if retain <= 0 {
		return 0, fmt.Errorf("store: snapshot retention must be positive, got %d", retain)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := make([]ledger.Snapshot, len(s.snapshots[tenantID]))
	copy(snaps, s.snapshots[tenantID])
	sortSnapshots(snaps)
	if len(snaps) <= retain {
		return 0, nil
	}
	evicted := len(snaps) - retain
	s.snapshots[tenantID] = snaps[evicted:]
	return evicted, nil
}
