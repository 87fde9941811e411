// Package store persists event chains, artifact records and replay
// snapshots behind narrow contracts. Adapters exist for memory, JSONL
// files, SQLite and Postgres, plus a Redis read-through cache for
// artifact lookups. Every adapter serializes appends per tenant.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ledgerline/cortex/pkg/canonical"
	"github.com/ledgerline/cortex/pkg/contracts"
	"github.com/ledgerline/cortex/pkg/ledger"
)

// ErrNotFound marks a lookup that matched nothing.
var ErrNotFound = errors.New("store: not found")

// EventStore persists tenant event chains. Appends are serialized per
// tenant; readers see events in chain order (timestamp, then id).
type EventStore interface {
	// Append persists one event.
	Append(ctx context.Context, ev contracts.Event) error

	// Events returns a tenant's chain in order.
	Events(ctx context.Context, tenantID string) ([]contracts.Event, error)

	// Head returns the latest event of a tenant's chain.
	Head(ctx context.Context, tenantID string) (contracts.Event, error)

	// Tenants lists every tenant with at least one event, sorted.
	Tenants(ctx context.Context) ([]string, error)
}

// ArtifactStore persists artifact records for period audits. Records
// are immutable: a second put with the same id must carry the same
// hash. Method names stay distinct from the snapshot contract so one
// backend can implement both.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, art contracts.Artifact) error
	GetArtifact(ctx context.Context, tenantID, artifactID string) (contracts.Artifact, error)

	// ListMonth returns a tenant's artifacts for one month key, ordered
	// by generation time then id.
	ListMonth(ctx context.Context, tenantID, monthKey string) ([]contracts.Artifact, error)
}

// SnapshotStore persists replay snapshots.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, snap ledger.Snapshot) error

	// LatestSnapshot returns the most recent snapshot for a tenant.
	LatestSnapshot(ctx context.Context, tenantID string) (ledger.Snapshot, error)

	// ListSnapshots returns a tenant's snapshots, oldest first.
	ListSnapshots(ctx context.Context, tenantID string) ([]ledger.Snapshot, error)

	// PruneSnapshots evicts all but the retain most recent snapshots
	// and reports how many were removed.
	PruneSnapshots(ctx context.Context, tenantID string, retain int) (int, error)
}

func checkEvent(ev contracts.Event) error {
	if ev.Actor.TenantID == "" {
		return fmt.Errorf("store: event %q has no tenant", ev.ID)
	}
	if ev.ID == "" {
		return fmt.Errorf("store: event has no id")
	}
	if !canonical.ValidHexDigest(ev.Hash) {
		return fmt.Errorf("store: event %q hash is not a hex digest", ev.ID)
	}
	return nil
}

func checkArtifact(art contracts.Artifact) error {
	if art.TenantID == "" {
		return fmt.Errorf("store: artifact %q has no tenant", art.ArtifactID)
	}
	if art.ArtifactID == "" {
		return fmt.Errorf("store: artifact has no id")
	}
	if art.MonthKey == "" {
		return fmt.Errorf("store: artifact %q has no month key", art.ArtifactID)
	}
	if !canonical.ValidHexDigest(art.Hash) {
		return fmt.Errorf("store: artifact %q hash is not a hex digest", art.ArtifactID)
	}
	return nil
}

func checkSnapshot(snap ledger.Snapshot) error {
	if snap.TenantID == "" {
		return fmt.Errorf("store: snapshot %q has no tenant", snap.SnapshotID)
	}
	if snap.SnapshotID == "" {
		return fmt.Errorf("store: snapshot has no id")
	}
	return nil
}

// tenantLocks hands out one mutex per tenant so adapters serialize
// appends without a global write lock.
type tenantLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTenantLocks() *tenantLocks {
	return &tenantLocks{locks: make(map[string]*sync.Mutex)}
}

func (t *tenantLocks) forTenant(tenantID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[tenantID] = l
	}
	return l
}

// sortSnapshots orders oldest first, by timestamp then event count then
// id. Matches the retention ordering of the snapshotter.
func sortSnapshots(snaps []ledger.Snapshot) {
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
