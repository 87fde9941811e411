package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ledgerline/cortex/pkg/contracts"
	"github.com/ledgerline/cortex/pkg/ledger"
)

var storeBase = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func seedEvent(tenant, id string, offset time.Duration) contracts.Event {
	return contracts.Event{
		ID:    id,
		Type:  contracts.EventSignalDetected,
		Actor: contracts.Actor{TenantID: tenant, ActorID: "brain-1", ActorType: contracts.ActorSystem},
		Context: contracts.ExecContext{
			TenantID:   tenant,
			PolicyPath: "finops.variance.flag",
			ReadOnly:   true,
		},
		Payload:   map[string]interface{}{"metric": "gross_margin"},
		Timestamp: storeBase.Add(offset),
		Hash:      strings.Repeat("a", 64),
	}
}

func seedArtifact(tenant, id, month string, minute int) contracts.Artifact {
	return contracts.Artifact{
		ArtifactID:    id,
		TenantID:      tenant,
		MonthKey:      month,
		Type:          contracts.ArtifactHealth,
		GeneratedAt:   storeBase.Add(time.Duration(minute) * time.Minute),
		Hash:          strings.Repeat("b", 64),
		SchemaVersion: contracts.SchemaVersionCurrent,
		Payload:       map[string]interface{}{"band": "green"},
	}
}

func seedSnapshot(tenant, id string, hour, count int) ledger.Snapshot {
	state := ledger.ReplayState{
		TenantID:          tenant,
		EventCount:        count,
		CountsByType:      map[string]int{contracts.EventSignalDetected: count},
		CountsByActorType: map[string]int{contracts.ActorSystem: count},
		FirstEventID:      "evt:first",
		LastEventID:       fmt.Sprintf("evt:%03d", count),
		WindowStart:       storeBase,
		WindowEnd:         storeBase.Add(time.Duration(hour) * time.Hour),
	}
	return ledger.Snapshot{
		SnapshotID:  id,
		TenantID:    tenant,
		AtEventID:   state.LastEventID,
		AtTimestamp: storeBase.Add(time.Duration(hour) * time.Hour),
		EventCount:  count,
		State:       state,
		StateHash:   strings.Repeat("c", 64),
	}
}

// exerciseEventStore runs the EventStore contract against a fresh backend.
func exerciseEventStore(t *testing.T, s EventStore) {
	t.Helper()
	ctx := context.Background()

	second := seedEvent("acme", "evt:b", 2*time.Minute)
	first := seedEvent("acme", "evt:a", time.Minute)
	other := seedEvent("globex", "evt:c", time.Minute)
	for _, ev := range []contracts.Event{second, first, other} {
		if err := s.Append(ctx, ev); err != nil {
			t.Fatalf("append %s: %v", ev.ID, err)
		}
	}

	events, err := s.Events(ctx, "acme")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ID != "evt:a" || events[1].ID != "evt:b" {
		t.Errorf("chain order wrong: %s, %s", events[0].ID, events[1].ID)
	}
	if !events[0].Timestamp.Equal(first.Timestamp) {
		t.Errorf("timestamp drifted: got %v, want %v", events[0].Timestamp, first.Timestamp)
	}
	if events[0].Actor != first.Actor {
		t.Errorf("actor drifted: %+v", events[0].Actor)
	}
	if events[0].Context != first.Context {
		t.Errorf("context drifted: %+v", events[0].Context)
	}
	if events[0].Payload["metric"] != "gross_margin" {
		t.Errorf("payload drifted: %v", events[0].Payload)
	}
	if events[0].Hash != first.Hash {
		t.Errorf("hash drifted: %s", events[0].Hash)
	}

	head, err := s.Head(ctx, "acme")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.ID != "evt:b" {
		t.Errorf("head is %s, want evt:b", head.ID)
	}
	if _, err := s.Head(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("head of empty tenant: got %v, want ErrNotFound", err)
	}

	tenants, err := s.Tenants(ctx)
	if err != nil {
		t.Fatalf("tenants: %v", err)
	}
	if !reflect.DeepEqual(tenants, []string{"acme", "globex"}) {
		t.Errorf("tenants %v, want [acme globex]", tenants)
	}

	if err := s.Append(ctx, contracts.Event{ID: "evt:x"}); err == nil {
		t.Error("event without tenant must be rejected")
	}
	bad := seedEvent("acme", "evt:bad", time.Hour)
	bad.Hash = "nope"
	if err := s.Append(ctx, bad); err == nil {
		t.Error("event with malformed hash must be rejected")
	}
}

// exerciseArtifactStore runs the ArtifactStore contract against a fresh
// backend.
func exerciseArtifactStore(t *testing.T, s ArtifactStore) {
	t.Helper()
	ctx := context.Background()

	early := seedArtifact("acme", "art:a", "2026-03", 10)
	late := seedArtifact("acme", "art:b", "2026-03", 20)
	otherMonth := seedArtifact("acme", "art:c", "2026-04", 30)
	for _, art := range []contracts.Artifact{late, early, otherMonth} {
		if err := s.PutArtifact(ctx, art); err != nil {
			t.Fatalf("put %s: %v", art.ArtifactID, err)
		}
	}

	got, err := s.GetArtifact(ctx, "acme", "art:a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Hash != early.Hash || got.Type != early.Type {
		t.Errorf("artifact drifted: %+v", got)
	}
	if !got.GeneratedAt.Equal(early.GeneratedAt) {
		t.Errorf("generated_at drifted: got %v, want %v", got.GeneratedAt, early.GeneratedAt)
	}
	if got.Payload["band"] != "green" {
		t.Errorf("payload drifted: %v", got.Payload)
	}
	if _, err := s.GetArtifact(ctx, "acme", "art:zz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing artifact: got %v, want ErrNotFound", err)
	}

	month, err := s.ListMonth(ctx, "acme", "2026-03")
	if err != nil {
		t.Fatalf("list month: %v", err)
	}
	if len(month) != 2 {
		t.Fatalf("month has %d artifacts, want 2", len(month))
	}
	if month[0].ArtifactID != "art:a" || month[1].ArtifactID != "art:b" {
		t.Errorf("month order wrong: %s, %s", month[0].ArtifactID, month[1].ArtifactID)
	}

	// Same id and hash again is a no-op.
	if err := s.PutArtifact(ctx, early); err != nil {
		t.Errorf("idempotent put failed: %v", err)
	}

	mutated := early
	mutated.Hash = strings.Repeat("f", 64)
	if err := s.PutArtifact(ctx, mutated); err == nil {
		t.Error("hash mutation must be rejected")
	}

	if err := s.PutArtifact(ctx, contracts.Artifact{ArtifactID: "art:x", TenantID: "acme", Hash: strings.Repeat("b", 64)}); err == nil {
		t.Error("artifact without month key must be rejected")
	}
}

// exerciseSnapshotStore runs the SnapshotStore contract against a fresh
// backend.
func exerciseSnapshotStore(t *testing.T, s SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		snap := seedSnapshot("acme", fmt.Sprintf("snap:%03d", i), i, (i+1)*10)
		if err := s.PutSnapshot(ctx, snap); err != nil {
			t.Fatalf("put snapshot %d: %v", i, err)
		}
	}

	latest, err := s.LatestSnapshot(ctx, "acme")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.SnapshotID != "snap:003" || latest.EventCount != 40 {
		t.Errorf("latest is %s count %d, want snap:003 count 40", latest.SnapshotID, latest.EventCount)
	}
	if latest.State.EventCount != 40 || latest.State.CountsByType[contracts.EventSignalDetected] != 40 {
		t.Errorf("replay state drifted: %+v", latest.State)
	}
	if !latest.AtTimestamp.Equal(storeBase.Add(3 * time.Hour)) {
		t.Errorf("timestamp drifted: %v", latest.AtTimestamp)
	}

	all, err := s.ListSnapshots(ctx, "acme")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 || all[0].SnapshotID != "snap:000" {
		t.Fatalf("list wrong: %d snapshots, first %s", len(all), all[0].SnapshotID)
	}

	// Same snapshot again is a no-op.
	if err := s.PutSnapshot(ctx, seedSnapshot("acme", "snap:000", 0, 10)); err != nil {
		t.Errorf("idempotent put failed: %v", err)
	}
	bad := seedSnapshot("acme", "snap:000", 0, 10)
	bad.StateHash = strings.Repeat("d", 64)
	if err := s.PutSnapshot(ctx, bad); err == nil {
		t.Error("state hash mutation must be rejected")
	}

	evicted, err := s.PruneSnapshots(ctx, "acme", 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if evicted != 2 {
		t.Errorf("evicted %d, want 2", evicted)
	}
	kept, err := s.ListSnapshots(ctx, "acme")
	if err != nil {
		t.Fatalf("list after prune: %v", err)
	}
	if len(kept) != 2 || kept[0].SnapshotID != "snap:002" || kept[1].SnapshotID != "snap:003" {
		t.Errorf("wrong snapshots survived: %+v", kept)
	}

	if _, err := s.PruneSnapshots(ctx, "acme", 0); err == nil {
		t.Error("zero retention must be rejected")
	}
	if _, err := s.LatestSnapshot(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("latest of empty tenant: got %v, want ErrNotFound", err)
	}
}
