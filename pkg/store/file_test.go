package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ledgerline/cortex/pkg/contracts"
	"github.com/ledgerline/cortex/pkg/ledger"
)

func TestFileEventStore(t *testing.T) {
	s, err := NewFileEventStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	exerciseEventStore(t, s)
}

func TestFileEventStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := NewFileEventStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	for i := 0; i < 3; i++ {
		ev := seedEvent("acme", fmt.Sprintf("evt:%03d", i), time.Duration(i)*time.Minute)
		if err := s1.Append(ctx, ev); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	s2, err := NewFileEventStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	events, err := s2.Events(ctx, "acme")
	if err != nil {
		t.Fatalf("events after reopen: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events after reopen, want 3", len(events))
	}
	head, err := s2.Head(ctx, "acme")
	if err != nil {
		t.Fatalf("head after reopen: %v", err)
	}
	if head.ID != "evt:002" {
		t.Errorf("head is %s, want evt:002", head.ID)
	}
}

func TestFileEventStoreRejectsUnsafeTenant(t *testing.T) {
	s, err := NewFileEventStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()

	ev := seedEvent("../escape", "evt:a", time.Minute)
	if err := s.Append(ctx, ev); err == nil {
		t.Error("path traversal tenant must be rejected")
	}
	if _, err := s.Events(ctx, "../escape"); err == nil {
		t.Error("path traversal read must be rejected")
	}
}

// A tenant file is byte-compatible with the replay export format, so it
// can be replayed directly.
func TestFileEventStoreReplayCompatible(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileEventStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	chain := ledger.NewChain("acme")
	actor := contracts.Actor{TenantID: "acme", ActorID: "brain-1", ActorType: contracts.ActorSystem}
	execCtx := contracts.ExecContext{TenantID: "acme", PolicyPath: "finops.variance.flag", ReadOnly: true}
	for i := 0; i < 3; i++ {
		payload := map[string]interface{}{"seq": fmt.Sprintf("s-%d", i)}
		if _, err := chain.Append(contracts.EventSignalDetected, actor, execCtx, payload, storeBase.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("chain append %d: %v", i, err)
		}
	}
	for _, ev := range chain.Events() {
		if err := s.Append(ctx, ev); err != nil {
			t.Fatalf("store append %s: %v", ev.ID, err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "acme.jsonl"))
	if err != nil {
		t.Fatalf("open tenant file: %v", err)
	}
	defer f.Close()

	res, err := ledger.ReplayFromReader(nil, f)
	if err != nil {
		t.Fatalf("replay over tenant file: %v", err)
	}
	if res.State.EventCount != 3 {
		t.Errorf("replayed %d events, want 3", res.State.EventCount)
	}
}
