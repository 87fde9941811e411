package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ledgerline/cortex/pkg/contracts"
	"github.com/ledgerline/cortex/pkg/ledger"
)

// Tenant ids become file names, so only a conservative character set is
// accepted.
var safeTenant = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// FileEventStore persists each tenant's chain as a JSONL file under one
// directory. The format is identical to the replay export format, so a
// tenant file can be fed straight into a replay.
type FileEventStore struct {
	dir   string
	locks *tenantLocks
}

// NewFileEventStore creates the directory if needed and returns the
// store.
func NewFileEventStore(dir string) (*FileEventStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("store: create event dir: %w", err)
	}
	return &FileEventStore{dir: dir, locks: newTenantLocks()}, nil
}

func (s *FileEventStore) path(tenantID string) (string, error) {
	if !safeTenant.MatchString(tenantID) {
		return "", fmt.Errorf("store: tenant id %q is not filesystem safe", tenantID)
	}
	return filepath.Join(s.dir, tenantID+".jsonl"), nil
}

func (s *FileEventStore) Append(ctx context.Context, ev contracts.Event) error {
	if err := checkEvent(ev); err != nil {
		return err
	}
	path, err := s.path(ev.Actor.TenantID)
	if err != nil {
		return err
	}

	l := s.locks.forTenant(ev.Actor.TenantID)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("store: open event file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(ev); err != nil {
		return fmt.Errorf("store: append event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *FileEventStore) Events(ctx context.Context, tenantID string) ([]contracts.Event, error) {
	path, err := s.path(tenantID)
	if err != nil {
		return nil, err
	}

	l := s.locks.forTenant(tenantID)
	l.Lock()
	defer l.Unlock()

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open event file: %w", err)
	}
	defer f.Close()

	events, err := ledger.DecodeEvents(f)
	if err != nil {
		return nil, err
	}
	ledger.SortEvents(events)
	return events, nil
}

func (s *FileEventStore) Head(ctx context.Context, tenantID string) (contracts.Event, error) {
	events, err := s.Events(ctx, tenantID)
	if err != nil {
		return contracts.Event{}, err
	}
	if len(events) == 0 {
		return contracts.Event{}, ErrNotFound
	}
	return events[len(events)-1], nil
}

func (s *FileEventStore) Tenants(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: read event dir: %w", err)
	}
	var tenants []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		tenants = append(tenants, strings.TrimSuffix(name, ".jsonl"))
	}
	sort.Strings(tenants)
	return tenants, nil
}
