package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/ledgerline/cortex/pkg/contracts"
	"github.com/ledgerline/cortex/pkg/ledger"
)

// PostgresStore implements EventStore, ArtifactStore and SnapshotStore
// on Postgres.
type PostgresStore struct {
	db    *sql.DB
	locks *tenantLocks
}

// OpenPostgres connects to Postgres with the given DSN and prepares the
// schema.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.Init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing database handle. Callers own the
// handle's lifecycle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, locks: newTenantLocks()}
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		type TEXT NOT NULL,
		actor TEXT NOT NULL,
		context TEXT NOT NULL,
		payload TEXT,
		ts_ns BIGINT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		hash TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS events_chain ON events (tenant_id, ts_ns, id)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		artifact_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		month_key TEXT NOT NULL,
		type TEXT NOT NULL,
		generated_ns BIGINT NOT NULL,
		hash TEXT NOT NULL,
		schema_version INTEGER NOT NULL,
		parent_artifact_id TEXT NOT NULL DEFAULT '',
		payload TEXT,
		PRIMARY KEY (tenant_id, artifact_id)
	)`,
	`CREATE INDEX IF NOT EXISTS artifacts_month ON artifacts (tenant_id, month_key)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		snapshot_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		at_event_id TEXT NOT NULL,
		at_ns BIGINT NOT NULL,
		event_count INTEGER NOT NULL,
		state TEXT NOT NULL,
		state_hash TEXT NOT NULL,
		PRIMARY KEY (tenant_id, snapshot_id)
	)`,
}

// Init creates the schema. Safe to call on an initialized database.
func (s *PostgresStore) Init(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: init postgres schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Append(ctx context.Context, ev contracts.Event) error {
	if err := checkEvent(ev); err != nil {
		return err
	}
	cols, err := eventColumns(ev)
	if err != nil {
		return err
	}

	l := s.locks.forTenant(ev.Actor.TenantID)
	l.Lock()
	defer l.Unlock()

	_, err = s.db.ExecContext(ctx, `INSERT INTO events
		(id, tenant_id, type, actor, context, payload, ts_ns, parent_id, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, cols...)
	if err != nil {
		return fmt.Errorf("store: insert event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *PostgresStore) Events(ctx context.Context, tenantID string) ([]contracts.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventSelectColumns+`
		FROM events WHERE tenant_id = $1 ORDER BY ts_ns, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []contracts.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *PostgresStore) Head(ctx context.Context, tenantID string) (contracts.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventSelectColumns+`
		FROM events WHERE tenant_id = $1 ORDER BY ts_ns DESC, id DESC LIMIT 1`, tenantID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Event{}, ErrNotFound
	}
	if err != nil {
		return contracts.Event{}, err
	}
	return ev, nil
}

func (s *PostgresStore) Tenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM events ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("store: query tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tenants []string
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tenants, nil
}

func (s *PostgresStore) PutArtifact(ctx context.Context, art contracts.Artifact) error {
	if err := checkArtifact(art); err != nil {
		return err
	}
	cols, err := artifactColumns(art)
	if err != nil {
		return err
	}

	l := s.locks.forTenant(art.TenantID)
	l.Lock()
	defer l.Unlock()

	var existingHash string
	err = s.db.QueryRowContext(ctx, `SELECT hash FROM artifacts
		WHERE tenant_id = $1 AND artifact_id = $2`, art.TenantID, art.ArtifactID).Scan(&existingHash)
	switch {
	case err == nil:
		if existingHash == art.Hash {
			return nil
		}
		return fmt.Errorf("store: artifact %s already exists with a different hash", art.ArtifactID)
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("store: check artifact %s: %w", art.ArtifactID, err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO artifacts
		(artifact_id, tenant_id, month_key, type, generated_ns, hash, schema_version, parent_artifact_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, cols...)
	if err != nil {
		return fmt.Errorf("store: insert artifact %s: %w", art.ArtifactID, err)
	}
	return nil
}

func (s *PostgresStore) GetArtifact(ctx context.Context, tenantID, artifactID string) (contracts.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactSelectColumns+`
		FROM artifacts WHERE tenant_id = $1 AND artifact_id = $2`, tenantID, artifactID)
	art, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Artifact{}, ErrNotFound
	}
	if err != nil {
		return contracts.Artifact{}, err
	}
	return art, nil
}

func (s *PostgresStore) ListMonth(ctx context.Context, tenantID, monthKey string) ([]contracts.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+artifactSelectColumns+`
		FROM artifacts WHERE tenant_id = $1 AND month_key = $2
		ORDER BY generated_ns, artifact_id`, tenantID, monthKey)
	if err != nil {
		return nil, fmt.Errorf("store: query artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var arts []contracts.Artifact
	for rows.Next() {
		art, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		arts = append(arts, art)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return arts, nil
}

func (s *PostgresStore) PutSnapshot(ctx context.Context, snap ledger.Snapshot) error {
	if err := checkSnapshot(snap); err != nil {
		return err
	}
	cols, err := snapshotColumns(snap)
	if err != nil {
		return err
	}

	l := s.locks.forTenant(snap.TenantID)
	l.Lock()
	defer l.Unlock()

	var existingHash string
	err = s.db.QueryRowContext(ctx, `SELECT state_hash FROM snapshots
		WHERE tenant_id = $1 AND snapshot_id = $2`, snap.TenantID, snap.SnapshotID).Scan(&existingHash)
	switch {
	case err == nil:
		if existingHash == snap.StateHash {
			return nil
		}
		return fmt.Errorf("store: snapshot %s already exists with a different state hash", snap.SnapshotID)
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("store: check snapshot %s: %w", snap.SnapshotID, err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO snapshots
		(snapshot_id, tenant_id, at_event_id, at_ns, event_count, state, state_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, cols...)
	if err != nil {
		return fmt.Errorf("store: insert snapshot %s: %w", snap.SnapshotID, err)
	}
	return nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, tenantID string) (ledger.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+snapshotSelectColumns+`
		FROM snapshots WHERE tenant_id = $1
		ORDER BY at_ns DESC, event_count DESC, snapshot_id DESC LIMIT 1`, tenantID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return ledger.Snapshot{}, err
	}
	return snap, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, tenantID string) ([]ledger.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+snapshotSelectColumns+`
		FROM snapshots WHERE tenant_id = $1
		ORDER BY at_ns, event_count, snapshot_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snaps []ledger.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snaps, nil
}

func (s *PostgresStore) PruneSnapshots(ctx context.Context, tenantID string, retain int) (int, error) {
	if retain <= 0 {
		return 0, fmt.Errorf("store: snapshot retention must be positive, got %d", retain)
	}

	l := s.locks.forTenant(tenantID)
	l.Lock()
	defer l.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots
		WHERE tenant_id = $1 AND snapshot_id NOT IN (
			SELECT snapshot_id FROM snapshots WHERE tenant_id = $1
			ORDER BY at_ns DESC, event_count DESC, snapshot_id DESC LIMIT $2
		)`, tenantID, retain)
	if err != nil {
		return 0, fmt.Errorf("store: prune snapshots: %w", err)
	}
	evicted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune snapshots: %w", err)
	}
	return int(evicted), nil
}
