package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Notification statuses.
const (
	NotificationPending    = "pending"
	NotificationDispatched = "dispatched"
)

// Notification is one escalation assignment queued for the ticketing
// collaborator. The id doubles as the idempotency key: scheduling the
// same id twice is a no-op, so a replayed cycle cannot double-notify.
type Notification struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Tier        string    `json:"tier"`
	ReviewerID  string    `json:"reviewer_id,omitempty"`
	Ticket      string    `json:"ticket,omitempty"`
	DeadlineAt  time.Time `json:"deadline_at,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Attempts    int       `json:"attempts,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Outbox queues notifications until a dispatcher delivers them. A failed
// dispatch stays pending with its attempt count raised, so delivery is
// at-least-once.
type Outbox interface {
	// Schedule queues a notification. Idempotent on id.
	Schedule(ctx context.Context, n Notification) error

	// Pending returns undispatched notifications oldest first. A
	// non-positive limit returns all of them.
	Pending(ctx context.Context, limit int) ([]Notification, error)

	// MarkDispatched records successful delivery.
	MarkDispatched(ctx context.Context, id string) error

	// MarkFailed records a delivery failure and leaves the notification
	// pending for retry.
	MarkFailed(ctx context.Context, id, reason string) error
}

func checkNotification(n Notification) error {
	if n.ID == "" {
		return fmt.Errorf("store: notification has no id")
	}
	if n.TenantID == "" {
		return fmt.Errorf("store: notification %q has no tenant", n.ID)
	}
	if n.Tier == "" {
		return fmt.Errorf("store: notification %q has no tier", n.ID)
	}
	if n.ScheduledAt.IsZero() {
		return fmt.Errorf("store: notification %q has no schedule time", n.ID)
	}
	return nil
}

// MemoryOutbox keeps the queue in process memory.
type MemoryOutbox struct {
	mu      sync.Mutex
	records map[string]*Notification
	status  map[string]string
}

// NewMemoryOutbox returns an empty in-memory outbox.
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{
		records: make(map[string]*Notification),
		status:  make(map[string]string),
	}
}

func (o *MemoryOutbox) Schedule(_ context.Context, n Notification) error {
	if err := checkNotification(n); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.records[n.ID]; ok {
		return nil
	}
	n.Attempts = 0
	n.LastError = ""
	o.records[n.ID] = &n
	o.status[n.ID] = NotificationPending
	return nil
}

func (o *MemoryOutbox) Pending(_ context.Context, limit int) ([]Notification, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var pending []Notification
	for id, n := range o.records {
		if o.status[id] == NotificationPending {
			pending = append(pending, *n)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].ScheduledAt.Equal(pending[j].ScheduledAt) {
			return pending[i].ScheduledAt.Before(pending[j].ScheduledAt)
		}
		return pending[i].ID < pending[j].ID
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (o *MemoryOutbox) MarkDispatched(_ context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.records[id]; !ok {
		return ErrNotFound
	}
	o.status[id] = NotificationDispatched
	return nil
}

func (o *MemoryOutbox) MarkFailed(_ context.Context, id, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	n, ok := o.records[id]
	if !ok {
		return ErrNotFound
	}
	n.Attempts++
	n.LastError = reason
	return nil
}

// PostgresOutbox implements Outbox on Postgres. It can share a handle
// with PostgresStore.
type PostgresOutbox struct {
	db *sql.DB
}

// NewPostgresOutbox wraps an existing database handle. Callers own the
// handle's lifecycle.
func NewPostgresOutbox(db *sql.DB) *PostgresOutbox {
	return &PostgresOutbox{db: db}
}

var postgresOutboxSchema = []string{
	`CREATE TABLE IF NOT EXISTS outbox (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		reviewer_id TEXT NOT NULL DEFAULT '',
		ticket TEXT NOT NULL DEFAULT '',
		deadline_ns BIGINT NOT NULL DEFAULT 0,
		scheduled_ns BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_pending ON outbox (status, scheduled_ns, id)`,
}

// Init creates the schema. Safe to call on an initialized database.
func (o *PostgresOutbox) Init(ctx context.Context) error {
	for _, stmt := range postgresOutboxSchema {
		if _, err := o.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: init outbox schema: %w", err)
		}
	}
	return nil
}

func (o *PostgresOutbox) Schedule(ctx context.Context, n Notification) error {
	if err := checkNotification(n); err != nil {
		return err
	}

	var deadlineNs int64
	if !n.DeadlineAt.IsZero() {
		deadlineNs = n.DeadlineAt.UnixNano()
	}
	_, err := o.db.ExecContext(ctx, `INSERT INTO outbox
		(id, tenant_id, tier, reviewer_id, ticket, deadline_ns, scheduled_ns, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		ON CONFLICT (id) DO NOTHING`,
		n.ID, n.TenantID, n.Tier, n.ReviewerID, n.Ticket, deadlineNs, n.ScheduledAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store: schedule notification %s: %w", n.ID, err)
	}
	return nil
}

func (o *PostgresOutbox) Pending(ctx context.Context, limit int) ([]Notification, error) {
	query := `SELECT id, tenant_id, tier, reviewer_id, ticket, deadline_ns, scheduled_ns, attempts, last_error
		FROM outbox WHERE status = 'pending' ORDER BY scheduled_ns, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query pending notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pending []Notification
	for rows.Next() {
		var (
			n           Notification
			deadlineNs  int64
			scheduledNs int64
		)
		if err := rows.Scan(&n.ID, &n.TenantID, &n.Tier, &n.ReviewerID, &n.Ticket,
			&deadlineNs, &scheduledNs, &n.Attempts, &n.LastError); err != nil {
			return nil, fmt.Errorf("store: scan notification: %w", err)
		}
		if deadlineNs > 0 {
			n.DeadlineAt = time.Unix(0, deadlineNs).UTC()
		}
		n.ScheduledAt = time.Unix(0, scheduledNs).UTC()
		pending = append(pending, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pending, nil
}

func (o *PostgresOutbox) MarkDispatched(ctx context.Context, id string) error {
	res, err := o.db.ExecContext(ctx, `UPDATE outbox SET status = 'dispatched' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: mark notification %s dispatched: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark notification %s dispatched: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (o *PostgresOutbox) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := o.db.ExecContext(ctx, `UPDATE outbox
		SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("store: mark notification %s failed: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark notification %s failed: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
