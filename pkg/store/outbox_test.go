package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func assignmentNotification(id string, offset time.Duration) Notification {
	scheduled := storeBase.Add(offset)
	return Notification{
		ID:          id,
		TenantID:    "acme",
		Tier:        "escalation_critical",
		ReviewerID:  "rev-owner",
		DeadlineAt:  scheduled.Add(15 * time.Minute),
		ScheduledAt: scheduled,
	}
}

func TestMemoryOutboxScheduleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	o := NewMemoryOutbox()

	n := assignmentNotification("art:a", 0)
	if err := o.Schedule(ctx, n); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := o.Schedule(ctx, n); err != nil {
		t.Fatalf("second schedule: %v", err)
	}

	pending, err := o.Pending(ctx, 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending count = %d, want 1", len(pending))
	}
}

func TestMemoryOutboxPendingOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	o := NewMemoryOutbox()

	for _, n := range []Notification{
		assignmentNotification("art:c", 2*time.Minute),
		assignmentNotification("art:a", time.Minute),
		assignmentNotification("art:b", time.Minute),
	} {
		if err := o.Schedule(ctx, n); err != nil {
			t.Fatalf("schedule %s: %v", n.ID, err)
		}
	}

	pending, err := o.Pending(ctx, 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	gotIDs := make([]string, len(pending))
	for i, n := range pending {
		gotIDs[i] = n.ID
	}
	wantIDs := []string{"art:a", "art:b", "art:c"}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Fatalf("pending order = %v, want %v", gotIDs, wantIDs)
		}
	}

	limited, err := o.Pending(ctx, 2)
	if err != nil {
		t.Fatalf("pending limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited count = %d, want 2", len(limited))
	}
}

func TestMemoryOutboxDispatchAndRetry(t *testing.T) {
	ctx := context.Background()
	o := NewMemoryOutbox()

	if err := o.Schedule(ctx, assignmentNotification("art:a", 0)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := o.Schedule(ctx, assignmentNotification("art:b", time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := o.MarkFailed(ctx, "art:a", "ticketing collaborator unreachable"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	pending, err := o.Pending(ctx, 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("failed notification should stay pending, got %d", len(pending))
	}
	if pending[0].Attempts != 1 || pending[0].LastError == "" {
		t.Errorf("retry bookkeeping = %+v", pending[0])
	}

	if err := o.MarkDispatched(ctx, "art:a"); err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}
	pending, err = o.Pending(ctx, 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "art:b" {
		t.Fatalf("pending after dispatch = %+v", pending)
	}

	if err := o.MarkDispatched(ctx, "art:missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkDispatched(unknown) = %v, want ErrNotFound", err)
	}
}

func TestOutboxRejectsIncompleteNotification(t *testing.T) {
	ctx := context.Background()
	o := NewMemoryOutbox()

	cases := []struct {
		name string
		n    Notification
	}{
		{"no id", Notification{TenantID: "acme", Tier: "escalation_required", ScheduledAt: storeBase}},
		{"no tenant", Notification{ID: "art:a", Tier: "escalation_required", ScheduledAt: storeBase}},
		{"no tier", Notification{ID: "art:a", TenantID: "acme", ScheduledAt: storeBase}},
		{"no schedule time", Notification{ID: "art:a", TenantID: "acme", Tier: "escalation_required"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := o.Schedule(ctx, tc.n); err == nil {
				t.Error("Schedule should reject the notification")
			}
		})
	}
}

func newMockOutbox(t *testing.T) (*PostgresOutbox, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresOutbox(db), mock
}

func TestPostgresOutboxSchedule(t *testing.T) {
	o, mock := newMockOutbox(t)
	n := assignmentNotification("art:a", 0)

	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(n.ID, n.TenantID, n.Tier, n.ReviewerID, n.Ticket,
			n.DeadlineAt.UnixNano(), n.ScheduledAt.UnixNano()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := o.Schedule(context.Background(), n); err != nil {
		t.Errorf("schedule: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresOutboxPendingDecodesRows(t *testing.T) {
	o, mock := newMockOutbox(t)
	cols := []string{"id", "tenant_id", "tier", "reviewer_id", "ticket", "deadline_ns", "scheduled_ns", "attempts", "last_error"}

	mock.ExpectQuery("SELECT id, tenant_id, tier, reviewer_id, ticket, deadline_ns, scheduled_ns, attempts, last_error FROM outbox").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("art:a", "acme", "escalation_critical", "rev-owner", "",
				storeBase.Add(15*time.Minute).UnixNano(), storeBase.UnixNano(), 2, "timeout"))

	pending, err := o.Pending(context.Background(), 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending count = %d, want 1", len(pending))
	}
	n := pending[0]
	if n.ID != "art:a" || n.Attempts != 2 || n.LastError != "timeout" {
		t.Errorf("notification = %+v", n)
	}
	if !n.ScheduledAt.Equal(storeBase) {
		t.Errorf("ScheduledAt = %v, want %v", n.ScheduledAt, storeBase)
	}
	if !n.DeadlineAt.Equal(storeBase.Add(15 * time.Minute)) {
		t.Errorf("DeadlineAt = %v", n.DeadlineAt)
	}
}

func TestPostgresOutboxMarkDispatchedNotFound(t *testing.T) {
	o, mock := newMockOutbox(t)

	mock.ExpectExec("UPDATE outbox SET status").
		WithArgs("art:missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := o.MarkDispatched(context.Background(), "art:missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkDispatched = %v, want ErrNotFound", err)
	}
}
