package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/ingest"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// IssueNotifier announces a freshly enqueued session and returns the
// notification thread id, empty when no message was posted.
type IssueNotifier interface {
	NotifyIssueQueued(ctx context.Context, session *models.FixSession) string
}

// Dispatcher is the operator-facing surface of the queue: submitting
// issues and steering sessions.
type Dispatcher struct {
	store    *Store
	pool     *WorkerPool
	notifier IssueNotifier
}

// NewDispatcher builds a dispatcher over the store and pool.
func NewDispatcher(store *Store, pool *WorkerPool) *Dispatcher {
	return &Dispatcher{store: store, pool: pool}
}

// SetNotifier installs the intake announcement hook.
func (d *Dispatcher) SetNotifier(n IssueNotifier) {
	d.notifier = n
}

// Submit normalizes a raw report into an issue and enqueues a session
// for it.
func (d *Dispatcher) Submit(ctx context.Context, report ingest.Report) (*models.FixSession, error) {
	issue := ingest.ParseReport(report)
	session := &models.FixSession{
		ID:        issue.ID,
		Issue:     issue,
		Status:    models.StatusQueued,
		StartedAt: time.Now(),
	}
	if d.notifier != nil {
		session.ThreadID = d.notifier.NotifyIssueQueued(ctx, session)
	}
	if err := d.store.Create(ctx, session); err != nil {
		return nil, err
	}
	slog.Info("Session enqueued",
		"session_id", session.ID,
		"title", issue.Title,
		"severity", issue.Severity,
		"category", issue.Category)
	return session, nil
}

// Get loads one session.
func (d *Dispatcher) Get(ctx context.Context, id string) (*models.FixSession, error) {
	return d.store.Get(ctx, id)
}

// List returns sessions newest first, optionally filtered by status.
func (d *Dispatcher) List(ctx context.Context, status models.Status, limit int) ([]*models.FixSession, error) {
	return d.store.List(ctx, status, limit)
}

// FindByPR returns the session that opened the given pull request.
func (d *Dispatcher) FindByPR(ctx context.Context, prNumber int) (*models.FixSession, error) {
	sessions, err := d.store.List(ctx, "", 200)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s.PRNumber == prNumber {
			return s, nil
		}
	}
	return nil, ErrSessionNotFound
}

// Cancel stops a session: an in-flight session has its context
// cancelled, a queued one is marked blocked immediately.
func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	if d.pool.CancelSession(id) {
		slog.Info("Cancelled in-flight session", "session_id", id)
		return nil
	}

	session, err := d.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if session.Status != models.StatusQueued {
		return fmt.Errorf("session %s is %s and cannot be cancelled", id, session.Status)
	}
	session.Status = models.StatusBlocked
	session.ErrorMessage = "cancelled by operator"
	now := time.Now()
	session.CompletedAt = &now
	return d.store.Save(ctx, session)
}

// Retry re-enqueues a session that ended in failed, blocked, or
// rolled_back. Per-attempt state is reset; token and cost accounting
// carry over.
func (d *Dispatcher) Retry(ctx context.Context, id string) (*models.FixSession, error) {
	session, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.Retryable(session.Status) {
		return nil, fmt.Errorf("session %s is %s and cannot be retried", id, session.Status)
	}
	session.ResetForRetry()
	if err := d.store.Save(ctx, session); err != nil {
		return nil, err
	}
	if err := d.store.Requeue(ctx, id); err != nil {
		return nil, err
	}
	slog.Info("Session re-enqueued for retry", "session_id", id)
	return session, nil
}

// Pause stops new sessions from being claimed.
func (d *Dispatcher) Pause() { d.pool.Pause() }

// Resume lets sessions be claimed again.
func (d *Dispatcher) Resume() { d.pool.Resume() }

// Health returns the pool health including queue depth.
func (d *Dispatcher) Health() *PoolHealth {
	return d.pool.Health()
}
