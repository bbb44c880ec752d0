package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// Store persists fix sessions in the sessions table. The full session
// is serialized into json_blob; status and claim columns are duplicated
// for querying.
type Store struct {
	db *sql.DB
}

// NewStore builds a session store over the shared database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new session. The session keeps its current status,
// normally queued.
func (s *Store) Create(ctx context.Context, session *models.FixSession) error {
	blob, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, json_blob, status, started_at)
		VALUES (?, ?, ?, ?)`,
		session.ID, string(blob), string(session.Status), session.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get loads one session by id.
func (s *Store) Get(ctx context.Context, id string) (*models.FixSession, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		"SELECT json_blob FROM sessions WHERE id = ?", id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return decodeSession(blob)
}

// List returns sessions newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status models.Status, limit int) ([]*models.FixSession, error) {
	query := "SELECT json_blob FROM sessions"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.FixSession
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		session, err := decodeSession(blob)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Save persists the session's current state.
func (s *Store) Save(ctx context.Context, session *models.FixSession) error {
	blob, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET json_blob = ?, status = ?, completed_at = ? WHERE id = ?`,
		string(blob), string(session.Status), session.CompletedAt, session.ID)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ClaimNext atomically claims the oldest queued session for workerID,
// moving it to analyzing.
func (s *Store) ClaimNext(ctx context.Context, workerID string) (*models.FixSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id, blob string
	err = tx.QueryRowContext(ctx, `
		SELECT id, json_blob FROM sessions
		WHERE status = ? ORDER BY created_at, id LIMIT 1`,
		string(models.StatusQueued)).Scan(&id, &blob)
	if err == sql.ErrNoRows {
		return nil, ErrNoSessionsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query queued session: %w", err)
	}

	session, err := decodeSession(blob)
	if err != nil {
		return nil, err
	}
	session.Status = models.StatusAnalyzing
	newBlob, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize session: %w", err)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET json_blob = ?, status = ?, claimed_by = ?, last_heartbeat_at = ?
		WHERE id = ?`,
		string(newBlob), string(models.StatusAnalyzing), workerID, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to claim session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return session, nil
}

// Heartbeat refreshes the claim of an in-flight session.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET last_heartbeat_at = ? WHERE id = ?", time.Now(), id)
	return err
}

// Requeue parks a session back in the queue, clearing its claim. Used
// for budget stalls and orphan recovery.
func (s *Store) Requeue(ctx context.Context, id string) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	session.Status = models.StatusQueued
	blob, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET json_blob = ?, status = ?, claimed_by = NULL, last_heartbeat_at = NULL
		WHERE id = ?`,
		string(blob), string(models.StatusQueued), id)
	if err != nil {
		return fmt.Errorf("failed to requeue session: %w", err)
	}
	return nil
}

// RequeueOrphans requeues claimed, non-terminal sessions whose
// heartbeat is older than the threshold. Returns how many were
// recovered.
func (s *Store) RequeueOrphans(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM sessions
		WHERE claimed_by IS NOT NULL
		  AND status NOT IN (?, ?, ?, ?, ?)
		  AND last_heartbeat_at < ?`,
		string(models.StatusQueued), string(models.StatusCompleted),
		string(models.StatusFailed), string(models.StatusRolledBack),
		string(models.StatusBlocked), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to query orphans: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		if err := s.Requeue(ctx, id); err != nil {
			slog.Error("Failed to requeue orphaned session", "session_id", id, "error", err)
			continue
		}
		slog.Warn("Requeued orphaned session", "session_id", id)
		recovered++
	}
	return recovered, nil
}

// RequeueClaimedBy requeues every non-terminal session claimed by
// workers of the given instance. Called once at startup to recover
// sessions from a previous crash.
func (s *Store) RequeueClaimedBy(ctx context.Context, instanceID string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM sessions
		WHERE claimed_by LIKE ? || '%'
		  AND status NOT IN (?, ?, ?, ?, ?)`,
		instanceID,
		string(models.StatusQueued), string(models.StatusCompleted),
		string(models.StatusFailed), string(models.StatusRolledBack),
		string(models.StatusBlocked))
	if err != nil {
		return 0, fmt.Errorf("failed to query startup orphans: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.Requeue(ctx, id); err != nil {
			return 0, err
		}
		slog.Info("Recovered session from previous run", "session_id", id)
	}
	return len(ids), nil
}

// QueueDepth counts queued sessions.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE status = ?",
		string(models.StatusQueued)).Scan(&n)
	return n, err
}

// CountActive counts claimed, non-terminal, non-queued sessions.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE claimed_by IS NOT NULL AND status NOT IN (?, ?, ?, ?, ?)`,
		string(models.StatusQueued), string(models.StatusCompleted),
		string(models.StatusFailed), string(models.StatusRolledBack),
		string(models.StatusBlocked)).Scan(&n)
	return n, err
}

func decodeSession(blob string) (*models.FixSession, error) {
	var session models.FixSession
	if err := json.Unmarshal([]byte(blob), &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}
