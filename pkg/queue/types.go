// Package queue provides the persistent session queue and the worker
// pool that drains it.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoSessionsAvailable indicates no queued sessions exist.
	ErrNoSessionsAvailable = errors.New("no sessions available")

	// ErrAtCapacity indicates the concurrent session limit is reached.
	ErrAtCapacity = errors.New("at capacity")

	// ErrPaused indicates intake is administratively paused.
	ErrPaused = errors.New("queue paused")

	// ErrSessionNotFound indicates the session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
)

// SessionExecutor runs one claimed session to a terminal state.
//
// The executor owns the entire fix lifecycle: classification, analysis,
// the strategize/implement/test retry loop, PR and CI repair, deploy,
// and validation. It persists the session progressively during
// execution; the worker only handles claiming, heartbeat, and the
// terminal status write.
type SessionExecutor interface {
	Execute(ctx context.Context, session *models.FixSession) *ExecutionResult
}

// ExecutionResult is the terminal state of one execution attempt.
type ExecutionResult struct {
	// Status is the terminal session status. Ignored when Stall is set.
	Status models.Status

	// Error carries failure details for failed/blocked sessions.
	Error error

	// Stall parks the session back in the queue untouched: the budget or
	// a rate window blocked progress and a later attempt should succeed.
	Stall bool
}

// PoolHealth is the aggregate state of the worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	Paused           bool           `json:"paused"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveSessions   int            `json:"active_sessions"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRequeued  int            `json:"orphans_requeued"`
}

// WorkerHealth is the state of a single worker.
type WorkerHealth struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"`
	CurrentSessionID  string    `json:"current_session_id,omitempty"`
	SessionsProcessed int       `json:"sessions_processed"`
	LastActivity      time.Time `json:"last_activity"`
}
