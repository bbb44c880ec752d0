package models

import "time"

// Status of a fix session. The zero value is not valid; sessions start
// in StatusQueued.
type Status string

// Session status constants.
const (
	StatusQueued           Status = "queued"
	StatusAnalyzing        Status = "analyzing"
	StatusStrategizing     Status = "strategizing"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusImplementing     Status = "implementing"
	StatusTesting          Status = "testing"
	StatusDeploying        Status = "deploying"
	StatusValidating       Status = "validating"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusRolledBack       Status = "rolled_back"
	StatusBlocked          Status = "blocked"
)

// IsTerminal reports whether s is a terminal status.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRolledBack, StatusBlocked:
		return true
	}
	return false
}

// legalTransitions encodes the session state machine. A session may move
// from a key status to any status in its value set. Retry re-enqueues
// terminal failed/blocked/rolled_back sessions, and a budget or rate
// stall returns an analyzing session to queued untouched.
var legalTransitions = map[Status][]Status{
	StatusQueued:           {StatusAnalyzing, StatusBlocked},
	StatusAnalyzing:        {StatusStrategizing, StatusQueued, StatusFailed, StatusBlocked},
	StatusStrategizing:     {StatusAwaitingApproval, StatusImplementing, StatusFailed, StatusBlocked},
	StatusAwaitingApproval: {StatusImplementing, StatusBlocked},
	StatusImplementing:     {StatusTesting, StatusStrategizing, StatusFailed, StatusBlocked},
	StatusTesting:          {StatusDeploying, StatusValidating, StatusStrategizing, StatusFailed, StatusBlocked},
	StatusDeploying:        {StatusValidating, StatusFailed, StatusBlocked},
	StatusValidating:       {StatusCompleted, StatusRolledBack, StatusFailed, StatusBlocked},
	StatusCompleted:        {},
	StatusFailed:           {StatusQueued},
	StatusRolledBack:       {StatusQueued},
	StatusBlocked:          {StatusQueued},
}

// CanTransition reports whether moving a session from one status to
// another is legal.
func CanTransition(from, to Status) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Retryable reports whether a session in status s may be re-enqueued.
func Retryable(s Status) bool {
	switch s {
	case StatusFailed, StatusBlocked, StatusRolledBack:
		return true
	}
	return false
}

// FixSession tracks the complete lifecycle of fixing one issue. It is
// mutated only by the owning session goroutine and persisted on every
// status transition; everything else sees snapshots.
type FixSession struct {
	ID          string     `json:"id"`
	Issue       Issue      `json:"issue"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Notification thread (opaque to the engine).
	ThreadID string `json:"thread_id,omitempty"`

	// Fix details.
	Strategy   *FixStrategy `json:"strategy,omitempty"`
	BranchName string       `json:"branch_name,omitempty"`
	PRURL      string       `json:"pr_url,omitempty"`
	PRNumber   int          `json:"pr_number,omitempty"`

	// Results.
	FilesModified    []string `json:"files_modified,omitempty"`
	CommitHash       string   `json:"commit_hash,omitempty"`
	ValidationPassed *bool    `json:"validation_passed,omitempty"`
	ErrorMessage     string   `json:"error_message,omitempty"`

	// CI tracking.
	CIAttempts int      `json:"ci_attempts"`
	CIPassed   *bool    `json:"ci_passed,omitempty"`
	CIFailures []string `json:"ci_failures,omitempty"`

	// Metrics.
	TokensUsed      int     `json:"tokens_used"`
	AccumulatedCost float64 `json:"accumulated_cost"`

	// Lessons injected into this session's strategize prompts.
	AppliedLessonIDs []int64 `json:"applied_lesson_ids,omitempty"`
}

// Duration returns the elapsed session time, using CompletedAt when set.
func (s *FixSession) Duration() time.Duration {
	if s.CompletedAt != nil {
		return s.CompletedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

// Clone returns a deep copy safe to hand to observers.
func (s *FixSession) Clone() *FixSession {
	c := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.ValidationPassed != nil {
		b := *s.ValidationPassed
		c.ValidationPassed = &b
	}
	if s.CIPassed != nil {
		b := *s.CIPassed
		c.CIPassed = &b
	}
	if s.Strategy != nil {
		st := *s.Strategy
		st.FilesAffected = append([]string(nil), s.Strategy.FilesAffected...)
		st.Steps = append([]StrategyStep(nil), s.Strategy.Steps...)
		c.Strategy = &st
	}
	c.FilesModified = append([]string(nil), s.FilesModified...)
	c.CIFailures = append([]string(nil), s.CIFailures...)
	c.AppliedLessonIDs = append([]int64(nil), s.AppliedLessonIDs...)
	c.Issue.Steps = append([]string(nil), s.Issue.Steps...)
	return &c
}

// ResetForRetry clears the per-attempt mutable fields before a session is
// re-enqueued. Historical failure rows are preserved elsewhere.
func (s *FixSession) ResetForRetry() {
	s.Status = StatusQueued
	s.CompletedAt = nil
	s.ErrorMessage = ""
	s.FilesModified = nil
	s.AppliedLessonIDs = nil
	s.ValidationPassed = nil
	s.CIPassed = nil
	s.CIFailures = nil
	s.CIAttempts = 0
}
