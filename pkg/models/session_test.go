package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusQueued, false},
		{StatusAnalyzing, false},
		{StatusStrategizing, false},
		{StatusAwaitingApproval, false},
		{StatusImplementing, false},
		{StatusTesting, false},
		{StatusDeploying, false},
		{StatusValidating, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusRolledBack, true},
		{StatusBlocked, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, IsTerminal(tt.status))
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{"claim", StatusQueued, StatusAnalyzing, true},
		{"analyze done", StatusAnalyzing, StatusStrategizing, true},
		{"soft stall requeue", StatusAnalyzing, StatusQueued, true},
		{"approval needed", StatusStrategizing, StatusAwaitingApproval, true},
		{"no approval needed", StatusStrategizing, StatusImplementing, true},
		{"approval denied", StatusAwaitingApproval, StatusBlocked, true},
		{"approval cannot fail", StatusAwaitingApproval, StatusFailed, false},
		{"implement retry", StatusImplementing, StatusStrategizing, true},
		{"test retry", StatusTesting, StatusStrategizing, true},
		{"skip deploy", StatusTesting, StatusValidating, true},
		{"deploy", StatusTesting, StatusDeploying, true},
		{"validate pass", StatusValidating, StatusCompleted, true},
		{"validate regression", StatusValidating, StatusRolledBack, true},
		{"retry failed", StatusFailed, StatusQueued, true},
		{"retry blocked", StatusBlocked, StatusQueued, true},
		{"retry rolled back", StatusRolledBack, StatusQueued, true},
		{"completed is final", StatusCompleted, StatusQueued, false},
		{"no stage skipping", StatusQueued, StatusImplementing, false},
		{"no backwards analyze", StatusTesting, StatusAnalyzing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(StatusFailed))
	assert.True(t, Retryable(StatusBlocked))
	assert.True(t, Retryable(StatusRolledBack))
	assert.False(t, Retryable(StatusCompleted))
	assert.False(t, Retryable(StatusTesting))
}

func TestSessionClone(t *testing.T) {
	passed := true
	now := time.Now()
	s := &FixSession{
		ID:     "abc12345",
		Status: StatusTesting,
		Issue: Issue{
			ID:    "i1",
			Title: "Login button misaligned",
			Steps: []string{"open login page", "observe button"},
		},
		StartedAt:        now,
		Strategy:         &FixStrategy{Description: "move css rule", FilesAffected: []string{"static/login.css"}},
		FilesModified:    []string{"static/login.css"},
		CIPassed:         &passed,
		AppliedLessonIDs: []int64{3, 7},
	}

	c := s.Clone()
	require.Equal(t, s.ID, c.ID)

	// Mutations of the clone must not leak back.
	c.FilesModified[0] = "other.css"
	c.Issue.Steps[0] = "changed"
	*c.CIPassed = false
	c.Strategy.Description = "changed"

	assert.Equal(t, "static/login.css", s.FilesModified[0])
	assert.Equal(t, "open login page", s.Issue.Steps[0])
	assert.True(t, *s.CIPassed)
	assert.Equal(t, "move css rule", s.Strategy.Description)
}

func TestResetForRetry(t *testing.T) {
	done := time.Now()
	failed := false
	s := &FixSession{
		ID:               "abc12345",
		Status:           StatusFailed,
		CompletedAt:      &done,
		ErrorMessage:     "old code not found",
		FilesModified:    []string{"app.py"},
		AppliedLessonIDs: []int64{1},
		ValidationPassed: &failed,
		CIPassed:         &failed,
		CIAttempts:       2,
		CIFailures:       []string{"lint"},
		TokensUsed:       1200,
		AccumulatedCost:  0.42,
	}

	s.ResetForRetry()

	assert.Equal(t, StatusQueued, s.Status)
	assert.Nil(t, s.CompletedAt)
	assert.Empty(t, s.ErrorMessage)
	assert.Empty(t, s.FilesModified)
	assert.Empty(t, s.AppliedLessonIDs)
	assert.Nil(t, s.ValidationPassed)
	assert.Nil(t, s.CIPassed)
	assert.Zero(t, s.CIAttempts)
	assert.Empty(t, s.CIFailures)

	// Accounting survives retries.
	assert.Equal(t, 1200, s.TokensUsed)
	assert.InDelta(t, 0.42, s.AccumulatedCost, 1e-9)
}

func TestStrategyValidate(t *testing.T) {
	tests := []struct {
		name    string
		steps   []StrategyStep
		wantErr bool
	}{
		{
			name:    "edit step present",
			steps:   []StrategyStep{{Type: StepEditFile, File: "app.py", OldCode: "a", NewCode: "b"}},
			wantErr: false,
		},
		{
			name:    "only add_test steps",
			steps:   []StrategyStep{{Type: StepAddTest, File: "test_app.py", Code: "def test(): pass"}},
			wantErr: true,
		},
		{
			name:    "no steps",
			steps:   nil,
			wantErr: true,
		},
		{
			name: "mixed steps",
			steps: []StrategyStep{
				{Type: StepAddTest, File: "test_app.py", Code: "def test(): pass"},
				{Type: StepEditFile, File: "app.py", OldCode: "a", NewCode: "b"},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &FixStrategy{Steps: tt.steps}
			err := s.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrIncompleteStrategy)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
