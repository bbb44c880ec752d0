package slack

import (
	"context"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token   string
	Channel string
}

// Service handles Slack notification delivery for fix sessions.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates a new Slack notification service. Returns nil if
// Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client: NewClient(cfg.Token, cfg.Channel),
		logger: slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client) *Service {
	return &Service{
		client: client,
		logger: slog.Default().With("component", "slack-service"),
	}
}

// NotifyIssueQueued announces a new session and returns the message
// timestamp used as the session's notification thread. Fail-open:
// errors are logged, never returned.
func (s *Service) NotifyIssueQueued(ctx context.Context, session *models.FixSession) string {
	if s == nil {
		return ""
	}
	ts, err := s.client.PostMessage(ctx, BuildIssueMessage(session), "", 5*time.Second)
	if err != nil {
		s.logger.Error("Failed to send issue notification",
			"session_id", session.ID, "error", err)
		return ""
	}
	return ts
}

// NotifyStatus posts a status transition into the session's thread.
func (s *Service) NotifyStatus(ctx context.Context, session *models.FixSession) {
	if s == nil {
		return
	}
	if _, err := s.client.PostMessage(ctx, BuildStatusMessage(session), session.ThreadID, 5*time.Second); err != nil {
		s.logger.Warn("Failed to send status notification",
			"session_id", session.ID, "status", session.Status, "error", err)
	}
}

// NotifyApprovalNeeded asks a human to approve the proposed fix.
func (s *Service) NotifyApprovalNeeded(ctx context.Context, session *models.FixSession, reason string) {
	if s == nil {
		return
	}
	if _, err := s.client.PostMessage(ctx, BuildApprovalMessage(session, reason), session.ThreadID, 10*time.Second); err != nil {
		s.logger.Error("Failed to send approval request",
			"session_id", session.ID, "error", err)
	}
}

// NotifySummary posts the terminal session summary.
func (s *Service) NotifySummary(ctx context.Context, session *models.FixSession) {
	if s == nil {
		return
	}
	if _, err := s.client.PostMessage(ctx, BuildSummaryMessage(session), session.ThreadID, 10*time.Second); err != nil {
		s.logger.Error("Failed to send session summary",
			"session_id", session.ID, "status", session.Status, "error", err)
	}
}

// Warn posts an operational warning, such as the budget alert.
func (s *Service) Warn(ctx context.Context, message string) {
	if s == nil {
		return
	}
	blocks := []goslack.Block{section(":warning: " + message)}
	if _, err := s.client.PostMessage(ctx, blocks, "", 5*time.Second); err != nil {
		s.logger.Warn("Failed to send warning", "error", err)
	}
}
