package slack

import (
	"fmt"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

const maxBlockTextLength = 2900

var statusEmoji = map[models.Status]string{
	models.StatusQueued:           ":inbox_tray:",
	models.StatusAnalyzing:        ":mag:",
	models.StatusStrategizing:     ":thought_balloon:",
	models.StatusAwaitingApproval: ":raised_hand:",
	models.StatusImplementing:     ":hammer_and_wrench:",
	models.StatusTesting:          ":test_tube:",
	models.StatusDeploying:        ":rocket:",
	models.StatusValidating:       ":eyes:",
	models.StatusCompleted:        ":white_check_mark:",
	models.StatusFailed:           ":x:",
	models.StatusRolledBack:       ":leftwards_arrow_with_hook:",
	models.StatusBlocked:          ":no_entry_sign:",
}

func emoji(status models.Status) string {
	if e, ok := statusEmoji[status]; ok {
		return e
	}
	return ":question:"
}

// BuildIssueMessage creates blocks announcing a newly queued issue.
func BuildIssueMessage(session *models.FixSession) []goslack.Block {
	issue := session.Issue
	text := fmt.Sprintf(":inbox_tray: *New issue queued* `%s`\n*%s*\nSeverity: %s | Category: %s | Reporter: %s",
		session.ID, issue.Title, issue.Severity, issue.Category, issue.Reporter)
	return []goslack.Block{section(text)}
}

// BuildStatusMessage creates blocks for a status transition update.
func BuildStatusMessage(session *models.FixSession) []goslack.Block {
	text := fmt.Sprintf("%s `%s` is now *%s*", emoji(session.Status), session.ID, session.Status)
	if session.PRURL != "" && session.Status == models.StatusTesting {
		text += fmt.Sprintf("\n<%s|Pull request #%d>", session.PRURL, session.PRNumber)
	}
	return []goslack.Block{section(text)}
}

// BuildApprovalMessage creates blocks asking a human to approve a fix.
func BuildApprovalMessage(session *models.FixSession, reason string) []goslack.Block {
	var b strings.Builder
	fmt.Fprintf(&b, ":raised_hand: *Approval needed* for `%s`\n*%s*\nReason: %s",
		session.ID, session.Issue.Title, reason)
	if session.Strategy != nil {
		fmt.Fprintf(&b, "\n\n*Proposed fix:* %s", truncateForSlack(session.Strategy.Description))
		if len(session.Strategy.FilesAffected) > 0 {
			fmt.Fprintf(&b, "\nFiles: `%s`", strings.Join(session.Strategy.FilesAffected, "`, `"))
		}
	}
	b.WriteString(fmt.Sprintf("\n\nApprove or reject via the API: `POST /api/sessions/%s/approval`", session.ID))
	return []goslack.Block{section(b.String())}
}

// BuildSummaryMessage creates blocks for a terminal session summary.
func BuildSummaryMessage(session *models.FixSession) []goslack.Block {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *Session `%s` %s*\n*%s*",
		emoji(session.Status), session.ID, session.Status, session.Issue.Title)

	if session.PRURL != "" {
		fmt.Fprintf(&b, "\n<%s|Pull request #%d>", session.PRURL, session.PRNumber)
	}
	if len(session.FilesModified) > 0 {
		fmt.Fprintf(&b, "\nFiles: `%s`", strings.Join(session.FilesModified, "`, `"))
	}
	fmt.Fprintf(&b, "\nDuration: %s | Tokens: %d | Cost: $%.4f",
		session.Duration().Round(time.Second), session.TokensUsed, session.AccumulatedCost)
	if session.ErrorMessage != "" {
		fmt.Fprintf(&b, "\n\n*Error:*\n%s", truncateForSlack(session.ErrorMessage))
	}
	return []goslack.Block{section(b.String())}
}

func section(text string) goslack.Block {
	return goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(text), false, false),
		nil, nil,
	)
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
