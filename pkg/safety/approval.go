package safety

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// ApprovalGate decides whether a strategy needs human sign-off before
// implementation.
type ApprovalGate struct {
	requireCategories map[string]bool
	approveSeverities map[string]bool
	approveCategories map[string]bool
	sensitivePatterns []string
}

// NewApprovalGate builds the gate from the safety configuration. Any
// severity outside AutoApproveSeverities triggers the severity rule;
// AutoApproveCategories can waive that rule for non-critical issues.
func NewApprovalGate(cfg *config.SafetyConfig) *ApprovalGate {
	g := &ApprovalGate{
		requireCategories: make(map[string]bool),
		approveSeverities: make(map[string]bool),
		approveCategories: make(map[string]bool),
		sensitivePatterns: cfg.SensitiveFilePatterns,
	}
	for _, c := range cfg.RequireApprovalCategories {
		g.requireCategories[c] = true
	}
	for _, s := range cfg.AutoApproveSeverities {
		g.approveSeverities[s] = true
	}
	for _, c := range cfg.AutoApproveCategories {
		g.approveCategories[c] = true
	}
	return g
}

// severityNeedsApproval applies the severity rule: anything above the
// auto-approve severities needs a human, unless the category is listed
// as auto-approvable. Critical is never waived.
func (g *ApprovalGate) severityNeedsApproval(severity models.Severity, category models.Category) bool {
	if g.approveSeverities[string(severity)] {
		return false
	}
	if severity != models.SeverityCritical && g.approveCategories[string(category)] {
		return false
	}
	return true
}

// RequiresApproval returns whether the session's strategy needs a human
// verdict, and the accumulated reasons.
func (g *ApprovalGate) RequiresApproval(session *models.FixSession, strategy *models.FixStrategy) (bool, string) {
	var reasons []string

	if g.requireCategories[string(session.Issue.Category)] {
		reasons = append(reasons, fmt.Sprintf("Category %q requires approval", session.Issue.Category))
	}
	if g.severityNeedsApproval(session.Issue.Severity, session.Issue.Category) {
		reasons = append(reasons, fmt.Sprintf("Severity %q requires approval", session.Issue.Severity))
	}
	if strategy.Complexity == models.ComplexityComplex {
		reasons = append(reasons, "Complex change requires approval")
	}
	for _, file := range strategy.FilesAffected {
		fileLower := strings.ToLower(file)
		for _, pattern := range g.sensitivePatterns {
			if strings.Contains(fileLower, pattern) {
				reasons = append(reasons, fmt.Sprintf("Sensitive file %q requires approval", file))
				break
			}
		}
	}
	if strategy.RequiresApproval {
		reasons = append(reasons, "Strategy flagged as requiring approval")
	}

	if len(reasons) > 0 {
		return true, strings.Join(reasons, "; ")
	}
	return false, "Auto-approved: low risk change"
}
