package engine

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/remedy/pkg/jsonx"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// classification is the triage model's answer: whether the report is
// auto-fixable at all, plus refined severity, category, and complexity.
type classification struct {
	IssueType       string `json:"issue_type"`
	CanAutoFix      bool   `json:"can_auto_fix"`
	Reason          string `json:"reason"`
	SuggestedAction string `json:"suggested_action"`
	Severity        string `json:"severity"`
	Category        string `json:"category"`
	Complexity      string `json:"complexity"`
}

// analysisResult is the debugging model's answer.
type analysisResult struct {
	RootCause     string   `json:"root_cause"`
	FilesToModify []string `json:"files_to_modify"`
	Approach      string   `json:"suggested_approach"`
}

// ciRepairEdit is the CI repair model's answer.
type ciRepairEdit struct {
	File    string `json:"file"`
	OldCode string `json:"old_code"`
	NewCode string `json:"new_code"`
}

func parseClassification(text string) (*classification, error) {
	var c classification
	if err := jsonx.Decode(text, &c); err != nil {
		return nil, fmt.Errorf("failed to parse classification: %w", err)
	}
	c.IssueType = strings.ToLower(strings.TrimSpace(c.IssueType))
	c.SuggestedAction = strings.ToLower(strings.TrimSpace(c.SuggestedAction))
	c.Severity = strings.ToLower(strings.TrimSpace(c.Severity))
	c.Category = strings.ToLower(strings.TrimSpace(c.Category))
	c.Complexity = strings.ToLower(strings.TrimSpace(c.Complexity))
	if c.IssueType == "" {
		c.IssueType = "unclear"
	}
	return &c, nil
}

func parseAnalysis(text string) (*analysisResult, error) {
	var a analysisResult
	if err := jsonx.Decode(text, &a); err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}
	if a.RootCause == "" {
		return nil, fmt.Errorf("analysis missing root cause")
	}
	return &a, nil
}

// parseStrategy decodes and sanity-checks a fix strategy: steps with
// missing fields are dropped and at least one edit_file step must
// survive.
func parseStrategy(text string) (*models.FixStrategy, error) {
	var s models.FixStrategy
	if err := jsonx.Decode(text, &s); err != nil {
		return nil, fmt.Errorf("failed to parse strategy: %w", err)
	}

	var steps []models.StrategyStep
	for _, step := range s.Steps {
		switch step.Type {
		case models.StepEditFile:
			if step.File != "" && step.OldCode != "" && step.NewCode != "" {
				steps = append(steps, step)
			}
		case models.StepAddTest:
			if step.File != "" && step.Code != "" {
				steps = append(steps, step)
			}
		}
	}
	s.Steps = steps

	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.Complexity == "" {
		s.Complexity = models.ComplexityModerate
	}
	return &s, nil
}

func parseCIRepair(text string) (*ciRepairEdit, error) {
	var e ciRepairEdit
	if err := jsonx.Decode(text, &e); err != nil {
		return nil, fmt.Errorf("failed to parse CI repair edit: %w", err)
	}
	if e.File == "" || e.OldCode == "" || e.NewCode == "" {
		return nil, fmt.Errorf("CI repair edit missing fields")
	}
	return &e, nil
}
