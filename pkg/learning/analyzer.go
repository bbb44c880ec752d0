package learning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeready-toolchain/remedy/pkg/jsonx"
	"github.com/codeready-toolchain/remedy/pkg/llm"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

const analysisPromptTemplate = `A code fix attempt failed. Analyze the failure and extract a reusable lesson.

Failure stage: %s
Error message: %s
Issue category: %s
Issue title: %s
Files involved: %s
Strategy summary: %s
Additional context: %s

Respond with ONLY a JSON object:
{
  "failure_type": "short machine-friendly label for this kind of failure",
  "root_cause": "one sentence on what actually went wrong",
  "lesson": "one sentence on what to do differently",
  "prevention_rule": "one imperative rule to include in future fix prompts"
}`

// lessonAnalysis is the model's answer to the analysis prompt.
type lessonAnalysis struct {
	FailureType    string `json:"failure_type"`
	RootCause      string `json:"root_cause"`
	Lesson         string `json:"lesson"`
	PreventionRule string `json:"prevention_rule"`
}

// Analyzer turns recorded failures into lessons via the LLM.
type Analyzer struct {
	store  *Store
	client llm.Client
}

// NewAnalyzer builds an analyzer over the store and a gated LLM client.
func NewAnalyzer(store *Store, client llm.Client) *Analyzer {
	return &Analyzer{store: store, client: client}
}

// AnalyzeSession processes every unanalyzed failure of the session:
// each is sent through the analysis prompt, marked analyzed, and its
// lesson stored unless the prevention rule is already known. Returns
// how many new lessons were created. Individual failures that cannot
// be analyzed are skipped, not fatal.
func (a *Analyzer) AnalyzeSession(ctx context.Context, sessionID string) (int, error) {
	failures, err := a.store.UnanalyzedFailures(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	created := 0
	for i := range failures {
		f := &failures[i]
		analysis, err := a.analyzeFailure(ctx, f)
		if err != nil {
			slog.Warn("Failed to analyze failure", "failure_id", f.ID, "error", err)
			continue
		}
		if err := a.store.MarkAnalyzed(ctx, f.ID); err != nil {
			return created, err
		}
		_, isNew, err := a.store.CreateLesson(ctx, &models.Lesson{
			FailureID:      f.ID,
			FailureType:    analysis.FailureType,
			RootCause:      analysis.RootCause,
			Lesson:         analysis.Lesson,
			PreventionRule: analysis.PreventionRule,
		})
		if err != nil {
			return created, err
		}
		if isNew {
			created++
		}
	}
	return created, nil
}

func (a *Analyzer) analyzeFailure(ctx context.Context, f *models.Failure) (*lessonAnalysis, error) {
	prompt := fmt.Sprintf(analysisPromptTemplate,
		f.Stage, f.ErrorMessage, f.IssueCategory, f.IssueTitle,
		strings.Join(f.FilesInvolved, ", "), f.Strategy, f.Context)

	resp, err := a.client.Ask(ctx, llm.Request{
		Prompt:    prompt,
		MaxTokens: 500,
		SessionID: f.SessionID,
		Operation: "learn",
	})
	if err != nil {
		return nil, fmt.Errorf("analysis query failed: %w", err)
	}

	var analysis lessonAnalysis
	if err := jsonx.Decode(resp.Content, &analysis); err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}
	if analysis.PreventionRule == "" || analysis.Lesson == "" {
		return nil, fmt.Errorf("analysis missing lesson or prevention rule")
	}
	return &analysis, nil
}

// FormatLessons renders lessons as a prompt fragment for the strategy
// stage. Empty input yields an empty string.
func FormatLessons(lessons []models.Lesson) string {
	if len(lessons) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Lessons from previous fix attempts, follow these rules:\n")
	for _, l := range lessons {
		fmt.Fprintf(&b, "- %s\n", l.PreventionRule)
	}
	return b.String()
}
