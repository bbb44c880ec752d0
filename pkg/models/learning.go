package models

import "time"

// Failure stages recorded in the learning store.
const (
	StageClassify  = "classify"
	StageAnalyze   = "analyze"
	StageStrategy  = "strategize"
	StageImplement = "implement"
	StageTest      = "test"
	StageCILint    = "ci_lint"
	StageCITest    = "ci_test"
	StageCIBuild   = "ci_build"
	StageDeploy    = "deploy"
	StageValidate  = "validate"
	StageException = "exception"
)

// Failure is one reportable error produced by a session stage.
type Failure struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	Timestamp     time.Time `json:"timestamp"`
	Stage         string    `json:"stage"`
	ErrorMessage  string    `json:"error_message"`
	IssueCategory Category  `json:"issue_category"`
	IssueTitle    string    `json:"issue_title"`
	FilesInvolved []string  `json:"files_involved,omitempty"`
	Strategy      string    `json:"strategy,omitempty"`
	Context       string    `json:"context,omitempty"`
	Analyzed      bool      `json:"analyzed"`
}

// Lesson is a prevention rule distilled from an analyzed failure. The
// FailureID is zero for manually seeded lessons.
type Lesson struct {
	ID             int64     `json:"id"`
	FailureID      int64     `json:"failure_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	FailureType    string    `json:"failure_type"`
	RootCause      string    `json:"root_cause"`
	Lesson         string    `json:"lesson"`
	PreventionRule string    `json:"prevention_rule"`
	TimesApplied   int       `json:"times_applied"`
	SuccessCount   int       `json:"success_count"`
	FailureCount   int       `json:"failure_count"`
	Active         bool      `json:"active"`
}

// SuccessRate returns the Laplace-smoothed success rate. A lesson that
// has never been scored rates a neutral 0.5.
func (l *Lesson) SuccessRate() float64 {
	total := l.SuccessCount + l.FailureCount
	if total == 0 {
		return 0.5
	}
	return float64(l.SuccessCount) / float64(total)
}

// UsageRecord is one row of LLM usage accounting. Append-only.
type UsageRecord struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Date         string    `json:"date"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	SessionID    string    `json:"session_id"`
	Operation    string    `json:"operation"`
}
