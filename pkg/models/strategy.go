package models

import "errors"

// ErrIncompleteStrategy indicates a strategy without any edit_file step.
var ErrIncompleteStrategy = errors.New("strategy contains no edit_file steps")

// Complexity of a fix strategy as judged by the planning model.
type Complexity string

// Complexity constants.
const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Step action kinds.
const (
	StepEditFile = "edit_file"
	StepAddTest  = "add_test"
)

// StrategyStep is one action inside a fix strategy. Type selects which
// fields are meaningful: edit_file uses File/OldCode/NewCode, add_test
// uses File/Code.
type StrategyStep struct {
	Type        string `json:"action"`
	File        string `json:"file"`
	OldCode     string `json:"old_code,omitempty"`
	NewCode     string `json:"new_code,omitempty"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

// FixStrategy is the plan produced by the planning stage and consumed by
// the implementation stage.
type FixStrategy struct {
	Complexity       Complexity     `json:"complexity"`
	Description      string         `json:"description"`
	FilesAffected    []string       `json:"files_affected"`
	Steps            []StrategyStep `json:"steps"`
	RequiresApproval bool           `json:"requires_approval"`
	RollbackPlan     string         `json:"rollback_plan"`
	EstimatedTokens  int            `json:"estimated_tokens,omitempty"`
}

// EditSteps returns the edit_file steps in order.
func (s *FixStrategy) EditSteps() []StrategyStep {
	var steps []StrategyStep
	for _, step := range s.Steps {
		if step.Type == StepEditFile {
			steps = append(steps, step)
		}
	}
	return steps
}

// Validate rejects strategies without at least one edit_file step.
func (s *FixStrategy) Validate() error {
	if len(s.EditSteps()) == 0 {
		return ErrIncompleteStrategy
	}
	return nil
}
