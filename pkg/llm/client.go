// Package llm abstracts the language-model vendor behind a single
// request/response operation with token accounting.
package llm

import (
	"context"
	"errors"
)

// Stall errors: the gated operation cannot proceed right now. Sessions
// hitting these are parked, not failed.
var (
	// ErrBudgetExhausted indicates the daily cost budget is spent.
	ErrBudgetExhausted = errors.New("daily cost budget exhausted")

	// ErrRateLimited indicates the llm_query window is full.
	ErrRateLimited = errors.New("llm query rate limit reached")
)

// Request is one completion request.
type Request struct {
	// Prompt is the single user message.
	Prompt string

	// MaxTokens bounds the completion length.
	MaxTokens int

	// Model overrides the client's default when non-empty.
	Model string

	// SessionID and Operation label the usage record.
	SessionID string
	Operation string
}

// Response carries the completion and its usage counts.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int

	// Cost in USD, filled by the accounting decorator.
	Cost float64
}

// Client is the minimal LLM operation the orchestrator depends on.
type Client interface {
	Ask(ctx context.Context, req Request) (*Response, error)
}
