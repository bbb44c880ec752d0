package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/metrics"
	"github.com/codeready-toolchain/remedy/pkg/safety"
)

// Recorder wraps a Client with the safety gates: the llm_query rate
// window and the daily cost budget are checked before the call, and
// every successful call is written to the usage ledger.
type Recorder struct {
	inner Client
	rate  *safety.RateLimiter
	cost  *safety.CostTracker
}

// NewRecorder builds the gated, accounting client.
func NewRecorder(inner Client, rate *safety.RateLimiter, cost *safety.CostTracker) *Recorder {
	return &Recorder{inner: inner, rate: rate, cost: cost}
}

// Ask gates the request, delegates to the inner client, then records
// the usage and fills in the computed cost.
func (r *Recorder) Ask(ctx context.Context, req Request) (*Response, error) {
	if !r.rate.Check(config.OpLLMQuery) {
		slog.Warn("LLM query rate limit reached",
			"session_id", req.SessionID, "wait", r.rate.WaitTime(config.OpLLMQuery))
		return nil, ErrRateLimited
	}

	ok, err := r.cost.CanProceed(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to check cost budget: %w", err)
	}
	if !ok {
		slog.Warn("Daily cost budget exhausted", "session_id", req.SessionID)
		return nil, ErrBudgetExhausted
	}

	resp, err := r.inner.Ask(ctx, req)
	if err != nil {
		return nil, err
	}

	r.rate.Record(config.OpLLMQuery)
	cost, err := r.cost.RecordUsage(ctx, resp.Model, resp.InputTokens, resp.OutputTokens,
		req.SessionID, req.Operation)
	if err != nil {
		// The completion succeeded, so return it. The ledger row is lost
		// but the session keeps moving.
		slog.Error("Failed to record LLM usage", "session_id", req.SessionID, "error", err)
		return resp, nil
	}
	resp.Cost = cost
	metrics.RecordLLMUsage(req.Operation, resp.InputTokens, resp.OutputTokens, cost)
	return resp, nil
}
