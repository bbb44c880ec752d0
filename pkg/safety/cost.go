package safety

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// WarnFunc delivers a budget warning to the operator. Best-effort.
type WarnFunc func(ctx context.Context, message string)

// CostTracker persists per-call LLM usage and enforces the daily budget.
// Totals survive restarts because they live in the api_usage table.
type CostTracker struct {
	db         *sql.DB
	dailyLimit float64
	pricing    map[string]config.ModelPricing
	warn       WarnFunc

	mu         sync.Mutex
	warnedDate string
	now        func() time.Time
}

// NewCostTracker builds a tracker over the shared database. warn may be
// nil (warnings logged only).
func NewCostTracker(db *sql.DB, dailyLimit float64, pricing map[string]config.ModelPricing, warn WarnFunc) *CostTracker {
	return &CostTracker{
		db:         db,
		dailyLimit: dailyLimit,
		pricing:    pricing,
		warn:       warn,
		now:        time.Now,
	}
}

// DailyLimit returns the configured budget.
func (t *CostTracker) DailyLimit() float64 {
	return t.dailyLimit
}

// RecordUsage appends one usage row and returns its cost. The first time
// the day's spend crosses 80% of the budget a warning is published.
func (t *CostTracker) RecordUsage(ctx context.Context, model string, inputTokens, outputTokens int, sessionID, operation string) (float64, error) {
	pricing, ok := t.pricing[model]
	if !ok {
		return 0, fmt.Errorf("no pricing configured for model %q", model)
	}
	cost := float64(inputTokens)/1_000_000*pricing.Input + float64(outputTokens)/1_000_000*pricing.Output

	now := t.now()
	today := now.Format("2006-01-02")
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO api_usage (timestamp, date, model, input_tokens, output_tokens, cost, session_id, operation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		now, today, model, inputTokens, outputTokens, cost, sessionID, operation)
	if err != nil {
		return 0, fmt.Errorf("failed to record usage: %w", err)
	}

	todayCost, err := t.TodayCost(ctx)
	if err != nil {
		return cost, err
	}
	if todayCost >= t.dailyLimit*0.8 {
		t.warnOnce(ctx, today, todayCost)
	}

	return cost, nil
}

// TodayCost returns the total spend for the current calendar day.
func (t *CostTracker) TodayCost(ctx context.Context) (float64, error) {
	today := t.now().Format("2006-01-02")
	var total sql.NullFloat64
	err := t.db.QueryRowContext(ctx,
		"SELECT SUM(cost) FROM api_usage WHERE date = ?", today).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to query today's cost: %w", err)
	}
	return total.Float64, nil
}

// Remaining returns the budget left for today, floored at zero.
func (t *CostTracker) Remaining(ctx context.Context) (float64, error) {
	todayCost, err := t.TodayCost(ctx)
	if err != nil {
		return 0, err
	}
	remaining := t.dailyLimit - todayCost
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// CanProceed reports whether an operation with the given estimated cost
// fits the remaining budget.
func (t *CostTracker) CanProceed(ctx context.Context, estimated float64) (bool, error) {
	remaining, err := t.Remaining(ctx)
	if err != nil {
		return false, err
	}
	return remaining > estimated, nil
}

// DailyUsage is one day's aggregated usage.
type DailyUsage struct {
	Date         string  `json:"date"`
	TotalCost    float64 `json:"total_cost"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	NumCalls     int     `json:"num_calls"`
}

// ModelUsage is one model's aggregated usage.
type ModelUsage struct {
	Model     string  `json:"model"`
	TotalCost float64 `json:"total_cost"`
	NumCalls  int     `json:"num_calls"`
}

// UsageStats is the operator-facing spend summary.
type UsageStats struct {
	Daily      []DailyUsage `json:"daily"`
	ByModel    []ModelUsage `json:"by_model"`
	TodayCost  float64      `json:"today_cost"`
	DailyLimit float64      `json:"daily_limit"`
	Remaining  float64      `json:"remaining"`
}

// Stats aggregates usage for the past days.
func (t *CostTracker) Stats(ctx context.Context, days int) (*UsageStats, error) {
	since := t.now().AddDate(0, 0, -days).Format("2006-01-02")

	stats := &UsageStats{DailyLimit: t.dailyLimit}

	rows, err := t.db.QueryContext(ctx, `
		SELECT date, SUM(cost), SUM(input_tokens), SUM(output_tokens), COUNT(*)
		FROM api_usage WHERE date >= ?
		GROUP BY date ORDER BY date DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d DailyUsage
		if err := rows.Scan(&d.Date, &d.TotalCost, &d.InputTokens, &d.OutputTokens, &d.NumCalls); err != nil {
			return nil, err
		}
		stats.Daily = append(stats.Daily, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	modelRows, err := t.db.QueryContext(ctx, `
		SELECT model, SUM(cost), COUNT(*)
		FROM api_usage WHERE date >= ?
		GROUP BY model`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query model usage: %w", err)
	}
	defer modelRows.Close()
	for modelRows.Next() {
		var m ModelUsage
		if err := modelRows.Scan(&m.Model, &m.TotalCost, &m.NumCalls); err != nil {
			return nil, err
		}
		stats.ByModel = append(stats.ByModel, m)
	}
	if err := modelRows.Err(); err != nil {
		return nil, err
	}

	stats.TodayCost, err = t.TodayCost(ctx)
	if err != nil {
		return nil, err
	}
	stats.Remaining, err = t.Remaining(ctx)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// SessionUsage returns the usage rows recorded for one session.
func (t *CostTracker) SessionUsage(ctx context.Context, sessionID string) ([]models.UsageRecord, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, timestamp, date, model, input_tokens, output_tokens, cost, session_id, operation
		FROM api_usage WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Date, &r.Model, &r.InputTokens,
			&r.OutputTokens, &r.Cost, &r.SessionID, &r.Operation); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// warnOnce publishes the 80% warning at most once per day.
func (t *CostTracker) warnOnce(ctx context.Context, today string, todayCost float64) {
	t.mu.Lock()
	already := t.warnedDate == today
	if !already {
		t.warnedDate = today
	}
	t.mu.Unlock()
	if already {
		return
	}

	msg := fmt.Sprintf("Daily API cost at $%.2f of $%.2f limit (%.0f%%)",
		todayCost, t.dailyLimit, todayCost/t.dailyLimit*100)
	slog.Warn("Approaching daily cost limit", "today_cost", todayCost, "limit", t.dailyLimit)
	if t.warn != nil {
		t.warn(ctx, msg)
	}
}
