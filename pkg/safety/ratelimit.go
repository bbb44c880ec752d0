// Package safety contains the gates that bound what the orchestrator
// may do: a persistent daily cost budget, per-operation hourly rate
// limits, and the human approval policy.
package safety

import (
	"sync"
	"time"
)

// window is the sliding rate-limit window size.
const window = time.Hour

// RateLimiter enforces per-operation sliding hourly windows. Operations
// without a configured limit are unbounded.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]int
	events map[string][]time.Time
	now    func() time.Time
}

// NewRateLimiter builds a limiter from an operation→hourly-cap table.
func NewRateLimiter(limits map[string]int) *RateLimiter {
	return &RateLimiter{
		limits: limits,
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Check reports whether one more event of op would be admitted.
func (r *RateLimiter) Check(op string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	limit, ok := r.limits[op]
	if !ok {
		return true
	}
	return len(r.prune(op)) < limit
}

// Record registers one event of op against the window.
func (r *RateLimiter) Record(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[op] = append(r.prune(op), r.now())
}

// Remaining returns how many more events of op the window admits.
// Unlimited operations report -1.
func (r *RateLimiter) Remaining(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	limit, ok := r.limits[op]
	if !ok {
		return -1
	}
	remaining := limit - len(r.prune(op))
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// WaitTime returns how long until the next event of op would be
// admitted; zero when one is admissible now.
func (r *RateLimiter) WaitTime(op string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	limit, ok := r.limits[op]
	if !ok {
		return 0
	}
	events := r.prune(op)
	if len(events) < limit {
		return 0
	}
	// The oldest event leaving the window frees a slot.
	return events[0].Add(window).Sub(r.now())
}

// OpStats describes one operation's window state.
type OpStats struct {
	Limit     int           `json:"limit"`
	Used      int           `json:"used"`
	Remaining int           `json:"remaining"`
	WaitTime  time.Duration `json:"wait_time"`
}

// Stats returns the current window state for every limited operation.
func (r *RateLimiter) Stats() map[string]OpStats {
	r.mu.Lock()
	limits := make(map[string]int, len(r.limits))
	for op, l := range r.limits {
		limits[op] = l
	}
	r.mu.Unlock()

	stats := make(map[string]OpStats, len(limits))
	for op, limit := range limits {
		used := limit - r.Remaining(op)
		stats[op] = OpStats{
			Limit:     limit,
			Used:      used,
			Remaining: r.Remaining(op),
			WaitTime:  r.WaitTime(op),
		}
	}
	return stats
}

// prune drops events older than the window. Caller holds the lock.
func (r *RateLimiter) prune(op string) []time.Time {
	cutoff := r.now().Add(-window)
	events := r.events[op]
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	events = events[i:]
	r.events[op] = events
	return events
}
