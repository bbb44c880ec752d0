// Package metrics exposes Prometheus instrumentation for the
// orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsTotal counts sessions reaching each terminal status.
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remedy",
		Name:      "sessions_total",
		Help:      "Fix sessions finished, by terminal status.",
	}, []string{"status"})

	// SessionDuration observes wall-clock session time.
	SessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "remedy",
		Name:      "session_duration_seconds",
		Help:      "Wall-clock duration of finished sessions.",
		Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
	}, []string{"status"})

	// StageFailures counts failures recorded per stage.
	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remedy",
		Name:      "stage_failures_total",
		Help:      "Stage failures recorded in the learning store.",
	}, []string{"stage"})

	// LLMCalls counts completion calls by operation.
	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remedy",
		Name:      "llm_calls_total",
		Help:      "LLM completion calls, by operation.",
	}, []string{"operation"})

	// LLMTokens counts tokens by direction.
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remedy",
		Name:      "llm_tokens_total",
		Help:      "LLM tokens consumed, by direction.",
	}, []string{"direction"})

	// LLMCost accumulates USD spend.
	LLMCost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "remedy",
		Name:      "llm_cost_usd_total",
		Help:      "Accumulated LLM spend in USD.",
	})

	// QueueDepth tracks queued sessions.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "remedy",
		Name:      "queue_depth",
		Help:      "Sessions waiting in the queue.",
	})

	// ActiveSessions tracks claimed in-flight sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "remedy",
		Name:      "active_sessions",
		Help:      "Sessions currently being processed.",
	})

	// CIRepairAttempts counts CI repair iterations.
	CIRepairAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "remedy",
		Name:      "ci_repair_attempts_total",
		Help:      "CI repair iterations across all sessions.",
	})

	// LessonsApplied counts lessons injected into strategy prompts.
	LessonsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "remedy",
		Name:      "lessons_applied_total",
		Help:      "Lessons injected into strategy prompts.",
	})
)

// RecordLLMUsage updates the call, token, and cost series for one
// completion.
func RecordLLMUsage(operation string, inputTokens, outputTokens int, cost float64) {
	LLMCalls.WithLabelValues(operation).Inc()
	LLMTokens.WithLabelValues("input").Add(float64(inputTokens))
	LLMTokens.WithLabelValues("output").Add(float64(outputTokens))
	LLMCost.Add(cost)
}
