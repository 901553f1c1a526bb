package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genfallback_attempts_total",
			Help: "Total provider attempts by chain rank and outcome",
		},
		[]string{"kind", "provider", "rank", "outcome"},
	)

	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genfallback_attempt_duration_seconds",
			Help:    "Provider attempt duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind", "provider", "rank"},
	)

	FallbackExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genfallback_executions_total",
			Help: "Fallback chain executions by final outcome",
		},
		[]string{"kind", "tier", "outcome"},
	)

	TasksTerminalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genfallback_tasks_terminal_total",
			Help: "Tasks reaching a terminal status",
		},
		[]string{"kind", "tier", "status"},
	)

	TaskRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genfallback_task_retries_total",
			Help: "Task-level retries scheduled",
		},
		[]string{"kind", "tier"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genfallback_task_duration_seconds",
			Help:    "Wall time from task creation to terminal status",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"kind", "tier", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genfallback_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open)",
		},
		[]string{"provider"},
	)

	QueueDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genfallback_queue_deliveries_total",
			Help: "Task queue deliveries by result",
		},
		[]string{"result"},
	)

	TasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genfallback_tasks_submitted_total",
			Help: "Tasks accepted for processing",
		},
		[]string{"kind", "tier"},
	)
)

func RecordAttempt(kind, provider string, rank int, outcome string, durationSec float64) {
	r := rankLabel(rank)
	AttemptsTotal.WithLabelValues(kind, provider, r, outcome).Inc()
	if outcome != "skipped" {
		AttemptDuration.WithLabelValues(kind, provider, r).Observe(durationSec)
	}
}

func RecordExecution(kind, tier, outcome string) {
	FallbackExecutionsTotal.WithLabelValues(kind, tier, outcome).Inc()
}

func RecordTaskTerminal(kind, tier, status string, durationSec float64) {
	TasksTerminalTotal.WithLabelValues(kind, tier, status).Inc()
	TaskDuration.WithLabelValues(kind, tier, status).Observe(durationSec)
}

func RecordTaskRetry(kind, tier string) {
	TaskRetriesTotal.WithLabelValues(kind, tier).Inc()
}

func RecordTaskSubmitted(kind, tier string) {
	TasksSubmittedTotal.WithLabelValues(kind, tier).Inc()
}

func RecordQueueDelivery(result string) {
	QueueDeliveriesTotal.WithLabelValues(result).Inc()
}

func SetCircuitBreakerState(provider string, state int) {
	CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

func rankLabel(rank int) string {
	switch rank {
	case 0:
		return "primary"
	case 1:
		return "fallback"
	case 2:
		return "fallback2"
	default:
		return "unknown"
	}
}
