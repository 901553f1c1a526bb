package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAttempt(t *testing.T) {
	// Reset metrics for test isolation
	AttemptsTotal.Reset()
	AttemptDuration.Reset()

	RecordAttempt("image", "openai/dall-e-3", 0, "success", 2.5)

	count := testutil.ToFloat64(AttemptsTotal.WithLabelValues("image", "openai/dall-e-3", "primary", "success"))
	if count != 1 {
		t.Errorf("AttemptsTotal = %v, want 1", count)
	}
}

func TestRecordAttempt_SkippedHasNoDuration(t *testing.T) {
	AttemptsTotal.Reset()
	AttemptDuration.Reset()

	RecordAttempt("image", "openai/dall-e-3", 1, "skipped", 0)

	count := testutil.ToFloat64(AttemptsTotal.WithLabelValues("image", "openai/dall-e-3", "fallback", "skipped"))
	if count != 1 {
		t.Errorf("AttemptsTotal = %v, want 1", count)
	}

	samples := testutil.CollectAndCount(AttemptDuration)
	if samples != 0 {
		t.Errorf("AttemptDuration has %d series, want 0 for skipped attempts", samples)
	}
}

func TestRecordExecution(t *testing.T) {
	FallbackExecutionsTotal.Reset()

	RecordExecution("video", "premium", "success")
	RecordExecution("video", "premium", "success")
	RecordExecution("video", "premium", "exhausted")

	success := testutil.ToFloat64(FallbackExecutionsTotal.WithLabelValues("video", "premium", "success"))
	if success != 2 {
		t.Errorf("success executions = %v, want 2", success)
	}
	exhausted := testutil.ToFloat64(FallbackExecutionsTotal.WithLabelValues("video", "premium", "exhausted"))
	if exhausted != 1 {
		t.Errorf("exhausted executions = %v, want 1", exhausted)
	}
}

func TestRecordTaskTerminal(t *testing.T) {
	TasksTerminalTotal.Reset()
	TaskDuration.Reset()

	RecordTaskTerminal("script", "free", "completed", 12.0)

	count := testutil.ToFloat64(TasksTerminalTotal.WithLabelValues("script", "free", "completed"))
	if count != 1 {
		t.Errorf("TasksTerminalTotal = %v, want 1", count)
	}
}

func TestRecordTaskRetry(t *testing.T) {
	TaskRetriesTotal.Reset()

	RecordTaskRetry("audio", "basic")
	RecordTaskRetry("audio", "basic")

	count := testutil.ToFloat64(TaskRetriesTotal.WithLabelValues("audio", "basic"))
	if count != 2 {
		t.Errorf("TaskRetriesTotal = %v, want 2", count)
	}
}

func TestSetCircuitBreakerState(t *testing.T) {
	CircuitBreakerState.Reset()

	SetCircuitBreakerState("openai/gpt-4o", 1)

	state := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("openai/gpt-4o"))
	if state != 1 {
		t.Errorf("CircuitBreakerState = %v, want 1", state)
	}

	SetCircuitBreakerState("openai/gpt-4o", 0)

	state = testutil.ToFloat64(CircuitBreakerState.WithLabelValues("openai/gpt-4o"))
	if state != 0 {
		t.Errorf("CircuitBreakerState = %v, want 0", state)
	}
}

func TestRankLabel(t *testing.T) {
	tests := []struct {
		rank     int
		expected string
	}{
		{0, "primary"},
		{1, "fallback"},
		{2, "fallback2"},
		{7, "unknown"},
	}

	for _, tt := range tests {
		if got := rankLabel(tt.rank); got != tt.expected {
			t.Errorf("rankLabel(%d) = %q, want %q", tt.rank, got, tt.expected)
		}
	}
}
