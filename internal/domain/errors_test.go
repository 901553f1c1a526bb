package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestIsRetryable_ProviderErrors(t *testing.T) {
	if !IsRetryable(Retryable(errors.New("rate limited"))) {
		t.Error("expected retryable provider error to be retryable")
	}
	if IsRetryable(Fatal(errors.New("invalid prompt"))) {
		t.Error("expected fatal provider error to not be retryable")
	}

	// Wrapping must not hide the classification.
	wrapped := fmt.Errorf("invoke: %w", Fatal(errors.New("content policy")))
	if IsRetryable(wrapped) {
		t.Error("expected wrapped fatal error to not be retryable")
	}
}

func TestIsRetryable_Exhaustion(t *testing.T) {
	allSkipped := &ExhaustionError{
		Err:      ErrAllCandidatesSkipped,
		Attempts: []AttemptRecord{{Provider: "a/1", Outcome: AttemptSkipped}},
	}
	if !IsRetryable(allSkipped) {
		t.Error("expected all-skipped exhaustion to be retryable")
	}

	failedRetryable := &ExhaustionError{
		Err:      ErrAllCandidatesFailed,
		Attempts: []AttemptRecord{{Provider: "a/1", Outcome: AttemptFailed}},
		Last:     Retryable(errors.New("upstream timeout")),
	}
	if !IsRetryable(failedRetryable) {
		t.Error("expected exhaustion ending in retryable error to be retryable")
	}

	failedFatal := &ExhaustionError{
		Err:      ErrAllCandidatesFailed,
		Attempts: []AttemptRecord{{Provider: "a/1", Outcome: AttemptFailed}},
		Last:     Fatal(errors.New("unauthorized")),
	}
	if IsRetryable(failedFatal) {
		t.Error("expected exhaustion ending in fatal error to not be retryable")
	}
}

func TestIsRetryable_UntaggedErrors(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("expected nil to not be retryable")
	}
	if !IsRetryable(context.DeadlineExceeded) {
		t.Error("expected deadline exceeded to be retryable")
	}
	var netErr net.Error = &net.DNSError{Err: "no such host", IsTimeout: true}
	if !IsRetryable(fmt.Errorf("dial: %w", netErr)) {
		t.Error("expected net error to be retryable")
	}
	if !IsRetryable(errors.New("something unexpected")) {
		t.Error("expected unknown error to default to retryable")
	}
}

func TestExhaustionError_Unwrap(t *testing.T) {
	err := &ExhaustionError{Err: ErrAllCandidatesFailed}
	if !errors.Is(err, ErrAllCandidatesFailed) {
		t.Error("expected errors.Is to see ErrAllCandidatesFailed")
	}
	if errors.Is(err, ErrAllCandidatesSkipped) {
		t.Error("did not expect errors.Is to match ErrAllCandidatesSkipped")
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, false},
		{TaskStatusInProgress, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("Terminal(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestServiceKindAndTier_Valid(t *testing.T) {
	for _, kind := range Kinds() {
		if !kind.Valid() {
			t.Errorf("expected kind %q to be valid", kind)
		}
	}
	if ServiceKind("music").Valid() {
		t.Error("expected unknown kind to be invalid")
	}

	for _, tier := range Tiers() {
		if !tier.Valid() {
			t.Errorf("expected tier %q to be valid", tier)
		}
	}
	if Tier("platinum").Valid() {
		t.Error("expected unknown tier to be invalid")
	}
}

func TestGenerationTask_Fields(t *testing.T) {
	now := time.Now()
	task := GenerationTask{
		Status:     TaskStatusPending,
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if task.RetryCount != 0 {
		t.Errorf("expected new task retry count 0, got %d", task.RetryCount)
	}
	if task.LastAttemptedAt != nil {
		t.Error("expected new task to have no last attempt")
	}
}
