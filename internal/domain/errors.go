package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
	ErrProviderNotFound   = errors.New("provider not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskAlreadyClaimed = errors.New("task already claimed")

	// Exhaustion of one fallback execution. All-skipped means every
	// breaker in the chain was open and nothing was invoked, which
	// signals a systemic outage rather than per-call errors.
	ErrAllCandidatesSkipped = errors.New("all candidates skipped, circuit breakers open")
	ErrAllCandidatesFailed  = errors.New("all candidates failed")
)

// ErrorClass splits provider errors into the two classes the task runner
// cares about: retryable errors drive backoff and re-execution, fatal
// errors short-circuit the task to failed.
type ErrorClass int

const (
	ClassRetryable ErrorClass = iota
	ClassFatal
)

func (c ErrorClass) String() string {
	if c == ClassFatal {
		return "fatal"
	}
	return "retryable"
}

// ProviderError tags an underlying provider failure with its class.
// Provider adapters construct these via Retryable and Fatal.
type ProviderError struct {
	Class ErrorClass
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error: %v", e.Class, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable wraps err as a retryable provider error (timeout, connection
// failure, rate limit, upstream unavailable).
func Retryable(err error) error {
	return &ProviderError{Class: ClassRetryable, Err: err}
}

// Fatal wraps err as a fatal provider error (invalid input, authorization
// failure, content policy rejection). Fatal errors are never retried.
func Fatal(err error) error {
	return &ProviderError{Class: ClassFatal, Err: err}
}

// ExhaustionError is returned when one fallback execution runs out of
// candidates. It carries the full attempt history so the caller can tell
// all-down from all-failed, and the last invocation error so the task
// runner can classify the exhaustion.
type ExhaustionError struct {
	Err      error // ErrAllCandidatesSkipped or ErrAllCandidatesFailed
	Attempts []AttemptRecord
	Last     error // last candidate's error, nil when everything was skipped
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("%v after %d attempts", e.Err, len(e.Attempts))
}

func (e *ExhaustionError) Unwrap() error { return e.Err }

// IsRetryable reports whether err should be retried. An exhaustion is
// classified by its last live failure; all-skipped is retryable because
// an open breaker may close before the next task attempt. Untagged
// errors default to retryable: timeouts, cancelled contexts and
// transport errors usually arrive untagged.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ex *ExhaustionError
	if errors.As(err, &ex) {
		if errors.Is(ex.Err, ErrAllCandidatesSkipped) || ex.Last == nil {
			return true
		}
		return IsRetryable(ex.Last)
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class == ClassRetryable
	}

	// Timeouts, cancelled contexts and transport errors arrive untagged.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Unknown failure behind a fallback chain: retrying is the safer default.
	return true
}
