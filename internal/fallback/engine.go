// Package fallback executes one generation request against the ordered
// provider chain configured for a (service kind, tier) pair. Candidates
// are tried strictly in rank order: open circuit breakers are skipped,
// the first success wins, and failures back off exponentially before the
// next candidate. The full attempt history is returned either way.
package fallback

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/iamade/litinkapp-sub002/internal/circuitbreaker"
	"github.com/iamade/litinkapp-sub002/internal/domain"
	"github.com/iamade/litinkapp-sub002/internal/metrics"
	"github.com/iamade/litinkapp-sub002/internal/telemetry"
	"github.com/iamade/litinkapp-sub002/internal/tierconfig"
)

// Invoker performs the actual provider call for one candidate. The
// engine treats the payload and result as opaque; it only inspects the
// error. Implementations tag errors via domain.Retryable / domain.Fatal.
type Invoker interface {
	Invoke(ctx context.Context, candidate domain.ProviderCandidate, payload json.RawMessage) (*domain.GenerationResult, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, candidate domain.ProviderCandidate, payload json.RawMessage) (*domain.GenerationResult, error)

func (f InvokerFunc) Invoke(ctx context.Context, candidate domain.ProviderCandidate, payload json.RawMessage) (*domain.GenerationResult, error) {
	return f(ctx, candidate, payload)
}

// Config defines engine behavior.
type Config struct {
	// BaseBackoff is the sleep after the rank-0 candidate fails; it
	// doubles per rank (1s, then 2s). No sleep after the last candidate.
	BaseBackoff time.Duration
}

// DefaultConfig returns sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		BaseBackoff: 1 * time.Second,
	}
}

// Engine walks fallback chains. All state it touches (breaker registry,
// tier table) is injected, so tests substitute deterministic pieces.
type Engine struct {
	table    *tierconfig.Table
	breakers *circuitbreaker.Manager
	config   Config
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithSleeper replaces the inter-candidate sleep, used by tests to avoid
// real delays and to assert that backoff was requested.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// WithClock replaces the latency clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates a fallback engine over the given tier table and breaker
// registry.
func New(table *tierconfig.Table, breakers *circuitbreaker.Manager, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		table:    table,
		breakers: breakers,
		config:   cfg,
		sleep:    sleepCtx,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute resolves the chain for (kind, tier) and tries each candidate in
// rank order. It returns the first successful result, or an exhaustion
// error wrapping the attempt history when every candidate was skipped or
// failed. The returned history is complete in both cases.
func (e *Engine) Execute(
	ctx context.Context,
	kind domain.ServiceKind,
	tier domain.Tier,
	payload json.RawMessage,
	invoker Invoker,
) (*domain.GenerationResult, []domain.AttemptRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "fallback.execute")
	defer span.End()

	chain, err := e.table.Resolve(kind, tier)
	if err != nil {
		return nil, nil, err
	}

	history := make([]domain.AttemptRecord, 0, len(chain))
	var lastErr error
	invoked := false

	for i, candidate := range chain {
		breaker := e.breakers.Get(candidate.ID)

		if allowErr := breaker.Allow(ctx); allowErr != nil {
			history = append(history, domain.AttemptRecord{
				Provider: candidate.ID,
				Rank:     candidate.Rank,
				Outcome:  domain.AttemptSkipped,
				Error:    allowErr.Error(),
			})
			metrics.RecordAttempt(string(kind), candidate.ID, candidate.Rank, string(domain.AttemptSkipped), 0)
			slog.Info("candidate skipped, circuit open",
				"kind", kind,
				"tier", tier,
				"provider", candidate.ID,
				"rank", candidate.Rank)
			continue
		}

		start := e.now()
		result, invokeErr := invoker.Invoke(ctx, candidate, payload)
		elapsed := e.now().Sub(start)
		invoked = true

		if invokeErr == nil {
			breaker.RecordSuccess(ctx)
			history = append(history, domain.AttemptRecord{
				Provider:  candidate.ID,
				Rank:      candidate.Rank,
				Outcome:   domain.AttemptSuccess,
				LatencyMs: elapsed.Milliseconds(),
			})
			metrics.RecordAttempt(string(kind), candidate.ID, candidate.Rank, string(domain.AttemptSuccess), elapsed.Seconds())
			metrics.RecordExecution(string(kind), string(tier), "success")
			telemetry.AddAttemptAttributes(span, candidate.ID, candidate.Rank, string(domain.AttemptSuccess))
			slog.Info("candidate succeeded",
				"kind", kind,
				"tier", tier,
				"provider", candidate.ID,
				"rank", candidate.Rank,
				"latency_ms", elapsed.Milliseconds())
			return result, history, nil
		}

		breaker.RecordFailure(ctx)
		lastErr = invokeErr
		history = append(history, domain.AttemptRecord{
			Provider:  candidate.ID,
			Rank:      candidate.Rank,
			Outcome:   domain.AttemptFailed,
			Error:     invokeErr.Error(),
			LatencyMs: elapsed.Milliseconds(),
		})
		metrics.RecordAttempt(string(kind), candidate.ID, candidate.Rank, string(domain.AttemptFailed), elapsed.Seconds())
		telemetry.AddErrorAttribute(span, invokeErr)
		slog.Warn("candidate failed",
			"kind", kind,
			"tier", tier,
			"provider", candidate.ID,
			"rank", candidate.Rank,
			"latency_ms", elapsed.Milliseconds(),
			"error", invokeErr)

		if i < len(chain)-1 {
			delay := e.config.BaseBackoff << uint(candidate.Rank)
			if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
				return nil, history, sleepErr
			}
		}
	}

	exhaustion := &domain.ExhaustionError{
		Attempts: history,
		Last:     lastErr,
	}
	if !invoked {
		exhaustion.Err = domain.ErrAllCandidatesSkipped
		metrics.RecordExecution(string(kind), string(tier), "all_skipped")
	} else {
		exhaustion.Err = domain.ErrAllCandidatesFailed
		metrics.RecordExecution(string(kind), string(tier), "all_failed")
	}

	slog.Error("fallback chain exhausted",
		"kind", kind,
		"tier", tier,
		"attempts", len(history),
		"error", exhaustion.Err)

	return nil, history, exhaustion
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
