package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/iamade/litinkapp-sub002/internal/domain"
	"github.com/iamade/litinkapp-sub002/internal/fallback"
	"github.com/iamade/litinkapp-sub002/internal/metrics"
	"github.com/iamade/litinkapp-sub002/internal/notifications"
	"github.com/iamade/litinkapp-sub002/internal/queue"
	"github.com/iamade/litinkapp-sub002/internal/repository"
	"github.com/iamade/litinkapp-sub002/internal/telemetry"
)

// RunnerConfig holds the retry schedule and worker sizing.
//
// Task retry backoff and the engine's inter-candidate backoff are
// independent schedules. The candidate backoff is a short bounded
// in-worker sleep (at most base<<0 + base<<1 per execution); the task
// backoff is queue re-delivery delay. Combined worst case per task:
// MaxRetries x (RetryCapDelay x JitterMax + candidate backoffs) of delay
// on top of provider latencies.
type RunnerConfig struct {
	// MaxRetries is the task-level retry budget (whole-chain re-runs).
	MaxRetries int

	// RetryBaseDelay seeds min(cap, base * 2^retryCount) * jitter.
	RetryBaseDelay time.Duration

	// RetryCapDelay bounds the exponential growth.
	RetryCapDelay time.Duration

	// JitterMin and JitterMax bound the multiplicative jitter.
	JitterMin float64
	JitterMax float64

	// WorkerCount is the number of concurrent queue consumers.
	WorkerCount int

	// StuckTaskAge is how long a task may sit in_progress before the
	// recovery sweep resets it to pending.
	StuckTaskAge time.Duration

	// StuckTaskCheckInterval is how often the sweep runs.
	StuckTaskCheckInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxRetries:             3,
		RetryBaseDelay:         5 * time.Second,
		RetryCapDelay:          5 * time.Minute,
		JitterMin:              0.5,
		JitterMax:              1.5,
		WorkerCount:            4,
		StuckTaskAge:           30 * time.Minute,
		StuckTaskCheckInterval: 5 * time.Minute,
	}
}

// Runner processes generation tasks: it claims a task, runs one fallback
// execution, and either completes the task, fails it, or schedules a
// retry through the delay queue. Exactly one runner processes a given
// task at a time; the store's conditional claim makes duplicate queue
// deliveries no-ops.
type Runner struct {
	store    repository.TaskRepository
	queue    queue.Queue
	engine   *fallback.Engine
	invoker  fallback.Invoker
	notifier notifications.Notifier
	config   RunnerConfig
	now      func() time.Time
	jitter   func() float64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithNotifier wires terminal-state notifications.
func WithNotifier(n notifications.Notifier) RunnerOption {
	return func(r *Runner) {
		r.notifier = n
	}
}

// WithRunnerClock injects the clock used for task duration metrics.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// WithJitterSource injects the jitter factor source, used by tests to
// make retry delays deterministic.
func WithJitterSource(jitter func() float64) RunnerOption {
	return func(r *Runner) {
		r.jitter = jitter
	}
}

func NewRunner(
	store repository.TaskRepository,
	q queue.Queue,
	engine *fallback.Engine,
	invoker fallback.Invoker,
	cfg RunnerConfig,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		store:   store,
		queue:   q,
		engine:  engine,
		invoker: invoker,
		config:  cfg,
		now:     time.Now,
	}
	r.jitter = func() float64 {
		return cfg.JitterMin + rand.Float64()*(cfg.JitterMax-cfg.JitterMin)
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Process handles one queue delivery end to end. A nil return means the
// delivery is done and the message can be deleted; an error means the
// store was unreachable and the message should be redelivered.
func (r *Runner) Process(ctx context.Context, msg queue.TaskMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "task.process")
	defer span.End()

	logger := slog.With("task_id", msg.TaskID, "kind", msg.Kind, "tier", msg.Tier)

	task, err := r.store.Claim(ctx, msg.TaskID)
	if errors.Is(err, domain.ErrTaskAlreadyClaimed) {
		logger.Debug("task not pending, skipping delivery")
		return nil
	}
	if errors.Is(err, domain.ErrTaskNotFound) {
		logger.Warn("task missing from store, dropping delivery")
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim task: %w", err)
	}

	telemetry.AddTaskAttributes(span, task.ID.String(), string(task.Kind), string(task.Tier), task.RetryCount)
	logger = logger.With("retry_count", task.RetryCount)
	logger.Info("processing task")

	result, records, execErr := r.engine.Execute(ctx, task.Kind, task.Tier, task.Payload, r.invoker)
	history := append(task.Attempts, records...)

	if execErr == nil {
		if err := r.store.MarkCompleted(ctx, task.ID, result.ArtifactURL, history); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		r.finishTask(ctx, task, domain.TaskStatusCompleted, result.ArtifactURL, "", len(records))
		return nil
	}

	if !domain.IsRetryable(execErr) {
		logger.Warn("fatal error, failing task without retry", "error", execErr)
		if err := r.store.MarkFailed(ctx, task.ID, execErr.Error(), history); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		r.finishTask(ctx, task, domain.TaskStatusFailed, "", execErr.Error(), len(records))
		return nil
	}

	if task.RetryCount >= task.MaxRetries {
		logger.Error("retry budget exhausted, failing task",
			"max_retries", task.MaxRetries,
			"error", execErr)
		if err := r.store.MarkFailed(ctx, task.ID, execErr.Error(), history); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		r.finishTask(ctx, task, domain.TaskStatusFailed, "", execErr.Error(), len(records))
		return nil
	}

	newCount := task.RetryCount + 1
	delay := r.retryDelay(task.RetryCount)

	if err := r.store.ScheduleRetry(ctx, task.ID, newCount, execErr.Error(), history); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}

	retryMsg := queue.TaskMessage{
		TaskID:    task.ID,
		Kind:      task.Kind,
		Tier:      task.Tier,
		Attempt:   newCount,
		CreatedAt: task.CreatedAt,
	}
	if err := r.queue.Send(ctx, retryMsg, delay); err != nil {
		// The task stays pending; the stale-pending sweep re-enqueues it.
		logger.Error("failed to enqueue retry", "error", err)
		return fmt.Errorf("enqueue retry: %w", err)
	}

	metrics.RecordTaskRetry(string(task.Kind), string(task.Tier))
	logger.Info("task retry scheduled",
		"retry", newCount,
		"delay", delay,
		"chain_attempts", len(records),
		"error", execErr)

	return nil
}

// retryDelay computes min(cap, base * 2^retryCount) * jitter(min..max).
func (r *Runner) retryDelay(retryCount int) time.Duration {
	backoff := float64(r.config.RetryBaseDelay) * math.Pow(2, float64(retryCount))
	if capDelay := float64(r.config.RetryCapDelay); backoff > capDelay {
		backoff = capDelay
	}
	return time.Duration(backoff * r.jitter())
}

func (r *Runner) finishTask(ctx context.Context, task *domain.GenerationTask, status domain.TaskStatus, resultURL, errMsg string, chainAttempts int) {
	elapsed := r.now().Sub(task.CreatedAt)
	metrics.RecordTaskTerminal(string(task.Kind), string(task.Tier), string(status), elapsed.Seconds())

	slog.Info("task reached terminal status",
		"task_id", task.ID,
		"kind", task.Kind,
		"tier", task.Tier,
		"status", status,
		"retry_count", task.RetryCount,
		"chain_attempts", chainAttempts,
		"duration_ms", elapsed.Milliseconds())

	if r.notifier == nil {
		return
	}

	notifType := notifications.NotificationTaskCompleted
	if status == domain.TaskStatusFailed {
		notifType = notifications.NotificationTaskFailed
	}
	notif := notifications.Notification{
		Type:    notifType,
		TaskID:  task.ID.String(),
		Message: fmt.Sprintf("task %s %s", task.ID, status),
		Data: map[string]interface{}{
			"kind":        string(task.Kind),
			"tier":        string(task.Tier),
			"retry_count": task.RetryCount,
			"result_url":  resultURL,
			"error":       errMsg,
		},
	}
	if err := r.notifier.Send(ctx, notif); err != nil {
		slog.Warn("failed to send task notification", "task_id", task.ID, "error", err)
	}
}
