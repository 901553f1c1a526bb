package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/iamade/litinkapp-sub002/internal/circuitbreaker"
	"github.com/iamade/litinkapp-sub002/internal/domain"
	"github.com/iamade/litinkapp-sub002/internal/fallback"
	"github.com/iamade/litinkapp-sub002/internal/notifications"
	"github.com/iamade/litinkapp-sub002/internal/queue"
	"github.com/iamade/litinkapp-sub002/internal/repository"
	"github.com/iamade/litinkapp-sub002/internal/tierconfig"
)

// recordingQueue captures sends so tests can assert retry delays
// without timers.
type recordingQueue struct {
	mu    sync.Mutex
	sends []recordedSend
}

type recordedSend struct {
	msg   queue.TaskMessage
	delay time.Duration
}

func (q *recordingQueue) Send(ctx context.Context, msg queue.TaskMessage, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sends = append(q.sends, recordedSend{msg, delay})
	return nil
}

func (q *recordingQueue) Receive(ctx context.Context, maxMessages int) ([]queue.Delivery, error) {
	return nil, nil
}

func (q *recordingQueue) Delete(ctx context.Context, receiptHandle string) error {
	return nil
}

func (q *recordingQueue) recorded() []recordedSend {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]recordedSend, len(q.sends))
	copy(out, q.sends)
	return out
}

type runnerFixture struct {
	store    *repository.InMemoryTaskRepository
	queue    *recordingQueue
	breakers *circuitbreaker.Manager
	notifier *notifications.RecordingNotifier
	runner   *Runner
}

// newRunnerFixture builds a runner over a three-candidate chain with a
// no-op engine sleeper and fixed jitter of 1.0.
func newRunnerFixture(t *testing.T, invoker fallback.Invoker) *runnerFixture {
	t.Helper()

	chains := map[tierconfig.Key][]string{}
	for _, kind := range domain.Kinds() {
		for _, tier := range domain.Tiers() {
			chains[tierconfig.Key{Kind: kind, Tier: tier}] = []string{"a/1", "b/2", "c/3"}
		}
	}
	table, err := tierconfig.New(chains)
	if err != nil {
		t.Fatalf("test table: %v", err)
	}

	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig())
	engine := fallback.New(table, breakers, fallback.DefaultConfig(),
		fallback.WithSleeper(func(ctx context.Context, d time.Duration) error { return nil }))

	store := repository.NewInMemoryTaskRepository()
	q := &recordingQueue{}
	notifier := &notifications.RecordingNotifier{}

	cfg := DefaultRunnerConfig()
	runner := NewRunner(store, q, engine, invoker, cfg,
		WithNotifier(notifier),
		WithJitterSource(func() float64 { return 1.0 }))

	return &runnerFixture{
		store:    store,
		queue:    q,
		breakers: breakers,
		notifier: notifier,
		runner:   runner,
	}
}

func (f *runnerFixture) submit(t *testing.T) *domain.GenerationTask {
	t.Helper()

	now := time.Now()
	task := &domain.GenerationTask{
		ID:         uuid.New(),
		Kind:       domain.KindImage,
		Tier:       domain.TierPremium,
		Status:     domain.TaskStatusPending,
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := f.store.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func succeedOn(provider string) fallback.Invoker {
	return fallback.InvokerFunc(func(ctx context.Context, candidate domain.ProviderCandidate, payload json.RawMessage) (*domain.GenerationResult, error) {
		if candidate.ID == provider {
			return &domain.GenerationResult{ProviderID: candidate.ID, ArtifactURL: "https://cdn.example.com/out"}, nil
		}
		return nil, domain.Retryable(errors.New("timeout"))
	})
}

func alwaysFail(err error) fallback.Invoker {
	return fallback.InvokerFunc(func(ctx context.Context, candidate domain.ProviderCandidate, payload json.RawMessage) (*domain.GenerationResult, error) {
		return nil, err
	})
}

func TestProcess_SuccessCompletesTask(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t, succeedOn("a/1"))
	task := f.submit(t)

	if err := f.runner.Process(ctx, queue.TaskMessage{TaskID: task.ID, Kind: task.Kind, Tier: task.Tier}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := f.store.GetByID(ctx, task.ID)
	if got.Status != domain.TaskStatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.ResultURL != "https://cdn.example.com/out" {
		t.Errorf("unexpected result url %q", got.ResultURL)
	}
	if got.RetryCount != 0 {
		t.Errorf("expected retry count 0, got %d", got.RetryCount)
	}
	if len(got.Attempts) != 1 {
		t.Errorf("expected 1 attempt record, got %d", len(got.Attempts))
	}

	sent := f.notifier.Sent()
	if len(sent) != 1 || sent[0].Type != notifications.NotificationTaskCompleted {
		t.Errorf("expected one completion notification, got %v", sent)
	}
}

func TestProcess_RetryableExhaustionSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t, alwaysFail(domain.Retryable(errors.New("unavailable"))))
	task := f.submit(t)

	if err := f.runner.Process(ctx, queue.TaskMessage{TaskID: task.ID, Kind: task.Kind, Tier: task.Tier}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := f.store.GetByID(ctx, task.ID)
	if got.Status != domain.TaskStatusPending {
		t.Errorf("expected pending after retry scheduling, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", got.RetryCount)
	}
	if len(got.Attempts) != 3 {
		t.Errorf("expected 3 attempt records after one execution, got %d", len(got.Attempts))
	}

	sends := f.queue.recorded()
	if len(sends) != 1 {
		t.Fatalf("expected one retry enqueue, got %d", len(sends))
	}
	// First retry: base 5s * 2^0 with jitter pinned at 1.0.
	if sends[0].delay != 5*time.Second {
		t.Errorf("expected 5s delay, got %v", sends[0].delay)
	}
	if sends[0].msg.Attempt != 1 {
		t.Errorf("expected attempt 1 in message, got %d", sends[0].msg.Attempt)
	}
}

func TestProcess_RetryDelaysGrowExponentially(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t, alwaysFail(domain.Retryable(errors.New("unavailable"))))
	task := f.submit(t)

	msg := queue.TaskMessage{TaskID: task.ID, Kind: task.Kind, Tier: task.Tier}
	for i := 0; i < 3; i++ {
		if err := f.runner.Process(ctx, msg); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}

	sends := f.queue.recorded()
	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	if len(sends) != len(want) {
		t.Fatalf("expected %d retries, got %d", len(want), len(sends))
	}
	for i, d := range want {
		if sends[i].delay != d {
			t.Errorf("retry %d: expected delay %v, got %v", i, d, sends[i].delay)
		}
	}

	// A fourth execution exhausts the budget and fails the task.
	if err := f.runner.Process(ctx, msg); err != nil {
		t.Fatalf("final process: %v", err)
	}
	got, _ := f.store.GetByID(ctx, task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Errorf("expected failed after budget exhaustion, got %s", got.Status)
	}
	if got.RetryCount != 3 {
		t.Errorf("expected retry count 3, got %d", got.RetryCount)
	}
	if len(f.queue.recorded()) != 3 {
		t.Errorf("expected no enqueue after exhaustion, got %d", len(f.queue.recorded()))
	}

	sent := f.notifier.Sent()
	if len(sent) != 1 || sent[0].Type != notifications.NotificationTaskFailed {
		t.Errorf("expected one failure notification, got %v", sent)
	}
}

func TestProcess_FatalErrorFailsImmediately(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t, alwaysFail(domain.Fatal(errors.New("content policy rejection"))))
	task := f.submit(t)

	if err := f.runner.Process(ctx, queue.TaskMessage{TaskID: task.ID, Kind: task.Kind, Tier: task.Tier}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := f.store.GetByID(ctx, task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("expected retry count untouched for fatal error, got %d", got.RetryCount)
	}
	if got.ErrorMessage == "" {
		t.Error("expected error message recorded")
	}
	if len(f.queue.recorded()) != 0 {
		t.Errorf("expected no retry enqueue for fatal error, got %d", len(f.queue.recorded()))
	}
}

func TestProcess_DuplicateDeliveryIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t, succeedOn("a/1"))
	task := f.submit(t)

	msg := queue.TaskMessage{TaskID: task.ID, Kind: task.Kind, Tier: task.Tier}
	if err := f.runner.Process(ctx, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Redelivery of the same message after completion: claim misses,
	// the message is simply dropped.
	if err := f.runner.Process(ctx, msg); err != nil {
		t.Fatalf("expected duplicate delivery to be a no-op, got %v", err)
	}

	got, _ := f.store.GetByID(ctx, task.ID)
	if got.Status != domain.TaskStatusCompleted {
		t.Errorf("expected status unchanged, got %s", got.Status)
	}
	if len(f.notifier.Sent()) != 1 {
		t.Errorf("expected single notification, got %d", len(f.notifier.Sent()))
	}
}

func TestProcess_UnknownTaskDropsDelivery(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t, succeedOn("a/1"))

	err := f.runner.Process(ctx, queue.TaskMessage{TaskID: uuid.New(), Kind: domain.KindImage, Tier: domain.TierFree})
	if err != nil {
		t.Errorf("expected missing task to be dropped without error, got %v", err)
	}
}

func TestProcess_AttemptHistoryAccumulatesAcrossRetries(t *testing.T) {
	ctx := context.Background()

	// Fail the whole chain once, then succeed on the primary.
	var executions int
	invoker := fallback.InvokerFunc(func(ctx context.Context, candidate domain.ProviderCandidate, payload json.RawMessage) (*domain.GenerationResult, error) {
		if executions == 0 {
			return nil, domain.Retryable(errors.New("outage"))
		}
		return &domain.GenerationResult{ProviderID: candidate.ID, ArtifactURL: "https://cdn.example.com/out"}, nil
	})

	f := newRunnerFixture(t, invoker)
	task := f.submit(t)

	msg := queue.TaskMessage{TaskID: task.ID, Kind: task.Kind, Tier: task.Tier}
	if err := f.runner.Process(ctx, msg); err != nil {
		t.Fatalf("first process: %v", err)
	}
	executions++
	if err := f.runner.Process(ctx, msg); err != nil {
		t.Fatalf("second process: %v", err)
	}

	got, _ := f.store.GetByID(ctx, task.ID)
	if got.Status != domain.TaskStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	// Three failures from the first execution plus the final success.
	if len(got.Attempts) != 4 {
		t.Errorf("expected 4 attempt records, got %d", len(got.Attempts))
	}
	if got.Attempts[3].Outcome != domain.AttemptSuccess {
		t.Errorf("expected final record success, got %+v", got.Attempts[3])
	}
}

func TestProcess_RateLimitedSingleCandidateCycles(t *testing.T) {
	ctx := context.Background()

	chains := map[tierconfig.Key][]string{}
	for _, kind := range domain.Kinds() {
		for _, tier := range domain.Tiers() {
			chains[tierconfig.Key{Kind: kind, Tier: tier}] = []string{"a/1"}
		}
	}
	table, err := tierconfig.New(chains)
	if err != nil {
		t.Fatalf("test table: %v", err)
	}

	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig())
	engine := fallback.New(table, breakers, fallback.DefaultConfig(),
		fallback.WithSleeper(func(ctx context.Context, d time.Duration) error { return nil }))
	store := repository.NewInMemoryTaskRepository()
	q := &recordingQueue{}
	runner := NewRunner(store, q, engine, alwaysFail(domain.Retryable(errors.New("rate limited"))),
		DefaultRunnerConfig(), WithJitterSource(func() float64 { return 1.0 }))

	now := time.Now()
	task := &domain.GenerationTask{
		ID: uuid.New(), Kind: domain.KindScript, Tier: domain.TierFree,
		Status: domain.TaskStatusPending, MaxRetries: 3, CreatedAt: now, UpdatedAt: now,
	}
	store.Create(ctx, task)

	msg := queue.TaskMessage{TaskID: task.ID, Kind: task.Kind, Tier: task.Tier}
	if err := runner.Process(ctx, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The task cycles pending -> in_progress -> pending with a growing
	// delay rather than burning its budget in a tight loop.
	got, _ := store.GetByID(ctx, task.ID)
	if got.Status != domain.TaskStatusPending {
		t.Errorf("expected pending, got %s", got.Status)
	}
	sends := q.recorded()
	if len(sends) != 1 || sends[0].delay != 5*time.Second {
		t.Errorf("expected one 5s delayed enqueue, got %v", sends)
	}
}

func TestRetryDelay_CapsAndJitters(t *testing.T) {
	cfg := DefaultRunnerConfig()
	store := repository.NewInMemoryTaskRepository()

	r := NewRunner(store, &recordingQueue{}, nil, nil, cfg,
		WithJitterSource(func() float64 { return 1.0 }))

	// base 5s doubles per retry until the 5m cap.
	if got := r.retryDelay(0); got != 5*time.Second {
		t.Errorf("retry 0: expected 5s, got %v", got)
	}
	if got := r.retryDelay(2); got != 20*time.Second {
		t.Errorf("retry 2: expected 20s, got %v", got)
	}
	if got := r.retryDelay(10); got != 5*time.Minute {
		t.Errorf("retry 10: expected cap 5m, got %v", got)
	}

	rLow := NewRunner(store, &recordingQueue{}, nil, nil, cfg,
		WithJitterSource(func() float64 { return 0.5 }))
	if got := rLow.retryDelay(0); got != 2500*time.Millisecond {
		t.Errorf("jitter 0.5: expected 2.5s, got %v", got)
	}

	rHigh := NewRunner(store, &recordingQueue{}, nil, nil, cfg,
		WithJitterSource(func() float64 { return 1.5 }))
	if got := rHigh.retryDelay(0); got != 7500*time.Millisecond {
		t.Errorf("jitter 1.5: expected 7.5s, got %v", got)
	}
}

func TestRetryDelay_DefaultJitterStaysInBounds(t *testing.T) {
	cfg := DefaultRunnerConfig()
	r := NewRunner(repository.NewInMemoryTaskRepository(), &recordingQueue{}, nil, nil, cfg)

	min := time.Duration(float64(cfg.RetryBaseDelay) * cfg.JitterMin)
	max := time.Duration(float64(cfg.RetryBaseDelay) * cfg.JitterMax)
	for i := 0; i < 100; i++ {
		d := r.retryDelay(0)
		if d < min || d > max {
			t.Fatalf("delay %v outside [%v, %v]", d, min, max)
		}
	}
}
