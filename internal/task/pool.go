package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iamade/litinkapp-sub002/internal/domain"
	"github.com/iamade/litinkapp-sub002/internal/metrics"
	"github.com/iamade/litinkapp-sub002/internal/queue"
	"github.com/iamade/litinkapp-sub002/internal/repository"
)

const receiveBatchSize = 5

// WorkerPool drives the runner from the task queue. Each worker handles
// one delivery at a time; a task's processing is single-threaded end to
// end while tasks run in parallel across workers.
type WorkerPool struct {
	runner *Runner
	store  repository.TaskRepository
	queue  queue.Queue
	config RunnerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorkerPool(runner *Runner, store repository.TaskRepository, q queue.Queue, cfg RunnerConfig) *WorkerPool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.StuckTaskCheckInterval <= 0 {
		cfg.StuckTaskCheckInterval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		runner: runner,
		store:  store,
		queue:  q,
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start recovers unfinished tasks, then launches the workers and the
// stuck-task sweep.
func (p *WorkerPool) Start() error {
	if err := p.recover(); err != nil {
		return err
	}

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.wg.Add(1)
	go p.stuckTaskSweep()

	slog.Info("worker pool started", "workers", p.config.WorkerCount)
	return nil
}

// Stop drains the pool: workers finish their current delivery and exit.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	slog.Info("worker pool stopped")
}

// recover re-enqueues pending tasks left over from a previous run.
// Pending rows with no visible queue message would otherwise never
// execute again. in_progress rows are handled by the sweep once they age
// past StuckTaskAge.
func (p *WorkerPool) recover() error {
	ctx := p.ctx

	pending, err := p.store.ListByStatus(ctx, domain.TaskStatusPending, p.config.StuckTaskAge)
	if err != nil {
		return err
	}

	for _, task := range pending {
		msg := queue.TaskMessage{
			TaskID:    task.ID,
			Kind:      task.Kind,
			Tier:      task.Tier,
			Attempt:   task.RetryCount,
			CreatedAt: task.CreatedAt,
		}
		if err := p.queue.Send(ctx, msg, 0); err != nil {
			slog.Error("failed to re-enqueue pending task", "task_id", task.ID, "error", err)
		}
	}

	if len(pending) > 0 {
		slog.Info("recovered stale pending tasks", "count", len(pending))
	}

	return nil
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	logger := slog.With("worker_id", id)
	logger.Debug("worker started")

	for {
		select {
		case <-p.ctx.Done():
			logger.Debug("worker stopping")
			return
		default:
		}

		deliveries, err := p.queue.Receive(p.ctx, receiveBatchSize)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			logger.Error("queue receive failed", "error", err)
			time.Sleep(1 * time.Second)
			continue
		}

		for _, delivery := range deliveries {
			if err := p.runner.Process(p.ctx, delivery.Message); err != nil {
				// Leave the message for redelivery after the
				// visibility timeout.
				metrics.RecordQueueDelivery("requeued")
				logger.Error("task processing failed, leaving delivery for redelivery",
					"task_id", delivery.Message.TaskID,
					"error", err)
				continue
			}

			metrics.RecordQueueDelivery("handled")
			if err := p.queue.Delete(p.ctx, delivery.ReceiptHandle); err != nil {
				logger.Warn("failed to delete handled delivery",
					"task_id", delivery.Message.TaskID,
					"error", err)
			}
		}
	}
}

// stuckTaskSweep resets tasks stranded in_progress (crashed worker,
// lost delivery) back to pending and re-enqueues them.
func (p *WorkerPool) stuckTaskSweep() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.StuckTaskCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.sweepOnce()
		}
	}
}

func (p *WorkerPool) sweepOnce() {
	ctx := p.ctx

	stuck, err := p.store.ListByStatus(ctx, domain.TaskStatusInProgress, p.config.StuckTaskAge)
	if err != nil {
		slog.Error("stuck task sweep failed", "error", err)
		return
	}

	for _, task := range stuck {
		if err := p.store.ScheduleRetry(ctx, task.ID, task.RetryCount, "reset after stale in_progress", task.Attempts); err != nil {
			slog.Error("failed to reset stuck task", "task_id", task.ID, "error", err)
			continue
		}

		msg := queue.TaskMessage{
			TaskID:    task.ID,
			Kind:      task.Kind,
			Tier:      task.Tier,
			Attempt:   task.RetryCount,
			CreatedAt: task.CreatedAt,
		}
		if err := p.queue.Send(ctx, msg, 0); err != nil {
			slog.Error("failed to re-enqueue stuck task", "task_id", task.ID, "error", err)
			continue
		}

		slog.Info("requeued stuck task", "task_id", task.ID, "age", p.config.StuckTaskAge)
	}
}
