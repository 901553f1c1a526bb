// Package task owns the durable generation task lifecycle: submission,
// the pending -> in_progress -> completed/failed state machine, jittered
// task-level retries via delayed queue re-delivery, and the worker pool
// that drives it all.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"encoding/json"

	"github.com/google/uuid"
	"github.com/iamade/litinkapp-sub002/internal/domain"
	"github.com/iamade/litinkapp-sub002/internal/metrics"
	"github.com/iamade/litinkapp-sub002/internal/queue"
	"github.com/iamade/litinkapp-sub002/internal/repository"
)

// Service is the caller-facing enqueue boundary.
type Service struct {
	store      repository.TaskRepository
	queue      queue.Queue
	maxRetries int
	now        func() time.Time
}

func NewService(store repository.TaskRepository, q queue.Queue, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{
		store:      store,
		queue:      q,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// Submit validates the request, persists a pending task and enqueues it
// for immediate processing. Returns the task ID the caller polls with.
func (s *Service) Submit(ctx context.Context, kind domain.ServiceKind, tier domain.Tier, payload json.RawMessage) (uuid.UUID, error) {
	if !kind.Valid() {
		return uuid.Nil, fmt.Errorf("%w: unknown service kind %q", domain.ErrInvalidRequest, kind)
	}
	if !tier.Valid() {
		return uuid.Nil, fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidRequest, tier)
	}

	now := s.now()
	task := &domain.GenerationTask{
		ID:         uuid.New(),
		Kind:       kind,
		Tier:       tier,
		Payload:    payload,
		Status:     domain.TaskStatusPending,
		MaxRetries: s.maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.Create(ctx, task); err != nil {
		return uuid.Nil, fmt.Errorf("create task: %w", err)
	}

	msg := queue.TaskMessage{
		TaskID:    task.ID,
		Kind:      kind,
		Tier:      tier,
		CreatedAt: now,
	}
	if err := s.queue.Send(ctx, msg, 0); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue task: %w", err)
	}

	metrics.RecordTaskSubmitted(string(kind), string(tier))
	slog.Info("task submitted", "task_id", task.ID, "kind", kind, "tier", tier)

	return task.ID, nil
}

// Get loads the task for the polling endpoint. Reads have no side
// effects; polling a terminal task returns the same projection forever.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, error) {
	return s.store.GetByID(ctx, id)
}
