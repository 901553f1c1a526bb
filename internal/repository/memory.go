package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iamade/litinkapp-sub002/internal/domain"
)

// InMemoryTaskRepository mirrors the Postgres repository for tests and
// local mode. Transitions apply the same status preconditions.
type InMemoryTaskRepository struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*domain.GenerationTask
	now   func() time.Time
}

func NewInMemoryTaskRepository() *InMemoryTaskRepository {
	return &InMemoryTaskRepository{
		tasks: make(map[uuid.UUID]*domain.GenerationTask),
		now:   time.Now,
	}
}

// NewInMemoryTaskRepositoryWithClock injects a clock for stale-task tests.
func NewInMemoryTaskRepositoryWithClock(now func() time.Time) *InMemoryTaskRepository {
	return &InMemoryTaskRepository{
		tasks: make(map[uuid.UUID]*domain.GenerationTask),
		now:   now,
	}
}

func (r *InMemoryTaskRepository) Create(ctx context.Context, task *domain.GenerationTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *task
	cp.UpdatedAt = task.CreatedAt
	r.tasks[task.ID] = &cp
	return nil
}

func (r *InMemoryTaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}

	cp := *task
	cp.Attempts = append([]domain.AttemptRecord(nil), task.Attempts...)
	return &cp, nil
}

func (r *InMemoryTaskRepository) Claim(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	if task.Status != domain.TaskStatusPending {
		return nil, domain.ErrTaskAlreadyClaimed
	}

	now := r.now()
	task.Status = domain.TaskStatusInProgress
	task.LastAttemptedAt = &now
	task.UpdatedAt = now

	cp := *task
	cp.Attempts = append([]domain.AttemptRecord(nil), task.Attempts...)
	return &cp, nil
}

func (r *InMemoryTaskRepository) MarkCompleted(ctx context.Context, id uuid.UUID, resultURL string, attempts []domain.AttemptRecord) error {
	return r.transition(id, domain.TaskStatusInProgress, func(task *domain.GenerationTask) {
		task.Status = domain.TaskStatusCompleted
		task.ResultURL = resultURL
		task.ErrorMessage = ""
		task.Attempts = append([]domain.AttemptRecord(nil), attempts...)
	})
}

func (r *InMemoryTaskRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string, attempts []domain.AttemptRecord) error {
	return r.transition(id, domain.TaskStatusInProgress, func(task *domain.GenerationTask) {
		task.Status = domain.TaskStatusFailed
		task.ErrorMessage = errorMessage
		task.Attempts = append([]domain.AttemptRecord(nil), attempts...)
	})
}

func (r *InMemoryTaskRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, errorMessage string, attempts []domain.AttemptRecord) error {
	return r.transition(id, domain.TaskStatusInProgress, func(task *domain.GenerationTask) {
		task.Status = domain.TaskStatusPending
		task.RetryCount = retryCount
		task.ErrorMessage = errorMessage
		task.Attempts = append([]domain.AttemptRecord(nil), attempts...)
	})
}

func (r *InMemoryTaskRepository) ListByStatus(ctx context.Context, status domain.TaskStatus, minAge time.Duration) ([]*domain.GenerationTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := r.now().Add(-minAge)

	var tasks []*domain.GenerationTask
	for _, task := range r.tasks {
		if task.Status != status {
			continue
		}
		if task.UpdatedAt.After(cutoff) {
			continue
		}
		cp := *task
		cp.Attempts = append([]domain.AttemptRecord(nil), task.Attempts...)
		tasks = append(tasks, &cp)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].UpdatedAt.Before(tasks[j].UpdatedAt)
	})

	return tasks, nil
}

func (r *InMemoryTaskRepository) transition(id uuid.UUID, expect domain.TaskStatus, apply func(*domain.GenerationTask)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if task.Status != expect {
		return domain.ErrTaskAlreadyClaimed
	}

	apply(task)
	task.UpdatedAt = r.now()
	return nil
}
