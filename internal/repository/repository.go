// Package repository persists generation tasks and serves as the read
// model behind the polling endpoint. Postgres is the production backend;
// the in-memory implementation backs tests and local runs.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/iamade/litinkapp-sub002/internal/domain"
)

// TaskRepository owns the task state machine's persistence. Status
// transitions are conditional on the expected current status, so a task
// can never be claimed or completed twice.
type TaskRepository interface {
	// Create persists a new pending task.
	Create(ctx context.Context, task *domain.GenerationTask) error

	// GetByID loads one task, or domain.ErrTaskNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, error)

	// Claim transitions pending -> in_progress and stamps
	// last_attempted_at. Returns domain.ErrTaskAlreadyClaimed when the
	// task is not pending, which makes duplicate queue deliveries
	// harmless.
	Claim(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, error)

	// MarkCompleted transitions in_progress -> completed with the result
	// reference and the accumulated attempt history.
	MarkCompleted(ctx context.Context, id uuid.UUID, resultURL string, attempts []domain.AttemptRecord) error

	// MarkFailed transitions in_progress -> failed with the error message
	// and the accumulated attempt history.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string, attempts []domain.AttemptRecord) error

	// ScheduleRetry transitions in_progress -> pending with the new retry
	// count, keeping the history gathered so far.
	ScheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, errorMessage string, attempts []domain.AttemptRecord) error

	// ListByStatus returns tasks in the given status, oldest first,
	// optionally only those not updated for at least minAge. Used by
	// startup recovery and the stale-task sweep.
	ListByStatus(ctx context.Context, status domain.TaskStatus, minAge time.Duration) ([]*domain.GenerationTask, error)
}
