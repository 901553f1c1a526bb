package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/iamade/litinkapp-sub002/internal/domain"
	"github.com/iamade/litinkapp-sub002/internal/queue"
	"github.com/iamade/litinkapp-sub002/internal/repository"
)

func TestSubmit_CreatesPendingTaskAndEnqueues(t *testing.T) {
	ctx := context.Background()
	store := repository.NewInMemoryTaskRepository()
	q := &recordingQueue{}
	svc := NewService(store, q, 3)

	payload := json.RawMessage(`{"prompt":"a lighthouse at dusk"}`)
	id, err := svc.Submit(ctx, domain.KindImage, domain.TierPremium, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected non-nil task id")
	}

	task, err := store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Status != domain.TaskStatusPending {
		t.Errorf("expected pending, got %s", task.Status)
	}
	if task.MaxRetries != 3 {
		t.Errorf("expected max retries 3, got %d", task.MaxRetries)
	}
	if string(task.Payload) != string(payload) {
		t.Errorf("payload not preserved: %s", task.Payload)
	}

	sends := q.recorded()
	if len(sends) != 1 {
		t.Fatalf("expected one enqueue, got %d", len(sends))
	}
	if sends[0].msg.TaskID != id || sends[0].delay != 0 {
		t.Errorf("unexpected enqueue: %+v", sends[0])
	}
}

func TestSubmit_RejectsInvalidKindAndTier(t *testing.T) {
	ctx := context.Background()
	svc := NewService(repository.NewInMemoryTaskRepository(), &recordingQueue{}, 3)

	if _, err := svc.Submit(ctx, "music", domain.TierFree, nil); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for unknown kind, got %v", err)
	}
	if _, err := svc.Submit(ctx, domain.KindImage, "platinum", nil); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for unknown tier, got %v", err)
	}
}

func TestGet_PollingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := repository.NewInMemoryTaskRepository()
	svc := NewService(store, &recordingQueue{}, 3)

	id, err := svc.Submit(ctx, domain.KindAudio, domain.TierBasic, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store.Claim(ctx, id)
	store.MarkCompleted(ctx, id, "https://cdn.example.com/audio.mp3", nil)

	first, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Status != second.Status || first.ResultURL != second.ResultURL {
		t.Error("expected identical projections on repeated polls")
	}
	if !first.UpdatedAt.Equal(second.UpdatedAt) {
		t.Error("expected polling to have no side effects")
	}

	if _, err := svc.Get(ctx, uuid.New()); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

var _ queue.Queue = (*recordingQueue)(nil)
