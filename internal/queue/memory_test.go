package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/iamade/litinkapp-sub002/internal/domain"
)

func TestInMemoryQueue_SendReceive(t *testing.T) {
	ctx := context.Background()
	q := NewInMemoryQueue()
	defer q.Close()

	msg := TaskMessage{
		TaskID:    uuid.New(),
		Kind:      domain.KindImage,
		Tier:      domain.TierPremium,
		CreatedAt: time.Now(),
	}
	if err := q.Send(ctx, msg, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deliveries, err := q.Receive(ctx, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}
	if deliveries[0].Message.TaskID != msg.TaskID {
		t.Errorf("expected task %s, got %s", msg.TaskID, deliveries[0].Message.TaskID)
	}
	if deliveries[0].ReceiptHandle == "" {
		t.Error("expected non-empty receipt handle")
	}
}

func TestInMemoryQueue_DelayedMessageInvisibleUntilDue(t *testing.T) {
	ctx := context.Background()
	q := NewInMemoryQueue()
	defer q.Close()

	msg := TaskMessage{TaskID: uuid.New(), Kind: domain.KindScript, Tier: domain.TierFree}
	if err := q.Send(ctx, msg, 50*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if q.Len() != 0 {
		t.Fatalf("expected delayed message to be invisible, got %d ready", q.Len())
	}

	deliveries, err := q.Receive(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery after delay, got %d", len(deliveries))
	}
}

func TestInMemoryQueue_ReceiveDrainsInOrder(t *testing.T) {
	ctx := context.Background()
	q := NewInMemoryQueue()
	defer q.Close()

	first := uuid.New()
	second := uuid.New()
	q.Send(ctx, TaskMessage{TaskID: first}, 0)
	q.Send(ctx, TaskMessage{TaskID: second}, 0)

	deliveries, err := q.Receive(ctx, 1)
	if err != nil || len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d (err %v)", len(deliveries), err)
	}
	if deliveries[0].Message.TaskID != first {
		t.Errorf("expected oldest message first, got %s", deliveries[0].Message.TaskID)
	}
	if q.Len() != 1 {
		t.Errorf("expected 1 message left, got %d", q.Len())
	}
}

func TestInMemoryQueue_ReceiveTimesOutEmpty(t *testing.T) {
	ctx := context.Background()
	q := NewInMemoryQueue()
	defer q.Close()

	start := time.Now()
	deliveries, err := q.Receive(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deliveries != nil {
		t.Errorf("expected nil deliveries on empty queue, got %v", deliveries)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Receive blocked past its poll window")
	}
}

func TestInMemoryQueue_ReceiveHonorsContext(t *testing.T) {
	q := NewInMemoryQueue()
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Receive(ctx, 1); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestInMemoryQueue_CloseDropsPendingTimers(t *testing.T) {
	ctx := context.Background()
	q := NewInMemoryQueue()

	q.Send(ctx, TaskMessage{TaskID: uuid.New()}, time.Hour)
	q.Close()

	if err := q.Send(ctx, TaskMessage{TaskID: uuid.New()}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("expected closed queue to drop sends, got %d ready", q.Len())
	}
}
