// Package queue delivers task messages to workers, with support for
// delayed re-delivery. Task-level retry backoff rides on the queue's
// delay (SQS DelaySeconds) rather than a sleeping worker, so scheduled
// retries survive process restarts.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/iamade/litinkapp-sub002/internal/domain"
)

// TaskMessage is the queue payload referencing one generation task. The
// task body itself lives in the store; the message only carries enough
// to load and route it.
type TaskMessage struct {
	TaskID    uuid.UUID          `json:"task_id"`
	Kind      domain.ServiceKind `json:"kind"`
	Tier      domain.Tier        `json:"tier"`
	Attempt   int                `json:"attempt"`
	CreatedAt time.Time          `json:"created_at"`
}

// Delivery is one received message plus the handle needed to delete it
// after processing.
type Delivery struct {
	Message       TaskMessage
	ReceiptHandle string
}

// Queue is the transport between Submit/retry scheduling and the worker
// pool. Send with a non-zero delay makes the message invisible until the
// delay elapses.
type Queue interface {
	Send(ctx context.Context, msg TaskMessage, delay time.Duration) error
	Receive(ctx context.Context, maxMessages int) ([]Delivery, error)
	Delete(ctx context.Context, receiptHandle string) error
}
