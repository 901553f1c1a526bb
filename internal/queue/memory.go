package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryQueue mirrors the SQS queue for tests and local runs. Delayed
// messages become visible when a timer fires; receivers block briefly on
// a condition channel rather than long-polling.
type InMemoryQueue struct {
	mu      sync.Mutex
	ready   []Delivery
	pending map[string]*time.Timer
	wake    chan struct{}
	closed  bool
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		pending: make(map[string]*time.Timer),
		wake:    make(chan struct{}, 1),
	}
}

func (q *InMemoryQueue) Send(ctx context.Context, msg TaskMessage, delay time.Duration) error {
	d := Delivery{
		Message:       msg,
		ReceiptHandle: uuid.New().String(),
	}

	if delay <= 0 {
		q.enqueue(d)
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	handle := d.ReceiptHandle
	q.pending[handle] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.pending, handle)
		q.mu.Unlock()
		q.enqueue(d)
	})
	return nil
}

func (q *InMemoryQueue) enqueue(d Delivery) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.ready = append(q.ready, d)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Receive returns up to maxMessages ready deliveries, waiting up to one
// second for something to arrive, mirroring SQS long polling on a test
// timescale.
func (q *InMemoryQueue) Receive(ctx context.Context, maxMessages int) ([]Delivery, error) {
	deadline := time.NewTimer(1 * time.Second)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			count := maxMessages
			if count > len(q.ready) {
				count = len(q.ready)
			}
			out := make([]Delivery, count)
			copy(out, q.ready[:count])
			q.ready = q.ready[count:]
			q.mu.Unlock()
			return out, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-q.wake:
		}
	}
}

// Delete is a no-op: in-memory deliveries are removed on receive.
func (q *InMemoryQueue) Delete(ctx context.Context, receiptHandle string) error {
	return nil
}

// Close stops pending timers. Only used by tests.
func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for handle, timer := range q.pending {
		timer.Stop()
		delete(q.pending, handle)
	}
}

// Len reports ready (visible) messages. Only used by tests.
func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}
