package payout

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is the in-process counterpart of RedisQueue, used with the
// memory store. Nothing survives a restart, so Recover is a no-op.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []*Intent
	dead    []*Intent
	notify  chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{notify: make(chan struct{}, 1)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, in *Intent) error {
	cp := *in
	q.mu.Lock()
	q.pending = append(q.pending, &cp)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			in := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return &Delivery{Intent: in}, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-timer.C:
			return nil, ErrEmpty
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) Ack(context.Context, *Delivery) error { return nil }

func (q *MemoryQueue) Retry(ctx context.Context, d *Delivery) error {
	d.Intent.Attempts++
	return q.Enqueue(ctx, d.Intent)
}

func (q *MemoryQueue) Requeue(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	q.pending = append([]*Intent{d.Intent}, q.pending...)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, d.Intent)
	return nil
}

func (q *MemoryQueue) Recover(context.Context) (int, error) { return 0, nil }

// Lease always succeeds: the queue lives in one process with one relay.
func (q *MemoryQueue) Lease(context.Context, string, time.Duration) (bool, error) { return true, nil }

func (q *MemoryQueue) Release(context.Context, string) error { return nil }

// Pending returns a snapshot of queued intents.
func (q *MemoryQueue) Pending() []Intent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Intent, len(q.pending))
	for i, in := range q.pending {
		out[i] = *in
	}
	return out
}

// Dead returns a snapshot of dead-lettered intents.
func (q *MemoryQueue) Dead() []Intent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Intent, len(q.dead))
	for i, in := range q.dead {
		out[i] = *in
	}
	return out
}
