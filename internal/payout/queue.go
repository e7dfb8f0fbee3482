package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Pop when nothing arrived before the timeout.
var ErrEmpty = errors.New("payout queue empty")

// Delivery is an intent taken off the queue but not yet acknowledged.
type Delivery struct {
	Intent *Intent
	raw    string
}

// Queue is the durable outbox the relay drains.
type Queue interface {
	Enqueuer
	Pop(ctx context.Context, timeout time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Retry(ctx context.Context, d *Delivery) error
	DeadLetter(ctx context.Context, d *Delivery) error
	// Requeue puts an unattempted delivery back at the head of the queue.
	Requeue(ctx context.Context, d *Delivery) error
	// Recover returns in-flight deliveries left by a crashed relay to the
	// queue. Only the lease holder may call it.
	Recover(ctx context.Context) (int, error)
	// Lease acquires or renews the single-relay lease for holder. It reports
	// false while another holder's lease is live.
	Lease(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	// Release drops the lease if holder still owns it.
	Release(ctx context.Context, holder string) error
}

// RedisQueue keeps intents in three lists: pending, processing and DLQ.
// Pop atomically moves an item into processing, so a crash between Pop and
// Ack never loses it.
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func (q *RedisQueue) Enqueue(ctx context.Context, in *Intent) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	return q.rdb.RPush(ctx, QueueKey, raw).Err()
}

// EnqueueTx queues the intent as part of a caller's MULTI/EXEC pipeline.
func (q *RedisQueue) EnqueueTx(ctx context.Context, pipe redis.Pipeliner, in *Intent) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	pipe.RPush(ctx, QueueKey, raw)
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.rdb.BLMove(ctx, QueueKey, ProcessingKey, "LEFT", "RIGHT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, err
	}
	var in Intent
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		// Unreadable entries go straight to the DLQ.
		_ = q.DeadLetter(ctx, &Delivery{raw: raw})
		return nil, fmt.Errorf("unmarshal intent: %w", err)
	}
	return &Delivery{Intent: &in, raw: raw}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	return q.rdb.LRem(ctx, ProcessingKey, 1, d.raw).Err()
}

// Retry bumps the attempt counter and appends the intent to the tail.
func (q *RedisQueue) Retry(ctx context.Context, d *Delivery) error {
	d.Intent.Attempts++
	raw, err := json.Marshal(d.Intent)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, ProcessingKey, 1, d.raw)
		pipe.RPush(ctx, QueueKey, raw)
		return nil
	})
	return err
}

func (q *RedisQueue) Requeue(ctx context.Context, d *Delivery) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, ProcessingKey, 1, d.raw)
		pipe.LPush(ctx, QueueKey, d.raw)
		return nil
	})
	return err
}

func (q *RedisQueue) DeadLetter(ctx context.Context, d *Delivery) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, ProcessingKey, 1, d.raw)
		pipe.RPush(ctx, DLQKey, d.raw)
		return nil
	})
	return err
}

func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.rdb.LMove(ctx, ProcessingKey, QueueKey, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover in-flight intents: %w", err)
		}
		n++
	}
}

var leaseScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
end
if cur == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

func (q *RedisQueue) Lease(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	n, err := leaseScript.Run(ctx, q.rdb, []string{LeaseKey}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("relay lease: %w", err)
	}
	return n == 1, nil
}

func (q *RedisQueue) Release(ctx context.Context, holder string) error {
	if err := releaseScript.Run(ctx, q.rdb, []string{LeaseKey}, holder).Err(); err != nil {
		return fmt.Errorf("release relay lease: %w", err)
	}
	return nil
}
