package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/0g-voucher-escrow/internal/payout"
	"github.com/0gfoundation/0g-voucher-escrow/internal/voucher"
)

const ownerKeyPrefix = "escrow:vouchers:"

// RedisStore keeps one hash per owner (field = voucher id, value = JSON).
// Writes WATCH the owner's hash and commit the hash update together with
// the payout intent in a single MULTI/EXEC.
type RedisStore struct {
	rdb    *redis.Client
	outbox *payout.RedisQueue
}

func NewRedisStore(rdb *redis.Client, outbox *payout.RedisQueue) *RedisStore {
	return &RedisStore{rdb: rdb, outbox: outbox}
}

func ownerKey(owner string) string {
	return ownerKeyPrefix + owner
}

func (s *RedisStore) ListByOwner(ctx context.Context, owner string) ([]voucher.Voucher, error) {
	vals, err := s.rdb.HGetAll(ctx, ownerKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list vouchers: %w", err)
	}
	out := make([]voucher.Voucher, 0, len(vals))
	for id, raw := range vals {
		var v voucher.Voucher
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode voucher %s/%s: %w", owner, id, err)
		}
		out = append(out, v)
	}
	sortByID(out)
	return out, nil
}

func (s *RedisStore) FindByID(ctx context.Context, owner, id string) (voucher.Voucher, error) {
	raw, err := s.rdb.HGet(ctx, ownerKey(owner), id).Result()
	if errors.Is(err, redis.Nil) {
		return voucher.Voucher{}, notFound(owner, id)
	}
	if err != nil {
		return voucher.Voucher{}, fmt.Errorf("redis: get voucher: %w", err)
	}
	var v voucher.Voucher
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return voucher.Voucher{}, fmt.Errorf("decode voucher %s/%s: %w", owner, id, err)
	}
	return v, nil
}

func (s *RedisStore) Insert(ctx context.Context, owner string, vs ...voucher.Voucher) error {
	if len(vs) == 0 {
		return nil
	}
	key := ownerKey(owner)
	ids := make([]string, len(vs))
	fields := make([]interface{}, 0, 2*len(vs))
	for i, v := range vs {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode voucher %s: %w", v.ID, err)
		}
		ids[i] = v.ID
		fields = append(fields, v.ID, raw)
	}

	return s.watch(ctx, key, func(tx *redis.Tx) error {
		existing, err := tx.HMGet(ctx, key, ids...).Result()
		if err != nil {
			return fmt.Errorf("redis: check ids: %w", err)
		}
		present := make(map[string]bool, len(ids))
		for i, val := range existing {
			present[ids[i]] = val != nil
		}
		if err := checkBatch(owner, vs, func(id string) bool { return present[id] }); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields...)
			return nil
		})
		return err
	})
}

func (s *RedisStore) Replace(ctx context.Context, owner string, v voucher.Voucher, intent *payout.Intent) error {
	key := ownerKey(owner)
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode voucher %s: %w", v.ID, err)
	}
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		ok, err := tx.HExists(ctx, key, v.ID).Result()
		if err != nil {
			return fmt.Errorf("redis: check id: %w", err)
		}
		if !ok {
			return notFound(owner, v.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, v.ID, raw)
			return s.enqueueTx(ctx, pipe, intent)
		})
		return err
	})
}

func (s *RedisStore) Remove(ctx context.Context, owner, id string, intent *payout.Intent) error {
	key := ownerKey(owner)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		ok, err := tx.HExists(ctx, key, id).Result()
		if err != nil {
			return fmt.Errorf("redis: check id: %w", err)
		}
		if !ok {
			return notFound(owner, id)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, id)
			return s.enqueueTx(ctx, pipe, intent)
		})
		return err
	})
}

func (s *RedisStore) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	err := s.rdb.Watch(ctx, fn, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("redis: concurrent update of %s: %w", key, err)
	}
	return err
}

func (s *RedisStore) enqueueTx(ctx context.Context, pipe redis.Pipeliner, intent *payout.Intent) error {
	if intent == nil {
		return nil
	}
	return s.outbox.EnqueueTx(ctx, pipe, intent)
}
