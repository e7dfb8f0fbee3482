package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const nonceKeyPrefix = "auth:nonce:"

// NonceStore remembers nonces until their request could no longer be valid.
// Claim reports false if the nonce was already seen.
type NonceStore interface {
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

type RedisNonces struct {
	rdb *redis.Client
}

func NewRedisNonces(rdb *redis.Client) *RedisNonces {
	return &RedisNonces{rdb: rdb}
}

func (n *RedisNonces) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := n.rdb.SetNX(ctx, nonceKeyPrefix+nonce, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim nonce: %w", err)
	}
	return ok, nil
}

// MemoryNonces is used with the memory store backend.
type MemoryNonces struct {
	mu   sync.Mutex
	seen map[string]time.Time // nonce → forget after
	now  func() time.Time
}

func NewMemoryNonces() *MemoryNonces {
	return &MemoryNonces{seen: make(map[string]time.Time), now: time.Now}
}

func (n *MemoryNonces) Claim(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	for k, until := range n.seen {
		if !now.Before(until) {
			delete(n.seen, k)
		}
	}
	if _, ok := n.seen[nonce]; ok {
		return false, nil
	}
	n.seen[nonce] = now.Add(ttl)
	return true, nil
}
