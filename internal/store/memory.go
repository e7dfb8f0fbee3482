package store

import (
	"context"
	"sync"

	"github.com/0gfoundation/0g-voucher-escrow/internal/payout"
	"github.com/0gfoundation/0g-voucher-escrow/internal/voucher"
)

// collection is never mutated after it is published.
type collection map[string]voucher.Voucher

func (c collection) clone() collection {
	out := make(collection, len(c)+1)
	for id, v := range c {
		out[id] = v
	}
	return out
}

// MemoryStore keeps collections in process. Writers build a new collection
// and swap it in; readers only ever see a published one.
type MemoryStore struct {
	mu     sync.RWMutex
	owners map[string]collection
	outbox payout.Enqueuer
}

func NewMemoryStore(outbox payout.Enqueuer) *MemoryStore {
	return &MemoryStore{owners: make(map[string]collection), outbox: outbox}
}

func (s *MemoryStore) ListByOwner(_ context.Context, owner string) ([]voucher.Voucher, error) {
	s.mu.RLock()
	c := s.owners[owner]
	s.mu.RUnlock()

	out := make([]voucher.Voucher, 0, len(c))
	for _, v := range c {
		out = append(out, v.Clone())
	}
	sortByID(out)
	return out, nil
}

func (s *MemoryStore) FindByID(_ context.Context, owner, id string) (voucher.Voucher, error) {
	s.mu.RLock()
	v, ok := s.owners[owner][id]
	s.mu.RUnlock()
	if !ok {
		return voucher.Voucher{}, notFound(owner, id)
	}
	return v.Clone(), nil
}

func (s *MemoryStore) Insert(_ context.Context, owner string, vs ...voucher.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.owners[owner]
	if err := checkBatch(owner, vs, func(id string) bool { _, ok := cur[id]; return ok }); err != nil {
		return err
	}
	next := cur.clone()
	for _, v := range vs {
		next[v.ID] = v.Clone()
	}
	s.owners[owner] = next
	return nil
}

func (s *MemoryStore) Replace(ctx context.Context, owner string, v voucher.Voucher, intent *payout.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.owners[owner]
	if _, ok := cur[v.ID]; !ok {
		return notFound(owner, v.ID)
	}
	if err := s.enqueue(ctx, intent); err != nil {
		return err
	}
	next := cur.clone()
	next[v.ID] = v.Clone()
	s.owners[owner] = next
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, owner, id string, intent *payout.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.owners[owner]
	if _, ok := cur[id]; !ok {
		return notFound(owner, id)
	}
	if err := s.enqueue(ctx, intent); err != nil {
		return err
	}
	next := cur.clone()
	delete(next, id)
	if len(next) == 0 {
		delete(s.owners, owner)
	} else {
		s.owners[owner] = next
	}
	return nil
}

func (s *MemoryStore) enqueue(ctx context.Context, intent *payout.Intent) error {
	if intent == nil || s.outbox == nil {
		return nil
	}
	return s.outbox.Enqueue(ctx, intent)
}
