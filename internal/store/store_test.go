package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/0g-voucher-escrow/internal/payout"
	"github.com/0gfoundation/0g-voucher-escrow/internal/voucher"
)

// ── helpers ───────────────────────────────────────────────────────────────────

const (
	testOwner = "0x1111111111111111111111111111111111111111"
	testOther = "0x2222222222222222222222222222222222222222"
)

type fixture struct {
	store   Store
	pending func() int
}

func newMemoryFixture(t *testing.T) fixture {
	t.Helper()
	q := payout.NewMemoryQueue()
	return fixture{
		store:   NewMemoryStore(q),
		pending: func() int { return len(q.Pending()) },
	}
}

func newRedisFixture(t *testing.T) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return fixture{
		store: NewRedisStore(rdb, payout.NewRedisQueue(rdb)),
		pending: func() int {
			n, err := rdb.LLen(context.Background(), payout.QueueKey).Result()
			if err != nil {
				t.Fatalf("LLEN: %v", err)
			}
			return int(n)
		},
	}
}

// forEachStore runs fn against both implementations.
func forEachStore(t *testing.T, fn func(t *testing.T, f fixture)) {
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryFixture(t)) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedisFixture(t)) })
}

func makeVoucher(id string, deposit uint64) voucher.Voucher {
	v := voucher.Voucher{
		ID:              id,
		PaymentType:     voucher.Static,
		CreateTimestamp: time.Unix(1_700_000_000, 0).UnixNano(),
		Commitment:      voucher.Commit("secret-" + id),
	}
	v.DepositAmount.SetUint64(deposit)
	return v
}

func testIntent(amount uint64) *payout.Intent {
	return payout.NewIntent(payout.KindRedeem, testOther, uint256.NewInt(amount), testOwner, "voucher00001", 0)
}

// ── ListByOwner ───────────────────────────────────────────────────────────────

func TestListByOwner_UnknownOwnerIsEmpty(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		vs, err := f.store.ListByOwner(context.Background(), "0xnobody")
		if err != nil {
			t.Fatalf("ListByOwner: %v", err)
		}
		if len(vs) != 0 {
			t.Errorf("expected empty list, got %d", len(vs))
		}
	})
}

func TestInsert_ListSortedAndIsolatedPerOwner(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		err := f.store.Insert(ctx, testOwner,
			makeVoucher("bbbbbbbbbbbb", 2),
			makeVoucher("aaaaaaaaaaaa", 1),
		)
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		// Same id under a different owner is fine.
		if err := f.store.Insert(ctx, testOther, makeVoucher("aaaaaaaaaaaa", 9)); err != nil {
			t.Fatalf("Insert other owner: %v", err)
		}

		vs, err := f.store.ListByOwner(ctx, testOwner)
		if err != nil {
			t.Fatalf("ListByOwner: %v", err)
		}
		if len(vs) != 2 || vs[0].ID != "aaaaaaaaaaaa" || vs[1].ID != "bbbbbbbbbbbb" {
			t.Fatalf("unexpected list: %+v", vs)
		}
		if vs[0].DepositAmount.Uint64() != 1 || vs[0].Commitment != voucher.Commit("secret-aaaaaaaaaaaa") {
			t.Errorf("voucher fields not preserved: %+v", vs[0])
		}
	})
}

// ── Insert conflicts ──────────────────────────────────────────────────────────

func TestInsert_ConflictLeavesCollectionUnchanged(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		f.store.Insert(ctx, testOwner, makeVoucher("aaaaaaaaaaaa", 1)) //nolint:errcheck

		err := f.store.Insert(ctx, testOwner,
			makeVoucher("cccccccccccc", 3),
			makeVoucher("aaaaaaaaaaaa", 5),
		)
		if !errors.Is(err, voucher.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		vs, _ := f.store.ListByOwner(ctx, testOwner)
		if len(vs) != 1 || vs[0].DepositAmount.Uint64() != 1 {
			t.Errorf("batch must be all-or-nothing, got %+v", vs)
		}
	})
}

func TestInsert_DuplicateWithinBatch(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		err := f.store.Insert(ctx, testOwner,
			makeVoucher("aaaaaaaaaaaa", 1),
			makeVoucher("aaaaaaaaaaaa", 2),
		)
		if !errors.Is(err, voucher.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		vs, _ := f.store.ListByOwner(ctx, testOwner)
		if len(vs) != 0 {
			t.Errorf("nothing should be inserted, got %d", len(vs))
		}
	})
}

// ── FindByID ──────────────────────────────────────────────────────────────────

func TestFindByID_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		_, err := f.store.FindByID(context.Background(), testOwner, "aaaaaaaaaaaa")
		if !errors.Is(err, voucher.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

// ── Replace ───────────────────────────────────────────────────────────────────

func TestReplace_UpdatesInPlaceAndQueuesIntent(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		f.store.Insert(ctx, testOwner, makeVoucher("aaaaaaaaaaaa", 10)) //nolint:errcheck

		v, err := f.store.FindByID(ctx, testOwner, "aaaaaaaaaaaa")
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		claimant := testOther
		v.PaidAmount.SetUint64(10)
		v.UsedBy = &claimant

		if err := f.store.Replace(ctx, testOwner, v, testIntent(10)); err != nil {
			t.Fatalf("Replace: %v", err)
		}

		got, _ := f.store.FindByID(ctx, testOwner, "aaaaaaaaaaaa")
		if got.PaidAmount.Uint64() != 10 || got.UsedBy == nil || *got.UsedBy != claimant {
			t.Errorf("replace not applied: %+v", got)
		}
		vs, _ := f.store.ListByOwner(ctx, testOwner)
		if len(vs) != 1 {
			t.Errorf("replace must not duplicate the voucher, got %d", len(vs))
		}
		if f.pending() != 1 {
			t.Errorf("expected 1 queued intent, got %d", f.pending())
		}
	})
}

func TestReplace_MissingIDQueuesNothing(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		err := f.store.Replace(context.Background(), testOwner, makeVoucher("aaaaaaaaaaaa", 1), testIntent(1))
		if !errors.Is(err, voucher.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if f.pending() != 0 {
			t.Error("failed replace must not queue an intent")
		}
	})
}

// ── Remove ────────────────────────────────────────────────────────────────────

func TestRemove(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		f.store.Insert(ctx, testOwner, makeVoucher("aaaaaaaaaaaa", 10), makeVoucher("bbbbbbbbbbbb", 10)) //nolint:errcheck

		if err := f.store.Remove(ctx, testOwner, "aaaaaaaaaaaa", testIntent(10)); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		vs, _ := f.store.ListByOwner(ctx, testOwner)
		if len(vs) != 1 || vs[0].ID != "bbbbbbbbbbbb" {
			t.Errorf("unexpected list after remove: %+v", vs)
		}
		if f.pending() != 1 {
			t.Errorf("expected 1 queued intent, got %d", f.pending())
		}

		// Removing twice is an error, not a no-op.
		if err := f.store.Remove(ctx, testOwner, "aaaaaaaaaaaa", nil); !errors.Is(err, voucher.ErrNotFound) {
			t.Errorf("expected ErrNotFound on second remove, got %v", err)
		}
	})
}

func TestRemove_NilIntent(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		f.store.Insert(ctx, testOwner, makeVoucher("aaaaaaaaaaaa", 10)) //nolint:errcheck
		if err := f.store.Remove(ctx, testOwner, "aaaaaaaaaaaa", nil); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if f.pending() != 0 {
			t.Error("no intent expected")
		}
	})
}

// ── Memory isolation ──────────────────────────────────────────────────────────

// Readers hold copies: mutating a returned voucher must not touch the store.
func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	s.Insert(ctx, testOwner, makeVoucher("aaaaaaaaaaaa", 10)) //nolint:errcheck

	v, _ := s.FindByID(ctx, testOwner, "aaaaaaaaaaaa")
	v.PaidAmount.SetUint64(7)
	by := "0xmallory"
	v.UsedBy = &by

	again, _ := s.FindByID(ctx, testOwner, "aaaaaaaaaaaa")
	if !again.PaidAmount.IsZero() || again.UsedBy != nil {
		t.Errorf("store mutated through a returned copy: %+v", again)
	}
}

// A snapshot taken before a write keeps seeing the old collection.
func TestMemoryStore_SnapshotUnaffectedByLaterWrites(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	s.Insert(ctx, testOwner, makeVoucher("aaaaaaaaaaaa", 10)) //nolint:errcheck

	before, _ := s.ListByOwner(ctx, testOwner)
	s.Insert(ctx, testOwner, makeVoucher("bbbbbbbbbbbb", 10)) //nolint:errcheck
	s.Remove(ctx, testOwner, "aaaaaaaaaaaa", nil)             //nolint:errcheck

	if len(before) != 1 || before[0].ID != "aaaaaaaaaaaa" {
		t.Errorf("snapshot changed: %+v", before)
	}
}

// ── Redis layout ──────────────────────────────────────────────────────────────

func TestRedisStore_HashLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(rdb, payout.NewRedisQueue(rdb))
	ctx := context.Background()

	s.Insert(ctx, testOwner, makeVoucher("aaaaaaaaaaaa", 10)) //nolint:errcheck

	raw := mr.HGet("escrow:vouchers:"+testOwner, "aaaaaaaaaaaa")
	if raw == "" {
		t.Fatal("voucher hash field missing")
	}
	var v voucher.Voucher
	if err := v.UnmarshalJSON([]byte(raw)); err != nil {
		t.Fatalf("stored value is not voucher JSON: %v", err)
	}
	if v.DepositAmount.Uint64() != 10 {
		t.Errorf("deposit: got %s want 10", v.DepositAmount.Dec())
	}
}

func TestRedisStore_CorruptRecord(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(rdb, payout.NewRedisQueue(rdb))

	mr.HSet("escrow:vouchers:"+testOwner, "aaaaaaaaaaaa", "{broken")
	if _, err := s.FindByID(context.Background(), testOwner, "aaaaaaaaaaaa"); err == nil {
		t.Error("expected decode error")
	}
	if _, err := s.ListByOwner(context.Background(), testOwner); err == nil {
		t.Error("expected decode error from list")
	}
}
