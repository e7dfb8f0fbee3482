// Package store persists each owner's voucher collection.
//
// Every mutation replaces the owner's collection in one atomic step and, when
// an intent is supplied, records that payout intent in the same step.
package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/0gfoundation/0g-voucher-escrow/internal/payout"
	"github.com/0gfoundation/0g-voucher-escrow/internal/voucher"
)

// Store is the voucher collection keyed by (owner, id).
type Store interface {
	// ListByOwner returns the owner's vouchers sorted by id. An unknown owner
	// has an empty collection.
	ListByOwner(ctx context.Context, owner string) ([]voucher.Voucher, error)
	// FindByID returns voucher.ErrNotFound when the id is absent.
	FindByID(ctx context.Context, owner, id string) (voucher.Voucher, error)
	// Insert adds all vouchers or none; any id already present, or repeated
	// within the batch, fails with voucher.ErrConflict.
	Insert(ctx context.Context, owner string, vs ...voucher.Voucher) error
	// Replace overwrites the voucher with the same id.
	Replace(ctx context.Context, owner string, v voucher.Voucher, intent *payout.Intent) error
	// Remove deletes the voucher with the given id.
	Remove(ctx context.Context, owner, id string, intent *payout.Intent) error
}

func checkBatch(owner string, vs []voucher.Voucher, exists func(id string) bool) error {
	seen := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("%w: id %q repeated in request", voucher.ErrConflict, v.ID)
		}
		seen[v.ID] = struct{}{}
		if exists(v.ID) {
			return fmt.Errorf("%w: id %q for owner %s", voucher.ErrConflict, v.ID, owner)
		}
	}
	return nil
}

func notFound(owner, id string) error {
	return fmt.Errorf("%w: id %q for owner %s", voucher.ErrNotFound, id, owner)
}

func sortByID(vs []voucher.Voucher) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })
}
