package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Kind says why value leaves escrow.
type Kind string

const (
	KindRedeem Kind = "redeem" // claimant redeemed a voucher
	KindRefund Kind = "refund" // owner cancelled a voucher
)

// Redis key layout for the payout outbox.
const (
	QueueKey      = "payout:queue"
	ProcessingKey = "payout:processing"
	DLQKey        = "payout:dlq"
	LeaseKey      = "payout:relay:lease"
)

// ErrPermanent marks a dispatcher failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent payout failure")

// Intent is a recorded instruction to move Amount to Account. It is written
// in the same commit as the voucher mutation that caused it and stays queued
// until a Dispatcher confirms it.
type Intent struct {
	ID        string
	Kind      Kind
	Account   string
	Amount    uint256.Int
	Owner     string
	VoucherID string
	CreatedAt int64 // unix nanoseconds
	Attempts  int
}

// NewIntent stamps a fresh intent with a random id.
func NewIntent(kind Kind, account string, amount *uint256.Int, owner, voucherID string, now int64) *Intent {
	return &Intent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Account:   account,
		Amount:    *amount,
		Owner:     owner,
		VoucherID: voucherID,
		CreatedAt: now,
	}
}

type wireIntent struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Account   string `json:"account"`
	Amount    string `json:"amount"`
	Owner     string `json:"owner"`
	VoucherID string `json:"voucher_id"`
	CreatedAt int64  `json:"created_at"`
	Attempts  int    `json:"attempts"`
}

func (in Intent) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireIntent{
		ID:        in.ID,
		Kind:      in.Kind,
		Account:   in.Account,
		Amount:    in.Amount.Dec(),
		Owner:     in.Owner,
		VoucherID: in.VoucherID,
		CreatedAt: in.CreatedAt,
		Attempts:  in.Attempts,
	})
}

func (in *Intent) UnmarshalJSON(b []byte) error {
	var w wireIntent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	amount, err := uint256.FromDecimal(w.Amount)
	if err != nil {
		return fmt.Errorf("intent amount %q: %w", w.Amount, err)
	}
	*in = Intent{
		ID:        w.ID,
		Kind:      w.Kind,
		Account:   w.Account,
		Amount:    *amount,
		Owner:     w.Owner,
		VoucherID: w.VoucherID,
		CreatedAt: w.CreatedAt,
		Attempts:  w.Attempts,
	}
	return nil
}

// Dispatcher executes value transfers on the host platform. Implementations
// must tolerate the same intent arriving more than once.
type Dispatcher interface {
	Transfer(ctx context.Context, in *Intent) error
}

// Enqueuer accepts intents for later dispatch.
type Enqueuer interface {
	Enqueue(ctx context.Context, in *Intent) error
}
