// Package escrow runs the voucher lifecycle: create, redeem, cancel, and the
// read-only queries over an owner's collection.
package escrow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-voucher-escrow/internal/metrics"
	"github.com/0gfoundation/0g-voucher-escrow/internal/payout"
	"github.com/0gfoundation/0g-voucher-escrow/internal/store"
	"github.com/0gfoundation/0g-voucher-escrow/internal/voucher"
)

// Engine serialises every mutating operation behind one lock, validates the
// whole request before the first write, and hands each payout to the store in
// the same commit as the voucher change.
type Engine struct {
	mu         sync.Mutex
	store      store.Store
	maxDeposit uint256.Int
	now        func() time.Time
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics records lifecycle counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine returns an engine over s that refuses deposits above maxDeposit.
func NewEngine(s store.Store, maxDeposit *uint256.Int, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:      s,
		maxDeposit: *maxDeposit,
		now:        time.Now,
		log:        log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateRequest carries one createVoucher call. Commitments[i] locks IDs[i].
type CreateRequest struct {
	Owner       string
	Commitments []string
	IDs         []string
	ExpireAt    *int64 // unix nanoseconds
	PaymentType voucher.PaymentType
	Deposit     *uint256.Int // attached deposit, split evenly across IDs
}

// Info is the public view of one voucher.
type Info struct {
	Voucher   voucher.Voucher // commitment redacted
	Claimable *uint256.Int
}

// CreateVouchers escrows req.Deposit across len(req.IDs) new vouchers. The
// remainder of the split stays in escrow as dust.
func (e *Engine) CreateVouchers(ctx context.Context, req CreateRequest) ([]voucher.Voucher, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().UnixNano()
	vs, err := e.buildVouchers(req, now)
	if err != nil {
		return nil, e.reject("create", req.Owner, "", err)
	}
	if err := e.store.Insert(ctx, req.Owner, vs...); err != nil {
		return nil, e.reject("create", req.Owner, "", err)
	}

	e.metrics.VouchersCreated(req.PaymentType.String(), len(vs))
	e.log.Info("vouchers created",
		zap.String("owner", req.Owner),
		zap.String("type", req.PaymentType.String()),
		zap.Int("count", len(vs)),
		zap.String("per_voucher", vs[0].DepositAmount.Dec()),
	)
	return vs, nil
}

func (e *Engine) buildVouchers(req CreateRequest, now int64) ([]voucher.Voucher, error) {
	if req.Owner == "" {
		return nil, fmt.Errorf("%w: owner required", voucher.ErrValidation)
	}
	if req.Deposit == nil || req.Deposit.IsZero() {
		return nil, fmt.Errorf("%w: attach a deposit", voucher.ErrValidation)
	}
	if req.Deposit.Gt(&e.maxDeposit) {
		return nil, fmt.Errorf("%w: deposit %s exceeds maximum %s", voucher.ErrValidation, req.Deposit.Dec(), e.maxDeposit.Dec())
	}
	if len(req.IDs) == 0 || len(req.IDs) != len(req.Commitments) {
		return nil, fmt.Errorf("%w: need matching ids and commitments, got %d and %d",
			voucher.ErrValidation, len(req.IDs), len(req.Commitments))
	}
	commitments := make([]string, len(req.Commitments))
	for i, id := range req.IDs {
		if err := voucher.ValidateID(id); err != nil {
			return nil, err
		}
		c, err := voucher.NormalizeCommitment(req.Commitments[i])
		if err != nil {
			return nil, err
		}
		commitments[i] = c
	}
	if req.PaymentType != voucher.Static && req.PaymentType != voucher.Linear {
		return nil, fmt.Errorf("%w: unknown payment type %d", voucher.ErrValidation, req.PaymentType)
	}
	if req.PaymentType == voucher.Linear && req.ExpireAt == nil {
		return nil, fmt.Errorf("%w: linear vouchers need an expiry", voucher.ErrValidation)
	}
	if req.ExpireAt != nil && *req.ExpireAt <= now {
		return nil, fmt.Errorf("%w: expiry must be in the future", voucher.ErrValidation)
	}

	// Stricter than accepting these as dust: a zero split or a zero vesting
	// rate would create vouchers that can never pay anything out.
	perVoucher := new(uint256.Int).Div(req.Deposit, uint256.NewInt(uint64(len(req.IDs))))
	if perVoucher.IsZero() {
		return nil, fmt.Errorf("%w: deposit %s is too small to split %d ways",
			voucher.ErrValidation, req.Deposit.Dec(), len(req.IDs))
	}
	if req.PaymentType == voucher.Linear {
		duration := voucher.VestingDuration(now, *req.ExpireAt)
		if duration == 0 {
			return nil, fmt.Errorf("%w: vesting period must be at least one second", voucher.ErrValidation)
		}
		if voucher.VestingRate(perVoucher, duration).IsZero() {
			return nil, fmt.Errorf("%w: %s over %ds vests nothing per second",
				voucher.ErrValidation, perVoucher.Dec(), duration)
		}
	}

	vs := make([]voucher.Voucher, len(req.IDs))
	for i, id := range req.IDs {
		v := voucher.Voucher{
			ID:              id,
			PaymentType:     req.PaymentType,
			DepositAmount:   *perVoucher,
			CreateTimestamp: now,
			Commitment:      commitments[i],
		}
		if req.ExpireAt != nil {
			exp := *req.ExpireAt
			v.ExpireTimestamp = &exp
		}
		vs[i] = v
	}
	return vs, nil
}

// CancelVoucher removes an unclaimed or fully claimed voucher and refunds
// whatever is left to the owner.
func (e *Engine) CancelVoucher(ctx context.Context, owner, id string) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.store.FindByID(ctx, owner, id)
	if err != nil {
		return nil, e.reject("cancel", owner, id, err)
	}
	if !v.Unclaimed() && !v.FullyClaimed() {
		return nil, e.reject("cancel", owner, id,
			fmt.Errorf("%w: %s of %s paid", voucher.ErrVoucherLocked, v.PaidAmount.Dec(), v.DepositAmount.Dec()))
	}

	refund := v.Remaining()
	var intent *payout.Intent
	if !refund.IsZero() {
		intent = payout.NewIntent(payout.KindRefund, owner, refund, owner, id, e.now().UnixNano())
	}
	if err := e.store.Remove(ctx, owner, id, intent); err != nil {
		return nil, e.reject("cancel", owner, id, err)
	}

	e.metrics.VoucherCancelled()
	e.log.Info("voucher cancelled",
		zap.String("owner", owner),
		zap.String("voucher", id),
		zap.String("refund", refund.Dec()),
	)
	return refund, nil
}

// RedeemVoucher pays the claimant what the voucher currently allows. The
// first successful claimant becomes the only identity allowed to claim again.
func (e *Engine) RedeemVoucher(ctx context.Context, owner, secret, id, claimant string) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if claimant == "" {
		return nil, e.reject("redeem", owner, id, fmt.Errorf("%w: claimant required", voucher.ErrValidation))
	}
	v, err := e.store.FindByID(ctx, owner, id)
	if err != nil {
		return nil, e.reject("redeem", owner, id, err)
	}
	if !voucher.VerifySecret(secret, v.Commitment) {
		return nil, e.reject("redeem", owner, id, voucher.ErrInvalidSecret)
	}
	if v.UsedBy != nil && *v.UsedBy != claimant {
		return nil, e.reject("redeem", owner, id, voucher.ErrNotAuthorized)
	}

	now := e.now().UnixNano()
	var amount *uint256.Int
	switch v.PaymentType {
	case voucher.Static:
		if v.ExpireTimestamp != nil && *v.ExpireTimestamp < now {
			return nil, e.reject("redeem", owner, id, voucher.ErrExpired)
		}
		if !v.PaidAmount.IsZero() {
			return nil, e.reject("redeem", owner, id, voucher.ErrAlreadyUsed)
		}
		amount = new(uint256.Int).Set(&v.DepositAmount)
	case voucher.Linear:
		amount = voucher.ClaimableAmount(v, now)
		if amount.IsZero() {
			return nil, e.reject("redeem", owner, id, voucher.ErrNothingToClaim)
		}
	default:
		return nil, e.reject("redeem", owner, id, fmt.Errorf("stored voucher has unknown payment type %d", v.PaymentType))
	}

	updated := v.Clone()
	updated.PaidAmount.Add(&updated.PaidAmount, amount)
	if updated.PaidAmount.Gt(&updated.DepositAmount) {
		return nil, e.reject("redeem", owner, id,
			fmt.Errorf("paid %s would exceed deposit %s", updated.PaidAmount.Dec(), updated.DepositAmount.Dec()))
	}
	updated.UsedBy = &claimant

	intent := payout.NewIntent(payout.KindRedeem, claimant, amount, owner, id, now)
	if err := e.store.Replace(ctx, owner, updated, intent); err != nil {
		return nil, e.reject("redeem", owner, id, err)
	}

	e.metrics.VoucherRedeemed(v.PaymentType.String())
	e.log.Info("voucher redeemed",
		zap.String("owner", owner),
		zap.String("voucher", id),
		zap.String("claimant", claimant),
		zap.String("amount", amount.Dec()),
		zap.String("paid_total", updated.PaidAmount.Dec()),
	)
	return amount, nil
}

// ListVouchers returns the owner's vouchers; an unknown owner has none.
func (e *Engine) ListVouchers(ctx context.Context, owner string) ([]voucher.Voucher, error) {
	return e.store.ListByOwner(ctx, owner)
}

// VoucherInfo returns the voucher without its commitment, plus what a
// redemption right now would pay.
func (e *Engine) VoucherInfo(ctx context.Context, id, owner string) (*Info, error) {
	v, err := e.store.FindByID(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return &Info{
		Voucher:   v.Redacted(),
		Claimable: voucher.ClaimableAmount(v, e.now().UnixNano()),
	}, nil
}

func (e *Engine) reject(op, owner, id string, err error) error {
	code := voucher.Code(err)
	e.metrics.OperationError(op, code)
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("owner", owner),
		zap.String("code", code),
		zap.Error(err),
	}
	if id != "" {
		fields = append(fields, zap.String("voucher", id))
	}
	if code == "internal" {
		e.log.Error("operation failed", fields...)
	} else {
		e.log.Info("operation rejected", fields...)
	}
	return err
}
