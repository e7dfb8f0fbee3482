package payout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-voucher-escrow/internal/metrics"
)

// RelayConfig tunes the dispatch loop.
type RelayConfig struct {
	MaxAttempts int           // dispatch attempts before dead-lettering
	RetryDelay  time.Duration // pause after a failed dispatch
	PopTimeout  time.Duration // blocking pop timeout
	LeaseTTL    time.Duration // single-relay lease, renewed every LeaseTTL/3
}

// Relay drains the payout queue into a Dispatcher, at least once per intent.
// Only the relay holding the queue lease pops or recovers, so replicas
// sharing one Redis never touch each other's in-flight intents.
type Relay struct {
	holder     string
	queue      Queue
	dispatcher Dispatcher
	cfg        RelayConfig
	metrics    *metrics.Metrics
	log        *zap.Logger
}

func NewRelay(q Queue, d Dispatcher, cfg RelayConfig, m *metrics.Metrics, log *zap.Logger) *Relay {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	return &Relay{holder: uuid.NewString(), queue: q, dispatcher: d, cfg: cfg, metrics: m, log: log}
}

// Run is the relay loop: take the lease, recover in-flight items, then
// pop → transfer → ack until the lease is lost or ctx is done.
func (r *Relay) Run(ctx context.Context) {
	r.log.Info("payout relay started", zap.String("holder", r.holder))
	defer func() {
		if err := r.queue.Release(context.Background(), r.holder); err != nil {
			r.log.Warn("relay: release lease", zap.Error(err))
		}
		r.log.Info("payout relay stopped")
	}()

	for ctx.Err() == nil {
		if !r.acquire(ctx) {
			return
		}
		leaseCtx, cancel := context.WithCancel(ctx)
		go r.keepLease(leaseCtx, cancel)

		if n, err := r.queue.Recover(leaseCtx); err != nil {
			r.log.Error("relay: recover in-flight intents", zap.Error(err))
		} else if n > 0 {
			r.log.Info("relay: recovered in-flight intents", zap.Int("count", n))
		}
		for leaseCtx.Err() == nil {
			if !r.step(leaseCtx) {
				sleep(leaseCtx, time.Second)
			}
		}
		cancel()
	}
}

// acquire blocks until this relay holds the lease. It returns false when ctx
// ends first.
func (r *Relay) acquire(ctx context.Context) bool {
	waiting := false
	for {
		ok, err := r.queue.Lease(ctx, r.holder, r.cfg.LeaseTTL)
		if err != nil && ctx.Err() == nil {
			r.log.Error("relay: acquire lease", zap.Error(err))
		}
		if ok {
			if waiting {
				r.log.Info("relay: lease acquired", zap.String("holder", r.holder))
			}
			return true
		}
		if !waiting && err == nil {
			r.log.Info("relay: another relay holds the lease, standing by")
			waiting = true
		}
		sleep(ctx, r.cfg.LeaseTTL/3)
		if ctx.Err() != nil {
			return false
		}
	}
}

// keepLease renews the lease until ctx ends and calls lost the first time a
// renewal fails, which stops the relay before the lease can expire.
func (r *Relay) keepLease(ctx context.Context, lost context.CancelFunc) {
	t := time.NewTicker(r.cfg.LeaseTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ok, err := r.queue.Lease(ctx, r.holder, r.cfg.LeaseTTL)
			if ctx.Err() != nil {
				return
			}
			if err != nil || !ok {
				r.log.Warn("relay: lease lost", zap.Bool("taken", err == nil), zap.Error(err))
				lost()
				return
			}
		}
	}
}

// step handles at most one delivery. It returns false when the loop should
// back off before the next pop.
func (r *Relay) step(ctx context.Context) bool {
	d, err := r.queue.Pop(ctx, r.cfg.PopTimeout)
	if err != nil {
		if errors.Is(err, ErrEmpty) {
			return true
		}
		if ctx.Err() != nil {
			return true
		}
		r.log.Error("relay: pop", zap.Error(err))
		return false
	}

	if ctx.Err() != nil {
		// The pop outlived the lease; hand the intent back untouched.
		if err := r.queue.Requeue(context.Background(), d); err != nil {
			r.log.Error("relay: requeue after lease loss", zap.String("intent", d.Intent.ID), zap.Error(err))
		}
		return true
	}

	in := d.Intent
	fields := []zap.Field{
		zap.String("intent", in.ID),
		zap.String("kind", string(in.Kind)),
		zap.String("account", in.Account),
		zap.String("amount", in.Amount.Dec()),
		zap.String("voucher", in.VoucherID),
	}

	err = r.dispatcher.Transfer(ctx, in)
	if err == nil {
		if err := r.queue.Ack(ctx, d); err != nil {
			// The transfer went through; a redelivery is absorbed by the
			// dispatcher's idempotency.
			r.log.Warn("relay: ack failed", append(fields, zap.Error(err))...)
		}
		r.metrics.Payout("settled")
		r.log.Info("payout settled", fields...)
		return true
	}

	fields = append(fields, zap.Int("attempts", in.Attempts+1), zap.Error(err))
	if errors.Is(err, ErrPermanent) || in.Attempts+1 >= r.cfg.MaxAttempts {
		if dlqErr := r.queue.DeadLetter(ctx, d); dlqErr != nil {
			r.log.Error("relay: dead-letter failed", append(fields, zap.NamedError("dlq_error", dlqErr))...)
			return false
		}
		r.metrics.Payout("dead_letter")
		r.log.Error("payout dead-lettered", fields...)
		return true
	}

	if rqErr := r.queue.Retry(ctx, d); rqErr != nil {
		r.log.Error("relay: requeue failed", append(fields, zap.NamedError("requeue_error", rqErr))...)
	}
	r.metrics.Payout("retry")
	r.log.Warn("payout failed, will retry", fields...)
	sleep(ctx, r.cfg.RetryDelay)
	return true
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
