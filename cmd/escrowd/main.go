package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-voucher-escrow/internal/api"
	"github.com/0gfoundation/0g-voucher-escrow/internal/auth"
	"github.com/0gfoundation/0g-voucher-escrow/internal/config"
	"github.com/0gfoundation/0g-voucher-escrow/internal/escrow"
	"github.com/0gfoundation/0g-voucher-escrow/internal/metrics"
	"github.com/0gfoundation/0g-voucher-escrow/internal/payout"
	"github.com/0gfoundation/0g-voucher-escrow/internal/store"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Storage backend (vouchers + payout outbox + auth nonces) ─────────────
	b, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatal("storage init failed", zap.Error(err))
	}
	log.Info("storage ready", zap.String("backend", cfg.Escrow.StoreBackend))

	// ── Payout dispatcher ─────────────────────────────────────────────────────
	var dispatcher payout.Dispatcher = payout.NewLogDispatcher(log)
	if cfg.OnChain() {
		cd, err := payout.DialChainDispatcher(cfg.Chain.RPCURL, cfg.Chain.PayerKey, cfg.Chain.ChainID,
			time.Duration(cfg.Chain.WaitTimeoutSec)*time.Second, log)
		if err != nil {
			log.Fatal("chain dispatcher init failed", zap.Error(err))
		}
		log.Info("payouts go on-chain", zap.String("payer", cd.From().Hex()), zap.Int64("chain_id", cfg.Chain.ChainID))
		dispatcher = cd
	} else {
		log.Warn("RPC_URL not set, payouts are logged only")
	}

	m := metrics.New()
	engine := escrow.NewEngine(b.store, cfg.MaxDepositAmount(), log, escrow.WithMetrics(m))

	// ── Goroutines ────────────────────────────────────────────────────────────
	relay := payout.NewRelay(b.queue, dispatcher, payout.RelayConfig{
		MaxAttempts: cfg.Payout.MaxAttempts,
		RetryDelay:  time.Duration(cfg.Payout.RetryDelaySec) * time.Second,
		PopTimeout:  time.Duration(cfg.Payout.PopTimeoutSec) * time.Second,
		LeaseTTL:    time.Duration(cfg.Payout.LeaseTTLSec) * time.Second,
	}, m, log)
	go relay.Run(ctx)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	verifier := auth.NewVerifier(b.nonces, log)
	api.NewHandler(engine, log).Register(r.Group("/api"), verifier)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

type backend struct {
	store  store.Store
	queue  payout.Queue
	nonces auth.NonceStore
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.Escrow.StoreBackend == "memory" {
		q := payout.NewMemoryQueue()
		return &backend{
			store:  store.NewMemoryStore(q),
			queue:  q,
			nonces: auth.NewMemoryNonces(),
		}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	q := payout.NewRedisQueue(rdb)
	return &backend{
		store:  store.NewRedisStore(rdb, q),
		queue:  q,
		nonces: auth.NewRedisNonces(rdb),
	}, nil
}
