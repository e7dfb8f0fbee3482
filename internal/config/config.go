package config

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/spf13/viper"

	"github.com/0gfoundation/0g-voucher-escrow/internal/voucher"
)

type Config struct {
	Redis  RedisConfig
	Escrow EscrowConfig
	Payout PayoutConfig
	Chain  ChainConfig
	Server ServerConfig

	maxDeposit *uint256.Int
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type EscrowConfig struct {
	MaxDeposit   string `mapstructure:"max_deposit"`
	StoreBackend string `mapstructure:"store_backend"` // redis | memory
}

type PayoutConfig struct {
	MaxAttempts   int   `mapstructure:"max_attempts"`
	RetryDelaySec int64 `mapstructure:"retry_delay_sec"`
	PopTimeoutSec int64 `mapstructure:"pop_timeout_sec"`
	LeaseTTLSec   int64 `mapstructure:"lease_ttl_sec"` // single-relay lease
}

// ChainConfig is optional. Without an RPC URL payouts are only logged.
type ChainConfig struct {
	RPCURL         string `mapstructure:"rpc_url"`
	PayerKey       string `mapstructure:"payer_key"`
	ChainID        int64  `mapstructure:"chain_id"`
	WaitTimeoutSec int64  `mapstructure:"wait_timeout_sec"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// MaxDepositAmount returns the per-request deposit ceiling parsed by Load.
func (c *Config) MaxDepositAmount() *uint256.Int { return c.maxDeposit }

// OnChain reports whether payouts should be broadcast.
func (c *Config) OnChain() bool { return c.Chain.RPCURL != "" }

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("escrow.max_deposit", "10000000000000000000000000")
	v.SetDefault("escrow.store_backend", "redis")
	v.SetDefault("payout.max_attempts", 10)
	v.SetDefault("payout.retry_delay_sec", 5)
	v.SetDefault("payout.pop_timeout_sec", 5)
	v.SetDefault("payout.lease_ttl_sec", 30)
	v.SetDefault("chain.wait_timeout_sec", 120)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"redis.addr":             "REDIS_ADDR",
		"redis.password":         "REDIS_PASSWORD",
		"escrow.max_deposit":     "MAX_DEPOSIT",
		"escrow.store_backend":   "STORE_BACKEND",
		"payout.max_attempts":    "PAYOUT_MAX_ATTEMPTS",
		"payout.retry_delay_sec": "PAYOUT_RETRY_DELAY_SEC",
		"payout.pop_timeout_sec": "PAYOUT_POP_TIMEOUT_SEC",
		"payout.lease_ttl_sec":   "PAYOUT_LEASE_TTL_SEC",
		"chain.rpc_url":          "RPC_URL",
		"chain.payer_key":        "PAYER_KEY",
		"chain.chain_id":         "CHAIN_ID",
		"chain.wait_timeout_sec": "CHAIN_WAIT_TIMEOUT_SEC",
		"server.port":            "PORT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	ceiling, err := voucher.ParseAmount(c.Escrow.MaxDeposit)
	if err != nil {
		return fmt.Errorf("MAX_DEPOSIT: %w", err)
	}
	if ceiling.IsZero() {
		return fmt.Errorf("MAX_DEPOSIT must be positive")
	}
	c.maxDeposit = ceiling

	switch c.Escrow.StoreBackend {
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("required config missing: REDIS_ADDR")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be redis or memory, got %q", c.Escrow.StoreBackend)
	}

	if c.Payout.MaxAttempts < 1 {
		return fmt.Errorf("PAYOUT_MAX_ATTEMPTS must be at least 1")
	}
	if c.Payout.RetryDelaySec < 0 || c.Payout.PopTimeoutSec < 1 {
		return fmt.Errorf("payout delays must be positive")
	}
	if c.Payout.LeaseTTLSec < 3*c.Payout.PopTimeoutSec {
		return fmt.Errorf("PAYOUT_LEASE_TTL_SEC must be at least three pop timeouts")
	}

	if !c.OnChain() {
		return nil
	}
	if c.Chain.PayerKey == "" {
		return fmt.Errorf("required config missing: PAYER_KEY")
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	return nil
}
