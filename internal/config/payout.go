package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// PayoutConfig is the operator-tunable disbursement policy. Money amounts are
// kept as strings in the config file and parsed into decimals on access so the
// policy never round-trips through binary floats.
type PayoutConfig struct {
	MinimumPayoutUSD string      `mapstructure:"minimumPayoutUsd"`
	FeePercent       string      `mapstructure:"feePercent"`
	MaxBatchSize     int         `mapstructure:"maxBatchSize"`
	DefaultProvider  string      `mapstructure:"defaultProvider"`
	Retry            RetryPolicy `mapstructure:"retry"`
}

type RetryPolicy struct {
	MaxAttempts       int     `mapstructure:"maxAttempts"`
	InitialDelayMS    int     `mapstructure:"initialDelayMs"`
	MaxDelayMS        int     `mapstructure:"maxDelayMs"`
	BackoffMultiplier float64 `mapstructure:"backoffMultiplier"`
}

func (r RetryPolicy) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMS) * time.Millisecond
}

func (r RetryPolicy) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMS) * time.Millisecond
}

func DefaultPayoutConfig() PayoutConfig {
	return PayoutConfig{
		MinimumPayoutUSD: "5.00",
		FeePercent:       "0",
		MaxBatchSize:     200,
		DefaultProvider:  "mock",
		Retry: RetryPolicy{
			MaxAttempts:       3,
			InitialDelayMS:    1000,
			MaxDelayMS:        30000,
			BackoffMultiplier: 2,
		},
	}
}

func (c PayoutConfig) MinimumPayout() decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(c.MinimumPayoutUSD))
	if err != nil {
		return decimal.Zero
	}
	return value
}

func (c PayoutConfig) Fee() decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(c.FeePercent))
	if err != nil {
		return decimal.Zero
	}
	return value
}

// PayoutConfigHolder serves the current payout policy and hot-reloads it when
// the mounted config file changes.
type PayoutConfigHolder struct {
	current atomic.Value // holds PayoutConfig
}

func NewPayoutConfigHolder(cfg Config) (*PayoutConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("payout")
	v.SetConfigType("yml")
	if path := strings.TrimSpace(cfg.PayoutConfigPath); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("/var/lib/disburse/config") // Volume-mounted config
	v.AddConfigPath("/etc/disburse")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("DISBURSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPayoutConfig()
	v.SetDefault("payout.minimumPayoutUsd", defaults.MinimumPayoutUSD)
	v.SetDefault("payout.feePercent", defaults.FeePercent)
	v.SetDefault("payout.maxBatchSize", defaults.MaxBatchSize)
	v.SetDefault("payout.defaultProvider", defaults.DefaultProvider)
	v.SetDefault("payout.retry.maxAttempts", defaults.Retry.MaxAttempts)
	v.SetDefault("payout.retry.initialDelayMs", defaults.Retry.InitialDelayMS)
	v.SetDefault("payout.retry.maxDelayMs", defaults.Retry.MaxDelayMS)
	v.SetDefault("payout.retry.backoffMultiplier", defaults.Retry.BackoffMultiplier)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var payout PayoutConfig
	if err := v.UnmarshalKey("payout", &payout); err != nil {
		return nil, err
	}
	if err := ValidatePayoutConfig(payout); err != nil {
		return nil, err
	}

	holder := &PayoutConfigHolder{}
	holder.current.Store(payout)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PayoutConfig
		if err := v.UnmarshalKey("payout", &updated); err != nil {
			log.Printf("[payout-config] reload failed: %v", err)
			return
		}
		if err := ValidatePayoutConfig(updated); err != nil {
			log.Printf("[payout-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[payout-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PayoutConfigHolder) Current() PayoutConfig {
	if h == nil {
		return DefaultPayoutConfig()
	}
	value, ok := h.current.Load().(PayoutConfig)
	if !ok {
		return DefaultPayoutConfig()
	}
	return value
}

// Store replaces the current policy. Intended for tests and admin overrides.
func (h *PayoutConfigHolder) Store(cfg PayoutConfig) error {
	if err := ValidatePayoutConfig(cfg); err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}

func ValidatePayoutConfig(cfg PayoutConfig) error {
	minimum, err := decimal.NewFromString(strings.TrimSpace(cfg.MinimumPayoutUSD))
	if err != nil || minimum.IsNegative() {
		return errors.New("payout.minimumPayoutUsd must be a non-negative decimal")
	}
	fee, err := decimal.NewFromString(strings.TrimSpace(cfg.FeePercent))
	if err != nil || fee.IsNegative() || fee.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("payout.feePercent must be a decimal in [0,100]")
	}
	if cfg.MaxBatchSize <= 0 {
		return errors.New("payout.maxBatchSize must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.DefaultProvider)) {
	case "mock", "rise":
	default:
		return errors.New("payout.defaultProvider must be mock or rise")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return errors.New("payout.retry.maxAttempts must be positive")
	}
	if cfg.Retry.InitialDelayMS < 0 || cfg.Retry.MaxDelayMS < cfg.Retry.InitialDelayMS {
		return errors.New("payout.retry delays are inconsistent")
	}
	if cfg.Retry.BackoffMultiplier < 1 {
		return errors.New("payout.retry.backoffMultiplier must be >= 1")
	}
	return nil
}
