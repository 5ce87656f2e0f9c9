package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/careloop/jobs/internal/jobs/payments"
	"github.com/careloop/jobs/internal/jobs/slots"
	"github.com/careloop/jobs/internal/jobs/sweep"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if cfg.Locks.TTL == 0 {
		cfg.Locks.TTL = 10 * time.Minute
	}
	if cfg.Alerts.Timeout == 0 {
		cfg.Alerts.Timeout = 10 * time.Second
	}
	if cfg.Alerts.ConsecutiveFailures == 0 {
		cfg.Alerts.ConsecutiveFailures = 3
	}

	mergeSweepDefaults(&cfg.Jobs.PendingActions)
	mergeSlotDefaults(&cfg.Jobs.SlotLifecycle)
	mergePaymentDefaults(&cfg.Jobs.PaymentReconcile)
}

func mergeSweepDefaults(c *sweep.Config) {
	def := sweep.DefaultConfig()
	if c.Interval == 0 {
		c.Interval = def.Interval
	}
	if c.BatchSize == 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxPerRun == 0 {
		c.MaxPerRun = def.MaxPerRun
	}
	if c.Concurrency == 0 {
		c.Concurrency = def.Concurrency
	}
	if c.BatchDelay == 0 {
		c.BatchDelay = def.BatchDelay
	}
	if c.PlatformFeePercent == 0 {
		c.PlatformFeePercent = def.PlatformFeePercent
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = def.Retry
	}
}

func mergeSlotDefaults(c *slots.Config) {
	def := slots.DefaultConfig()
	if c.Hour == 0 && c.Minute == 0 {
		c.Hour, c.Minute = def.Hour, def.Minute
	}
	if c.HorizonDays == 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.SlotMinutes == 0 {
		c.SlotMinutes = def.SlotMinutes
	}
	if c.Concurrency == 0 {
		c.Concurrency = def.Concurrency
	}
	if c.PlatformFeePercent == 0 {
		c.PlatformFeePercent = def.PlatformFeePercent
	}
	if c.ExpiryAlertThreshold == 0 {
		c.ExpiryAlertThreshold = def.ExpiryAlertThreshold
	}
	if c.CoverageAlertThreshold == 0 {
		c.CoverageAlertThreshold = def.CoverageAlertThreshold
	}
}

func mergePaymentDefaults(c *payments.Config) {
	def := payments.DefaultConfig()
	if c.Interval == 0 {
		c.Interval = def.Interval
	}
	if c.BatchSize == 0 {
		c.BatchSize = def.BatchSize
	}
	if c.Holdback == 0 {
		c.Holdback = def.Holdback
	}
}
