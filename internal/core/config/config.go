// Package config defines application configuration and its YAML loader.
package config

import (
	"fmt"
	"time"

	"github.com/careloop/jobs/internal/alert"
	redisclient "github.com/careloop/jobs/internal/infra/redis"
	"github.com/careloop/jobs/internal/infra/rooms"
	"github.com/careloop/jobs/internal/infra/storage/postgres"
	"github.com/careloop/jobs/internal/jobs/payments"
	"github.com/careloop/jobs/internal/jobs/slots"
	"github.com/careloop/jobs/internal/jobs/sweep"
	"github.com/careloop/jobs/internal/scheduling/lock"
)

// AppConfig is the root configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Node     NodeConfig         `yaml:"node"`
	Timezone string             `yaml:"timezone"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Locks    lock.Config        `yaml:"locks"`
	Alerts   alert.Config       `yaml:"alerts"`
	Rooms    rooms.Config       `yaml:"rooms"`
	Jobs     JobsConfig         `yaml:"jobs"`

	// ShutdownGrace bounds how long in-flight runs may finish on shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// ServerConfig holds the health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// NodeConfig identifies this instance in locks and run records.
type NodeConfig struct {
	ID string `yaml:"id"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// JobsConfig holds per-job settings.
type JobsConfig struct {
	PendingActions   sweep.Config    `yaml:"pending_actions"`
	SlotLifecycle    slots.Config    `yaml:"slot_lifecycle"`
	PaymentReconcile payments.Config `yaml:"payment_reconcile"`
}

// Validate checks the configuration for fatal inconsistencies.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Locks.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("locks enabled but no redis url configured")
	}
	if c.Jobs.PendingActions.Interval <= 0 {
		return fmt.Errorf("pending_actions interval must be positive")
	}
	if c.Jobs.PaymentReconcile.Interval <= 0 {
		return fmt.Errorf("payment_reconcile interval must be positive")
	}
	sl := c.Jobs.SlotLifecycle
	if sl.Hour < 0 || sl.Hour > 23 || sl.Minute < 0 || sl.Minute > 59 {
		return fmt.Errorf("invalid slot_lifecycle schedule %02d:%02d", sl.Hour, sl.Minute)
	}
	if sl.HorizonDays <= 0 {
		return fmt.Errorf("slot_lifecycle horizon_days must be positive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves the configured platform timezone.
func (c *AppConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}
