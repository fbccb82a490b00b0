// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable of the sync engine. Backend credentials are
// not here: they are stored encrypted in the database and managed over the
// API.
type Config struct {
	DBPath     string `env:"TILLSYNC_DB_PATH" envDefault:"tillsync.db"`
	ListenAddr string `env:"TILLSYNC_LISTEN_ADDR" envDefault:"127.0.0.1:7345"`
	LogLevel   string `env:"TILLSYNC_LOG_LEVEL" envDefault:"INFO"`

	ProbeInterval time.Duration `env:"TILLSYNC_PROBE_INTERVAL" envDefault:"30s"`
	ProbeTimeout  time.Duration `env:"TILLSYNC_PROBE_TIMEOUT" envDefault:"5s"`

	QueueCapacity   int           `env:"TILLSYNC_QUEUE_CAPACITY" envDefault:"1000"`
	QueueBatchSize  int           `env:"TILLSYNC_QUEUE_BATCH_SIZE" envDefault:"10"`
	QueueBatchPause time.Duration `env:"TILLSYNC_QUEUE_BATCH_PAUSE" envDefault:"500ms"`
	RetryBaseDelay  time.Duration `env:"TILLSYNC_RETRY_BASE_DELAY" envDefault:"1s"`
	MaxAttempts     int           `env:"TILLSYNC_MAX_ATTEMPTS" envDefault:"5"`

	CriticalSaleThreshold float64 `env:"TILLSYNC_CRITICAL_SALE_THRESHOLD" envDefault:"500"`

	SyncInterval    time.Duration `env:"TILLSYNC_SYNC_INTERVAL" envDefault:"5m"`
	CleanupInterval time.Duration `env:"TILLSYNC_CLEANUP_INTERVAL" envDefault:"24h"`
	CleanupMaxAge   time.Duration `env:"TILLSYNC_CLEANUP_MAX_AGE" envDefault:"720h"`

	RequestTimeout time.Duration `env:"TILLSYNC_REQUEST_TIMEOUT" envDefault:"30s"`

	// MachineID seeds the key that seals stored credentials. Empty means
	// derive from the hostname.
	MachineID string `env:"TILLSYNC_MACHINE_ID"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("TILLSYNC_QUEUE_CAPACITY must be positive, got %d", c.QueueCapacity)
	}
	if c.QueueBatchSize <= 0 {
		return fmt.Errorf("TILLSYNC_QUEUE_BATCH_SIZE must be positive, got %d", c.QueueBatchSize)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("TILLSYNC_MAX_ATTEMPTS must be positive, got %d", c.MaxAttempts)
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("TILLSYNC_RETRY_BASE_DELAY must be positive, got %s", c.RetryBaseDelay)
	}
	return nil
}
