// Package config defines service configuration structures and loading hooks.
//
// Values are layered: defaults from New, then an optional YAML file named by
// FESTBOARD_CONFIG, then FESTBOARD_* environment variables.
package config

import (
	"fmt"
	"time"
)

// Supported result store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects "text" or "json" log output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// StoreBackend selects the result store: memory, sqlite or postgres.
	StoreBackend string `koanf:"store_backend"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `koanf:"sqlite_path"`

	// DatabaseURL is the PostgreSQL connection string for the postgres backend.
	DatabaseURL string `koanf:"database_url"`

	// StoreTimeoutMS bounds every store call.
	StoreTimeoutMS int `koanf:"store_timeout_ms"`

	// ReadRetries is how many extra attempts idempotent reads get when the store is unavailable.
	ReadRetries int `koanf:"read_retries"`

	// RetryBackoffMS is the initial backoff between read retries; it doubles per attempt.
	RetryBackoffMS int `koanf:"retry_backoff_ms"`

	// SubscriberBuffer bounds each subscriber's pending event queue.
	SubscriberBuffer int `koanf:"subscriber_buffer"`

	// RedisAddr enables the cross-instance relay when non-empty.
	RedisAddr string `koanf:"redis_addr"`

	// RedisChannel is the pub/sub channel used by the relay.
	RedisChannel string `koanf:"redis_channel"`

	// DedupeSize bounds the relay's remembered event ids.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		StoreBackend:        BackendMemory,
		SQLitePath:          "festboard.db",
		StoreTimeoutMS:      2000,
		ReadRetries:         3,
		RetryBackoffMS:      50,
		SubscriberBuffer:    256,
		RedisChannel:        "festboard:events",
		DedupeSize:          50_000,
		MaxLeaderboardLimit: 500,
	}
}

// StoreTimeout returns StoreTimeoutMS as a duration.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

// RetryBackoff returns RetryBackoffMS as a duration.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StoreTimeoutMS <= 0:
		return fmt.Errorf("%w: store_timeout_ms must be positive", ErrInvalidConfig)
	case c.ReadRetries < 0:
		return fmt.Errorf("%w: read_retries must not be negative", ErrInvalidConfig)
	case c.SubscriberBuffer <= 0:
		return fmt.Errorf("%w: subscriber_buffer must be positive", ErrInvalidConfig)
	case c.MaxLeaderboardLimit <= 0:
		return fmt.Errorf("%w: max_leaderboard_limit must be positive", ErrInvalidConfig)
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite_path is required for the sqlite backend", ErrInvalidConfig)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: database_url is required for the postgres backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store_backend %q", ErrInvalidConfig, c.StoreBackend)
	}
	return nil
}
