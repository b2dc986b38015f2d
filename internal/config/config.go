// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Defaults live in New; Load layers a YAML file and ADMIT_* env vars on top.
//   - Durations are stored as integer milliseconds and exposed through helpers.
package config

import (
	"runtime"
	"time"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Waitlist placement modes.
const (
	PlacementAppend = "append"
	PlacementShift  = "shift"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// CORSAllowedOrigins enables CORS for these origins; empty disables it.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Store selects the record store backend: memory or postgres.
	Store string `koanf:"store"`

	// PostgresDSN is required when Store is postgres.
	PostgresDSN string `koanf:"postgres_dsn"`

	// PostgresMaxConns caps the pgx pool.
	PostgresMaxConns int `koanf:"postgres_max_conns"`

	// RetryMaxAttempts is the total number of transaction attempts; 2 means one retry.
	RetryMaxAttempts int `koanf:"retry_max_attempts"`

	// RetryMinBackoffMS and RetryMaxBackoffMS bound the jittered delay between attempts.
	RetryMinBackoffMS int `koanf:"retry_min_backoff_ms"`
	RetryMaxBackoffMS int `koanf:"retry_max_backoff_ms"`

	// PromotionEnabled runs the in-process promotion workers.
	PromotionEnabled bool `koanf:"promotion_enabled"`

	// PromotionWorkers sets the number of promotion workers.
	PromotionWorkers int `koanf:"promotion_workers"`

	// PromotionQueueSize bounds the pending slot freed queue.
	PromotionQueueSize int `koanf:"promotion_queue_size"`

	// TierLookupTimeoutMS bounds a single tier lookup before falling back.
	TierLookupTimeoutMS int `koanf:"tier_lookup_timeout_ms"`

	// TierDivisors maps tier names to the divisor applied to the first free position.
	TierDivisors map[string]int `koanf:"tier_divisors"`

	// DefaultTier is used when a lookup fails or returns an unknown tier.
	DefaultTier string `koanf:"default_tier"`

	// WaitlistPlacement is append or shift.
	WaitlistPlacement string `koanf:"waitlist_placement"`

	// TierDirectory maps subject ids to tiers for the static directory.
	TierDirectory map[string]string `koanf:"tier_directory"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		CORSAllowedOrigins:  []string{"*"},
		Store:               StoreMemory,
		PostgresMaxConns:    20,
		RetryMaxAttempts:    2,
		RetryMinBackoffMS:   5,
		RetryMaxBackoffMS:   50,
		PromotionEnabled:    true,
		PromotionWorkers:    runtime.NumCPU(),
		PromotionQueueSize:  1024,
		TierLookupTimeoutMS: 200,
		TierDivisors: map[string]int{
			"gold":     4,
			"silver":   2,
			"standard": 1,
		},
		DefaultTier:       "standard",
		WaitlistPlacement: PlacementAppend,
		TierDirectory:     map[string]string{},
	}
}

// RetryMinBackoff returns the lower backoff bound.
func (c *Config) RetryMinBackoff() time.Duration {
	return time.Duration(c.RetryMinBackoffMS) * time.Millisecond
}

// RetryMaxBackoff returns the upper backoff bound.
func (c *Config) RetryMaxBackoff() time.Duration {
	return time.Duration(c.RetryMaxBackoffMS) * time.Millisecond
}

// TierLookupTimeout returns the tier lookup deadline.
func (c *Config) TierLookupTimeout() time.Duration {
	return time.Duration(c.TierLookupTimeoutMS) * time.Millisecond
}
