package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment knobs.
const (
	EnvPrefix     = "ADMIT_"
	EnvConfigPath = "ADMIT_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if ADMIT_CONFIG is set
//  3. env (prefix ADMIT_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigPath); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// ADMIT_RETRY_MAX_ATTEMPTS -> retry_max_attempts (flat keys).
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, strings.ToLower(EnvPrefix))
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields that would otherwise fail late at wiring time.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres_dsn is required for the postgres store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}
	switch c.WaitlistPlacement {
	case PlacementAppend, PlacementShift:
	default:
		return fmt.Errorf("%w: unknown waitlist_placement %q", ErrInvalidConfig, c.WaitlistPlacement)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("%w: retry_max_attempts must be at least 1", ErrInvalidConfig)
	}
	if c.RetryMaxBackoffMS < c.RetryMinBackoffMS {
		return fmt.Errorf("%w: retry_max_backoff_ms is below retry_min_backoff_ms", ErrInvalidConfig)
	}
	for tier, d := range c.TierDivisors {
		if d < 1 {
			return fmt.Errorf("%w: tier %q divisor must be at least 1", ErrInvalidConfig, tier)
		}
	}
	return nil
}
