package repository

import "time"

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithBeforeCommit registers a hook that runs after a transaction body and
// before its commit check. Tests use it to inject a concurrent writer.
func WithBeforeCommit(fn func(eventID string)) Option {
	return func(s *MemoryStore) {
		s.beforeCommit = fn
	}
}

// PostgresOption applies a configuration option to the PostgresStore.
type PostgresOption func(*postgresConfig)

type postgresConfig struct {
	maxConns        int32
	minConns        int32
	maxConnLifetime time.Duration
	maxConnIdleTime time.Duration
	connectAttempts int
	connectBackoff  time.Duration
	bootstrap       bool
}

func defaultPostgresConfig() postgresConfig {
	return postgresConfig{
		maxConns:        20,
		minConns:        2,
		maxConnLifetime: 30 * time.Minute,
		maxConnIdleTime: 5 * time.Minute,
		connectAttempts: 5,
		connectBackoff:  2 * time.Second,
		bootstrap:       true,
	}
}

// WithMaxConns caps the pool.
func WithMaxConns(n int) PostgresOption {
	return func(c *postgresConfig) {
		if n > 0 {
			c.maxConns = int32(n) //nolint:gosec // bounded by config
			if c.minConns > c.maxConns {
				c.minConns = c.maxConns
			}
		}
	}
}

// WithConnectRetry sets how many times to try the initial connection and how long to wait between tries.
func WithConnectRetry(attempts int, backoff time.Duration) PostgresOption {
	return func(c *postgresConfig) {
		if attempts > 0 {
			c.connectAttempts = attempts
		}
		if backoff >= 0 {
			c.connectBackoff = backoff
		}
	}
}

// WithSchemaBootstrap toggles CREATE TABLE IF NOT EXISTS on startup.
func WithSchemaBootstrap(enabled bool) PostgresOption {
	return func(c *postgresConfig) {
		c.bootstrap = enabled
	}
}
