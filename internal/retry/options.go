package retry

import (
	"context"
	"time"
)

// Option applies a configuration option to the Policy.
type Option func(*Policy)

// WithMaxAttempts sets the total number of attempts, including the first.
func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackoff sets the jitter window.
func WithBackoff(minBackoff, maxBackoff time.Duration) Option {
	return func(p *Policy) {
		if minBackoff >= 0 && maxBackoff >= minBackoff {
			p.minBackoff = minBackoff
			p.maxBackoff = maxBackoff
		}
	}
}

// WithRetryable sets the predicate for transient errors.
func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) {
		if fn != nil {
			p.retryable = fn
		}
	}
}

// WithOnRetry registers a hook called before each wait.
func WithOnRetry(fn func(ctx context.Context, attempt int, delay time.Duration, err error)) Option {
	return func(p *Policy) {
		p.onRetry = fn
	}
}

// WithSleep replaces the wait function, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) {
		if fn != nil {
			p.sleep = fn
		}
	}
}
