package admission

import (
	"time"

	"github.com/okian/admit/internal/domain/priority"
	"github.com/okian/admit/internal/domain/waitlist"
	"github.com/okian/admit/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithTierResolver sets the tier lookup used when someone joins the waitlist.
func WithTierResolver(r *priority.Resolver) Option {
	return func(e *Engine) {
		if r != nil {
			e.resolver = r
		}
	}
}

// WithPlacement selects how prioritised joiners are placed.
func WithPlacement(mode waitlist.Mode) Option {
	return func(e *Engine) {
		if mode.Valid() {
			e.placement = mode
		}
	}
}

// WithRetry bounds conflict retries. attempts includes the first try.
func WithRetry(attempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.retryAttempts = attempts
		}
		if minBackoff >= 0 && maxBackoff >= minBackoff {
			e.retryMinBackoff = minBackoff
			e.retryMaxBackoff = maxBackoff
		}
	}
}

// WithSlotListener registers the receiver of slot freed facts.
func WithSlotListener(l SlotListener) Option {
	return func(e *Engine) {
		e.listener = l
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator replaces the attendee and event id source.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}
