// Package retry runs an operation with a bounded number of attempts and
// jittered backoff, retrying only errors the caller marks as transient.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/okian/admit/pkg/metrics"
)

// Default policy constants. Two attempts means one retry.
const (
	defaultMaxAttempts = 2
	defaultMinBackoff  = 5 * time.Millisecond
	defaultMaxBackoff  = 50 * time.Millisecond
)

// ErrExhausted wraps the last retryable error once every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Op is one attempt. attempt starts at 1.
type Op func(ctx context.Context, attempt int) error

// Policy decides how often and how long to wait between attempts.
type Policy struct {
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	retryable   func(error) bool
	onRetry     func(ctx context.Context, attempt int, delay time.Duration, err error)
	sleep       func(ctx context.Context, d time.Duration) error
}

// New creates a policy. Without WithRetryable nothing is retried.
func New(opts ...Option) *Policy {
	p := &Policy{
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		retryable:   func(error) bool { return false },
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxAttempts returns the attempt bound.
func (p *Policy) MaxAttempts() int { return p.maxAttempts }

// Do runs op until it succeeds, returns a non-retryable error, the context
// ends, or the attempt bound is hit. In the last case the error wraps both
// ErrExhausted and the final attempt's error.
func (p *Policy) Do(ctx context.Context, op Op) error {
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err = op(ctx, attempt)
		if err == nil || !p.retryable(err) {
			return err
		}
		if attempt == p.maxAttempts {
			break
		}

		delay := p.Backoff()
		if p.onRetry != nil {
			p.onRetry(ctx, attempt, delay, err)
		}
		metrics.RecordRetry()
		if serr := p.sleep(ctx, delay); serr != nil {
			return fmt.Errorf("retry wait: %w", serr)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.maxAttempts, err)
}

// Backoff returns a uniformly jittered delay in [minBackoff, maxBackoff].
func (p *Policy) Backoff() time.Duration {
	span := p.maxBackoff - p.minBackoff
	if span <= 0 {
		return p.minBackoff
	}
	return p.minBackoff + time.Duration(rand.Int64N(int64(span)+1)) //nolint:gosec // jitter only
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
