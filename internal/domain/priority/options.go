package priority

import (
	"time"

	"github.com/okian/admit/internal/domain/model"
	"github.com/okian/admit/pkg/logger"
)

// Option applies a configuration option to the Policy.
type Option func(*Policy)

// WithDivisors replaces the tier divisors. Entries below 1 are ignored.
func WithDivisors(divisors map[string]int) Option {
	return func(p *Policy) {
		if len(divisors) == 0 {
			return
		}
		p.divisors = make(map[model.Tier]int, len(divisors))
		for tier, d := range divisors {
			if d >= 1 {
				p.divisors[model.Tier(tier)] = d
			}
		}
	}
}

// WithDefaultTier sets the fallback tier.
func WithDefaultTier(tier string) Option {
	return func(p *Policy) {
		if tier != "" {
			p.defaultTier = model.Tier(tier)
		}
	}
}

// DirectoryOption applies a configuration option to the StaticDirectory.
type DirectoryOption func(*StaticDirectory)

// WithEntries seeds subject -> tier entries.
func WithEntries(entries map[string]string) DirectoryOption {
	return func(d *StaticDirectory) {
		for subject, tier := range entries {
			d.tiers[subject] = model.Tier(tier)
		}
	}
}

// WithLatencyRange simulates a remote directory.
func WithLatencyRange(minLatency, maxLatency time.Duration) DirectoryOption {
	return func(d *StaticDirectory) {
		if minLatency >= 0 && maxLatency >= minLatency {
			d.minLatency = minLatency
			d.maxLatency = maxLatency
		}
	}
}

// ResolverOption applies a configuration option to the Resolver.
type ResolverOption func(*Resolver)

// WithLookupTimeout bounds a single lookup.
func WithLookupTimeout(timeout time.Duration) ResolverOption {
	return func(r *Resolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithLogger overrides the resolver's logger.
func WithLogger(l logger.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}
