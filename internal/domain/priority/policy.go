// Package priority maps subjects to tiers and tiers to waitlist divisors.
package priority

import (
	"cmp"
	"maps"
	"slices"

	"github.com/okian/admit/internal/domain/model"
)

// Default tier configuration.
const (
	TierGold     model.Tier = "gold"
	TierSilver   model.Tier = "silver"
	TierStandard model.Tier = "standard"

	defaultTier = TierStandard
)

// Policy holds the divisor applied to the first free waitlist position per tier.
// A divisor of 1 keeps the first free position; larger values move a joiner forward.
type Policy struct {
	divisors    map[model.Tier]int
	defaultTier model.Tier
}

// NewPolicy creates a policy with the built-in gold/silver/standard divisors.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		divisors: map[model.Tier]int{
			TierGold:     4,
			TierSilver:   2,
			TierStandard: 1,
		},
		defaultTier: defaultTier,
	}
	for _, opt := range opts {
		opt(p)
	}
	if _, ok := p.divisors[p.defaultTier]; !ok {
		p.divisors[p.defaultTier] = 1
	}
	return p
}

// DefaultTier is the tier used when lookup fails or returns something unknown.
func (p *Policy) DefaultTier() model.Tier { return p.defaultTier }

// Known reports whether t has a configured divisor.
func (p *Policy) Known(t model.Tier) bool {
	_, ok := p.divisors[t]
	return ok
}

// Divisor returns the divisor for t, falling back to the default tier.
func (p *Policy) Divisor(t model.Tier) int {
	if d, ok := p.divisors[t]; ok {
		return d
	}
	return p.divisors[p.defaultTier]
}

// Tiers lists configured tiers from highest to lowest priority.
func (p *Policy) Tiers() []model.Tier {
	tiers := slices.Collect(maps.Keys(p.divisors))
	slices.SortFunc(tiers, func(a, b model.Tier) int {
		return cmp.Or(cmp.Compare(p.divisors[b], p.divisors[a]), cmp.Compare(a, b))
	})
	return tiers
}
