package priority

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/admit/internal/domain/model"
	"github.com/okian/admit/pkg/logger"
	"github.com/okian/admit/pkg/metrics"
)

const defaultLookupTimeout = 200 * time.Millisecond

// Fallback reasons recorded in metrics.
const (
	fallbackNoDirectory = "no_directory"
	fallbackTimeout     = "timeout"
	fallbackUnknown     = "unknown_subject"
	fallbackError       = "error"
	fallbackBadTier     = "unknown_tier"
)

// Resolver turns a subject into a tier without ever failing the caller.
// Concurrent lookups for the same subject share one directory call.
type Resolver struct {
	dir     Directory
	policy  *Policy
	timeout time.Duration
	group   singleflight.Group
	log     logger.Logger
}

// NewResolver creates a resolver over dir. A nil dir always yields the default tier.
func NewResolver(dir Directory, policy *Policy, opts ...ResolverOption) *Resolver {
	if policy == nil {
		policy = NewPolicy()
	}
	r := &Resolver{
		dir:     dir,
		policy:  policy,
		timeout: defaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("priority")
	}
	return r
}

// Policy returns the tier policy the resolver validates against.
func (r *Resolver) Policy() *Policy { return r.policy }

// Resolve returns the subject's tier, or the default tier if the lookup
// fails, times out, or names a tier the policy does not know.
func (r *Resolver) Resolve(ctx context.Context, subjectID string) model.Tier {
	if r.dir == nil {
		metrics.RecordTierFallback(fallbackNoDirectory)
		return r.policy.DefaultTier()
	}

	ch := r.group.DoChan(subjectID, func() (any, error) {
		// Detached so one caller's cancellation does not fail the others sharing this call.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.dir.Tier(lctx, subjectID)
	})

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return r.fallback(ctx, subjectID, reasonFor(res.Err), res.Err)
		}
		tier, _ := res.Val.(model.Tier)
		if !r.policy.Known(tier) {
			return r.fallback(ctx, subjectID, fallbackBadTier, nil)
		}
		return tier
	case <-timer.C:
		return r.fallback(ctx, subjectID, fallbackTimeout, context.DeadlineExceeded)
	case <-ctx.Done():
		return r.fallback(ctx, subjectID, fallbackTimeout, ctx.Err())
	}
}

func (r *Resolver) fallback(ctx context.Context, subjectID, reason string, err error) model.Tier {
	metrics.RecordTierFallback(reason)
	fields := []logger.Field{
		logger.String("subject_id", subjectID),
		logger.String("reason", reason),
		logger.String("tier", string(r.policy.DefaultTier())),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	// Unknown subjects are routine; everything else means the directory is misbehaving.
	if reason == fallbackUnknown {
		r.log.Debug(ctx, "tier lookup fell back to default", fields...)
	} else {
		r.log.Warn(ctx, "tier lookup fell back to default", fields...)
	}
	return r.policy.DefaultTier()
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrSubjectUnknown):
		return fallbackUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fallbackTimeout
	default:
		return fallbackError
	}
}
