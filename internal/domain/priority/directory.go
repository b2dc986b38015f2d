package priority

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/admit/internal/domain/model"
)

// Directory looks up a subject's tier. It stands in for the external
// identity/membership service and may be slow or fail.
type Directory interface {
	Tier(ctx context.Context, subjectID string) (model.Tier, error)
}

// StaticDirectory serves tiers from an in-memory map with optional simulated latency.
type StaticDirectory struct {
	mu         sync.RWMutex
	tiers      map[string]model.Tier
	minLatency time.Duration
	maxLatency time.Duration
}

// NewStaticDirectory creates a directory from subject -> tier entries.
func NewStaticDirectory(opts ...DirectoryOption) *StaticDirectory {
	d := &StaticDirectory{tiers: make(map[string]model.Tier)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Tier returns the subject's tier or ErrSubjectUnknown.
func (d *StaticDirectory) Tier(ctx context.Context, subjectID string) (model.Tier, error) {
	if d.maxLatency > 0 {
		latency := d.minLatency
		if span := d.maxLatency - d.minLatency; span > 0 {
			latency += time.Duration(rand.Int64N(int64(span))) //nolint:gosec // simulated latency
		}
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("tier lookup cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	d.mu.RLock()
	t, ok := d.tiers[subjectID]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSubjectUnknown, subjectID)
	}
	return t, nil
}

// Set assigns a tier to a subject.
func (d *StaticDirectory) Set(subjectID string, tier model.Tier) {
	d.mu.Lock()
	d.tiers[subjectID] = tier
	d.mu.Unlock()
}
