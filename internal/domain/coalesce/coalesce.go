// Package coalesce tracks which events already have a promotion signal pending.
package coalesce

import (
	"context"
	"sync"
	"sync/atomic"
)

// Tracker folds repeated slot freed facts for one event into a single pending signal.
type Tracker interface {
	// SeenAndRecord atomically checks whether id is pending and marks it if not.
	// Returns true if a signal for id was already pending.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord clears id. Consumers call it before handling the signal so facts
	// arriving mid-handling queue a fresh one. Producers call it when enqueue fails.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryTracker implements Tracker with a mutex-guarded set.
// When maxSize > 0 and the set is full, new ids are not tracked and every
// fact for them passes through; duplicates are harmless, lost signals are not.
type inMemoryTracker struct {
	mu      sync.Mutex
	pending map[string]struct{}
	maxSize int
	size    atomic.Int64
}

// NewInMemoryTracker creates a tracker with configuration options.
func NewInMemoryTracker(opts ...Option) Tracker {
	t := &inMemoryTracker{
		maxSize: 0,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.pending = make(map[string]struct{})
	return t
}

func (t *inMemoryTracker) SeenAndRecord(_ context.Context, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[id]; ok {
		return true
	}
	if t.maxSize > 0 && len(t.pending) >= t.maxSize {
		return false
	}
	t.pending[id] = struct{}{}
	t.size.Add(1)
	return false
}

func (t *inMemoryTracker) Unrecord(_ context.Context, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[id]; ok {
		delete(t.pending, id)
		t.size.Add(-1)
	}
}

// Size returns the number of pending ids.
func (t *inMemoryTracker) Size() int64 {
	return t.size.Load()
}
