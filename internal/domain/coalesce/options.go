package coalesce

// Option applies a configuration option to the tracker.
type Option func(*inMemoryTracker)

// WithMaxSize caps how many ids are tracked. 0 or negative means unbounded.
func WithMaxSize(maxSize int) Option {
	return func(t *inMemoryTracker) {
		t.maxSize = maxSize
	}
}
