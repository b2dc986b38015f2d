package queue

import "github.com/okian/admit/internal/domain/coalesce"

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum number of queued signals.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithBufferSize sets the buffer size for the signal channel.
func WithBufferSize(size int) Option {
	return func(q *InMemoryQueue) {
		if size > 0 {
			q.bufferSize = size
		}
	}
}

// WithCoalescing folds repeated signals for one event into a single pending one.
func WithCoalescing(t coalesce.Tracker) Option {
	return func(q *InMemoryQueue) {
		q.tracker = t
	}
}
