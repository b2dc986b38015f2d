// Package queue carries slot freed signals from the admission engine to the
// promotion workers.
//
// The in-memory queue is bounded and never blocks the producer. With a
// coalescing tracker, at most one signal per event is pending at a time.
package queue

import (
	"context"
	"sync"

	"github.com/okian/admit/internal/domain/coalesce"
	"github.com/okian/admit/internal/domain/model"
	"github.com/okian/admit/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 1024
	defaultBufferSize    = 1024
)

// Signal is the payload flowing through the queue.
type Signal = model.SlotFreed

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a signal. A signal folded into one already pending is not
	// an error. Returns ErrFull or ErrClosed if the signal was dropped.
	Enqueue(ctx context.Context, s Signal) error

	// Dequeue returns a channel that receives signals as they become available.
	// The channel is closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Signal

	// Len returns the current number of queued signals.
	Len(ctx context.Context) int

	// Pending returns how many events have a signal waiting.
	Pending() int64

	// Close gracefully shuts down the queue.
	// After closing, no new signals can be enqueued and the dequeue channel will be closed.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	signals    chan Signal
	capacity   int
	bufferSize int
	tracker    coalesce.Tracker

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity:   defaultQueueCapacity,
		bufferSize: defaultBufferSize,
	}

	for _, opt := range opts {
		opt(q)
	}
	if q.bufferSize < q.capacity {
		q.bufferSize = q.capacity
	}

	q.signals = make(chan Signal, q.bufferSize)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)

	return q
}

// Enqueue adds a signal to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, s Signal) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueDropped()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}

	if q.tracker != nil && q.tracker.SeenAndRecord(ctx, s.EventID) {
		metrics.RecordSignalCoalesced()
		return nil
	}

	if len(q.signals) >= q.capacity {
		return q.drop(ctx, s, "capacity_exceeded")
	}

	select {
	case q.signals <- s:
		metrics.RecordSignalEmitted()
		metrics.UpdateQueueSize(len(q.signals))
		return nil
	case <-ctx.Done():
		q.forget(ctx, s)
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return ctx.Err()
	default:
		return q.drop(ctx, s, "queue_full")
	}
}

// drop releases the pending mark so a later fact for the event is not
// swallowed by a signal that never made it in.
func (q *InMemoryQueue) drop(ctx context.Context, s Signal, reason string) error {
	q.forget(ctx, s)
	metrics.RecordQueueDropped()
	metrics.RecordErrorByComponent("queue", reason)
	return ErrFull
}

func (q *InMemoryQueue) forget(ctx context.Context, s Signal) {
	if q.tracker != nil {
		q.tracker.Unrecord(ctx, s.EventID)
	}
}

// Dequeue returns a channel that will receive signals as they become available.
// A signal stops being pending once it leaves the buffer, before the consumer
// receives it, so facts arriving while the consumer works queue a fresh signal.
// Cancelling ctx stops the feeder; a signal it was holding goes back into the
// queue unless the queue is closed.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Signal {
	out := make(chan Signal)
	go func() {
		defer close(out)
		for {
			var s Signal
			select {
			case <-ctx.Done():
				return
			case next, ok := <-q.signals:
				if !ok {
					return
				}
				s = next
			}
			q.forget(ctx, s)
			metrics.UpdateQueueSize(len(q.signals))
			select {
			case out <- s:
			case <-ctx.Done():
				q.requeue(s)
				return
			}
		}
	}()
	return out
}

// requeue returns a signal the consumer never took.
func (q *InMemoryQueue) requeue(s Signal) {
	if err := q.Enqueue(context.Background(), s); err != nil {
		metrics.RecordErrorByComponent("queue", "requeue_failed")
	}
}

// Len returns the current number of queued signals.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.signals)
	metrics.UpdateQueueSize(size)
	return size
}

// Pending returns how many events have a signal waiting.
func (q *InMemoryQueue) Pending() int64 {
	if q.tracker == nil {
		return int64(len(q.signals))
	}
	return q.tracker.Size()
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	close(q.signals)
	q.closed = true

	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
