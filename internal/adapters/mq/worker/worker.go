// Package worker runs the promotion workers that react to slot freed signals.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/admit/internal/adapters/mq/queue"
	"github.com/okian/admit/pkg/logger"
	"github.com/okian/admit/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultPromotionTimeout = 10 * time.Second
	metricsUpdateInterval   = 5 * time.Second
	workerShutdownTimeout   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Promotion results recorded in metrics.
const (
	resultPromoted = "promoted"
	resultNoop     = "noop"
	resultFailed   = "failed"
)

// Signal abstracts what workers read off the queue.
type Signal = queue.Signal

// Promoter fills freed capacity for one event from its waitlist, each
// promotion in its own transaction. It returns how many were promoted.
type Promoter interface {
	Promote(ctx context.Context, eventID string) (int, error)
}

// Queue defines how workers receive signals.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Signal
}

// Worker processes slot freed signals.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for processing signals.
type InMemoryWorker struct {
	queue    Queue
	promoter Promoter
	name     string
	timeout  time.Duration

	processed atomic.Int64

	stopOnce sync.Once
	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, promoter Promoter, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		promoter: promoter,
		name:     "worker",
		timeout:  defaultPromotionTimeout,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Processed returns how many signals the worker has handled.
func (w *InMemoryWorker) Processed() int64 { return w.processed.Load() }

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	// Cancelled on return so the queue's feeder never blocks on a worker
	// that has stopped reading.
	feedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	signals := w.queue.Dequeue(feedCtx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case s, ok := <-signals:
			if !ok {
				return
			}
			if err := w.process(ctx, s); err != nil {
				w.logger.Error(ctx, "promotion failed",
					logger.String("event_id", s.EventID),
					logger.String("reason", string(s.Reason)),
					logger.Error(err),
				)
			}
		}
	}
}

func (w *InMemoryWorker) stop() {
	w.stopOnce.Do(func() { close(w.shutdown) })
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.stop()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process handles a single signal.
func (w *InMemoryWorker) process(ctx context.Context, s Signal) error {
	start := time.Now()
	defer func() {
		w.processed.Add(1)
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	pctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	promoted, err := w.promoter.Promote(pctx, s.EventID)
	if err != nil {
		metrics.RecordPromotion(resultFailed)
		metrics.RecordErrorByComponent("worker", errorType(err))
		return fmt.Errorf("promote event %s: %w", s.EventID, err)
	}
	if promoted == 0 {
		metrics.RecordPromotion(resultNoop)
		return nil
	}
	for i := 0; i < promoted; i++ {
		metrics.RecordPromotion(resultPromoted)
	}
	w.logger.Info(ctx, "waitlist promoted",
		logger.String("event_id", s.EventID),
		logger.String("reason", string(s.Reason)),
		logger.Int("promoted", promoted),
	)
	return nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "promotion_error"
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	stopOnce sync.Once
	shutdown chan struct{}

	logger logger.Logger
}

// NewPool creates a new worker pool. A count below one uses NumCPU.
func NewPool(workerCount int, q Queue, promoter Promoter, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    q,
		shutdown: make(chan struct{}),
		logger:   logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, promoter, workerOpts...)
	}

	metrics.UpdateWorkerCount(workerCount)

	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns how many signals the pool has handled.
func (p *Pool) Processed() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Processed()
	}
	return n
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}

	go p.startMetricsUpdater(ctx)
}

// startMetricsUpdater refreshes the queue gauge while the pool runs.
func (p *Pool) startMetricsUpdater(ctx context.Context) {
	sized, ok := p.queue.(interface{ Len(ctx context.Context) int })
	if !ok {
		return
	}
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			metrics.UpdateQueueSize(sized.Len(ctx))
		}
	}
}

func (p *Pool) signalStop() {
	p.stopOnce.Do(func() { close(p.shutdown) })
	for _, w := range p.workers {
		w.stop()
	}
}

// Stop signals every worker and waits a bounded time for each.
func (p *Pool) Stop() {
	p.signalStop()

	for _, w := range p.workers {
		select {
		case <-w.done:
		case <-time.After(workerShutdownTimeout):
		}
	}
	metrics.UpdateWorkerCount(0)
}

// Shutdown closes the queue so no new signals arrive, then stops the workers.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	p.signalStop()

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)

	return nil
}
