// Package service wires the admission engine, the record store and the
// promotion pipeline into the dependencies the HTTP API needs.
package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	eventqueue "github.com/okian/admit/internal/adapters/mq/queue"
	workerpool "github.com/okian/admit/internal/adapters/mq/worker"
	repository "github.com/okian/admit/internal/adapters/repository"
	"github.com/okian/admit/internal/admission"
	"github.com/okian/admit/internal/domain/coalesce"
	"github.com/okian/admit/internal/domain/model"
	"github.com/okian/admit/internal/domain/priority"
	"github.com/okian/admit/internal/domain/waitlist"
	"github.com/okian/admit/pkg/logger"
	"github.com/okian/admit/pkg/metrics"
)

// Service implements the API dependencies for the RSVP system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	engine     *admission.Engine
	tracker    coalesce.Tracker
	queue      *eventqueue.InMemoryQueue
	promoter   *Promoter
	notifier   Notifier
	workerPool *workerpool.Pool

	// Configuration
	workerCount       int
	queueSize         int
	promotionEnabled  bool
	retryAttempts     int
	retryMinBackoff   time.Duration
	retryMaxBackoff   time.Duration
	placement         waitlist.Mode
	tierDivisors      map[string]int
	defaultTier       string
	tierDirectory     map[string]string
	tierLookupTimeout time.Duration
	directory         priority.Directory

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the record store. The in-memory store is used otherwise.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithWorkerCount sets the number of promotion workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of pending promotion signals.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithPromotionEnabled toggles waitlist promotion after freed slots.
func WithPromotionEnabled(enabled bool) Option {
	return func(s *Service) {
		s.promotionEnabled = enabled
	}
}

// WithRetry bounds conflict retries of every admission operation.
func WithRetry(attempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.retryAttempts = attempts
		}
		if minBackoff >= 0 && maxBackoff >= minBackoff {
			s.retryMinBackoff = minBackoff
			s.retryMaxBackoff = maxBackoff
		}
	}
}

// WithPlacement selects how prioritised joiners enter the waitlist.
func WithPlacement(mode waitlist.Mode) Option {
	return func(s *Service) {
		if mode.Valid() {
			s.placement = mode
		}
	}
}

// WithTierDivisors sets the per tier position divisors.
func WithTierDivisors(divisors map[string]int) Option {
	return func(s *Service) {
		s.tierDivisors = divisors
	}
}

// WithDefaultTier sets the tier used when a lookup fails.
func WithDefaultTier(tier string) Option {
	return func(s *Service) {
		s.defaultTier = tier
	}
}

// WithTierDirectory seeds the static subject -> tier directory.
func WithTierDirectory(entries map[string]string) Option {
	return func(s *Service) {
		s.tierDirectory = entries
	}
}

// WithDirectory replaces the tier directory entirely.
func WithDirectory(dir priority.Directory) Option {
	return func(s *Service) {
		s.directory = dir
	}
}

// WithTierLookupTimeout bounds a single tier lookup.
func WithTierLookupTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.tierLookupTimeout = d
		}
	}
}

// WithNotifier sets who is told about promotions.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:       runtime.NumCPU(),
		queueSize:         1024,
		promotionEnabled:  true,
		retryAttempts:     2,
		retryMinBackoff:   5 * time.Millisecond,
		retryMaxBackoff:   50 * time.Millisecond,
		placement:         waitlist.ModeAppend,
		tierLookupTimeout: 200 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start builds the components and starts the promotion workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting rsvp service...")

	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	s.logger.Info(ctx, "using record store", logger.String("backend", s.store.Backend()))

	policyOpts := []priority.Option{priority.WithDivisors(s.tierDivisors)}
	if s.defaultTier != "" {
		policyOpts = append(policyOpts, priority.WithDefaultTier(s.defaultTier))
	}
	policy := priority.NewPolicy(policyOpts...)
	if s.directory == nil {
		s.directory = priority.NewStaticDirectory(priority.WithEntries(s.tierDirectory))
	}
	resolver := priority.NewResolver(s.directory, policy,
		priority.WithLookupTimeout(s.tierLookupTimeout),
		priority.WithLogger(s.logger.Named("priority")),
	)

	s.engine = admission.New(s.store,
		admission.WithTierResolver(resolver),
		admission.WithPlacement(s.placement),
		admission.WithRetry(s.retryAttempts, s.retryMinBackoff, s.retryMaxBackoff),
		admission.WithSlotListener(s),
		admission.WithLogger(s.logger.Named("admission")),
	)

	if s.promotionEnabled {
		s.tracker = coalesce.NewInMemoryTracker()
		s.queue = eventqueue.NewInMemoryQueue(
			eventqueue.WithCapacity(s.queueSize),
			eventqueue.WithBufferSize(s.queueSize),
			eventqueue.WithCoalescing(s.tracker),
		)
		if s.notifier == nil {
			s.notifier = NewLogNotifier(s.logger.Named("notifier"))
		}
		s.promoter = NewPromoter(s.engine, s.notifier, WithPromoterLogger(s.logger.Named("promoter")))
		s.workerPool = workerpool.NewPool(s.workerCount, s.queue, s.promoter)
		s.workerPool.Start(ctx)
	}

	s.started = true
	s.logger.Info(ctx, "rsvp service started",
		logger.String("store", s.store.Backend()),
		logger.String("placement", string(s.placement)),
		logger.Bool("promotion", s.promotionEnabled),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
	)

	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping rsvp service...")

	if s.workerPool != nil {
		if err := s.workerPool.Shutdown(ctx); err != nil {
			s.logger.Error(ctx, "worker pool shutdown failed", logger.Error(err))
		}
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "store close failed", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "rsvp service stopped")
}

// SlotFreed implements admission.SlotListener by queueing a promotion signal.
func (s *Service) SlotFreed(ctx context.Context, fact model.SlotFreed) {
	if s.queue == nil {
		s.logger.Debug(ctx, "slot freed, promotion disabled",
			logger.String("event_id", fact.EventID),
			logger.String("reason", string(fact.Reason)),
		)
		return
	}
	if err := s.queue.Enqueue(ctx, fact); err != nil {
		s.logger.Warn(ctx, "promotion signal dropped",
			logger.String("event_id", fact.EventID),
			logger.String("reason", string(fact.Reason)),
			logger.Error(err),
		)
	}
}

func (s *Service) admission() (*admission.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.engine, nil
}

// CreateEvent stores a new event.
func (s *Service) CreateEvent(ctx context.Context, spec admission.EventSpec) (model.Event, error) {
	e, err := s.admission()
	if err != nil {
		return model.Event{}, err
	}
	return e.CreateEvent(ctx, spec)
}

// GetEvent returns one event.
func (s *Service) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	e, err := s.admission()
	if err != nil {
		return model.Event{}, err
	}
	return e.GetEvent(ctx, eventID)
}

// ListEvents returns all events.
func (s *Service) ListEvents(ctx context.Context) ([]model.Event, error) {
	e, err := s.admission()
	if err != nil {
		return nil, err
	}
	return e.ListEvents(ctx)
}

// ListAttendees returns every record of an event.
func (s *Service) ListAttendees(ctx context.Context, eventID string) ([]model.Attendee, error) {
	e, err := s.admission()
	if err != nil {
		return nil, err
	}
	return e.ListAttendees(ctx, eventID)
}

// Waitlist returns an event's waitlisted records in order.
func (s *Service) Waitlist(ctx context.Context, eventID string) ([]model.Attendee, error) {
	e, err := s.admission()
	if err != nil {
		return nil, err
	}
	return e.Waitlist(ctx, eventID)
}

// ApplyStatusChange is the admission entry point.
func (s *Service) ApplyStatusChange(ctx context.Context, change model.StatusChange) (model.Outcome, error) {
	e, err := s.admission()
	if err != nil {
		return model.Outcome{}, err
	}
	return e.ApplyStatusChange(ctx, change)
}

// DeleteAttendee removes a record administratively.
func (s *Service) DeleteAttendee(ctx context.Context, eventID, attendeeID string) (model.Outcome, error) {
	e, err := s.admission()
	if err != nil {
		return model.Outcome{}, err
	}
	return e.DeleteAttendee(ctx, eventID, attendeeID)
}

// RecalculateWaitlistPositions repairs an event's waitlist ordering.
func (s *Service) RecalculateWaitlistPositions(ctx context.Context, eventID string) (admission.RecalcResult, error) {
	e, err := s.admission()
	if err != nil {
		return admission.RecalcResult{}, err
	}
	return e.RecalculateWaitlistPositions(ctx, eventID)
}

// ReconcileConfirmedCount repairs an event's confirmed counter.
func (s *Service) ReconcileConfirmedCount(ctx context.Context, eventID string) (admission.ReconcileResult, error) {
	e, err := s.admission()
	if err != nil {
		return admission.ReconcileResult{}, err
	}
	return e.ReconcileConfirmedCount(ctx, eventID)
}

// Ready reports whether the service can take requests. The store is probed
// with a cheap read.
func (s *Service) Ready(ctx context.Context) error {
	e, err := s.admission()
	if err != nil {
		return err
	}
	_, err = e.ListEvents(ctx)
	return err
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":          s.started,
		"promotionEnabled": s.promotionEnabled,
		"placement":        string(s.placement),
		"workerCount":      0,
		"queueSize":        s.queueSize,
	}

	if !s.started {
		return stats
	}

	stats["store"] = s.store.Backend()
	if s.queue != nil {
		queueLen := s.queue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["pendingSignals"] = s.queue.Pending()
		metrics.UpdateQueueSize(queueLen)
	}
	if s.workerPool != nil {
		stats["workerCount"] = s.workerPool.Size()
		stats["processedSignals"] = s.workerPool.Processed()
	}

	return stats
}
