// Package admission decides, one store transaction per request, whether an
// attendee is confirmed, waitlisted or turned away, and keeps the event's
// confirmed counter and waitlist positions consistent with that decision.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/admit/internal/adapters/repository"
	"github.com/okian/admit/internal/domain/capacity"
	"github.com/okian/admit/internal/domain/model"
	"github.com/okian/admit/internal/domain/priority"
	"github.com/okian/admit/internal/domain/waitlist"
	"github.com/okian/admit/internal/retry"
	"github.com/okian/admit/pkg/logger"
	"github.com/okian/admit/pkg/metrics"
)

const (
	defaultRetryAttempts   = 2
	defaultRetryMinBackoff = 5 * time.Millisecond
	defaultRetryMaxBackoff = 50 * time.Millisecond
)

// SlotListener receives slot freed facts after the transaction that freed
// the slot has committed. Implementations must not block.
type SlotListener interface {
	SlotFreed(ctx context.Context, fact model.SlotFreed)
}

// Engine is the only writer of attendee status, waitlist positions and the
// confirmed counter.
type Engine struct {
	store     repository.Store
	resolver  *priority.Resolver
	placement waitlist.Mode
	listener  SlotListener

	retryAttempts   int
	retryMinBackoff time.Duration
	retryMaxBackoff time.Duration
	retry           *retry.Policy

	now   func() time.Time
	newID func() string
	log   logger.Logger
}

// New creates an engine over store.
func New(store repository.Store, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		placement:       waitlist.ModeAppend,
		retryAttempts:   defaultRetryAttempts,
		retryMinBackoff: defaultRetryMinBackoff,
		retryMaxBackoff: defaultRetryMaxBackoff,
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Get().Named("admission")
	}
	if e.resolver == nil {
		e.resolver = priority.NewResolver(nil, priority.NewPolicy(), priority.WithLogger(e.log))
	}
	e.retry = retry.New(
		retry.WithMaxAttempts(e.retryAttempts),
		retry.WithBackoff(e.retryMinBackoff, e.retryMaxBackoff),
		retry.WithRetryable(isConflict),
		retry.WithOnRetry(func(ctx context.Context, attempt int, delay time.Duration, err error) {
			e.log.Debug(ctx, "transaction conflict, retrying",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Error(err),
			)
		}),
	)
	return e
}

// Placement returns the configured waitlist placement mode.
func (e *Engine) Placement() waitlist.Mode { return e.placement }

// txResult is what one committed transaction reports back.
type txResult struct {
	outcome    model.Outcome
	freed      model.SlotReason
	renumbered bool
	clamped    bool
}

// ApplyStatusChange is the admission entry point. It moves one attendee to
// the requested status, or creates the record, in a single transaction that
// also applies the counter delta and any waitlist renumbering. Conflicts are
// retried within the configured bound and then reported as
// ErrTransactionConflict.
func (e *Engine) ApplyStatusChange(ctx context.Context, change model.StatusChange) (model.Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAdmissionLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if err := change.Validate(); err != nil {
		metrics.RecordAdmission(metrics.OutcomeError)
		return model.Outcome{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	tiers := &tierLookup{resolver: e.resolver}
	e.prefetchTier(ctx, change, tiers)

	var res txResult
	err := e.run(ctx, func(ctx context.Context) error {
		r, err := e.applyOnce(ctx, change, tiers)
		var unresolved *tierUnresolvedError
		if errors.As(err, &unresolved) {
			// The attempt rolled back; look the tier up with no lock held.
			tiers.resolve(ctx, unresolved.subjectID)
			r, err = e.applyOnce(ctx, change, tiers)
		}
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		metrics.RecordAdmission(outcomeForError(err))
		e.logFailure(ctx, change, err)
		return model.Outcome{}, err
	}

	e.afterCommit(ctx, change.EventID, res)
	metrics.RecordAdmission(outcomeFor(res.outcome))
	e.log.Debug(ctx, "status change applied",
		logger.String("event_id", change.EventID),
		logger.String("attendee_id", res.outcome.Attendee.ID),
		logger.String("previous", string(res.outcome.Previous)),
		logger.String("status", string(res.outcome.Attendee.Status)),
		logger.Bool("changed", res.outcome.Changed),
		logger.Bool("redirected", res.outcome.Redirected),
	)
	return res.outcome, nil
}

// DeleteAttendee physically removes a record. The counter and waitlist are
// repaired in the same transaction.
func (e *Engine) DeleteAttendee(ctx context.Context, eventID, attendeeID string) (model.Outcome, error) {
	if eventID == "" || attendeeID == "" {
		return model.Outcome{}, fmt.Errorf("%w: event id and attendee id are required", ErrInvalidRequest)
	}

	var res txResult
	err := e.run(ctx, func(ctx context.Context) error {
		r, err := e.deleteOnce(ctx, eventID, attendeeID)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return model.Outcome{}, err
	}

	e.afterCommit(ctx, eventID, res)
	metrics.RecordAdmission(metrics.OutcomeRemoved)
	e.log.Info(ctx, "attendee deleted",
		logger.String("event_id", eventID),
		logger.String("attendee_id", attendeeID),
		logger.String("previous", string(res.outcome.Previous)),
	)
	return res.outcome, nil
}

// run executes one transactional unit under the retry policy.
func (e *Engine) run(ctx context.Context, unit func(ctx context.Context) error) error {
	err := e.retry.Do(ctx, func(ctx context.Context, _ int) error {
		err := unit(ctx)
		if isConflict(err) {
			metrics.RecordConflict()
		}
		return err
	})
	if errors.Is(err, retry.ErrExhausted) {
		metrics.RecordRetryExhausted()
	}
	return translate(err)
}

func (e *Engine) applyOnce(ctx context.Context, change model.StatusChange, tiers *tierLookup) (txResult, error) {
	var res txResult
	err := e.store.RunInTx(ctx, change.EventID, func(ctx context.Context, tx repository.Tx) error {
		res = txResult{}

		event, err := tx.Event(ctx)
		if err != nil {
			return err
		}
		current, exists, err := locate(ctx, tx, change)
		if err != nil {
			return err
		}

		previous := model.StatusNone
		if exists {
			previous = current.Status
		}
		out := model.Outcome{
			Attendee:       current,
			Previous:       previous,
			Requested:      change.Requested,
			ConfirmedCount: event.ConfirmedCount,
			Capacity:       event.Capacity,
		}

		if exists && previous == change.Requested {
			res.outcome = out
			return nil
		}
		if !exists && change.Requested == model.StatusRemoved {
			return fmt.Errorf("%w: no record to remove", ErrInvalidRequest)
		}

		now := e.now()
		if !exists {
			current = e.newRecord(event.ID, *change.New, now)
		}

		wl := waitlistReader{tx: tx}
		target := change.Requested

		if target == model.StatusConfirmed && previous != model.StatusConfirmed {
			// The counter is the one read in this transaction, never a cached value.
			eval := capacity.New(event.Capacity, event.ConfirmedCount)
			if !eval.CanConfirm(1) {
				records, err := wl.load(ctx)
				if err != nil {
					return err
				}
				open := waitlistOpen(event, len(records))
				switch {
				case previous == model.StatusWaitlisted:
					// Still full; keep the queued slot.
					out.Redirected = true
					res.outcome = out
					return nil
				case open && !change.RejectIfFull:
					target = model.StatusWaitlisted
					out.Redirected = true
				default:
					return &CapacityExceededError{
						Confirmed:       event.ConfirmedCount,
						Capacity:        *event.Capacity,
						WaitlistOffered: open,
					}
				}
			}
		}

		if target == model.StatusWaitlisted && previous != model.StatusWaitlisted {
			records, err := wl.load(ctx)
			if err != nil {
				return err
			}
			if !waitlistOpen(event, len(records)) {
				return fmt.Errorf("%w: event %s", ErrWaitlistClosed, event.ID)
			}
			tier, ok := tiers.cached(current.SubjectID)
			if !ok {
				return &tierUnresolvedError{subjectID: current.SubjectID}
			}
			assignment := waitlist.Assign(records, e.resolver.Policy().Divisor(tier), e.placement)
			for _, moved := range assignment.Shifted {
				moved.UpdatedAt = now
				if err := tx.PutAttendee(ctx, moved); err != nil {
					return err
				}
			}
			current.WaitlistPosition = assignment.Position
			if current.JoinedWaitlistAt == nil {
				joined := now
				current.JoinedWaitlistAt = &joined
			}
			if event.Capacity != nil && capacity.New(event.Capacity, event.ConfirmedCount).CanConfirm(1) {
				// Joined with seats free; the promoter must not wait for a leave.
				res.freed = model.SlotReasonSeatsOpen
			}
		}

		if previous == model.StatusWaitlisted && target != model.StatusWaitlisted {
			records, err := wl.load(ctx)
			if err != nil {
				return err
			}
			if err := resequenceWithout(ctx, tx, records, current.ID, now); err != nil {
				return err
			}
			current.WaitlistPosition = 0
			res.renumbered = true
			res.freed = model.SlotReasonLeftWaitlist
		}

		if delta := countDelta(previous, target); delta != 0 {
			count, clamped := e.clamp(ctx, event, event.ConfirmedCount+delta)
			if err := tx.SetConfirmedCount(ctx, count); err != nil {
				return err
			}
			out.ConfirmedCount = count
			res.clamped = clamped
		}
		if previous == model.StatusConfirmed && target != model.StatusConfirmed {
			res.freed = model.SlotReasonLeftConfirmed
		}

		current.Status = target
		current.UpdatedAt = now
		if err := tx.PutAttendee(ctx, current); err != nil {
			return err
		}

		out.Attendee = current
		out.Changed = true
		out.Created = !exists
		out.Renumbered = res.renumbered
		res.outcome = out
		return nil
	})
	return res, err
}

func (e *Engine) deleteOnce(ctx context.Context, eventID, attendeeID string) (txResult, error) {
	var res txResult
	err := e.store.RunInTx(ctx, eventID, func(ctx context.Context, tx repository.Tx) error {
		res = txResult{}

		event, err := tx.Event(ctx)
		if err != nil {
			return err
		}
		current, err := tx.Attendee(ctx, attendeeID)
		if err != nil {
			return err
		}
		now := e.now()
		out := model.Outcome{
			Attendee:       current,
			Previous:       current.Status,
			Requested:      model.StatusRemoved,
			Changed:        true,
			ConfirmedCount: event.ConfirmedCount,
			Capacity:       event.Capacity,
		}

		switch current.Status {
		case model.StatusWaitlisted:
			records, err := tx.Waitlisted(ctx)
			if err != nil {
				return err
			}
			if err := resequenceWithout(ctx, tx, records, current.ID, now); err != nil {
				return err
			}
			res.renumbered = true
			out.Renumbered = true
			res.freed = model.SlotReasonDeleted
		case model.StatusConfirmed:
			count, clamped := e.clamp(ctx, event, event.ConfirmedCount-1)
			if err := tx.SetConfirmedCount(ctx, count); err != nil {
				return err
			}
			out.ConfirmedCount = count
			res.clamped = clamped
			res.freed = model.SlotReasonDeleted
		}

		if err := tx.DeleteAttendee(ctx, current.ID); err != nil {
			return err
		}
		res.outcome = out
		return nil
	})
	return res, err
}

// afterCommit records post-commit metrics and hands off the slot freed fact.
func (e *Engine) afterCommit(ctx context.Context, eventID string, res txResult) {
	if res.renumbered {
		metrics.RecordWaitlistRenumber()
	}
	if res.clamped {
		metrics.RecordCountClamp()
	}
	e.emit(ctx, eventID, res.freed)
}

func (e *Engine) emit(ctx context.Context, eventID string, reason model.SlotReason) {
	if reason == "" || e.listener == nil {
		return
	}
	e.listener.SlotFreed(ctx, model.SlotFreed{EventID: eventID, Reason: reason, At: e.now()})
}

// clamp keeps the counter non-negative. A clamp means the stored counter had
// drifted from the records and is logged loudly.
func (e *Engine) clamp(ctx context.Context, event model.Event, count int) (int, bool) {
	if count >= 0 {
		return count, false
	}
	e.log.Warn(ctx, "confirmed count would go negative, clamping to zero",
		logger.String("event_id", event.ID),
		logger.Int("stored_count", event.ConfirmedCount),
		logger.Int("computed_count", count),
	)
	return 0, true
}

func (e *Engine) newRecord(eventID string, d model.NewAttendee, now time.Time) model.Attendee {
	return model.Attendee{
		ID:          e.newID(),
		EventID:     eventID,
		SubjectID:   d.SubjectID,
		Kind:        d.Kind,
		AgeGroup:    d.AgeGroup,
		DisplayName: d.DisplayName,
		Status:      model.StatusNone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// prefetchTier resolves the joiner's tier before the transaction when a
// waitlist join is likely. If the guess was wrong the transaction aborts with
// tierUnresolvedError and is rerun after the lookup.
func (e *Engine) prefetchTier(ctx context.Context, change model.StatusChange, tiers *tierLookup) {
	switch change.Requested {
	case model.StatusWaitlisted:
	case model.StatusConfirmed:
		ev, err := e.store.GetEvent(ctx, change.EventID)
		if err != nil || !ev.WaitlistEnabled || capacity.New(ev.Capacity, ev.ConfirmedCount).CanConfirm(1) {
			return
		}
	default:
		return
	}

	if change.New != nil {
		tiers.resolve(ctx, change.New.SubjectID)
		return
	}
	a, err := e.store.GetAttendee(ctx, change.EventID, change.AttendeeID)
	if err != nil || a.Status == model.StatusWaitlisted || a.Status == change.Requested {
		return
	}
	tiers.resolve(ctx, a.SubjectID)
}

func (e *Engine) logFailure(ctx context.Context, change model.StatusChange, err error) {
	fields := []logger.Field{
		logger.String("event_id", change.EventID),
		logger.String("attendee_id", change.AttendeeID),
		logger.String("requested", string(change.Requested)),
		logger.Error(err),
	}
	var capErr *CapacityExceededError
	switch {
	case errors.As(err, &capErr):
		e.log.Info(ctx, "admission rejected, event full",
			append(fields,
				logger.Int("confirmed", capErr.Confirmed),
				logger.Int("capacity", capErr.Capacity),
				logger.Bool("waitlist_offered", capErr.WaitlistOffered),
			)...)
	case errors.Is(err, ErrWaitlistClosed):
		e.log.Info(ctx, "waitlist join refused", fields...)
	case errors.Is(err, ErrEventNotFound), errors.Is(err, ErrAttendeeNotFound), errors.Is(err, ErrInvalidRequest):
		e.log.Debug(ctx, "admission precondition failed", fields...)
	case errors.Is(err, ErrTransactionConflict):
		e.log.Warn(ctx, "admission conflict after retries", fields...)
	default:
		e.log.Error(ctx, "admission failed", fields...)
	}
}

// locate finds the record the change targets. exists is false for a new
// descriptor with no matching deduplicated record.
func locate(ctx context.Context, tx repository.Tx, change model.StatusChange) (model.Attendee, bool, error) {
	if change.AttendeeID != "" {
		a, err := tx.Attendee(ctx, change.AttendeeID)
		if err != nil {
			return model.Attendee{}, false, err
		}
		return a, true, nil
	}
	return tx.FindAttendee(ctx, *change.New)
}

// countDelta is +1 entering Confirmed, -1 leaving it, 0 otherwise.
func countDelta(previous, target model.Status) int {
	switch {
	case target == model.StatusConfirmed && previous != model.StatusConfirmed:
		return 1
	case previous == model.StatusConfirmed && target != model.StatusConfirmed:
		return -1
	}
	return 0
}

func waitlistOpen(event model.Event, waitlisted int) bool {
	if !event.WaitlistEnabled {
		return false
	}
	return event.WaitlistLimit == nil || waitlisted < *event.WaitlistLimit
}

// resequenceWithout drops leaving from records and writes back every
// remaining record whose position changed.
func resequenceWithout(ctx context.Context, tx repository.Tx, records []model.Attendee, leaving string, now time.Time) error {
	remaining := make([]model.Attendee, 0, len(records))
	for _, r := range records {
		if r.ID != leaving {
			remaining = append(remaining, r)
		}
	}
	_, changed := waitlist.Resequence(remaining)
	for _, r := range changed {
		r.UpdatedAt = now
		if err := tx.PutAttendee(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// waitlistReader reads the waitlist at most once per transaction attempt.
type waitlistReader struct {
	tx      repository.Tx
	records []model.Attendee
	loaded  bool
}

func (w *waitlistReader) load(ctx context.Context) ([]model.Attendee, error) {
	if w.loaded {
		return w.records, nil
	}
	records, err := w.tx.Waitlisted(ctx)
	if err != nil {
		return nil, err
	}
	w.records, w.loaded = records, true
	return records, nil
}

// tierLookup memoises one subject's tier across retry attempts. resolve is
// only called outside a transaction; transactions read through cached.
type tierLookup struct {
	resolver *priority.Resolver
	subject  string
	tier     model.Tier
	done     bool
}

func (t *tierLookup) resolve(ctx context.Context, subjectID string) model.Tier {
	if tier, ok := t.cached(subjectID); ok {
		return tier
	}
	t.subject = subjectID
	t.tier = t.resolver.Resolve(ctx, subjectID)
	t.done = true
	return t.tier
}

func (t *tierLookup) cached(subjectID string) (model.Tier, bool) {
	return t.tier, t.done && t.subject == subjectID
}

// tierUnresolvedError aborts a transaction that needs a tier nobody looked up.
type tierUnresolvedError struct {
	subjectID string
}

func (e *tierUnresolvedError) Error() string {
	return "tier not resolved for subject " + e.subjectID
}

func outcomeFor(out model.Outcome) string {
	if !out.Changed {
		return metrics.OutcomeUnchanged
	}
	switch out.Attendee.Status {
	case model.StatusConfirmed:
		return metrics.OutcomeConfirmed
	case model.StatusWaitlisted:
		return metrics.OutcomeWaitlisted
	case model.StatusDeclined:
		return metrics.OutcomeDeclined
	case model.StatusRemoved:
		return metrics.OutcomeRemoved
	}
	return metrics.OutcomeError
}

func outcomeForError(err error) string {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		return metrics.OutcomeCapacityExceeded
	case errors.Is(err, ErrWaitlistClosed):
		return metrics.OutcomeWaitlistClosed
	case errors.Is(err, ErrStoreUnavailable):
		return metrics.OutcomeUnavailable
	}
	return metrics.OutcomeError
}
