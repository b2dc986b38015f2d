package admission

import (
	"context"
	"fmt"

	"github.com/okian/admit/internal/adapters/repository"
	"github.com/okian/admit/internal/domain/model"
	"github.com/okian/admit/internal/domain/waitlist"
	"github.com/okian/admit/pkg/logger"
	"github.com/okian/admit/pkg/metrics"
)

// Reconciliation results recorded in metrics.
const (
	reconcileInSync   = "in_sync"
	reconcileRepaired = "repaired"
)

// RecalcResult reports a waitlist recalculation.
type RecalcResult struct {
	EventID string
	// RecalculatedCount is the number of waitlisted records, now at 1..k.
	RecalculatedCount int
	// Moved counts records whose position changed.
	Moved int
}

// ReconcileResult reports a counter reconciliation.
type ReconcileResult struct {
	EventID  string
	Previous int
	Actual   int
}

// Drift is how far the stored counter was from the records.
func (r ReconcileResult) Drift() int { return r.Previous - r.Actual }

// RecalculateWaitlistPositions rewrites the event's waitlist to 1..k in
// order of current position. Running it twice yields the same positions.
func (e *Engine) RecalculateWaitlistPositions(ctx context.Context, eventID string) (RecalcResult, error) {
	if eventID == "" {
		return RecalcResult{}, fmt.Errorf("%w: event id is required", ErrInvalidRequest)
	}

	var res RecalcResult
	err := e.run(ctx, func(ctx context.Context) error {
		return e.store.RunInTx(ctx, eventID, func(ctx context.Context, tx repository.Tx) error {
			records, err := tx.Waitlisted(ctx)
			if err != nil {
				return err
			}
			ordered, changed := waitlist.Resequence(records)
			now := e.now()
			for _, r := range changed {
				r.UpdatedAt = now
				if err := tx.PutAttendee(ctx, r); err != nil {
					return err
				}
			}
			res = RecalcResult{EventID: eventID, RecalculatedCount: len(ordered), Moved: len(changed)}
			return nil
		})
	})
	if err != nil {
		return RecalcResult{}, err
	}

	metrics.RecordWaitlistRecalc()
	e.log.Info(ctx, "waitlist recalculated",
		logger.String("event_id", eventID),
		logger.Int("waitlisted", res.RecalculatedCount),
		logger.Int("moved", res.Moved),
	)
	return res, nil
}

// ReconcileConfirmedCount recounts confirmed records and rewrites the
// counter if it drifted. A downward repair frees slots and emits a fact.
func (e *Engine) ReconcileConfirmedCount(ctx context.Context, eventID string) (ReconcileResult, error) {
	if eventID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: event id is required", ErrInvalidRequest)
	}

	var res ReconcileResult
	err := e.run(ctx, func(ctx context.Context) error {
		return e.store.RunInTx(ctx, eventID, func(ctx context.Context, tx repository.Tx) error {
			event, err := tx.Event(ctx)
			if err != nil {
				return err
			}
			records, err := tx.Attendees(ctx)
			if err != nil {
				return err
			}
			actual := 0
			for _, r := range records {
				if r.Status == model.StatusConfirmed {
					actual++
				}
			}
			res = ReconcileResult{EventID: eventID, Previous: event.ConfirmedCount, Actual: actual}
			if actual == event.ConfirmedCount {
				return nil
			}
			return tx.SetConfirmedCount(ctx, actual)
		})
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	if res.Drift() == 0 {
		metrics.RecordReconciliation(reconcileInSync)
		return res, nil
	}
	metrics.RecordReconciliation(reconcileRepaired)
	e.log.Warn(ctx, "confirmed count drift repaired",
		logger.String("event_id", eventID),
		logger.Int("stored", res.Previous),
		logger.Int("actual", res.Actual),
	)
	if res.Drift() > 0 {
		e.emit(ctx, eventID, model.SlotReasonReconciled)
	}
	return res, nil
}
