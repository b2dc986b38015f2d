package admission

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/admit/internal/domain/model"
	"github.com/okian/admit/pkg/logger"
)

// EventSpec describes an event to create. The confirmed counter always
// starts at zero.
type EventSpec struct {
	ID              string
	Name            string
	Capacity        *int
	WaitlistEnabled bool
	WaitlistLimit   *int
}

// Validate rejects negative bounds.
func (s EventSpec) Validate() error {
	if s.Capacity != nil && *s.Capacity < 0 {
		return fmt.Errorf("%w: capacity must be >= 0", ErrInvalidRequest)
	}
	if s.WaitlistLimit != nil && *s.WaitlistLimit < 0 {
		return fmt.Errorf("%w: waitlist limit must be >= 0", ErrInvalidRequest)
	}
	return nil
}

// CreateEvent stores a new event. An empty id is generated.
func (e *Engine) CreateEvent(ctx context.Context, spec EventSpec) (model.Event, error) {
	if err := spec.Validate(); err != nil {
		return model.Event{}, err
	}
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		id = e.newID()
	}
	now := e.now()
	event := model.Event{
		ID:              id,
		Name:            spec.Name,
		Capacity:        spec.Capacity,
		WaitlistEnabled: spec.WaitlistEnabled,
		WaitlistLimit:   spec.WaitlistLimit,
		CreatedAt:       now,
		UpdatedAt:       now,
	}.Clone()

	created, err := e.store.CreateEvent(ctx, event)
	if err != nil {
		return model.Event{}, err
	}
	e.log.Info(ctx, "event created",
		logger.String("event_id", created.ID),
		logger.Any("capacity", created.Capacity),
		logger.Bool("waitlist_enabled", created.WaitlistEnabled),
	)
	return created, nil
}

// GetEvent returns one event.
func (e *Engine) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	return e.store.GetEvent(ctx, eventID)
}

// ListEvents returns all events by creation time.
func (e *Engine) ListEvents(ctx context.Context) ([]model.Event, error) {
	return e.store.ListEvents(ctx)
}

// ListAttendees returns the event's records by creation time.
func (e *Engine) ListAttendees(ctx context.Context, eventID string) ([]model.Attendee, error) {
	return e.store.ListAttendees(ctx, eventID)
}

// GetAttendee returns one record of the event.
func (e *Engine) GetAttendee(ctx context.Context, eventID, attendeeID string) (model.Attendee, error) {
	return e.store.GetAttendee(ctx, eventID, attendeeID)
}

// Waitlist returns the waitlisted records ordered by position.
func (e *Engine) Waitlist(ctx context.Context, eventID string) ([]model.Attendee, error) {
	return e.store.Waitlist(ctx, eventID)
}
