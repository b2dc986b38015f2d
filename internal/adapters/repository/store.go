// Package repository defines the event and attendee record store and its backends.
package repository

import (
	"context"

	"github.com/okian/admit/internal/domain/model"
)

// Store provides access to events and attendee records.
// Every mutation of attendees or the confirmed counter goes through RunInTx.
type Store interface {
	// CreateEvent inserts e. Returns ErrEventExists if the id is taken.
	CreateEvent(ctx context.Context, e model.Event) (model.Event, error)
	// GetEvent returns ErrEventNotFound for unknown ids.
	GetEvent(ctx context.Context, eventID string) (model.Event, error)
	// ListEvents returns events ordered by creation time.
	ListEvents(ctx context.Context) ([]model.Event, error)

	// ListAttendees returns every record for the event ordered by creation time.
	ListAttendees(ctx context.Context, eventID string) ([]model.Attendee, error)
	// Waitlist returns waitlisted records ordered by position.
	Waitlist(ctx context.Context, eventID string) ([]model.Attendee, error)
	// GetAttendee returns ErrAttendeeNotFound if the record is missing or belongs to another event.
	GetAttendee(ctx context.Context, eventID, attendeeID string) (model.Attendee, error)

	// RunInTx runs fn as one atomic unit scoped to eventID. Writes made through
	// tx become visible only if fn returns nil and the commit succeeds. A
	// concurrent conflicting write aborts the unit with ErrConflict; a backend
	// failure yields ErrUnavailable.
	RunInTx(ctx context.Context, eventID string, fn func(ctx context.Context, tx Tx) error) error

	// Backend names the implementation for metrics and stats.
	Backend() string
	Close() error
}

// Tx is the view of one event inside a transaction. Reads observe the
// transaction's own earlier writes.
type Tx interface {
	Event(ctx context.Context) (model.Event, error)
	Attendee(ctx context.Context, attendeeID string) (model.Attendee, error)
	// FindAttendee looks up a de-duplicated record matching d.
	FindAttendee(ctx context.Context, d model.NewAttendee) (model.Attendee, bool, error)
	Attendees(ctx context.Context) ([]model.Attendee, error)
	// Waitlisted returns waitlisted records ordered by position.
	Waitlisted(ctx context.Context) ([]model.Attendee, error)

	PutAttendee(ctx context.Context, a model.Attendee) error
	DeleteAttendee(ctx context.Context, attendeeID string) error
	SetConfirmedCount(ctx context.Context, n int) error
}
