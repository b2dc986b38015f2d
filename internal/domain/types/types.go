// Package types contains the JSON shapes shared by the HTTP API and its clients.
package types

import (
	"time"

	"github.com/okian/admit/internal/domain/model"
)

// CreateEventRequest is the body of POST /events.
type CreateEventRequest struct {
	ID              string `json:"id,omitempty" validate:"omitempty,max=128,excludesall=/?#"`
	Name            string `json:"name" validate:"required,max=256"`
	Capacity        *int   `json:"capacity,omitempty" validate:"omitempty,min=0"`
	WaitlistEnabled bool   `json:"waitlist_enabled"`
	WaitlistLimit   *int   `json:"waitlist_limit,omitempty" validate:"omitempty,min=0"`
}

// Event is the read shape of an event.
type Event struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Capacity        *int      `json:"capacity"`
	ConfirmedCount  int       `json:"confirmed_count"`
	WaitlistEnabled bool      `json:"waitlist_enabled"`
	WaitlistLimit   *int      `json:"waitlist_limit"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RSVPRequest is the body of POST /events/{eventID}/attendees.
type RSVPRequest struct {
	SubjectID    string `json:"subject_id" validate:"required,max=128"`
	Kind         string `json:"kind,omitempty"`
	AgeGroup     string `json:"age_group,omitempty" validate:"max=32"`
	DisplayName  string `json:"display_name,omitempty" validate:"max=256"`
	Status       string `json:"status" validate:"required"`
	RejectIfFull bool   `json:"reject_if_full,omitempty"`
}

// StatusRequest is the body of PUT /events/{eventID}/attendees/{attendeeID}/status.
type StatusRequest struct {
	Status       string `json:"status" validate:"required"`
	RejectIfFull bool   `json:"reject_if_full,omitempty"`
}

// Attendee is the read shape of an attendee record.
type Attendee struct {
	ID               string     `json:"id"`
	EventID          string     `json:"event_id"`
	SubjectID        string     `json:"subject_id"`
	Kind             string     `json:"kind"`
	AgeGroup         string     `json:"age_group,omitempty"`
	DisplayName      string     `json:"display_name,omitempty"`
	Status           string     `json:"status"`
	WaitlistPosition int        `json:"waitlist_position,omitempty"`
	JoinedWaitlistAt *time.Time `json:"joined_waitlist_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Outcome is the result of an admission request.
type Outcome struct {
	Attendee       Attendee `json:"attendee"`
	Previous       string   `json:"previous_status"`
	Requested      string   `json:"requested_status"`
	Changed        bool     `json:"changed"`
	Redirected     bool     `json:"redirected"`
	Created        bool     `json:"created"`
	ConfirmedCount int      `json:"confirmed_count"`
	Capacity       *int     `json:"capacity"`
	Renumbered     bool     `json:"renumbered"`
}

// RecalcResult is the result of a waitlist recalculation.
type RecalcResult struct {
	EventID           string `json:"event_id"`
	RecalculatedCount int    `json:"recalculated_count"`
	Moved             int    `json:"moved"`
}

// ReconcileResult is the result of a confirmed counter reconciliation.
type ReconcileResult struct {
	EventID  string `json:"event_id"`
	Previous int    `json:"previous"`
	Actual   int    `json:"actual"`
	Drift    int    `json:"drift"`
}

// Error is the body of every non 2xx response. The capacity fields are set
// only for capacity_exceeded.
type Error struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	Confirmed       *int   `json:"confirmed,omitempty"`
	Capacity        *int   `json:"capacity,omitempty"`
	WaitlistOffered *bool  `json:"waitlist_offered,omitempty"`
}

// FromEvent converts a domain event.
func FromEvent(e model.Event) Event {
	e = e.Clone()
	return Event{
		ID:              e.ID,
		Name:            e.Name,
		Capacity:        e.Capacity,
		ConfirmedCount:  e.ConfirmedCount,
		WaitlistEnabled: e.WaitlistEnabled,
		WaitlistLimit:   e.WaitlistLimit,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

// FromAttendee converts a domain attendee record.
func FromAttendee(a model.Attendee) Attendee {
	a = a.Clone()
	return Attendee{
		ID:               a.ID,
		EventID:          a.EventID,
		SubjectID:        a.SubjectID,
		Kind:             string(a.Kind),
		AgeGroup:         a.AgeGroup,
		DisplayName:      a.DisplayName,
		Status:           string(a.Status),
		WaitlistPosition: a.WaitlistPosition,
		JoinedWaitlistAt: a.JoinedWaitlistAt,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

// FromOutcome converts an admission outcome.
func FromOutcome(o model.Outcome) Outcome {
	var capacity *int
	if o.Capacity != nil {
		c := *o.Capacity
		capacity = &c
	}
	return Outcome{
		Attendee:       FromAttendee(o.Attendee),
		Previous:       string(o.Previous),
		Requested:      string(o.Requested),
		Changed:        o.Changed,
		Redirected:     o.Redirected,
		Created:        o.Created,
		ConfirmedCount: o.ConfirmedCount,
		Capacity:       capacity,
		Renumbered:     o.Renumbered,
	}
}

// FromEvents converts a slice, never returning nil.
func FromEvents(events []model.Event) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		out = append(out, FromEvent(e))
	}
	return out
}

// FromAttendees converts a slice, never returning nil.
func FromAttendees(records []model.Attendee) []Attendee {
	out := make([]Attendee, 0, len(records))
	for _, a := range records {
		out = append(out, FromAttendee(a))
	}
	return out
}
