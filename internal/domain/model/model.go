// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the admission state of an attendee record.
type Status string

// Attendee statuses.
const (
	StatusNone       Status = "" // no record yet
	StatusConfirmed  Status = "confirmed"
	StatusDeclined   Status = "declined"
	StatusWaitlisted Status = "waitlisted"
	StatusRemoved    Status = "removed"
)

// ParseStatus accepts a status name case-insensitively. StatusNone is not a valid request.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return StatusNone, fmt.Errorf("%w: status %q", ErrInvalidValue, s)
	}
	return st, nil
}

// Valid reports whether s is one of the requestable statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusConfirmed, StatusDeclined, StatusWaitlisted, StatusRemoved:
		return true
	}
	return false
}

// Kind says who an attendee record represents.
type Kind string

// Attendee kinds.
const (
	KindPrimary      Kind = "primary"
	KindFamilyMember Kind = "family_member"
	KindGuest        Kind = "guest"
)

// ParseKind accepts a kind name case-insensitively; empty means primary.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == "" {
		return KindPrimary, nil
	}
	if !k.Valid() {
		return "", fmt.Errorf("%w: kind %q", ErrInvalidValue, s)
	}
	return k, nil
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPrimary, KindFamilyMember, KindGuest:
		return true
	}
	return false
}

// Deduplicated reports whether a second RSVP for the same person reuses the existing record.
// Guests have no stable identity and always get a fresh record.
func (k Kind) Deduplicated() bool {
	return k == KindPrimary || k == KindFamilyMember
}

// Tier is a priority classification used only to bias waitlist insertion.
type Tier string

// Event is the capacity-limited thing people RSVP to.
type Event struct {
	ID   string
	Name string
	// Capacity nil means unlimited.
	Capacity *int
	// ConfirmedCount is derived from transaction deltas only.
	ConfirmedCount  int
	WaitlistEnabled bool
	// WaitlistLimit nil means unbounded.
	WaitlistLimit *int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a deep copy so callers may mutate pointer fields freely.
func (e Event) Clone() Event {
	if e.Capacity != nil {
		c := *e.Capacity
		e.Capacity = &c
	}
	if e.WaitlistLimit != nil {
		l := *e.WaitlistLimit
		e.WaitlistLimit = &l
	}
	return e
}

// Attendee is one person's record for one event.
type Attendee struct {
	ID          string
	EventID     string
	SubjectID   string
	Kind        Kind
	AgeGroup    string
	DisplayName string
	Status      Status
	// WaitlistPosition is >= 1 when Status is waitlisted and 0 otherwise.
	WaitlistPosition int
	JoinedWaitlistAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Clone returns a deep copy.
func (a Attendee) Clone() Attendee {
	if a.JoinedWaitlistAt != nil {
		t := *a.JoinedWaitlistAt
		a.JoinedWaitlistAt = &t
	}
	return a
}

// SameIdentity reports whether a and d describe the same deduplicated person.
func (a Attendee) SameIdentity(d NewAttendee) bool {
	return a.Kind.Deduplicated() &&
		a.SubjectID == d.SubjectID &&
		a.Kind == d.Kind &&
		a.DisplayName == d.DisplayName
}

// NewAttendee describes a person RSVPing for the first time.
type NewAttendee struct {
	SubjectID   string
	Kind        Kind
	AgeGroup    string
	DisplayName string
}

// Validate checks the descriptor fields the engine relies on.
func (d NewAttendee) Validate() error {
	if strings.TrimSpace(d.SubjectID) == "" {
		return fmt.Errorf("%w: subject id is required", ErrInvalidValue)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidValue, d.Kind)
	}
	return nil
}

// StatusChange is one admission request. Exactly one of AttendeeID and New is set.
type StatusChange struct {
	EventID    string
	AttendeeID string
	New        *NewAttendee
	Requested  Status
	// RejectIfFull turns the automatic redirect to the waitlist into a
	// CapacityExceeded rejection that says whether the waitlist is open.
	RejectIfFull bool
}

// Validate checks the request shape.
func (c StatusChange) Validate() error {
	if c.EventID == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidValue)
	}
	if (c.AttendeeID == "") == (c.New == nil) {
		return fmt.Errorf("%w: exactly one of attendee id or new attendee is required", ErrInvalidValue)
	}
	if c.New != nil {
		if err := c.New.Validate(); err != nil {
			return err
		}
	}
	if !c.Requested.Valid() {
		return fmt.Errorf("%w: requested status %q", ErrInvalidValue, c.Requested)
	}
	return nil
}

// Outcome reports what a committed status change did.
type Outcome struct {
	Attendee       Attendee
	Previous       Status
	Requested      Status
	Changed        bool
	Redirected     bool
	Created        bool
	ConfirmedCount int
	Capacity       *int
	// Renumbered is true when the waitlist was resequenced in the same transaction.
	Renumbered bool
}

// SlotReason says why a slot freed fact was emitted.
type SlotReason string

// Slot freed reasons. SlotReasonSeatsOpen marks a waitlist join made while
// seats were still free.
const (
	SlotReasonLeftWaitlist  SlotReason = "left_waitlist"
	SlotReasonLeftConfirmed SlotReason = "left_confirmed"
	SlotReasonDeleted       SlotReason = "deleted"
	SlotReasonReconciled    SlotReason = "reconciled"
	SlotReasonSeatsOpen     SlotReason = "seats_open"
)

// SlotFreed is the fact handed to the promotion side after a commit.
type SlotFreed struct {
	EventID string
	Reason  SlotReason
	At      time.Time
}
