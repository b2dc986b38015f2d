package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrEventNotFound    = errors.New("event not found")
	ErrAttendeeNotFound = errors.New("attendee not found")
	ErrEventExists      = errors.New("event already exists")
	// ErrConflict means a concurrent writer won; the unit may be retried.
	ErrConflict = errors.New("transaction conflict")
	// ErrUnavailable means the backend could not be reached or timed out.
	ErrUnavailable = errors.New("store unavailable")
)
