// Package loadtest drives concurrent RSVP traffic against a running service
// and checks the admission invariants afterwards.
package loadtest

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL       string        // Base URL of the service
	Attendees     int           // Number of distinct people who RSVP
	Capacity      int           // Event capacity
	WaitlistLimit int           // 0 means unbounded
	Workers       int           // Concurrent requests in flight
	DeclineRatio  float64       // Share of confirmed attendees who decline afterwards
	Timeout       time.Duration // HTTP request timeout
	SettleTimeout time.Duration // How long to wait for promotions to finish
	// ExpectPromotion also checks that no slot is free while people wait.
	ExpectPromotion bool
}

// Stats holds counts of what the service answered.
type Stats struct {
	Submitted  int64
	Confirmed  int64
	Waitlisted int64
	Rejected   int64
	Retry      int64
	Failed     int64
	Declined   int64
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
}

// Report is the outcome of a run.
type Report struct {
	EventID        string
	Stats          Stats
	ConfirmedCount int
	WaitlistLength int
}
