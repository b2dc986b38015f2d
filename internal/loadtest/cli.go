package loadtest

import "os"

// ShowHelp prints usage information for the load tool.
func ShowHelp() {
	os.Stdout.WriteString(`Admit RSVP Load Tool
====================

Creates an event, fires concurrent RSVPs at it, declines a share of the
confirmed seats and then checks that the counter, the capacity and the
waitlist positions are consistent.

Usage:
  load-rsvp [options]

Options:
  -url string          Base URL of the service (default "http://localhost:9080")
  -attendees int       Number of people who RSVP (default 500)
  -capacity int        Event capacity (default 50)
  -waitlist-limit int  Waitlist limit, 0 for unbounded (default 0)
  -workers int         Concurrent requests (default CPU cores * 2)
  -decline float       Share of confirmed attendees who decline (default 0.2)
  -timeout duration    HTTP request timeout (default 10s)
  -settle duration     Time allowed for promotions to finish (default 10s)
  -expect-promotion    Also require freed seats to be refilled from the waitlist
  -log-level string    debug, info, warn or error (default "info")
  -help                Show this help message
`)
}
