package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/admit/internal/loadtest"
	"github.com/okian/admit/pkg/logger"
)

// Default configuration constants.
const (
	defaultAttendees    = 500
	defaultCapacity     = 50
	defaultWorkers      = 2 // multiplier for runtime.NumCPU()
	defaultDeclineRatio = 0.2
	defaultTimeout      = 10 * time.Second
	defaultSettle       = 10 * time.Second
	defaultTestTimeout  = 10 * time.Minute
)

func main() {
	var (
		baseURL         = flag.String("url", "http://localhost:9080", "Base URL of the service")
		attendees       = flag.Int("attendees", defaultAttendees, "Number of people who RSVP")
		capacity        = flag.Int("capacity", defaultCapacity, "Event capacity")
		waitlistLimit   = flag.Int("waitlist-limit", 0, "Waitlist limit, 0 for unbounded")
		workers         = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Concurrent requests")
		declineRatio    = flag.Float64("decline", defaultDeclineRatio, "Share of confirmed attendees who decline")
		timeout         = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle          = flag.Duration("settle", defaultSettle, "Time allowed for promotions to finish")
		expectPromotion = flag.Bool("expect-promotion", false, "Require freed seats to be refilled from the waitlist")
		logLevel        = flag.String("log-level", "info", "Log level")
		help            = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadtest.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.SetLevelString(*logLevel); err != nil {
		os.Stderr.WriteString("Invalid log level: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	_, err := loadtest.Run(ctx, loadtest.Config{
		BaseURL:         *baseURL,
		Attendees:       *attendees,
		Capacity:        *capacity,
		WaitlistLimit:   *waitlistLimit,
		Workers:         *workers,
		DeclineRatio:    *declineRatio,
		Timeout:         *timeout,
		SettleTimeout:   *settle,
		ExpectPromotion: *expectPromotion,
	})
	if err != nil {
		os.Stderr.WriteString("Test failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}
