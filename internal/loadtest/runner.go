package loadtest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/admit/internal/domain/types"
	"github.com/okian/admit/pkg/logger"
)

type counters struct {
	submitted, confirmed, waitlisted, rejected, retry, failed, declined atomic.Int64
}

func (c *counters) stats() Stats {
	return Stats{
		Submitted:  c.submitted.Load(),
		Confirmed:  c.confirmed.Load(),
		Waitlisted: c.waitlisted.Load(),
		Rejected:   c.rejected.Load(),
		Retry:      c.retry.Load(),
		Failed:     c.failed.Load(),
		Declined:   c.declined.Load(),
	}
}

// Run creates an event, floods it with RSVPs, declines a share of the
// confirmed seats, waits for the service to settle and verifies the result.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	cfg = withDefaults(cfg)
	log := logger.Get().Named("loadtest")
	client := NewClient(cfg.BaseURL, cfg.Timeout)
	start := time.Now()

	log.Info(ctx, "starting rsvp load test",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("attendees", cfg.Attendees),
		logger.Int("capacity", cfg.Capacity),
		logger.Int("workers", cfg.Workers),
	)

	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	req := types.CreateEventRequest{
		ID:              "load-" + uuid.NewString(),
		Name:            "load test",
		Capacity:        &cfg.Capacity,
		WaitlistEnabled: true,
	}
	if cfg.WaitlistLimit > 0 {
		req.WaitlistLimit = &cfg.WaitlistLimit
	}
	event, err := client.CreateEvent(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("event creation failed: %w", err)
	}

	var c counters
	confirmedIDs, err := submit(ctx, cfg, client, event.ID, &c)
	if err != nil {
		return nil, err
	}
	if err := decline(ctx, cfg, client, event.ID, confirmedIDs, &c); err != nil {
		return nil, err
	}

	snap, err := settle(ctx, cfg, client, event.ID)
	if err != nil {
		return nil, err
	}

	stats := c.stats()
	stats.StartTime = start
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(start)
	report := &Report{
		EventID:        event.ID,
		Stats:          stats,
		ConfirmedCount: snap.event.ConfirmedCount,
		WaitlistLength: len(snap.waitlist),
	}
	displayFinalStats(ctx, log, report)

	if err := Verify(snap.event, snap.attendees, snap.waitlist, cfg.ExpectPromotion); err != nil {
		return report, fmt.Errorf("result verification failed: %w", err)
	}
	log.Info(ctx, "all invariants hold", logger.String("event_id", event.ID))
	return report, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = defaultSettleTimeout
	}
	if cfg.DeclineRatio < 0 {
		cfg.DeclineRatio = 0
	}
	if cfg.DeclineRatio > 1 {
		cfg.DeclineRatio = 1
	}
	return cfg
}

// submit fires one RSVP per attendee, at most cfg.Workers in flight. It
// returns the ids that were confirmed.
func submit(ctx context.Context, cfg Config, client *Client, eventID string, c *counters) ([]string, error) {
	results := make([]string, cfg.Attendees)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := 0; i < cfg.Attendees; i++ {
		g.Go(func() error {
			out, err := client.RSVP(gctx, eventID, types.RSVPRequest{
				SubjectID:   fmt.Sprintf("subject-%d", i),
				DisplayName: fmt.Sprintf("Attendee %d", i),
				Status:      "confirmed",
			})
			c.submitted.Add(1)
			if err != nil {
				return classifyFailure(gctx, err, c)
			}
			switch out.Attendee.Status {
			case "confirmed":
				c.confirmed.Add(1)
				results[i] = out.Attendee.ID
			case "waitlisted":
				c.waitlisted.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("rsvp submission failed: %w", err)
	}

	ids := make([]string, 0, len(results))
	for _, id := range results {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func decline(ctx context.Context, cfg Config, client *Client, eventID string, confirmed []string, c *counters) error {
	n := int(float64(len(confirmed)) * cfg.DeclineRatio)
	if n == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, id := range confirmed[:n] {
		g.Go(func() error {
			_, err := client.SetStatus(gctx, eventID, id, types.StatusRequest{Status: "declined"})
			if err != nil {
				return classifyFailure(gctx, err, c)
			}
			c.declined.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("decline phase failed: %w", err)
	}
	return nil
}

// classifyFailure counts err and only reports it further when the run itself
// was cancelled.
func classifyFailure(ctx context.Context, err error, c *counters) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict:
		c.rejected.Add(1)
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable:
		c.retry.Add(1)
	default:
		c.failed.Add(1)
	}
	return nil
}

type snapshot struct {
	event     types.Event
	attendees []types.Attendee
	waitlist  []types.Attendee
}

func takeSnapshot(ctx context.Context, client *Client, eventID string) (snapshot, error) {
	var s snapshot
	var err error
	if s.event, err = client.GetEvent(ctx, eventID); err != nil {
		return s, err
	}
	if s.attendees, err = client.Attendees(ctx, eventID); err != nil {
		return s, err
	}
	if s.waitlist, err = client.Waitlist(ctx, eventID); err != nil {
		return s, err
	}
	return s, nil
}

// settle polls until two snapshots in a row agree and, when promotion is
// expected, no slot is left free while people wait.
func settle(ctx context.Context, cfg Config, client *Client, eventID string) (snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.SettleTimeout)
	defer cancel()

	prev, err := takeSnapshot(ctx, client, eventID)
	if err != nil {
		return prev, fmt.Errorf("snapshot failed: %w", err)
	}
	ticker := time.NewTicker(settlePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Verify whatever we have; a stuck promotion shows up there.
			return prev, nil
		case <-ticker.C:
		}
		cur, err := takeSnapshot(ctx, client, eventID)
		if err != nil {
			if ctx.Err() != nil {
				return prev, nil
			}
			return cur, fmt.Errorf("snapshot failed: %w", err)
		}
		if stable(prev, cur) && (!cfg.ExpectPromotion || filled(cur)) {
			return cur, nil
		}
		prev = cur
	}
}

func stable(a, b snapshot) bool {
	return a.event.ConfirmedCount == b.event.ConfirmedCount &&
		len(a.waitlist) == len(b.waitlist) &&
		len(a.attendees) == len(b.attendees)
}

func filled(s snapshot) bool {
	if len(s.waitlist) == 0 || s.event.Capacity == nil {
		return true
	}
	return s.event.ConfirmedCount >= *s.event.Capacity
}

// displayFinalStats logs the final test statistics.
func displayFinalStats(ctx context.Context, log logger.Logger, r *Report) {
	var rejectRate, perSecond float64
	if r.Stats.Submitted > 0 {
		rejectRate = float64(r.Stats.Rejected) / float64(r.Stats.Submitted) * percentageMultiplier
	}
	if r.Stats.Duration > 0 {
		perSecond = float64(r.Stats.Submitted) / r.Stats.Duration.Seconds()
	}

	log.Info(ctx, "final statistics",
		logger.String("event_id", r.EventID),
		logger.Int64("submitted", r.Stats.Submitted),
		logger.Int64("confirmed", r.Stats.Confirmed),
		logger.Int64("waitlisted", r.Stats.Waitlisted),
		logger.Int64("rejected", r.Stats.Rejected),
		logger.Int64("retry", r.Stats.Retry),
		logger.Int64("failed", r.Stats.Failed),
		logger.Int64("declined", r.Stats.Declined),
		logger.Int("confirmedCount", r.ConfirmedCount),
		logger.Int("waitlistLength", r.WaitlistLength),
		logger.Duration("duration", r.Stats.Duration),
		logger.Float64("rejectRate", rejectRate),
		logger.Float64("requestsPerSecond", perSecond),
	)
}
