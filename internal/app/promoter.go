package service

import (
	"context"
	"errors"
	"time"

	"github.com/okian/admit/internal/admission"
	"github.com/okian/admit/internal/domain/capacity"
	"github.com/okian/admit/internal/domain/model"
	"github.com/okian/admit/pkg/logger"
	"github.com/okian/admit/pkg/metrics"
)

const defaultMaxPromotionsPerSignal = 64

// Notification results recorded in metrics.
const (
	notificationSent   = "sent"
	notificationFailed = "failed"
)

// Admitter is the part of the admission engine a Promoter drives.
type Admitter interface {
	GetEvent(ctx context.Context, eventID string) (model.Event, error)
	Waitlist(ctx context.Context, eventID string) ([]model.Attendee, error)
	ApplyStatusChange(ctx context.Context, change model.StatusChange) (model.Outcome, error)
}

// Notification tells an attendee they were moved off the waitlist.
type Notification struct {
	EventID     string
	AttendeeID  string
	SubjectID   string
	DisplayName string
	PromotedAt  time.Time
}

// Notifier delivers promotion notifications. Delivery failure never undoes
// a promotion.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger logger.Logger
}

// NewLogNotifier returns a Notifier backed by l.
func NewLogNotifier(l logger.Logger) *LogNotifier {
	return &LogNotifier{logger: l}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.Info(ctx, "attendee promoted from waitlist",
		logger.String("event_id", note.EventID),
		logger.String("attendee_id", note.AttendeeID),
		logger.String("subject_id", note.SubjectID),
		logger.String("display_name", note.DisplayName),
	)
	return nil
}

// Promoter moves waitlisted attendees into freed capacity, head first.
// Each promotion is an ordinary admission request in its own transaction.
type Promoter struct {
	admitter Admitter
	notifier Notifier
	max      int
	logger   logger.Logger
}

// PromoterOption applies a configuration option to the Promoter.
type PromoterOption func(*Promoter)

// WithMaxPromotionsPerSignal bounds how many attendees one signal promotes.
func WithMaxPromotionsPerSignal(n int) PromoterOption {
	return func(p *Promoter) {
		if n > 0 {
			p.max = n
		}
	}
}

// WithPromoterLogger sets a custom logger for the promoter.
func WithPromoterLogger(l logger.Logger) PromoterOption {
	return func(p *Promoter) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPromoter creates a Promoter. A nil notifier disables notifications.
func NewPromoter(a Admitter, n Notifier, opts ...PromoterOption) *Promoter {
	p := &Promoter{
		admitter: a,
		notifier: n,
		max:      defaultMaxPromotionsPerSignal,
		logger:   logger.Get().Named("promoter"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Promote fills as much freed capacity as it finds for eventID.
func (p *Promoter) Promote(ctx context.Context, eventID string) (int, error) {
	promoted := 0
	for promoted < p.max {
		ok, err := p.PromoteNext(ctx, eventID)
		if err != nil {
			return promoted, err
		}
		if !ok {
			break
		}
		promoted++
	}
	return promoted, nil
}

// PromoteNext confirms the waitlist head if a slot is open. It reports
// false when there is nothing to do.
func (p *Promoter) PromoteNext(ctx context.Context, eventID string) (bool, error) {
	event, err := p.admitter.GetEvent(ctx, eventID)
	if errors.Is(err, admission.ErrEventNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	eval := capacity.New(event.Capacity, event.ConfirmedCount)
	if eval.Unlimited() || !eval.CanConfirm(1) {
		return false, nil
	}

	queue, err := p.admitter.Waitlist(ctx, eventID)
	if err != nil {
		return false, err
	}
	if len(queue) == 0 {
		return false, nil
	}
	head := queue[0]

	out, err := p.admitter.ApplyStatusChange(ctx, model.StatusChange{
		EventID:      eventID,
		AttendeeID:   head.ID,
		Requested:    model.StatusConfirmed,
		RejectIfFull: true,
	})
	switch {
	case errors.Is(err, admission.ErrCapacityExceeded), errors.Is(err, admission.ErrAttendeeNotFound):
		// Someone else took the slot or the head went away; their commit
		// raised its own signal.
		return false, nil
	case err != nil:
		return false, err
	}
	if !out.Changed || out.Attendee.Status != model.StatusConfirmed {
		return false, nil
	}

	p.logger.Debug(ctx, "waitlist head promoted",
		logger.String("event_id", eventID),
		logger.String("attendee_id", out.Attendee.ID),
		logger.Int("confirmed", out.ConfirmedCount),
	)
	p.notify(ctx, out.Attendee)
	return true, nil
}

func (p *Promoter) notify(ctx context.Context, a model.Attendee) {
	if p.notifier == nil {
		return
	}
	err := p.notifier.Notify(ctx, Notification{
		EventID:     a.EventID,
		AttendeeID:  a.ID,
		SubjectID:   a.SubjectID,
		DisplayName: a.DisplayName,
		PromotedAt:  a.UpdatedAt,
	})
	if err != nil {
		metrics.RecordNotification(notificationFailed)
		p.logger.Warn(ctx, "promotion notification failed",
			logger.String("event_id", a.EventID),
			logger.String("attendee_id", a.ID),
			logger.Error(err),
		)
		return
	}
	metrics.RecordNotification(notificationSent)
}
