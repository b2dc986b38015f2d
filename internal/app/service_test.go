package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repository "github.com/okian/admit/internal/adapters/repository"
	service "github.com/okian/admit/internal/app"
	"github.com/okian/admit/internal/admission"
	"github.com/okian/admit/internal/domain/model"
	"github.com/okian/admit/internal/domain/waitlist"
	"github.com/okian/admit/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func intPtr(v int) *int { return &v }

type recordingNotifier struct {
	mu    sync.Mutex
	notes []service.Notification
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, note service.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

type admitter interface {
	ApplyStatusChange(ctx context.Context, change model.StatusChange) (model.Outcome, error)
}

func rsvp(ctx context.Context, a admitter, eventID, subject string, status model.Status) (model.Outcome, error) {
	return a.ApplyStatusChange(ctx, model.StatusChange{
		EventID:   eventID,
		New:       &model.NewAttendee{SubjectID: subject, Kind: model.KindPrimary, DisplayName: subject},
		Requested: status,
	})
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should report sensible defaults before start", func() {
			So(svc, ShouldNotBeNil)
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, false)
			So(stats["promotionEnabled"], ShouldEqual, true)
			So(stats["placement"], ShouldEqual, "append")
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithWorkerCount(2),
			service.WithQueueSize(16),
			service.WithPlacement(waitlist.ModeShift),
			service.WithTierDivisors(map[string]int{"gold": 4, "silver": 2, "standard": 1}),
			service.WithDefaultTier("standard"),
			service.WithRetry(3, 0, 0),
		)

		Convey("Then the options are reflected in stats", func() {
			stats := svc.GetStats()
			So(stats["placement"], ShouldEqual, "shift")
			So(stats["queueSize"], ShouldEqual, 16)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		svc := service.New()
		ctx := context.Background()

		Convey("Then every operation returns ErrNotStarted", func() {
			_, err := svc.ListEvents(ctx)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = rsvp(ctx, svc, "e1", "alice", model.StatusConfirmed)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(errors.Is(svc.Ready(ctx), service.ErrNotStarted), ShouldBeTrue)
		})

		Convey("And Stop is a no-op", func() {
			So(func() { svc.Stop() }, ShouldNotPanic)
		})
	})

	Convey("Given a started service", t, func() {
		svc := service.New(service.WithWorkerCount(2))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("Then it reports started with the memory store", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["store"], ShouldEqual, "memory")
			So(stats["workerCount"], ShouldEqual, 2)
			So(svc.Ready(ctx), ShouldBeNil)
		})

		Convey("And starting twice is harmless", func() {
			So(svc.Start(ctx), ShouldBeNil)
		})

		Convey("When stopping the service", func() {
			svc.Stop()

			Convey("Then it should be marked as stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
			})

			Convey("And stopping again does not panic", func() {
				So(func() { svc.Stop() }, ShouldNotPanic)
			})
		})
	})
}

func TestService_PromotionAfterDecline(t *testing.T) {
	Convey("Given a started service with promotion enabled", t, func() {
		notifier := &recordingNotifier{}
		svc := service.New(
			service.WithWorkerCount(2),
			service.WithQueueSize(64),
			service.WithNotifier(notifier),
			service.WithStore(repository.NewMemoryStore()),
		)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		_, err := svc.CreateEvent(ctx, admission.EventSpec{ID: "gala", Capacity: intPtr(1), WaitlistEnabled: true})
		So(err, ShouldBeNil)

		alice, err := rsvp(ctx, svc, "gala", "alice", model.StatusConfirmed)
		So(err, ShouldBeNil)
		bob, err := rsvp(ctx, svc, "gala", "bob", model.StatusConfirmed)
		So(err, ShouldBeNil)
		So(bob.Redirected, ShouldBeTrue)
		So(bob.Attendee.Status, ShouldEqual, model.StatusWaitlisted)

		Convey("When the confirmed attendee declines", func() {
			_, err := svc.ApplyStatusChange(ctx, model.StatusChange{
				EventID:    "gala",
				AttendeeID: alice.Attendee.ID,
				Requested:  model.StatusDeclined,
			})
			So(err, ShouldBeNil)

			Convey("Then the waitlist head is promoted in the background", func() {
				promoted := eventually(3*time.Second, func() bool {
					wl, err := svc.Waitlist(ctx, "gala")
					return err == nil && len(wl) == 0
				})
				So(promoted, ShouldBeTrue)

				event, err := svc.GetEvent(ctx, "gala")
				So(err, ShouldBeNil)
				So(event.ConfirmedCount, ShouldEqual, 1)

				attendees, err := svc.ListAttendees(ctx, "gala")
				So(err, ShouldBeNil)
				statuses := map[string]model.Status{}
				for _, a := range attendees {
					statuses[a.SubjectID] = a.Status
				}
				So(statuses["alice"], ShouldEqual, model.StatusDeclined)
				So(statuses["bob"], ShouldEqual, model.StatusConfirmed)

				So(eventually(time.Second, func() bool { return notifier.count() == 1 }), ShouldBeTrue)
			})
		})
	})

	Convey("Given a started service and an event with free seats", t, func() {
		svc := service.New(
			service.WithWorkerCount(1),
			service.WithNotifier(&recordingNotifier{}),
			service.WithStore(repository.NewMemoryStore()),
		)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		_, err := svc.CreateEvent(ctx, admission.EventSpec{ID: "hall", Capacity: intPtr(5), WaitlistEnabled: true})
		So(err, ShouldBeNil)

		Convey("When someone joins the waitlist directly", func() {
			w, err := rsvp(ctx, svc, "hall", "w", model.StatusWaitlisted)
			So(err, ShouldBeNil)
			So(w.Attendee.Status, ShouldEqual, model.StatusWaitlisted)

			Convey("Then they are promoted without waiting for anyone to leave", func() {
				promoted := eventually(3*time.Second, func() bool {
					list, err := svc.ListAttendees(ctx, "hall")
					return err == nil && len(list) == 1 && list[0].Status == model.StatusConfirmed
				})
				So(promoted, ShouldBeTrue)

				wl, err := svc.Waitlist(ctx, "hall")
				So(err, ShouldBeNil)
				So(wl, ShouldBeEmpty)

				a, err := rsvp(ctx, svc, "hall", "a", model.StatusConfirmed)
				So(err, ShouldBeNil)
				So(a.ConfirmedCount, ShouldEqual, 2)
			})
		})
	})

	Convey("Given a started service with promotion disabled", t, func() {
		svc := service.New(service.WithPromotionEnabled(false))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		_, err := svc.CreateEvent(ctx, admission.EventSpec{ID: "quiet", Capacity: intPtr(1), WaitlistEnabled: true})
		So(err, ShouldBeNil)
		alice, _ := rsvp(ctx, svc, "quiet", "alice", model.StatusConfirmed)
		_, _ = rsvp(ctx, svc, "quiet", "bob", model.StatusConfirmed)

		Convey("When the confirmed attendee declines", func() {
			_, err := svc.ApplyStatusChange(ctx, model.StatusChange{
				EventID:    "quiet",
				AttendeeID: alice.Attendee.ID,
				Requested:  model.StatusDeclined,
			})
			So(err, ShouldBeNil)

			Convey("Then the waitlist is left alone", func() {
				time.Sleep(50 * time.Millisecond)
				wl, err := svc.Waitlist(ctx, "quiet")
				So(err, ShouldBeNil)
				So(len(wl), ShouldEqual, 1)
				So(svc.GetStats()["workerCount"], ShouldEqual, 0)
			})
		})
	})
}

func TestService_Maintenance(t *testing.T) {
	Convey("Given a started service with an event", t, func() {
		svc := service.New(service.WithPromotionEnabled(false))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		_, err := svc.CreateEvent(ctx, admission.EventSpec{ID: "m", Capacity: intPtr(1), WaitlistEnabled: true})
		So(err, ShouldBeNil)
		_, _ = rsvp(ctx, svc, "m", "alice", model.StatusConfirmed)
		bob, _ := rsvp(ctx, svc, "m", "bob", model.StatusConfirmed)
		_, _ = rsvp(ctx, svc, "m", "carol", model.StatusConfirmed)

		Convey("Then recalculation and reconciliation pass through", func() {
			recalc, err := svc.RecalculateWaitlistPositions(ctx, "m")
			So(err, ShouldBeNil)
			So(recalc.RecalculatedCount, ShouldEqual, 2)
			So(recalc.Moved, ShouldEqual, 0)

			rec, err := svc.ReconcileConfirmedCount(ctx, "m")
			So(err, ShouldBeNil)
			So(rec.Drift(), ShouldEqual, 0)
		})

		Convey("And deleting a waitlisted record renumbers the rest", func() {
			out, err := svc.DeleteAttendee(ctx, "m", bob.Attendee.ID)
			So(err, ShouldBeNil)
			So(out.Previous, ShouldEqual, model.StatusWaitlisted)
			So(out.Renumbered, ShouldBeTrue)
			wl, err := svc.Waitlist(ctx, "m")
			So(err, ShouldBeNil)
			So(len(wl), ShouldEqual, 1)
			So(wl[0].SubjectID, ShouldEqual, "carol")
			So(wl[0].WaitlistPosition, ShouldEqual, 1)
		})
	})
}
