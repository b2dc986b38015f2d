package types_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/okian/admit/internal/domain/model"
	types "github.com/okian/admit/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestConversions(t *testing.T) {
	Convey("Given a domain event", t, func() {
		capacity := 10
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		event := model.Event{ID: "e1", Name: "Gala", Capacity: &capacity, ConfirmedCount: 3, WaitlistEnabled: true, CreatedAt: now, UpdatedAt: now}

		Convey("When converting it", func() {
			out := types.FromEvent(event)

			Convey("Then the fields are carried over", func() {
				So(out.ID, ShouldEqual, "e1")
				So(*out.Capacity, ShouldEqual, 10)
				So(out.ConfirmedCount, ShouldEqual, 3)
				So(out.WaitlistLimit, ShouldBeNil)
			})

			Convey("And the capacity is a copy", func() {
				*out.Capacity = 99
				So(capacity, ShouldEqual, 10)
			})
		})
	})

	Convey("Given a waitlisted attendee", t, func() {
		joined := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		a := model.Attendee{ID: "a1", EventID: "e1", SubjectID: "u1", Kind: model.KindPrimary, Status: model.StatusWaitlisted, WaitlistPosition: 2, JoinedWaitlistAt: &joined}

		Convey("When encoding its outcome", func() {
			raw, err := json.Marshal(types.FromOutcome(model.Outcome{Attendee: a, Previous: model.StatusNone, Requested: model.StatusConfirmed, Redirected: true, Changed: true, Created: true}))
			So(err, ShouldBeNil)

			Convey("Then the wire names are snake case", func() {
				body := string(raw)
				So(body, ShouldContainSubstring, `"waitlist_position":2`)
				So(body, ShouldContainSubstring, `"requested_status":"confirmed"`)
				So(body, ShouldContainSubstring, `"redirected":true`)
				So(body, ShouldContainSubstring, `"capacity":null`)
			})
		})
	})

	Convey("Given empty slices", t, func() {
		Convey("Then conversions return empty, not nil", func() {
			So(types.FromEvents(nil), ShouldNotBeNil)
			So(types.FromAttendees(nil), ShouldHaveLength, 0)
		})
	})
}

func TestValidate(t *testing.T) {
	Convey("Given request shapes", t, func() {
		negative := -1

		Convey("When a create request is complete", func() {
			So(types.Validate(types.CreateEventRequest{Name: "Gala"}), ShouldBeNil)
		})

		Convey("When the name is missing", func() {
			err := types.Validate(types.CreateEventRequest{})

			Convey("Then the wire field name is reported", func() {
				So(errors.Is(err, types.ErrValidation), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "name is required")
			})
		})

		Convey("When the capacity is negative", func() {
			err := types.Validate(types.CreateEventRequest{Name: "x", Capacity: &negative})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "capacity must satisfy min=0")
		})

		Convey("When an id would break the path", func() {
			So(types.Validate(types.CreateEventRequest{ID: "a/b", Name: "x"}), ShouldNotBeNil)
		})

		Convey("When an RSVP has no subject", func() {
			err := types.Validate(types.RSVPRequest{Status: "confirmed"})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "subject_id is required")
		})

		Convey("When a status change has no status", func() {
			So(types.Validate(types.StatusRequest{}), ShouldNotBeNil)
		})
	})
}
