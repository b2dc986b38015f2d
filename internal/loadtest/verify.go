package loadtest

import (
	"errors"
	"fmt"

	"github.com/okian/admit/internal/domain/types"
)

// ErrInvariant marks a violated admission invariant.
var ErrInvariant = errors.New("invariant violated")

// Verify checks one consistent snapshot of an event. All violations are
// reported together.
func Verify(event types.Event, attendees, waitlist []types.Attendee, expectPromotion bool) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvariant}, args...)...))
	}

	confirmed, waitlisted := 0, 0
	for _, a := range attendees {
		switch a.Status {
		case "confirmed":
			confirmed++
			if a.WaitlistPosition != 0 {
				fail("confirmed attendee %s holds position %d", a.ID, a.WaitlistPosition)
			}
		case "waitlisted":
			waitlisted++
		default:
			if a.WaitlistPosition != 0 {
				fail("%s attendee %s holds position %d", a.Status, a.ID, a.WaitlistPosition)
			}
		}
	}

	if event.Capacity != nil && event.ConfirmedCount > *event.Capacity {
		fail("confirmed count %d exceeds capacity %d", event.ConfirmedCount, *event.Capacity)
	}
	if event.ConfirmedCount != confirmed {
		fail("confirmed count %d but %d confirmed records", event.ConfirmedCount, confirmed)
	}
	if len(waitlist) != waitlisted {
		fail("waitlist has %d entries but %d waitlisted records", len(waitlist), waitlisted)
	}
	for i, a := range waitlist {
		if a.WaitlistPosition != i+1 {
			fail("waitlist entry %d (%s) has position %d", i, a.ID, a.WaitlistPosition)
		}
	}
	if event.WaitlistLimit != nil && len(waitlist) > *event.WaitlistLimit {
		fail("waitlist length %d exceeds limit %d", len(waitlist), *event.WaitlistLimit)
	}
	if expectPromotion && event.Capacity != nil && len(waitlist) > 0 && event.ConfirmedCount < *event.Capacity {
		fail("%d free slots while %d wait", *event.Capacity-event.ConfirmedCount, len(waitlist))
	}

	return errors.Join(errs...)
}
