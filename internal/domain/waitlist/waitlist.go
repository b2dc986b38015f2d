// Package waitlist assigns and maintains waitlist positions for one event.
//
// All functions are pure: they take the waitlisted records read inside the
// enclosing transaction and return the records whose position must change.
// Callers write those records back in the same transaction.
package waitlist

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/okian/admit/internal/domain/model"
)

// Mode selects how a prioritised joiner is placed.
type Mode string

// Placement modes.
const (
	// ModeAppend never moves existing records. The proposed position is
	// advanced past occupied slots, so on a dense waitlist every joiner lands
	// at k+1 and priority only matters when gaps exist.
	ModeAppend Mode = "append"
	// ModeShift inserts the joiner at its proposed position and moves the
	// records between it and the first gap down by one, keeping their order.
	ModeShift Mode = "shift"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeAppend || m == ModeShift }

// Assignment is the result of placing one joiner.
type Assignment struct {
	Position int
	// Shifted holds records moved to make room, with their new positions.
	Shifted []model.Attendee
}

// Positions extracts the positions of records.
func Positions(records []model.Attendee) []int {
	out := make([]int, 0, len(records))
	for _, r := range records {
		out = append(out, r.WaitlistPosition)
	}
	return out
}

// FirstGap returns the lowest positive integer not in positions.
func FirstGap(positions []int) int {
	seen := make(map[int]struct{}, len(positions))
	for _, p := range positions {
		if p > 0 {
			seen[p] = struct{}{}
		}
	}
	for p := 1; ; p++ {
		if _, ok := seen[p]; !ok {
			return p
		}
	}
}

// Propose applies the tier divisor to the first gap: ceil(p0/divisor), at least 1.
func Propose(p0, divisor int) int {
	if divisor < 1 {
		divisor = 1
	}
	if p0 < 1 {
		p0 = 1
	}
	proposed := (p0 + divisor - 1) / divisor
	if proposed < 1 {
		proposed = 1
	}
	return proposed
}

// Assign picks a position for a new joiner given the current waitlisted records.
func Assign(waitlisted []model.Attendee, divisor int, mode Mode) Assignment {
	p0 := FirstGap(Positions(waitlisted))
	proposed := Propose(p0, divisor)

	if mode == ModeShift {
		// Every position in [proposed, p0) is occupied because p0 is the first gap.
		var shifted []model.Attendee
		for _, r := range waitlisted {
			if r.WaitlistPosition >= proposed && r.WaitlistPosition < p0 {
				moved := r.Clone()
				moved.WaitlistPosition++
				shifted = append(shifted, moved)
			}
		}
		sortByPosition(shifted)
		return Assignment{Position: proposed, Shifted: shifted}
	}

	occupied := make(map[int]struct{}, len(waitlisted))
	for _, r := range waitlisted {
		occupied[r.WaitlistPosition] = struct{}{}
	}
	for {
		if _, ok := occupied[proposed]; !ok {
			return Assignment{Position: proposed}
		}
		proposed++
	}
}

// Resequence orders remaining records by their current position and assigns
// 1..k. Ties and non-positive positions fall back to join time, creation time
// and id so the result is deterministic. It returns the full ordering and the
// subset whose position changed.
func Resequence(waitlisted []model.Attendee) (ordered, changed []model.Attendee) {
	ordered = make([]model.Attendee, 0, len(waitlisted))
	for _, r := range waitlisted {
		ordered = append(ordered, r.Clone())
	}
	slices.SortStableFunc(ordered, compare)

	for i := range ordered {
		want := i + 1
		if ordered[i].WaitlistPosition != want {
			ordered[i].WaitlistPosition = want
			changed = append(changed, ordered[i])
		}
	}
	return ordered, changed
}

// IsDense reports whether positions are exactly {1..len(positions)}.
func IsDense(positions []int) bool {
	seen := make([]bool, len(positions)+1)
	for _, p := range positions {
		if p < 1 || p > len(positions) || seen[p] {
			return false
		}
		seen[p] = true
	}
	return true
}

func sortByPosition(records []model.Attendee) {
	slices.SortStableFunc(records, compare)
}

func compare(a, b model.Attendee) int {
	if c := cmp.Compare(rank(a.WaitlistPosition), rank(b.WaitlistPosition)); c != 0 {
		return c
	}
	if c := compareTime(a.JoinedWaitlistAt, b.JoinedWaitlistAt); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// rank sorts missing positions after every real one.
func rank(p int) int {
	if p < 1 {
		return math.MaxInt
	}
	return p
}

// compareTime orders nil after any set timestamp.
func compareTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}
