package waitlist_test

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/okian/admit/internal/domain/model"
	"github.com/okian/admit/internal/domain/waitlist"
	. "github.com/smartystreets/goconvey/convey"
)

func records(positions ...int) []model.Attendee {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]model.Attendee, 0, len(positions))
	for i, p := range positions {
		joined := base.Add(time.Duration(i) * time.Minute)
		out = append(out, model.Attendee{
			ID:               fmt.Sprintf("a-%02d", i),
			Status:           model.StatusWaitlisted,
			WaitlistPosition: p,
			JoinedWaitlistAt: &joined,
			CreatedAt:        joined,
		})
	}
	return out
}

// apply writes shifted records and the joiner back into the set, as the engine does.
func apply(set []model.Attendee, a waitlist.Assignment, joiner model.Attendee) []model.Attendee {
	byID := make(map[string]int, len(set))
	for i, r := range set {
		byID[r.ID] = i
	}
	for _, s := range a.Shifted {
		set[byID[s.ID]] = s
	}
	joiner.WaitlistPosition = a.Position
	return append(set, joiner)
}

func TestFirstGapAndPropose(t *testing.T) {
	Convey("Given position sequences", t, func() {
		So(waitlist.FirstGap(nil), ShouldEqual, 1)
		So(waitlist.FirstGap([]int{1, 2, 3}), ShouldEqual, 4)
		So(waitlist.FirstGap([]int{3, 1}), ShouldEqual, 2)
		So(waitlist.FirstGap([]int{2, 2, 0, -1}), ShouldEqual, 1)

		Convey("Then the divisor rounds up and never goes below one", func() {
			So(waitlist.Propose(9, 4), ShouldEqual, 3)
			So(waitlist.Propose(8, 4), ShouldEqual, 2)
			So(waitlist.Propose(1, 4), ShouldEqual, 1)
			So(waitlist.Propose(7, 1), ShouldEqual, 7)
			So(waitlist.Propose(7, 0), ShouldEqual, 7)
		})
	})
}

func TestAssign(t *testing.T) {
	Convey("Given an empty waitlist", t, func() {
		Convey("When anyone joins", func() {
			a := waitlist.Assign(nil, 4, waitlist.ModeAppend)

			Convey("Then they get position 1", func() {
				So(a.Position, ShouldEqual, 1)
				So(a.Shifted, ShouldBeEmpty)
			})
		})
	})

	Convey("Given a dense waitlist of eight", t, func() {
		set := records(1, 2, 3, 4, 5, 6, 7, 8)

		Convey("When a top tier subject joins in append mode", func() {
			a := waitlist.Assign(set, 4, waitlist.ModeAppend)

			Convey("Then the proposal is advanced past occupied slots", func() {
				So(a.Position, ShouldEqual, 9)
				So(a.Shifted, ShouldBeEmpty)
			})
		})

		Convey("When a top tier subject joins in shift mode", func() {
			a := waitlist.Assign(set, 4, waitlist.ModeShift)
			after := apply(set, a, model.Attendee{ID: "joiner"})

			Convey("Then they are inserted at ceil(9/4) and later records move down", func() {
				So(a.Position, ShouldEqual, 3)
				So(len(a.Shifted), ShouldEqual, 6)
				So(a.Shifted[0].ID, ShouldEqual, "a-02")
				So(a.Shifted[0].WaitlistPosition, ShouldEqual, 4)
				So(waitlist.IsDense(waitlist.Positions(after)), ShouldBeTrue)
			})
		})
	})

	Convey("Given a waitlist with a gap at 2", t, func() {
		set := records(1, 3, 4)

		Convey("When a default tier subject joins in append mode", func() {
			a := waitlist.Assign(set, 1, waitlist.ModeAppend)

			Convey("Then the gap is filled", func() {
				So(a.Position, ShouldEqual, 2)
			})
		})

		Convey("When a joiner's proposal lands on an occupied slot", func() {
			a := waitlist.Assign(records(2, 3, 5), 1, waitlist.ModeAppend)

			Convey("Then the first gap wins", func() {
				So(a.Position, ShouldEqual, 1)
			})
		})
	})
}

func TestPriorityMonotonicity(t *testing.T) {
	divisors := []int{4, 2, 1} // higher tier first
	rng := rand.New(rand.NewPCG(7, 11))

	for _, mode := range []waitlist.Mode{waitlist.ModeAppend, waitlist.ModeShift} {
		for trial := 0; trial < 200; trial++ {
			n := rng.IntN(20)
			var positions []int
			for p := 1; p <= n+5; p++ {
				if rng.IntN(4) != 0 {
					positions = append(positions, p)
				}
			}
			set := records(positions...)

			prev := 0
			for _, d := range divisors {
				got := waitlist.Assign(set, d, mode).Position
				if prev != 0 && got < prev {
					t.Fatalf("%s: divisor %d got %d, higher tier got %d (positions %v)", mode, d, got, prev, positions)
				}
				prev = got
			}
		}
	}
}

func TestResequence(t *testing.T) {
	Convey("Given three waitlisted records", t, func() {
		set := records(1, 2, 3)

		Convey("When the second one leaves", func() {
			remaining := []model.Attendee{set[0], set[2]}
			ordered, changed := waitlist.Resequence(remaining)

			Convey("Then the rest are renumbered 1,2 in their original order", func() {
				So(len(ordered), ShouldEqual, 2)
				So(ordered[0].ID, ShouldEqual, "a-00")
				So(ordered[0].WaitlistPosition, ShouldEqual, 1)
				So(ordered[1].ID, ShouldEqual, "a-02")
				So(ordered[1].WaitlistPosition, ShouldEqual, 2)
				So(len(changed), ShouldEqual, 1)
				So(changed[0].ID, ShouldEqual, "a-02")
			})

			Convey("And the input is not mutated", func() {
				So(remaining[1].WaitlistPosition, ShouldEqual, 3)
			})
		})

		Convey("When positions collide or are missing", func() {
			drifted := records(2, 2, 0, 7)
			ordered, _ := waitlist.Resequence(drifted)

			Convey("Then ties break by join time and missing positions go last", func() {
				ids := []string{ordered[0].ID, ordered[1].ID, ordered[2].ID, ordered[3].ID}
				So(ids, ShouldResemble, []string{"a-00", "a-01", "a-03", "a-02"})
				So(waitlist.IsDense(waitlist.Positions(ordered)), ShouldBeTrue)
			})
		})

		Convey("When resequencing twice", func() {
			first, _ := waitlist.Resequence(records(5, 1, 9))
			second, changed := waitlist.Resequence(first)

			Convey("Then the second pass changes nothing", func() {
				So(changed, ShouldBeEmpty)
				So(waitlist.Positions(second), ShouldResemble, waitlist.Positions(first))
			})
		})
	})
}

func TestDenseAfterRandomJoinsAndLeaves(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, mode := range []waitlist.Mode{waitlist.ModeAppend, waitlist.ModeShift} {
		var set []model.Attendee
		next := 0
		for step := 0; step < 500; step++ {
			if len(set) == 0 || rng.IntN(3) != 0 {
				a := waitlist.Assign(set, []int{1, 2, 4}[rng.IntN(3)], mode)
				set = apply(set, a, model.Attendee{ID: fmt.Sprintf("j-%04d", next)})
				next++
			} else {
				i := rng.IntN(len(set))
				set = append(set[:i], set[i+1:]...)
				set, _ = waitlist.Resequence(set)
			}
			if !waitlist.IsDense(waitlist.Positions(set)) {
				t.Fatalf("%s: step %d not dense: %v", mode, step, waitlist.Positions(set))
			}
		}
	}
}

func TestIsDense(t *testing.T) {
	cases := []struct {
		positions []int
		want      bool
	}{
		{nil, true},
		{[]int{1}, true},
		{[]int{2, 1, 3}, true},
		{[]int{1, 3}, false},
		{[]int{1, 1}, false},
		{[]int{0}, false},
	}
	for _, tc := range cases {
		if got := waitlist.IsDense(tc.positions); got != tc.want {
			t.Errorf("IsDense(%v) = %v, want %v", tc.positions, got, tc.want)
		}
	}
}
