// Package capacity answers whether more attendees fit an event.
package capacity

// Evaluator is a snapshot of an event's capacity and confirmed counter.
// It never mutates anything and has no error conditions.
type Evaluator struct {
	capacity  *int
	confirmed int
}

// New builds an Evaluator. A nil capacity means unlimited.
func New(capacity *int, confirmed int) Evaluator {
	return Evaluator{capacity: capacity, confirmed: confirmed}
}

// Unlimited reports whether the event has no capacity bound.
func (e Evaluator) Unlimited() bool { return e.capacity == nil }

// Remaining returns capacity minus confirmed and false, or 0 and true when unlimited.
// The remainder may be negative if the counter has drifted past capacity.
func (e Evaluator) Remaining() (slots int, unlimited bool) {
	if e.capacity == nil {
		return 0, true
	}
	return *e.capacity - e.confirmed, false
}

// CanConfirm reports whether n more attendees can be confirmed.
func (e Evaluator) CanConfirm(n int) bool {
	slots, unlimited := e.Remaining()
	return unlimited || slots >= n
}
