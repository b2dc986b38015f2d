package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/okian/admit/internal/domain/model"
	"github.com/okian/admit/pkg/metrics"
)

const backendMemory = "memory"

// eventState is everything stored for one event. version increments on every
// committed write and is the optimistic concurrency token.
type eventState struct {
	event     model.Event
	attendees map[string]model.Attendee
	version   uint64
}

func (s *eventState) clone() *eventState {
	c := &eventState{
		event:     s.event.Clone(),
		attendees: make(map[string]model.Attendee, len(s.attendees)),
		version:   s.version,
	}
	for id, a := range s.attendees {
		c.attendees[id] = a.Clone()
	}
	return c
}

// MemoryStore is an in-process Store. Transactions run against a private
// copy of one event's state and commit only if no other transaction committed
// to that event in the meantime.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*eventState
	closed bool

	beforeCommit func(eventID string)
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		events: make(map[string]*eventState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend implements Store.
func (s *MemoryStore) Backend() string { return backendMemory }

// Close makes every later call fail with ErrUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// CreateEvent implements Store.
func (s *MemoryStore) CreateEvent(_ context.Context, e model.Event) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return model.Event{}, ErrUnavailable
	}
	if _, ok := s.events[e.ID]; ok {
		return model.Event{}, fmt.Errorf("%w: %s", ErrEventExists, e.ID)
	}
	s.events[e.ID] = &eventState{
		event:     e.Clone(),
		attendees: make(map[string]model.Attendee),
	}
	return e.Clone(), nil
}

// GetEvent implements Store.
func (s *MemoryStore) GetEvent(_ context.Context, eventID string) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, err := s.stateLocked(eventID)
	if err != nil {
		return model.Event{}, err
	}
	return st.event.Clone(), nil
}

// ListEvents implements Store.
func (s *MemoryStore) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrUnavailable
	}
	out := make([]model.Event, 0, len(s.events))
	for _, st := range s.events {
		out = append(out, st.event.Clone())
	}
	slices.SortFunc(out, func(a, b model.Event) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// ListAttendees implements Store.
func (s *MemoryStore) ListAttendees(_ context.Context, eventID string) ([]model.Attendee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, err := s.stateLocked(eventID)
	if err != nil {
		return nil, err
	}
	return sortedAttendees(st.attendees), nil
}

// Waitlist implements Store.
func (s *MemoryStore) Waitlist(_ context.Context, eventID string) ([]model.Attendee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, err := s.stateLocked(eventID)
	if err != nil {
		return nil, err
	}
	return waitlisted(st.attendees), nil
}

// GetAttendee implements Store.
func (s *MemoryStore) GetAttendee(_ context.Context, eventID, attendeeID string) (model.Attendee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, err := s.stateLocked(eventID)
	if err != nil {
		return model.Attendee{}, err
	}
	a, ok := st.attendees[attendeeID]
	if !ok {
		return model.Attendee{}, fmt.Errorf("%w: %s", ErrAttendeeNotFound, attendeeID)
	}
	return a.Clone(), nil
}

// RunInTx implements Store with optimistic concurrency on the event version.
func (s *MemoryStore) RunInTx(ctx context.Context, eventID string, fn func(ctx context.Context, tx Tx) error) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreTxLatency(backendMemory, float64(time.Since(start).Microseconds())/1000)
	}()

	s.mu.RLock()
	st, err := s.stateLocked(eventID)
	var snapshot *eventState
	if err == nil {
		snapshot = st.clone()
	}
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	tx := &memTx{state: snapshot}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if s.beforeCommit != nil {
		s.beforeCommit(eventID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.stateLocked(eventID)
	if err != nil {
		return err
	}
	if current.version != snapshot.version {
		return fmt.Errorf("%w: event %s changed during transaction", ErrConflict, eventID)
	}
	snapshot.version++
	s.events[eventID] = snapshot
	return nil
}

// stateLocked must be called with s.mu held.
func (s *MemoryStore) stateLocked(eventID string) (*eventState, error) {
	if s.closed {
		return nil, ErrUnavailable
	}
	st, ok := s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	return st, nil
}

// memTx mutates a private snapshot; RunInTx publishes it on commit.
type memTx struct {
	state *eventState
	dirty bool
}

func (t *memTx) Event(context.Context) (model.Event, error) {
	return t.state.event.Clone(), nil
}

func (t *memTx) Attendee(_ context.Context, attendeeID string) (model.Attendee, error) {
	a, ok := t.state.attendees[attendeeID]
	if !ok {
		return model.Attendee{}, fmt.Errorf("%w: %s", ErrAttendeeNotFound, attendeeID)
	}
	return a.Clone(), nil
}

func (t *memTx) FindAttendee(_ context.Context, d model.NewAttendee) (model.Attendee, bool, error) {
	for _, a := range sortedAttendees(t.state.attendees) {
		if a.SameIdentity(d) {
			return a, true, nil
		}
	}
	return model.Attendee{}, false, nil
}

func (t *memTx) Attendees(context.Context) ([]model.Attendee, error) {
	return sortedAttendees(t.state.attendees), nil
}

func (t *memTx) Waitlisted(context.Context) ([]model.Attendee, error) {
	return waitlisted(t.state.attendees), nil
}

func (t *memTx) PutAttendee(_ context.Context, a model.Attendee) error {
	if a.EventID != t.state.event.ID {
		return fmt.Errorf("%w: attendee %s belongs to event %s", ErrAttendeeNotFound, a.ID, a.EventID)
	}
	t.state.attendees[a.ID] = a.Clone()
	t.dirty = true
	return nil
}

func (t *memTx) DeleteAttendee(_ context.Context, attendeeID string) error {
	if _, ok := t.state.attendees[attendeeID]; !ok {
		return fmt.Errorf("%w: %s", ErrAttendeeNotFound, attendeeID)
	}
	delete(t.state.attendees, attendeeID)
	t.dirty = true
	return nil
}

func (t *memTx) SetConfirmedCount(_ context.Context, n int) error {
	t.state.event.ConfirmedCount = n
	t.dirty = true
	return nil
}

func sortedAttendees(m map[string]model.Attendee) []model.Attendee {
	out := make([]model.Attendee, 0, len(m))
	for _, a := range m {
		out = append(out, a.Clone())
	}
	slices.SortFunc(out, func(a, b model.Attendee) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func waitlisted(m map[string]model.Attendee) []model.Attendee {
	var out []model.Attendee
	for _, a := range m {
		if a.Status == model.StatusWaitlisted {
			out = append(out, a.Clone())
		}
	}
	slices.SortFunc(out, func(a, b model.Attendee) int {
		return cmp.Or(cmp.Compare(a.WaitlistPosition, b.WaitlistPosition), cmp.Compare(a.ID, b.ID))
	})
	return out
}
