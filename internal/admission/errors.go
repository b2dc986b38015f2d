package admission

import (
	"errors"
	"fmt"

	"github.com/okian/admit/internal/adapters/repository"
	"github.com/okian/admit/internal/retry"
)

// Admission error taxonomy. Not-found and unavailable are the store's own
// sentinels so errors.Is matches at either layer.
var (
	ErrCapacityExceeded    = errors.New("capacity exceeded")
	ErrWaitlistClosed      = errors.New("waitlist closed")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrEventNotFound       = repository.ErrEventNotFound
	ErrAttendeeNotFound    = repository.ErrAttendeeNotFound
	ErrEventExists         = repository.ErrEventExists
	ErrStoreUnavailable    = repository.ErrUnavailable
)

// CapacityExceededError carries the counter values read in the rejecting
// transaction. It matches ErrCapacityExceeded.
type CapacityExceededError struct {
	Confirmed int
	Capacity  int
	// WaitlistOffered is true when the caller may join the waitlist instead.
	WaitlistOffered bool
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded: %d of %d confirmed", e.Confirmed, e.Capacity)
}

// Is makes errors.Is(err, ErrCapacityExceeded) true.
func (e *CapacityExceededError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

// translate maps retry and store errors onto the taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, retry.ErrExhausted) || errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("%w: %w", ErrTransactionConflict, err)
	}
	return err
}

func isConflict(err error) bool {
	return errors.Is(err, repository.ErrConflict)
}
