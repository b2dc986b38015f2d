package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/admit/internal/admission"
	"github.com/okian/admit/internal/domain/model"
	"github.com/okian/admit/internal/domain/types"
)

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = "1"

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrNotReady   = errors.New("not ready")
)

func badRequest(err error) error {
	return fmt.Errorf("%w: %w", ErrBadRequest, err)
}

// classify maps an error to its HTTP status and wire code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, admission.ErrInvalidRequest),
		errors.Is(err, model.ErrInvalidValue):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, admission.ErrEventNotFound),
		errors.Is(err, admission.ErrAttendeeNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, admission.ErrEventExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, admission.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded"
	case errors.Is(err, admission.ErrWaitlistClosed):
		return http.StatusConflict, "waitlist_closed"
	case errors.Is(err, admission.ErrTransactionConflict):
		return http.StatusServiceUnavailable, "retry"
	case errors.Is(err, admission.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, ErrNotReady):
		return http.StatusServiceUnavailable, "not_ready"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	body := types.Error{Code: code, Message: err.Error()}
	if status == http.StatusInternalServerError {
		body.Message = http.StatusText(status)
	}

	var full *admission.CapacityExceededError
	if errors.As(err, &full) {
		confirmed, capacity, offered := full.Confirmed, full.Capacity, full.WaitlistOffered
		body.Confirmed = &confirmed
		body.Capacity = &capacity
		body.WaitlistOffered = &offered
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, status, body)
}
