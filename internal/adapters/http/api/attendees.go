package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/admit/internal/admission"
	"github.com/okian/admit/internal/domain/model"
	"github.com/okian/admit/internal/domain/types"
	"github.com/okian/admit/pkg/logger"
)

// AttendeeDependencies defines the interface for attendee operations.
type AttendeeDependencies interface {
	ListAttendees(ctx context.Context, eventID string) ([]model.Attendee, error)
	Waitlist(ctx context.Context, eventID string) ([]model.Attendee, error)
	ApplyStatusChange(ctx context.Context, change model.StatusChange) (model.Outcome, error)
	DeleteAttendee(ctx context.Context, eventID, attendeeID string) (model.Outcome, error)
	RecalculateWaitlistPositions(ctx context.Context, eventID string) (admission.RecalcResult, error)
}

// AttendeesHandler handles RSVP and waitlist requests.
type AttendeesHandler struct {
	deps   AttendeeDependencies
	logger logger.Logger
}

// NewAttendeesHandler creates a new attendees handler.
func NewAttendeesHandler(deps AttendeeDependencies, l logger.Logger) *AttendeesHandler {
	return &AttendeesHandler{deps: deps, logger: l}
}

// HandleRSVP handles POST /events/{eventID}/attendees. The first RSVP of a
// person creates their record; later ones update it.
func (h *AttendeesHandler) HandleRSVP(w http.ResponseWriter, r *http.Request) {
	var req types.RSVPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	status, err := model.ParseStatus(req.Status)
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		writeError(w, badRequest(err))
		return
	}

	out, err := h.deps.ApplyStatusChange(r.Context(), model.StatusChange{
		EventID: chi.URLParam(r, "eventID"),
		New: &model.NewAttendee{
			SubjectID:   req.SubjectID,
			Kind:        kind,
			AgeGroup:    req.AgeGroup,
			DisplayName: req.DisplayName,
		},
		Requested:    status,
		RejectIfFull: req.RejectIfFull,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusOK
	if out.Created {
		code = http.StatusCreated
	}
	writeJSON(w, code, types.FromOutcome(out))
}

// HandleStatus handles PUT /events/{eventID}/attendees/{attendeeID}/status.
func (h *AttendeesHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var req types.StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	status, err := model.ParseStatus(req.Status)
	if err != nil {
		writeError(w, badRequest(err))
		return
	}

	out, err := h.deps.ApplyStatusChange(r.Context(), model.StatusChange{
		EventID:      chi.URLParam(r, "eventID"),
		AttendeeID:   chi.URLParam(r, "attendeeID"),
		Requested:    status,
		RejectIfFull: req.RejectIfFull,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromOutcome(out))
}

// HandleDelete handles DELETE /events/{eventID}/attendees/{attendeeID}.
func (h *AttendeesHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	eventID, attendeeID := chi.URLParam(r, "eventID"), chi.URLParam(r, "attendeeID")
	out, err := h.deps.DeleteAttendee(r.Context(), eventID, attendeeID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info(r.Context(), "attendee deleted",
		logger.String("event_id", eventID),
		logger.String("attendee_id", attendeeID),
		logger.String("previous_status", string(out.Previous)),
	)
	writeJSON(w, http.StatusOK, types.FromOutcome(out))
}

// HandleList handles GET /events/{eventID}/attendees.
func (h *AttendeesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.deps.ListAttendees(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromAttendees(records))
}

// HandleWaitlist handles GET /events/{eventID}/waitlist.
func (h *AttendeesHandler) HandleWaitlist(w http.ResponseWriter, r *http.Request) {
	records, err := h.deps.Waitlist(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromAttendees(records))
}

// HandleRecalculate handles POST /events/{eventID}/waitlist/recalculate.
func (h *AttendeesHandler) HandleRecalculate(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.RecalculateWaitlistPositions(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.RecalcResult{
		EventID:           res.EventID,
		RecalculatedCount: res.RecalculatedCount,
		Moved:             res.Moved,
	})
}
