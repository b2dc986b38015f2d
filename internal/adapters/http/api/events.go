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

// EventDependencies defines the interface for event operations.
type EventDependencies interface {
	CreateEvent(ctx context.Context, spec admission.EventSpec) (model.Event, error)
	GetEvent(ctx context.Context, eventID string) (model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	ReconcileConfirmedCount(ctx context.Context, eventID string) (admission.ReconcileResult, error)
}

// EventsHandler handles event requests.
type EventsHandler struct {
	deps   EventDependencies
	logger logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies, l logger.Logger) *EventsHandler {
	return &EventsHandler{deps: deps, logger: l}
}

// HandleCreate handles POST /events.
func (h *EventsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req types.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	event, err := h.deps.CreateEvent(r.Context(), admission.EventSpec{
		ID:              req.ID,
		Name:            req.Name,
		Capacity:        req.Capacity,
		WaitlistEnabled: req.WaitlistEnabled,
		WaitlistLimit:   req.WaitlistLimit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/events/"+event.ID)
	writeJSON(w, http.StatusCreated, types.FromEvent(event))
}

// HandleList handles GET /events.
func (h *EventsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	events, err := h.deps.ListEvents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromEvents(events))
}

// HandleGet handles GET /events/{eventID}.
func (h *EventsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	event, err := h.deps.GetEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromEvent(event))
}

// HandleReconcile handles POST /events/{eventID}/reconcile.
func (h *EventsHandler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.ReconcileConfirmedCount(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ReconcileResult{
		EventID:  res.EventID,
		Previous: res.Previous,
		Actual:   res.Actual,
		Drift:    res.Drift(),
	})
}
