// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/okian/admit/internal/adapters/http/swagger"
	"github.com/okian/admit/internal/admission"
	"github.com/okian/admit/internal/domain/model"
	"github.com/okian/admit/internal/domain/types"
	"github.com/okian/admit/pkg/logger"
)

const (
	maxBodyBytes      = 1 << 20
	corsMaxAgeSeconds = 300
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	CreateEvent(ctx context.Context, spec admission.EventSpec) (model.Event, error)
	GetEvent(ctx context.Context, eventID string) (model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)

	ListAttendees(ctx context.Context, eventID string) ([]model.Attendee, error)
	Waitlist(ctx context.Context, eventID string) ([]model.Attendee, error)
	ApplyStatusChange(ctx context.Context, change model.StatusChange) (model.Outcome, error)
	DeleteAttendee(ctx context.Context, eventID, attendeeID string) (model.Outcome, error)

	RecalculateWaitlistPositions(ctx context.Context, eventID string) (admission.RecalcResult, error)
	ReconcileConfirmedCount(ctx context.Context, eventID string) (admission.ReconcileResult, error)

	// Ready reports whether requests can be served.
	Ready(ctx context.Context) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	eventsHandler    *EventsHandler
	attendeesHandler *AttendeesHandler
	allowedOrigins   []string
	logger           logger.Logger
}

// ServerOption applies a configuration option to the Server.
type ServerOption func(*Server)

// WithAllowedOrigins enables CORS for the given origins.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...ServerOption) *Server {
	log := logger.Get().Named("http")
	s := &Server{
		healthHandler:    NewHealthHandler(deps),
		statsHandler:     NewStatsHandler(statsProvider),
		eventsHandler:    NewEventsHandler(deps, log),
		attendeesHandler: NewAttendeesHandler(deps, log),
		logger:           log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the router with every API and ops route attached.
func (s *Server) Routes(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	if len(s.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.allowedOrigins,
			AllowedMethods: []string{
				http.MethodHead,
				http.MethodGet,
				http.MethodPost,
				http.MethodPut,
				http.MethodDelete,
				http.MethodOptions,
			},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"Location", "Retry-After"},
			MaxAge:         corsMaxAgeSeconds,
		}))
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/readyz", s.healthHandler.HandleReady)
	r.Method(http.MethodGet, "/metrics", s.healthHandler.MetricsHandler())
	r.Get("/stats", s.statsHandler.HandleStats)

	r.Route("/events", func(r chi.Router) {
		r.Post("/", s.eventsHandler.HandleCreate)
		r.Get("/", s.eventsHandler.HandleList)

		r.Route("/{eventID}", func(r chi.Router) {
			r.Get("/", s.eventsHandler.HandleGet)
			r.Post("/reconcile", s.eventsHandler.HandleReconcile)

			r.Get("/waitlist", s.attendeesHandler.HandleWaitlist)
			r.Post("/waitlist/recalculate", s.attendeesHandler.HandleRecalculate)

			r.Get("/attendees", s.attendeesHandler.HandleList)
			r.Post("/attendees", s.attendeesHandler.HandleRSVP)
			r.Put("/attendees/{attendeeID}/status", s.attendeesHandler.HandleStatus)
			r.Delete("/attendees/{attendeeID}", s.attendeesHandler.HandleDelete)
		})
	})

	swagger.Register(ctx, r)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest(err)
	}
	if err := types.Validate(dst); err != nil {
		return badRequest(err)
	}
	return nil
}
