// Package api exposes the pipeline over a small local HTTP API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	service "github.com/okian/liscrape/internal/app"
	"github.com/okian/liscrape/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the controller.
type Dependencies interface {
	Submitter
	StatsProvider
	Maintainer
}

// Submitter accepts profile urls.
type Submitter interface {
	Submit(ctx context.Context, raw string) (model.SubmitResult, error)
}

// StatsProvider returns a snapshot of pipeline state.
type StatsProvider interface {
	Stats() service.Stats
}

// Maintainer runs the housekeeping tools.
type Maintainer interface {
	ClearHistory(ctx context.Context) error
	RemoveContacts(ctx context.Context) error
}

// Server wires HTTP routes for the API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	profilesHandler    *ProfilesHandler
	maintenanceHandler *MaintenanceHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		profilesHandler:    NewProfilesHandler(deps),
		maintenanceHandler: NewMaintenanceHandler(deps),
	}
}

// Router returns a chi router with every route registered.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/metrics", s.healthHandler.HandleMetrics)
	r.Get("/stats", s.statsHandler.HandleStats)
	r.Post("/profiles", s.profilesHandler.HandlePostProfile)
	r.Delete("/history", s.maintenanceHandler.HandleClearHistory)
	r.Delete("/contacts", s.maintenanceHandler.HandleRemoveContacts)
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
