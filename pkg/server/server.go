// Package server implements Almanac's external interfaces (spec.md §6):
// a REST API, a GraphQL endpoint, and the WebSocket subscription engine's
// HTTP upgrade route, grounded on the teacher's original pkg/server
// handler-envelope idiom (writeJSON/writeError, per-handler method-not-allowed
// checks) and mux.Router wiring.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/timewave-computer/almanac-sub002/pkg/apperrors"
	"github.com/timewave-computer/almanac-sub002/pkg/auth"
	"github.com/timewave-computer/almanac-sub002/pkg/event"
	"github.com/timewave-computer/almanac-sub002/pkg/metrics"
	"github.com/timewave-computer/almanac-sub002/pkg/query"
	"github.com/timewave-computer/almanac-sub002/pkg/ratelimit"
	"github.com/timewave-computer/almanac-sub002/pkg/registry"
	"github.com/timewave-computer/almanac-sub002/pkg/subscription"
)

// BlockReader resolves latest-block queries for GET /blocks/latest.
// *warmstore.BlockRepository satisfies this directly.
type BlockReader interface {
	GetLatestBlock(ctx context.Context, chain event.ChainID) (*event.Block, error)
	GetLatestBlockWithStatus(ctx context.Context, chain event.ChainID, status event.BlockStatus) (*event.Block, error)
}

// Server bundles the dependencies every handler needs: the query engine for
// event reads, a block reader for finality lookups, the schema registry,
// auth state, aggregation manager, and the WebSocket hub.
type Server struct {
	Engine   *query.Engine
	Blocks   BlockReader
	Schemas  registry.Store
	Auth     *auth.State
	Agg      *query.AggregationManager
	Hub      *subscription.Hub
	Health   *ratelimit.HealthChecker
	Logger   *log.Logger
	Version  string

	router *mux.Router
}

// New constructs a Server and wires its route table.
func New(s Server) *Server {
	if s.Logger == nil {
		s.Logger = log.Default()
	}
	if s.Version == "" {
		s.Version = "dev"
	}
	srv := &s
	srv.router = mux.NewRouter()
	srv.routes()
	srv.router.Use(srv.metricsMiddleware)
	return srv
}

// Router returns the wired http.Handler, suitable for http.ListenAndServe.
func (s *Server) Router() http.Handler {
	return s.router
}

// metricsMiddleware records every request's outcome to the ambient
// Prometheus surface (pkg/metrics), keyed by the matched route template
// rather than the raw path so parameterized routes don't fragment labels.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if m := mux.CurrentRoute(r); m != nil {
			if tmpl, err := m.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.APIRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method, route)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/events", s.handleGetEvents).Methods(http.MethodGet)
	api.HandleFunc("/blocks/latest", s.handleGetLatestBlock).Methods(http.MethodGet)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.Handle("/auth/apikeys", s.Auth.RequireRole(auth.RoleWrite, http.HandlerFunc(s.handleCreateAPIKey))).Methods(http.MethodPost)
	api.Handle("/admin/users", s.Auth.RequireRole(auth.RoleAdmin, http.HandlerFunc(s.handleListUsers))).Methods(http.MethodGet)
	api.Handle("/admin/users", s.Auth.RequireRole(auth.RoleAdmin, http.HandlerFunc(s.handleCreateUser))).Methods(http.MethodPost)

	s.router.HandleFunc("/graphql", s.handleGraphQL)
	if s.Hub != nil {
		s.router.Handle("/ws", s.Hub)
	}
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Printf("server: encode response: %v", err)
	}
}

// writeError matches spec.md §6's REST error envelope: {error, status}.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error":  message,
		"status": status,
	})
}

// writeErrorFor maps a store-layer error's apperrors.Kind to an HTTP status
// and writes it through writeError, so handlers don't hardcode a status for
// errors whose cause (bad filter vs. database outage vs. missing row) the
// store already classified.
func (s *Server) writeErrorFor(w http.ResponseWriter, err error, fallback string) {
	status := http.StatusInternalServerError
	switch apperrors.KindOf(err) {
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindInvalidArgument, apperrors.KindSerialization:
		status = http.StatusBadRequest
	case apperrors.KindAuth:
		status = http.StatusUnauthorized
	case apperrors.KindAlreadyExists:
		status = http.StatusConflict
	}
	s.Logger.Printf("server: %s: %v", fallback, err)
	s.writeError(w, status, fallback)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"healthy": true,
		"version": s.Version,
	})
}
