// Package api provides the HTTP API for observing and controlling runs.
// GET endpoints are public (read-only observation).
// POST and DELETE endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/worldorder/internal/engine"
	"github.com/talgya/worldorder/internal/report"
	"github.com/talgya/worldorder/internal/scenario"
	"github.com/talgya/worldorder/internal/world"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
	maxScenarioBytes  = 1 << 20
)

// EventSource reads a run's persisted event log.
type EventSource interface {
	Events(ctx context.Context, runID string) ([]world.Event, error)
	RecentEvents(ctx context.Context, runID string, limit int) ([]world.Event, error)
}

// Chronicler writes the prose account attached to a report.
type Chronicler interface {
	Chronicle(ctx context.Context, r report.Report, s world.State) string
}

// Server serves runs over HTTP.
type Server struct {
	Registry   *engine.Registry
	Events     EventSource
	Chronicler Chronicler // nil: plain-text chronicle
	Hub        *Hub
	Port       int
	AdminKey   string // Bearer token for POST/DELETE endpoints. Empty = admin disabled.

	// TickLimiter guards manual ticks, which spend model calls. Nil = 30/hour.
	TickLimiter *RateLimiter
	// ChronicleLimiter guards report chronicles. Nil = 30/hour.
	ChronicleLimiter *RateLimiter
}

// RunSummary is the list and detail view of a run.
type RunSummary struct {
	RunID     string        `json:"run_id"`
	Name      string        `json:"name"`
	Status    world.Status  `json:"status"`
	Phase     engine.Phase  `json:"phase"`
	Tick      int           `json:"tick"`
	Year      int           `json:"year"`
	Countries int           `json:"countries"`
	Reason    string        `json:"reason,omitempty"`
	Metrics   world.Metrics `json:"metrics"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	if s.TickLimiter == nil {
		s.TickLimiter = NewRateLimiter(30, time.Hour)
	}
	if s.ChronicleLimiter == nil {
		s.ChronicleLimiter = NewRateLimiter(30, time.Hour)
	}

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/state", s.handleState)
	mux.HandleFunc("GET /api/v1/runs/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/runs/{id}/report", s.handleReport)
	mux.HandleFunc("GET /api/v1/runs/{id}/stream", s.handleStream)

	// Admin endpoints.
	mux.HandleFunc("POST /api/v1/runs", s.adminOnly(s.handleCreateRun))
	mux.HandleFunc("POST /api/v1/runs/{id}/start", s.adminOnly(s.handleStart))
	mux.HandleFunc("POST /api/v1/runs/{id}/pause", s.adminOnly(s.handlePause))
	mux.HandleFunc("POST /api/v1/runs/{id}/tick", s.adminOnly(RateLimitMiddleware(s.TickLimiter, s.handleTick)))
	mux.HandleFunc("DELETE /api/v1/runs/{id}", s.adminOnly(s.handleDeleteRun))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine. The returned server is
// for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// Close stops the limiters' background cleanup.
func (s *Server) Close() {
	if s.TickLimiter != nil {
		s.TickLimiter.Stop()
	}
	if s.ChronicleLimiter != nil {
		s.ChronicleLimiter.Stop()
	}
}

// corsMiddleware adds CORS headers for the local dashboards.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins
// to extend the defaults.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			writeError(w, http.StatusForbidden, "admin endpoints disabled (no WORLDSIM_ADMIN_KEY set)")
			return
		}
		if !s.checkBearerToken(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) summary(st world.State) RunSummary {
	sum := RunSummary{
		RunID:     st.RunID,
		Name:      st.Name,
		Status:    st.Status,
		Tick:      st.Tick,
		Year:      st.Year,
		Countries: len(st.Countries),
		Reason:    st.EndReason,
		Metrics:   st.Metrics,
		UpdatedAt: st.UpdatedAt,
	}
	if o, err := s.Registry.Lookup(st.RunID); err == nil {
		sum.Phase = o.Status()
	}
	return sum
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	states, err := s.Registry.List(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	out := make([]RunSummary, 0, len(states))
	for _, st := range states {
		out = append(out, s.summary(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	st, err := s.Registry.State(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.summary(st))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.Registry.State(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, err := s.Registry.Lookup(runID); err != nil {
		writeFailure(w, err)
		return
	}

	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := s.Events.RecentEvents(r.Context(), runID, limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if events == nil {
		events = []world.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleReport builds the report from the full event log. ?chronicle=1 adds
// the prose chronicle, which may spend a model call.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	st, err := s.Registry.State(r.Context(), runID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	events, err := s.Events.Events(r.Context(), runID)
	if err != nil {
		writeFailure(w, err)
		return
	}

	rep := report.Build(st, events, st.EndReason)
	if r.URL.Query().Get("chronicle") == "1" {
		if s.Chronicler == nil {
			rep.Chronicle = report.Chronicle(rep, st)
		} else {
			ip := clientIP(r)
			if !s.ChronicleLimiter.Allow(ip) {
				w.Header().Set("Retry-After", strconv.Itoa(s.ChronicleLimiter.RetryAfter(ip)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			rep.Chronicle = s.Chronicler.Chronicle(r.Context(), rep, st)
		}
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, err := s.Registry.Lookup(runID); err != nil {
		writeFailure(w, err)
		return
	}
	if s.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	s.Hub.serve(w, r, runID)
}

// handleCreateRun accepts a YAML or JSON scenario. ?start=1 starts the run
// straight away.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxScenarioBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}
	sc, err := scenario.Parse(body)
	if err != nil {
		writeFailure(w, fmt.Errorf("%w: %w", engine.ErrConfiguration, err))
		return
	}
	countries, factions := scenario.Build(sc)

	st, err := s.Registry.Create(r.Context(), sc.Name, countries, factions)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if r.URL.Query().Get("start") == "1" {
		if err := s.Registry.Start(r.Context(), st.RunID); err != nil {
			writeFailure(w, err)
			return
		}
	}
	slog.Info("run created via API", "run", st.RunID, "name", st.Name, "countries", len(countries))
	writeJSON(w, http.StatusCreated, s.summary(st))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.Registry.Start)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.Registry.Pause)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	runID := r.PathValue("id")
	if err := op(r.Context(), runID); err != nil {
		writeFailure(w, err)
		return
	}
	st, err := s.Registry.State(r.Context(), runID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.summary(st))
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Registry.TickNow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.Registry.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps the engine error classes onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrRunTerminated):
		return http.StatusConflict
	case errors.Is(err, engine.ErrConfiguration), errors.Is(err, scenario.ErrInvalidScenario):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeFailure(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeError(w, code, err.Error())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}
