// Package web exposes the engine over HTTP/JSON. Authentication of users and
// office membership is the caller's concern; requests name their office and
// user in the X-Office-ID and X-User-ID headers.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"legalagenda/internal/config"
	"legalagenda/internal/engine"
	"legalagenda/internal/ics"
	appLog "legalagenda/internal/log"
	"legalagenda/internal/model"
)

const (
	HeaderOffice = "X-Office-ID"
	HeaderUser   = "X-User-ID"
)

// Server provides the JSON API over one engine.
type Server struct {
	cfg    *config.Config
	svc    *engine.Service
	syncer *ics.Syncer
	mux    *http.ServeMux
}

// NewServer constructs a Server. syncer may be nil, which disables
// /api/hearings/sync.
func NewServer(cfg *config.Config, svc *engine.Service, syncer *ics.Syncer) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		syncer: syncer,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password means disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="legalagenda", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func StartServer(ctx context.Context, cfg *config.Config, svc *engine.Service, syncer *ics.Syncer) error {
	s := NewServer(cfg, svc, syncer)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("stopping HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/agenda", s.withScope(s.handleAgenda))
	s.mux.HandleFunc("GET /api/agenda.ics", s.withScope(s.handleAgendaICS))

	s.mux.HandleFunc("POST /api/occurrences/materialize", s.withScope(s.handleMaterialize))
	s.mux.HandleFunc("DELETE /api/occurrences/{id}", s.withScope(s.handleDeleteOccurrence))

	s.mux.HandleFunc("POST /api/tasks", s.withScope(s.handleCreateTask))
	s.mux.HandleFunc("GET /api/tasks/{id}", s.withScope(s.handleGetTask))
	s.mux.HandleFunc("POST /api/tasks/{id}/reschedule/plan", s.withScope(s.handlePlanReschedule))
	s.mux.HandleFunc("POST /api/tasks/{id}/reschedule/commit", s.withScope(s.handleCommitReschedule))
	s.mux.HandleFunc("POST /api/tasks/{id}/status", s.withScope(s.handleMoveStatus))
	s.mux.HandleFunc("POST /api/tasks/{id}/reopen", s.withScope(s.handleReopen))
	s.mux.HandleFunc("POST /api/tasks/{id}/completion", s.withScope(s.handlePrepareCompletion))
	s.mux.HandleFunc("POST /api/tasks/{id}/hours", s.withScope(s.handleLogHours))
	s.mux.HandleFunc("POST /api/tasks/{id}/timer", s.withScope(s.handleStartTimer))
	s.mux.HandleFunc("POST /api/completions/{attempt}/{action}", s.withScope(s.handleCompletionAction))

	s.mux.HandleFunc("POST /api/events", s.withScope(s.handleCreateEvent))
	s.mux.HandleFunc("POST /api/events/{id}/move", s.withScope(s.handleMoveEvent))

	s.mux.HandleFunc("GET /api/timers", s.withScope(s.handleActiveTimers))
	s.mux.HandleFunc("POST /api/timers/{id}/{action}", s.withScope(s.handleTimerAction))

	s.mux.HandleFunc("GET /api/deadline", s.withScope(s.handleDeadline))
	s.mux.HandleFunc("POST /api/hearings/sync", s.withScope(s.handleSyncHearings))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// scope reads the office and user of a request. The configured office is
// the fallback for single-office deployments.
func (s *Server) scope(r *http.Request) (model.Scope, error) {
	sc := model.Scope{
		OfficeID: r.Header.Get(HeaderOffice),
		UserID:   r.Header.Get(HeaderUser),
	}
	if sc.OfficeID == "" && s.cfg != nil {
		sc.OfficeID = s.cfg.OfficeID
	}
	if sc.UserID == "" && s.cfg != nil {
		sc.UserID = s.cfg.UserID
	}
	if sc.OfficeID == "" {
		return sc, fmt.Errorf("missing %s header", HeaderOffice)
	}
	return sc, nil
}

// withScope resolves the scope or answers 400.
func (s *Server) withScope(next func(http.ResponseWriter, *http.Request, model.Scope)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, err := s.scope(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		next(w, r, sc)
	}
}

// statusFor maps engine errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrRecurrenceNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidVirtualID):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrImmutableSchedule),
		errors.Is(err, model.ErrDeadlineViolation),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrAttemptClosed):
		return http.StatusConflict
	case errors.Is(err, model.ErrMissingLink):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrPersistence):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// fail writes err with its mapped status. Server errors are logged.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		appLog.Error("api request failed", err, "method", r.Method, "path", r.URL.Path)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
