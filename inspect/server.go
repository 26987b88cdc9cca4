// Package inspect exposes a read-only HTTP debug surface over the session
// manager and the artifact index, for operators poking at a running
// instance. It never mutates state.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/webpilot/artifacts"
	"github.com/hazyhaar/webpilot/sessions"
)

// Server serves the debug endpoints.
type Server struct {
	mgr    *sessions.Manager
	store  *artifacts.Store // may be nil
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates the debug server bound to addr.
func NewServer(addr string, mgr *sessions.Manager, store *artifacts.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{mgr: mgr, store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/targets", s.handleTargets)
	r.Get("/sessions", s.handleSessions)
	r.Get("/focus", s.handleFocus)
	r.Get("/artifacts", s.handleArtifacts)
	r.Get("/artifacts/{target_id}", s.handleArtifactsByTarget)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in the background. Errors other than a clean close
// are logged, not returned: the debug surface must never take the pilot
// down.
func (s *Server) Start() {
	go func() {
		s.logger.Info("inspect: listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("inspect: serve failed", "error", err)
		}
	}()
}

// Close shuts the server down gracefully.
func (s *Server) Close(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("inspect: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleTargets(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.mgr.Targets())
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.mgr.Sessions())
}

func (s *Server) handleFocus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"target_id": s.mgr.FocusedTargetID()})
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "artifact store disabled", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("inspect: list artifacts", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, list)
}

func (s *Server) handleArtifactsByTarget(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "artifact store disabled", http.StatusNotFound)
		return
	}
	list, err := s.store.ByTarget(r.Context(), chi.URLParam(r, "target_id"))
	if err != nil {
		s.logger.Error("inspect: artifacts by target", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, list)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("inspect: encode response", "error", err)
	}
}
