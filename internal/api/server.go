// Package api exposes the agent service over HTTP: synchronous run
// submission, run history CRUD, tool management, and a live step
// stream over WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stepforge/agentd/internal/engine"
	"github.com/stepforge/agentd/internal/registry"
	"github.com/stepforge/agentd/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	port       int
	engine     *engine.Engine
	store      *store.Store
	registry   *registry.Registry
	hub        *StreamHub
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(
	port int,
	eng *engine.Engine,
	st *store.Store,
	reg *registry.Registry,
	hub *StreamHub,
	logger *slog.Logger,
) *Server {
	return &Server{
		port:     port,
		engine:   eng,
		store:    st,
		registry: reg,
		hub:      hub,
		logger:   logger.With("component", "api"),
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/runs/stream", s.handleRunStream)
	mux.HandleFunc("/api/runs/", s.handleRunDetail)
	mux.HandleFunc("/api/tools", s.handleTools)
	mux.HandleFunc("/api/tools/", s.handleToolDetail)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // run submission is synchronous
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler returns the routed handler without starting a listener.
// Used by tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/runs/stream", s.handleRunStream)
	mux.HandleFunc("/api/runs/", s.handleRunDetail)
	mux.HandleFunc("/api/tools", s.handleTools)
	mux.HandleFunc("/api/tools/", s.handleToolDetail)
	return mux
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RunRequest is the body of POST /api/runs.
type RunRequest struct {
	Message string `json:"message"`
}

// handleRuns serves POST (submit a run) and GET (list runs).
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleRunSubmit(w, r)
	case http.MethodGet:
		s.handleRunList(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleRunSubmit(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	run, err := s.engine.Run(r.Context(), req.Message)
	if err != nil && run == nil {
		s.logger.Error("run failed before creation", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err != nil {
		// The run exists but ended failed; the recorded history is the
		// answer to "what happened", so return it with the cause.
		s.logger.Warn("run failed", "run_id", run.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	runs, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleRunDetail serves GET and DELETE on /api/runs/{id}.
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		run, err := s.store.GetRun(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrRunNotFound) {
				writeError(w, http.StatusNotFound, "run not found: "+id)
				return
			}
			s.logger.Error("failed to get run", "run_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get run")
			return
		}
		writeJSON(w, http.StatusOK, run)

	case http.MethodDelete:
		if err := s.store.DeleteRun(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrRunNotFound) {
				writeError(w, http.StatusNotFound, "run not found: "+id)
				return
			}
			s.logger.Error("failed to delete run", "run_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to delete run")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"deleted": id})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTools lists all tool descriptors, enabled or not.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.registry.Descriptors()})
}

// ToolToggleRequest is the body of POST /api/tools/{name}.
type ToolToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// handleToolDetail serves GET (describe) and POST (toggle) on
// /api/tools/{name}.
func (s *Server) handleToolDetail(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/tools/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		desc, err := s.registry.Describe(name)
		if err != nil {
			writeError(w, http.StatusNotFound, "tool not found: "+name)
			return
		}
		writeJSON(w, http.StatusOK, desc)

	case http.MethodPost:
		var req ToolToggleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := s.registry.SetEnabled(name, req.Enabled); err != nil {
			writeError(w, http.StatusNotFound, "tool not found: "+name)
			return
		}
		desc, _ := s.registry.Describe(name)
		writeJSON(w, http.StatusOK, desc)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
