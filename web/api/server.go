// Package api exposes the orchestrator to UI, CLI and webhook observers:
// run submission, cancellation, validation submission, snapshot queries,
// and live event streams over SSE and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/run-orchestrator/internal/broadcast"
	"github.com/hochfrequenz/run-orchestrator/internal/pipeline"
	"github.com/hochfrequenz/run-orchestrator/internal/registry"
	"github.com/hochfrequenz/run-orchestrator/internal/runner"
)

// Server is the HTTP API server
type Server struct {
	registry  *registry.Registry
	runner    *runner.Runner
	pipelines *pipeline.Engine
	hub       *broadcast.Hub
	addr      string
	mux       *http.ServeMux
	upgrader  websocket.Upgrader
}

// NewServer creates a new API server
func NewServer(reg *registry.Registry, run *runner.Runner, pipes *pipeline.Engine, hub *broadcast.Hub, addr string) *Server {
	s := &Server{
		registry:  reg,
		runner:    run,
		pipelines: pipes,
		hub:       hub,
		addr:      addr,
		mux:       http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/runs", s.submitRunHandler())
	s.mux.HandleFunc("/api/runs/", s.runHandler())
	s.mux.HandleFunc("/api/validations", s.submitValidationHandler())
	s.mux.HandleFunc("/api/validations/", s.getValidationHandler())
	s.mux.HandleFunc("/api/events/", s.sseHandler())
	s.mux.HandleFunc("/api/ws/", s.wsHandler())
	s.mux.HandleFunc("/api/status", s.statusHandler())
}

// Handler returns the route table for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.mux,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
