package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hochfrequenz/run-orchestrator/internal/domain"
)

// SubmitRunRequest is the payload for POST /api/runs
type SubmitRunRequest struct {
	ProjectID   string `json:"project_id"`
	Instruction string `json:"instruction"`
	RunType     string `json:"run_type,omitempty"`
}

// SubmitRunResponse is the reply for a submitted run
type SubmitRunResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SubmitValidationRequest is the payload for POST /api/validations
type SubmitValidationRequest struct {
	ProjectID string `json:"project_id"`
	PRNumber  int    `json:"pr_number"`
}

// SubmitValidationResponse is the reply for a submitted validation
type SubmitValidationResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CancelResponse is the reply for a cancellation request
type CancelResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// StatusResponse is the reply for GET /api/status
type StatusResponse struct {
	Runs        map[string]int `json:"runs"`
	Pipelines   map[string]int `json:"pipelines"`
	Subscribers int            `json:"subscribers"`
}

// writeDomainError maps orchestrator errors onto HTTP status codes
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) submitRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req SubmitRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		run, err := s.runner.Submit(domain.RunRequest{
			ProjectID:   req.ProjectID,
			Instruction: req.Instruction,
			Type:        domain.RunType(req.RunType),
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, SubmitRunResponse{
			ID:     run.ID(),
			Status: string(domain.StatusPending),
		})
	}
}

func (s *Server) runHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")

		if id, ok := strings.CutSuffix(rest, "/cancel"); ok {
			s.cancelRun(w, r, id)
			return
		}

		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		run, err := s.registry.Run(rest)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run.Snapshot())
	}
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status, err := s.runner.Cancel(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{ID: id, Status: string(status)})
}

func (s *Server) submitValidationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req SubmitValidationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.PRNumber <= 0 {
			writeError(w, http.StatusBadRequest, "pr_number must be positive")
			return
		}

		p, err := s.pipelines.Submit(req.ProjectID, req.PRNumber)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, SubmitValidationResponse{
			ID:     p.ID(),
			Status: string(domain.StatusPending),
		})
	}
}

func (s *Server) getValidationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/validations/")
		p, err := s.registry.Pipeline(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p.Snapshot())
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		runs, pipelines := s.registry.Counts()

		resp := StatusResponse{
			Runs:        make(map[string]int),
			Pipelines:   make(map[string]int),
			Subscribers: s.hub.TotalSubscribers(),
		}
		for status, n := range runs {
			resp.Runs[string(status)] = n
		}
		for status, n := range pipelines {
			resp.Pipelines[string(status)] = n
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
