package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/dispatcher/internal/history"
	"github.com/mattjoyce/dispatcher/internal/status"
)

const maxRunsLimit = 500

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Jobs:          len(s.names),
		History:       s.runs != nil,
	})
}

// handleListJobs handles GET /jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(s.names))}
	for _, name := range s.names {
		job, err := s.describe(r, name)
		if err != nil {
			s.logger.Warn("failed to read job status", "job", name, "error", err)
			continue
		}
		resp.Jobs = append(resp.Jobs, job)
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetJob handles GET /jobs/{name}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.config.Jobs[name]; !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	job, err := s.describe(r, name)
	if err != nil {
		s.logger.Error("failed to read job status", "job", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read job status")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// handleListRuns handles GET /jobs/{name}/runs?limit=N.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.config.Jobs[name]; !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if s.runs == nil {
		s.writeError(w, http.StatusNotFound, "run history is not configured")
		return
	}

	limit := history.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxRunsLimit {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := s.runs.List(r.Context(), name, limit)
	if err != nil {
		s.logger.Error("failed to list runs", "job", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	respondJSON(w, http.StatusOK, RunsResponse{Name: name, Runs: runs})
}

// handleAbort handles POST /jobs/{name}/abort. It files the .abort request;
// the supervisor picks it up at its next abort check.
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	dir, ok := s.config.Jobs[name]
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	rec, err := status.Snapshot(dir)
	if err != nil {
		s.logger.Error("failed to read job status", "job", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read job status")
		return
	}
	switch rec.State {
	case status.StateRunning:
	case status.StateAborting:
		respondJSON(w, http.StatusAccepted, AbortResponse{Name: name, Status: "abort_pending"})
		return
	default:
		s.writeError(w, http.StatusConflict, "job is not running (state "+string(rec.State)+")")
		return
	}

	if err := status.RequestAbort(dir); err != nil {
		s.logger.Error("failed to request abort", "job", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to request abort")
		return
	}
	s.logger.Info("abort requested", "job", name, "pid", rec.Pid)
	respondJSON(w, http.StatusAccepted, AbortResponse{Name: name, Status: "abort_requested"})
}

// handleOpenAPI handles GET /openapi.json (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.names))
}

func (s *Server) describe(r *http.Request, name string) (JobResponse, error) {
	rec, err := status.Snapshot(s.config.Jobs[name])
	if err != nil {
		return JobResponse{}, err
	}
	job := JobResponse{Name: name, Status: rec}
	if s.runs != nil {
		runs, err := s.runs.List(r.Context(), name, 1)
		if err != nil {
			s.logger.Warn("failed to read last run", "job", name, "error", err)
		} else if len(runs) > 0 {
			job.LastRun = &runs[0]
		}
	}
	return job, nil
}

func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
