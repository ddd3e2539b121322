package web

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/openpdi/internal/service"
)

// handleListRuns returns a page of recorded runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts, err := parseRunFilters(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	res, err := s.service.Runs(r.Context(), opts)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.Run(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// handleStatus reports run slot usage.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.Limiter().Status())
}

// handleListJobs lists scheduled exports with their next activation.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, r, http.StatusOK, []service.ScheduledJob{})
		return
	}
	writeJSON(w, r, http.StatusOK, s.scheduler.Jobs())
}

// handleRunJob runs a scheduled export immediately.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.scheduler == nil || !s.scheduler.Has(name) {
		respondError(w, r, fmt.Errorf("unknown job %q", name), http.StatusNotFound)
		return
	}
	res, err := s.scheduler.RunNow(r.Context(), name)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}
