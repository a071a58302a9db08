package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/forgerunner/forgerunner/internal/journal"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeNotFound(w, "run journal is not enabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{Outcome: q.Get("outcome")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.journal.ListRuns(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing runs", "error", err)
		writeInternalError(w, "failed to list runs")
		return
	}
	if result.Runs == nil {
		result.Runs = []journal.Run{}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeNotFound(w, "run journal is not enabled")
		return
	}

	run, err := s.journal.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListStopAttempts(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeNotFound(w, "run journal is not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := s.journal.GetRun(r.Context(), id); err != nil {
		writeSessionError(w, err)
		return
	}

	attempts, err := s.journal.ListStopAttempts(r.Context(), id)
	if err != nil {
		s.logger.Error("listing stop attempts", "run_id", id, "error", err)
		writeInternalError(w, "failed to list stop attempts")
		return
	}
	if attempts == nil {
		attempts = []journal.StopAttempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attempts": attempts,
		"count":    len(attempts),
	})
}
