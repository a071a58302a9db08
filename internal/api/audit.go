package api

import (
	"net/http"
	"strconv"

	"github.com/forgerunner/forgerunner/internal/audit"
)

// recordAction queues an audit entry for the authenticated caller. Refused
// actions are recorded too, with the refusal as the outcome.
func (s *Server) recordAction(r *http.Request, action, detail string, err error) {
	if s.audit == nil {
		return
	}
	var actor string
	if claims := claimsFromContext(r.Context()); claims != nil {
		actor = claims.Subject
	}
	s.audit.Record(audit.Entry{
		Action:  action,
		Source:  audit.SourceAPI,
		Actor:   actor,
		Detail:  detail,
		Outcome: errOutcome(err),
	})
}

func errOutcome(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// handleListAudit returns recorded operator actions, most recent first.
//
// Query parameters:
//   - action: start, stop, command or config
//   - source: api, mqtt or console
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit log is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		Source: q.Get("source"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit log", "error", err)
		writeInternalError(w, "failed to list audit log")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
