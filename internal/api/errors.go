package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/forgerunner/forgerunner/internal/journal"
	"github.com/forgerunner/forgerunner/internal/process"
	"github.com/forgerunner/forgerunner/internal/session"
	"github.com/forgerunner/forgerunner/internal/shutdown"
	"github.com/forgerunner/forgerunner/internal/worker"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnsafeWindow = "unsafe_window"
	ErrCodeInProgress   = "stop_in_progress"
	ErrCodeLaunchFailed = "launch_failed"
	ErrCodeUnavailable  = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeSessionError maps controller errors onto HTTP responses.
func writeSessionError(w http.ResponseWriter, err error) {
	var launchErr *process.LaunchError
	switch {
	case errors.Is(err, session.ErrAlreadyRunning), errors.Is(err, session.ErrNotRunning):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, shutdown.ErrUnsafeWindow):
		writeError(w, http.StatusConflict, ErrCodeUnsafeWindow, err.Error())
	case errors.Is(err, shutdown.ErrInProgress):
		writeError(w, http.StatusConflict, ErrCodeInProgress, err.Error())
	case errors.Is(err, worker.ErrInvalidHeap):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.As(err, &launchErr):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeLaunchFailed, err.Error())
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, journal.ErrRunNotFound):
		writeNotFound(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
