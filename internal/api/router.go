package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/forgerunner/forgerunner/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermSessionRead))

				r.Post("/auth/ws-ticket", s.handleWSTicket)
				r.Get("/session", s.handleStatus)
				r.Get("/session/console", s.handleConsole)
				r.Get("/config", s.handleGetConfig)

				r.Route("/runs", func(r chi.Router) {
					r.Get("/", s.handleListRuns)
					r.Get("/{id}", s.handleGetRun)
					r.Get("/{id}/stops", s.handleListStopAttempts)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermSessionControl))
				r.Post("/session/start", s.handleStart)
				r.Post("/session/stop", s.handleStop)
			})

			r.With(requirePermission(auth.PermConsoleWrite)).
				Post("/session/command", s.handleCommand)

			r.With(requirePermission(auth.PermConfigWrite)).
				Put("/config", s.handlePutConfig)

			r.With(requirePermission(auth.PermAuditRead)).
				Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
