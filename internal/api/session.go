package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/forgerunner/forgerunner/internal/audit"
	"github.com/forgerunner/forgerunner/internal/shutdown"
	"github.com/forgerunner/forgerunner/internal/store"
)

// commandRequest is the body of POST /session/command.
type commandRequest struct {
	Command string `json:"command"`
}

// stopResponse is returned by POST /session/stop?wait=true.
type stopResponse struct {
	Outcome     shutdown.Outcome `json:"outcome"`
	Attempt     string           `json:"attempt,omitempty"`
	CommandSent bool             `json:"command_sent"`
	Completed   bool             `json:"completed"`
	TimedOut    bool             `json:"timed_out"`
	DurationMS  int64            `json:"duration_ms"`
	Error       string           `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st, err := s.session.Status()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleConsole(w http.ResponseWriter, _ *http.Request) {
	lines, err := s.session.Console()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lines": lines,
		"count": len(lines),
	})
}

// handleStart launches the server. It returns once the worker has been
// spawned; readiness is reported over the WebSocket.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	// The launch must not be abandoned because the client went away.
	ctx := context.WithoutCancel(r.Context())
	err := s.session.Start(ctx)
	s.recordAction(r, audit.ActionStart, "", err)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	st, err := s.session.Status()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// handleStop begins the stop protocol. With ?wait=true it blocks until the
// session is idle and returns the protocol result.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	req, err := s.session.RequestStop()
	s.recordAction(r, audit.ActionStop, "", err)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "stopping"})
		return
	}

	select {
	case <-req.Done():
	case <-r.Context().Done():
		return
	}

	res := req.Result()
	resp := stopResponse{
		Outcome:     res.Outcome,
		Attempt:     res.Attempt,
		CommandSent: res.CommandSent,
		Completed:   res.Completed,
		TimedOut:    res.TimedOut,
		DurationMS:  res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	err := s.session.SendCommand(req.Command)
	s.recordAction(r, audit.ActionCommand, req.Command, err)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"sent": req.Command})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	cfg, err := s.session.Configuration()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handlePutConfig replaces the operator settings. Omitted heap values
// fall back to the default.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg store.Configuration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	saved, err := s.session.SaveConfiguration(cfg)
	s.recordAction(r, audit.ActionConfig,
		fmt.Sprintf("max_heap=%s min_heap=%s tunnel=%t", cfg.MaxHeap, cfg.MinHeap, cfg.TunnelEnabled), err)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
