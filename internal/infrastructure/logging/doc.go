// Package logging provides structured logging for forgerunner.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the supervisor.
//
// # Features
//
//   - Text output by default, JSON for log shippers
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stderr"   # stdout, stderr
//
// Game console lines are not log records; they go to the surfaces.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("worker started", "pid", pid)
package logging
