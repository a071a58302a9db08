// Package api implements the HTTP REST API and WebSocket console for
// forgerunner.
//
// This package provides:
//   - REST endpoints for session status, start, stop and console commands
//   - Operator settings (heap sizes, tunnel toggle) read and write
//   - Run journal and operator audit log queries
//   - WebSocket hub mirroring the session (console lines, state, endpoint)
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Security
//
// Every route except /health requires a bearer token signed with
// security.jwt.secret (see `forgerunner token`). The token's role decides
// what the caller may do. WebSocket connections use single-use tickets to
// keep tokens out of URLs.
//
// # Asynchronous Stop
//
// POST /session/stop returns 202 as soon as the stop has begun; progress
// is visible on the WebSocket. Pass ?wait=true to block until the session
// is idle and receive the shutdown result.
package api
