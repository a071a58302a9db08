// Package auth issues and verifies the bearer tokens that guard the HTTP
// API and the console WebSocket.
//
// There is no user database. Tokens are minted offline with the
// `forgerunner token` command using the shared HS256 secret, and carry a
// role:
//   - viewer: status, console history, run journal
//   - operator: viewer plus start, stop and console commands
//   - admin: operator plus writing the operator settings
//
// The role-permission mapping is static; there is no database lookup.
package auth
