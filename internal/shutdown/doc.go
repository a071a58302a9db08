// Package shutdown implements the graceful stop protocol for the worker.
//
// A stop attempt refuses to run while world generation is in progress,
// sends the console stop command only to a worker that announced readiness,
// then waits in bounded steps for the worker to acknowledge and finish the
// stop. Whatever happens, the worker is forcibly terminated if it is still
// alive when the wait ends, the scoped listener is removed and the process
// handle is released.
//
// Only one attempt runs at a time; a second Stop while one is in flight
// returns OutcomeInProgress without touching the worker.
package shutdown
