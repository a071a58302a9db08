// Package remote mirrors the session onto an MQTT broker and accepts
// start, stop and console commands from it.
//
// The Bridge is a session.Surface. Surface callbacks only enqueue; a
// single goroutine started by Run does the publishing, so a slow broker
// never stalls the controller loop. When the queue is full, console lines
// are dropped first and state changes are never dropped.
//
//	forgerunner/session/state      {"state":"running","timestamp":"..."}  retained
//	forgerunner/session/endpoint   {"endpoint":"host:port","timestamp":"..."}  retained
//	forgerunner/session/console    raw console line
//	forgerunner/session/alert      {"level":"warning","message":"...","timestamp":"..."}
//
//	forgerunner/command/start      payload ignored
//	forgerunner/command/stop       payload ignored
//	forgerunner/command/console    payload is the console command
package remote
