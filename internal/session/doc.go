// Package session ties the worker, the tunnel and the stop protocol into
// one controllable server session.
//
// A Controller owns a single event loop (Run). Process output, exit
// notifications, configuration reloads and every public call are posted
// into that loop, so run state, the console transcript, the endpoint and
// configuration writes are only ever touched by one goroutine. Blocking
// work (spawning processes, the stop protocol, stopping the tunnel) runs
// outside the loop and posts its result back.
//
// Surfaces (the WebSocket hub, the MQTT publisher, the terminal) register
// with AddSurface and are called from the loop. They must not block.
package session
