// Package tunnel supervises the playit.gg agent.
//
// The agent has no console protocol worth speaking: it is started, its
// output is scanned for the public address it was assigned, and it is
// stopped with a signal. Lines containing the endpoint trigger ("=>") are
// searched for a token such as "frog-mouse.joinmc.link", which is reported
// through OnEndpoint.
package tunnel
