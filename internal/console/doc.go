// Package console is the terminal front end: it prints the session to a
// writer and turns typed lines into console commands.
//
// Lines starting with a colon are supervisor commands (:start, :stop,
// :status, :quit, :help). Anything else is sent to the server console.
package console
