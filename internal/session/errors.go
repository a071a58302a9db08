package session

import "errors"

var (
	// ErrAlreadyRunning is returned by Start unless the session is idle.
	ErrAlreadyRunning = errors.New("server is already running")

	// ErrNotRunning is returned by Stop unless the session is running.
	ErrNotRunning = errors.New("server is not running")

	// ErrClosed is returned once the controller has been closed or its
	// loop has exited.
	ErrClosed = errors.New("session controller closed")

	// ErrIO wraps console write failures other than a dead worker.
	ErrIO = errors.New("console write failed")
)
