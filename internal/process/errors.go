package process

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is returned when a command targets a process that is not alive.
	ErrNotRunning = errors.New("process is not running")

	// ErrAlreadyRunning is returned by Start while a live handle exists.
	ErrAlreadyRunning = errors.New("process is already running")
)

// LaunchError reports that the binary could not be resolved or spawned.
type LaunchError struct {
	Name   string
	Binary string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s (%s): %v", e.Name, e.Binary, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
