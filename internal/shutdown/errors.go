package shutdown

import "errors"

var (
	// ErrUnsafeWindow is returned when a stop is attempted during world generation.
	ErrUnsafeWindow = errors.New("world generation in progress, stop deferred")

	// ErrTimeoutExceeded records that the graceful wait hit its ceiling and
	// the worker was terminated.
	ErrTimeoutExceeded = errors.New("graceful stop timed out")

	// ErrInProgress is returned when another stop attempt is already running.
	ErrInProgress = errors.New("stop already in progress")
)
