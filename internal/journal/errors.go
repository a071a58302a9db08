package journal

import "errors"

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")
