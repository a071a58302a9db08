package tunnel

import "errors"

// ErrBinaryNotFound is returned when the agent binary cannot be located.
var ErrBinaryNotFound = errors.New("tunnel agent binary not found")
