package worker

import "errors"

var (
	// ErrJavaNotFound is returned when no java binary could be located.
	ErrJavaNotFound = errors.New("java runtime not found")

	// ErrJarNotFound is returned when no server jar matches.
	ErrJarNotFound = errors.New("server jar not found")

	// ErrInvalidHeap is returned for heap sizes java would reject.
	ErrInvalidHeap = errors.New("invalid heap size")

	// ErrLocked is returned when another supervisor holds the directory lock.
	ErrLocked = errors.New("server directory is in use by another supervisor")
)
