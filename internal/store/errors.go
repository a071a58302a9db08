package store

import "errors"

var (
	// ErrIO wraps read and write failures on the settings document.
	ErrIO = errors.New("settings file I/O failed")

	// ErrMalformed is reported when the document is not a JSON object.
	// Load still returns defaults in that case.
	ErrMalformed = errors.New("settings file is malformed")
)
