package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when metrics are turned off; the
	// session controller then runs without a Metrics sink.
	ErrDisabled = errors.New("influxdb: metrics disabled")

	// ErrConnectionFailed is returned when the startup ping fails.
	ErrConnectionFailed = errors.New("influxdb: server unreachable")
)
