package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementSessionState = "session_state"
	MeasurementStopAttempt  = "stop_attempt"
)

// stateCodes gives each session state a numeric value so transitions can
// be graphed as a step line.
var stateCodes = map[string]int{
	"idle":     0,
	"starting": 1,
	"running":  2,
	"stopping": 3,
	"stopped":  4,
}

// WriteSessionState records a session state transition.
//
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WriteSessionState(state string) {
	c.writePoint(sessionStatePoint(state, time.Now()))
}

// WriteStopAttempt records how a stop attempt ended and how long it took.
func (c *Client) WriteStopAttempt(outcome string, duration time.Duration, timedOut bool) {
	c.writePoint(stopAttemptPoint(outcome, duration, timedOut, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func sessionStatePoint(state string, at time.Time) *write.Point {
	code, ok := stateCodes[state]
	if !ok {
		code = -1
	}
	return write.NewPoint(
		MeasurementSessionState,
		map[string]string{"state": state},
		map[string]interface{}{"code": code},
		at,
	)
}

func stopAttemptPoint(outcome string, duration time.Duration, timedOut bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementStopAttempt,
		map[string]string{"outcome": outcome},
		map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"timed_out":   timedOut,
		},
		at,
	)
}
