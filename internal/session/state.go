package session

import (
	"time"

	"github.com/forgerunner/forgerunner/internal/process"
	"github.com/forgerunner/forgerunner/internal/store"
)

// RunState is the session lifecycle state.
type RunState string

const (
	StateIdle     RunState = "idle"
	StateStarting RunState = "starting"
	StateRunning  RunState = "running"
	StateStopping RunState = "stopping"
	StateStopped  RunState = "stopped"
)

// OutcomeExited is the run outcome when the worker exits without a stop
// request.
const OutcomeExited = "exited"

// Console markers written by the controller itself.
const (
	LabelStarting = "[SERVER STARTING]"
	LabelStopping = "[SERVER STOPPING]"
	LabelStopped  = "[SERVER STOPPED]"

	stampLayout = "2006-01-02 15:04:05"
)

func stamp(label string, t time.Time) string {
	return label + " " + t.Format(stampLayout)
}

// Surface is a UI that mirrors the session. Methods are called from the
// controller loop, in order, and must return quickly.
type Surface interface {
	OutputLine(line string)
	EndpointChanged(endpoint string)
	StateChanged(state RunState)
	Warning(msg string)
	Error(msg string)
}

// Metrics receives session measurements.
type Metrics interface {
	WriteSessionState(state string)
	WriteStopAttempt(outcome string, duration time.Duration, timedOut bool)
}

// Status is a point-in-time view of the session.
type Status struct {
	State         RunState            `json:"state"`
	RunID         string              `json:"run_id,omitempty"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	Endpoint      string              `json:"endpoint,omitempty"`
	Ready         bool                `json:"ready"`
	Unsafe        bool                `json:"unsafe"`
	LastOutcome   string              `json:"last_outcome,omitempty"`
	Configuration store.Configuration `json:"configuration"`
	Worker        process.Stats       `json:"worker"`
	Tunnel        process.Stats       `json:"tunnel"`
}
