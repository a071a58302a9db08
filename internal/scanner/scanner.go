package scanner

import (
	"fmt"
	"strings"
)

// Event identifies a semantic marker recognised in a console line.
type Event string

const (
	WorldGenerationStarted  Event = "world_generation_started"
	WorldGenerationFinished Event = "world_generation_finished"
	WorkerReady             Event = "worker_ready"
	StopAccepted            Event = "stop_accepted"
	StopCompleted           Event = "stop_completed"
	EndpointDiscovered      Event = "endpoint_discovered"
)

// Default marker text.
const (
	MarkerPreparingSpawn = "Preparing spawn area"
	MarkerTimeElapsed    = "Time elapsed:"
	MarkerReady          = `For help, type "help"`
	MarkerStopping       = "Stopping server"
	MarkerStopped        = "[SERVER STOPPED]"

	DefaultEndpointTrigger = "=>"
)

// DefaultEndpointHints are the token fragments that identify a tunnel address.
var DefaultEndpointHints = []string{".joinmc.link", "https://"}

// Signal is one classified occurrence. Endpoint is set only for
// EndpointDiscovered.
type Signal struct {
	Event    Event
	Endpoint string
}

// Marker maps a case-sensitive substring to the event it announces.
type Marker struct {
	Substring string
	Event     Event
}

// Table is the marker configuration used by Classify.
type Table struct {
	Markers []Marker

	// EndpointTrigger must appear in a line before it is searched for an
	// endpoint token.
	EndpointTrigger string

	// EndpointHints are matched against whitespace separated tokens; the
	// first token containing any hint is the endpoint.
	EndpointHints []string
}

// DefaultTable returns the built-in marker table.
func DefaultTable() Table {
	return Table{
		Markers: []Marker{
			{Substring: MarkerPreparingSpawn, Event: WorldGenerationStarted},
			{Substring: MarkerTimeElapsed, Event: WorldGenerationFinished},
			{Substring: MarkerReady, Event: WorkerReady},
			{Substring: MarkerStopping, Event: StopAccepted},
			{Substring: MarkerStopped, Event: StopCompleted},
		},
		EndpointTrigger: DefaultEndpointTrigger,
		EndpointHints:   append([]string(nil), DefaultEndpointHints...),
	}
}

// Validate checks that the table can classify anything at all.
func (t Table) Validate() error {
	var errs []string
	for i, m := range t.Markers {
		if m.Substring == "" {
			errs = append(errs, fmt.Sprintf("marker %d: substring is required", i))
		}
		if !m.Event.valid() || m.Event == EndpointDiscovered {
			errs = append(errs, fmt.Sprintf("marker %d: unknown event %q", i, m.Event))
		}
	}
	if t.EndpointTrigger != "" && len(t.EndpointHints) == 0 {
		errs = append(errs, "endpoint trigger set without endpoint hints")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid marker table: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Classify returns every signal the line carries, in table order with the
// endpoint last. A line that matches nothing yields nil.
func (t Table) Classify(line string) []Signal {
	var out []Signal
	for _, m := range t.Markers {
		if m.Substring != "" && strings.Contains(line, m.Substring) {
			out = append(out, Signal{Event: m.Event})
		}
	}
	if endpoint, ok := t.Endpoint(line); ok {
		out = append(out, Signal{Event: EndpointDiscovered, Endpoint: endpoint})
	}
	return out
}

// Endpoint extracts the public address announced by a tunnel line.
func (t Table) Endpoint(line string) (string, bool) {
	if t.EndpointTrigger == "" || !strings.Contains(line, t.EndpointTrigger) {
		return "", false
	}
	for _, token := range strings.Fields(line) {
		for _, hint := range t.EndpointHints {
			if hint != "" && strings.Contains(token, hint) {
				return strings.TrimSpace(token), true
			}
		}
	}
	return "", false
}

func (e Event) valid() bool {
	switch e {
	case WorldGenerationStarted, WorldGenerationFinished, WorkerReady,
		StopAccepted, StopCompleted, EndpointDiscovered:
		return true
	}
	return false
}

// ParseEvent converts a configured event name.
func ParseEvent(s string) (Event, error) {
	e := Event(strings.ToLower(strings.TrimSpace(s)))
	if !e.valid() {
		return "", fmt.Errorf("unknown event %q", s)
	}
	return e, nil
}
