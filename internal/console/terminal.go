package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/forgerunner/forgerunner/internal/session"
)

// Terminal writes session events to a terminal. It implements
// session.Surface.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTerminal returns a Terminal writing to out.
func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out}
}

func (t *Terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	//nolint:errcheck // Nothing useful to do when the terminal is gone
	fmt.Fprintf(t.out, format, args...)
}

// OutputLine implements session.Surface.
func (t *Terminal) OutputLine(line string) {
	t.printf("%s\n", line)
}

// EndpointChanged implements session.Surface.
func (t *Terminal) EndpointChanged(endpoint string) {
	t.printf(">> Public address: %s\n", endpoint)
}

// StateChanged implements session.Surface.
func (t *Terminal) StateChanged(state session.RunState) {
	t.printf(">> Server %s\n", state)
}

// Warning implements session.Surface.
func (t *Terminal) Warning(msg string) {
	t.printf(">> WARNING: %s\n", msg)
}

// Error implements session.Surface.
func (t *Terminal) Error(msg string) {
	t.printf(">> ERROR: %s\n", msg)
}
