package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/forgerunner/forgerunner/internal/audit"
	"github.com/forgerunner/forgerunner/internal/session"
)

// Controller is the part of the session controller the prompt drives.
type Controller interface {
	Start(ctx context.Context) error
	RequestStop() (*session.StopRequest, error)
	SendCommand(text string) error
	Status() (session.Status, error)
}

// Supervisor commands.
const (
	cmdStart  = ":start"
	cmdStop   = ":stop"
	cmdStatus = ":status"
	cmdQuit   = ":quit"
	cmdExit   = ":exit"
	cmdHelp   = ":help"
)

const helpText = `:start   start the server
:stop    stop the server gracefully
:status  show the session state
:quit    stop everything and exit
anything else is sent to the server console
`

// Prompt reads typed lines and dispatches them.
type Prompt struct {
	ctrl   Controller
	term   *Terminal
	onQuit func()
	audit  *audit.Recorder
}

// NewPrompt creates a prompt. onQuit is called for :quit and :exit and
// must not block.
func NewPrompt(ctrl Controller, term *Terminal, onQuit func()) *Prompt {
	return &Prompt{ctrl: ctrl, term: term, onQuit: onQuit}
}

// SetAudit records typed actions. Call before Run.
func (p *Prompt) SetAudit(rec *audit.Recorder) {
	p.audit = rec
}

// Run reads lines from in until EOF, a read error or ctx is cancelled.
// EOF is not an error: a supervisor without a terminal keeps running.
// :quit does not end Run; the supervisor may refuse to close, and the
// console stays usable while the server stops.
func (p *Prompt) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading console input: %w", err)
			}
			return nil
		case line := <-lines:
			p.Dispatch(ctx, line)
		}
	}
}

// Dispatch handles one typed line. It returns true after :quit.
func (p *Prompt) Dispatch(ctx context.Context, line string) bool {
	line = strings.TrimSpace(strings.TrimRight(line, "\r"))
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, ":") {
		err := p.ctrl.SendCommand(line)
		p.record(audit.ActionCommand, line, err)
		if err != nil {
			p.term.Error(err.Error())
		}
		return false
	}

	switch strings.ToLower(strings.Fields(line)[0]) {
	case cmdStart:
		// Refusals are reported to every surface by the controller.
		p.record(audit.ActionStart, "", p.ctrl.Start(ctx))
	case cmdStop:
		_, err := p.ctrl.RequestStop()
		p.record(audit.ActionStop, "", err)
	case cmdStatus:
		p.printStatus()
	case cmdQuit, cmdExit:
		if p.onQuit != nil {
			p.onQuit()
		}
		return true
	case cmdHelp:
		p.term.printf("%s", helpText)
	default:
		p.term.Warning(fmt.Sprintf("unknown command %q, try :help", line))
	}
	return false
}

func (p *Prompt) record(action, detail string, err error) {
	e := audit.Entry{Action: action, Source: audit.SourceConsole, Detail: detail}
	if err != nil {
		e.Outcome = err.Error()
	}
	p.audit.Record(e)
}

func (p *Prompt) printStatus() {
	st, err := p.ctrl.Status()
	if err != nil {
		p.term.Error(err.Error())
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "state:    %s\n", st.State)
	if st.RunID != "" {
		fmt.Fprintf(&b, "run:      %s\n", st.RunID)
	}
	if st.StartedAt != nil {
		fmt.Fprintf(&b, "started:  %s\n", st.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if st.Endpoint != "" {
		fmt.Fprintf(&b, "address:  %s\n", st.Endpoint)
	}
	fmt.Fprintf(&b, "ready:    %t\n", st.Ready)
	fmt.Fprintf(&b, "heap:     -Xmx%s -Xms%s\n", st.Configuration.MaxHeap, st.Configuration.MinHeap)
	fmt.Fprintf(&b, "tunnel:   %t\n", st.Configuration.TunnelEnabled)
	if st.LastOutcome != "" {
		fmt.Fprintf(&b, "last:     %s\n", st.LastOutcome)
	}
	p.term.printf("%s", b.String())
}
