package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forgerunner/forgerunner/internal/journal"
	"github.com/forgerunner/forgerunner/internal/process"
	"github.com/forgerunner/forgerunner/internal/publicaddr"
	"github.com/forgerunner/forgerunner/internal/scanner"
	"github.com/forgerunner/forgerunner/internal/shutdown"
	"github.com/forgerunner/forgerunner/internal/store"
	"github.com/forgerunner/forgerunner/internal/tunnel"
	"github.com/forgerunner/forgerunner/internal/worker"
)

const (
	// eventBuffer absorbs output bursts while the loop is busy.
	eventBuffer = 1024

	// exitWait bounds how long finalisation waits for the worker's exit
	// notification after the stop protocol returns.
	exitWait = 10 * time.Second

	// journalTimeout bounds each journal write.
	journalTimeout = 5 * time.Second

	// safeWindowPoll is how often a stopping loop rechecks the worker while
	// waiting out world generation.
	safeWindowPoll = 250 * time.Millisecond
)

// Logger defines the logging interface for the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AddressResolver finds the public address when no tunnel endpoint is
// available.
type AddressResolver interface {
	Resolve(ctx context.Context) (publicaddr.Address, error)
}

// Watcher is implemented by stores that can report external edits.
type Watcher interface {
	Watch(ctx context.Context, fn func(store.Configuration, error)) error
}

// Options configures a Controller. Store is required; Journal, Metrics
// and Resolver are optional.
type Options struct {
	Worker         worker.Config
	Tunnel         tunnel.Config
	Shutdown       shutdown.Config
	Table          scanner.Table
	Store          store.Store
	WatchStore     bool
	Journal        journal.Repository
	Metrics        Metrics
	Resolver       AddressResolver
	ConsoleHistory int
}

// run is one worker launch. Fields other than worker and the channels are
// loop-owned.
type run struct {
	id      string
	started time.Time
	config  store.Configuration
	worker  *process.Manager

	// ready is closed when the start sequence has finished either way.
	ready chan struct{}

	// exited is closed when the worker's exit notification was handled.
	exited  chan struct{}
	exitErr error
}

// StopRequest tracks one stop of the running session.
type StopRequest struct {
	done   chan struct{}
	result shutdown.Result
}

// Done is closed when the session has been finalised.
func (r *StopRequest) Done() <-chan struct{} { return r.done }

// Result returns the protocol result. Only valid once Done is closed.
func (r *StopRequest) Result() shutdown.Result {
	<-r.done
	return r.result
}

// Controller drives one server session at a time.
type Controller struct {
	opts       Options
	table      scanner.Table
	coord      *shutdown.Coordinator
	tunnel     *tunnel.Supervisor
	transcript *scanner.Transcript
	logger     Logger

	events   chan func()
	quit     chan struct{}
	quitOnce sync.Once

	// Loop-owned.
	state       RunState
	current     *run
	stopping    *StopRequest
	endpoint    string
	console     *history
	config      store.Configuration
	lastOutcome string
	closed      bool

	smu      sync.RWMutex
	surfaces []Surface

	fmu     sync.Mutex
	subs    map[int]func(scanner.Signal)
	nextSub int
}

// New creates a controller and loads the stored configuration. A
// malformed document is reported through the returned error alongside a
// usable controller running on defaults.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	table := opts.Table
	if len(table.Markers) == 0 {
		table = scanner.DefaultTable()
	}

	c := &Controller{
		opts:       opts,
		table:      table,
		coord:      shutdown.New(opts.Shutdown),
		tunnel:     tunnel.New(opts.Tunnel, table),
		transcript: scanner.NewTranscript(),
		logger:     noopLogger{},
		events:     make(chan func(), eventBuffer),
		quit:       make(chan struct{}),
		state:      StateIdle,
		console:    newHistory(opts.ConsoleHistory),
		subs:       make(map[int]func(scanner.Signal)),
	}

	c.tunnel.OnEndpoint(func(endpoint string) {
		c.post(func() { c.setEndpoint(endpoint) })
	})
	c.tunnel.OnLine(func(l process.Line) {
		c.logger.Debug("tunnel output", "stream", l.Stream, "line", l.Text)
	})
	c.tunnel.OnExit(func(err error) {
		if err != nil {
			c.post(func() { c.warn(fmt.Sprintf("tunnel agent exited: %v", err)) })
		}
	})

	cfg, err := opts.Store.Load()
	c.config = cfg.Normalize()
	if err != nil {
		return c, fmt.Errorf("loading configuration: %w", err)
	}
	return c, nil
}

// SetLogger sets the logger for the controller and the components it owns.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
	c.coord.SetLogger(logger)
	c.tunnel.SetLogger(logger)
}

// AddSurface registers a UI surface.
func (c *Controller) AddSurface(s Surface) {
	c.smu.Lock()
	defer c.smu.Unlock()
	c.surfaces = append(c.surfaces, s)
}

func (c *Controller) each(fn func(Surface)) {
	c.smu.RLock()
	surfaces := append([]Surface(nil), c.surfaces...)
	c.smu.RUnlock()
	for _, s := range surfaces {
		fn(s)
	}
}

// Run executes the event loop until ctx is done. A live worker or tunnel
// still running at that point is killed, but never while the world is being
// generated: the loop keeps running until generation finishes or the worker
// exits.
func (c *Controller) Run(ctx context.Context) error {
	if w, ok := c.opts.Store.(Watcher); ok && c.opts.WatchStore {
		go func() {
			err := w.Watch(ctx, func(cfg store.Configuration, err error) {
				c.post(func() { c.reloadConfiguration(cfg, err) })
			})
			if err != nil {
				c.logger.Warn("configuration watcher stopped", "error", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			c.awaitSafeWindow()
			c.quitOnce.Do(func() { close(c.quit) })
			c.abandon()
			return nil
		case fn := <-c.events:
			c.dispatch(fn)
		}
	}
}

func (c *Controller) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("session event panicked", "panic", r)
		}
	}()
	fn()
}

// generating reports whether a live worker is inside world generation.
func (c *Controller) generating() bool {
	r := c.current
	return r != nil && r.worker != nil && r.worker.IsAlive() && c.transcript.Unsafe()
}

// awaitSafeWindow keeps serving events while the world is being generated.
func (c *Controller) awaitSafeWindow() {
	if !c.generating() {
		return
	}
	c.warn("world generation in progress, waiting for it to finish before killing the server")

	ticker := time.NewTicker(safeWindowPoll)
	defer ticker.Stop()
	for c.generating() {
		select {
		case fn := <-c.events:
			c.dispatch(fn)
		case <-ticker.C:
		}
	}
}

// abandon kills whatever is still running when the loop exits.
func (c *Controller) abandon() {
	if r := c.current; r != nil && r.worker != nil && r.worker.IsAlive() {
		c.logger.Warn("controller exiting with live worker, killing it", "pid", r.worker.PID())
		if err := r.worker.Terminate(); err != nil {
			c.logger.Error("killing worker failed", "error", err)
		}
		r.worker.Release()
	}
	if c.tunnel.IsAlive() {
		if err := c.tunnel.Stop(); err != nil {
			c.logger.Error("stopping tunnel failed", "error", err)
		}
	}
}

// post queues fn on the loop. It reports false once the loop has exited.
func (c *Controller) post(fn func()) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.events <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (c *Controller) call(fn func()) error {
	done := make(chan struct{})
	if !c.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-c.quit:
		return ErrClosed
	}
}

// appendOutput adds a console line, classifies it and fans it out.
func (c *Controller) appendOutput(text string) {
	c.console.add(text)
	signals := c.table.Classify(text)
	c.transcript.Observe(signals)
	c.publish(signals)
	for _, s := range signals {
		if s.Event == scanner.EndpointDiscovered {
			c.setEndpoint(s.Endpoint)
		}
	}
	c.each(func(s Surface) { s.OutputLine(text) })
}

func (c *Controller) setEndpoint(endpoint string) {
	if endpoint == c.endpoint {
		return
	}
	c.endpoint = endpoint
	c.logger.Info("endpoint changed", "endpoint", endpoint)
	c.each(func(s Surface) { s.EndpointChanged(endpoint) })

	if r := c.current; r != nil && endpoint != "" && c.opts.Journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := c.opts.Journal.SetEndpoint(ctx, r.id, endpoint); err != nil {
			c.logger.Warn("journal endpoint update failed", "run", r.id, "error", err)
		}
	}
}

func (c *Controller) setState(state RunState) {
	if state == c.state {
		return
	}
	c.logger.Info("session state changed", "from", c.state, "to", state)
	c.state = state
	c.each(func(s Surface) { s.StateChanged(state) })
	if c.opts.Metrics != nil {
		c.opts.Metrics.WriteSessionState(string(state))
	}
}

func (c *Controller) warn(msg string) {
	c.logger.Warn(msg)
	c.each(func(s Surface) { s.Warning(msg) })
}

func (c *Controller) fail(msg string) {
	c.logger.Error(msg)
	c.each(func(s Surface) { s.Error(msg) })
}

// persist writes the current configuration, surfacing failures.
func (c *Controller) persist() {
	if err := c.opts.Store.Save(c.config); err != nil {
		c.warn(fmt.Sprintf("saving configuration: %v", err))
	}
}

func (c *Controller) reloadConfiguration(cfg store.Configuration, err error) {
	if err != nil {
		c.warn(fmt.Sprintf("configuration file changed but could not be read, keeping current settings: %v", err))
		return
	}
	c.config = cfg.Normalize()
	c.logger.Info("configuration reloaded",
		"max_heap", c.config.MaxHeap,
		"min_heap", c.config.MinHeap,
		"tunnel_enabled", c.config.TunnelEnabled,
	)
}

// Status returns a snapshot of the session.
func (c *Controller) Status() (Status, error) {
	var st Status
	err := c.call(func() {
		st = Status{
			State:         c.state,
			Endpoint:      c.endpoint,
			Ready:         c.transcript.Ready(),
			Unsafe:        c.transcript.Unsafe(),
			LastOutcome:   c.lastOutcome,
			Configuration: c.config,
			Worker:        process.Stats{Name: worker.Name, Status: process.StatusStopped},
		}
		if r := c.current; r != nil {
			st.RunID = r.id
			started := r.started
			st.StartedAt = &started
			if r.worker != nil {
				st.Worker = r.worker.Stats()
			}
		}
	})
	st.Tunnel = c.tunnel.Stats()
	return st, err
}

// Console returns the retained console lines of the current or last run.
func (c *Controller) Console() ([]string, error) {
	var lines []string
	err := c.call(func() { lines = c.console.snapshot() })
	return lines, err
}

// Configuration returns the configuration the next start will use.
func (c *Controller) Configuration() (store.Configuration, error) {
	var cfg store.Configuration
	err := c.call(func() { cfg = c.config })
	return cfg, err
}

// SaveConfiguration replaces and persists the configuration. Heap values
// are validated; blanks fall back to the default.
func (c *Controller) SaveConfiguration(cfg store.Configuration) (store.Configuration, error) {
	cfg = cfg.Normalize()
	if err := worker.ValidateHeap(cfg.MaxHeap); err != nil {
		return cfg, err
	}
	if err := worker.ValidateHeap(cfg.MinHeap); err != nil {
		return cfg, err
	}

	var saveErr error
	if err := c.call(func() {
		c.config = cfg
		saveErr = c.opts.Store.Save(cfg)
	}); err != nil {
		return cfg, err
	}
	if saveErr != nil {
		return cfg, fmt.Errorf("saving configuration: %w", saveErr)
	}
	return cfg, nil
}
