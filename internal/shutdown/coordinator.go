package shutdown

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/forgerunner/forgerunner/internal/scanner"
)

// Default protocol parameters.
const (
	DefaultStopCommand  = "/stop"
	DefaultTimeout      = 90 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// State is the coordinator's lifecycle state.
type State string

const (
	StateNotStopping State = "not_stopping"
	StateStopping    State = "stopping"
	StateCompleted   State = "completed"
)

// Outcome summarises how a stop attempt ended.
type Outcome string

const (
	// OutcomeGraceful means the worker exited on its own after the stop command.
	OutcomeGraceful Outcome = "graceful"
	// OutcomeForced means the worker had to be terminated.
	OutcomeForced Outcome = "forced"
	// OutcomeDeferred means the attempt was refused during world generation.
	OutcomeDeferred Outcome = "deferred"
	// OutcomeInProgress means another attempt was already running.
	OutcomeInProgress Outcome = "in_progress"
	// OutcomeNoProcess means there was no live worker to stop.
	OutcomeNoProcess Outcome = "no_process"
)

// Worker is the part of process.Manager the protocol borrows. Terminate may
// be called while a SendLine is still pending and must make it return.
type Worker interface {
	IsAlive() bool
	SendLine(text string) error
	Terminate() error
	Release()
}

// Window answers the transcript questions the protocol asks.
type Window interface {
	Unsafe() bool
	Ready() bool
}

// Feed delivers classified worker signals. The returned function removes
// the listener.
type Feed interface {
	Subscribe(fn func(scanner.Signal)) (unsubscribe func())
}

// Config holds protocol parameters.
type Config struct {
	// StopCommand is written to the worker's console.
	StopCommand string

	// Timeout is the ceiling for the graceful wait.
	Timeout time.Duration

	// PollInterval is the wait step.
	PollInterval time.Duration
}

// DefaultConfig returns the standard protocol parameters.
func DefaultConfig() Config {
	return Config{
		StopCommand:  DefaultStopCommand,
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
	}
}

// Result describes one stop attempt.
type Result struct {
	Attempt     string        `json:"attempt"`
	Outcome     Outcome       `json:"outcome"`
	CommandSent bool          `json:"command_sent"`
	Accepted    bool          `json:"accepted"`
	Completed   bool          `json:"completed"`
	TimedOut    bool          `json:"timed_out"`
	Duration    time.Duration `json:"duration"`
	Err         error         `json:"-"`
}

// Logger defines the logging interface for the coordinator.
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

// Coordinator runs stop attempts for one worker.
type Coordinator struct {
	cfg    Config
	logger Logger

	mu         sync.Mutex
	state      State
	onComplete func(Result)
}

// New creates a coordinator, filling zero fields from DefaultConfig.
func New(cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.StopCommand == "" {
		cfg.StopCommand = def.StopCommand
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Coordinator{
		cfg:    cfg,
		logger: noopLogger{},
		state:  StateNotStopping,
	}
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.logger = logger
}

// OnComplete registers a hook run at the end of every attempt that reached
// the protocol (not for deferred or in-progress results).
func (c *Coordinator) OnComplete(fn func(Result)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

// Config returns the effective protocol parameters.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// State returns the current coordinator state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stop runs one stop attempt. It blocks for at most Timeout plus the time
// Terminate needs to reap the worker.
func (c *Coordinator) Stop(worker Worker, window Window, feed Feed) Result {
	started := time.Now()
	res := Result{Attempt: uuid.NewString()}

	c.mu.Lock()
	if c.state == StateStopping {
		c.mu.Unlock()
		res.Outcome = OutcomeInProgress
		res.Err = ErrInProgress
		return res
	}
	c.state = StateStopping
	c.mu.Unlock()

	if worker == nil || !worker.IsAlive() {
		if worker != nil {
			worker.Release()
		}
		res.Outcome = OutcomeNoProcess
		res.Duration = time.Since(started)
		c.finish(res)
		return res
	}

	if window.Unsafe() {
		c.logger.Warn("stop deferred during world generation", "attempt", res.Attempt)
		c.setState(StateNotStopping)
		res.Outcome = OutcomeDeferred
		res.Err = ErrUnsafeWindow
		res.Duration = time.Since(started)
		return res
	}

	c.run(worker, window, feed, &res)
	res.Duration = time.Since(started)
	c.finish(res)
	return res
}

// run is the protocol body. Every exit path unsubscribes the listener,
// terminates a still-live worker and releases the handle.
func (c *Coordinator) run(worker Worker, window Window, feed Feed, res *Result) {
	var accepted, completed atomic.Bool
	var errs []error

	unsubscribe := func() {}
	if feed != nil {
		unsubscribe = feed.Subscribe(func(s scanner.Signal) {
			switch s.Event {
			case scanner.StopAccepted:
				accepted.Store(true)
			case scanner.StopCompleted:
				completed.Store(true)
			}
		})
	}

	forced := false
	defer func() {
		if r := recover(); r != nil {
			errs = append(errs, fmt.Errorf("shutdown protocol panic: %v", r))
			c.logger.Error("shutdown protocol panicked", "attempt", res.Attempt, "panic", r)
		}
		if c.terminate(worker, res.Attempt, &errs) {
			forced = true
		}
		unsubscribe()
		worker.Release()

		res.Accepted = accepted.Load()
		res.Completed = completed.Load()
		if forced {
			res.Outcome = OutcomeForced
		} else {
			res.Outcome = OutcomeGraceful
		}
		res.Err = errors.Join(errs...)
	}()

	if !window.Ready() {
		c.logger.Info("worker never became ready, terminating", "attempt", res.Attempt)
		return
	}

	// The ceiling covers the write as well: a worker that stops reading
	// stdin is terminated like one that never exits.
	deadline := time.NewTimer(c.cfg.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	sent := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				sent <- fmt.Errorf("stop command panicked: %v", r)
			}
		}()
		sent <- worker.SendLine(c.cfg.StopCommand)
	}()

	for {
		select {
		case err := <-sent:
			sent = nil
			if err != nil {
				c.logger.Warn("sending stop command failed", "attempt", res.Attempt, "error", err)
				errs = append(errs, fmt.Errorf("sending %q: %w", c.cfg.StopCommand, err))
				return
			}
			res.CommandSent = true
			c.logger.Info("stop command sent", "attempt", res.Attempt, "command", c.cfg.StopCommand)
		case <-ticker.C:
		case <-deadline.C:
			res.TimedOut = true
			errs = append(errs, fmt.Errorf("%w after %s", ErrTimeoutExceeded, c.cfg.Timeout))
			c.logger.Warn("graceful stop timed out",
				"attempt", res.Attempt,
				"timeout", c.cfg.Timeout,
				"command_sent", res.CommandSent,
			)
			return
		}
		if !worker.IsAlive() {
			if sent != nil {
				select {
				case err := <-sent:
					res.CommandSent = err == nil
				default:
				}
			}
			return
		}
		if res.CommandSent && accepted.Load() && completed.Load() {
			return
		}
	}
}

// terminate kills a still-live worker and reports whether it had to.
func (c *Coordinator) terminate(worker Worker, attempt string, errs *[]error) (forced bool) {
	defer func() {
		if r := recover(); r != nil {
			*errs = append(*errs, fmt.Errorf("terminate panic: %v", r))
		}
	}()
	if !worker.IsAlive() {
		return false
	}
	if err := worker.Terminate(); err != nil {
		c.logger.Error("terminating worker failed", "attempt", attempt, "error", err)
		*errs = append(*errs, fmt.Errorf("terminating worker: %w", err))
	}
	return true
}

func (c *Coordinator) finish(res Result) {
	c.mu.Lock()
	c.state = StateCompleted
	hook := c.onComplete
	c.mu.Unlock()

	c.logger.Info("stop attempt finished",
		"attempt", res.Attempt,
		"outcome", res.Outcome,
		"timed_out", res.TimedOut,
		"duration", res.Duration,
	)
	if hook != nil {
		hook(res)
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}
