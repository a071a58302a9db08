package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgerunner/forgerunner/internal/journal"
	"github.com/forgerunner/forgerunner/internal/process"
	"github.com/forgerunner/forgerunner/internal/shutdown"
	"github.com/forgerunner/forgerunner/internal/worker"
)

// OutcomeFailed is the run outcome when the worker could not be launched.
const OutcomeFailed = "failed"

// Start launches a run: the tunnel (or the public address lookup), then
// the worker with the configured heap. It returns once the worker has
// been spawned, not when it is ready.
func (c *Controller) Start(ctx context.Context) error {
	var r *run
	var err error
	if cerr := c.call(func() { r, err = c.beginStart() }); cerr != nil {
		return cerr
	}
	if err != nil {
		return err
	}

	tunnelUp := false
	if r.config.TunnelEnabled {
		if terr := c.tunnel.Start(ctx); terr != nil {
			c.post(func() {
				c.warn(fmt.Sprintf("tunnel failed to start, falling back to the public address: %v", terr))
			})
		} else {
			tunnelUp = true
		}
	}
	if !tunnelUp {
		c.resolveAddress(ctx)
	}

	if err := c.launch(ctx, r); err != nil {
		if tunnelUp {
			c.stopTunnel()
		}
		_ = c.call(func() { c.abortStart(r, err) }) //nolint:errcheck // loop gone means nothing left to update
		return err
	}

	_ = c.call(func() { c.markRunning(r) }) //nolint:errcheck // as above
	return nil
}

func (c *Controller) beginStart() (*run, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.state != StateIdle {
		c.warn("server is already running")
		return nil, ErrAlreadyRunning
	}

	c.config = c.config.Normalize()
	c.persist()

	c.console.reset()
	c.transcript.Reset()
	c.setEndpoint("")
	c.lastOutcome = ""

	r := &run{
		id:      uuid.NewString(),
		started: time.Now(),
		config:  c.config,
		ready:   make(chan struct{}),
		exited:  make(chan struct{}),
	}
	c.current = r
	c.setState(StateStarting)
	c.appendOutput(stamp(LabelStarting, r.started))

	if c.opts.Journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		err := c.opts.Journal.CreateRun(ctx, &journal.Run{
			ID:            r.id,
			StartedAt:     r.started,
			MaxHeap:       r.config.MaxHeap,
			MinHeap:       r.config.MinHeap,
			TunnelEnabled: r.config.TunnelEnabled,
		})
		if err != nil {
			c.logger.Warn("journal run create failed", "run", r.id, "error", err)
		}
	}
	return r, nil
}

// resolveAddress publishes the fallback endpoint. Failure is a warning.
func (c *Controller) resolveAddress(ctx context.Context) {
	if c.opts.Resolver == nil {
		return
	}
	addr, err := c.opts.Resolver.Resolve(ctx)
	if err != nil {
		c.post(func() { c.warn(fmt.Sprintf("could not determine public address: %v", err)) })
		return
	}
	endpoint := addr.String()
	c.post(func() { c.setEndpoint(endpoint) })
}

// launch spawns the worker for r. Output and exit notifications are
// posted to the loop tagged with r, so a stale run never leaks into a
// newer one.
func (c *Controller) launch(ctx context.Context, r *run) error {
	if err := worker.ValidateHeap(r.config.MaxHeap); err != nil {
		return fmt.Errorf("max heap: %w", err)
	}
	if err := worker.ValidateHeap(r.config.MinHeap); err != nil {
		return fmt.Errorf("min heap: %w", err)
	}

	profile, err := worker.Resolve(c.opts.Worker)
	if err != nil {
		return err
	}

	mgr := process.NewManager(process.Config{
		Name:    worker.Name,
		Binary:  profile.Java,
		Args:    profile.BuildArgs(r.config.MaxHeap, r.config.MinHeap),
		WorkDir: profile.Dir,
		Stdin:   true,
		OnLine: func(l process.Line) {
			c.post(func() { c.handleLine(r, l) })
		},
		OnExit: func(err error) {
			c.post(func() { c.handleExit(r, err) })
		},
	})
	mgr.SetLogger(c.logger)

	if err := c.call(func() { r.worker = mgr }); err != nil {
		return err
	}
	if _, err := mgr.Start(ctx); err != nil {
		return err
	}
	return nil
}

func (c *Controller) abortStart(r *run, err error) {
	defer close(r.ready)
	if c.current != r {
		return
	}
	c.fail(fmt.Sprintf("failed to start server: %v", err))
	c.finishJournal(r, OutcomeFailed, err)
	c.current = nil
	c.lastOutcome = OutcomeFailed
	c.setState(StateIdle)
}

func (c *Controller) markRunning(r *run) {
	defer close(r.ready)
	if c.current != r {
		return
	}
	c.setState(StateRunning)

	select {
	case <-r.exited:
		c.unexpectedExit(r)
	default:
	}
}

func (c *Controller) handleLine(r *run, l process.Line) {
	if c.current != r {
		return
	}
	c.appendOutput(l.Text)
}

// handleExit runs after the worker's last output line. The synthesized
// stop line is what lets the stop protocol observe completion.
func (c *Controller) handleExit(r *run, err error) {
	if c.current != r {
		return
	}
	r.exitErr = err
	c.appendOutput(stamp(LabelStopped, time.Now()))
	close(r.exited)

	if c.state == StateRunning {
		c.unexpectedExit(r)
	}
}

func (c *Controller) unexpectedExit(r *run) {
	msg := "server exited unexpectedly"
	if r.exitErr != nil {
		msg = fmt.Sprintf("%s: %v", msg, r.exitErr)
	}
	c.warn(msg)

	req := &StopRequest{
		done:   make(chan struct{}),
		result: shutdown.Result{Outcome: shutdown.OutcomeNoProcess},
	}
	c.stopping = req
	c.setState(StateStopping)

	r.worker.Release()
	go func() {
		c.stopTunnel()
		if !c.post(func() { c.finalize(r, OutcomeExited, nil, req) }) {
			close(req.done)
		}
	}()
}

// RequestStop begins stopping the running session and returns without
// waiting. It fails with shutdown.ErrInProgress while a stop is under way,
// with ErrNotRunning unless the session is running and with
// shutdown.ErrUnsafeWindow during world generation; none of these changes
// any state.
func (c *Controller) RequestStop() (*StopRequest, error) {
	var req *StopRequest
	var err error
	if cerr := c.call(func() { req, err = c.beginStop() }); cerr != nil {
		return nil, cerr
	}
	return req, err
}

// Stop runs the stop protocol and waits until the session is idle again.
func (c *Controller) Stop(ctx context.Context) (shutdown.Result, error) {
	req, err := c.RequestStop()
	if err != nil {
		switch {
		case errors.Is(err, shutdown.ErrUnsafeWindow):
			return shutdown.Result{Outcome: shutdown.OutcomeDeferred, Err: err}, err
		case errors.Is(err, shutdown.ErrInProgress):
			return shutdown.Result{Outcome: shutdown.OutcomeInProgress, Err: err}, err
		}
		return shutdown.Result{}, err
	}

	select {
	case <-req.Done():
	case <-ctx.Done():
		return shutdown.Result{}, ctx.Err()
	}

	res := req.Result()
	switch res.Outcome {
	case shutdown.OutcomeDeferred, shutdown.OutcomeInProgress:
		return res, res.Err
	}
	return res, nil
}

func (c *Controller) beginStop() (*StopRequest, error) {
	if c.state == StateStopping {
		c.warn("stop already in progress")
		return nil, shutdown.ErrInProgress
	}
	if c.state != StateRunning {
		c.warn("server is not running")
		return nil, ErrNotRunning
	}
	if c.transcript.Unsafe() {
		c.warn("world generation in progress, stop deferred until it finishes")
		return nil, shutdown.ErrUnsafeWindow
	}

	req := &StopRequest{done: make(chan struct{})}
	c.stopping = req
	r := c.current
	c.setState(StateStopping)
	c.appendOutput(stamp(LabelStopping, time.Now()))

	go c.stopRun(r, req)
	return req, nil
}

// stopRun is the off-loop half of a stop. The loop keeps delivering
// output, and therefore signals, while the coordinator waits.
func (c *Controller) stopRun(r *run, req *StopRequest) {
	res := c.coord.Stop(r.worker, c.transcript, c)

	switch res.Outcome {
	case shutdown.OutcomeDeferred, shutdown.OutcomeInProgress:
		if !c.post(func() { c.cancelStop(r, req, res) }) {
			req.result = res
			close(req.done)
		}
		return
	}

	select {
	case <-r.exited:
	case <-time.After(exitWait):
		c.logger.Warn("worker exit notification missing after stop", "run", r.id)
	}
	c.stopTunnel()

	if !c.post(func() { c.finalize(r, string(res.Outcome), &res, req) }) {
		req.result = res
		close(req.done)
	}
}

func (c *Controller) cancelStop(r *run, req *StopRequest, res shutdown.Result) {
	defer func() {
		req.result = res
		close(req.done)
	}()
	if c.current != r || c.state != StateStopping {
		return
	}
	c.stopping = nil
	c.setState(StateRunning)
	c.warn(fmt.Sprintf("stop not performed: %v", res.Err))
}

// finalize closes out a run after a stop or an unexpected exit.
func (c *Controller) finalize(r *run, outcome string, res *shutdown.Result, req *StopRequest) {
	defer func() {
		if res != nil {
			req.result = *res
		}
		close(req.done)
	}()
	if c.current != r {
		return
	}

	c.persist()
	if res != nil {
		c.recordStopAttempt(r, res)
		if c.opts.Metrics != nil {
			c.opts.Metrics.WriteStopAttempt(string(res.Outcome), res.Duration, res.TimedOut)
		}
	}
	c.finishJournal(r, outcome, r.exitErr)

	c.lastOutcome = outcome
	c.current = nil
	c.stopping = nil
	c.setState(StateStopped)
	c.setState(StateIdle)
}

func (c *Controller) recordStopAttempt(r *run, res *shutdown.Result) {
	if c.opts.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	err := c.opts.Journal.RecordStopAttempt(ctx, &journal.StopAttempt{
		ID:          res.Attempt,
		RunID:       r.id,
		RequestedAt: time.Now().Add(-res.Duration),
		Outcome:     string(res.Outcome),
		CommandSent: res.CommandSent,
		TimedOut:    res.TimedOut,
		Duration:    res.Duration,
		Error:       errString(res.Err),
	})
	if err != nil {
		c.logger.Warn("journal stop attempt failed", "run", r.id, "error", err)
	}
}

func (c *Controller) finishJournal(r *run, outcome string, exitErr error) {
	if c.opts.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := c.opts.Journal.FinishRun(ctx, r.id, time.Now(), outcome, errString(exitErr)); err != nil {
		c.logger.Warn("journal run finish failed", "run", r.id, "error", err)
	}
}

func (c *Controller) stopTunnel() {
	if !c.tunnel.IsAlive() {
		return
	}
	if err := c.tunnel.Stop(); err != nil {
		c.post(func() { c.warn(err.Error()) })
	}
}

// CloseRequested prepares the supervisor to exit: it waits for a start in
// progress, stops a running server (or joins a stop already under way),
// stops the tunnel and persists the configuration. It refuses during world
// generation. Further starts fail with ErrClosed.
func (c *Controller) CloseRequested(ctx context.Context) error {
	for {
		var wait <-chan struct{}
		var err error
		if cerr := c.call(func() { wait, err = c.closeStep() }); cerr != nil {
			return cerr
		}
		if err != nil {
			return err
		}
		if wait == nil {
			break
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.stopTunnel()
	return nil
}

func (c *Controller) closeStep() (<-chan struct{}, error) {
	switch c.state {
	case StateStarting:
		return c.current.ready, nil
	case StateRunning:
		if c.transcript.Unsafe() {
			c.warn("world generation in progress, close refused until it finishes")
			return nil, shutdown.ErrUnsafeWindow
		}
		req, err := c.beginStop()
		if err != nil {
			return nil, err
		}
		return req.done, nil
	case StateStopping:
		return c.stopping.done, nil
	default:
		c.closed = true
		c.persist()
		return nil, nil
	}
}

// SendCommand writes a console command to the running worker. Blank
// commands, and commands while not running, are ignored.
func (c *Controller) SendCommand(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var mgr *process.Manager
	if err := c.call(func() {
		if c.state == StateRunning && c.current != nil {
			mgr = c.current.worker
		}
	}); err != nil {
		return err
	}
	if mgr == nil {
		return nil
	}

	err := mgr.SendLine(text)
	switch {
	case err == nil, errors.Is(err, process.ErrNotRunning):
		return nil
	default:
		c.post(func() { c.warn(fmt.Sprintf("sending command: %v", err)) })
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
