package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/forgerunner/forgerunner/internal/infrastructure/database"
	"github.com/forgerunner/forgerunner/internal/journal"
	"github.com/forgerunner/forgerunner/internal/process"
	"github.com/forgerunner/forgerunner/internal/publicaddr"
	"github.com/forgerunner/forgerunner/internal/scanner"
	"github.com/forgerunner/forgerunner/internal/shutdown"
	"github.com/forgerunner/forgerunner/internal/store"
	"github.com/forgerunner/forgerunner/internal/tunnel"
	"github.com/forgerunner/forgerunner/internal/worker"
	_ "github.com/forgerunner/forgerunner/migrations"
)

// readyScript behaves like a server that stops cleanly on /stop.
const readyScript = `echo "args: $*"
echo "Preparing spawn area: 0%"
echo "Time elapsed: 1500 ms"
echo 'Done (2.5s)! For help, type "help"'
while read -r line; do
  echo "recv: $line"
  if [ "$line" = "/stop" ]; then
    echo "Stopping server"
    exit 0
  fi
done`

// generatingScript never leaves world generation.
const generatingScript = `echo "Preparing spawn area: 12%"
while read -r line; do
  echo "recv: $line"
done`

// finishingScript generates the world for a while and then becomes ready.
const finishingScript = `echo "Preparing spawn area: 40%"
sleep 1.5
echo "Time elapsed: 1500 ms"
echo 'For help, type "help"'
while read -r line; do
  :
done`

// stubbornScript becomes ready but ignores /stop.
const stubbornScript = `echo 'For help, type "help"'
while read -r line; do
  echo "recv: $line"
done`

// loadingScript never becomes ready.
const loadingScript = `echo "Loading libraries"
while read -r line; do
  :
done`

// crashScript becomes ready and then dies.
const crashScript = `echo 'For help, type "help"'
sleep 0.2
exit 3`

type recordingSurface struct {
	mu        sync.Mutex
	lines     []string
	endpoints []string
	states    []RunState
	warnings  []string
	errors    []string
}

func (s *recordingSurface) OutputLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *recordingSurface) EndpointChanged(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = append(s.endpoints, endpoint)
}

func (s *recordingSurface) StateChanged(state RunState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *recordingSurface) Warning(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, msg)
}

func (s *recordingSurface) Error(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, msg)
}

func (s *recordingSurface) hasWarning(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func (s *recordingSurface) stateLog() []RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RunState(nil), s.states...)
}

type fixedResolver struct {
	addr publicaddr.Address
	err  error
}

func (r fixedResolver) Resolve(context.Context) (publicaddr.Address, error) {
	return r.addr, r.err
}

type harness struct {
	ctrl    *Controller
	surface *recordingSurface
	store   *store.FileStore
	repo    *journal.SQLiteRepository
	dir     string

	cancel   context.CancelFunc // stops the loop
	loopDone chan struct{}
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func newHarness(t *testing.T, script string, mutate func(*Options)) *harness {
	t.Helper()
	dir := t.TempDir()

	java := filepath.Join(dir, "java")
	writeScript(t, java, script)
	if err := os.WriteFile(filepath.Join(dir, "server.jar"), []byte("jar"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	h := &harness{
		surface: &recordingSurface{},
		store:   store.NewFileStore(filepath.Join(dir, "AppConfig.json")),
		repo:    journal.NewSQLiteRepository(db.DB),
		dir:     dir,
	}

	opts := Options{
		Worker: worker.Config{
			Dir:        dir,
			Java:       java,
			Jar:        "server.jar",
			ServerArgs: []string{"nogui"},
		},
		Tunnel: tunnel.Config{Binary: filepath.Join(dir, "missing-playit")},
		Shutdown: shutdown.Config{
			Timeout:      3 * time.Second,
			PollInterval: 20 * time.Millisecond,
		},
		Table:   scanner.DefaultTable(),
		Store:   h.store,
		Journal: h.repo,
	}
	if mutate != nil {
		mutate(&opts)
	}

	ctrl, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctrl.AddSurface(h.surface)
	h.ctrl = ctrl

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.loopDone = make(chan struct{})
	go func() {
		defer close(h.loopDone)
		_ = ctrl.Run(ctx) //nolint:errcheck // Run only returns nil
	}()
	t.Cleanup(func() {
		cancel()
		<-h.loopDone
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) status(t *testing.T) Status {
	t.Helper()
	st, err := h.ctrl.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	return st
}

func (h *harness) waitReady(t *testing.T) {
	t.Helper()
	waitFor(t, "worker ready", func() bool {
		st := h.status(t)
		return st.State == StateRunning && st.Ready
	})
}

func (h *harness) consoleHas(t *testing.T, prefix string) bool {
	t.Helper()
	lines, err := h.ctrl.Console()
	if err != nil {
		t.Fatalf("Console() error = %v", err)
	}
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

func (h *harness) onlyRun(t *testing.T) journal.Run {
	t.Helper()
	res, err := h.repo.ListRuns(context.Background(), journal.Filter{})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(res.Runs) != 1 {
		t.Fatalf("ListRuns() returned %d runs, want 1", len(res.Runs))
	}
	return res.Runs[0]
}

func TestStartStopGraceful(t *testing.T) {
	h := newHarness(t, readyScript, nil)
	ctx := context.Background()

	if err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.waitReady(t)

	res, err := h.ctrl.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if res.Outcome != shutdown.OutcomeGraceful {
		t.Errorf("Outcome = %v, want %v", res.Outcome, shutdown.OutcomeGraceful)
	}
	if !res.CommandSent {
		t.Error("CommandSent = false, want true")
	}
	if res.TimedOut {
		t.Error("TimedOut = true, want false")
	}

	st := h.status(t)
	if st.State != StateIdle {
		t.Errorf("State = %v, want %v", st.State, StateIdle)
	}
	if st.LastOutcome != string(shutdown.OutcomeGraceful) {
		t.Errorf("LastOutcome = %q, want %q", st.LastOutcome, shutdown.OutcomeGraceful)
	}

	wantStates := []RunState{StateStarting, StateRunning, StateStopping, StateStopped, StateIdle}
	if got := h.surface.stateLog(); !equalStates(got, wantStates) {
		t.Errorf("states = %v, want %v", got, wantStates)
	}

	for _, prefix := range []string{LabelStarting, "recv: /stop", "Stopping server", LabelStopped, LabelStopping} {
		if !h.consoleHas(t, prefix) {
			t.Errorf("console has no line starting with %q", prefix)
		}
	}
	if !h.consoleHas(t, "args: -Xmx2G -Xms2G -jar "+filepath.Join(h.dir, "server.jar")+" nogui") {
		t.Error("worker was not launched with the default heap arguments")
	}

	run := h.onlyRun(t)
	if run.Outcome != string(shutdown.OutcomeGraceful) {
		t.Errorf("run.Outcome = %q, want %q", run.Outcome, shutdown.OutcomeGraceful)
	}
	if run.StoppedAt == nil {
		t.Error("run.StoppedAt = nil, want set")
	}
	attempts, err := h.repo.ListStopAttempts(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListStopAttempts() error = %v", err)
	}
	if len(attempts) != 1 || !attempts[0].CommandSent {
		t.Errorf("stop attempts = %+v, want one with the command sent", attempts)
	}

	if _, err := os.Stat(h.store.Path()); err != nil {
		t.Errorf("configuration was not persisted: %v", err)
	}
}

func TestConsoleTimestamps(t *testing.T) {
	h := newHarness(t, readyScript, nil)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.waitReady(t)
	if _, err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	re := regexp.MustCompile(`^\[SERVER (STARTING|STOPPING|STOPPED)\] \d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)
	lines, _ := h.ctrl.Console() //nolint:errcheck // loop is running
	found := 0
	for _, l := range lines {
		if strings.HasPrefix(l, "[SERVER ") {
			found++
			if !re.MatchString(l) {
				t.Errorf("console line %q does not match %s", l, re)
			}
		}
	}
	if found != 3 {
		t.Errorf("found %d lifecycle lines, want 3", found)
	}
}

func TestStartAlreadyRunning(t *testing.T) {
	h := newHarness(t, readyScript, nil)
	ctx := context.Background()

	if err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.waitReady(t)

	if err := h.ctrl.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if !h.surface.hasWarning("already running") {
		t.Error("no already-running warning surfaced")
	}

	if _, err := h.ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestStopNotRunning(t *testing.T) {
	h := newHarness(t, readyScript, nil)

	if _, err := h.ctrl.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() error = %v, want ErrNotRunning", err)
	}
	if !h.surface.hasWarning("not running") {
		t.Error("no not-running warning surfaced")
	}
	if got := h.status(t).State; got != StateIdle {
		t.Errorf("State = %v, want %v", got, StateIdle)
	}
}

func TestStopDeferredDuringWorldGeneration(t *testing.T) {
	h := newHarness(t, generatingScript, nil)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "world generation", func() bool { return h.status(t).Unsafe })

	res, err := h.ctrl.Stop(context.Background())
	if !errors.Is(err, shutdown.ErrUnsafeWindow) {
		t.Fatalf("Stop() error = %v, want ErrUnsafeWindow", err)
	}
	if res.Outcome != shutdown.OutcomeDeferred {
		t.Errorf("Outcome = %v, want %v", res.Outcome, shutdown.OutcomeDeferred)
	}
	if got := h.status(t).State; got != StateRunning {
		t.Errorf("State = %v, want %v", got, StateRunning)
	}

	// Give a stray command time to be echoed before checking.
	time.Sleep(100 * time.Millisecond)
	if h.consoleHas(t, "recv: /stop") {
		t.Error("stop command reached the worker during world generation")
	}

	if err := h.ctrl.CloseRequested(context.Background()); !errors.Is(err, shutdown.ErrUnsafeWindow) {
		t.Errorf("CloseRequested() error = %v, want ErrUnsafeWindow", err)
	}

	// The loop will not kill a generating world on exit, so end it here.
	killGroup(t, h.status(t).Worker.PID)
}

func killGroup(t *testing.T, pid int) {
	t.Helper()
	if pid == 0 {
		return
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		t.Errorf("killing worker group: %v", err)
	}
}

func TestStopWhileStoppingReturnsInProgress(t *testing.T) {
	h := newHarness(t, stubbornScript, func(o *Options) {
		o.Shutdown.Timeout = 500 * time.Millisecond
	})
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.waitReady(t)

	req, err := h.ctrl.RequestStop()
	if err != nil {
		t.Fatalf("RequestStop() error = %v", err)
	}

	res, err := h.ctrl.Stop(context.Background())
	if !errors.Is(err, shutdown.ErrInProgress) {
		t.Errorf("second Stop() error = %v, want ErrInProgress", err)
	}
	if res.Outcome != shutdown.OutcomeInProgress {
		t.Errorf("second Outcome = %v, want %v", res.Outcome, shutdown.OutcomeInProgress)
	}
	if !h.surface.hasWarning("already in progress") {
		t.Error("no already-in-progress warning surfaced")
	}
	if h.surface.hasWarning("not running") {
		t.Error("second stop reported the server as not running")
	}

	<-req.Done()
	if got := req.Result().Outcome; got != shutdown.OutcomeForced {
		t.Errorf("first Outcome = %v, want %v", got, shutdown.OutcomeForced)
	}
}

func TestLoopExitWaitsOutWorldGeneration(t *testing.T) {
	h := newHarness(t, finishingScript, nil)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "world generation", func() bool { return h.status(t).Unsafe })
	pid := h.status(t).Worker.PID

	h.cancel()
	select {
	case <-h.loopDone:
		t.Fatal("loop exited while the world was being generated")
	case <-time.After(300 * time.Millisecond):
	}
	if err := syscall.Kill(pid, 0); err != nil {
		t.Fatalf("worker killed during world generation: %v", err)
	}
	if !h.surface.hasWarning("waiting for it to finish") {
		t.Error("no world-generation warning surfaced")
	}

	select {
	case <-h.loopDone:
	case <-time.After(10 * time.Second):
		t.Fatal("loop did not exit after world generation finished")
	}
	waitFor(t, "worker gone", func() bool { return syscall.Kill(pid, 0) != nil })
}

func TestStopTimesOut(t *testing.T) {
	h := newHarness(t, stubbornScript, func(o *Options) {
		o.Shutdown.Timeout = 300 * time.Millisecond
	})

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.waitReady(t)

	res, err := h.ctrl.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if res.Outcome != shutdown.OutcomeForced {
		t.Errorf("Outcome = %v, want %v", res.Outcome, shutdown.OutcomeForced)
	}
	if !res.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if !errors.Is(res.Err, shutdown.ErrTimeoutExceeded) {
		t.Errorf("Err = %v, want ErrTimeoutExceeded", res.Err)
	}
	if got := h.status(t).State; got != StateIdle {
		t.Errorf("State = %v, want %v", got, StateIdle)
	}
}

func TestStopBeforeReadyTerminates(t *testing.T) {
	h := newHarness(t, loadingScript, nil)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "running", func() bool { return h.status(t).State == StateRunning })

	res, err := h.ctrl.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if res.Outcome != shutdown.OutcomeForced {
		t.Errorf("Outcome = %v, want %v", res.Outcome, shutdown.OutcomeForced)
	}
	if res.CommandSent {
		t.Error("CommandSent = true, want false")
	}
}

func TestUnexpectedExit(t *testing.T) {
	h := newHarness(t, crashScript, nil)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "exit handled", func() bool {
		st := h.status(t)
		return st.State == StateIdle && st.LastOutcome == OutcomeExited
	})

	if !h.surface.hasWarning("exited unexpectedly") {
		t.Error("no unexpected-exit warning surfaced")
	}
	if !h.consoleHas(t, LabelStopped) {
		t.Errorf("console has no %s line", LabelStopped)
	}

	run := h.onlyRun(t)
	if run.Outcome != OutcomeExited {
		t.Errorf("run.Outcome = %q, want %q", run.Outcome, OutcomeExited)
	}
	if run.ExitError == "" {
		t.Error("run.ExitError is empty, want the exit status")
	}

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Errorf("Start() after crash error = %v", err)
	}
}

func TestStartLaunchError(t *testing.T) {
	h := newHarness(t, readyScript, func(o *Options) {
		o.Worker.Java = "/nonexistent/java"
	})

	err := h.ctrl.Start(context.Background())
	var le *process.LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("Start() error = %v, want *process.LaunchError", err)
	}

	st := h.status(t)
	if st.State != StateIdle {
		t.Errorf("State = %v, want %v", st.State, StateIdle)
	}
	if st.LastOutcome != OutcomeFailed {
		t.Errorf("LastOutcome = %q, want %q", st.LastOutcome, OutcomeFailed)
	}
	h.surface.mu.Lock()
	nerr := len(h.surface.errors)
	h.surface.mu.Unlock()
	if nerr == 0 {
		t.Error("no error surfaced for the failed launch")
	}
	if got := h.onlyRun(t).Outcome; got != OutcomeFailed {
		t.Errorf("run.Outcome = %q, want %q", got, OutcomeFailed)
	}
}

func TestInvalidHeapRefusesStart(t *testing.T) {
	h := newHarness(t, readyScript, nil)
	if err := os.WriteFile(h.store.Path(), []byte(`{"Xmx":"lots"}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	// Reload the store the same way New does.
	h.ctrl.post(func() {
		cfg, err := h.store.Load()
		h.ctrl.reloadConfiguration(cfg, err)
	})

	err := h.ctrl.Start(context.Background())
	if !errors.Is(err, worker.ErrInvalidHeap) {
		t.Errorf("Start() error = %v, want ErrInvalidHeap", err)
	}
	if got := h.status(t).State; got != StateIdle {
		t.Errorf("State = %v, want %v", got, StateIdle)
	}
}

func TestEndpointFromResolver(t *testing.T) {
	h := newHarness(t, readyScript, func(o *Options) {
		o.Resolver = fixedResolver{addr: publicaddr.Address{Host: "203.0.113.7", Port: 25565}}
	})

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "endpoint", func() bool { return h.status(t).Endpoint == "203.0.113.7:25565" })

	if _, err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := h.onlyRun(t).Endpoint; got != "203.0.113.7:25565" {
		t.Errorf("run.Endpoint = %q, want %q", got, "203.0.113.7:25565")
	}
}

func TestTunnelFailureFallsBack(t *testing.T) {
	h := newHarness(t, readyScript, func(o *Options) {
		o.Resolver = fixedResolver{addr: publicaddr.Address{Host: "198.51.100.2"}}
	})
	if _, err := h.ctrl.SaveConfiguration(store.Configuration{TunnelEnabled: true}); err != nil {
		t.Fatalf("SaveConfiguration() error = %v", err)
	}

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "fallback endpoint", func() bool { return h.status(t).Endpoint == "198.51.100.2" })
	if !h.surface.hasWarning("tunnel failed to start") {
		t.Error("no tunnel warning surfaced")
	}

	if _, err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestTunnelEndpoint(t *testing.T) {
	var agent string
	h := newHarness(t, readyScript, func(o *Options) {
		agent = filepath.Join(o.Worker.Dir, "playit")
		o.Tunnel = tunnel.Config{Binary: agent, GracefulTimeout: time.Second}
	})
	writeScript(t, agent, `echo "tunnel running => frog-mouse.joinmc.link"
exec sleep 30`)
	if err := os.WriteFile(h.store.Path(), []byte(`{"Xmx":"1G","Xms":"512M","PlayItSupportEnabled":true,"Theme":"dark"}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	h.ctrl.post(func() {
		cfg, err := h.store.Load()
		h.ctrl.reloadConfiguration(cfg, err)
	})

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "tunnel endpoint", func() bool { return h.status(t).Endpoint == "frog-mouse.joinmc.link" })
	h.waitReady(t)
	if !h.consoleHas(t, "args: -Xmx1G -Xms512M") {
		t.Error("worker was not launched with the stored heap arguments")
	}

	if _, err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := h.status(t).Tunnel.Status; got != process.StatusStopped {
		t.Errorf("Tunnel.Status = %v, want %v", got, process.StatusStopped)
	}

	data, err := os.ReadFile(h.store.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `"Theme"`) {
		t.Errorf("unknown key dropped from %s", data)
	}
}

func TestSendCommand(t *testing.T) {
	h := newHarness(t, readyScript, nil)

	if err := h.ctrl.SendCommand("list"); err != nil {
		t.Errorf("SendCommand() while idle error = %v, want nil", err)
	}

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.waitReady(t)

	if err := h.ctrl.SendCommand("   "); err != nil {
		t.Errorf("SendCommand(blank) error = %v, want nil", err)
	}
	if err := h.ctrl.SendCommand("  say hello  "); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	waitFor(t, "echoed command", func() bool { return h.consoleHas(t, "recv: say hello") })

	if _, err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestCloseRequested(t *testing.T) {
	h := newHarness(t, readyScript, nil)
	ctx := context.Background()

	if err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.waitReady(t)

	if err := h.ctrl.CloseRequested(ctx); err != nil {
		t.Fatalf("CloseRequested() error = %v", err)
	}
	st := h.status(t)
	if st.State != StateIdle {
		t.Errorf("State = %v, want %v", st.State, StateIdle)
	}
	if st.Worker.PID != 0 {
		t.Errorf("Worker.PID = %d, want 0", st.Worker.PID)
	}
	if err := h.ctrl.Start(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after close error = %v, want ErrClosed", err)
	}
}

func TestCloseRequestedJoinsStop(t *testing.T) {
	h := newHarness(t, stubbornScript, func(o *Options) {
		o.Shutdown.Timeout = 300 * time.Millisecond
	})
	ctx := context.Background()

	if err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.waitReady(t)

	req, err := h.ctrl.RequestStop()
	if err != nil {
		t.Fatalf("RequestStop() error = %v", err)
	}
	if err := h.ctrl.CloseRequested(ctx); err != nil {
		t.Fatalf("CloseRequested() error = %v", err)
	}

	select {
	case <-req.Done():
	default:
		t.Fatal("CloseRequested() returned before the stop finished")
	}
	if got := req.Result().Outcome; got != shutdown.OutcomeForced {
		t.Errorf("Outcome = %v, want %v", got, shutdown.OutcomeForced)
	}
	attempts, err := h.repo.ListStopAttempts(ctx, h.onlyRun(t).ID)
	if err != nil {
		t.Fatalf("ListStopAttempts() error = %v", err)
	}
	if len(attempts) != 1 {
		t.Errorf("stop attempts = %d, want 1", len(attempts))
	}
}

func TestSaveConfiguration(t *testing.T) {
	h := newHarness(t, readyScript, nil)

	if _, err := h.ctrl.SaveConfiguration(store.Configuration{MaxHeap: "lots"}); !errors.Is(err, worker.ErrInvalidHeap) {
		t.Errorf("SaveConfiguration(invalid) error = %v, want ErrInvalidHeap", err)
	}

	got, err := h.ctrl.SaveConfiguration(store.Configuration{MaxHeap: " 4G ", TunnelEnabled: true})
	if err != nil {
		t.Fatalf("SaveConfiguration() error = %v", err)
	}
	want := store.Configuration{MaxHeap: "4G", MinHeap: store.DefaultHeap, TunnelEnabled: true}
	if got != want {
		t.Errorf("SaveConfiguration() = %+v, want %+v", got, want)
	}

	cur, err := h.ctrl.Configuration()
	if err != nil {
		t.Fatalf("Configuration() error = %v", err)
	}
	if cur != want {
		t.Errorf("Configuration() = %+v, want %+v", cur, want)
	}

	loaded, err := h.store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded != want {
		t.Errorf("stored = %+v, want %+v", loaded, want)
	}
}

func TestConfigurationReloadOnExternalEdit(t *testing.T) {
	h := newHarness(t, readyScript, func(o *Options) { o.WatchStore = true })

	waitFor(t, "reloaded configuration", func() bool {
		// Rewrite until the watcher is up and sees it.
		_ = os.WriteFile(h.store.Path(), []byte(`{"Xmx":"6G","Xms":"1G"}`), 0o644) //nolint:errcheck // retried
		cfg, err := h.ctrl.Configuration()
		return err == nil && cfg.MaxHeap == "6G" && cfg.MinHeap == "1G"
	})
}

func TestNewMalformedStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AppConfig.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	ctrl, err := New(Options{Store: store.NewFileStore(path)})
	if !errors.Is(err, store.ErrMalformed) {
		t.Errorf("New() error = %v, want ErrMalformed", err)
	}
	if ctrl == nil {
		t.Fatal("New() returned nil controller with a malformed store")
	}
	if ctrl.config != store.DefaultConfiguration() {
		t.Errorf("config = %+v, want defaults", ctrl.config)
	}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without store error = nil, want error")
	}
}

func TestCallAfterLoopExit(t *testing.T) {
	dir := t.TempDir()
	ctrl, err := New(Options{Store: store.NewFileStore(filepath.Join(dir, "AppConfig.json"))})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ctrl.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if _, err := ctrl.Status(); !errors.Is(err, ErrClosed) {
		t.Errorf("Status() error = %v, want ErrClosed", err)
	}
	if err := ctrl.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() error = %v, want ErrClosed", err)
	}
}

func equalStates(a, b []RunState) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
