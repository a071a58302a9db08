package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// killWait bounds how long Terminate waits for the process to be reaped.
const killWait = 5 * time.Second

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the executable. A bare name is resolved through PATH.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the process.
	// If empty, inherits from parent process.
	WorkDir string

	// Stdin keeps a pipe to the child's standard input for SendLine.
	Stdin bool

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// OnLine receives each output line.
	OnLine LineFunc

	// OnExit is called once per handle, after both output streams have
	// drained and the process has been reaped.
	OnExit func(err error)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:            name,
		Binary:          binary,
		Args:            args,
		GracefulTimeout: 10 * time.Second,
	}
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handle is a spawned process. It stays valid after exit until released.
type Handle struct {
	pid     int
	started time.Time
	done    chan struct{}
	err     error
}

// PID returns the operating system process id.
func (h *Handle) PID() int { return h.pid }

// Started returns when the process was spawned.
func (h *Handle) Started() time.Time { return h.started }

// Done is closed once the process has exited and its output has drained.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Alive reports whether the process has not exited yet.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Err returns the exit error. Only meaningful once Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Manager manages the lifecycle of one subprocess at a time.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	writeMu       sync.Mutex // serializes stdin writes; never held with mu
	handle        *Handle
	stdin         io.WriteCloser
	status        Status
	lastError     error
	stopRequested bool
}

// NewManager creates a new process manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Name returns the configured process name.
func (m *Manager) Name() string {
	return m.config.Name
}

// Start resolves the binary and spawns it. Output delivery and exit
// notification begin immediately. The child is not bound to ctx: it keeps
// running until it exits or is stopped, ctx only aborts a launch that has
// not happened yet.
func (m *Manager) Start(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{Name: m.config.Name, Binary: m.config.Binary, Err: err}
	}

	m.mu.Lock()
	if m.handle != nil && m.handle.Alive() {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", m.config.Name, ErrAlreadyRunning)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.mu.Unlock()

	h, err := m.startProcess()
	if err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		m.mu.Unlock()
		return nil, err
	}
	return h, nil
}

func (m *Manager) startProcess() (*Handle, error) {
	launchErr := func(err error) error {
		return &LaunchError{Name: m.config.Name, Binary: m.config.Binary, Err: err}
	}

	path, err := exec.LookPath(m.config.Binary)
	if err != nil {
		return nil, launchErr(err)
	}

	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", path,
		"args", m.config.Args,
	)

	cmd := exec.Command(path, m.config.Args...) //nolint:gosec // binary comes from operator configuration

	// Create a new process group so we can signal all children on shutdown
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	var stdin io.WriteCloser
	if m.config.Stdin {
		if stdin, err = cmd.StdinPipe(); err != nil {
			return nil, launchErr(fmt.Errorf("creating stdin pipe: %w", err))
		}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, launchErr(fmt.Errorf("creating stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, launchErr(fmt.Errorf("creating stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return nil, launchErr(err)
	}

	h := &Handle{
		pid:     cmd.Process.Pid,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.handle = h
	m.stdin = stdin
	m.status = StatusRunning
	m.lastError = nil
	m.mu.Unlock()

	var readers sync.WaitGroup
	readers.Add(2)
	go m.capture(&readers, StreamStdout, stdout)
	go m.capture(&readers, StreamStderr, stderr)
	go m.wait(h, cmd, &readers)

	m.logger.Info("process started",
		"name", m.config.Name,
		"pid", h.pid,
	)

	return h, nil
}

// capture forwards lines from one stream. If the scanner gives up on an
// oversized line the rest of the stream is discarded so the child never
// blocks on a full pipe.
func (m *Manager) capture(wg *sync.WaitGroup, stream Stream, r io.Reader) {
	defer wg.Done()
	if err := readLines(stream, r, m.config.OnLine); err != nil {
		m.logger.Warn("output stream read failed",
			"name", m.config.Name,
			"stream", stream,
			"error", err,
		)
		_, _ = io.Copy(io.Discard, r)
	}
}

// wait reaps the process after both readers are done; cmd.Wait closes the
// pipes so it must not run earlier.
func (m *Manager) wait(h *Handle, cmd *exec.Cmd, readers *sync.WaitGroup) {
	readers.Wait()
	err := cmd.Wait()

	m.mu.Lock()
	stopRequested := m.stopRequested
	switch {
	case stopRequested || err == nil:
		m.status = StatusStopped
	default:
		m.status = StatusFailed
		m.lastError = err
	}
	if m.handle == h && m.stdin != nil {
		_ = m.stdin.Close()
		m.stdin = nil
	}
	h.err = err
	close(h.done)
	m.mu.Unlock()

	if stopRequested {
		m.logger.Info("process stopped as requested", "name", m.config.Name, "pid", h.pid)
	} else if err != nil {
		m.logger.Warn("process exited unexpectedly", "name", m.config.Name, "pid", h.pid, "error", err)
	} else {
		m.logger.Info("process exited", "name", m.config.Name, "pid", h.pid)
	}

	if m.config.OnExit != nil {
		m.config.OnExit(err)
	}
}

// SendLine writes text and a newline to the child's stdin. The write runs
// outside the manager lock, so a child that stops reading cannot hold up
// Terminate; Terminate closes stdin, which fails a blocked write.
func (m *Manager) SendLine(text string) error {
	m.mu.RLock()
	alive := m.handle != nil && m.handle.Alive()
	stdin := m.stdin
	m.mu.RUnlock()
	if !alive || stdin == nil {
		return ErrNotRunning
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if _, err := io.WriteString(stdin, text+"\n"); err != nil {
		if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) {
			return ErrNotRunning
		}
		return fmt.Errorf("writing to %s stdin: %w", m.config.Name, err)
	}
	return nil
}

// Terminate kills the process group and waits briefly for the exit to be
// reaped. Terminating a process that has already exited, or was never
// started, is a no-op.
func (m *Manager) Terminate() error {
	m.mu.Lock()
	h := m.handle
	if h == nil || !h.Alive() {
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	stdin := m.stdin
	m.mu.Unlock()

	m.logger.Info("killing process", "name", m.config.Name, "pid", h.pid)
	killErr := syscall.Kill(-h.pid, syscall.SIGKILL)
	if stdin != nil {
		_ = stdin.Close()
	}
	if killErr != nil && !errors.Is(killErr, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, killErr)
	}

	select {
	case <-h.done:
	case <-time.After(killWait):
		m.logger.Warn("process not reaped after kill", "name", m.config.Name, "pid", h.pid)
	}
	return nil
}

// Stop sends SIGTERM to the process group, waits GracefulTimeout and then
// sends SIGKILL. Used for children that have no console stop command.
func (m *Manager) Stop() error {
	m.mu.Lock()
	h := m.handle
	if h == nil || !h.Alive() {
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	m.mu.Unlock()

	m.logger.Info("stopping process", "name", m.config.Name, "pid", h.pid)

	// Send SIGTERM to the entire process group for graceful shutdown
	if err := syscall.Kill(-h.pid, syscall.SIGTERM); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			m.logger.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
		}
	}

	select {
	case <-h.done:
		m.logger.Info("process stopped gracefully", "name", m.config.Name)
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
	}

	return m.Terminate()
}

// Release drops the current handle, killing the process first if it is
// still alive. A later Start spawns a fresh handle.
func (m *Manager) Release() {
	if m.IsAlive() {
		if err := m.Terminate(); err != nil {
			m.logger.Warn("terminate during release failed", "name", m.config.Name, "error", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stdin != nil {
		_ = m.stdin.Close()
		m.stdin = nil
	}
	m.handle = nil
}

// Handle returns the current handle, or nil after Release.
func (m *Manager) Handle() *Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle
}

// IsAlive reports whether the current handle's process is running.
func (m *Manager) IsAlive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle != nil && m.handle.Alive()
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the last error that caused the process to exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// Uptime returns how long the process has been running.
// Returns 0 if the process is not running.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.handle == nil || !m.handle.Alive() {
		return 0
	}
	return time.Since(m.handle.started)
}

// PID returns the process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.handle != nil && m.handle.Alive() {
		return m.handle.pid
	}
	return 0
}

// Stats returns statistics about the managed process.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:   m.config.Name,
		Status: m.status,
	}

	if m.handle != nil && m.handle.Alive() {
		stats.PID = m.handle.pid
		stats.Uptime = time.Since(m.handle.started)
	}

	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}

	return stats
}
