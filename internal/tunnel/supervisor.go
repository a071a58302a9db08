package tunnel

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/forgerunner/forgerunner/internal/process"
	"github.com/forgerunner/forgerunner/internal/scanner"
)

// Name identifies the tunnel in logs and launch errors.
const Name = "tunnel"

// Config holds the agent launch settings.
type Config struct {
	// Binary is a bare command name or a path.
	Binary string

	// SearchPaths are known install locations checked, in order, before PATH.
	SearchPaths []string

	// Args are passed to the agent unchanged.
	Args []string

	// GracefulTimeout is how long the agent gets after SIGTERM.
	GracefulTimeout time.Duration
}

// DefaultConfig returns the settings for a standard Linux playit install.
func DefaultConfig() Config {
	return Config{
		Binary: "playit",
		SearchPaths: []string{
			"/opt/playit/playit",
			"/usr/local/bin/playit",
			"/usr/bin/playit",
		},
		GracefulTimeout: 5 * time.Second,
	}
}

// Logger defines the logging interface for the supervisor.
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

// Supervisor runs at most one agent at a time.
type Supervisor struct {
	cfg    Config
	table  scanner.Table
	logger Logger

	mu         sync.RWMutex
	mgr        *process.Manager
	stopping   bool
	endpoint   string
	onLine     func(process.Line)
	onEndpoint func(string)
	onExit     func(error)
}

// New creates a supervisor that scans agent output with table.
func New(cfg Config, table scanner.Table) *Supervisor {
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultConfig().GracefulTimeout
	}
	return &Supervisor{
		cfg:    cfg,
		table:  table,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the supervisor and its process manager.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// OnLine registers a callback for every agent output line.
func (s *Supervisor) OnLine(fn func(process.Line)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLine = fn
}

// OnEndpoint registers a callback for each discovered public address.
func (s *Supervisor) OnEndpoint(fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEndpoint = fn
}

// OnExit registers a callback for agent exits that Stop did not cause.
func (s *Supervisor) OnExit(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExit = fn
}

// Resolve returns the agent binary: an explicit path, then the first
// executable search path, then PATH.
func (s *Supervisor) Resolve() (string, error) {
	bin := s.cfg.Binary
	if strings.ContainsRune(bin, os.PathSeparator) {
		if isExecutable(bin) {
			return bin, nil
		}
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, bin)
	}

	for _, p := range s.cfg.SearchPaths {
		if isExecutable(p) {
			return p, nil
		}
	}

	if bin == "" {
		return "", ErrBinaryNotFound
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBinaryNotFound, err)
	}
	return path, nil
}

// Start launches the agent. Resolution failures are *process.LaunchError.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.mgr != nil && s.mgr.IsAlive() {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", Name, process.ErrAlreadyRunning)
	}
	s.endpoint = ""
	s.stopping = false
	s.mu.Unlock()

	bin, err := s.Resolve()
	if err != nil {
		return &process.LaunchError{Name: Name, Binary: s.cfg.Binary, Err: err}
	}

	pcfg := process.DefaultConfig(Name, bin, s.cfg.Args)
	pcfg.GracefulTimeout = s.cfg.GracefulTimeout
	pcfg.OnLine = s.handleLine
	pcfg.OnExit = s.handleExit

	mgr := process.NewManager(pcfg)
	mgr.SetLogger(s.logger)

	if _, err := mgr.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.mgr = mgr
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) handleLine(line process.Line) {
	s.mu.RLock()
	onLine := s.onLine
	s.mu.RUnlock()

	if onLine != nil {
		onLine(line)
	}

	endpoint, ok := s.table.Endpoint(line.Text)
	if !ok {
		return
	}

	s.mu.Lock()
	s.endpoint = endpoint
	onEndpoint := s.onEndpoint
	s.mu.Unlock()

	s.logger.Info("tunnel endpoint discovered", "endpoint", endpoint)
	if onEndpoint != nil {
		onEndpoint(endpoint)
	}
}

func (s *Supervisor) handleExit(err error) {
	s.mu.RLock()
	onExit := s.onExit
	stopping := s.stopping
	s.mu.RUnlock()
	if onExit != nil && !stopping {
		onExit(err)
	}
}

// Stop signals the agent and releases its handle. Stopping an agent that
// is not running only logs a warning.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	mgr := s.mgr
	s.mgr = nil
	s.stopping = true
	s.mu.Unlock()

	if mgr == nil || !mgr.IsAlive() {
		s.logger.Warn("tunnel stop requested but agent is not running")
		if mgr != nil {
			mgr.Release()
		}
		return nil
	}

	err := mgr.Stop()
	mgr.Release()
	if err != nil {
		return fmt.Errorf("stopping tunnel: %w", err)
	}
	return nil
}

// IsAlive reports whether the agent is running.
func (s *Supervisor) IsAlive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mgr != nil && s.mgr.IsAlive()
}

// Endpoint returns the last address the agent announced in this run.
func (s *Supervisor) Endpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpoint
}

// Stats returns the agent process statistics.
func (s *Supervisor) Stats() process.Stats {
	s.mu.RLock()
	mgr := s.mgr
	s.mu.RUnlock()
	if mgr == nil {
		return process.Stats{Name: Name, Status: process.StatusStopped}
	}
	return mgr.Stats()
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0o111 != 0
}
