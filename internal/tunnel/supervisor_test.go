package tunnel

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/forgerunner/forgerunner/internal/process"
	"github.com/forgerunner/forgerunner/internal/scanner"
)

func writeAgent(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playit")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestResolve(t *testing.T) {
	agent := writeAgent(t, "exit 0")
	nonExec := filepath.Join(t.TempDir(), "playit")
	if err := os.WriteFile(nonExec, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	tests := []struct {
		name    string
		cfg     Config
		path    string
		want    string
		wantErr bool
	}{
		{
			name: "explicit path",
			cfg:  Config{Binary: agent},
			want: agent,
		},
		{
			name:    "explicit path missing",
			cfg:     Config{Binary: "/nonexistent/playit"},
			wantErr: true,
		},
		{
			name: "search path",
			cfg:  Config{Binary: "playit", SearchPaths: []string{"/nonexistent/playit", nonExec, agent}},
			want: agent,
		},
		{
			name: "from PATH",
			cfg:  Config{Binary: "playit"},
			path: filepath.Dir(agent),
			want: agent,
		},
		{
			name:    "nowhere",
			cfg:     Config{Binary: "playit", SearchPaths: []string{nonExec}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PATH", tt.path)
			got, err := New(tt.cfg, scanner.DefaultTable()).Resolve()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrBinaryNotFound) {
				t.Errorf("Resolve() error = %v, want ErrBinaryNotFound", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStartReportsEndpoint(t *testing.T) {
	agent := writeAgent(t, `echo "starting agent"
echo "tunnel running, tcp => frog-mouse.joinmc.link (minecraft-java)"
exec sleep 30`)

	s := New(Config{Binary: agent, GracefulTimeout: time.Second}, scanner.DefaultTable())

	var mu sync.Mutex
	var lines []string
	var endpoints []string
	s.OnLine(func(l process.Line) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, l.Text)
	})
	s.OnEndpoint(func(e string) {
		mu.Lock()
		defer mu.Unlock()
		endpoints = append(endpoints, e)
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })

	waitFor(t, "endpoint", func() bool { return s.Endpoint() != "" })

	if got, want := s.Endpoint(), "frog-mouse.joinmc.link"; got != want {
		t.Errorf("Endpoint() = %q, want %q", got, want)
	}
	if !s.IsAlive() {
		t.Error("IsAlive() = false, want true")
	}
	if err := s.Start(context.Background()); !errors.Is(err, process.ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	mu.Lock()
	if len(lines) != 2 {
		t.Errorf("lines = %v, want 2 lines", lines)
	}
	if len(endpoints) != 1 || endpoints[0] != "frog-mouse.joinmc.link" {
		t.Errorf("endpoints = %v, want [frog-mouse.joinmc.link]", endpoints)
	}
	mu.Unlock()

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.IsAlive() {
		t.Error("IsAlive() after Stop = true, want false")
	}
	if got := s.Stats().Status; got != process.StatusStopped {
		t.Errorf("Stats().Status = %v, want %v", got, process.StatusStopped)
	}
}

func TestStartLaunchError(t *testing.T) {
	t.Setenv("PATH", "")
	s := New(Config{Binary: "playit"}, scanner.DefaultTable())

	err := s.Start(context.Background())
	var le *process.LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("Start() error = %v, want *process.LaunchError", err)
	}
	if le.Name != Name {
		t.Errorf("LaunchError.Name = %q, want %q", le.Name, Name)
	}
	if !errors.Is(err, ErrBinaryNotFound) {
		t.Errorf("Start() error = %v, want ErrBinaryNotFound", err)
	}
}

func TestStopNotRunning(t *testing.T) {
	s := New(DefaultConfig(), scanner.DefaultTable())
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v, want nil", err)
	}
}

func TestOnExit(t *testing.T) {
	agent := writeAgent(t, "echo bye; exit 3")
	s := New(Config{Binary: agent}, scanner.DefaultTable())

	exited := make(chan error, 1)
	s.OnExit(func(err error) { exited <- err })

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case err := <-exited:
		if err == nil {
			t.Error("exit error = nil, want non-nil")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
	}
	if s.IsAlive() {
		t.Error("IsAlive() = true, want false")
	}
}
