package devserver

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pabridge-dev/pabridge/internal/eventbus"
)

func skipWithoutPOSIXShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("runner tests rely on POSIX shell")
	}
}

func awaitState(t *testing.T, sub *eventbus.TypedSubscription[eventbus.DevServerStateEvent], want eventbus.DevServerState) eventbus.DevServerStateEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case env := <-sub.C():
			if env.Payload.State == want {
				return env.Payload
			}
		case <-deadline:
			t.Fatalf("timed out waiting for dev server state %q", want)
		}
	}
}

func TestRunnerLifecycleEvents(t *testing.T) {
	skipWithoutPOSIXShell(t)

	bus := eventbus.New()
	defer bus.Shutdown()

	sub := eventbus.SubscribeTo(bus, eventbus.DevServer.State)
	defer sub.Close()

	r := NewRunner(Config{
		Command:     "/bin/sh",
		Args:        []string{"-c", "sleep 5"},
		StopTimeout: time.Second,
	}, bus)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("failed to start runner: %v", err)
	}

	running := awaitState(t, sub, eventbus.DevServerRunning)
	if running.PID == 0 {
		t.Fatal("expected non-zero PID in running event")
	}

	if got := r.Status(); got.State != eventbus.DevServerRunning {
		t.Fatalf("expected running status, got %q", got.State)
	}

	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("failed to shut down runner: %v", err)
	}

	exited := awaitState(t, sub, eventbus.DevServerExited)
	if exited.ExitCode == nil {
		t.Fatal("expected exit code in exited event")
	}

	if got := r.Status(); got.State != eventbus.DevServerExited {
		t.Fatalf("expected exited status, got %q", got.State)
	}
}

func TestRunnerMirrorsOutputToSinks(t *testing.T) {
	skipWithoutPOSIXShell(t)

	sink := &recordingSink{}
	r := NewRunner(Config{
		Command:     "/bin/sh",
		Args:        []string{"-c", "printf 'dev server ready'"},
		StopTimeout: time.Second,
	}, nil)
	r.AddSink(sink)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("failed to start runner: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(sink.String(), "dev server ready") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("sink never saw child output, got %q", sink.String())
}

func TestRunnerRestart(t *testing.T) {
	skipWithoutPOSIXShell(t)

	bus := eventbus.New()
	defer bus.Shutdown()

	sub := eventbus.SubscribeTo(bus, eventbus.DevServer.State)
	defer sub.Close()

	r := NewRunner(Config{
		Command:     "/bin/sh",
		Args:        []string{"-c", "sleep 5"},
		StopTimeout: time.Second,
	}, bus)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("failed to start runner: %v", err)
	}
	first := awaitState(t, sub, eventbus.DevServerRunning)

	if err := r.Restart(ctx); err != nil {
		t.Fatalf("failed to restart runner: %v", err)
	}
	defer r.Shutdown(ctx)

	second := awaitState(t, sub, eventbus.DevServerRunning)
	if second.PID == first.PID {
		t.Fatalf("expected a fresh process after restart, PID stayed %d", second.PID)
	}
	if second.Restarts != 1 {
		t.Fatalf("expected restart counter 1, got %d", second.Restarts)
	}
	if got := r.Status(); got.Restarts != 1 {
		t.Fatalf("expected status restarts 1, got %d", got.Restarts)
	}
}

func TestRunnerUnexpectedExitSurfacesError(t *testing.T) {
	skipWithoutPOSIXShell(t)

	r := NewRunner(Config{
		Command:     "/bin/sh",
		Args:        []string{"-c", "exit 3"},
		StopTimeout: time.Second,
	}, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("failed to start runner: %v", err)
	}

	select {
	case err := <-r.Errors():
		if err == nil {
			t.Fatal("expected non-nil error for unexpected exit")
		}
		if !strings.Contains(err.Error(), "exited unexpectedly") {
			t.Fatalf("unexpected error message: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected an error after unexpected child exit")
	}

	status := r.Status()
	if status.State != eventbus.DevServerExited {
		t.Fatalf("expected exited state, got %q", status.State)
	}
	if status.ExitCode == nil || *status.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %v", status.ExitCode)
	}
}

func TestRunnerRequiresCommand(t *testing.T) {
	r := NewRunner(Config{}, nil)
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestRunnerShutdownWithoutStart(t *testing.T) {
	r := NewRunner(Config{Command: "/bin/sh"}, nil)
	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil error for shutdown without start, got %v", err)
	}
}

type recordingSink struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (r *recordingSink) Write(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Write(data)
	return nil
}

func (r *recordingSink) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}
