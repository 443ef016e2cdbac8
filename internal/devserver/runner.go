package devserver

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pabridge-dev/pabridge/internal/eventbus"
	"github.com/pabridge-dev/pabridge/internal/pty"
)

const defaultStopTimeout = 10 * time.Second

// Config describes the managed dev command.
type Config struct {
	// Command is the executable to run, e.g. "npm".
	Command string

	// Args are the command arguments, e.g. ["run", "dev"].
	Args []string

	// Dir is the working directory, typically the project root.
	Dir string

	// Env holds extra KEY=VALUE entries appended to the inherited
	// environment. Later entries win on duplicate keys.
	Env []string

	// StopTimeout bounds graceful termination before the child is killed.
	StopTimeout time.Duration
}

// Status is a point-in-time snapshot of the managed process.
type Status struct {
	State    eventbus.DevServerState
	PID      int
	ExitCode *int
	Restarts int
}

// Runner manages one dev-server process under a PTY: it mirrors child
// output to registered sinks, republishes lifecycle transitions on the
// event bus and surfaces unexpected exits on an error channel.
type Runner struct {
	cfg Config
	bus *eventbus.Bus

	mu        sync.Mutex
	wrapper   *pty.Wrapper
	sinks     []pty.OutputSink
	status    Status
	stopping  bool
	watchDone chan struct{}

	errCh chan error
}

// NewRunner builds a Runner. The command is validated at Start.
func NewRunner(cfg Config, bus *eventbus.Bus) *Runner {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &Runner{
		cfg:   cfg,
		bus:   bus,
		errCh: make(chan error, 1),
	}
}

// AddSink registers sink for child output. Sinks survive restarts.
func (r *Runner) AddSink(sink pty.OutputSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, sink)
	if r.wrapper != nil {
		r.wrapper.AddSink(sink)
	}
}

// Status returns the current process snapshot.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Errors surfaces unexpected child exits.
func (r *Runner) Errors() <-chan error {
	return r.errCh
}

// Start spawns the dev command under a PTY.
func (r *Runner) Start(ctx context.Context) error {
	if strings.TrimSpace(r.cfg.Command) == "" {
		return fmt.Errorf("devserver: no command configured")
	}

	r.mu.Lock()
	if r.wrapper != nil && r.wrapper.IsRunning() {
		r.mu.Unlock()
		return fmt.Errorf("devserver: already running")
	}
	r.stopping = false
	r.status.State = eventbus.DevServerStarting
	r.status.PID = 0
	r.status.ExitCode = nil
	restarts := r.status.Restarts
	r.mu.Unlock()

	r.publish(ctx, eventbus.DevServerStateEvent{State: eventbus.DevServerStarting, Restarts: restarts})

	wrapper := pty.New()
	r.mu.Lock()
	for _, sink := range r.sinks {
		wrapper.AddSink(sink)
	}
	r.mu.Unlock()

	opts := pty.StartOptions{
		Command:    r.cfg.Command,
		Args:       r.cfg.Args,
		WorkingDir: r.cfg.Dir,
		Env:        mergedEnv(r.cfg.Env),
	}
	if err := wrapper.Start(opts); err != nil {
		r.mu.Lock()
		r.status.State = eventbus.DevServerExited
		r.mu.Unlock()
		return fmt.Errorf("devserver: start %s: %w", r.cfg.Command, err)
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.wrapper = wrapper
	r.watchDone = done
	r.mu.Unlock()

	go r.watchEvents(wrapper, done)

	return nil
}

// Shutdown terminates the child gracefully.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	wrapper := r.wrapper
	done := r.watchDone
	r.stopping = true
	r.mu.Unlock()

	if wrapper == nil {
		return nil
	}

	if err := wrapper.Stop(r.cfg.StopTimeout); err != nil {
		return fmt.Errorf("devserver: stop: %w", err)
	}

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// The capture goroutine can lose the race against Stop closing the
	// event channel, swallowing the final exit event. Record the exit
	// here when that happens so Status and subscribers stay truthful.
	r.mu.Lock()
	r.wrapper = nil
	r.watchDone = nil
	missedExit := r.status.State != eventbus.DevServerExited
	if missedExit {
		code, _ := wrapper.GetExitCode()
		r.status.State = eventbus.DevServerExited
		r.status.ExitCode = &code
	}
	exitCode := r.status.ExitCode
	pid := r.status.PID
	restarts := r.status.Restarts
	r.mu.Unlock()

	if missedExit {
		r.publish(ctx, eventbus.DevServerStateEvent{
			State:    eventbus.DevServerExited,
			PID:      pid,
			ExitCode: exitCode,
			Restarts: restarts,
		})
	}

	return nil
}

// Restart performs a full stop + start of the dev command.
func (r *Runner) Restart(ctx context.Context) error {
	log.Printf("[DevServer] restarting %s", r.cfg.Command)

	if err := r.Shutdown(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.status.Restarts++
	r.mu.Unlock()

	return r.Start(ctx)
}

func (r *Runner) watchEvents(wrapper *pty.Wrapper, done chan struct{}) {
	defer close(done)

	for ev := range wrapper.Events() {
		switch ev.Type {
		case "process_started":
			log.Printf("[DevServer] started %s (pid %d)", r.cfg.Command, ev.PID)

			r.mu.Lock()
			r.status.State = eventbus.DevServerRunning
			r.status.PID = ev.PID
			restarts := r.status.Restarts
			r.mu.Unlock()

			r.publish(context.Background(), eventbus.DevServerStateEvent{
				State:    eventbus.DevServerRunning,
				PID:      ev.PID,
				Restarts: restarts,
			})

		case "process_exited":
			exitCode := ev.ExitCode
			log.Printf("[DevServer] %s exited with code %d", r.cfg.Command, exitCode)

			r.mu.Lock()
			r.status.State = eventbus.DevServerExited
			r.status.ExitCode = &exitCode
			restarts := r.status.Restarts
			expected := r.stopping
			r.mu.Unlock()

			r.publish(context.Background(), eventbus.DevServerStateEvent{
				State:    eventbus.DevServerExited,
				PID:      ev.PID,
				ExitCode: &exitCode,
				Restarts: restarts,
			})

			if !expected {
				select {
				case r.errCh <- fmt.Errorf("devserver: %s exited unexpectedly with code %d", r.cfg.Command, exitCode):
				default:
				}
			}
		}
	}
}

func (r *Runner) publish(ctx context.Context, event eventbus.DevServerStateEvent) {
	eventbus.Publish(ctx, r.bus, eventbus.DevServer.State, eventbus.SourceDevServer, event)
}

func mergedEnv(extra []string) []string {
	if len(extra) == 0 {
		return nil // wrapper inherits os.Environ()
	}
	return append(os.Environ(), extra...)
}
