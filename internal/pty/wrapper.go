package pty

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ptyDevice "github.com/creack/pty"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/pabridge-dev/pabridge/internal/procutil"
)

// StartOptions describes the child process to run under a PTY.
type StartOptions struct {
	Command    string   // executable, e.g. "npm"
	Args       []string // arguments, e.g. ["run", "dev"]
	WorkingDir string   // working directory, typically the project root
	Env        []string // full environment; empty inherits the parent env
	Rows       uint16   // terminal rows; 0 copies the caller's terminal
	Cols       uint16   // terminal columns; 0 copies the caller's terminal
}

// Event is a child-process lifecycle notification.
type Event struct {
	Type      string // "process_started", "process_exited"
	Timestamp time.Time
	PID       int
	ExitCode  int
}

// Wrapper runs one child under a PTY, retains a bounded slice of its
// output and fans captured bytes out to registered sinks. Dev servers
// change behaviour without a terminal attached (no colors, line
// buffering, some drop watch mode entirely), hence a PTY and not a pipe.
type Wrapper struct {
	ptmx *os.File

	cmd   *exec.Cmd
	cmdMu sync.RWMutex

	rows atomic.Int32
	cols atomic.Int32

	retained    *bytes.Buffer
	retainedMu  sync.RWMutex
	retainLimit int

	sinks   []OutputSink
	sinksMu sync.RWMutex

	events     chan Event
	eventsMu   sync.RWMutex
	eventsDone bool

	running      atomic.Bool
	exit         atomic.Int32
	waitOnce     sync.Once
	closePTYOnce sync.Once
	pid          int
}

// New creates a wrapper retaining up to 1 MiB of child output.
func New() *Wrapper {
	return &Wrapper{
		retained:    bytes.NewBuffer(nil),
		retainLimit: 1024 * 1024,
		events:      make(chan Event, 100),
	}
}

// Start launches the command under a PTY. A command that is not on PATH
// is retried through an interactive login shell, so version managers
// that hook shell startup (nvm and friends) still resolve it.
func (w *Wrapper) Start(opts StartOptions) error {
	command, args, err := resolveCommand(opts)
	if err != nil {
		return err
	}

	w.cmd = exec.Command(command, args...)
	if opts.WorkingDir != "" {
		w.cmd.Dir = opts.WorkingDir
	}
	w.cmd.Env = childEnv(opts.Env)

	w.ptmx, err = ptyDevice.Start(w.cmd)
	if err != nil {
		return err
	}

	rows, cols := int(opts.Rows), int(opts.Cols)
	if rows == 0 || cols == 0 {
		if terminal.IsTerminal(0) {
			cols, rows, _ = terminal.GetSize(0)
		}
		if cols == 0 {
			cols = 80
		}
		if rows == 0 {
			rows = 24
		}
	}
	w.SetWinSize(rows, cols)

	w.running.Store(true)
	w.exit.Store(-1)
	w.waitOnce = sync.Once{}
	w.closePTYOnce = sync.Once{}
	if w.cmd.Process != nil {
		w.pid = w.cmd.Process.Pid
	}

	w.emit(Event{
		Type:      "process_started",
		Timestamp: time.Now(),
		PID:       w.pid,
	})

	go w.captureLoop()

	return nil
}

// resolveCommand checks PATH for the command and, failing that, probes
// an interactive shell for it. When the shell finds it, the whole
// command line is re-run through that shell.
func resolveCommand(opts StartOptions) (string, []string, error) {
	if _, err := exec.LookPath(opts.Command); err == nil {
		return opts.Command, opts.Args, nil
	}

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/bash"
	}

	probe := exec.Command(shell, "-i", "-c", "command -v "+opts.Command)
	if opts.WorkingDir != "" {
		probe.Dir = opts.WorkingDir
	}
	out, err := probe.Output()
	if err != nil || len(out) == 0 {
		return "", nil, fmt.Errorf("command not found: %s", opts.Command)
	}

	line := opts.Command
	for _, arg := range opts.Args {
		line += " " + shellEscape(arg)
	}
	return shell, []string{"-i", "-l", "-c", line}, nil
}

// childEnv fills in TERM and LANG when the caller's environment lacks
// them; dev servers probe both to decide on colors and unicode output.
func childEnv(env []string) []string {
	if len(env) == 0 {
		env = os.Environ()
	}

	var haveTerm, haveLang bool
	for _, kv := range env {
		if strings.HasPrefix(kv, "TERM=") {
			haveTerm = true
		}
		if strings.HasPrefix(kv, "LANG=") || strings.HasPrefix(kv, "LC_ALL=") {
			haveLang = true
		}
	}

	if !haveTerm {
		env = append(env, "TERM=xterm-256color")
	}
	if !haveLang {
		env = append(env, "LANG=C.UTF-8")
	}
	return env
}

func shellEscape(s string) string {
	if strings.ContainsAny(s, " \t\n'\"\\$`!*?#~&|;<>()[]{}") {
		return "'" + strings.Replace(s, "'", "'\\''", -1) + "'"
	}
	return s
}

// Stop terminates the child gracefully, escalating to SIGKILL after the
// timeout. Stopping a child that already exited is a no-op.
func (w *Wrapper) Stop(timeout time.Duration) error {
	if !w.running.Load() {
		return nil
	}

	// Closing the PTY fd last unblocks a captureLoop parked in Read and
	// releases the descriptor.
	defer w.closePTY()

	w.cmdMu.RLock()
	cmd := w.cmd
	w.cmdMu.RUnlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := procutil.GracefulTerminate(cmd.Process); err != nil {
		return err
	}

	reaped := make(chan error, 1)
	go func() {
		reaped <- w.reap()
	}()

	select {
	case err := <-reaped:
		w.running.Store(false)
		w.closeEvents()
		return ignoreExitError(err)

	case <-time.After(timeout):
		w.cmdMu.RLock()
		cmd := w.cmd
		w.cmdMu.RUnlock()
		if cmd == nil || cmd.Process == nil {
			return nil
		}
		if err := cmd.Process.Kill(); err != nil {
			return err
		}
		w.running.Store(false)
		w.closeEvents()
		return ignoreExitError(<-reaped)
	}
}

// ignoreExitError filters the ExitError a terminated child reports back
// through Wait. The caller asked for the termination, so a non-zero
// exit is not a stop failure.
func ignoreExitError(err error) error {
	var exitErr *exec.ExitError
	if err != nil && errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// reap waits for the child exactly once and records its exit code.
func (w *Wrapper) reap() error {
	var waitErr error
	w.waitOnce.Do(func() {
		w.cmdMu.Lock()
		defer w.cmdMu.Unlock()

		if w.cmd == nil {
			w.exit.Store(-1)
			return
		}

		waitErr = w.cmd.Wait()

		if state := w.cmd.ProcessState; state != nil {
			w.exit.Store(int32(state.ExitCode()))
		} else {
			w.exit.Store(-1)
		}
	})
	return waitErr
}

// closePTY closes the PTY descriptor exactly once.
func (w *Wrapper) closePTY() {
	w.closePTYOnce.Do(func() {
		if w.ptmx != nil {
			w.ptmx.Close()
		}
	})
}

// IsRunning reports whether the child is still alive.
func (w *Wrapper) IsRunning() bool {
	return w.running.Load()
}

// GetExitCode returns the recorded exit code, -1 while still running.
func (w *Wrapper) GetExitCode() (int, error) {
	if w.running.Load() {
		return -1, nil
	}
	return int(w.exit.Load()), nil
}

// Events returns the lifecycle channel. It is closed after the child
// has exited and been reaped.
func (w *Wrapper) Events() <-chan Event {
	w.eventsMu.RLock()
	defer w.eventsMu.RUnlock()
	return w.events
}

// emit delivers an event without blocking; a full channel drops it.
func (w *Wrapper) emit(event Event) {
	w.eventsMu.RLock()
	defer w.eventsMu.RUnlock()

	if w.eventsDone {
		return
	}
	select {
	case w.events <- event:
	default:
	}
}

func (w *Wrapper) closeEvents() {
	w.eventsMu.Lock()
	defer w.eventsMu.Unlock()
	if !w.eventsDone {
		close(w.events)
		w.eventsDone = true
	}
}
