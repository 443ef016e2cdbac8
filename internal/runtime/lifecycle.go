package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Service is a unit the host can start and stop: the bridge HTTP server
// and the dev-server runner both satisfy it.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Lifecycle is the process-wide shutdown latch. The serve loop selects
// on Done; the HTTP shutdown endpoint and the signal handler both trip
// it through Shutdown.
type Lifecycle struct {
	once sync.Once
	quit chan struct{}
}

// NewLifecycle returns an armed lifecycle latch.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{quit: make(chan struct{})}
}

// Done is closed once shutdown has been requested.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.quit
}

// Shutdown requests process shutdown. Repeat calls are no-ops.
func (l *Lifecycle) Shutdown() {
	l.once.Do(func() { close(l.quit) })
}

// WritePIDFile records pid at path, creating parent directories as
// needed. The file is owner-only; stop reads it back to signal a bridge
// whose control endpoint is gone.
func WritePIDFile(path string, pid int) error {
	if path == "" {
		return fmt.Errorf("runtime: pid file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("runtime: create pid directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return fmt.Errorf("runtime: write pid file: %w", err)
	}
	return nil
}

// ReadPIDFile returns the pid recorded at path. Garbage and non-positive
// values are errors so a corrupt file never signals pid 0.
func ReadPIDFile(path string) (int, error) {
	if path == "" {
		return 0, fmt.Errorf("runtime: pid file path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("runtime: malformed pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("runtime: pid %d in %s out of range", pid, path)
	}
	return pid, nil
}

// RemovePIDFile deletes the pid file, ignoring a file that is already
// gone.
func RemovePIDFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
