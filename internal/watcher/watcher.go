package watcher

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pabridge-dev/pabridge/internal/eventbus"
)

// DefaultSettle is how long a file must stay quiet before its callbacks
// run. Editor saves often arrive as a burst of writes plus a rename; the
// settle window coalesces the burst into one notification.
const DefaultSettle = 500 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	// Settle overrides DefaultSettle when positive.
	Settle time.Duration

	// Bus receives a ConfigChangedEvent per settled change. Optional.
	Bus *eventbus.Bus
}

type pendingChange struct {
	at time.Time
	op string
}

// Watcher delivers debounced change notifications for individually
// registered files. It watches parent directories rather than the files
// themselves because editors replace files by rename, which silently drops
// an inode-level watch.
type Watcher struct {
	fs     *fsnotify.Watcher
	settle time.Duration
	bus    *eventbus.Bus

	mu       sync.Mutex
	handlers map[string][]func()
	dirs     map[string]int
	pending  map[string]pendingChange
	running  bool
	stopped  bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Watcher. Call Watch to register paths, then Start.
func New(opts Options) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}

	settle := opts.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}

	return &Watcher{
		fs:       fs,
		settle:   settle,
		bus:      opts.Bus,
		handlers: make(map[string][]func()),
		dirs:     make(map[string]int),
		pending:  make(map[string]pendingChange),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch registers fn for change events on exactly path. Multiple callbacks
// may be registered for the same path; they run in registration order.
func (w *Watcher) Watch(path string, fn func()) error {
	if fn == nil {
		return fmt.Errorf("watcher: nil callback for %s", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watcher: resolve %s: %w", path, err)
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dirs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("watcher: watch %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.handlers[abs] = append(w.handlers[abs], fn)

	return nil
}

// Start launches the event loop. It is non-blocking; the loop runs until
// Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return fmt.Errorf("watcher: already stopped")
	}
	if w.running {
		return fmt.Errorf("watcher: already started")
	}
	w.running = true

	go w.run(ctx)
	return nil
}

// Stop terminates the event loop and releases the underlying watches.
// Safe to call more than once and before Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}

	if err := w.fs.Close(); err != nil {
		log.Printf("[Watcher] close: %v", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(flushInterval(w.settle))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Printf("[Watcher] error: %v", err)

		case <-ticker.C:
			w.flushSettled()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	op := opName(event.Op)
	if op == "" {
		return
	}

	path := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, watched := w.handlers[path]; !watched {
		return
	}
	w.pending[path] = pendingChange{at: time.Now(), op: op}
}

// flushSettled fires callbacks for paths whose last event is older than the
// settle window. Callbacks run outside the lock.
func (w *Watcher) flushSettled() {
	now := time.Now()

	w.mu.Lock()
	type settled struct {
		path string
		op   string
		fns  []func()
	}
	var ready []settled
	for path, change := range w.pending {
		if now.Sub(change.at) >= w.settle {
			ready = append(ready, settled{path: path, op: change.op, fns: w.handlers[path]})
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, s := range ready {
		log.Printf("[Watcher] %s (%s)", s.path, s.op)
		eventbus.Publish(context.Background(), w.bus, eventbus.Config.Changed, eventbus.SourceWatcher,
			eventbus.ConfigChangedEvent{Path: s.path, Op: s.op})
		for _, fn := range s.fns {
			fn()
		}
	}
}

func flushInterval(settle time.Duration) time.Duration {
	interval := settle / 5
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return interval
}

func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return ""
	}
}
