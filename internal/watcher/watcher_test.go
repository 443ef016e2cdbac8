package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pabridge-dev/pabridge/internal/eventbus"
)

func newTestWatcher(t *testing.T, opts Options) *Watcher {
	t.Helper()

	if opts.Settle == 0 {
		opts.Settle = 50 * time.Millisecond
	}

	w, err := New(opts)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	t.Cleanup(w.Stop)

	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func waitForCount(t *testing.T, counter *atomic.Int32, want int32, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if counter.Load() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d callbacks within %v, got %d", want, timeout, counter.Load())
}

func TestWatcherCoalescesWriteBurst(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "power.config.json")
	writeFile(t, target, `{"environmentId":"one"}`)

	w := newTestWatcher(t, Options{})

	var calls atomic.Int32
	if err := w.Watch(target, func() { calls.Add(1) }); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A burst of writes inside the settle window must collapse into one
	// notification.
	for i := 0; i < 5; i++ {
		writeFile(t, target, `{"environmentId":"two"}`)
		time.Sleep(5 * time.Millisecond)
	}

	waitForCount(t, &calls, 1, 2*time.Second)

	// Give the watcher a chance to over-deliver before asserting.
	time.Sleep(200 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 callback for the burst, got %d", got)
	}

	// A later change fires again.
	writeFile(t, target, `{"environmentId":"three"}`)
	waitForCount(t, &calls, 2, 2*time.Second)
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "power.config.json")
	sibling := filepath.Join(dir, "other.json")
	writeFile(t, target, `{}`)

	w := newTestWatcher(t, Options{})

	var calls atomic.Int32
	if err := w.Watch(target, func() { calls.Add(1) }); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	writeFile(t, sibling, `{"noise":true}`)

	time.Sleep(300 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Fatalf("expected no callbacks for sibling file, got %d", got)
	}
}

func TestWatcherSeesRenameReplace(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "power.config.json")
	staging := filepath.Join(dir, "power.config.json.tmp")
	writeFile(t, target, `{"environmentId":"one"}`)

	w := newTestWatcher(t, Options{})

	var calls atomic.Int32
	if err := w.Watch(target, func() { calls.Add(1) }); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Editors commonly save via write-to-temp + rename-over-target.
	writeFile(t, staging, `{"environmentId":"two"}`)
	if err := os.Rename(staging, target); err != nil {
		t.Fatalf("failed to rename over target: %v", err)
	}

	waitForCount(t, &calls, 1, 2*time.Second)
}

func TestWatcherPublishesChangeEvents(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "power.config.json")
	writeFile(t, target, `{}`)

	bus := eventbus.New()
	defer bus.Shutdown()

	sub := eventbus.SubscribeTo(bus, eventbus.Config.Changed)
	defer sub.Close()

	w := newTestWatcher(t, Options{Bus: bus})
	if err := w.Watch(target, func() {}); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	writeFile(t, target, `{"environmentId":"changed"}`)

	select {
	case env := <-sub.C():
		if env.Payload.Path != target {
			t.Fatalf("expected event path %s, got %s", target, env.Payload.Path)
		}
		if env.Payload.Op == "" {
			t.Fatal("expected a named op on the change event")
		}
		if env.Source != eventbus.SourceWatcher {
			t.Fatalf("expected watcher source, got %s", env.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a config.changed event")
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "power.config.json")
	writeFile(t, target, `{}`)

	w := newTestWatcher(t, Options{})
	if err := w.Watch(target, func() {}); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	w.Stop()
	w.Stop()
}

func TestWatcherRejectsNilCallback(t *testing.T) {
	w := newTestWatcher(t, Options{})

	if err := w.Watch("somewhere.json", nil); err == nil {
		t.Fatal("expected error for nil callback")
	}
}

func TestWatcherStartTwice(t *testing.T) {
	w := newTestWatcher(t, Options{})

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
}
