package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const defaultShutdownTimeout = 5 * time.Second

// ServiceFactory builds a service instance. It runs on every start and
// again on every restart, so factories must be reentrant.
type ServiceFactory func(ctx context.Context) (Service, error)

// Option configures a single registration.
type Option func(*registration)

// WithShutdownTimeout bounds how long the host waits for this service
// to shut down before moving on.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(reg *registration) {
		reg.stopTimeout = timeout
	}
}

type registration struct {
	name        string
	factory     ServiceFactory
	service     Service
	stopTimeout time.Duration
	forwarding  bool
}

// ServiceHost runs the bridge's long-lived services. Registration order
// is start order; shutdown walks the same list in reverse so the HTTP
// server goes down before the dev-server runner it fronts. Fatal errors
// from any running service surface on one shared channel.
type ServiceHost struct {
	mu      sync.Mutex
	names   []string
	byName  map[string]*registration
	started bool
	cancel  context.CancelFunc
	runCtx  context.Context
	errs    chan error
}

// NewServiceHost returns an empty host.
func NewServiceHost() *ServiceHost {
	return &ServiceHost{
		byName: make(map[string]*registration),
		errs:   make(chan error, 1),
	}
}

// Register adds a named service factory. Registration is rejected after
// Start, and names must be unique.
func (h *ServiceHost) Register(name string, factory ServiceFactory, opts ...Option) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return fmt.Errorf("runtime: register %q: host already started", name)
	}
	if _, dup := h.byName[name]; dup {
		return fmt.Errorf("runtime: service %q already registered", name)
	}

	reg := &registration{
		name:        name,
		factory:     factory,
		stopTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(reg)
	}

	h.byName[name] = reg
	h.names = append(h.names, name)
	return nil
}

// Errors surfaces fatal errors from running services.
func (h *ServiceHost) Errors() <-chan error {
	return h.errs
}

// Start builds and starts every registered service in registration
// order. On failure the services already running are shut down in
// reverse before the error is returned.
func (h *ServiceHost) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("runtime: service host already started")
	}
	h.started = true
	h.runCtx, h.cancel = context.WithCancel(ctx)
	h.mu.Unlock()

	var running []*registration
	for _, name := range h.names {
		reg := h.lookup(name)
		if reg == nil {
			continue
		}

		svc, err := reg.factory(h.runCtx)
		if err != nil {
			h.rollback(running)
			return fmt.Errorf("runtime: build service %q: %w", name, err)
		}
		if err := svc.Start(h.runCtx); err != nil {
			h.rollback(running)
			return fmt.Errorf("runtime: start service %q: %w", name, err)
		}

		reg.service = svc
		h.forwardErrors(reg)
		running = append(running, reg)
	}

	return nil
}

// Stop shuts services down in reverse registration order. Each service
// gets its own timeout; the last failure wins as the returned error.
func (h *ServiceHost) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var lastErr error
	for i := len(h.names) - 1; i >= 0; i-- {
		reg := h.lookup(h.names[i])
		if reg == nil || reg.service == nil {
			continue
		}
		if err := h.stopService(ctx, reg); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Restart shuts down one named service and rebuilds it through its
// factory. The watcher's full dev-server restart lands here.
func (h *ServiceHost) Restart(ctx context.Context, name string) error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return fmt.Errorf("runtime: restart %q: host not started", name)
	}
	reg := h.byName[name]
	h.mu.Unlock()

	if reg == nil {
		return fmt.Errorf("runtime: service %q not registered", name)
	}

	if reg.service != nil {
		if err := h.stopService(ctx, reg); err != nil {
			return err
		}
	}

	svc, err := reg.factory(h.runCtx)
	if err != nil {
		return fmt.Errorf("runtime: rebuild service %q: %w", name, err)
	}
	if err := svc.Start(h.runCtx); err != nil {
		return fmt.Errorf("runtime: restart %q: %w", name, err)
	}

	reg.service = svc
	h.forwardErrors(reg)
	return nil
}

func (h *ServiceHost) lookup(name string) *registration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byName[name]
}

// stopService shuts one service down under its registration timeout and
// clears its slot. Context cancellation during an orderly stop is not an
// error.
func (h *ServiceHost) stopService(ctx context.Context, reg *registration) error {
	timeout := reg.stopTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	err := reg.service.Shutdown(stopCtx)
	cancel()

	reg.service = nil
	reg.forwarding = false

	if err != nil && err != context.Canceled {
		return fmt.Errorf("runtime: shutdown service %q: %w", reg.name, err)
	}
	return nil
}

// forwardErrors drains the service's error channel, if it exposes one,
// into the host's shared channel. The shared channel holds one error;
// later errors are dropped since the first is already fatal to the
// serve loop.
func (h *ServiceHost) forwardErrors(reg *registration) {
	if reg.service == nil || reg.forwarding {
		return
	}

	observable, ok := reg.service.(interface{ Errors() <-chan error })
	if !ok {
		return
	}
	reg.forwarding = true

	go func(name string, ch <-chan error) {
		for err := range ch {
			if err == nil {
				continue
			}
			select {
			case h.errs <- fmt.Errorf("%s service error: %w", name, err):
			default:
			}
		}
	}(reg.name, observable.Errors())
}

// rollback unwinds partially started services after a Start failure.
func (h *ServiceHost) rollback(running []*registration) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	for i := len(running) - 1; i >= 0; i-- {
		if running[i].service != nil {
			running[i].service.Shutdown(ctx)
			running[i].service = nil
			running[i].forwarding = false
		}
	}
}
