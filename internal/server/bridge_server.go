package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pabridge-dev/pabridge/internal/api"
	"github.com/pabridge-dev/pabridge/internal/bridge"
	"github.com/pabridge-dev/pabridge/internal/eventbus"
	"github.com/pabridge-dev/pabridge/internal/transport/gateway"
	"github.com/pabridge-dev/pabridge/internal/watcher"
)

// EventsRoute is the WebSocket reload channel. Connected players and tools
// receive config and dev-process events pushed on it.
const EventsRoute = "/__vite_powerapps_plugin__/events"

// Options configures a BridgeServer.
type Options struct {
	// Addr is the listen address. Empty binds a loopback ephemeral port.
	Addr string

	// TLSCertPath and TLSKeyPath enable HTTPS when both are set.
	TLSCertPath string
	TLSKeyPath  string

	// Upstream is the base URL of an external dev server. Requests not
	// claimed by a registered route are reverse-proxied to it.
	Upstream string

	// BuildPath is a directory of built app output, served for unclaimed
	// requests when no upstream is configured.
	BuildPath string

	// Version is reported by the status endpoint.
	Version string

	// Bus carries lifecycle events into the reload channel. Optional.
	Bus *eventbus.Bus

	// DevServer controls the managed dev process. Optional.
	DevServer DevServerController

	// Settle overrides the file-watch debounce window. Zero keeps the
	// watcher default.
	Settle time.Duration
}

// BridgeServer is the HTTP face of the bridge: it owns the listener, the
// request mux, the file watcher and the reload-channel hub, and exposes the
// host hooks the bridge attaches to. A BridgeServer is single-use; create a
// fresh one after Shutdown.
type BridgeServer struct {
	cfg     Options
	mux     *http.ServeMux
	hub     *Hub
	gateway *gateway.Gateway
	watcher *watcher.Watcher
	proxy   *httputil.ReverseProxy
	static  http.Handler

	// fallbackOrigins covers upgrade checks before a bridge is attached.
	fallbackOrigins *bridge.OriginPolicy

	mu            sync.RWMutex
	handler       http.Handler
	bridge        *bridge.Bridge
	listenFns     []func()
	lastListening *eventbus.ListeningEvent
	shutdownFn    ShutdownFunc
	started       bool
	startTime     time.Time

	subs        eventbus.SubscriptionGroup
	consumers   sync.WaitGroup
	stopConsume context.CancelFunc
}

// New creates a BridgeServer. The returned server does not listen until
// Start is called, but its mux accepts route registrations immediately.
func New(opts Options) (*BridgeServer, error) {
	s := &BridgeServer{
		cfg:             opts,
		mux:             http.NewServeMux(),
		fallbackOrigins: bridge.NewOriginPolicy(nil),
	}
	s.handler = s.mux

	if opts.Upstream != "" {
		target, err := url.Parse(opts.Upstream)
		if err != nil {
			return nil, fmt.Errorf("server: invalid upstream URL %q: %w", opts.Upstream, err)
		}
		if target.Scheme != "http" && target.Scheme != "https" {
			return nil, fmt.Errorf("server: upstream URL %q must be http or https", opts.Upstream)
		}
		if target.Host == "" {
			return nil, fmt.Errorf("server: upstream URL %q has no host", opts.Upstream)
		}
		proxy := httputil.NewSingleHostReverseProxy(target)
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			log.Printf("[BridgeServer] upstream %s: %v", target.Host, err)
			writeError(w, http.StatusBadGateway, "upstream dev server unreachable")
		}
		s.proxy = proxy
	} else if opts.BuildPath != "" {
		s.static = http.FileServer(http.Dir(opts.BuildPath))
	}

	w, err := watcher.New(watcher.Options{Settle: opts.Settle, Bus: opts.Bus})
	if err != nil {
		return nil, fmt.Errorf("server: create watcher: %w", err)
	}
	s.watcher = w

	s.hub = NewHub(s.originAllowed)

	s.mux.HandleFunc("/bridge/status", s.handleStatus)
	s.mux.HandleFunc("/bridge/shutdown", s.handleShutdown)
	s.mux.HandleFunc("/bridge/restart", s.handleRestart)
	s.mux.HandleFunc(EventsRoute, s.handleEvents)
	s.mux.HandleFunc("/", s.handleRoot)

	s.gateway = gateway.New(s, gateway.Config{
		Addr:        opts.Addr,
		TLSCertPath: opts.TLSCertPath,
		TLSKeyPath:  opts.TLSKeyPath,
	})

	return s, nil
}

// SetBridge attaches the bridge whose origin policy, session and config
// cache the server reports through. Call before Start.
func (s *BridgeServer) SetBridge(b *bridge.Bridge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bridge = b
	if b != nil {
		s.handler = b.WrapCORS(s.mux)
	} else {
		s.handler = s.mux
	}
}

// SetShutdownFunc installs the process-level shutdown hook invoked by
// POST /bridge/shutdown.
func (s *BridgeServer) SetShutdownFunc(fn ShutdownFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownFn = fn
}

// ServeHTTP dispatches through the current handler chain so CORS wrapping
// applied by SetBridge takes effect without rebuilding the gateway.
func (s *BridgeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()
	h.ServeHTTP(w, r)
}

// Start binds the listener, starts the watcher and the reload hub, and runs
// the registered listening callbacks once the socket is accepting.
func (s *BridgeServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server: already started")
	}
	s.started = true
	s.startTime = time.Now()
	s.mu.Unlock()

	go s.hub.Run()

	if err := s.watcher.Start(ctx); err != nil {
		s.hub.Stop()
		return fmt.Errorf("server: start watcher: %w", err)
	}

	s.startConsumers()

	info, err := s.gateway.Start(ctx)
	if err != nil {
		s.stopConsumers()
		s.watcher.Stop()
		s.hub.Stop()
		return err
	}

	log.Printf("[BridgeServer] listening on %s://%s", info.Scheme, info.Address)
	s.fireListening()
	return nil
}

// Shutdown stops the listener, the watcher, the hub and the bus consumers.
func (s *BridgeServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	err := s.gateway.Shutdown(ctx)
	s.stopConsumers()
	s.watcher.Stop()
	s.hub.Stop()
	return err
}

// Errors surfaces listener failures after Start. The channel closes when
// the serve loop exits.
func (s *BridgeServer) Errors() <-chan error {
	return s.gateway.Errors()
}

// Hub exposes the reload-channel hub, mainly for status reporting.
func (s *BridgeServer) Hub() *Hub {
	return s.hub
}

// ---------------------------------------------------------------------------
// bridge.Host implementation
// ---------------------------------------------------------------------------

// OnListening registers fn to run after the listener binds.
func (s *BridgeServer) OnListening(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listenFns = append(s.listenFns, fn)
}

// OnFileChanged registers fn for debounced change events on path.
func (s *BridgeServer) OnFileChanged(path string, fn func()) {
	if err := s.watcher.Watch(path, fn); err != nil {
		log.Printf("[BridgeServer] watch %s: %v", path, err)
	}
}

// RegisterRequestHandler mounts handler on the mux. Registering twice for
// the same pattern panics, as with any ServeMux.
func (s *BridgeServer) RegisterRequestHandler(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// ResolvedURLs preserves the host the user configured: a hostname flag
// prints as that hostname instead of the resolved IP. Wildcard and
// unspecified binds return nil so callers fall back to the bound address.
func (s *BridgeServer) ResolvedURLs() []string {
	if s.gateway.Addr() == nil {
		return nil
	}
	host, _, err := net.SplitHostPort(s.cfg.Addr)
	if err != nil || host == "" {
		return nil
	}
	switch host {
	case "0.0.0.0", "::", "[::]":
		return nil
	}
	info := s.gateway.Info()
	return []string{info.Scheme + "://" + net.JoinHostPort(host, strconv.Itoa(info.Port))}
}

// Addr returns the bound listener address, nil until listening.
func (s *BridgeServer) Addr() net.Addr {
	return s.gateway.Addr()
}

// TLSEnabled reports whether the listener speaks TLS.
func (s *BridgeServer) TLSEnabled() bool {
	return s.gateway.TLSEnabled()
}

// Restart performs a full dev-server restart and re-runs the listening
// callbacks so the connection URL is re-resolved and re-announced.
func (s *BridgeServer) Restart(ctx context.Context) error {
	if s.cfg.DevServer != nil {
		if err := s.cfg.DevServer.Restart(ctx); err != nil {
			return fmt.Errorf("server: restart dev server: %w", err)
		}
	}
	s.fireListening()
	return nil
}

func (s *BridgeServer) fireListening() {
	s.mu.RLock()
	fns := make([]func(), len(s.listenFns))
	copy(fns, s.listenFns)
	s.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *BridgeServer) originAllowed(origin string) bool {
	s.mu.RLock()
	b := s.bridge
	s.mu.RUnlock()
	if b != nil {
		return b.Origins().Allowed(origin)
	}
	return s.fallbackOrigins.Allowed(origin)
}

// ---------------------------------------------------------------------------
// Bus consumers
// ---------------------------------------------------------------------------

// startConsumers forwards bus events onto the reload channel. Players
// reload on config.invalidated, not on the raw change event, so only the
// invalidation is broadcast.
func (s *BridgeServer) startConsumers() {
	if s.cfg.Bus == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stopConsume = cancel

	invalidated := eventbus.SubscribeTo(s.cfg.Bus, eventbus.Config.Invalidated,
		eventbus.WithSubscriptionName("server.reload"))
	devState := eventbus.SubscribeTo(s.cfg.Bus, eventbus.DevServer.State,
		eventbus.WithSubscriptionName("server.reload"))
	listening := eventbus.SubscribeTo(s.cfg.Bus, eventbus.Bridge.Listening,
		eventbus.WithSubscriptionName("server.reload"))
	s.subs.Add(invalidated, devState, listening)

	s.consumers.Add(3)
	go eventbus.Consume(ctx, invalidated, &s.consumers, func(ev eventbus.ConfigInvalidatedEvent) {
		s.hub.Broadcast("config_changed", map[string]interface{}{
			"path":   ev.Path,
			"reason": ev.Reason,
		})
	})
	go eventbus.Consume(ctx, devState, &s.consumers, func(ev eventbus.DevServerStateEvent) {
		payload := map[string]interface{}{
			"state":    string(ev.State),
			"pid":      ev.PID,
			"restarts": ev.Restarts,
		}
		if ev.ExitCode != nil {
			payload["exit_code"] = *ev.ExitCode
		}
		s.hub.Broadcast("devserver_state", payload)
	})
	go eventbus.Consume(ctx, listening, &s.consumers, func(ev eventbus.ListeningEvent) {
		s.mu.Lock()
		evCopy := ev
		s.lastListening = &evCopy
		s.mu.Unlock()
		s.hub.Broadcast("bridge_listening", map[string]interface{}{
			"session_id": ev.SessionID,
			"address":    ev.Address,
			"player_url": ev.PlayerURL,
		})
	})
}

func (s *BridgeServer) stopConsumers() {
	if s.stopConsume != nil {
		s.stopConsume()
	}
	s.subs.CloseAll()
	s.consumers.Wait()
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *BridgeServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.statusDTO())
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *BridgeServer) statusDTO() api.BridgeStatusDTO {
	st := api.BridgeStatusDTO{
		State:     "running",
		Version:   s.cfg.Version,
		PID:       os.Getpid(),
		TLS:       s.gateway.TLSEnabled(),
		Upstream:  s.cfg.Upstream,
		BuildPath: s.cfg.BuildPath,
		Clients:   s.hub.ClientCount(),
	}

	s.mu.RLock()
	if s.started {
		st.UptimeSeconds = time.Since(s.startTime).Seconds()
	}
	if s.bridge != nil {
		st.SessionID = s.bridge.SessionID()
		st.ConfigPath = s.bridge.Cache().Path()
	}
	if s.lastListening != nil {
		st.PlayerURL = s.lastListening.PlayerURL
	}
	s.mu.RUnlock()

	if addr := s.gateway.Addr(); addr != nil {
		st.Address = addr.String()
	}
	st.URLs = s.ResolvedURLs()
	if s.cfg.DevServer != nil {
		st.DevServer = api.DevServerToDTO(s.cfg.DevServer.Status())
	}
	return st
}

func (s *BridgeServer) handleShutdown(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		s.mu.RLock()
		fn := s.shutdownFn
		s.mu.RUnlock()
		if fn == nil {
			writeError(w, http.StatusServiceUnavailable, "shutdown not available")
			return
		}

		writeJSON(w, http.StatusAccepted, api.AckDTO{Status: "shutting_down"})

		// Run after the response is on the wire.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := fn(ctx); err != nil {
				log.Printf("[BridgeServer] shutdown failed: %v", err)
			}
		}()
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *BridgeServer) handleRestart(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		writeJSON(w, http.StatusAccepted, api.AckDTO{Status: "restarting"})

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.Restart(ctx); err != nil {
				log.Printf("[BridgeServer] restart failed: %v", err)
			}
		}()
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *BridgeServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.hub.HandleWebSocket(w, r)
}

// handleRoot forwards unclaimed requests to the upstream dev server when
// one is configured, serves built output when a build path is set, and
// otherwise explains that nothing is mounted.
func (s *BridgeServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if s.proxy != nil {
		s.proxy.ServeHTTP(w, r)
		return
	}
	if s.static != nil {
		s.static.ServeHTTP(w, r)
		return
	}
	writeError(w, http.StatusNotFound, "no upstream dev server or build output configured")
}
