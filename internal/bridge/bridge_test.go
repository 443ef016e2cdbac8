package bridge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pabridge-dev/pabridge/internal/eventbus"
)

type fakeHost struct {
	mu           sync.Mutex
	handlers     map[string]http.Handler
	listenFns    []func()
	watchPath    string
	watchFns     []func()
	resolvedURLs []string
	addr         net.Addr
	tls          bool
	restartCalls int
	restartErr   error
}

func newFakeHost() *fakeHost {
	return &fakeHost{handlers: make(map[string]http.Handler)}
}

func (h *fakeHost) OnListening(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listenFns = append(h.listenFns, fn)
}

func (h *fakeHost) OnFileChanged(path string, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watchPath = path
	h.watchFns = append(h.watchFns, fn)
}

func (h *fakeHost) RegisterRequestHandler(pattern string, handler http.Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[pattern] = handler
}

func (h *fakeHost) ResolvedURLs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resolvedURLs
}

func (h *fakeHost) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

func (h *fakeHost) TLSEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tls
}

func (h *fakeHost) Restart(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.restartCalls++
	return h.restartErr
}

func (h *fakeHost) restarts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.restartCalls
}

func (h *fakeHost) fireListening() {
	h.mu.Lock()
	fns := append([]func(){}, h.listenFns...)
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (h *fakeHost) fireFileChanged() {
	h.mu.Lock()
	fns := append([]func(){}, h.watchFns...)
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type fakeRecorder struct {
	mu       sync.Mutex
	launches []Launch
	err      error
}

func (r *fakeRecorder) RecordLaunch(ctx context.Context, launch Launch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.launches = append(r.launches, launch)
	return nil
}

func (r *fakeRecorder) recorded() []Launch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Launch{}, r.launches...)
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "power.config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `{"environmentId":"abc-123","appId":"app-1","appDisplayName":"Demo App"}`

func newTestBridge(t *testing.T, host *fakeHost, opts Options) *Bridge {
	t.Helper()
	if opts.ConfigPath == "" {
		opts.ConfigPath = writeTestConfig(t, validConfig)
	}
	b, err := New(host, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, Options{ConfigPath: "/tmp/power.config.json"}); err == nil {
		t.Fatal("expected error for nil host")
	}
	if _, err := New(newFakeHost(), Options{}); err == nil {
		t.Fatal("expected error for empty config path")
	}
}

func TestAttachWiresHost(t *testing.T) {
	host := newFakeHost()
	b := newTestBridge(t, host, Options{})
	b.Attach()

	if host.handlers[ConfigRoute] == nil {
		t.Fatalf("expected handler registered on %s", ConfigRoute)
	}
	if host.watchPath != b.Cache().Path() {
		t.Fatalf("expected watch on %s, got %s", b.Cache().Path(), host.watchPath)
	}
	if len(host.listenFns) != 1 {
		t.Fatalf("expected one listening hook, got %d", len(host.listenFns))
	}
}

func TestConfigEndpointServesConfig(t *testing.T) {
	host := newFakeHost()
	b := newTestBridge(t, host, Options{})
	b.Attach()

	req := httptest.NewRequest(http.MethodGet, ConfigRoute, nil)
	req.Header.Set("Origin", "https://apps.powerapps.com")
	rec := httptest.NewRecorder()
	host.handlers[ConfigRoute].ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("expected no-store, got %q", cc)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://apps.powerapps.com" {
		t.Fatalf("expected origin echoed, got %q", got)
	}
	if !strings.Contains(rec.Body.String(), `"environmentId":"abc-123"`) {
		t.Fatalf("expected serialized config, got %q", rec.Body.String())
	}
}

func TestConfigEndpointPreflight(t *testing.T) {
	host := newFakeHost()
	b := newTestBridge(t, host, Options{})
	b.Attach()

	req := httptest.NewRequest(http.MethodOptions, ConfigRoute, nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	host.handlers[ConfigRoute].ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	methods := rec.Header().Get("Access-Control-Allow-Methods")
	if !strings.Contains(methods, "GET") || !strings.Contains(methods, "OPTIONS") {
		t.Fatalf("expected GET and OPTIONS in allow-methods, got %q", methods)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty preflight body, got %q", rec.Body.String())
	}
}

func TestConfigEndpointDisallowedOrigin(t *testing.T) {
	host := newFakeHost()
	b := newTestBridge(t, host, Options{})
	b.Attach()

	req := httptest.NewRequest(http.MethodGet, ConfigRoute, nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	host.handlers[ConfigRoute].ServeHTTP(rec, req)

	// The endpoint still answers; the missing CORS header makes the
	// browser block the read.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS header for disallowed origin, got %q", got)
	}
}

func TestConfigEndpointBrokenConfig(t *testing.T) {
	host := newFakeHost()
	b := newTestBridge(t, host, Options{
		ConfigPath: filepath.Join(t.TempDir(), "power.config.json"),
	})
	b.Attach()

	req := httptest.NewRequest(http.MethodGet, ConfigRoute, nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	host.handlers[ConfigRoute].ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 even with broken config, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body for broken config, got %q", rec.Body.String())
	}
}

func TestListeningComposesPlayerURL(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()

	sub := eventbus.SubscribeTo(bus, eventbus.Bridge.Listening)
	defer sub.Close()

	recorder := &fakeRecorder{}
	host := newFakeHost()
	host.resolvedURLs = []string{"http://localhost:5173/"}

	b := newTestBridge(t, host, Options{Bus: bus, History: recorder, ProjectDir: "/work/demo"})
	b.Attach()
	host.fireListening()

	var event eventbus.ListeningEvent
	select {
	case env := <-sub.C():
		event = env.Payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for listening event")
	}

	if event.SessionID != b.SessionID() {
		t.Fatalf("expected session %s, got %s", b.SessionID(), event.SessionID)
	}
	if !strings.Contains(event.PlayerURL, "/play/e/abc-123/a/local") {
		t.Fatalf("player URL missing play segment: %s", event.PlayerURL)
	}
	if !strings.Contains(event.PlayerURL, "_localAppUrl=http://localhost:5173/") {
		t.Fatalf("player URL missing local app url: %s", event.PlayerURL)
	}
	if !strings.Contains(event.PlayerURL, "_localConnectionUrl=http://localhost:5173/__vite_powerapps_plugin__/power.config.json") {
		t.Fatalf("player URL missing connection url: %s", event.PlayerURL)
	}

	parsed, err := url.Parse(event.PlayerURL)
	if err != nil {
		t.Fatalf("player URL does not parse: %v", err)
	}
	if parsed.Host != "apps.powerapps.com" {
		t.Fatalf("expected default player host, got %s", parsed.Host)
	}
	if got := parsed.Query().Get("_localAppUrl"); got != "http://localhost:5173/" {
		t.Fatalf("unexpected _localAppUrl: %q", got)
	}

	launches := recorder.recorded()
	if len(launches) != 1 {
		t.Fatalf("expected one recorded launch, got %d", len(launches))
	}
	if launches[0].EnvironmentID != "abc-123" || launches[0].ProjectDir != "/work/demo" {
		t.Fatalf("unexpected launch record: %+v", launches[0])
	}
}

func TestListeningPlayerOriginOverride(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()

	sub := eventbus.SubscribeTo(bus, eventbus.Bridge.Listening)
	defer sub.Close()

	host := newFakeHost()
	host.resolvedURLs = []string{"http://localhost:5173"}

	b := newTestBridge(t, host, Options{Bus: bus, PlayerOrigin: "https://apps.gov.powerapps.us/"})
	b.Attach()
	host.fireListening()

	select {
	case env := <-sub.C():
		if !strings.HasPrefix(env.Payload.PlayerURL, "https://apps.gov.powerapps.us/play/e/abc-123/a/local") {
			t.Fatalf("expected sovereign player base, got %s", env.Payload.PlayerURL)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for listening event")
	}
}

func TestListeningBrokenConfigPrintsNothing(t *testing.T) {
	recorder := &fakeRecorder{}
	host := newFakeHost()
	host.resolvedURLs = []string{"http://localhost:5173"}

	b := newTestBridge(t, host, Options{
		ConfigPath: filepath.Join(t.TempDir(), "power.config.json"),
		History:    recorder,
	})
	b.Attach()
	host.fireListening()

	if len(recorder.recorded()) != 0 {
		t.Fatal("expected no launch record when config is missing")
	}
}

func TestResolveBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		resolved []string
		addr     net.Addr
		tls      bool
		want     string
		wantErr  bool
	}{
		{
			name:     "resolved urls preferred",
			resolved: []string{"http://localhost:5173/"},
			addr:     &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999},
			want:     "http://localhost:5173",
		},
		{
			name: "ipv4 socket address",
			addr: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5173},
			want: "http://127.0.0.1:5173",
		},
		{
			name: "ipv6 loopback maps to localhost",
			addr: &net.TCPAddr{IP: net.ParseIP("::1"), Port: 8080},
			want: "http://localhost:8080",
		},
		{
			name: "unspecified ipv4 maps to localhost",
			addr: &net.TCPAddr{IP: net.ParseIP("0.0.0.0"), Port: 3000},
			want: "http://localhost:3000",
		},
		{
			name: "tls selects https",
			addr: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8443},
			tls:  true,
			want: "https://127.0.0.1:8443",
		},
		{
			name:    "no address at all",
			wantErr: true,
		},
		{
			name:     "blank resolved urls fall through",
			resolved: []string{"", "   "},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost()
			host.resolvedURLs = tt.resolved
			host.addr = tt.addr
			host.tls = tt.tls

			b := newTestBridge(t, host, Options{})
			got, err := b.resolveBaseURL()
			if tt.wantErr {
				if !errors.Is(err, ErrAddressUnresolvable) {
					t.Fatalf("expected ErrAddressUnresolvable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveBaseURL: %v", err)
			}
			if got != tt.want {
				t.Fatalf("resolveBaseURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigChangedInvalidatesAndRestarts(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()

	sub := eventbus.SubscribeTo(bus, eventbus.Config.Invalidated)
	defer sub.Close()

	host := newFakeHost()
	b := newTestBridge(t, host, Options{Bus: bus})
	b.Attach()

	// Prime the cache so the invalidation is observable.
	if _, err := b.Cache().Load(); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if !b.Cache().Loaded() {
		t.Fatal("expected primed cache")
	}

	host.fireFileChanged()

	if b.Cache().Loaded() {
		t.Fatal("expected cache invalidated after change event")
	}
	if host.restarts() != 1 {
		t.Fatalf("expected one full restart, got %d", host.restarts())
	}

	select {
	case env := <-sub.C():
		if env.Payload.Reason != eventbus.InvalidateFileChanged {
			t.Fatalf("unexpected invalidation reason: %s", env.Payload.Reason)
		}
		if env.Payload.Path != b.Cache().Path() {
			t.Fatalf("unexpected invalidation path: %s", env.Payload.Path)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for invalidation event")
	}
}

func TestConfigChangedRestartFailureDoesNotPanic(t *testing.T) {
	host := newFakeHost()
	host.restartErr = errors.New("spawn failed")

	b := newTestBridge(t, host, Options{})
	b.Attach()
	host.fireFileChanged()

	if host.restarts() != 1 {
		t.Fatalf("expected restart attempt, got %d", host.restarts())
	}
}

func TestRestartRecomputesURLFromFreshConfig(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()

	sub := eventbus.SubscribeTo(bus, eventbus.Bridge.Listening, eventbus.WithSubscriptionBuffer(4))
	defer sub.Close()

	path := writeTestConfig(t, validConfig)
	host := newFakeHost()
	host.resolvedURLs = []string{"http://localhost:5173"}

	b := newTestBridge(t, host, Options{ConfigPath: path, Bus: bus})
	b.Attach()

	host.fireListening()
	select {
	case env := <-sub.C():
		if !strings.Contains(env.Payload.PlayerURL, "/play/e/abc-123/") {
			t.Fatalf("unexpected first URL: %s", env.Payload.PlayerURL)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first listening event")
	}

	// Rewrite the config with a new environment, fire the change (cache
	// drop + restart request), then simulate the host's re-listen.
	if err := os.WriteFile(path, []byte(`{"environmentId":"env-two"}`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	host.fireFileChanged()
	host.fireListening()

	select {
	case env := <-sub.C():
		if !strings.Contains(env.Payload.PlayerURL, "/play/e/env-two/") {
			t.Fatalf("expected URL for new environment, got %s", env.Payload.PlayerURL)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second listening event")
	}
}

func TestWrapCORSPassesThroughNonPreflight(t *testing.T) {
	host := newFakeHost()
	b := newTestBridge(t, host, Options{})

	var reached bool
	wrapped := b.WrapCORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if !reached {
		t.Fatal("expected inner handler to run")
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected inner status, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected origin echoed, got %q", got)
	}
}
