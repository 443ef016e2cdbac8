package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pabridge-dev/pabridge/internal/config"
	"github.com/pabridge-dev/pabridge/internal/eventbus"
)

// ConfigRoute is the fixed path the hosted player probes for the local
// config. Kept verbatim for compatibility with the player's probe logic.
const ConfigRoute = "/__vite_powerapps_plugin__/power.config.json"

// DefaultPlayerOrigin is the commercial-cloud player. Sovereign clouds
// override it with --player-origin.
const DefaultPlayerOrigin = "https://apps.powerapps.com"

// ErrAddressUnresolvable means no usable local base URL could be derived
// from the host at listen time.
var ErrAddressUnresolvable = errors.New("local server address unresolvable")

const restartTimeout = 30 * time.Second

// Launch captures one bridge session for the history store.
type Launch struct {
	SessionID      string
	ProjectDir     string
	EnvironmentID  string
	AppID          string
	AppDisplayName string
	PlayerURL      string
	StartedAt      time.Time
}

// LaunchRecorder persists launches. Recording is best-effort: the bridge
// logs a failure and keeps serving.
type LaunchRecorder interface {
	RecordLaunch(ctx context.Context, launch Launch) error
}

// Options configures a Bridge.
type Options struct {
	// ConfigPath is the absolute path of the power config file. Required.
	ConfigPath string

	// ProjectDir is the project root recorded in launch history.
	ProjectDir string

	// PlayerOrigin overrides DefaultPlayerOrigin when non-empty.
	PlayerOrigin string

	// ExtraOrigins are additional exact origins granted CORS access on top
	// of the builtin table.
	ExtraOrigins []string

	// Bus carries lifecycle events. Optional; nil skips publishing.
	Bus *eventbus.Bus

	// History records launches. Optional.
	History LaunchRecorder
}

// Bridge connects a local dev server to the hosted player: it serves the
// power config with CORS on the fixed route, prints the player connection
// URL once the host is listening, and forces a full dev-server restart when
// the config file changes.
type Bridge struct {
	host    Host
	cache   *config.Cache
	origins *OriginPolicy

	sessionID    string
	projectDir   string
	playerOrigin string

	bus     *eventbus.Bus
	history LaunchRecorder
}

// New builds a Bridge around host. Call Attach to wire the host hooks.
func New(host Host, opts Options) (*Bridge, error) {
	if host == nil {
		return nil, fmt.Errorf("bridge: host is required")
	}
	if strings.TrimSpace(opts.ConfigPath) == "" {
		return nil, fmt.Errorf("bridge: config path is required")
	}

	playerOrigin := strings.TrimRight(strings.TrimSpace(opts.PlayerOrigin), "/")
	if playerOrigin == "" {
		playerOrigin = DefaultPlayerOrigin
	}

	return &Bridge{
		host:         host,
		cache:        config.NewCache(opts.ConfigPath),
		origins:      NewOriginPolicy(opts.ExtraOrigins),
		sessionID:    uuid.NewString(),
		projectDir:   opts.ProjectDir,
		playerOrigin: playerOrigin,
		bus:          opts.Bus,
		history:      opts.History,
	}, nil
}

// Attach registers the config endpoint, the listen hook and the config-file
// watch on the host. Call once, before the host starts listening.
func (b *Bridge) Attach() {
	b.host.RegisterRequestHandler(ConfigRoute, b.ConfigHandler())
	b.host.OnListening(b.handleListening)
	b.host.OnFileChanged(b.cache.Path(), b.handleConfigChanged)
}

// SessionID returns the per-run identifier stamped on events and history.
func (b *Bridge) SessionID() string {
	return b.sessionID
}

// Cache exposes the config cache. The status endpoint and CLI config
// commands read through it so they observe the same slot the player does.
func (b *Bridge) Cache() *config.Cache {
	return b.cache
}

// Origins exposes the origin policy for CORS middleware and the WebSocket
// upgrader's origin check.
func (b *Bridge) Origins() *OriginPolicy {
	return b.origins
}

// PlayerOrigin returns the hosted player base in effect.
func (b *Bridge) PlayerOrigin() string {
	return b.playerOrigin
}

// WrapCORS adds CORS headers for allowed origins and terminates preflight
// with 204. Disallowed origins get no CORS headers but requests still pass
// through: the browser enforces the block, the bridge stays debuggable
// with curl.
func (b *Bridge) WrapCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if b.origins.Allowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ConfigHandler serves the cached power config on ConfigRoute. Load
// failures are logged and answered with an empty body: a broken local
// config must never take down the dev server or leak errors to the player.
func (b *Bridge) ConfigHandler() http.Handler {
	return b.WrapCORS(http.HandlerFunc(b.serveConfig))
}

func (b *Bridge) serveConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	cfg, err := b.cache.Load()
	if err != nil {
		log.Printf("[Bridge] serve %s: %v", ConfigRoute, err)
		return
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		log.Printf("[Bridge] encode power config: %v", err)
		return
	}
	if _, err := w.Write(data); err != nil {
		log.Printf("[Bridge] write power config response: %v", err)
	}
}

// handleConfigChanged runs on watcher events for the config path: drop the
// cached record and restart the dev server outright. A changed environment
// id invalidates URLs the player already holds, so a hot reload is not
// enough.
func (b *Bridge) handleConfigChanged() {
	log.Printf("[Bridge] %s changed, restarting dev server", b.cache.Path())
	b.cache.Invalidate()

	eventbus.PublishWithOpts(context.Background(), b.bus, eventbus.Config.Invalidated, eventbus.SourceBridge,
		eventbus.ConfigInvalidatedEvent{Path: b.cache.Path(), Reason: eventbus.InvalidateFileChanged},
		eventbus.WithCorrelationID(b.sessionID))

	ctx, cancel := context.WithTimeout(context.Background(), restartTimeout)
	defer cancel()
	if err := b.host.Restart(ctx); err != nil {
		log.Printf("[Bridge] dev server restart failed: %v", err)
	}
}
