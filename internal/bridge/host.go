package bridge

import (
	"context"
	"net"
	"net/http"
)

// Host is the surface the bridge needs from whatever serves HTTP on its
// behalf. The production implementation lives in internal/server; tests
// substitute a fake. The bridge only registers callbacks and handlers and
// never touches the listener directly.
type Host interface {
	// OnListening registers fn to run every time the host (re)binds its
	// listener. The host may invoke it from its own goroutine.
	OnListening(fn func())

	// OnFileChanged registers fn for change events on exactly path.
	OnFileChanged(path string, fn func())

	// RegisterRequestHandler mounts handler on the host's mux.
	RegisterRequestHandler(pattern string, handler http.Handler)

	// ResolvedURLs returns the base URLs the host believes it is reachable
	// on, most preferred first. May be empty before listening.
	ResolvedURLs() []string

	// Addr returns the bound listener address, nil until listening.
	Addr() net.Addr

	// TLSEnabled reports whether the listener speaks TLS.
	TLSEnabled() bool

	// Restart performs a full dev-server restart, not a hot reload.
	Restart(ctx context.Context) error
}
