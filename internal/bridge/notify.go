package bridge

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/pabridge-dev/pabridge/internal/eventbus"
)

// handleListening runs once per listen event, including after restarts: a
// changed environment id changes the URL, so it must be recomputed. Config
// and address failures are logged and swallowed; the host keeps serving
// without a printed URL.
func (b *Bridge) handleListening() {
	cfg, err := b.cache.Load()
	if err != nil {
		log.Printf("[Bridge] cannot compose player URL: %v", err)
		return
	}

	base, err := b.resolveBaseURL()
	if err != nil {
		log.Printf("[Bridge] cannot compose player URL: %v", err)
		return
	}

	playerURL := b.composePlayerURL(cfg.EnvironmentID, base)
	log.Printf("[Bridge] app ready at %s", base)
	log.Printf("[Bridge] open in the hosted player: %s", playerURL)

	eventbus.PublishWithOpts(context.Background(), b.bus, eventbus.Bridge.Listening, eventbus.SourceBridge,
		eventbus.ListeningEvent{SessionID: b.sessionID, Address: base, PlayerURL: playerURL},
		eventbus.WithCorrelationID(b.sessionID))

	b.recordLaunch(cfg.EnvironmentID, cfg.AppID, cfg.AppDisplayName, playerURL)
}

// resolveBaseURL prefers the host's resolved URL list and falls back to the
// bound socket address. Returns ErrAddressUnresolvable when neither source
// yields a usable address.
func (b *Bridge) resolveBaseURL() (string, error) {
	for _, raw := range b.host.ResolvedURLs() {
		trimmed := strings.TrimSpace(raw)
		if trimmed != "" {
			return strings.TrimRight(trimmed, "/"), nil
		}
	}

	addr := b.host.Addr()
	if addr == nil {
		return "", ErrAddressUnresolvable
	}

	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAddressUnresolvable, err)
	}
	host = normalizeLoopbackHost(host)
	if host == "" || port == "" {
		return "", ErrAddressUnresolvable
	}

	scheme := "http"
	if b.host.TLSEnabled() {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%s", scheme, host, port), nil
}

// normalizeLoopbackHost maps the IPv6 loopback literal and unspecified
// bind addresses to the conventional hostname the player can actually dial.
func normalizeLoopbackHost(host string) string {
	switch host {
	case "::1", "0.0.0.0", "::", "":
		return "localhost"
	}
	return host
}

// composePlayerURL builds the hosted-player URL for envID against the local
// base. Query values are embedded verbatim: local bases never contain
// characters needing escaping, and the player compares the raw strings.
func (b *Bridge) composePlayerURL(envID, base string) string {
	base = strings.TrimRight(base, "/")
	return fmt.Sprintf("%s/play/e/%s/a/local?_localAppUrl=%s/&_localConnectionUrl=%s%s",
		b.playerOrigin, envID, base, base, ConfigRoute)
}

func (b *Bridge) recordLaunch(envID, appID, displayName, playerURL string) {
	if b.history == nil {
		return
	}

	launch := Launch{
		SessionID:      b.sessionID,
		ProjectDir:     b.projectDir,
		EnvironmentID:  envID,
		AppID:          appID,
		AppDisplayName: displayName,
		PlayerURL:      playerURL,
		StartedAt:      time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.history.RecordLaunch(ctx, launch); err != nil {
		log.Printf("[Bridge] record launch: %v", err)
	}
}
