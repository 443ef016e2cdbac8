package validate

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// EnvironmentIDRe matches valid Power Platform environment identifiers.
// Must start with alphanumeric, followed by alphanumeric or hyphens.
var EnvironmentIDRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*$`)

// MaxEnvironmentIDLen is the maximum length for environment identifiers.
const MaxEnvironmentIDLen = 64

// EnvironmentID validates a string as a plausible environment identifier.
func EnvironmentID(s string) bool {
	return len(s) > 0 && len(s) <= MaxEnvironmentIDLen && EnvironmentIDRe.MatchString(s)
}

// HTTPURL accepts only http or https URLs with a host, so values like
// file:// or javascript: never end up in a composed player URL.
func HTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		// accepted
	case "":
		return fmt.Errorf("URL missing scheme: %s", rawURL)
	default:
		return fmt.Errorf("URL scheme %q not allowed (only http/https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL missing host: %s", rawURL)
	}
	return nil
}

// LoopbackURL checks that the URL's host is the local machine (loopback
// literal or "localhost"). The bridge only ever forwards to a dev server on
// the same host; pointing it at a remote address is a misconfiguration.
//
// Only literal IPs and the "localhost" hostname are recognised; other
// hostnames are rejected because we cannot prove they resolve locally.
func LoopbackURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return nil // Let HTTPURL handle empty host
	}
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("URL host %q is not a local address (use localhost or a loopback IP)", host)
	}
	return nil
}
