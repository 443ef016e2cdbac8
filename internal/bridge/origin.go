package bridge

import (
	"net/url"
	"strings"
)

type builtinOrigin struct {
	scheme  string
	host    string
	portAny bool
}

// builtinOrigins is the fixed allow-list: loopback at any port, plus the
// hosted player origins that load local apps. Everything else is denied.
var builtinOrigins = []builtinOrigin{
	{scheme: "http", host: "localhost", portAny: true},
	{scheme: "https", host: "localhost", portAny: true},
	{scheme: "http", host: "127.0.0.1", portAny: true},
	{scheme: "https", host: "127.0.0.1", portAny: true},
	{scheme: "http", host: "::1", portAny: true},
	{scheme: "https", host: "::1", portAny: true},
	{scheme: "https", host: "apps.powerapps.com", portAny: false},
	{scheme: "https", host: "apps.test.powerapps.com", portAny: false},
	{scheme: "https", host: "apps.preprod.powerapps.com", portAny: false},
	{scheme: "https", host: "apps.gov.powerapps.us", portAny: false},
	{scheme: "https", host: "apps.high.powerapps.us", portAny: false},
	{scheme: "https", host: "apps.appsplatform.us", portAny: false},
}

func isBuiltinOrigin(u *url.URL) bool {
	if u == nil {
		return false
	}
	hostname := u.Hostname()
	port := u.Port()
	for _, b := range builtinOrigins {
		if u.Scheme != b.scheme {
			continue
		}
		if hostname != b.host {
			continue
		}
		if !b.portAny && port != "" {
			continue
		}
		return true
	}
	return false
}

// OriginPolicy decides which cross-site origins may read bridge responses.
// The builtin table is fixed; operators append exact extra origins (for
// example a regional player host) via --allow-origin.
type OriginPolicy struct {
	extra map[string]struct{}
}

// NewOriginPolicy returns a policy with the builtin table plus the given
// extra origins. Entries are trimmed; empty entries are ignored.
func NewOriginPolicy(extra []string) *OriginPolicy {
	p := &OriginPolicy{}
	for _, origin := range extra {
		trimmed := strings.TrimRight(strings.TrimSpace(origin), "/")
		if trimmed == "" {
			continue
		}
		if p.extra == nil {
			p.extra = make(map[string]struct{})
		}
		p.extra[trimmed] = struct{}{}
	}
	return p
}

// Allowed reports whether the given Origin header value may receive
// cross-origin access. Empty and unparseable origins are rejected.
func (p *OriginPolicy) Allowed(origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if isBuiltinOrigin(u) {
		return true
	}
	if p == nil || p.extra == nil {
		return false
	}
	_, ok := p.extra[strings.TrimRight(origin, "/")]
	return ok
}
