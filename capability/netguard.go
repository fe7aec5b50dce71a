package capability

import (
	"net"
	"strings"
)

// blockedHostnames are exact hostnames fetch_url rejects outright (§4.4).
var blockedHostnames = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"0.0.0.0":   {},
}

// privateHostPrefixes are the coarse private-range prefixes fetch_url's
// hostname policy blocks (§4.4); this is a string-prefix heuristic, not a
// full CIDR match — good enough for the literal dotted-quad hostnames
// capability callers pass, with full CIDR handling left to the stricter
// endpoint validator in the HTTP layer (§4.8).
var privateHostPrefixes = []string{"10.", "192.168.", "169.254."}

// isBlockedFetchHost reports whether host is disallowed for fetch_url.
func isBlockedFetchHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if _, blocked := blockedHostnames[h]; blocked {
		return true
	}
	for _, prefix := range privateHostPrefixes {
		if strings.HasPrefix(h, prefix) {
			return true
		}
	}
	return false
}

// isBlockedDNSName reports whether a dns_resolve query name is disallowed
// (§4.4): localhost, *.local, *.internal.
func isBlockedDNSName(name string) bool {
	n := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
	if n == "localhost" {
		return true
	}
	if strings.HasSuffix(n, ".local") || strings.HasSuffix(n, ".internal") {
		return true
	}
	return false
}

// normalizeHostForDialing strips a port suffix, if any, leaving a bare
// hostname/IP for hostname-policy checks.
func normalizeHostForDialing(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}
