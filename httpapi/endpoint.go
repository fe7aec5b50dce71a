package httpapi

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

var blockedHostnames = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"::1":       {},
	"0.0.0.0":   {},
}

var privateCIDRs = mustParseCIDRs(
	"10.0.0.0/8",
	"192.168.0.0/16",
	"172.16.0.0/12",
	"169.254.0.0/16",
)

const cloudMetadataAddr = "169.254.169.254"

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("httpapi: invalid CIDR literal %q: %v", c, err))
		}
		out = append(out, n)
	}
	return out
}

// ValidateEndpoint checks a URL accepted from a remote party (§4.8):
// scheme must be http/https, hostname must not be a loopback/unspecified
// address, and must not fall in a private/cloud-metadata range.
func ValidateEndpoint(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not allowed", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing hostname")
	}
	if _, blocked := blockedHostnames[strings.ToLower(host)]; blocked {
		return fmt.Errorf("hostname %q is not reachable from the network", host)
	}
	if host == cloudMetadataAddr {
		return fmt.Errorf("hostname %q is the cloud metadata address", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsUnspecified() {
			return fmt.Errorf("hostname %q is a loopback/unspecified address", host)
		}
		for _, cidr := range privateCIDRs {
			if cidr.Contains(ip) {
				return fmt.Errorf("hostname %q is within the private range %s", host, cidr)
			}
		}
	}
	return nil
}

// NormalizeEndpoint strips trailing slashes, fragment, and query,
// discards non-http(s) schemes and local-only hostnames (§4.9).
func NormalizeEndpoint(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if err := ValidateEndpoint(raw); err != nil {
		return "", err
	}
	u.Fragment = ""
	u.RawQuery = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.Scheme + "://" + u.Host + u.Path, nil
}
