package httpapi

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// publicPaths are exempt from bearer-token auth (§4.8).
var publicPathPrefixes = []string{"/call/"}

var publicPaths = map[string]struct{}{
	"/health":              {},
	"/discovery":           {},
	"/wallet/invite":       {},
	"/wallet/announce":     {},
	"/wallet/submit-payment": {},
}

func isPublicPath(path string) bool {
	if _, ok := publicPaths[path]; ok {
		return true
	}
	for _, prefix := range publicPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// extractBearerToken parses the Authorization header, mirroring the
// teacher's RPC server's Bearer-scheme parsing.
func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("Authorization header must use Bearer scheme")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// isLoopbackAddr reports whether addr is a loopback TCP address.
// Unspecified addresses (0.0.0.0, ::) are treated as non-loopback: a
// node bound to all interfaces is exposed to the network.
func isLoopbackAddr(addr net.Addr) bool {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return false
	}
	if tcpAddr.IP == nil || tcpAddr.IP.IsUnspecified() {
		return false
	}
	return tcpAddr.IP.IsLoopback()
}

// GenerateAPIKey returns a 24-byte random base64url key (§4.8), logged
// once by the caller at startup.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// authMiddleware enforces Bearer-token auth on every non-public path
// when apiKey is configured.
func authMiddleware(apiKey string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) || apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, err := extractBearerToken(r.Header.Get("Authorization"))
			if err != nil || token != apiKey {
				writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
