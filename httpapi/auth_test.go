package httpapi

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsPublicPath(t *testing.T) {
	public := []string{"/health", "/discovery", "/wallet/invite", "/wallet/announce", "/call/echo", "/call/fetch_url"}
	for _, p := range public {
		if !isPublicPath(p) {
			t.Errorf("expected %q to be public", p)
		}
	}
	if isPublicPath("/") {
		t.Error("expected / to require auth")
	}
	if isPublicPath("/metrics") {
		t.Error("expected /metrics to require auth")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tok, err := extractBearerToken("Bearer abc123")
	if err != nil || tok != "abc123" {
		t.Fatalf("got %q, %v", tok, err)
	}
	if _, err := extractBearerToken(""); err == nil {
		t.Error("expected error on empty header")
	}
	if _, err := extractBearerToken("Basic abc123"); err == nil {
		t.Error("expected error on wrong scheme")
	}
	if _, err := extractBearerToken("Bearer "); err == nil {
		t.Error("expected error on empty token")
	}
}

func TestGenerateAPIKeyIsUniqueAndDecodable(t *testing.T) {
	k1, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	k2, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if k1 == k2 {
		t.Fatal("expected distinct keys across calls")
	}
	if len(k1) < 24 {
		t.Fatalf("expected a reasonably long key, got %q", k1)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	loopback := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8080}
	if !isLoopbackAddr(loopback) {
		t.Error("expected 127.0.0.1 to be loopback")
	}
	nonLoopback := &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 8080}
	if isLoopbackAddr(nonLoopback) {
		t.Error("expected 10.0.0.5 to not be loopback")
	}
	unspecified := &net.TCPAddr{IP: net.ParseIP("0.0.0.0"), Port: 8080}
	if isLoopbackAddr(unspecified) {
		t.Error("expected unspecified address to not be treated as loopback")
	}
}

func TestAuthMiddlewareExemptsPublicPaths(t *testing.T) {
	mw := authMiddleware("secret", nil)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected public path to bypass auth, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMissingOrWrongToken(t *testing.T) {
	mw := authMiddleware("secret", nil)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/", nil)
	req2.Header.Set("Authorization", "Bearer wrong")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec2.Code)
	}
}

func TestAuthMiddlewareAllowsCorrectToken(t *testing.T) {
	mw := authMiddleware("secret", nil)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct token, got %d", rec.Code)
	}
}

func TestAuthMiddlewareNoopWhenNoAPIKeyConfigured(t *testing.T) {
	mw := authMiddleware("", nil)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected auth to be skipped with no configured key, got %d", rec.Code)
	}
}
