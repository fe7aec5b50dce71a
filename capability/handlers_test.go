package capability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	clawcrypto "github.com/BSVanon/ClawSats-sub000/crypto"
	"github.com/BSVanon/ClawSats-sub000/peerstore"
	"github.com/BSVanon/ClawSats-sub000/security"
	"github.com/BSVanon/ClawSats-sub000/wallet"
)

func TestEchoHandlerSignsResult(t *testing.T) {
	root, _ := clawcrypto.GeneratePrivateKey()
	gw := wallet.NewMemoryGateway(root)
	params, _ := json.Marshal(map[string]string{"message": "hi"})

	result, err := echoHandler(context.Background(), params, gw)
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected map result")
	}
	if m["message"] != "hi" {
		t.Fatalf("expected message echoed back, got %v", m["message"])
	}
	if m["signature"] == "" || m["signature"] == nil {
		t.Fatalf("expected non-empty signature")
	}
}

func TestHashCommitHandler(t *testing.T) {
	root, _ := clawcrypto.GeneratePrivateKey()
	gw := wallet.NewMemoryGateway(root)
	params, _ := json.Marshal(map[string]string{"payload": "data"})

	result, err := hashCommitHandler(context.Background(), params, gw)
	if err != nil {
		t.Fatalf("hash_commit: %v", err)
	}
	m := result.(map[string]any)
	if m["digest"] == "" {
		t.Fatalf("expected non-empty digest")
	}
}

func TestIsBlockedFetchHost(t *testing.T) {
	cases := map[string]bool{
		"localhost":   true,
		"127.0.0.1":   true,
		"10.0.0.5":    true,
		"192.168.1.1": true,
		"169.254.1.1": true,
		"example.com": false,
	}
	for host, want := range cases {
		if got := isBlockedFetchHost(host); got != want {
			t.Errorf("isBlockedFetchHost(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestIsBlockedDNSName(t *testing.T) {
	cases := map[string]bool{
		"localhost":   true,
		"foo.local":   true,
		"foo.internal": true,
		"example.com": false,
	}
	for name, want := range cases {
		if got := isBlockedDNSName(name); got != want {
			t.Errorf("isBlockedDNSName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestBroadcastListingHandlerDedupesRepeatedAnnouncements(t *testing.T) {
	var hits int
	peerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer peerSrv.Close()

	dir := t.TempDir()
	peers, err := peerstore.NewRegistry(dir+"/peers.json", nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	peers.Add(peerstore.Peer{IdentityKey: "peer1", Endpoint: peerSrv.URL})

	deps := Deps{Peers: peers, SelfKey: "self", Seen: security.NewNonceCache(16)}
	handler := broadcastListingHandler(deps, peerSrv.Client())

	root, _ := clawcrypto.GeneratePrivateKey()
	gw := wallet.NewMemoryGateway(root)
	params, _ := json.Marshal(map[string]any{
		"manifest": map[string]any{"identityKey": "origin", "announcementId": "ann-1"},
	})

	if _, err := handler(context.Background(), params, gw); err != nil {
		t.Fatalf("first broadcast: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected one relay after first broadcast, got %d", hits)
	}

	result, err := handler(context.Background(), params, gw)
	if err != nil {
		t.Fatalf("second broadcast: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected repeated announcement to be deduped, relay count = %d", hits)
	}
	m := result.(map[string]any)
	if m["deduped"] != true {
		t.Fatalf("expected deduped=true in result, got %+v", m)
	}
}

func TestRegistryRegisterRejectsNegativePrice(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Entry{Name: "x", PriceSats: -1}); err == nil {
		t.Fatalf("expected negative price to be rejected")
	}
}
