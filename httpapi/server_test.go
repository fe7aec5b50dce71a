package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BSVanon/ClawSats-sub000/brain"
	"github.com/BSVanon/ClawSats-sub000/capability"
	clawcrypto "github.com/BSVanon/ClawSats-sub000/crypto"
	"github.com/BSVanon/ClawSats-sub000/invite"
	"github.com/BSVanon/ClawSats-sub000/jobstore"
	"github.com/BSVanon/ClawSats-sub000/nodeconfig"
	"github.com/BSVanon/ClawSats-sub000/payment"
	"github.com/BSVanon/ClawSats-sub000/peerstore"
	"github.com/BSVanon/ClawSats-sub000/policy"
	"github.com/BSVanon/ClawSats-sub000/security"
	"github.com/BSVanon/ClawSats-sub000/wallet"
)

type testHarness struct {
	server  *Server
	wallet  *wallet.MemoryGateway
	peers   *peerstore.Registry
	invites *invite.Protocol
	jobs    *jobstore.Store
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	dir := t.TempDir()

	root, err := clawcrypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	gw := wallet.NewMemoryGateway(root)

	caps := capability.NewRegistry()
	if err := caps.Register(capability.Entry{
		Name:      "echo",
		PriceSats: 10,
		Handler: func(ctx context.Context, params json.RawMessage, w wallet.Gateway) (any, error) {
			var in struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(params, &in)
			return map[string]any{"message": in.Message}, nil
		},
	}); err != nil {
		t.Fatalf("register capability: %v", err)
	}

	peers, err := peerstore.NewRegistry(filepath.Join(dir, "peers.json"), nil)
	if err != nil {
		t.Fatalf("peer registry: %v", err)
	}
	invites := invite.NewProtocol(gw)
	dispatcher := payment.NewDispatcher(caps, gw, peers, nil, payment.NewMetrics(prometheus.NewRegistry()))

	jobs, err := jobstore.New(filepath.Join(dir, "jobs.json"))
	if err != nil {
		t.Fatalf("job store: %v", err)
	}
	pol, err := policy.Load(filepath.Join(dir, "policy.json"))
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	events, err := policy.OpenEventLog(filepath.Join(dir, "events.log"))
	if err != nil {
		t.Fatalf("event log: %v", err)
	}
	router := brain.NewRouter(jobs, pol, peers, events, gw, nil, nil, 0)

	cfg := nodeconfig.WalletConfig{
		IdentityKey: gw.IdentityKey(),
		ClawID:      "test-claw",
		Chain:       "test",
		BindAddr:    "127.0.0.1:0",
	}

	rpc := &RPCHandler{
		Wallet:   gw,
		Config:   cfg,
		Peers:    peers,
		Invites:  invites,
		Dispatch: dispatcher,
		Jobs:     jobs,
		Router:   router,
	}

	server := NewServer(Deps{
		Wallet:       gw,
		Capabilities: caps,
		Dispatcher:   dispatcher,
		Peers:        peers,
		Invites:      invites,
		Nonces:       security.NewNonceCache(64),
		Config:       cfg,
		RPC:          rpc,
		StartedAt:    time.Now(),
	})

	return &testHarness{server: server, wallet: gw, peers: peers, invites: invites, jobs: jobs}
}

func doRequest(t *testing.T, h *testHarness, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	h := newTestHarness(t)
	rec := doRequest(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected status: %v", body["status"])
	}
}

func TestHandleDiscoveryListsCapabilities(t *testing.T) {
	h := newTestHarness(t)
	rec := doRequest(t, h, http.MethodGet, "/discovery", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	caps, _ := body["capabilities"].([]any)
	if len(caps) != 1 || caps[0] != "echo" {
		t.Fatalf("unexpected capabilities: %v", body["capabilities"])
	}
}

func TestHandleWalletInviteHappyPath(t *testing.T) {
	h := newTestHarness(t)

	senderRoot, _ := clawcrypto.GeneratePrivateKey()
	senderGW := wallet.NewMemoryGateway(senderRoot)
	senderProtocol := invite.NewProtocol(senderGW)

	inv, err := senderProtocol.CreateInvitation(
		context.Background(),
		invite.Party{IdentityKey: senderGW.IdentityKey(), Endpoint: "https://sender.example.com"},
		invite.Party{IdentityKey: h.wallet.IdentityKey()},
		invite.WalletSnapshot{Chain: "test", Capabilities: []string{"echo"}},
		invite.CreateOpts{},
	)
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}

	rec := doRequest(t, h, http.MethodPost, "/wallet/invite", inv)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if _, ok := h.peers.Get(senderGW.IdentityKey()); !ok {
		t.Fatal("expected sender to be registered as a peer")
	}
}

func TestHandleWalletInviteRejectsNonceReplay(t *testing.T) {
	h := newTestHarness(t)

	senderRoot, _ := clawcrypto.GeneratePrivateKey()
	senderGW := wallet.NewMemoryGateway(senderRoot)
	senderProtocol := invite.NewProtocol(senderGW)

	inv, err := senderProtocol.CreateInvitation(
		context.Background(),
		invite.Party{IdentityKey: senderGW.IdentityKey()},
		invite.Party{IdentityKey: h.wallet.IdentityKey()},
		invite.WalletSnapshot{Chain: "test"},
		invite.CreateOpts{},
	)
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}

	first := doRequest(t, h, http.MethodPost, "/wallet/invite", inv)
	if first.Code != http.StatusOK {
		t.Fatalf("expected first invite to succeed, got %d: %s", first.Code, first.Body.String())
	}

	second := doRequest(t, h, http.MethodPost, "/wallet/invite", inv)
	if second.Code != http.StatusBadRequest {
		t.Fatalf("expected replayed nonce to be rejected, got %d", second.Code)
	}
}

func TestHandleWalletInviteRejectsBadSignature(t *testing.T) {
	h := newTestHarness(t)

	senderRoot, _ := clawcrypto.GeneratePrivateKey()
	senderGW := wallet.NewMemoryGateway(senderRoot)
	senderProtocol := invite.NewProtocol(senderGW)

	inv, err := senderProtocol.CreateInvitation(
		context.Background(),
		invite.Party{IdentityKey: senderGW.IdentityKey()},
		invite.Party{IdentityKey: h.wallet.IdentityKey()},
		invite.WalletSnapshot{Chain: "test"},
		invite.CreateOpts{},
	)
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	inv.Signature = "tampered"

	rec := doRequest(t, h, http.MethodPost, "/wallet/invite", inv)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad signature, got %d", rec.Code)
	}
}

func TestHandleWalletAnnounceHappyPath(t *testing.T) {
	h := newTestHarness(t)

	remoteRoot, _ := clawcrypto.GeneratePrivateKey()
	remoteGW := wallet.NewMemoryGateway(remoteRoot)
	remoteProtocol := invite.NewProtocol(remoteGW)

	ann, err := remoteProtocol.CreateAnnouncement(context.Background(), "remote-claw", remoteGW.IdentityKey(), nil, invite.NetworkInfo{Chain: "test", Endpoint: "https://remote.example.com"}, "")
	if err != nil {
		t.Fatalf("create announcement: %v", err)
	}

	rec := doRequest(t, h, http.MethodPost, "/wallet/announce", ann)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := h.peers.Get(remoteGW.IdentityKey()); !ok {
		t.Fatal("expected remote peer to be registered")
	}
}

func TestHandleWalletAnnounceRejectsMalformedIdentityKey(t *testing.T) {
	h := newTestHarness(t)
	ann := invite.Announcement{IdentityKey: "not-hex", Network: invite.NetworkInfo{Chain: "test"}}
	rec := doRequest(t, h, http.MethodPost, "/wallet/announce", ann)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCallDispatchesToCapability(t *testing.T) {
	h := newTestHarness(t)
	rec := doRequest(t, h, http.MethodPost, "/call/echo", map[string]string{"message": "hi"})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 challenge for a paid capability, got %d: %s", rec.Code, rec.Body.String())
	}
}

func rpcCall(t *testing.T, h *testHarness, method string, params any) map[string]any {
	t.Helper()
	rawParams, _ := json.Marshal(params)
	rec := doRequest(t, h, http.MethodPost, "/", map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  json.RawMessage(rawParams),
	})
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rpc response: %v", err)
	}
	return body
}

func TestJSONRPCGetPublicKey(t *testing.T) {
	h := newTestHarness(t)
	body := rpcCall(t, h, "getPublicKey", map[string]any{})
	result, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected response: %v", body)
	}
	if result["identityKey"] != h.wallet.IdentityKey() {
		t.Fatalf("unexpected identity key: %v", result)
	}
}

func TestJSONRPCGetConfigRedactsSecret(t *testing.T) {
	h := newTestHarness(t)
	body := rpcCall(t, h, "getConfig", map[string]any{})
	result, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected response: %v", body)
	}
	if _, present := result["encryptedRootKey"]; present {
		t.Fatal("expected encryptedRootKey to be redacted")
	}
}

func TestJSONRPCListPeers(t *testing.T) {
	h := newTestHarness(t)
	h.peers.Add(peerstore.Peer{IdentityKey: "abc", Endpoint: "https://peer.example.com"})
	body := rpcCall(t, h, "listPeers", map[string]any{})
	result, ok := body["result"].([]any)
	if !ok || len(result) != 1 {
		t.Fatalf("unexpected response: %v", body)
	}
}

func TestJSONRPCEnqueueAndListJobs(t *testing.T) {
	h := newTestHarness(t)
	enqueued := rpcCall(t, h, "enqueue", map[string]any{
		"capability": "echo",
		"params":     map[string]any{"message": "hi"},
		"strategy":   "local",
		"maxSats":    100,
	})
	if enqueued["error"] != nil {
		t.Fatalf("unexpected error: %v", enqueued["error"])
	}

	listed := rpcCall(t, h, "listJobs", map[string]any{})
	jobs, ok := listed["result"].([]any)
	if !ok || len(jobs) != 1 {
		t.Fatalf("expected one job, got %v", listed)
	}
}

func TestJSONRPCUnsupportedWalletMethod(t *testing.T) {
	h := newTestHarness(t)
	body := rpcCall(t, h, "createAction", map[string]any{})
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error for unsupported method, got %v", body)
	}
	if int(errObj["code"].(float64)) != codeMethodNotFound {
		t.Fatalf("unexpected error code: %v", errObj)
	}
}

func TestJSONRPCUnknownMethod(t *testing.T) {
	h := newTestHarness(t)
	body := rpcCall(t, h, "doesNotExist", map[string]any{})
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error for unknown method, got %v", body)
	}
	if int(errObj["code"].(float64)) != codeMethodNotFound {
		t.Fatalf("unexpected error code: %v", errObj)
	}
}
