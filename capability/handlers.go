package capability

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	clawcrypto "github.com/BSVanon/ClawSats-sub000/crypto"
	"github.com/BSVanon/ClawSats-sub000/peerstore"
	clawreceipt "github.com/BSVanon/ClawSats-sub000/receipt"
	"github.com/BSVanon/ClawSats-sub000/security"
	"github.com/BSVanon/ClawSats-sub000/wallet"
)

const (
	broadcastHopLimit     = 2
	broadcastAudienceCap  = 10
	fetchURLMaxBytes      = 100000
	broadcastPeerTimeout  = 5 * time.Second
	fetchURLTimeout       = 10 * time.Second
	dnsResolveTimeout     = 5 * time.Second
	broadcastDedupeTTL    = 1 * time.Hour
)

// Deps are the collaborators the built-in handlers need beyond the
// per-call wallet handle: the peer registry (broadcast_listing,
// peer_health_check), an HTTP client (fetch_url, broadcast_listing), and
// this node's own identity key (so handlers can tag relayed manifests).
type Deps struct {
	Peers       *peerstore.Registry
	HTTPClient  *http.Client
	SelfKey     string
	Seen        *security.NonceCache
}

// BuiltinEntries returns the nine pre-registered handlers named in §4.4,
// each hard-configured with its price and tags.
func BuiltinEntries(deps Deps) []Entry {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: fetchURLTimeout}
	}
	if deps.Seen == nil {
		deps.Seen = security.NewNonceCache(security.DefaultNonceCacheCapacity)
	}
	return []Entry{
		{Name: "echo", Description: "Echo the supplied message, signed.", PriceSats: 10, Tags: []string{"core"}, Handler: echoHandler},
		{Name: "sign_message", Description: "Sign an arbitrary message.", PriceSats: 5, Tags: []string{"core", "crypto"}, Handler: signMessageHandler},
		{Name: "hash_commit", Description: "Compute and sign sha256 of a payload.", PriceSats: 5, Tags: []string{"core", "crypto"}, Handler: hashCommitHandler},
		{Name: "timestamp_attest", Description: "Attest to the current time, signed.", PriceSats: 5, Tags: []string{"core"}, Handler: timestampAttestHandler},
		{Name: "broadcast_listing", Description: "Relay a capability manifest to known peers.", PriceSats: 0, Tags: []string{"discovery"}, Handler: broadcastListingHandler(deps, client)},
		{Name: "fetch_url", Description: "Fetch a public http(s) URL.", PriceSats: 20, Tags: []string{"net"}, Handler: fetchURLHandler(client)},
		{Name: "dns_resolve", Description: "Resolve a public DNS name.", PriceSats: 15, Tags: []string{"net"}, Handler: dnsResolveHandler()},
		{Name: "verify_receipt", Description: "Verify a ClawSats receipt signature.", PriceSats: 5, Tags: []string{"core"}, Handler: verifyReceiptHandler()},
		{Name: "peer_health_check", Description: "Probe a known peer's /health endpoint.", PriceSats: 5, Tags: []string{"discovery"}, Handler: peerHealthCheckHandler(deps, client)},
	}
}

func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return fmt.Errorf("missing params")
	}
	return json.Unmarshal(params, v)
}

// echoHandler echoes the message, a nonce, and a signature over the
// result so the caller can independently verify it came from this node.
func echoHandler(ctx context.Context, params json.RawMessage, gw wallet.Gateway) (any, error) {
	var in struct {
		Message string `json:"message"`
	}
	if err := decodeParams(params, &in); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	nonce := make([]byte, 4)
	if _, err := readRandom(nonce); err != nil {
		return nil, err
	}
	nonceHex := hex.EncodeToString(nonce)
	payload := map[string]any{
		"message":  in.Message,
		"nonce":    nonceHex,
		"signedBy": gw.IdentityKey(),
	}
	canon, err := clawcrypto.CanonicalJSON(payload)
	if err != nil {
		return nil, err
	}
	sig, err := gw.Sign(ctx, canon, wallet.ProtocolID{0, "clawsats sharing"}, "sharing-v1", "")
	if err != nil {
		return nil, err
	}
	payload["signature"] = string(sig)
	return payload, nil
}

func signMessageHandler(ctx context.Context, params json.RawMessage, gw wallet.Gateway) (any, error) {
	var in struct {
		Message string `json:"message"`
	}
	if err := decodeParams(params, &in); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	sig, err := gw.Sign(ctx, []byte(in.Message), wallet.ProtocolID{0, "clawsats sharing"}, "sharing-v1", "")
	if err != nil {
		return nil, err
	}
	return map[string]any{"signature": string(sig), "signedBy": gw.IdentityKey()}, nil
}

func hashCommitHandler(ctx context.Context, params json.RawMessage, gw wallet.Gateway) (any, error) {
	var in struct {
		Payload string `json:"payload"`
	}
	if err := decodeParams(params, &in); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	sum := sha256.Sum256([]byte(in.Payload))
	digest := hex.EncodeToString(sum[:])
	sig, err := gw.Sign(ctx, sum[:], wallet.ProtocolID{0, "clawsats sharing"}, "sharing-v1", "")
	if err != nil {
		return nil, err
	}
	return map[string]any{"digest": digest, "signature": string(sig)}, nil
}

func timestampAttestHandler(ctx context.Context, _ json.RawMessage, gw wallet.Gateway) (any, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	sig, err := gw.Sign(ctx, []byte(now), wallet.ProtocolID{0, "clawsats sharing"}, "sharing-v1", "")
	if err != nil {
		return nil, err
	}
	return map[string]any{"timestamp": now, "signature": string(sig)}, nil
}

// broadcastListingHandler relays a capability manifest to up to
// AUDIENCE_LIMIT known peers, enforcing the hop limit and tagging the
// relayed manifest with this relayer's identity key (§4.4).
func broadcastListingHandler(deps Deps, client *http.Client) Handler {
	return func(ctx context.Context, params json.RawMessage, gw wallet.Gateway) (any, error) {
		var in struct {
			Manifest map[string]any `json:"manifest"`
			HopCount int            `json:"hopCount"`
			MaxPeers int            `json:"maxPeers"`
		}
		if err := decodeParams(params, &in); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		if in.HopCount >= broadcastHopLimit {
			return nil, fmt.Errorf("hop limit exceeded")
		}

		dedupeKey := broadcastDedupeKey(in.Manifest)
		if dedupeKey != "" && deps.Seen != nil {
			if !deps.Seen.Validate(dedupeKey, broadcastDedupeTTL).Fresh {
				return map[string]any{"notified": []string{}, "hopCount": in.HopCount + 1, "deduped": true}, nil
			}
		}

		audience := in.MaxPeers
		if audience <= 0 || audience > broadcastAudienceCap {
			audience = broadcastAudienceCap
		}
		if in.Manifest == nil {
			in.Manifest = map[string]any{}
		}
		in.Manifest["referredBy"] = deps.SelfKey

		body, err := json.Marshal(in.Manifest)
		if err != nil {
			return nil, err
		}

		var peers []peerstore.Peer
		if deps.Peers != nil {
			peers = deps.Peers.All()
		}
		if len(peers) > audience {
			peers = peers[:audience]
		}

		notified := make([]string, len(peers))
		g, gctx := errgroup.WithContext(ctx)
		for i, peer := range peers {
			i, peer := i, peer
			g.Go(func() error {
				peerCtx, cancel := context.WithTimeout(gctx, broadcastPeerTimeout)
				defer cancel()
				if postErr := postJSON(peerCtx, client, peer.Endpoint+"/wallet/announce", body); postErr == nil {
					notified[i] = peer.IdentityKey
				}
				return nil
			})
		}
		_ = g.Wait()

		out := make([]string, 0, len(notified))
		for _, id := range notified {
			if id != "" {
				out = append(out, id)
			}
		}
		return map[string]any{"notified": out, "hopCount": in.HopCount + 1}, nil
	}
}

// broadcastDedupeKey builds the default dedupe key for a relayed manifest,
// manifest.identityKey:announcementId (§4.4). Either half missing yields
// no dedupe key, so malformed manifests fall through to the hop/audience
// limits instead of being silently dropped.
func broadcastDedupeKey(manifest map[string]any) string {
	identityKey, _ := manifest["identityKey"].(string)
	announcementID, _ := manifest["announcementId"].(string)
	if identityKey == "" || announcementID == "" {
		return ""
	}
	return identityKey + ":" + announcementID
}

func postJSON(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer responded %d", resp.StatusCode)
	}
	return nil
}

// fetchURLHandler fetches a public http(s) URL, capping the response
// body and signing its hash (§4.4).
func fetchURLHandler(client *http.Client) Handler {
	return func(ctx context.Context, params json.RawMessage, gw wallet.Gateway) (any, error) {
		var in struct {
			URL     string `json:"url"`
			Method  string `json:"method"`
			MaxBytes int64  `json:"maxBytes"`
		}
		if err := decodeParams(params, &in); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		method := strings.ToUpper(in.Method)
		if method == "" {
			method = http.MethodGet
		}
		if method != http.MethodGet && method != http.MethodHead {
			return nil, fmt.Errorf("method must be GET or HEAD")
		}
		parsed, err := url.Parse(in.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid url: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("scheme must be http or https")
		}
		if isBlockedFetchHost(normalizeHostForDialing(parsed.Host)) {
			return nil, fmt.Errorf("hostname not permitted")
		}

		reqCtx, cancel := context.WithTimeout(ctx, fetchURLTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, method, in.URL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		limit := int64(fetchURLMaxBytes)
		if in.MaxBytes > 0 && in.MaxBytes < limit {
			limit = in.MaxBytes
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(body)
		digest := hex.EncodeToString(sum[:])
		sig, err := gw.Sign(reqCtx, sum[:], wallet.ProtocolID{0, "clawsats sharing"}, "sharing-v1", "")
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"status":    resp.StatusCode,
			"bodyBytes": len(body),
			"sha256":    digest,
			"signature": string(sig),
		}, nil
	}
}

// dnsResolveHandler resolves A/AAAA/MX/TXT/NS records for a public
// hostname (§4.4).
func dnsResolveHandler() Handler {
	return func(ctx context.Context, params json.RawMessage, gw wallet.Gateway) (any, error) {
		var in struct {
			Hostname string `json:"hostname"`
			Type     string `json:"type"`
		}
		if err := decodeParams(params, &in); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		if isBlockedDNSName(in.Hostname) {
			return nil, fmt.Errorf("hostname not permitted")
		}
		qtype, ok := dnsQType(in.Type)
		if !ok {
			return nil, fmt.Errorf("unsupported record type %q", in.Type)
		}

		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(in.Hostname), qtype)
		m.RecursionDesired = true

		client := new(dns.Client)
		client.Timeout = dnsResolveTimeout
		resp, _, err := client.ExchangeContext(ctx, m, "8.8.8.8:53")
		if err != nil {
			return nil, fmt.Errorf("dns exchange: %w", err)
		}

		records := make([]string, 0, len(resp.Answer))
		for _, rr := range resp.Answer {
			records = append(records, rr.String())
		}
		return map[string]any{"hostname": in.Hostname, "type": in.Type, "records": records}, nil
	}
}

func dnsQType(t string) (uint16, bool) {
	switch strings.ToUpper(t) {
	case "A":
		return dns.TypeA, true
	case "AAAA":
		return dns.TypeAAAA, true
	case "MX":
		return dns.TypeMX, true
	case "TXT":
		return dns.TypeTXT, true
	case "NS":
		return dns.TypeNS, true
	default:
		return 0, false
	}
}

// verifyReceiptHandler verifies a receipt's signature against its own
// provider identity key.
func verifyReceiptHandler() Handler {
	return func(ctx context.Context, params json.RawMessage, gw wallet.Gateway) (any, error) {
		var r clawreceipt.Receipt
		if err := decodeParams(params, &r); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		ok, err := clawreceipt.Verify(ctx, gw, r)
		if err != nil {
			return nil, err
		}
		return map[string]any{"valid": ok}, nil
	}
}

// peerHealthCheckHandler probes a known peer's /health endpoint.
func peerHealthCheckHandler(deps Deps, client *http.Client) Handler {
	return func(ctx context.Context, params json.RawMessage, gw wallet.Gateway) (any, error) {
		var in struct {
			Endpoint string `json:"endpoint"`
		}
		if err := decodeParams(params, &in); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		reqCtx, cancel := context.WithTimeout(ctx, broadcastPeerTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, strings.TrimSuffix(in.Endpoint, "/")+"/health", nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return map[string]any{"healthy": false, "error": err.Error()}, nil
		}
		defer resp.Body.Close()
		return map[string]any{"healthy": resp.StatusCode == http.StatusOK, "status": resp.StatusCode}, nil
	}
}
