// Package payment implements the PaymentDispatcher (§4.6), the 402 state
// machine at the heart of ClawSats: challenge issuance, payment
// verification, replay guard, and receipt issuance.
package payment

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/BSVanon/ClawSats-sub000/capability"
	"github.com/BSVanon/ClawSats-sub000/peerstore"
	clawreceipt "github.com/BSVanon/ClawSats-sub000/receipt"
	"github.com/BSVanon/ClawSats-sub000/wallet"
)

const (
	dedupeCacheCapacity    = 10000
	freeTrialCacheCapacity = 50000
	derivationPrefixBytes  = 16
)

// Challenge is the server-to-client payment challenge body (§3).
type Challenge struct {
	SatoshisRequired int64  `json:"satoshisRequired"`
	DerivationPrefix string `json:"derivationPrefix"`
	ProviderKey      string `json:"providerIdentityKey"`
	FeeSats          int64  `json:"feeSatoshis"`
	FeeDerivationSuffix string `json:"feeDerivationSuffix"`
	FeeIdentityKey   string `json:"feeIdentityKey"`
}

// Proof is the client-to-server payment proof (§3), parsed from the
// x-bsv-payment header.
type Proof struct {
	DerivationPrefix string `json:"derivationPrefix"`
	DerivationSuffix string `json:"derivationSuffix"`
	Transaction      string `json:"transaction"`
}

// Response is returned to the HTTP layer for it to render.
type Response struct {
	Status  int
	Headers map[string]string
	Body    any
}

// Metrics are the Prometheus collectors the dispatcher updates per call.
type Metrics struct {
	Calls   *prometheus.CounterVec
	Latency *prometheus.HistogramVec
}

// NewMetrics registers and returns the dispatcher's Prometheus
// collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawsats_capability_calls_total",
			Help: "Total capability calls by capability and outcome.",
		}, []string{"capability", "outcome"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "clawsats_capability_call_duration_seconds",
			Help: "Capability handler latency in seconds.",
		}, []string{"capability"}),
	}
	reg.MustRegister(m.Calls, m.Latency)
	return m
}

// Dispatcher is the PaymentDispatcher.
type Dispatcher struct {
	Capabilities *capability.Registry
	Wallet       wallet.Gateway
	Peers        *peerstore.Registry
	Log          *slog.Logger
	Metrics      *Metrics

	dedupe    *fifoSet
	freeTrial *fifoSet

	mu            sync.Mutex
	callStats     map[string]int64
	uniqueCallers map[string]struct{}
	referralMap   map[string]string // identityKey -> referrer identityKey
	referralLedger map[string]int64 // referrer identityKey -> accrued sats
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(caps *capability.Registry, gw wallet.Gateway, peers *peerstore.Registry, log *slog.Logger, metrics *Metrics) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		Capabilities:   caps,
		Wallet:         gw,
		Peers:          peers,
		Log:            log,
		Metrics:        metrics,
		dedupe:         newFIFOSet(dedupeCacheCapacity),
		freeTrial:      newFIFOSet(freeTrialCacheCapacity),
		callStats:      make(map[string]int64),
		uniqueCallers:  make(map[string]struct{}),
		referralMap:    make(map[string]string),
		referralLedger: make(map[string]int64),
	}
}

// HandleCall drives the §4.6 state machine for an incoming POST
// /call/:cap. paymentHeader and identityHeader are the raw
// x-bsv-payment / x-bsv-identity-key header values (empty if absent).
func (d *Dispatcher) HandleCall(ctx context.Context, capName string, paymentHeader string, identityHeader string, params json.RawMessage) *Response {
	entry, ok := d.Capabilities.Get(capName)
	if !ok {
		return d.errorResponse(capName, fail(404, CodeUnknownCapability, "unknown capability"))
	}

	if paymentHeader == "" {
		return d.handleUnpaidCall(ctx, entry, identityHeader, params)
	}

	var proof Proof
	if err := json.Unmarshal([]byte(paymentHeader), &proof); err != nil || proof.Transaction == "" {
		return d.errorResponse(entry.Name, fail(400, CodeMalformedPayment, "malformed x-bsv-payment header"))
	}

	rawTx, err := base64.StdEncoding.DecodeString(proof.Transaction)
	if err != nil {
		return d.errorResponse(entry.Name, fail(400, CodeMalformedPayment, "transaction is not valid base64"))
	}

	txHash := sha256Hex(rawTx)
	if d.dedupe.Contains(txHash) {
		return d.errorResponse(entry.Name, fail(402, CodePaymentReplay, "payment already consumed"))
	}

	suffix := proof.DerivationSuffix
	if suffix == "" {
		suffix = "clawsats"
	}
	internalized, err := d.Wallet.InternalizePayment(ctx, rawTx, 0, proof.DerivationPrefix, suffix, identityHeader, "clawsats capability call: "+entry.Name)
	if err != nil {
		return d.errorResponse(entry.Name, fail(402, CodePaymentInvalid, err.Error()))
	}
	if internalized.AcceptedSats >= 0 && internalized.AcceptedSats < entry.PriceSats {
		return d.errorResponse(entry.Name, fail(402, CodeUnderpayment, "payment below required price"))
	}

	if outcome := checkFeeOutputStructurally(rawTx); outcome.Reason != "" {
		if outcome.Blocking {
			return d.errorResponse(entry.Name, fail(402, CodeMissingFee, outcome.Reason))
		}
		d.Log.Warn("fee output structural check inconclusive", slog.String("capability", entry.Name), slog.String("reason", outcome.Reason))
	}

	d.dedupe.Insert(txHash)

	result, err := d.invoke(ctx, entry, params)
	if err != nil {
		d.recordOutcome(entry.Name, "handler_error")
		return &Response{Status: 500, Body: map[string]any{"error": "internal handler failure"}}
	}

	receiptObj, err := d.buildReceipt(ctx, entry, identityHeader, entry.PriceSats, result)
	if err != nil {
		d.Log.Error("receipt signing failed", slog.String("error", err.Error()))
		return &Response{Status: 500, Body: map[string]any{"error": "receipt signing failed"}}
	}

	d.recordCaller(identityHeader, true)
	d.recordOutcome(entry.Name, "paid")

	return &Response{
		Status:  200,
		Headers: map[string]string{"x-bsv-payment-satoshis-paid": fmt.Sprintf("%d", entry.PriceSats)},
		Body: map[string]any{
			"result":       result,
			"satoshisPaid": entry.PriceSats,
			"receipt":      receiptObj,
		},
	}
}

func (d *Dispatcher) handleUnpaidCall(ctx context.Context, entry capability.Entry, identityHeader string, params json.RawMessage) *Response {
	if identityHeader != "" && d.freeTrial.Insert(identityHeader) {
		result, err := d.invoke(ctx, entry, params)
		if err != nil {
			d.recordOutcome(entry.Name, "handler_error")
			return &Response{Status: 500, Body: map[string]any{"error": "internal handler failure"}}
		}
		d.recordCaller(identityHeader, false)
		d.recordOutcome(entry.Name, "free_trial")
		return &Response{Status: 200, Body: map[string]any{"result": result, "satoshisPaid": 0, "freeTrial": true}}
	}

	prefix := make([]byte, derivationPrefixBytes)
	if _, err := rand.Read(prefix); err != nil {
		return &Response{Status: 500, Body: map[string]any{"error": "failed to generate derivation prefix"}}
	}
	prefixHex := hex.EncodeToString(prefix)

	d.recordOutcome(entry.Name, "challenge_issued")
	return &Response{
		Status: 402,
		Headers: map[string]string{
			"x-bsv-payment-version":                "1.0",
			"x-bsv-payment-satoshis-required":       fmt.Sprintf("%d", entry.PriceSats),
			"x-bsv-payment-derivation-prefix":       prefixHex,
			"x-bsv-identity-key":                    d.Wallet.IdentityKey(),
			"x-clawsats-fee-satoshis-required":      fmt.Sprintf("%d", FeeSats),
			"x-clawsats-fee-kid":                    FeeKeyID,
			"x-clawsats-fee-derivation-suffix":      FeeDerivationSuffix,
			"x-clawsats-fee-identity-key":           FeeIdentityKey,
		},
		Body: Challenge{
			SatoshisRequired:    entry.PriceSats,
			DerivationPrefix:    prefixHex,
			ProviderKey:         d.Wallet.IdentityKey(),
			FeeSats:             FeeSats,
			FeeDerivationSuffix: FeeDerivationSuffix,
			FeeIdentityKey:      FeeIdentityKey,
		},
	}
}

func (d *Dispatcher) invoke(ctx context.Context, entry capability.Entry, params json.RawMessage) (any, error) {
	start := time.Now()
	result, err := entry.Handler(ctx, params, d.Wallet)
	if d.Metrics != nil {
		d.Metrics.Latency.WithLabelValues(entry.Name).Observe(time.Since(start).Seconds())
	}
	return result, err
}

func (d *Dispatcher) buildReceipt(ctx context.Context, entry capability.Entry, requesterKey string, satoshisPaid int64, result any) (clawreceipt.Receipt, error) {
	resultHash, err := clawreceipt.HashResult(result)
	if err != nil {
		return clawreceipt.Receipt{}, err
	}
	r := clawreceipt.Receipt{
		ID:           uuid.NewString(),
		Capability:   entry.Name,
		ProviderKey:  d.Wallet.IdentityKey(),
		RequesterKey: requesterKey,
		SatoshisPaid: satoshisPaid,
		FeeSats:      FeeSats,
		ResultHash:   resultHash,
		Timestamp:    time.Now().Unix(),
	}
	return clawreceipt.Sign(ctx, d.Wallet, r)
}

func (d *Dispatcher) recordOutcome(capName, outcome string) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.Calls.WithLabelValues(capName, outcome).Inc()
}

func (d *Dispatcher) recordCaller(identityKey string, paid bool) {
	if identityKey == "" {
		return
	}
	d.mu.Lock()
	d.callStats[identityKey]++
	d.uniqueCallers[identityKey] = struct{}{}
	referrer, referred := d.referralMap[identityKey]
	d.mu.Unlock()

	if d.Peers != nil {
		if _, known := d.Peers.Get(identityKey); !known {
			d.Peers.Add(peerstore.Peer{IdentityKey: identityKey, Reputation: 10, LastSeen: time.Now()})
		}
	}
	if referred && paid {
		d.mu.Lock()
		d.referralLedger[referrer]++
		d.mu.Unlock()
	}
}

// RecordReferral records that identityKey was introduced by referrer, so
// future paid calls from identityKey credit referrer's ledger (§4.8
// announce route, §3 Referral).
func (d *Dispatcher) RecordReferral(identityKey, referrer string) {
	if identityKey == "" || referrer == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.referralMap[identityKey] = referrer
}

// ReferralBalance returns the accrued satoshi balance for a referrer.
func (d *Dispatcher) ReferralBalance(referrer string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.referralLedger[referrer]
}

func (d *Dispatcher) errorResponse(capName string, f *Failure) *Response {
	d.recordOutcome(capName, string(f.Code))
	return &Response{Status: f.Status, Body: map[string]any{"error": f.Code, "message": f.Message}}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
