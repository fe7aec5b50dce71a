package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BSVanon/ClawSats-sub000/capability"
	clawcrypto "github.com/BSVanon/ClawSats-sub000/crypto"
	clawreceipt "github.com/BSVanon/ClawSats-sub000/receipt"
	"github.com/BSVanon/ClawSats-sub000/wallet"
)

func TestVerifyFeeConstant(t *testing.T) {
	if err := VerifyFeeConstant(); err != nil {
		t.Fatalf("fee constant digest mismatch: %v", err)
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *wallet.MemoryGateway) {
	t.Helper()
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
		t.Fatalf("register: %v", err)
	}

	metrics := NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(caps, gw, nil, nil, metrics)
	return d, gw
}

func TestHappyPathPaidCall(t *testing.T) {
	d, gw := newTestDispatcher(t)
	ctx := context.Background()
	params, _ := json.Marshal(map[string]string{"message": "hi"})

	challenge := d.HandleCall(ctx, "echo", "", "", params)
	if challenge.Status != 402 {
		t.Fatalf("expected 402 challenge, got %d", challenge.Status)
	}
	prefix := challenge.Headers["x-bsv-payment-derivation-prefix"]
	if prefix == "" {
		t.Fatalf("expected non-empty derivation prefix")
	}

	script, err := gw.DerivePaymentScript(ctx, gw.IdentityKey(), prefix, "clawsats")
	if err != nil {
		t.Fatalf("derive script: %v", err)
	}
	broadcast, err := gw.BuildAndBroadcastPayment(ctx, []wallet.PaymentOutput{
		{Amount: 10, Script: script},
		{Amount: FeeSats, Script: []byte{0x51}},
	}, "test", nil)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	proof := Proof{DerivationPrefix: prefix, Transaction: base64.StdEncoding.EncodeToString(broadcast.RawTx)}
	proofJSON, _ := json.Marshal(proof)

	paid := d.HandleCall(ctx, "echo", string(proofJSON), "requester-key", params)
	if paid.Status != 200 {
		t.Fatalf("expected 200, got %d body=%v", paid.Status, paid.Body)
	}
	body := paid.Body.(map[string]any)
	if body["satoshisPaid"].(int64) != 10 {
		t.Fatalf("expected satoshisPaid=10, got %v", body["satoshisPaid"])
	}
	r := body["receipt"].(clawreceipt.Receipt)
	ok, err := clawreceipt.Verify(ctx, gw, r)
	if err != nil {
		t.Fatalf("verify receipt: %v", err)
	}
	if !ok {
		t.Fatalf("expected receipt signature to verify")
	}
}

func TestPaymentReplayRejected(t *testing.T) {
	d, gw := newTestDispatcher(t)
	ctx := context.Background()
	params, _ := json.Marshal(map[string]string{"message": "hi"})

	challenge := d.HandleCall(ctx, "echo", "", "", params)
	prefix := challenge.Headers["x-bsv-payment-derivation-prefix"]
	script, _ := gw.DerivePaymentScript(ctx, gw.IdentityKey(), prefix, "clawsats")
	broadcast, _ := gw.BuildAndBroadcastPayment(ctx, []wallet.PaymentOutput{
		{Amount: 10, Script: script},
		{Amount: FeeSats, Script: []byte{0x51}},
	}, "test", nil)
	proof := Proof{DerivationPrefix: prefix, Transaction: base64.StdEncoding.EncodeToString(broadcast.RawTx)}
	proofJSON, _ := json.Marshal(proof)

	first := d.HandleCall(ctx, "echo", string(proofJSON), "requester-key", params)
	if first.Status != 200 {
		t.Fatalf("expected first call to succeed, got %d", first.Status)
	}

	second := d.HandleCall(ctx, "echo", string(proofJSON), "requester-key", params)
	if second.Status != 402 {
		t.Fatalf("expected replay to be rejected with 402, got %d", second.Status)
	}
	body := second.Body.(map[string]any)
	if body["error"] != CodePaymentReplay {
		t.Fatalf("expected PAYMENT_REPLAY, got %v", body["error"])
	}
}

func TestFreeTrialOncePerIdentity(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	params, _ := json.Marshal(map[string]string{"message": "hi"})

	first := d.HandleCall(ctx, "echo", "", "new-caller", params)
	if first.Status != 200 {
		t.Fatalf("expected free trial to succeed, got %d", first.Status)
	}
	body := first.Body.(map[string]any)
	if body["freeTrial"] != true {
		t.Fatalf("expected freeTrial=true")
	}

	second := d.HandleCall(ctx, "echo", "", "new-caller", params)
	if second.Status != 402 {
		t.Fatalf("expected second unpaid call to fall through to a challenge, got %d", second.Status)
	}
}

func TestUnknownCapability(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.HandleCall(context.Background(), "nonexistent", "", "", nil)
	if resp.Status != 404 {
		t.Fatalf("expected 404, got %d", resp.Status)
	}
}
