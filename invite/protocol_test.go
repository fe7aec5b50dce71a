package invite

import (
	"context"
	"testing"
	"time"

	clawcrypto "github.com/BSVanon/ClawSats-sub000/crypto"
	"github.com/BSVanon/ClawSats-sub000/wallet"
)

func TestInvitationSignVerifyRoundTrip(t *testing.T) {
	root, _ := clawcrypto.GeneratePrivateKey()
	gw := wallet.NewMemoryGateway(root)
	proto := NewProtocol(gw)
	ctx := context.Background()

	inv, err := proto.CreateInvitation(ctx,
		Party{ClawID: "claw-a", IdentityKey: gw.IdentityKey(), Endpoint: "https://a.example"},
		Party{ClawID: "claw-b"},
		WalletSnapshot{Chain: "main", Capabilities: []string{"echo"}},
		CreateOpts{})
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}

	if res := ValidateInvitation(inv); !res.Valid {
		t.Fatalf("expected structurally valid invitation, got reason=%q", res.Reason)
	}

	ok, err := proto.VerifyInvitationSignature(ctx, inv, "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}
}

func TestValidateInvitationRejectsExpired(t *testing.T) {
	inv := Invitation{
		Sender:  Party{IdentityKey: "k"},
		Nonce:   "n",
		Wallet:  WalletSnapshot{Chain: "main"},
		Expires: time.Now().Add(-time.Minute).Unix(),
	}
	res := ValidateInvitation(inv)
	if res.Valid {
		t.Fatalf("expected expired invitation to be rejected")
	}
}

func TestVerifyInvitationSignatureRejectsEmpty(t *testing.T) {
	root, _ := clawcrypto.GeneratePrivateKey()
	gw := wallet.NewMemoryGateway(root)
	proto := NewProtocol(gw)
	ok, err := proto.VerifyInvitationSignature(context.Background(), Invitation{}, "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("expected empty signature to fail verification")
	}
}

func TestAnnouncementSignVerifyRoundTrip(t *testing.T) {
	root, _ := clawcrypto.GeneratePrivateKey()
	gw := wallet.NewMemoryGateway(root)
	proto := NewProtocol(gw)
	ctx := context.Background()

	ann, err := proto.CreateAnnouncement(ctx, "claw-a", gw.IdentityKey(),
		[]CapabilityDescriptor{{Name: "echo", Endpoint: "https://a.example/call/echo", CostPerCall: 10}},
		NetworkInfo{Chain: "main", Endpoint: "https://a.example"}, "")
	if err != nil {
		t.Fatalf("create announcement: %v", err)
	}
	ok, err := proto.VerifyAnnouncementSignature(ctx, ann)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected announcement signature to verify")
	}
}
