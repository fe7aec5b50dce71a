package invite

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	clawcrypto "github.com/BSVanon/ClawSats-sub000/crypto"
	"github.com/BSVanon/ClawSats-sub000/wallet"
)

// Protocol constructs and verifies the three signed artifacts, sharing
// canonicalForSigning instead of a type hierarchy (§9).
type Protocol struct {
	gw wallet.Gateway
}

// NewProtocol constructs a Protocol bound to gw for signing/verification.
func NewProtocol(gw wallet.Gateway) *Protocol {
	return &Protocol{gw: gw}
}

// CreateOpts customizes invitation/announcement/query construction.
type CreateOpts struct {
	TTL time.Duration
}

func (o CreateOpts) ttlOrDefault() time.Duration {
	if o.TTL > 0 {
		return o.TTL
	}
	return DefaultTTLSeconds * time.Second
}

func randomNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// canonicalForSigning returns the canonical JSON of v with its signature
// field removed — the one routine shared by signing and verification for
// every artifact in this package (§9 design note, §6 Canonical JSON).
func canonicalForSigning(v any) ([]byte, error) {
	return clawcrypto.CanonicalJSONWithout(v, "signature")
}

func protocolIDFor() wallet.ProtocolID {
	return wallet.ProtocolID{ProtocolIDVersion, ProtocolIDName}
}

// CreateInvitation fills an Invitation's fields with a random id and
// nonce, signs it over its canonical JSON minus signature, and returns
// the completed artifact.
func (p *Protocol) CreateInvitation(ctx context.Context, sender Party, recipient Party, walletSnapshot WalletSnapshot, opts CreateOpts) (Invitation, error) {
	nonce, err := randomNonce()
	if err != nil {
		return Invitation{}, fmt.Errorf("invite: generate nonce: %w", err)
	}
	now := time.Now()
	inv := Invitation{
		ProtocolID: ProtocolIDVersion,
		Version:    "1.0",
		ID:         uuid.NewString(),
		Nonce:      nonce,
		Sender:     sender,
		Recipient:  recipient,
		Wallet:     walletSnapshot,
		Expires:    now.Add(opts.ttlOrDefault()).Unix(),
		Timestamp:  now.UTC().Format(time.RFC3339),
	}

	data, err := canonicalForSigning(inv)
	if err != nil {
		return Invitation{}, err
	}
	counterparty := recipient.IdentityKey
	sig, err := p.gw.Sign(ctx, data, protocolIDFor(), KeyID, counterparty)
	if err != nil {
		return Invitation{}, fmt.Errorf("invite: sign invitation: %w", err)
	}
	inv.Signature = string(sig)
	return inv, nil
}

// CreateAnnouncement builds and signs an Announcement.
func (p *Protocol) CreateAnnouncement(ctx context.Context, clawID, identityKey string, caps []CapabilityDescriptor, network NetworkInfo, referredBy string) (Announcement, error) {
	ann := Announcement{
		Type:         "clawsats-announcement",
		Version:      "1.0",
		ID:           uuid.NewString(),
		ClawID:       clawID,
		IdentityKey:  identityKey,
		Capabilities: caps,
		Network:      network,
		ReferredBy:   referredBy,
	}
	data, err := canonicalForSigning(ann)
	if err != nil {
		return Announcement{}, err
	}
	sig, err := p.gw.Sign(ctx, data, protocolIDFor(), KeyID, "")
	if err != nil {
		return Announcement{}, fmt.Errorf("invite: sign announcement: %w", err)
	}
	ann.Signature = string(sig)
	return ann, nil
}

// CreateDiscoveryQuery builds and signs a DiscoveryQuery.
func (p *Protocol) CreateDiscoveryQuery(ctx context.Context, requesterIdentityKey string, wantedTags []string, opts CreateOpts) (DiscoveryQuery, error) {
	nonce, err := randomNonce()
	if err != nil {
		return DiscoveryQuery{}, fmt.Errorf("invite: generate nonce: %w", err)
	}
	q := DiscoveryQuery{
		ProtocolID: ProtocolIDVersion,
		Version:    "1.0",
		QueryID:    uuid.NewString(),
		Requester:  requesterIdentityKey,
		WantedTags: wantedTags,
		Nonce:      nonce,
		Expires:    time.Now().Add(opts.ttlOrDefault()).Unix(),
	}
	data, err := canonicalForSigning(q)
	if err != nil {
		return DiscoveryQuery{}, err
	}
	sig, err := p.gw.Sign(ctx, data, protocolIDFor(), KeyID, "")
	if err != nil {
		return DiscoveryQuery{}, fmt.Errorf("invite: sign discovery query: %w", err)
	}
	q.Signature = string(sig)
	return q, nil
}

// ValidationResult is the result of a structural validation pass.
type ValidationResult struct {
	Valid  bool
	Reason string
}

// ValidateInvitation performs structural checks: sender identity key
// present, nonce present, not expired, chain present (§4.7).
func ValidateInvitation(inv Invitation) ValidationResult {
	if inv.Sender.IdentityKey == "" {
		return ValidationResult{Reason: "missing sender identity key"}
	}
	if inv.Nonce == "" {
		return ValidationResult{Reason: "missing nonce"}
	}
	if inv.Expires != 0 && time.Now().Unix() > inv.Expires {
		return ValidationResult{Reason: "invitation expired"}
	}
	if inv.Wallet.Chain == "" {
		return ValidationResult{Reason: "missing chain"}
	}
	return ValidationResult{Valid: true}
}

// VerifyInvitationSignature rejects an empty signature, reconstructs the
// canonical JSON minus signature, and calls the wallet gateway's verify.
func (p *Protocol) VerifyInvitationSignature(ctx context.Context, inv Invitation, expectedCounterparty string) (bool, error) {
	if inv.Signature == "" {
		return false, nil
	}
	data, err := canonicalForSigning(inv)
	if err != nil {
		return false, err
	}
	return p.gw.Verify(ctx, inv.Sender.IdentityKey, data, []byte(inv.Signature), protocolIDFor(), KeyID, expectedCounterparty)
}

// VerifyAnnouncementSignature verifies an Announcement's signature.
func (p *Protocol) VerifyAnnouncementSignature(ctx context.Context, ann Announcement) (bool, error) {
	if ann.Signature == "" {
		return false, nil
	}
	data, err := canonicalForSigning(ann)
	if err != nil {
		return false, err
	}
	return p.gw.Verify(ctx, ann.IdentityKey, data, []byte(ann.Signature), protocolIDFor(), KeyID, "")
}

// VerifyDiscoveryQuerySignature verifies a DiscoveryQuery's signature.
func (p *Protocol) VerifyDiscoveryQuerySignature(ctx context.Context, q DiscoveryQuery) (bool, error) {
	if q.Signature == "" {
		return false, nil
	}
	data, err := canonicalForSigning(q)
	if err != nil {
		return false, err
	}
	return p.gw.Verify(ctx, q.Requester, data, []byte(q.Signature), protocolIDFor(), KeyID, "")
}
