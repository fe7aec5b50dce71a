// Package receipt defines the Receipt artifact (§3) issued at the end of
// every paid capability call, shared by the payment dispatcher (which
// issues receipts) and the verify_receipt capability handler (which
// checks them) without creating a dependency cycle between the two.
package receipt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	clawcrypto "github.com/BSVanon/ClawSats-sub000/crypto"
	"github.com/BSVanon/ClawSats-sub000/wallet"
)

const (
	ProtocolIDVersion = 0
	ProtocolIDName    = "clawsats-receipt"
	KeyID             = "receipt-v1"
)

// Receipt is a signed statement that a specific paid call happened and
// produced a result with a given hash (§3 Receipt).
type Receipt struct {
	ID              string `json:"receiptId"`
	Capability      string `json:"capability"`
	ProviderKey     string `json:"providerIdentityKey"`
	RequesterKey    string `json:"requesterIdentityKey"`
	SatoshisPaid    int64  `json:"satoshisPaid"`
	FeeSats         int64  `json:"feeSats"`
	ResultHash      string `json:"resultHash"`
	Timestamp       int64  `json:"timestamp"`
	Signature       string `json:"signature,omitempty"`
}

// HashResult computes sha256(canonicalJson(result)) for the ResultHash
// field.
func HashResult(result any) (string, error) {
	canon, err := clawcrypto.CanonicalJSON(result)
	if err != nil {
		return "", fmt.Errorf("receipt: canonicalize result: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

func protocolID() wallet.ProtocolID {
	return wallet.ProtocolID{ProtocolIDVersion, ProtocolIDName}
}

// Sign signs r (minus its own signature field) with gw, using the
// provider's own identity as signer and no fixed counterparty.
func Sign(ctx context.Context, gw wallet.Gateway, r Receipt) (Receipt, error) {
	data, err := clawcrypto.CanonicalJSONWithout(r, "signature")
	if err != nil {
		return Receipt{}, err
	}
	sig, err := gw.Sign(ctx, data, protocolID(), KeyID, "")
	if err != nil {
		return Receipt{}, fmt.Errorf("receipt: sign: %w", err)
	}
	r.Signature = string(sig)
	return r, nil
}

// Verify checks r's signature against the provider's identity key.
func Verify(ctx context.Context, gw wallet.Gateway, r Receipt) (bool, error) {
	if r.Signature == "" {
		return false, nil
	}
	data, err := clawcrypto.CanonicalJSONWithout(r, "signature")
	if err != nil {
		return false, err
	}
	return gw.Verify(ctx, r.ProviderKey, data, []byte(r.Signature), protocolID(), KeyID, "")
}
