package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Sign produces a base64-encoded ECDSA signature over sha256(data) using
// the child key derived for (protocolID, keyID, counterparty).
func Sign(root *PrivateKey, data []byte, protocolID [2]any, keyID string, counterparty string) (string, error) {
	child, err := DeriveChildKey(root, protocolID, keyID, counterparty)
	if err != nil {
		return "", fmt.Errorf("crypto: derive signing key: %w", err)
	}
	digest := sha256.Sum256(data)
	sig, err := crypto.Sign(digest[:], child.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: sign: %w", err)
	}
	// Drop the recovery byte; verification below is by known public key,
	// not by recovery, so only the 64-byte R||S portion is retained.
	return base64.StdEncoding.EncodeToString(sig[:64]), nil
}

// Verify checks a base64 signature against the child public key derived
// from the signer's identity key for (protocolID, keyID, counterparty).
func Verify(signerIdentityKey string, data []byte, signatureB64 string, protocolID [2]any, keyID string, counterparty string) (bool, error) {
	if signatureB64 == "" {
		return false, nil
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false, nil
	}
	if len(sig) != 64 {
		return false, nil
	}
	signerPub, err := ParseIdentityKey(signerIdentityKey)
	if err != nil {
		return false, err
	}
	childPub, err := DeriveChildPublicKey(signerPub, protocolID, keyID, counterparty)
	if err != nil {
		return false, fmt.Errorf("crypto: derive verification key: %w", err)
	}
	digest := sha256.Sum256(data)
	return crypto.VerifySignature(childPub.CompressedBytes(), digest[:], sig), nil
}
