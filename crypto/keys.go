// Package crypto provides the identity primitives ClawSats nodes use to
// sign and verify every artifact that crosses the wire: invitations,
// announcements, receipts, and payment challenges.
package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// IdentityKeyLen is the length in bytes of a compressed secp256k1 public key.
const IdentityKeyLen = 33

// PrivateKey wraps a secp256k1 signing key.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

// PublicKey wraps a secp256k1 verification key.
type PublicKey struct {
	*ecdsa.PublicKey
}

// GeneratePrivateKey creates a new random secp256k1 key.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromHex parses a 32-byte hex-encoded scalar.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the raw 32-byte scalar.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

// PubKey derives the corresponding public key.
func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// IdentityKey returns the 33-byte compressed public key as lowercase hex,
// the identity key format used throughout the protocol (§3 Identity).
func (k *PrivateKey) IdentityKey() string {
	return k.PubKey().IdentityKey()
}

// IdentityKey returns the 33-byte compressed public key as lowercase hex.
func (k *PublicKey) IdentityKey() string {
	return hex.EncodeToString(crypto.CompressPubkey(k.PublicKey))
}

// CompressedBytes returns the raw 33-byte compressed public key.
func (k *PublicKey) CompressedBytes() []byte {
	return crypto.CompressPubkey(k.PublicKey)
}

// ParseIdentityKey decodes a 66-character hex identity key into a public key.
func ParseIdentityKey(identityKey string) (*PublicKey, error) {
	b, err := hex.DecodeString(identityKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid identity key hex: %w", err)
	}
	if len(b) != IdentityKeyLen {
		return nil, fmt.Errorf("crypto: identity key must be %d bytes, got %d", IdentityKeyLen, len(b))
	}
	pub, err := crypto.DecompressPubkey(b)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid compressed public key: %w", err)
	}
	return &PublicKey{pub}, nil
}

// ValidIdentityKey reports whether s is a syntactically valid identity key:
// 66 hex characters decoding to a point on the curve.
func ValidIdentityKey(s string) bool {
	if len(s) != IdentityKeyLen*2 {
		return false
	}
	_, err := ParseIdentityKey(s)
	return err == nil
}

var errNilKey = errors.New("crypto: nil key")
