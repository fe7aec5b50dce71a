package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

// DeriveChildKey derives a per-(protocolID, keyID, counterparty) child
// signing key from a root key, the BRC-42/43-style scheme the wallet
// contract's sign/verify pair is built on (§4.5). The same info string
// derived here is reproducible from the public side in
// DeriveChildPublicKey, so a counterparty can verify without the root
// private scalar.
func DeriveChildKey(root *PrivateKey, protocolID [2]any, keyID string, counterparty string) (*PrivateKey, error) {
	scalar, err := deriveScalar(root.PubKey(), protocolID, keyID, counterparty)
	if err != nil {
		return nil, err
	}
	curve := crypto.S256()
	childD := new(big.Int).Add(root.D, scalar)
	childD.Mod(childD, curve.Params().N)
	if childD.Sign() == 0 {
		return nil, fmt.Errorf("crypto: derived scalar is zero")
	}
	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = curve
	priv.D = childD
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(childD.Bytes())
	return &PrivateKey{priv}, nil
}

// DeriveChildPublicKey derives the public half of DeriveChildKey's output
// from the root's public key alone, letting a verifier reconstruct the
// signer's child key without ever seeing the root secret.
func DeriveChildPublicKey(root *PublicKey, protocolID [2]any, keyID string, counterparty string) (*PublicKey, error) {
	scalar, err := deriveScalar(root, protocolID, keyID, counterparty)
	if err != nil {
		return nil, err
	}
	curve := crypto.S256()
	offsetX, offsetY := curve.ScalarBaseMult(scalar.Bytes())
	childX, childY := curve.Add(root.X, root.Y, offsetX, offsetY)
	if !curve.IsOnCurve(childX, childY) {
		return nil, fmt.Errorf("crypto: derived public key off curve")
	}
	return &PublicKey{&ecdsa.PublicKey{Curve: curve, X: childX, Y: childY}}, nil
}

// deriveScalar expands (protocolID, keyID, counterparty) into a scalar in
// [1, N-1] via HKDF-SHA256 over the root's compressed public key, so both
// sides of a conversation derive the same offset without a shared secret
// exchange beyond the identity keys they already publish.
func deriveScalar(root *PublicKey, protocolID [2]any, keyID string, counterparty string) (*big.Int, error) {
	info := fmt.Sprintf("clawsats-derive|%v|%s|%s", protocolID, keyID, counterparty)
	reader := hkdf.New(sha256.New, root.CompressedBytes(), nil, []byte(info))
	out := make([]byte, 32)
	if _, err := reader.Read(out); err != nil {
		return nil, fmt.Errorf("crypto: hkdf expand: %w", err)
	}
	curve := crypto.S256()
	scalar := new(big.Int).SetBytes(out)
	scalar.Mod(scalar, curve.Params().N)
	if scalar.Sign() == 0 {
		scalar.SetInt64(1)
	}
	return scalar, nil
}
