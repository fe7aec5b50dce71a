package wallet

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	clawcrypto "github.com/BSVanon/ClawSats-sub000/crypto"
)

// MemoryGateway is a deterministic, in-process Gateway driver. It derives
// child keys via HKDF the same way a real BRC-42/43 wallet would, and
// records outputs it has "broadcast" in an in-memory ledger. Payments are
// accepted by parsing the raw transaction, so a constellation of
// MemoryGateway-backed nodes can drive the full payment state machine
// end-to-end without a chain.
type MemoryGateway struct {
	root *clawcrypto.PrivateKey

	mu      sync.Mutex
	ledger  map[string]pendingOutput // txid:outputIndex -> output
}

type pendingOutput struct {
	script []byte
	amount uint64
}

// NewMemoryGateway constructs a MemoryGateway rooted at the given key.
func NewMemoryGateway(root *clawcrypto.PrivateKey) *MemoryGateway {
	return &MemoryGateway{
		root:   root,
		ledger: make(map[string]pendingOutput),
	}
}

// IdentityKey returns the gateway's own identity key.
func (g *MemoryGateway) IdentityKey() string {
	return g.root.IdentityKey()
}

// Sign implements Gateway.
func (g *MemoryGateway) Sign(_ context.Context, data []byte, protocolID ProtocolID, keyID string, counterparty string) ([]byte, error) {
	sigB64, err := clawcrypto.Sign(g.root, data, [2]any{protocolID[0], protocolID[1]}, keyID, counterparty)
	if err != nil {
		return nil, err
	}
	return []byte(sigB64), nil
}

// Verify implements Gateway.
func (g *MemoryGateway) Verify(_ context.Context, signerIdentityKey string, data []byte, signature []byte, protocolID ProtocolID, keyID string, counterparty string) (bool, error) {
	return clawcrypto.Verify(signerIdentityKey, data, string(signature), [2]any{protocolID[0], protocolID[1]}, keyID, counterparty)
}

// DerivePaymentScript derives a P2PKH-shaped locking script from the
// recipient's identity key and the derivation salts. The pubkey-hash
// analogue here is sha256(derivedPubkey)[:20] rather than hash160, since
// no ripemd160 implementation is present in the reference corpus; this
// is noted as a deliberate simplification.
func (g *MemoryGateway) DerivePaymentScript(_ context.Context, recipientIdentityKey, derivationPrefix, derivationSuffix string) ([]byte, error) {
	recipient, err := clawcrypto.ParseIdentityKey(recipientIdentityKey)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid recipient identity key: %w", err)
	}
	keyID := derivationPrefix + " " + derivationSuffix
	derived, err := clawcrypto.DeriveChildPublicKey(recipient, [2]any{2, "3241645161d8"}, keyID, "")
	if err != nil {
		return nil, fmt.Errorf("wallet: derive payment script: %w", err)
	}
	return lockingScriptFor(derived.CompressedBytes()), nil
}

func lockingScriptFor(compressedPubkey []byte) []byte {
	hash := sha256.Sum256(compressedPubkey)
	pubkeyHash := hash[:20]
	script := make([]byte, 0, 25)
	script = append(script, 0x76, 0xa9, 0x14)
	script = append(script, pubkeyHash...)
	script = append(script, 0x88, 0xac)
	return script
}

// BuildAndBroadcastPayment assembles a minimal valid transaction paying
// the given outputs and registers its outputs in the in-memory ledger.
// InternalizePayment does not consult the ledger.
func (g *MemoryGateway) BuildAndBroadcastPayment(_ context.Context, outputs []PaymentOutput, _ string, _ []string) (BroadcastResult, error) {
	raw := encodeMinimalTx(outputs)
	sum := sha256.Sum256(raw)
	txid := hex.EncodeToString(sum[:])

	g.mu.Lock()
	for i, out := range outputs {
		g.ledger[fmt.Sprintf("%s:%d", txid, i)] = pendingOutput{script: out.Script, amount: out.Amount}
	}
	g.mu.Unlock()

	return BroadcastResult{RawTx: raw, TxID: txid}, nil
}

// InternalizePayment validates that rawTx's output at outputIndex pays
// this wallet's derived script for (derivationPrefix, derivationSuffix)
// and, if so, reports the satoshi amount found there.
func (g *MemoryGateway) InternalizePayment(ctx context.Context, rawTx []byte, outputIndex int, derivationPrefix, derivationSuffix, senderIdentityKey, _ string) (InternalizeResult, error) {
	layout, err := ParseTransaction(rawTx)
	if err != nil {
		return InternalizeResult{}, fmt.Errorf("wallet: parse transaction: %w", err)
	}
	if outputIndex < 0 || outputIndex >= len(layout.Outputs) {
		return InternalizeResult{}, fmt.Errorf("wallet: output index %d out of range", outputIndex)
	}

	expectedScript, err := g.DerivePaymentScript(ctx, g.IdentityKey(), derivationPrefix, derivationSuffix)
	if err != nil {
		return InternalizeResult{}, err
	}

	out := layout.Outputs[outputIndex]
	if !bytesEqual(out.Script, expectedScript) {
		return InternalizeResult{}, fmt.Errorf("wallet: output %d does not pay this wallet's derived script", outputIndex)
	}
	return InternalizeResult{AcceptedSats: int64(out.Satoshis)}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// encodeMinimalTx produces a well-formed (non-BEEF) transaction byte
// layout understood by ParseTransaction: version, a single dummy input,
// then the caller's outputs, then a zero locktime.
func encodeMinimalTx(outputs []PaymentOutput) []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, 1, 0, 0, 0) // version
	buf = append(buf, 1)         // one dummy input
	buf = append(buf, make([]byte, 32)...) // prev txid
	buf = append(buf, 0xff, 0xff, 0xff, 0xff) // prev vout
	buf = append(buf, 0) // empty unlocking script
	buf = append(buf, 0xff, 0xff, 0xff, 0xff) // sequence
	buf = append(buf, byte(len(outputs)))
	for _, out := range outputs {
		amt := make([]byte, 8)
		binary.LittleEndian.PutUint64(amt, out.Amount)
		buf = append(buf, amt...)
		buf = append(buf, encodeVarint(uint64(len(out.Script)))...)
		buf = append(buf, out.Script...)
	}
	buf = append(buf, 0, 0, 0, 0) // locktime
	return buf
}
