// Package wallet defines the narrow façade ClawSats core components use
// to reach the underlying BSV wallet (§4.5 WalletGateway), plus the
// in-process reference driver used for tests and for running a
// constellation of nodes without a wallet daemon.
package wallet

import "context"

// ProtocolID mirrors the wallet toolbox's [securityLevel, protocol] pair.
type ProtocolID [2]any

// PaymentOutput is one element of the outputs slice passed to
// BuildAndBroadcastPayment.
type PaymentOutput struct {
	Amount uint64
	Script []byte
	Note   string
}

// BroadcastResult is returned by BuildAndBroadcastPayment.
type BroadcastResult struct {
	RawTx []byte
	TxID  string
}

// InternalizeResult is returned by InternalizePayment. AcceptedSats is the
// amount the wallet actually recognizes at the given output index; a
// negative value signals "unspecified" per the driver's own semantics —
// callers must not treat a negative value as a satoshi amount.
type InternalizeResult struct {
	AcceptedSats int64
}

// Gateway is the only interface the core depends on (§4.5); the rest of
// the spec treats it as opaque. A concrete driver (MemoryGateway here, a
// real BRC-100 wallet-toolbox client in production) implements it.
type Gateway interface {
	// Sign produces a signature over data using the key derived from
	// (protocolID, keyID, counterparty).
	Sign(ctx context.Context, data []byte, protocolID ProtocolID, keyID string, counterparty string) ([]byte, error)

	// Verify checks a signature produced by Sign for the given signer
	// identity key.
	Verify(ctx context.Context, signerIdentityKey string, data []byte, signature []byte, protocolID ProtocolID, keyID string, counterparty string) (bool, error)

	// DerivePaymentScript derives the locking script a payment to
	// recipientIdentityKey under (derivationPrefix, derivationSuffix)
	// should pay.
	DerivePaymentScript(ctx context.Context, recipientIdentityKey, derivationPrefix, derivationSuffix string) ([]byte, error)

	// IdentityKey returns this wallet's own identity key.
	IdentityKey() string

	// BuildAndBroadcastPayment constructs and (in production) broadcasts a
	// transaction paying the given outputs.
	BuildAndBroadcastPayment(ctx context.Context, outputs []PaymentOutput, description string, labels []string) (BroadcastResult, error)

	// InternalizePayment validates that rawTx's output at outputIndex pays
	// this wallet under (derivationPrefix, derivationSuffix) and, if so,
	// recognizes the funds.
	InternalizePayment(ctx context.Context, rawTx []byte, outputIndex int, derivationPrefix, derivationSuffix, senderIdentityKey, description string) (InternalizeResult, error)
}
