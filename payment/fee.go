package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Protocol fee constants (§6, §4.6 step 2/7). A fixed 2-satoshi fee
// output to this hard-coded identity key must be present in every paid
// call. The key's sha256 digest is embedded as a sibling constant and
// checked at startup; a mismatch between the two (e.g. a partial
// find-replace of one without the other) aborts startup rather than
// silently running with an inconsistent fee target. Forks requiring a
// different fee key must bump the protocol version.
const (
	FeeSats                = 2
	FeeKeyID               = "clawsats-fee-v1"
	FeeDerivationSuffix    = "clawsats-fee"
	FeeIdentityKey         = "0222d629e38e5074e4f3d1d51024b94a42d29124d797a03b6284a2f42f570df7b3"
	feeIdentityKeyDigest   = "fa26ed230b53210ee81c36044cb6aaf153d7a65b0c5cc58d0ef1c619c78f88ce"
)

// VerifyFeeConstant recomputes sha256(FeeIdentityKey ASCII-hex) and
// compares it against the embedded digest; callers should abort startup
// on error.
func VerifyFeeConstant() error {
	sum := sha256.Sum256([]byte(FeeIdentityKey))
	got := hex.EncodeToString(sum[:])
	if got != feeIdentityKeyDigest {
		return fmt.Errorf("payment: fee identity key digest mismatch: got %s, want %s", got, feeIdentityKeyDigest)
	}
	return nil
}
