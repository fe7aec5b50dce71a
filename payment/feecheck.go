package payment

import "github.com/BSVanon/ClawSats-sub000/wallet"

// feeCheckOutcome is the result of checkFeeOutputStructurally: Blocking
// is true only for a definitive failure (the tx parsed cleanly but
// carries no qualifying fee output) and should surface as 402
// MISSING_FEE. Parser uncertainty (truncation, unknown envelope) is
// never blocking — the authoritative gate is the wallet's
// InternalizePayment response (§9 "Tx envelope parsing").
type feeCheckOutcome struct {
	Blocking bool
	Reason   string
}

func checkFeeOutputStructurally(rawTx []byte) feeCheckOutcome {
	layout, err := wallet.ParseTransaction(rawTx)
	if err != nil {
		return feeCheckOutcome{Blocking: false, Reason: "transaction envelope could not be parsed: " + err.Error()}
	}
	if !layout.HasFeeOutput(FeeSats) {
		return feeCheckOutcome{Blocking: true, Reason: "no output at index > 0 meets the fee threshold"}
	}
	return feeCheckOutcome{}
}
