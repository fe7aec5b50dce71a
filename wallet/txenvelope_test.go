package wallet

import "testing"

func TestEncodeDecodeMinimalTxRoundTrip(t *testing.T) {
	outputs := []PaymentOutput{
		{Amount: 10, Script: []byte{0x76, 0xa9}},
		{Amount: 2, Script: []byte{0x51}},
	}
	raw := encodeMinimalTx(outputs)
	layout, err := ParseTransaction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(layout.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(layout.Outputs))
	}
	if layout.Outputs[0].Satoshis != 10 || layout.Outputs[1].Satoshis != 2 {
		t.Fatalf("unexpected output amounts: %+v", layout.Outputs)
	}
}

func TestHasFeeOutput(t *testing.T) {
	layout := TxLayout{Outputs: []TxOutput{{Satoshis: 100}, {Satoshis: 2}}}
	if !layout.HasFeeOutput(2) {
		t.Fatalf("expected fee output to satisfy threshold")
	}
	if layout.HasFeeOutput(3) {
		t.Fatalf("expected fee output below threshold to fail")
	}
}

func TestHasFeeOutputRequiresTwoOutputs(t *testing.T) {
	layout := TxLayout{Outputs: []TxOutput{{Satoshis: 100}}}
	if layout.HasFeeOutput(0) {
		t.Fatalf("expected single-output tx to fail fee check regardless of threshold")
	}
}

func TestParseTransactionTruncated(t *testing.T) {
	if _, err := ParseTransaction([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected truncated parse to error")
	}
}

func TestParseTransactionSkipsBEEFPrefix(t *testing.T) {
	inner := encodeMinimalTx([]PaymentOutput{{Amount: 5, Script: []byte{0x51}}})
	wrapped := append([]byte{0x00, 0x00, 0xbe, 0xef}, inner...)
	layout, err := ParseTransaction(wrapped)
	if err != nil {
		t.Fatalf("parse beef-wrapped tx: %v", err)
	}
	if len(layout.Outputs) != 1 || layout.Outputs[0].Satoshis != 5 {
		t.Fatalf("unexpected layout: %+v", layout)
	}
}
