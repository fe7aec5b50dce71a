package wallet

import (
	"encoding/binary"
	"fmt"
)

// TxOutput is one parsed transaction output.
type TxOutput struct {
	Satoshis uint64
	Script   []byte
}

// TxInput is one parsed transaction input.
type TxInput struct {
	PrevTxID []byte
	PrevVout uint32
	Script   []byte
	Sequence uint32
}

// TxLayout is the parsed shape of a (possibly BEEF-wrapped) transaction,
// §4.6 step 7 / §9 "Tx envelope parsing" design note: a small, well-tested
// parser returning an explicit layout-or-error, never panicking on
// malformed input. Failure of this check is defense-in-depth only — the
// authoritative payment gate is the wallet's InternalizePayment response.
type TxLayout struct {
	Version  uint32
	Inputs   []TxInput
	Outputs  []TxOutput
	LockTime uint32
}

// ErrTruncated signals the parser ran out of bytes mid-field; callers
// should treat this as "uncertain", not "definitely invalid" (§9).
var ErrTruncated = fmt.Errorf("wallet: truncated transaction")

// ParseTransaction parses a standard Bitcoin transaction, optionally
// skipping a leading BEEF/Atomic-BEEF envelope. BEEF detection looks for
// magic bytes 0xbe 0xef at offset 2-3; when present, this parser skips
// past the envelope's version-prefix framing by scanning for the first
// embedded raw transaction, per §4.6 step 7.
func ParseTransaction(raw []byte) (TxLayout, error) {
	body := raw
	if isBEEF(raw) {
		skipped, err := skipBEEFEnvelope(raw)
		if err != nil {
			return TxLayout{}, err
		}
		body = skipped
	}
	return parseRawTransaction(body)
}

func isBEEF(raw []byte) bool {
	return len(raw) >= 4 && raw[2] == 0xbe && raw[3] == 0xef
}

// skipBEEFEnvelope strips the BEEF version prefix (4 bytes) so the
// remaining bytes begin at the BUMP/transaction list; ClawSats only needs
// the final, fully-signed transaction for the fee-output structural
// check, so it scans forward for a byte offset that parses as a
// syntactically valid raw transaction, bailing out with ErrTruncated if
// none is found within the envelope.
func skipBEEFEnvelope(raw []byte) ([]byte, error) {
	if len(raw) < 4 {
		return nil, ErrTruncated
	}
	for offset := 4; offset < len(raw); offset++ {
		if _, err := parseRawTransaction(raw[offset:]); err == nil {
			return raw[offset:], nil
		}
	}
	return nil, ErrTruncated
}

func parseRawTransaction(b []byte) (TxLayout, error) {
	r := &byteReader{data: b}

	version, err := r.uint32LE()
	if err != nil {
		return TxLayout{}, ErrTruncated
	}

	inputCount, err := r.varint()
	if err != nil {
		return TxLayout{}, ErrTruncated
	}
	inputs := make([]TxInput, 0, inputCount)
	for i := uint64(0); i < inputCount; i++ {
		prevTxID, err := r.bytes(32)
		if err != nil {
			return TxLayout{}, ErrTruncated
		}
		prevVout, err := r.uint32LE()
		if err != nil {
			return TxLayout{}, ErrTruncated
		}
		scriptLen, err := r.varint()
		if err != nil {
			return TxLayout{}, ErrTruncated
		}
		script, err := r.bytes(int(scriptLen))
		if err != nil {
			return TxLayout{}, ErrTruncated
		}
		sequence, err := r.uint32LE()
		if err != nil {
			return TxLayout{}, ErrTruncated
		}
		inputs = append(inputs, TxInput{PrevTxID: prevTxID, PrevVout: prevVout, Script: script, Sequence: sequence})
	}

	outputCount, err := r.varint()
	if err != nil {
		return TxLayout{}, ErrTruncated
	}
	outputs := make([]TxOutput, 0, outputCount)
	for i := uint64(0); i < outputCount; i++ {
		sats, err := r.uint64LE()
		if err != nil {
			return TxLayout{}, ErrTruncated
		}
		scriptLen, err := r.varint()
		if err != nil {
			return TxLayout{}, ErrTruncated
		}
		script, err := r.bytes(int(scriptLen))
		if err != nil {
			return TxLayout{}, ErrTruncated
		}
		outputs = append(outputs, TxOutput{Satoshis: sats, Script: script})
	}

	lockTime, err := r.uint32LE()
	if err != nil {
		return TxLayout{}, ErrTruncated
	}

	return TxLayout{Version: version, Inputs: inputs, Outputs: outputs, LockTime: lockTime}, nil
}

// HasFeeOutput reports whether layout has at least 2 outputs and at least
// one output at index > 0 paying at least feeSats (§4.6 step 7).
func (l TxLayout) HasFeeOutput(feeSats uint64) bool {
	if len(l.Outputs) < 2 {
		return false
	}
	for i, out := range l.Outputs {
		if i == 0 {
			continue
		}
		if out.Satoshis >= feeSats {
			return true
		}
	}
	return false
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, ErrTruncated
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *byteReader) uint32LE() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *byteReader) uint64LE() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// varint decodes a Bitcoin CompactSize integer.
func (r *byteReader) varint() (uint64, error) {
	prefix, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	switch prefix[0] {
	case 0xfd:
		b, err := r.bytes(2)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 0xfe:
		b, err := r.bytes(4)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 0xff:
		b, err := r.bytes(8)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b), nil
	default:
		return uint64(prefix[0]), nil
	}
}

// encodeVarint encodes n as a Bitcoin CompactSize integer.
func encodeVarint(n uint64) []byte {
	switch {
	case n < 0xfd:
		return []byte{byte(n)}
	case n <= 0xffff:
		b := make([]byte, 3)
		b[0] = 0xfd
		binary.LittleEndian.PutUint16(b[1:], uint16(n))
		return b
	case n <= 0xffffffff:
		b := make([]byte, 5)
		b[0] = 0xfe
		binary.LittleEndian.PutUint32(b[1:], uint32(n))
		return b
	default:
		b := make([]byte, 9)
		b[0] = 0xff
		binary.LittleEndian.PutUint64(b[1:], n)
		return b
	}
}
