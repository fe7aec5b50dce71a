package wallet

import (
	"encoding/binary"
	"fmt"
)

// beaconTag is the fixed push preceding the beacon payload (§6 Beacon).
const beaconTag = "CLAWSATS_V1"

// maxBeaconBytes bounds tag+payload together.
const maxBeaconBytes = 220

// BeaconPayload holds the fixed-order fields encoded into an OP_RETURN
// beacon: {v, id, ep, ch, cap, ts, sig}.
type BeaconPayload struct {
	V   int    `json:"v"`
	ID  string `json:"id"`
	EP  string `json:"ep"`
	Ch  string `json:"ch"`
	Cap string `json:"cap"`
	TS  int64  `json:"ts"`
	Sig string `json:"sig"`
}

// EncodeBeaconScript builds the `OP_FALSE OP_RETURN <push tag> <push
// payload>` locking script for payload, using canonical JSON for the
// payload bytes (§6). Returns an error if tag plus payload exceed
// maxBeaconBytes; the opcodes and push prefixes are not counted.
func EncodeBeaconScript(canonicalPayload []byte) ([]byte, error) {
	tag := []byte(beaconTag)
	if len(tag)+len(canonicalPayload) > maxBeaconBytes {
		return nil, fmt.Errorf("wallet: beacon tag+payload exceeds %d bytes", maxBeaconBytes)
	}

	script := make([]byte, 0, 4+len(tag)+len(canonicalPayload)+8)
	script = append(script, 0x00) // OP_FALSE
	script = append(script, 0x6a) // OP_RETURN

	pushTag, err := pushData(tag)
	if err != nil {
		return nil, err
	}
	script = append(script, pushTag...)

	pushPayload, err := pushData(canonicalPayload)
	if err != nil {
		return nil, err
	}
	script = append(script, pushPayload...)

	return script, nil
}

// pushData encodes data with the minimal Bitcoin pushdata opcode per §6:
// direct push for <=75 bytes, OP_PUSHDATA1 (0x4c) for <=255, OP_PUSHDATA2
// (0x4d, little-endian length) for <=65535, else fail.
func pushData(data []byte) ([]byte, error) {
	n := len(data)
	switch {
	case n <= 75:
		out := make([]byte, 0, 1+n)
		out = append(out, byte(n))
		out = append(out, data...)
		return out, nil
	case n <= 255:
		out := make([]byte, 0, 2+n)
		out = append(out, 0x4c, byte(n))
		out = append(out, data...)
		return out, nil
	case n <= 65535:
		out := make([]byte, 0, 3+n)
		length := make([]byte, 2)
		binary.LittleEndian.PutUint16(length, uint16(n))
		out = append(out, 0x4d)
		out = append(out, length...)
		out = append(out, data...)
		return out, nil
	default:
		return nil, fmt.Errorf("wallet: pushdata too large (%d bytes)", n)
	}
}
