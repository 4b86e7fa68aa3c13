package stateproto

import "encoding/hex"

// HexString renders a signature as lowercase hex, no 0x prefix —
// matching the wire format used in coordinator mutations and the
// legacy JSON state encodings.
func (s Signature) HexString() string {
	return hex.EncodeToString(s[:])
}

// SignatureFromHex parses a hex-encoded signature, 0x-prefix optional.
// Malformed input yields the zero signature rather than an error,
// matching the tolerant parsing the original wire protocol uses for
// this field (a bad signature simply fails later recovery).
func SignatureFromHex(s string) Signature {
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Signature{}
	}
	var out Signature
	if len(raw) >= 65 {
		copy(out[:], raw[:65])
	} else {
		copy(out[:], raw)
	}
	return out
}
