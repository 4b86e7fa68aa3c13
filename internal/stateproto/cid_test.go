package stateproto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestCIDRoundTrip(t *testing.T) {
	h := common.HexToHash("0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")

	cid := HashToCID(h)
	got := CIDToHash(cid)
	if got != h {
		t.Fatalf("CID round trip mismatch: %s vs %s", got.Hex(), h.Hex())
	}
}

func TestCIDToHashRejectsMalformed(t *testing.T) {
	zero := common.Hash{}

	if got := CIDToHash("not-a-cid-!!"); got != zero {
		t.Fatalf("expected zero hash for invalid base58, got %s", got.Hex())
	}
	if got := CIDToHash("z"); got != zero {
		t.Fatalf("expected zero hash for too-short payload, got %s", got.Hex())
	}
}
