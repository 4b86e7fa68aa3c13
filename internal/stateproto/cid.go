package stateproto

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// HashToCID encodes a deployment content hash as its base58 sha2-256
// multihash "CID" string (CIDv0), the same 34-byte
// `0x12 0x20`-prefixed form the wire protocol's deploymentId strings use.
func HashToCID(h common.Hash) string {
	mh, err := multihash.Encode(h.Bytes(), multihash.SHA2_256)
	if err != nil {
		return ""
	}
	return cid.NewCidV0(mh).String()
}

// CIDToHash decodes a base58 multihash "CID" string back to its
// deployment hash. Malformed input (wrong length, bad base58, non-CIDv0
// digest) yields the zero hash, matching the codec law that malformed
// CIDs decode to 0x00...00 rather than erroring.
func CIDToHash(s string) common.Hash {
	c, err := cid.Decode(s)
	if err != nil {
		return common.Hash{}
	}
	decoded, err := multihash.Decode(c.Hash())
	if err != nil || decoded.Code != multihash.SHA2_256 || len(decoded.Digest) != common.HashLength {
		return common.Hash{}
	}
	return common.BytesToHash(decoded.Digest)
}
