// Package channelstore implements component A: the per-channel PAYG
// state cache, its binary codec, and its Redis-backed persistence and
// reconciliation against coordinator checkpoint events.
package channelstore

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
	"github.com/subquery/indexer-query-gateway/internal/model"
)

// currentVersion is the codec version byte. Decoding any other value is
// a hard error so migrations are always explicit, never silently
// reinterpreted.
const currentVersion = 3

const fixedLen = 1 + 8 + 20 + 32 + 32*5 + 8 + 8 // = 237

// ChannelState is the cached per-channel ledger: spent is the
// gateway's own monotonic ledger, remote is the highest
// consumer-acknowledged spend seen, coordi is the last value accepted
// by the coordinator. Invariant: spent >= remote >= coordi; spent <=
// total.
type ChannelState struct {
	Expiration    int64
	Agent         common.Address
	Deployment    common.Hash
	Price         *big.Int
	Total         *big.Int
	Spent         *big.Int
	Remote        *big.Int
	Coordi        *big.Int
	ConflictStart int64
	ConflictTimes uint64
	Signer        model.ConsumerType
}

// Encode packs the state into its version-prefixed little-endian byte
// layout.
func (s *ChannelState) Encode() []byte {
	buf := make([]byte, fixedLen)
	buf[0] = currentVersion
	binary.LittleEndian.PutUint64(buf[1:9], uint64(s.Expiration))
	copy(buf[9:29], s.Agent.Bytes())
	copy(buf[29:61], s.Deployment.Bytes())
	putU256LE(buf[61:93], s.Price)
	putU256LE(buf[93:125], s.Total)
	putU256LE(buf[125:157], s.Spent)
	putU256LE(buf[157:189], s.Remote)
	putU256LE(buf[189:221], s.Coordi)
	binary.LittleEndian.PutUint64(buf[221:229], uint64(s.ConflictStart))
	binary.LittleEndian.PutUint64(buf[229:237], s.ConflictTimes)
	return append(buf, encodeConsumerType(s.Signer)...)
}

// Decode unpacks a byte layout previously produced by Encode. A version
// byte other than currentVersion is rejected with
// gwerrors.ErrSerializeVersion rather than reinterpreted.
func Decode(raw []byte) (*ChannelState, error) {
	if len(raw) < 1 || raw[0] != currentVersion {
		return nil, gwerrors.New(gwerrors.ErrSerializeVersion, nil)
	}
	if len(raw) < fixedLen {
		return nil, gwerrors.New(gwerrors.ErrSerializeVersion, nil)
	}

	s := &ChannelState{
		Expiration: int64(binary.LittleEndian.Uint64(raw[1:9])),
		Agent:      common.BytesToAddress(raw[9:29]),
		Deployment: common.BytesToHash(raw[29:61]),
		Price:      u256FromLE(raw[61:93]),
		Total:      u256FromLE(raw[93:125]),
		Spent:      u256FromLE(raw[125:157]),
		Remote:     u256FromLE(raw[157:189]),
		Coordi:     u256FromLE(raw[189:221]),
	}
	s.ConflictStart = int64(binary.LittleEndian.Uint64(raw[221:229]))
	s.ConflictTimes = binary.LittleEndian.Uint64(raw[229:237])

	signer, err := decodeConsumerType(raw[237:])
	if err != nil {
		return nil, err
	}
	s.Signer = signer
	return s, nil
}

func putU256LE(dst []byte, v *big.Int) {
	if v == nil {
		return
	}
	b := v.Bytes() // big-endian
	for i, j := 0, len(b)-1; j >= 0 && i < len(dst); i, j = i+1, j-1 {
		dst[i] = b[j]
	}
}

func u256FromLE(b []byte) *big.Int {
	be := make([]byte, len(b))
	for i, j := 0, len(b)-1; j >= 0; i, j = i+1, j-1 {
		be[i] = b[j]
	}
	return new(big.Int).SetBytes(be)
}

func encodeConsumerType(c model.ConsumerType) []byte {
	num := len(c.Signers)
	if num > 255 {
		num = 255
	}
	out := make([]byte, 2, 2+20*num)
	out[0] = byte(c.Kind)
	out[1] = byte(num)
	for i := 0; i < num; i++ {
		out = append(out, c.Signers[i].Bytes()...)
	}
	return out
}

func decodeConsumerType(raw []byte) (model.ConsumerType, error) {
	if len(raw) < 2 {
		return model.ConsumerType{}, gwerrors.New(gwerrors.ErrSerializeVersion, nil)
	}
	num := int(raw[1])
	signers := make([]common.Address, 0, num)
	if len(raw) > 2 {
		body := raw[2:]
		for i := 0; i < num; i++ {
			if len(body) < 20*(i+1) {
				return model.ConsumerType{}, gwerrors.New(gwerrors.ErrSerializeVersion, nil)
			}
			signers = append(signers, common.BytesToAddress(body[20*i:20*(i+1)]))
		}
	}
	return model.ConsumerType{Kind: model.ConsumerKind(raw[0]), Signers: signers}, nil
}
