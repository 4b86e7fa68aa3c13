package stateproto

import (
	"crypto/ecdsa"
	"encoding/base64"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
)

// QueryState is the single-spend PAYG query state. The signed message
// deliberately omits indexer/consumer from the preimage: channel_id
// already binds them uniquely. Indexer, Consumer and Remote travel on
// the wire but are not part of the signed digest.
type QueryState struct {
	ChannelID    *big.Int
	Indexer      common.Address
	Consumer     common.Address
	Spent        *big.Int
	Remote       *big.Int
	IsFinal      bool
	IndexerSign  Signature
	ConsumerSign Signature
}

func (s *QueryState) preimage() ([]byte, error) {
	return packed(
		[]string{"uint256", "uint256", "bool"},
		[]interface{}{s.ChannelID, s.Spent, s.IsFinal},
	)
}

// Sign countersigns the query-state preimage.
func (s *QueryState) Sign(key *ecdsa.PrivateKey, asConsumer bool) error {
	msg, err := s.preimage()
	if err != nil {
		return err
	}
	sig, err := Sign(msg, key)
	if err != nil {
		return err
	}
	if asConsumer {
		s.ConsumerSign = sig
	} else {
		s.IndexerSign = sig
	}
	return nil
}

// Recover recovers both signer addresses.
func (s *QueryState) Recover() (indexer, consumer common.Address, err error) {
	msg, err := s.preimage()
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	indexer, err = Recover(msg, s.IndexerSign)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	consumer, err = Recover(msg, s.ConsumerSign)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return indexer, consumer, nil
}

const queryStateWireLen = 267

// ToBase64 packs the query state into its 267-byte big-endian wire
// layout and base64-encodes it, for use as the Authorization header
// value on PAYG query requests.
func (s *QueryState) ToBase64() string {
	var buf [queryStateWireLen]byte
	putU256(buf[0:32], s.ChannelID)
	copy(buf[32:52], s.Indexer.Bytes())
	copy(buf[52:72], s.Consumer.Bytes())
	putU256(buf[72:104], s.Spent)
	putU256(buf[104:136], s.Remote)
	if s.IsFinal {
		buf[136] = 1
	}
	copy(buf[137:202], s.IndexerSign[:])
	copy(buf[202:267], s.ConsumerSign[:])
	return base64.StdEncoding.EncodeToString(buf[:])
}

// QueryStateFromBase64 decodes the 267-byte wire layout. Any length
// mismatch (after base64 decode) is a Serialize(1116) error per the
// codec law.
func QueryStateFromBase64(s string) (*QueryState, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != queryStateWireLen {
		return nil, gwerrors.New(gwerrors.ErrSerialize, err)
	}
	qs := &QueryState{
		ChannelID: u256FromBytes(raw[0:32]),
		Indexer:   common.BytesToAddress(raw[32:52]),
		Consumer:  common.BytesToAddress(raw[52:72]),
		Spent:     u256FromBytes(raw[72:104]),
		Remote:    u256FromBytes(raw[104:136]),
		IsFinal:   raw[136] != 0,
	}
	copy(qs.IndexerSign[:], raw[137:202])
	copy(qs.ConsumerSign[:], raw[202:267])
	return qs, nil
}

func putU256(dst []byte, v *big.Int) {
	if v == nil {
		return
	}
	b := v.Bytes()
	copy(dst[32-len(b):], b)
}

func u256FromBytes(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}
