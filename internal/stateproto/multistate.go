package stateproto

import (
	"crypto/ecdsa"
	"encoding/base64"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
)

// MultipleQueryStateActive is the three-state range-mode lifecycle.
type MultipleQueryStateActive uint8

const (
	Active    MultipleQueryStateActive = 0
	Inactive1 MultipleQueryStateActive = 1
	Inactive2 MultipleQueryStateActive = 2
)

// IsInactive reports whether the range is exhausted (Inactive2 only;
// Inactive1 still admits one more request).
func (a MultipleQueryStateActive) IsInactive() bool { return a == Inactive2 }

func activeFromByte(b byte) MultipleQueryStateActive {
	switch b {
	case 0:
		return Active
	case 1:
		return Inactive1
	default:
		return Inactive2
	}
}

// MultipleRangeMax is the maximum half-open byte-budget range width a
// single MultipleQueryState may pledge: 100 * 10^18.
var MultipleRangeMax = func() *big.Int {
	v, _ := new(big.Int).SetString("100000000000000000000", 10)
	return v
}()

// MultipleQueryState is the range-mode PAYG query state.
type MultipleQueryState struct {
	Active    MultipleQueryStateActive
	ChannelID *big.Int
	Start     *big.Int
	End       *big.Int
	Sign      Signature
}

func (s *MultipleQueryState) preimage() ([]byte, error) {
	return packed(
		[]string{"uint8", "uint256", "uint256", "uint256"},
		[]interface{}{uint8(s.Active), s.ChannelID, s.Start, s.End},
	)
}

// SignAs sets the active byte and countersigns the resulting preimage.
func (s *MultipleQueryState) SignAs(key *ecdsa.PrivateKey, active MultipleQueryStateActive) error {
	s.Active = active
	msg, err := s.preimage()
	if err != nil {
		return err
	}
	sig, err := Sign(msg, key)
	if err != nil {
		return err
	}
	s.Sign = sig
	return nil
}

// Recover recovers the single signer of a multi-state request.
func (s *MultipleQueryState) Recover() (common.Address, error) {
	msg, err := s.preimage()
	if err != nil {
		return common.Address{}, err
	}
	return Recover(msg, s.Sign)
}

const multiStateWireLen = 162

// ToBase64 packs the multi-state into its 162-byte wire layout.
func (s *MultipleQueryState) ToBase64() string {
	var buf [multiStateWireLen]byte
	buf[0] = byte(s.Active)
	putU256(buf[1:33], s.ChannelID)
	putU256(buf[33:65], s.Start)
	putU256(buf[65:97], s.End)
	copy(buf[97:162], s.Sign[:])
	return base64.StdEncoding.EncodeToString(buf[:])
}

// MultipleQueryStateFromBase64 decodes the 162-byte wire layout.
func MultipleQueryStateFromBase64(s string) (*MultipleQueryState, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != multiStateWireLen {
		return nil, gwerrors.New(gwerrors.ErrSerialize, err)
	}
	mqs := &MultipleQueryState{
		Active:    activeFromByte(raw[0]),
		ChannelID: u256FromBytes(raw[1:33]),
		Start:     u256FromBytes(raw[33:65]),
		End:       u256FromBytes(raw[65:97]),
	}
	copy(mqs.Sign[:], raw[97:162])
	return mqs, nil
}

// ---- price quote and extend helpers ----

// RecoverPriceQuote recovers the controller address that signed a price
// quote over (price, token, expired).
func RecoverPriceQuote(price *big.Int, token common.Address, expired int64, sig Signature) (common.Address, error) {
	msg, err := PriceDigest(price, token, expired)
	if err != nil {
		return common.Address{}, err
	}
	return Recover(msg, sig)
}

// SignPriceQuote signs a price quote preimage as the indexer controller.
func SignPriceQuote(price *big.Int, token common.Address, expired int64, key *ecdsa.PrivateKey) (Signature, error) {
	msg, err := PriceDigest(price, token, expired)
	if err != nil {
		return Signature{}, err
	}
	return Sign(msg, key)
}

// RecoverExtend recovers the signer of an extend-channel request.
func RecoverExtend(channelID *big.Int, indexer, consumer common.Address, preexpiration, expiration *big.Int, sig Signature) (common.Address, error) {
	msg, err := ExtendDigest(channelID, indexer, consumer, preexpiration, expiration)
	if err != nil {
		return common.Address{}, err
	}
	return Recover(msg, sig)
}

// SignExtend signs an extend-channel request as the indexer.
func SignExtend(channelID *big.Int, indexer, consumer common.Address, preexpiration, expiration *big.Int, key *ecdsa.PrivateKey) (Signature, error) {
	msg, err := ExtendDigest(channelID, indexer, consumer, preexpiration, expiration)
	if err != nil {
		return Signature{}, err
	}
	return Sign(msg, key)
}
