package stateproto

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OpenState is the channel-open payload exchanged between consumer and
// indexer before a PAYG channel is funded on-chain. The embedded price
// quote fields let a consumer present a controller-signed price above
// the project default (see payg.Engine.OpenChannel).
type OpenState struct {
	ChannelID    *big.Int
	Indexer      common.Address
	Consumer     common.Address
	Total        *big.Int
	Price        *big.Int
	Expiration   *big.Int
	DeploymentID common.Hash
	Callback     []byte
	IndexerSign  Signature
	ConsumerSign Signature

	PriceOfPrice   *big.Int
	PriceToken     common.Address
	PriceExpired   int64
	PriceSign      Signature
}

func (s *OpenState) preimage() ([]byte, error) {
	return packed(
		[]string{"uint256", "address", "address", "uint256", "uint256", "uint256", "bytes32", "bytes"},
		[]interface{}{s.ChannelID, s.Indexer, s.Consumer, s.Total, s.Price, s.Expiration, s.DeploymentID, s.Callback},
	)
}

// Sign countersigns the open-state preimage as the indexer or consumer.
func (s *OpenState) Sign(key *ecdsa.PrivateKey, asConsumer bool) error {
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

// Recover recovers both the indexer and consumer signer addresses from
// their respective signatures over the same preimage.
func (s *OpenState) Recover() (indexer, consumer common.Address, err error) {
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
