// Package stateproto implements the signed-message protocol described
// in the component design: EIP-712 token payloads, and the
// open/query/extend/price/response preimages, all Ethereum secp256k1
// signatures over keccak256 digests.
package stateproto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signature is the 65-byte r‖s‖v wire form, v in {27, 28}.
type Signature [65]byte

// ZeroSignature is the unsigned placeholder value used before a party
// has countersigned a state.
var ZeroSignature = Signature{}

// Sign hashes msg with the Ethereum personal-message prefix and signs
// it, returning a 65-byte signature with v normalized to {27, 28}.
// This mirrors the prefix-then-hash-then-sign idiom the Go SDK's
// blockchain utilities use for off-chain message signing.
func Sign(msg []byte, key *ecdsa.PrivateKey) (Signature, error) {
	hash := crypto.Keccak256(msg)
	prefixed := crypto.Keccak256(
		[]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(hash))),
		hash,
	)
	sig, err := crypto.Sign(prefixed, key)
	if err != nil {
		return Signature{}, err
	}
	var out Signature
	copy(out[:], sig)
	out[64] += 27
	return out, nil
}

// Recover recovers the signer address from msg and its signature,
// reversing the prefixing Sign applies.
func Recover(msg []byte, sig Signature) (common.Address, error) {
	hash := crypto.Keccak256(msg)
	prefixed := crypto.Keccak256(
		[]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(hash))),
		hash,
	)
	normalized := sig
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(prefixed, normalized[:])
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// packed ABI-encodes the given arguments as the typed-tuple preimage
// for keccak256, using go-ethereum's abi.Arguments rather than hand
// rolled packing.
func packed(types []string, values []interface{}) ([]byte, error) {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		ty, err := abi.NewType(t, "", nil)
		if err != nil {
			return nil, err
		}
		args[i] = abi.Argument{Type: ty}
	}
	return args.Pack(values...)
}

// ---- EIP-712 token payloads ----

const eip712DomainName = "Subquery"

// IndexerTokenDigest returns the EIP-712 hash signed by an indexer
// requesting an unmetered admin token.
func IndexerTokenDigest(indexer common.Address, timestampMs int64, deploymentID string, chainID int64) ([32]byte, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"messageType": {
				{Name: "indexer", Type: "address"},
				{Name: "timestamp", Type: "uint256"},
				{Name: "deploymentId", Type: "string"},
			},
		},
		PrimaryType: "messageType",
		Domain: apitypes.TypedDataDomain{
			Name:    eip712DomainName,
			ChainId: mathBigFromInt64(chainID),
		},
		Message: apitypes.TypedDataMessage{
			"indexer":      indexer.Hex(),
			"timestamp":    mathBigFromInt64(timestampMs).String(),
			"deploymentId": deploymentID,
		},
	}
	return hashTypedData(td)
}

// ConsumerTokenDigest returns the EIP-712 hash signed by a consumer
// requesting a metered agreement-bound token.
func ConsumerTokenDigest(consumer, indexer common.Address, agreement, deploymentID string, timestampMs int64, chainID int64) ([32]byte, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"messageType": {
				{Name: "consumer", Type: "address"},
				{Name: "indexer", Type: "address"},
				{Name: "agreement", Type: "string"},
				{Name: "timestamp", Type: "uint256"},
				{Name: "deploymentId", Type: "string"},
			},
		},
		PrimaryType: "messageType",
		Domain: apitypes.TypedDataDomain{
			Name:    eip712DomainName,
			ChainId: mathBigFromInt64(chainID),
		},
		Message: apitypes.TypedDataMessage{
			"consumer":     consumer.Hex(),
			"indexer":      indexer.Hex(),
			"agreement":    agreement,
			"timestamp":    mathBigFromInt64(timestampMs).String(),
			"deploymentId": deploymentID,
		},
	}
	return hashTypedData(td)
}

func mathBigFromInt64(v int64) *big.Int { return big.NewInt(v) }

func hashTypedData(td apitypes.TypedData) ([32]byte, error) {
	domainHash, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return [32]byte{}, err
	}
	msgHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return [32]byte{}, err
	}
	raw := append([]byte{0x19, 0x01}, domainHash...)
	raw = append(raw, msgHash...)
	return [32]byte(crypto.Keccak256(raw)), nil
}

// RecoverTypedData recovers the signer over an already-computed EIP-712
// digest. Unlike Recover, no personal-message prefix is applied: the
// digest itself is signed directly per EIP-712.
func RecoverTypedData(digest [32]byte, sig Signature) (common.Address, error) {
	normalized := sig
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], normalized[:])
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// PriceDigest returns the ABI-encoded preimage for a PAYG price quote
// (price, token, expired); Sign and Recover apply keccak256 to it.
func PriceDigest(price *big.Int, token common.Address, expired int64) ([]byte, error) {
	return packed([]string{"uint256", "address", "int256"}, []interface{}{price, token, big.NewInt(expired)})
}

// ResponseDigest returns the ABI-encoded preimage for a signed upstream
// response (indexer, sha256(body), timestamp); Sign applies keccak256.
func ResponseDigest(indexer common.Address, bodySHA256 [32]byte, timestampUnix int64) ([]byte, error) {
	return packed([]string{"address", "bytes32", "uint256"}, []interface{}{indexer, bodySHA256, big.NewInt(timestampUnix)})
}

// ExtendDigest returns the ABI-encoded preimage for an extend-channel request.
func ExtendDigest(channelID *big.Int, indexer, consumer common.Address, preexpiration, expiration *big.Int) ([]byte, error) {
	return packed(
		[]string{"uint256", "address", "address", "uint256", "uint256"},
		[]interface{}{channelID, indexer, consumer, preexpiration, expiration},
	)
}
