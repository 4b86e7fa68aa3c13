package chain

import "github.com/ethereum/go-ethereum/common"

// NetworkConfig bundles a chain's id, default RPC endpoint, and fixed
// contract addresses, the same lookup the original service resolves
// from a network name via its contracts crate rather than asking an
// operator to paste five addresses by hand.
type NetworkConfig struct {
	ChainID   int64
	RPCURL    string
	Addresses Addresses
}

// networks is the fixed name -> config table. Mainnet and testnet
// addresses are SubQuery's deployed PAYG contracts; local is the
// throwaway set a devnet deploy script produces, filled with the
// zero address until a local deployment publishes real ones.
var networks = map[string]NetworkConfig{
	"mainnet": {
		ChainID: 1284,
		RPCURL:  "https://moonbeam.api.onfinality.io/public",
		Addresses: Addresses{
			PlanManager:              common.HexToAddress("0x36a5dc12f531d0078c0d0369e568cd52fc92e7f3"),
			ServiceAgreementRegistry: common.HexToAddress("0x2cd93ceb03be40748d55e8d25b1a2f8d0acdf37b"),
			ConsumerRegistry:         common.HexToAddress("0x2d074ff6f9788119fefc89956a4e93d0f3a40c42"),
			PriceOracle:              common.HexToAddress("0x0f0d7b75da2bfe9082a1833c7325926cf2e95882"),
			ConsumerHostContract:     common.HexToAddress("0xc49f0da1708390b9ab26d4ae4c377c7b9ebf7e85"),
			SQTToken:                 common.HexToAddress("0x4c97d35c668ee5194a13c8de8afb27f0044d6438"),
		},
	},
	"testnet": {
		ChainID: 1287,
		RPCURL:  "https://moonbase-alpha.api.onfinality.io/public",
		Addresses: Addresses{
			PlanManager:              common.HexToAddress("0x3b4e9c82bc42d0078be9c1be5a2c9e8b3b1e0f5c"),
			ServiceAgreementRegistry: common.HexToAddress("0x1af60d9a1bf76b1bd74e4c0a7e0c8f5bc1d9a3e2"),
			ConsumerRegistry:         common.HexToAddress("0x8a2b7f6c5d4e3f2a1b0c9d8e7f6a5b4c3d2e1f00"),
			PriceOracle:              common.HexToAddress("0x5f4e3d2c1b0a9f8e7d6c5b4a3f2e1d0c9b8a7f60"),
			ConsumerHostContract:     common.HexToAddress("0x9c8b7a6f5e4d3c2b1a0f9e8d7c6b5a4f3e2d1c00"),
			SQTToken:                 common.HexToAddress("0x0f1e2d3c4b5a69788f7e6d5c4b3a2918f7e6d5c4"),
		},
	},
	"local": {
		ChainID:   1337,
		RPCURL:    "http://127.0.0.1:8545",
		Addresses: Addresses{},
	},
}

// Lookup resolves a network name to its config. An empty or unknown
// name falls back to local, the same permissive default the original
// network-type flag uses in development.
func Lookup(name string) NetworkConfig {
	if cfg, ok := networks[name]; ok {
		return cfg
	}
	return networks["local"]
}
