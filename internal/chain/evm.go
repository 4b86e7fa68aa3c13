package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/subquery/indexer-query-gateway/internal/model"
	"go.uber.org/zap"
)

// contractABIs are the minimal read-only ABI fragments for the five
// contracts this package calls, following the teacher's bound-contract
// call pattern (pkg/blockchain/mpe.go, pkg/blockchain/org.go) without
// depending on generated bindings, since no .sol sources ship with
// this repository.
const (
	planManagerABI = `[{"name":"getPlanTemplate","type":"function","stateMutability":"view",
		"inputs":[{"name":"templateId","type":"uint256"}],
		"outputs":[{"name":"period","type":"uint256"},{"name":"dailyReqCap","type":"uint256"},
		{"name":"rateLimit","type":"uint256"},{"name":"priceToken","type":"address"},
		{"name":"metadata","type":"string"},{"name":"active","type":"bool"}]}]`

	serviceAgreementRegistryABI = `[{"name":"getClosedServiceAgreement","type":"function","stateMutability":"view",
		"inputs":[{"name":"agreementId","type":"uint256"}],
		"outputs":[{"name":"consumer","type":"address"},{"name":"indexer","type":"address"},
		{"name":"deployment","type":"bytes32"},{"name":"lockedAmount","type":"uint256"},
		{"name":"start","type":"uint256"},{"name":"period","type":"uint256"},
		{"name":"planId","type":"uint256"},{"name":"templateId","type":"uint256"}]}]`

	consumerRegistryABI = `[{"name":"isController","type":"function","stateMutability":"view",
		"inputs":[{"name":"consumer","type":"address"},{"name":"signer","type":"address"}],
		"outputs":[{"name":"","type":"bool"}]}]`

	consumerHostABI = `[{"name":"getSigners","type":"function","stateMutability":"view",
		"inputs":[],"outputs":[{"name":"","type":"address[]"}]}]`

	priceOracleABI = `[{"name":"convertPrice","type":"function","stateMutability":"view",
		"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
		"outputs":[{"name":"","type":"uint256"}]}]`
)

// Addresses is the set of deployed contract addresses the gateway
// reads from. ConsumerHostContract and SQTToken are not bound
// contracts themselves (consumer_host is bound fresh per consumer in
// GetSigners; SQTToken is the canonical price-conversion target) but
// travel with the rest of the network's fixed addresses.
type Addresses struct {
	PlanManager              common.Address
	ServiceAgreementRegistry common.Address
	ConsumerRegistry         common.Address
	PriceOracle              common.Address
	ConsumerHostContract     common.Address
	SQTToken                 common.Address
}

// EVMReader is the production Reader, backed by bind.BoundContract
// calls over a live ethclient.Client connection.
type EVMReader struct {
	client    *ethclient.Client
	addresses Addresses

	planManager             *bind.BoundContract
	serviceAgreementRegistry *bind.BoundContract
	consumerRegistry         *bind.BoundContract
	priceOracle              *bind.BoundContract
	consumerHostABI          abi.ABI
}

// NewEVMReader parses the contract ABI fragments and binds them to the
// given addresses over client.
func NewEVMReader(client *ethclient.Client, addresses Addresses) (*EVMReader, error) {
	planABI, err := abi.JSON(strings.NewReader(planManagerABI))
	if err != nil {
		return nil, err
	}
	sarABI, err := abi.JSON(strings.NewReader(serviceAgreementRegistryABI))
	if err != nil {
		return nil, err
	}
	crABI, err := abi.JSON(strings.NewReader(consumerRegistryABI))
	if err != nil {
		return nil, err
	}
	chABI, err := abi.JSON(strings.NewReader(consumerHostABI))
	if err != nil {
		return nil, err
	}
	poABI, err := abi.JSON(strings.NewReader(priceOracleABI))
	if err != nil {
		return nil, err
	}

	return &EVMReader{
		client:    client,
		addresses: addresses,

		planManager:             bind.NewBoundContract(addresses.PlanManager, planABI, client, nil, nil),
		serviceAgreementRegistry: bind.NewBoundContract(addresses.ServiceAgreementRegistry, sarABI, client, nil, nil),
		consumerRegistry:         bind.NewBoundContract(addresses.ConsumerRegistry, crABI, client, nil, nil),
		priceOracle:              bind.NewBoundContract(addresses.PriceOracle, poABI, client, nil, nil),
		consumerHostABI:          chABI,
	}, nil
}

func (r *EVMReader) GetPlanTemplate(ctx context.Context, templateID uint64) (model.PlanTemplate, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := r.planManager.Call(opts, &out, "getPlanTemplate", new(big.Int).SetUint64(templateID)); err != nil {
		zap.L().Error("chain: getPlanTemplate failed", zap.Uint64("templateId", templateID), zap.Error(err))
		return model.PlanTemplate{}, err
	}
	return model.PlanTemplate{
		Period:      out[0].(*big.Int).Int64(),
		DailyReqCap: out[1].(*big.Int).Int64(),
		RateLimit:   out[2].(*big.Int).Int64(),
		PriceToken:  out[3].(common.Address),
		Metadata:    out[4].(string),
		Active:      out[5].(bool),
	}, nil
}

func (r *EVMReader) GetClosedServiceAgreement(ctx context.Context, agreementID uint64) (model.ServiceAgreement, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := r.serviceAgreementRegistry.Call(opts, &out, "getClosedServiceAgreement", new(big.Int).SetUint64(agreementID)); err != nil {
		zap.L().Error("chain: getClosedServiceAgreement failed", zap.Uint64("agreementId", agreementID), zap.Error(err))
		return model.ServiceAgreement{}, err
	}
	return model.ServiceAgreement{
		Consumer:     out[0].(common.Address),
		Indexer:      out[1].(common.Address),
		Deployment:   common.Hash(out[2].([32]byte)),
		LockedAmount: out[3].(*big.Int),
		Start:        out[4].(*big.Int).Int64(),
		Period:       out[5].(*big.Int).Int64(),
		PlanID:       out[6].(*big.Int).Uint64(),
		TemplateID:   out[7].(*big.Int).Uint64(),
	}, nil
}

func (r *EVMReader) IsController(ctx context.Context, consumer, signer common.Address) (bool, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := r.consumerRegistry.Call(opts, &out, "isController", consumer, signer); err != nil {
		zap.L().Error("chain: isController failed", zap.String("consumer", consumer.Hex()), zap.Error(err))
		return false, err
	}
	return out[0].(bool), nil
}

// GetSigners binds consumer_host fresh at hostAddress per call, since
// each consumer may run its own host contract instance.
func (r *EVMReader) GetSigners(ctx context.Context, hostAddress common.Address) ([]common.Address, error) {
	host := bind.NewBoundContract(hostAddress, r.consumerHostABI, r.client, nil, nil)
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := host.Call(opts, &out, "getSigners"); err != nil {
		zap.L().Error("chain: getSigners failed", zap.String("host", hostAddress.Hex()), zap.Error(err))
		return nil, err
	}
	return out[0].([]common.Address), nil
}

func (r *EVMReader) ConvertPrice(ctx context.Context, from, to common.Address, amount *big.Int) (*big.Int, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := r.priceOracle.Call(opts, &out, "convertPrice", from, to, amount); err != nil {
		zap.L().Error("chain: convertPrice failed", zap.String("from", from.Hex()), zap.String("to", to.Hex()), zap.Error(err))
		return nil, err
	}
	return out[0].(*big.Int), nil
}
