// Package chain provides the gateway's read-only view of the five
// on-chain contracts it depends on: plan_manager, service_agreement_registry,
// consumer_registry, consumer_host, and price_oracle. No write path is
// implemented: the gateway never submits transactions, it only reads
// state other agents (consumers, indexers, the coordinator) write.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/subquery/indexer-query-gateway/internal/model"
)

// Reader is the narrow on-chain contract surface SPEC_FULL.md §6.4
// names. A production implementation binds these to real contracts
// via go-ethereum's generated-binding pattern; tests inject a Stub.
type Reader interface {
	// GetPlanTemplate reads plan_manager.getPlanTemplate(template_id).
	GetPlanTemplate(ctx context.Context, templateID uint64) (model.PlanTemplate, error)

	// GetClosedServiceAgreement reads
	// service_agreement_registry.getClosedServiceAgreement(aid).
	GetClosedServiceAgreement(ctx context.Context, agreementID uint64) (model.ServiceAgreement, error)

	// IsController reads consumer_registry.isController(consumer, signer).
	IsController(ctx context.Context, consumer, signer common.Address) (bool, error)

	// GetSigners reads consumer_host.getSigners() for the host contract
	// at hostAddress.
	GetSigners(ctx context.Context, hostAddress common.Address) ([]common.Address, error)

	// ConvertPrice reads price_oracle.convertPrice(from, to, amount).
	ConvertPrice(ctx context.Context, from, to common.Address, amount *big.Int) (*big.Int, error)
}
