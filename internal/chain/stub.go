package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/subquery/indexer-query-gateway/internal/model"
)

// Stub is a canned-value Reader for tests, mirroring the teacher's
// ChainOperations dependency-injection pattern
// (pkg/payment/paid_stategy.go) rather than hitting a live chain.
type Stub struct {
	PlanTemplates      map[uint64]model.PlanTemplate
	ServiceAgreements  map[uint64]model.ServiceAgreement
	Controllers        map[[2]common.Address]bool
	Signers            map[common.Address][]common.Address
	ConvertedPrices    map[[2]common.Address]*big.Int
	Err                error
}

func NewStub() *Stub {
	return &Stub{
		PlanTemplates:     make(map[uint64]model.PlanTemplate),
		ServiceAgreements: make(map[uint64]model.ServiceAgreement),
		Controllers:       make(map[[2]common.Address]bool),
		Signers:           make(map[common.Address][]common.Address),
		ConvertedPrices:   make(map[[2]common.Address]*big.Int),
	}
}

func (s *Stub) GetPlanTemplate(ctx context.Context, templateID uint64) (model.PlanTemplate, error) {
	if s.Err != nil {
		return model.PlanTemplate{}, s.Err
	}
	return s.PlanTemplates[templateID], nil
}

func (s *Stub) GetClosedServiceAgreement(ctx context.Context, agreementID uint64) (model.ServiceAgreement, error) {
	if s.Err != nil {
		return model.ServiceAgreement{}, s.Err
	}
	return s.ServiceAgreements[agreementID], nil
}

func (s *Stub) IsController(ctx context.Context, consumer, signer common.Address) (bool, error) {
	if s.Err != nil {
		return false, s.Err
	}
	return s.Controllers[[2]common.Address{consumer, signer}], nil
}

func (s *Stub) GetSigners(ctx context.Context, hostAddress common.Address) ([]common.Address, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Signers[hostAddress], nil
}

func (s *Stub) ConvertPrice(ctx context.Context, from, to common.Address, amount *big.Int) (*big.Int, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if rate, ok := s.ConvertedPrices[[2]common.Address{from, to}]; ok {
		return new(big.Int).Mul(amount, rate), nil
	}
	return amount, nil
}

var _ Reader = (*Stub)(nil)
var _ Reader = (*EVMReader)(nil)
