// Package payg implements component D: PaygEngine, the single-state
// and multi-state PAYG accounting rules, conflict detection, and the
// coordinator settlement calls those rules trigger. It is grounded on
// proxy/src/payg.rs's open_state/before_post_query_*/extend_channel/
// pay_channel functions, restructured as methods on an Engine that
// carries its dependencies (store, registry, chain reader, coordinator
// client) explicitly rather than through process-wide statics.
package payg

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/subquery/indexer-query-gateway/internal/chain"
	"github.com/subquery/indexer-query-gateway/internal/channelstore"
	"github.com/subquery/indexer-query-gateway/internal/coordinator"
	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
	"github.com/subquery/indexer-query-gateway/internal/model"
	"github.com/subquery/indexer-query-gateway/internal/registry"
	"github.com/subquery/indexer-query-gateway/internal/stateproto"
	"go.uber.org/zap"
)

// ConflictReporter hands off an over-threshold conflict window to the
// out-of-core P2P announce path. A no-op/log-only implementation is
// used when no such path is wired.
type ConflictReporter interface {
	ReportConflict(ctx context.Context, deploymentID string, channelID *big.Int, times uint64, start, end int64)
}

// LoggingConflictReporter just logs; it is the default ConflictReporter
// until an external P2P announce path is wired in.
type LoggingConflictReporter struct{}

func (LoggingConflictReporter) ReportConflict(ctx context.Context, deploymentID string, channelID *big.Int, times uint64, start, end int64) {
	zap.L().Warn("payg: conflict window exceeded overflow tolerance",
		zap.String("deploymentId", deploymentID), zap.String("channelId", channelID.String()),
		zap.Uint64("times", times), zap.Int64("start", start), zap.Int64("end", end))
}

// Engine is component D: PaygEngine.
type Engine struct {
	Store       *channelstore.Store
	Registry    *registry.Registry
	Chain       chain.Reader
	Coordinator coordinator.Client
	Dispatcher  *Dispatcher
	Conflict    ConflictReporter
	Tokens      TokenCounter

	Controller           *ecdsa.PrivateKey // indexer controller signing key
	ControllerAddress    common.Address    // derived from Controller, cached to avoid recomputing it per call
	Indexer              common.Address
	ConsumerHostContract common.Address // well-known consumer-host intermediary contract for this network
	SQTToken             common.Address // canonical price-conversion target token
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithConflictReporter(r ConflictReporter) Option { return func(e *Engine) { e.Conflict = r } }
func WithTokenCounter(t TokenCounter) Option         { return func(e *Engine) { e.Tokens = t } }

// NewEngine wires an Engine from its required dependencies, defaulting
// the conflict reporter and token counter to their no-op/heuristic
// implementations.
func NewEngine(store *channelstore.Store, reg *registry.Registry, chainReader chain.Reader, coord coordinator.Client, dispatcher *Dispatcher, controller *ecdsa.PrivateKey, indexer, consumerHostContract, sqtToken common.Address, opts ...Option) *Engine {
	e := &Engine{
		Store:                store,
		Registry:             reg,
		Chain:                chainReader,
		Coordinator:          coord,
		Dispatcher:           dispatcher,
		Conflict:             LoggingConflictReporter{},
		Tokens:               HeuristicTokenCounter{},
		Controller:           controller,
		ControllerAddress:    crypto.PubkeyToAddress(controller.PublicKey),
		Indexer:              indexer,
		ConsumerHostContract: consumerHostContract,
		SQTToken:             sqtToken,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckConvertPrice reports whether amountTo (denominated in SQTToken)
// covers amountFrom converted from assetFrom into SQTToken via the
// price oracle: amountTo >= convert(assetFrom, SQTToken, amountFrom).
func (e *Engine) CheckConvertPrice(ctx context.Context, assetFrom common.Address, amountFrom, amountTo *big.Int) (bool, error) {
	converted, err := e.Chain.ConvertPrice(ctx, assetFrom, e.SQTToken, amountFrom)
	if err != nil {
		return false, gwerrors.New(gwerrors.ErrServiceException, err)
	}
	return amountTo.Cmp(converted) >= 0, nil
}

// GetConvertPrice converts price from token into SQTToken via the
// price oracle.
func (e *Engine) GetConvertPrice(ctx context.Context, token common.Address, price *big.Int) (*big.Int, error) {
	converted, err := e.Chain.ConvertPrice(ctx, token, e.SQTToken, price)
	if err != nil {
		return nil, gwerrors.New(gwerrors.ErrServiceException, err)
	}
	return converted, nil
}

// CheckConsumerController reports whether signer is a registered
// controller of consumer.
func (e *Engine) CheckConsumerController(ctx context.Context, consumer, signer common.Address) (bool, error) {
	ok, err := e.Chain.IsController(ctx, consumer, signer)
	if err != nil {
		return false, gwerrors.New(gwerrors.ErrServiceException, err)
	}
	return ok, nil
}

// ResolveConsumerType implements channelstore.ResolveConsumerType:
// when agent is the network's known consumer-host contract, the
// channel's allowed signer set is the consumer plus every signer the
// host contract reports; otherwise the channel is a plain account and
// only the nominal consumer may sign.
func (e *Engine) ResolveConsumerType(ctx context.Context, consumer, agent common.Address) (model.ConsumerType, error) {
	if agent != e.ConsumerHostContract {
		return model.ConsumerType{Kind: model.ConsumerAccount, Signers: []common.Address{consumer}}, nil
	}

	hostSigners, err := e.Chain.GetSigners(ctx, agent)
	if err != nil {
		return model.ConsumerType{}, gwerrors.New(gwerrors.ErrServiceException, err)
	}
	signers := append([]common.Address{consumer}, hostSigners...)
	if len(signers) == 0 {
		return model.ConsumerType{}, gwerrors.New(gwerrors.ErrExpiredAgreement, nil)
	}
	return model.ConsumerType{Kind: model.ConsumerHost, Signers: signers}, nil
}

// resolveAndMaybeLearnSigner checks whether signer is already a known
// signer of state_cache; if not, and the channel is a plain Account
// type, it consults the on-chain controller allowlist and learns the
// new signer on success. This is the shared "check signer" step
// before_query_signle_state/before_query_multiple_state/pay_channel
// each perform identically.
func (e *Engine) resolveAndMaybeLearnSigner(ctx context.Context, state *channelstore.ChannelState, signer common.Address) error {
	if state.Signer.Contains(signer) {
		return nil
	}
	if state.Signer.Kind != model.ConsumerAccount || len(state.Signer.Signers) == 0 {
		return gwerrors.New(gwerrors.ErrInvalidMembership, nil)
	}
	ok, err := e.CheckConsumerController(ctx, state.Signer.Signers[0], signer)
	if err != nil {
		return err
	}
	if !ok {
		return gwerrors.New(gwerrors.ErrInvalidMembership, nil)
	}
	state.Signer = state.Signer.WithSigner(signer)
	return nil
}

// deploymentByCID is a small helper so the operation files can resolve
// a project by the deployment content-hash embedded in a signed state
// without repeating the CID conversion at every call site.
func (e *Engine) deploymentByCID(hash common.Hash) (model.Deployment, error) {
	return e.Registry.MustGet(stateproto.HashToCID(hash))
}

var _ channelstore.ResolveConsumerType = (*Engine)(nil).ResolveConsumerType

// nowUnix is overridable in tests that need deterministic timestamps.
var nowUnix = func() int64 { return time.Now().Unix() }
