package payg

import (
	"context"
	"math/big"

	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
	"github.com/subquery/indexer-query-gateway/internal/stateproto"
)

// extendDriftTolerance is the largest gap, in seconds, allowed between
// the expiration a consumer's extend request claims the channel
// currently has and the cache's recorded expiration, guarding against
// an extend request racing a concurrent update.
const extendDriftTolerance = 600

// ExtendChannel is extend_channel: it verifies the claimed new price
// still covers the project's price once converted to the canonical
// token, bounds the expiration drift the request may claim, recovers
// and checks the requesting signer against the channel's allowed set,
// reports the extension to the coordinator synchronously (the
// consumer is waiting on this call, unlike a query's background
// settlement), and countersigns the extension as the indexer.
func (e *Engine) ExtendChannel(ctx context.Context, channelID *big.Int, newPrice *big.Int, expired int64, expirationSeconds int64, sig stateproto.Signature) (stateproto.Signature, error) {
	cached, _, err := e.Store.Get(ctx, channelID)
	if err != nil {
		return stateproto.Signature{}, err
	}

	deployment, err := e.deploymentByCID(cached.Deployment)
	if err != nil {
		return stateproto.Signature{}, err
	}

	paygSQTPrice, err := e.GetConvertPrice(ctx, deployment.PaygToken, deployment.PaygPrice)
	if err != nil {
		return stateproto.Signature{}, err
	}
	if paygSQTPrice.Cmp(newPrice) > 0 {
		return stateproto.Signature{}, gwerrors.New(gwerrors.ErrInvalidExtendPrice, nil)
	}

	gap := expired - cached.Expiration
	if gap < 0 {
		gap = -gap
	}
	if gap > extendDriftTolerance {
		return stateproto.Signature{}, gwerrors.New(gwerrors.ErrInvalidExtendPrice, nil)
	}

	preexpiration := big.NewInt(expired)
	expiration := big.NewInt(expirationSeconds)
	signer, err := stateproto.RecoverExtend(channelID, e.Indexer, cached.Agent, preexpiration, expiration, sig)
	if err != nil {
		return stateproto.Signature{}, gwerrors.New(gwerrors.ErrInvalidSignature, err)
	}
	if !cached.Signer.Contains(signer) {
		return stateproto.Signature{}, gwerrors.New(gwerrors.ErrInvalidMembership, nil)
	}

	expiredAt := expired + expirationSeconds
	if err := e.Coordinator.ChannelExtend(ctx, channelID, expiredAt, newPrice); err != nil {
		return stateproto.Signature{}, err
	}

	indexerSign, err := stateproto.SignExtend(channelID, e.Indexer, cached.Agent, preexpiration, expiration, e.Controller)
	if err != nil {
		return stateproto.Signature{}, gwerrors.New(gwerrors.ErrInvalidSignature, err)
	}
	return indexerSign, nil
}
