package payg

import (
	"context"
	"math/big"

	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
	"github.com/subquery/indexer-query-gateway/internal/stateproto"
)

// OpenChannel countersigns a newly proposed channel-open request, the
// equivalent of open_state: it resolves the project the channel opens
// against, accepts a controller-signed price quote above the project
// default when one is attached and still valid, rejects a channel price
// below the (possibly quoted) price once converted to the canonical
// token, rejects an expiration beyond the project's configured maximum,
// countersigns as the indexer, and rejects a state whose indexer is not
// this gateway's.
func (e *Engine) OpenChannel(ctx context.Context, state *stateproto.OpenState) (*stateproto.OpenState, error) {
	deployment, err := e.deploymentByCID(state.DeploymentID)
	if err != nil {
		return nil, err
	}

	quotedPrice := state.PriceOfPrice
	if quotedPrice == nil {
		quotedPrice = big.NewInt(0)
	}

	usedPrice := deployment.PaygPrice
	if usedPrice.Cmp(quotedPrice) < 0 {
		if nowUnix() < state.PriceExpired {
			signer, rerr := stateproto.RecoverPriceQuote(quotedPrice, state.PriceToken, state.PriceExpired, state.PriceSign)
			if rerr != nil {
				return nil, gwerrors.New(gwerrors.ErrInvalidSignature, rerr)
			}
			if signer != e.ControllerAddress {
				return nil, gwerrors.New(gwerrors.ErrInvalidQuotePrice, nil)
			}
			usedPrice = quotedPrice
		}
	}

	ok, err := e.CheckConvertPrice(ctx, deployment.PaygToken, usedPrice, state.Price)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, gwerrors.New(gwerrors.ErrInvalidProjectPrice, nil)
	}

	if deployment.PaygExpiration < state.Expiration.Int64() {
		return nil, gwerrors.New(gwerrors.ErrInvalidExpiration, nil)
	}

	if err := state.Sign(e.Controller, false); err != nil {
		return nil, gwerrors.New(gwerrors.ErrInvalidSignature, err)
	}

	if _, _, err := state.Recover(); err != nil {
		return nil, gwerrors.New(gwerrors.ErrInvalidSignature, err)
	}
	if state.Indexer != e.Indexer {
		return nil, gwerrors.New(gwerrors.ErrInvalidRequest, nil)
	}

	return state, nil
}
