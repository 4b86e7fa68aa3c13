package payg

import (
	"context"

	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
	"github.com/subquery/indexer-query-gateway/internal/stateproto"
)

// PayChannel is pay_channel: a consumer-initiated settlement request
// outside the query path (e.g. ahead of a channel's expiry). It
// verifies the signer as usual, rejects a claimed spend above the
// channel total, and consults the coordinator's own authoritative
// recorded spend before accepting the claim — if the coordinator
// already paid out at least as much, the request is a stale replay and
// is answered unchanged. Otherwise the cache's remote spend is
// monotonically advanced and the settlement reported asynchronously,
// mirroring QuerySingle's update path.
func (e *Engine) PayChannel(ctx context.Context, state *stateproto.QueryState) (*stateproto.QueryState, error) {
	cached, keyname, err := e.Store.Get(ctx, state.ChannelID)
	if err != nil {
		return nil, err
	}

	if err := state.Sign(e.Controller, false); err != nil {
		return nil, gwerrors.New(gwerrors.ErrInvalidSignature, err)
	}
	_, signer, err := state.Recover()
	if err != nil {
		return nil, gwerrors.New(gwerrors.ErrInvalidSignature, err)
	}
	if err := e.resolveAndMaybeLearnSigner(ctx, cached, signer); err != nil {
		return nil, err
	}

	remoteSpent := state.Spent
	state.Remote = cached.Spent

	if remoteSpent.Cmp(cached.Total) > 0 {
		return nil, gwerrors.New(gwerrors.ErrOverflowTotal, nil)
	}

	paid, err := e.Coordinator.ChannelSpent(ctx, state.ChannelID)
	if err != nil {
		return nil, err
	}
	if remoteSpent.Cmp(paid) <= 0 {
		return state, nil
	}

	if cached.Remote.Cmp(remoteSpent) < 0 {
		cached.Remote = remoteSpent
		if state.IsFinal {
			if err := e.Store.Delete(ctx, keyname); err != nil {
				return nil, gwerrors.New(gwerrors.ErrServiceException, err)
			}
		} else if err := e.Store.Put(ctx, keyname, cached, 0); err != nil {
			return nil, err
		}
	}

	indexerSign := state.IndexerSign.HexString()
	consumerSign := state.ConsumerSign.HexString()
	channelID := state.ChannelID
	isFinal := state.IsFinal
	e.Dispatcher.Submit(func(ctx context.Context) {
		if err := e.Coordinator.ChannelUpdate(ctx, channelID, remoteSpent, isFinal, indexerSign, consumerSign); err != nil {
			_ = err
		}
	})

	return state, nil
}
