package payg

import (
	"context"
	"math/big"

	"github.com/subquery/indexer-query-gateway/internal/channelstore"
	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
	"github.com/subquery/indexer-query-gateway/internal/stateproto"
)

// QuerySingleResult is everything a caller needs to answer a
// single-state PAYG query and report the response back to the client:
// the countersigned state to echo, and whether the channel closed.
type QuerySingleResult struct {
	State   *stateproto.QueryState
	IsFinal bool
}

// PreparedQuerySingle is the output of PrepareQuerySingle: the
// countersigned state plus the cached channel state it will update,
// held in memory until CommitQuerySingle persists it. Nothing here has
// touched the store yet.
type PreparedQuerySingle struct {
	State      *stateproto.QueryState
	Keyname    string
	Cached     *channelstore.ChannelState
	LocalNext  *big.Int
	RemoteNext *big.Int
}

// PrepareQuerySingle is before_query_signle_state: it verifies (and,
// if unknown, learns) the request's signer, accounts for this query's
// spend against the cached channel state, and detects and escalates
// sustained spend conflicts. It mutates the in-memory cached state
// (conflict bookkeeping) but persists nothing and reports nothing to
// the coordinator — call CommitQuerySingle after the upstream forward
// succeeds to do that. unitTimes/unitOverflow come from
// ComputeQueryUnits.
func (e *Engine) PrepareQuerySingle(ctx context.Context, state *stateproto.QueryState, unitTimes, unitOverflow uint64) (*PreparedQuerySingle, error) {
	cached, keyname, err := e.Store.Get(ctx, state.ChannelID)
	if err != nil {
		return nil, err
	}

	deployment, err := e.deploymentByCID(cached.Deployment)
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

	usedAmount := new(big.Int).Mul(cached.Price, new(big.Int).SetUint64(unitTimes))
	localPrev := cached.Spent
	remotePrev := cached.Remote
	localNext := new(big.Int).Add(localPrev, usedAmount)
	remoteNext := state.Spent

	if remotePrev.Cmp(remoteNext) < 0 {
		wantNext := new(big.Int).Add(remotePrev, usedAmount)
		if wantNext.Cmp(remoteNext) > 0 {
			return nil, gwerrors.New(gwerrors.ErrInvalidPriceMismatch, nil)
		}
	}

	if localNext.Cmp(cached.Total) > 0 {
		return nil, gwerrors.New(gwerrors.ErrOverflowTotal, nil)
	}

	conflictBound := new(big.Int).Add(remoteNext, usedAmount)
	if localNext.Cmp(conflictBound) > 0 {
		if cached.ConflictTimes <= 1 {
			cached.ConflictStart = nowUnix()
		}
		cached.ConflictTimes += unitOverflow
	}

	if cached.ConflictTimes > deployment.PaygOverflow {
		times, start := cached.ConflictTimes, cached.ConflictStart
		end := nowUnix()
		channelID := state.ChannelID
		deploymentID := deployment.ID.Hex()
		e.Dispatcher.Submit(func(ctx context.Context) {
			e.Conflict.ReportConflict(ctx, deploymentID, channelID, times, start, end)
		})
		return nil, gwerrors.New(gwerrors.ErrPaygConflict, nil)
	}

	return &PreparedQuerySingle{State: state, Keyname: keyname, Cached: cached, LocalNext: localNext, RemoteNext: remoteNext}, nil
}

// CommitQuerySingle is post_query_signle_state: applies the prepared
// spend/remote update to the cached channel state, persists it (or
// deletes it on channel close), and asynchronously reports the
// accepted spend to the coordinator. Call only once the upstream
// forward this query is paying for has actually succeeded — an
// upstream failure must leave spent/remote, the cache, and the
// coordinator untouched.
func (e *Engine) CommitQuerySingle(ctx context.Context, p *PreparedQuerySingle) (*QuerySingleResult, error) {
	state := p.State
	cached := p.Cached

	localNext := p.LocalNext
	cached.Spent = localNext
	cached.Remote = p.RemoteNext

	if state.IsFinal {
		if err := e.Store.Delete(ctx, p.Keyname); err != nil {
			return nil, gwerrors.New(gwerrors.ErrServiceException, err)
		}
	} else if err := e.Store.Put(ctx, p.Keyname, cached, 0); err != nil {
		return nil, err
	}

	indexerSign := state.IndexerSign.HexString()
	consumerSign := state.ConsumerSign.HexString()
	channelID := state.ChannelID
	remoteNext := p.RemoteNext
	isFinal := state.IsFinal
	e.Dispatcher.Submit(func(ctx context.Context) {
		if err := e.Coordinator.ChannelUpdate(ctx, channelID, remoteNext, isFinal, indexerSign, consumerSign); err != nil {
			// best-effort: the coordinator reconciles from its own
			// channel event feed on the next sync even if this drops.
			_ = err
		}
	})

	state.Remote = localNext
	return &QuerySingleResult{State: state, IsFinal: state.IsFinal}, nil
}

// QuerySingle runs PrepareQuerySingle followed immediately by
// CommitQuerySingle, for callers that settle a single-state query
// without an intervening upstream call to gate on (tests, and any
// out-of-band accounting that has no forward step of its own).
// handlePaygQuery does not use this: it calls the two phases
// separately so a failed upstream forward never advances spent.
func (e *Engine) QuerySingle(ctx context.Context, state *stateproto.QueryState, unitTimes, unitOverflow uint64) (*QuerySingleResult, error) {
	prepared, err := e.PrepareQuerySingle(ctx, state, unitTimes, unitOverflow)
	if err != nil {
		return nil, err
	}
	return e.CommitQuerySingle(ctx, prepared)
}
