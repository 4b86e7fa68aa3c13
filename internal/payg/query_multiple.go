package payg

import (
	"context"
	"math/big"

	"github.com/subquery/indexer-query-gateway/internal/channelstore"
	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
	"github.com/subquery/indexer-query-gateway/internal/stateproto"
)

// PreparedQueryMultiple is the output of PrepareQueryMultiple: the
// countersigned range state, its lifecycle classification, and the
// cached channel state it will update. Nothing here has touched the
// store yet.
type PreparedQueryMultiple struct {
	State   *stateproto.MultipleQueryState
	Keyname string
	Cached  *channelstore.ChannelState
	Active  stateproto.MultipleQueryStateActive
}

// PrepareQueryMultiple is before_query_multiple_state: it verifies
// (and, if unknown, learns) the request's signer, checks the pledged
// range against the channel total and the fixed maximum range width,
// classifies the resulting lifecycle state (Active/Inactive1/
// Inactive2), and countersigns the state as that lifecycle byte. It
// advances the in-memory cached spend but persists nothing — call
// CommitQueryMultiple after a successful upstream forward to do that.
// When Active is Inactive2 (range exhausted) the caller must not
// forward upstream, and must never call CommitQueryMultiple: the
// range-exhausted reply carries no spend.
func (e *Engine) PrepareQueryMultiple(ctx context.Context, state *stateproto.MultipleQueryState, unitTimes uint64) (*PreparedQueryMultiple, error) {
	signer, err := state.Recover()
	if err != nil {
		return nil, gwerrors.New(gwerrors.ErrInvalidSignature, err)
	}

	cached, keyname, err := e.Store.Get(ctx, state.ChannelID)
	if err != nil {
		return nil, err
	}

	if err := e.resolveAndMaybeLearnSigner(ctx, cached, signer); err != nil {
		return nil, err
	}

	active, err := classifyMultipleStateBalance(cached, unitTimes, state.Start, state.End)
	if err != nil {
		return nil, err
	}

	usedAmount := new(big.Int).Mul(cached.Price, new(big.Int).SetUint64(unitTimes))
	cached.Spent = new(big.Int).Add(cached.Spent, usedAmount)

	if err := state.SignAs(e.Controller, active); err != nil {
		return nil, gwerrors.New(gwerrors.ErrInvalidSignature, err)
	}

	return &PreparedQueryMultiple{State: state, Keyname: keyname, Cached: cached, Active: active}, nil
}

// CommitQueryMultiple is post_query_multiple_state: persists the
// prepared cache update. Call only once the upstream forward this
// query is paying for has succeeded; never call it for a range-
// exhausted (Inactive2) classification, which never reaches upstream.
func (e *Engine) CommitQueryMultiple(ctx context.Context, p *PreparedQueryMultiple) error {
	return e.Store.Put(ctx, p.Keyname, p.Cached, 0)
}

// QueryMultiple runs PrepareQueryMultiple followed immediately by
// CommitQueryMultiple when the range isn't exhausted, for callers that
// settle a range-mode query without an intervening upstream call to
// gate on (tests, and any out-of-band accounting that has no forward
// step of its own). handlePaygQuery does not use this: it calls the
// two phases separately so a failed upstream forward never advances
// spent, and a range-exhausted reply never bills at all.
func (e *Engine) QueryMultiple(ctx context.Context, state *stateproto.MultipleQueryState, unitTimes uint64) (*stateproto.MultipleQueryState, error) {
	prepared, err := e.PrepareQueryMultiple(ctx, state, unitTimes)
	if err != nil {
		return nil, err
	}
	if !prepared.Active.IsInactive() {
		if err := e.CommitQueryMultiple(ctx, prepared); err != nil {
			return nil, err
		}
	}
	return prepared.State, nil
}

// classifyMultipleStateBalance is check_multiple_state_balance:
// rejects a spend past the channel total or a range wider than
// stateproto.MultipleRangeMax, then buckets the projected spend
// against the range's middle and end thresholds, overriding to
// Inactive2 when the channel has fallen more than one range-width
// behind its last confirmed remote spend.
func classifyMultipleStateBalance(cached *channelstore.ChannelState, unitTimes uint64, start, end *big.Int) (stateproto.MultipleQueryStateActive, error) {
	usedAmount := new(big.Int).Mul(cached.Price, new(big.Int).SetUint64(unitTimes))
	localNext := new(big.Int).Add(cached.Spent, usedAmount)

	if localNext.Cmp(cached.Total) > 0 {
		return 0, gwerrors.New(gwerrors.ErrOverflowTotal, nil)
	}

	rangeWidth := new(big.Int).Sub(end, start)
	if rangeWidth.Cmp(stateproto.MultipleRangeMax) > 0 {
		return 0, gwerrors.New(gwerrors.ErrOverflowRange, nil)
	}

	middle := new(big.Int).Add(start, new(big.Int).Div(rangeWidth, big.NewInt(2)))

	active := stateproto.Inactive1
	switch {
	case localNext.Cmp(middle) < 0:
		active = stateproto.Active
	case localNext.Cmp(end) > 0:
		active = stateproto.Inactive2
	}

	if start.Cmp(rangeWidth) > 0 {
		floor := new(big.Int).Sub(start, rangeWidth)
		if cached.Remote.Cmp(floor) < 0 {
			active = stateproto.Inactive2
		}
	}

	return active, nil
}
