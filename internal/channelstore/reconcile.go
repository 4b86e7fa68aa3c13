package channelstore

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/subquery/indexer-query-gateway/internal/model"
)

// ChannelEvent is a coordinator checkpoint for one channel, as reported
// by CoordinatorSync (external). Field names mirror the coordinator's
// GraphQL channel type.
type ChannelEvent struct {
	ChannelID  *big.Int
	Consumer   common.Address
	Agent      common.Address
	Deployment common.Hash
	Total      *big.Int
	Spent      *big.Int
	Remote     *big.Int
	Price      *big.Int
	Expiration int64
	IsFinal    bool
}

// ResolveConsumerType resolves a channel's ConsumerType the first time
// its signer set is learned, consulting the on-chain consumer-host
// registry (component B's resolver).
type ResolveConsumerType func(ctx context.Context, consumer, agent common.Address) (model.ConsumerType, error)

// Reconcile absorbs a coordinator checkpoint into the cache:
//   - is_final or now > expiration  -> delete
//   - otherwise merge with a monotone-max on remote/spent, coordi <- event.Spent
//
// The commented-out "fixed spent" formula from the source
// (spent ← cached.spent + cached.coordi − event.spent) is intentionally
// NOT implemented: per the design notes this is a historical
// alternative that must not be silently reintroduced.
func (s *Store) Reconcile(ctx context.Context, ev ChannelEvent, now time.Time, resolve ResolveConsumerType) error {
	key := KeyName(ev.ChannelID)
	nowUnix := now.Unix()

	if ev.IsFinal || nowUnix > ev.Expiration {
		return s.Delete(ctx, key)
	}

	existing, _, err := s.Get(ctx, ev.ChannelID)
	var state *ChannelState
	if err != nil {
		// No usable cached state: this is the channel's first sync.
		signer, rerr := resolve(ctx, ev.Consumer, ev.Agent)
		if rerr != nil {
			return rerr
		}
		state = &ChannelState{
			Expiration:    ev.Expiration,
			Agent:         ev.Agent,
			Deployment:    ev.Deployment,
			Price:         ev.Price,
			Total:         ev.Total,
			Spent:         ev.Spent,
			Remote:        ev.Remote,
			Coordi:        ev.Spent,
			ConflictStart: nowUnix,
			ConflictTimes: 0,
			Signer:        signer,
		}
	} else {
		state = existing
		state.Expiration = ev.Expiration
		state.Total = ev.Total
		state.Price = ev.Price
		state.Remote = maxBig(state.Remote, ev.Remote)
		state.Spent = maxBig(state.Spent, ev.Spent)
		state.Coordi = ev.Spent
		if state.Signer.IsEmpty() {
			signer, rerr := resolve(ctx, ev.Consumer, ev.Agent)
			if rerr != nil {
				return rerr
			}
			state.Signer = signer
		}
	}

	ttl := time.Duration(ev.Expiration-nowUnix) * time.Second
	return s.Put(ctx, key, state, ttl)
}

func maxBig(a, b *big.Int) *big.Int {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
