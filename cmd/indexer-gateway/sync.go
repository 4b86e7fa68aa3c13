package main

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/subquery/indexer-query-gateway/internal/channelstore"
	"github.com/subquery/indexer-query-gateway/internal/coordinator"
	"github.com/subquery/indexer-query-gateway/internal/model"
	"github.com/subquery/indexer-query-gateway/internal/registry"
)

const (
	projectSyncInterval = 30 * time.Second
	channelSyncInterval = 15 * time.Second
)

// runProjectSync periodically reloads the registry from the
// coordinator's alive-project and alive-payg lists, the same wholesale
// refresh the coordinator's sync job drives on the other side.
func runProjectSync(ctx context.Context, coord coordinator.Client, reg *registry.Registry) {
	ticker := time.NewTicker(projectSyncInterval)
	defer ticker.Stop()

	sync := func() {
		projects, err := coord.AliveProjects(ctx)
		if err != nil {
			zap.L().Warn("sync: failed to fetch alive projects", zap.Error(err))
			return
		}
		paygs, err := coord.AlivePaygs(ctx)
		if err != nil {
			zap.L().Warn("sync: failed to fetch alive paygs", zap.Error(err))
			return
		}
		paygByID := make(map[string]coordinator.AlivePayg, len(paygs))
		for _, p := range paygs {
			paygByID[p.ID] = p
		}

		items := make([]registry.RawDeployment, 0, len(projects))
		for _, p := range projects {
			item := registry.RawDeployment{
				ID:           p.ID,
				DeclaredKind: model.KindSubGraphQL,
				Endpoints: []registry.RawEndpoint{
					{Key: "queryEndpoint", Value: p.QueryEndpoint},
					{Key: "nodeEndpoint", Value: p.NodeEndpoint},
				},
			}
			if payg, ok := paygByID[p.ID]; ok {
				price, valid := new(big.Int).SetString(payg.Price, 10)
				if valid {
					item.PaygPrice = &model.PriceQuote{
						Price:             price,
						ExpirationSeconds: payg.Expiration,
					}
					item.PaygOverflow = uint64(payg.Overflow)
				}
			}
			items = append(items, item)
		}
		reg.Reload(items)
	}

	sync()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sync()
		}
	}
}

// runChannelSync periodically reconciles the local channel cache
// against the coordinator's authoritative channel list, absorbing
// on-chain confirmations and coordinator-reported spend through
// Store.Reconcile. OpenChannel and ExtendChannel never write the cache,
// so this loop is how a newly opened channel first enters it.
func runChannelSync(ctx context.Context, coord coordinator.Client, store *channelstore.Store, resolve channelstore.ResolveConsumerType) {
	ticker := time.NewTicker(channelSyncInterval)
	defer ticker.Stop()

	sync := func() {
		channels, err := coord.AliveChannels(ctx)
		if err != nil {
			zap.L().Warn("sync: failed to fetch alive channels", zap.Error(err))
			return
		}
		now := time.Now()
		for _, ch := range channels {
			id, ok := new(big.Int).SetString(ch.ID, 0)
			if !ok {
				continue
			}
			total, _ := new(big.Int).SetString(ch.Total, 10)
			spent, _ := new(big.Int).SetString(ch.Spent, 10)
			remote, _ := new(big.Int).SetString(ch.Remote, 10)
			price, _ := new(big.Int).SetString(ch.Price, 10)

			ev := channelstore.ChannelEvent{
				ChannelID:  id,
				Consumer:   common.HexToAddress(ch.Consumer),
				Agent:      common.HexToAddress(ch.Agent),
				Total:      total,
				Spent:      spent,
				Remote:     remote,
				Price:      price,
				Expiration: ch.ExpiredAt,
				IsFinal:    ch.LastFinal,
			}
			if err := store.Reconcile(ctx, ev, now, resolve); err != nil {
				zap.L().Warn("sync: failed to reconcile channel", zap.String("channelId", ch.ID), zap.Error(err))
			}
		}
	}

	sync()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sync()
		}
	}
}
