// Package coordinator wraps the outbound GraphQL calls this gateway
// makes to the SubQuery coordinator service (§6.3): read queries used
// at startup/refresh time, and the fire-and-forget channel-settlement
// mutations issued by internal/payg after each query. It plays the role
// the teacher's generated gRPC clients play for on-chain services,
// reimplemented here as a thin GraphQL client since the coordinator
// speaks GraphQL, not gRPC.
package coordinator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/machinebox/graphql"
	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
	"go.uber.org/zap"
)

// requestTimeout matches the upstream HTTP client's fixed 40-second
// timeout for coordinator and upstream query calls.
const requestTimeout = 40 * time.Second

// AccountMetadata is the coordinator's record of this indexer's
// registered account.
type AccountMetadata struct {
	Indexer      string `json:"indexer"`
	EncryptedKey string `json:"encryptedKey"`
}

// ServicesVersion reports the coordinator's own build version.
type ServicesVersion struct {
	Coordinator string `json:"coordinator"`
}

// AliveProject is one entry from the coordinator's live deployment list.
type AliveProject struct {
	ID            string `json:"id"`
	QueryEndpoint string `json:"queryEndpoint"`
	NodeEndpoint  string `json:"nodeEndpoint"`
}

// AlivePayg is one deployment's current PAYG pricing terms.
type AlivePayg struct {
	ID         string `json:"id"`
	Price      string `json:"price"`
	Expiration int64  `json:"expiration"`
	Overflow   int64  `json:"overflow"`
}

// AliveChannel is the coordinator's authoritative view of one open
// channel, used to seed or reconcile the local ChannelStore.
type AliveChannel struct {
	ID        string `json:"id"`
	Consumer  string `json:"consumer"`
	Agent     string `json:"agent"`
	Total     string `json:"total"`
	Spent     string `json:"spent"`
	Remote    string `json:"remote"`
	Price     string `json:"price"`
	LastFinal bool   `json:"lastFinal"`
	ExpiredAt int64  `json:"expiredAt"`
}

// Client is the coordinator surface internal/payg, internal/gateway and
// cmd/indexer-gateway depend on. It is an interface so tests can inject a fake without a
// network round trip.
type Client interface {
	AccountMetadata(ctx context.Context) (*AccountMetadata, error)
	ServicesVersion(ctx context.Context) (*ServicesVersion, error)
	AliveProjects(ctx context.Context) ([]AliveProject, error)
	AlivePaygs(ctx context.Context) ([]AlivePayg, error)
	AliveChannels(ctx context.Context) ([]AliveChannel, error)

	// ChannelUpdate reports the gateway's latest accepted spend for a
	// channel. id is the channel's u256 identifier.
	ChannelUpdate(ctx context.Context, id *big.Int, spent *big.Int, isFinal bool, indexerSign, consumerSign string) error

	// ChannelExtend reports a signed extension of a channel's
	// expiration and/or price.
	ChannelExtend(ctx context.Context, id *big.Int, expiredAt int64, price *big.Int) error

	// ChannelSpent reads the coordinator's authoritative recorded spend
	// for a channel, consulted by PayChannel to avoid re-settling an
	// amount the coordinator has already paid out.
	ChannelSpent(ctx context.Context, id *big.Int) (*big.Int, error)
}

// GraphQLClient is the production Client, backed by machinebox/graphql.
type GraphQLClient struct {
	client *graphql.Client
}

// New returns a GraphQLClient pointed at endpoint.
func New(endpoint string) *GraphQLClient {
	return &GraphQLClient{client: graphql.NewClient(endpoint)}
}

func (c *GraphQLClient) run(ctx context.Context, query string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req := graphql.NewRequest(query)
	if err := c.client.Run(ctx, req, out); err != nil {
		zap.L().Error("coordinator: graphql request failed", zap.Error(err))
		return gwerrors.New(gwerrors.ErrGraphQLInternal, err)
	}
	return nil
}

func (c *GraphQLClient) AccountMetadata(ctx context.Context) (*AccountMetadata, error) {
	var resp struct {
		AccountMetadata AccountMetadata `json:"accountMetadata"`
	}
	if err := c.run(ctx, "query { accountMetadata { indexer encryptedKey } }", &resp); err != nil {
		return nil, err
	}
	return &resp.AccountMetadata, nil
}

func (c *GraphQLClient) ServicesVersion(ctx context.Context) (*ServicesVersion, error) {
	var resp struct {
		ServicesVersion ServicesVersion `json:"getServicesVersion"`
	}
	if err := c.run(ctx, "query { getServicesVersion { coordinator } }", &resp); err != nil {
		return nil, err
	}
	return &resp.ServicesVersion, nil
}

func (c *GraphQLClient) AliveProjects(ctx context.Context) ([]AliveProject, error) {
	var resp struct {
		AliveProjects []AliveProject `json:"getAliveProjects"`
	}
	if err := c.run(ctx, "query { getAliveProjects { id queryEndpoint nodeEndpoint } }", &resp); err != nil {
		return nil, err
	}
	return resp.AliveProjects, nil
}

func (c *GraphQLClient) AlivePaygs(ctx context.Context) ([]AlivePayg, error) {
	var resp struct {
		AlivePaygs []AlivePayg `json:"getAlivePaygs"`
	}
	if err := c.run(ctx, "query { getAlivePaygs { id price expiration overflow } }", &resp); err != nil {
		return nil, err
	}
	return resp.AlivePaygs, nil
}

func (c *GraphQLClient) AliveChannels(ctx context.Context) ([]AliveChannel, error) {
	var resp struct {
		AliveChannels []AliveChannel `json:"getAliveChannels"`
	}
	query := "query { getAliveChannels { id consumer agent total spent remote price lastFinal expiredAt } }"
	if err := c.run(ctx, query, &resp); err != nil {
		return nil, err
	}
	return resp.AliveChannels, nil
}

func (c *GraphQLClient) ChannelUpdate(ctx context.Context, id *big.Int, spent *big.Int, isFinal bool, indexerSign, consumerSign string) error {
	mutation := fmt.Sprintf(
		`mutation { channelUpdate(id:"%s", spent:"%s", isFinal:%t, indexerSign:"0x%s", consumerSign:"0x%s") { id, spent } }`,
		hexUpper(id), spent.String(), isFinal, indexerSign, consumerSign,
	)
	var resp struct {
		ChannelUpdate struct {
			ID    string `json:"id"`
			Spent string `json:"spent"`
		} `json:"channelUpdate"`
	}
	return c.run(ctx, mutation, &resp)
}

func (c *GraphQLClient) ChannelExtend(ctx context.Context, id *big.Int, expiredAt int64, price *big.Int) error {
	mutation := fmt.Sprintf(
		`mutation { channelExtend(id:"%s", expiration:%d, price:"%s") { id, expiredAt } }`,
		hexUpper(id), expiredAt, price.String(),
	)
	var resp struct {
		ChannelExtend struct {
			ID        string `json:"id"`
			ExpiredAt int64  `json:"expiredAt"`
		} `json:"channelExtend"`
	}
	return c.run(ctx, mutation, &resp)
}

func (c *GraphQLClient) ChannelSpent(ctx context.Context, id *big.Int) (*big.Int, error) {
	query := fmt.Sprintf(`query { channel(id:"%s") { spent } }`, hexUpper(id))
	var resp struct {
		Channel struct {
			Spent string `json:"spent"`
		} `json:"channel"`
	}
	if err := c.run(ctx, query, &resp); err != nil {
		return nil, err
	}
	spent, ok := new(big.Int).SetString(resp.Channel.Spent, 10)
	if !ok {
		return nil, gwerrors.New(gwerrors.ErrSerialize, nil)
	}
	return spent, nil
}

// hexUpper renders a u256 channel id the same way the upstream format
// string does ("{:#X}": 0x-prefixed, uppercase).
func hexUpper(id *big.Int) string {
	return fmt.Sprintf("0x%X", id)
}

var _ Client = (*GraphQLClient)(nil)
