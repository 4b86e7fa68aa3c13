package gateway

import (
	"context"
	"encoding/hex"
	"io"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
	"github.com/subquery/indexer-query-gateway/internal/payg"
	"github.com/subquery/indexer-query-gateway/internal/stateproto"
)

// priceQuoteExpirySeconds is how long a /payg-price signed quote
// remains valid, matching the 24-hour window merket_price grants.
const priceQuoteExpirySeconds = 86400

// handlePaygPrice is payg_price/merket_price: for every PAYG-enabled
// deployment, sign a fresh price quote valid for the next 24 hours.
func (a *App) handlePaygPrice(c *gin.Context) {
	deployments := a.Registry.List()
	expired := time.Now().Unix() + priceQuoteExpirySeconds

	values := make([][]interface{}, 0, len(deployments))
	for _, d := range deployments {
		if d.PaygPrice == nil || d.PaygPrice.Sign() <= 0 {
			continue
		}
		sig, err := stateproto.SignPriceQuote(d.PaygPrice, d.PaygToken, expired, a.Controller)
		if err != nil {
			respondErr(c, gwerrors.New(gwerrors.ErrInvalidSignature, err))
			return
		}
		values = append(values, []interface{}{
			stateproto.HashToCID(d.ID),
			d.PaygPrice.String(),
			strconv.FormatInt(d.PaygExpiration, 10),
			d.PaygToken.Hex(),
			expired,
			sig.HexString(),
		})
	}

	c.JSON(200, gin.H{
		"indexer":     a.Indexer.Hex(),
		"controller":  a.ControllerAddress.Hex(),
		"deployments": values,
	})
}

// openStateWire is the JSON wire shape of stateproto.OpenState, field
// names matching the consumer SDK's camelCase convention.
type openStateWire struct {
	ChannelID    string `json:"channelId"`
	Indexer      string `json:"indexer"`
	Consumer     string `json:"consumer"`
	Total        string `json:"total"`
	Price        string `json:"price"`
	Expiration   string `json:"expiration"`
	DeploymentID string `json:"deploymentId"`
	Callback     string `json:"callback"`
	IndexerSign  string `json:"indexerSign"`
	ConsumerSign string `json:"consumerSign"`
	PricePrice   string `json:"pricePrice"`
	PriceToken   string `json:"priceToken"`
	PriceExpired int64  `json:"priceExpired"`
	PriceSign    string `json:"priceSign"`
}

func (w openStateWire) toState() (*stateproto.OpenState, error) {
	channelID, ok := new(big.Int).SetString(w.ChannelID, 0)
	if !ok {
		return nil, gwerrors.New(gwerrors.ErrSerialize, nil)
	}
	total, ok := new(big.Int).SetString(w.Total, 10)
	if !ok {
		return nil, gwerrors.New(gwerrors.ErrSerialize, nil)
	}
	price, ok := new(big.Int).SetString(w.Price, 10)
	if !ok {
		return nil, gwerrors.New(gwerrors.ErrSerialize, nil)
	}
	expiration, ok := new(big.Int).SetString(w.Expiration, 10)
	if !ok {
		return nil, gwerrors.New(gwerrors.ErrSerialize, nil)
	}
	deploymentHash := stateproto.CIDToHash(w.DeploymentID)
	if deploymentHash == (common.Hash{}) {
		return nil, gwerrors.New(gwerrors.ErrSerialize, nil)
	}
	callback, err := hex.DecodeString(w.Callback)
	if err != nil {
		return nil, gwerrors.New(gwerrors.ErrSerialize, err)
	}

	pricePrice := price
	if w.PricePrice != "" {
		pricePrice, ok = new(big.Int).SetString(w.PricePrice, 10)
		if !ok {
			return nil, gwerrors.New(gwerrors.ErrSerialize, nil)
		}
	}
	priceToken := common.HexToAddress(w.PriceToken)

	return &stateproto.OpenState{
		ChannelID:    channelID,
		Indexer:      common.HexToAddress(w.Indexer),
		Consumer:     common.HexToAddress(w.Consumer),
		Total:        total,
		Price:        price,
		Expiration:   expiration,
		DeploymentID: deploymentHash,
		Callback:     callback,
		IndexerSign:  stateproto.SignatureFromHex(w.IndexerSign),
		ConsumerSign: stateproto.SignatureFromHex(w.ConsumerSign),
		PriceOfPrice: pricePrice,
		PriceToken:   priceToken,
		PriceExpired: w.PriceExpired,
		PriceSign:    stateproto.SignatureFromHex(w.PriceSign),
	}, nil
}

func fromState(s *stateproto.OpenState) openStateWire {
	return openStateWire{
		ChannelID:    "0x" + s.ChannelID.Text(16),
		Indexer:      s.Indexer.Hex(),
		Consumer:     s.Consumer.Hex(),
		Total:        s.Total.String(),
		Price:        s.Price.String(),
		Expiration:   s.Expiration.String(),
		DeploymentID: stateproto.HashToCID(s.DeploymentID),
		Callback:     hex.EncodeToString(s.Callback),
		IndexerSign:  s.IndexerSign.HexString(),
		ConsumerSign: s.ConsumerSign.HexString(),
		PricePrice:   s.PriceOfPrice.String(),
		PriceToken:   s.PriceToken.Hex(),
		PriceExpired: s.PriceExpired,
		PriceSign:    s.PriceSign.HexString(),
	}
}

// handlePaygOpen is payg_generate/open_state: countersigns a proposed
// channel-open request as the indexer.
func (a *App) handlePaygOpen(c *gin.Context) {
	var wire openStateWire
	if err := c.ShouldBindJSON(&wire); err != nil {
		respondErr(c, gwerrors.New(gwerrors.ErrSerialize, err))
		return
	}
	state, err := wire.toState()
	if err != nil {
		respondErr(c, err)
		return
	}

	signed, err := a.Engine.OpenChannel(c.Request.Context(), state)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(200, fromState(signed))
}

// handlePaygQuery is payg_query: a PAYG-metered query against a
// single-state or range-mode (X-Channel-Block: multiple) channel.
// Spend/cache/coordinator bookkeeping is only ever committed after the
// upstream forward succeeds — an upstream failure must leave the
// channel's accounting exactly as it was before the request.
func (a *App) handlePaygQuery(c *gin.Context) {
	deploymentID := c.Param("deployment")
	deployment, err := a.Registry.MustGet(deploymentID)
	if err != nil {
		respondErr(c, err)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondErr(c, gwerrors.New(gwerrors.ErrInvalidRequest, err))
		return
	}
	unitTimes, unitOverflow := payg.ComputeQueryUnits(deployment.Kind, body, a.Engine.Tokens)

	authHeader := c.GetHeader("Authorization")
	var stateB64 string
	var skipUpstream bool
	var commit func(ctx context.Context) error

	if c.GetHeader(headerChannelBlock) == "multiple" {
		state, err := stateproto.MultipleQueryStateFromBase64(authHeader)
		if err != nil {
			respondErr(c, err)
			return
		}
		prepared, err := a.Engine.PrepareQueryMultiple(c.Request.Context(), state, unitTimes)
		if err != nil {
			respondErr(c, err)
			return
		}
		stateB64 = prepared.State.ToBase64()
		skipUpstream = prepared.Active.IsInactive()
		if !skipUpstream {
			commit = func(ctx context.Context) error {
				return a.Engine.CommitQueryMultiple(ctx, prepared)
			}
		}
	} else {
		state, err := stateproto.QueryStateFromBase64(authHeader)
		if err != nil {
			respondErr(c, err)
			return
		}
		prepared, err := a.Engine.PrepareQuerySingle(c.Request.Context(), state, unitTimes, unitOverflow)
		if err != nil {
			respondErr(c, err)
			return
		}
		commit = func(ctx context.Context) error {
			result, err := a.Engine.CommitQuerySingle(ctx, prepared)
			if err != nil {
				return err
			}
			stateB64 = result.State.ToBase64()
			return nil
		}
	}

	var data []byte
	if skipUpstream {
		data = []byte{}
	} else {
		endpoint, ok := deployment.EndpointByName(c.Query("ep_name"))
		if !ok {
			respondErr(c, gwerrors.New(gwerrors.ErrInvalidServiceEndpoint, nil))
			return
		}
		data, err = a.forwardQuery(c, endpoint, body)
		if err != nil {
			respondErr(c, err)
			return
		}
		if err := commit(c.Request.Context()); err != nil {
			respondErr(c, err)
			return
		}
	}

	signature, err := a.signResponse(data)
	if err != nil {
		respondErr(c, err)
		return
	}
	writePaygResponse(c, data, signature, stateB64)
}

type extendParams struct {
	Expired    int64  `json:"expired"`
	Expiration int64  `json:"expiration"`
	Signature  string `json:"signature"`
}

// handlePaygExtend is payg_extend: extends a channel's expiration at
// its currently cached price, re-validated against the project's
// current market price.
func (a *App) handlePaygExtend(c *gin.Context) {
	channelID, err := parseChannelID(c.Param("channel"))
	if err != nil {
		respondErr(c, err)
		return
	}

	var params extendParams
	if err := c.ShouldBindJSON(&params); err != nil {
		respondErr(c, gwerrors.New(gwerrors.ErrSerialize, err))
		return
	}

	cached, _, err := a.Engine.Store.Get(c.Request.Context(), channelID)
	if err != nil {
		respondErr(c, err)
		return
	}

	sig, err := a.Engine.ExtendChannel(c.Request.Context(), channelID, cached.Price, params.Expired, params.Expiration, stateproto.SignatureFromHex(params.Signature))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(200, gin.H{"signature": sig.HexString()})
}

// handlePaygState is payg_state: reports a channel's cached balance
// fields as decimal strings.
func (a *App) handlePaygState(c *gin.Context) {
	channelID, err := parseChannelID(c.Param("channel"))
	if err != nil {
		respondErr(c, err)
		return
	}
	cached, _, err := a.Engine.Store.Get(c.Request.Context(), channelID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(200, gin.H{
		"channel":  "0x" + channelID.Text(16),
		"price":    cached.Price.String(),
		"total":    cached.Total.String(),
		"spent":    cached.Spent.String(),
		"remote":   cached.Remote.String(),
		"conflict": cached.ConflictTimes,
	})
}

// handlePaygPay is payg_pay: an out-of-band settlement request.
func (a *App) handlePaygPay(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondErr(c, gwerrors.New(gwerrors.ErrInvalidRequest, err))
		return
	}
	state, err := stateproto.QueryStateFromBase64(string(body))
	if err != nil {
		respondErr(c, err)
		return
	}
	updated, err := a.Engine.PayChannel(c.Request.Context(), state)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.String(200, updated.ToBase64())
}

func parseChannelID(s string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, gwerrors.New(gwerrors.ErrSerialize, nil)
	}
	return id, nil
}
