package gateway

import (
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/subquery/indexer-query-gateway/internal/auth"
	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
	"github.com/subquery/indexer-query-gateway/internal/model"
	"github.com/subquery/indexer-query-gateway/internal/stateproto"
)

// freeTrialDailyCap is the daily budget granted to a try-and-dispute
// consumer admitted without an agreement: generous enough for
// evaluation traffic, nowhere near a paid plan's typical ceiling.
const freeTrialDailyCap = 1440

// tokenPayload is generate_token's request body.
type tokenPayload struct {
	Indexer      string  `json:"indexer"`
	Consumer     *string `json:"consumer"`
	Agreement    *string `json:"agreement"`
	DeploymentID string  `json:"deploymentId"`
	Signature    string  `json:"signature"`
	TimestampMs  int64   `json:"timestamp"`
	ChainID      int64   `json:"chainId"`
}

// handleToken is generate_token: it verifies the request targets a
// known deployment and this indexer, recovers the requester's signer
// from the appropriate EIP-712 payload, admits it via one of three
// routes (the indexer itself, an on-chain agreement, or a free-trial
// consumer grant), and on success mints and persists an access token.
func (a *App) handleToken(c *gin.Context) {
	var payload tokenPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondErr(c, gwerrors.New(gwerrors.ErrInvalidRequest, err))
		return
	}

	if _, err := a.Registry.MustGet(payload.DeploymentID); err != nil {
		respondErr(c, err)
		return
	}
	if !strings.EqualFold(payload.Indexer, a.Indexer.Hex()) {
		respondErr(c, gwerrors.New(gwerrors.ErrAuthCreateSigner, nil))
		return
	}

	signer, err := a.recoverTokenSigner(payload)
	if err != nil {
		respondErr(c, err)
		return
	}

	agreement, dailyLimit, rateLimit, ok, err := a.admitTokenSigner(c, signer, payload)
	if err != nil {
		respondErr(c, err)
		return
	}
	if !ok {
		respondErr(c, gwerrors.New(gwerrors.ErrAuthCreateSigner, nil))
		return
	}

	now := time.Now()
	token, err := auth.Issue(auth.IssueParams{
		Indexer:       payload.Indexer,
		Agreement:     agreement,
		DeploymentID:  payload.DeploymentID,
		TimestampMs:   payload.TimestampMs,
		TokenDuration: a.TokenDuration,
		Secret:        a.JWTSecret,
	}, now)
	if err != nil {
		respondErr(c, err)
		return
	}

	if agreement != nil {
		a.Limiter.SaveLimits(backgroundContext(c), *agreement, model.AgreementLimits{
			DailyLimit: dailyLimit,
			RateLimit:  rateLimit,
		})
	}

	c.JSON(200, gin.H{"token": token})
}

// recoverTokenSigner recovers the EIP-712 signer over either the
// consumer+agreement payload (when both are present) or the plain
// indexer payload.
func (a *App) recoverTokenSigner(payload tokenPayload) (common.Address, error) {
	sig := stateproto.SignatureFromHex(payload.Signature)

	if payload.Consumer != nil && payload.Agreement != nil {
		digest, err := stateproto.ConsumerTokenDigest(
			common.HexToAddress(*payload.Consumer), common.HexToAddress(payload.Indexer),
			*payload.Agreement, payload.DeploymentID, payload.TimestampMs, payload.ChainID,
		)
		if err != nil {
			return common.Address{}, gwerrors.New(gwerrors.ErrInvalidSignature, err)
		}
		signer, err := stateproto.RecoverTypedData(digest, sig)
		if err != nil {
			return common.Address{}, gwerrors.New(gwerrors.ErrInvalidSignature, err)
		}
		return signer, nil
	}

	digest, err := stateproto.IndexerTokenDigest(common.HexToAddress(payload.Indexer), payload.TimestampMs, payload.DeploymentID, payload.ChainID)
	if err != nil {
		return common.Address{}, gwerrors.New(gwerrors.ErrInvalidSignature, err)
	}
	signer, err := stateproto.RecoverTypedData(digest, sig)
	if err != nil {
		return common.Address{}, gwerrors.New(gwerrors.ErrInvalidSignature, err)
	}
	return signer, nil
}

// admitTokenSigner implements generate_token's three-way admission
// branch: the indexer itself is unmetered; a consumer presenting an
// agreement is checked on-chain; a bare consumer (no agreement) gets a
// free-trial grant bound to its request IP in place of an agreement id.
func (a *App) admitTokenSigner(c *gin.Context, signer common.Address, payload tokenPayload) (agreement *string, dailyLimit, rateLimit int64, ok bool, err error) {
	if strings.EqualFold(signer.Hex(), payload.Indexer) {
		return nil, 0, 0, true, nil
	}

	if payload.Agreement != nil {
		return a.checkAgreementAndConsumer(c, signer, *payload.Agreement)
	}

	if payload.Consumer != nil && strings.EqualFold(signer.Hex(), *payload.Consumer) {
		ip, _, splitErr := net.SplitHostPort(c.Request.RemoteAddr)
		if splitErr != nil {
			ip = c.Request.RemoteAddr
		}
		trial := ip
		return &trial, freeTrialDailyCap, 1, true, nil
	}

	return nil, 0, 0, false, nil
}

// checkAgreementAndConsumer mirrors contracts.rs's check_agreement_and_consumer:
// it reads the closed service agreement, verifies the signer is either
// the agreement's consumer or one of its registered controllers, checks
// the agreement's window is currently active, and on success reads the
// plan template's daily/rate budget.
func (a *App) checkAgreementAndConsumer(c *gin.Context, signer common.Address, agreementID string) (agreement *string, dailyLimit, rateLimit int64, ok bool, err error) {
	id, valid := new(big.Int).SetString(agreementID, 10)
	if !valid {
		return nil, 0, 0, false, gwerrors.New(gwerrors.ErrSerialize, nil)
	}

	sa, err := a.Chain.GetClosedServiceAgreement(c.Request.Context(), id.Uint64())
	if err != nil {
		return nil, 0, 0, false, gwerrors.New(gwerrors.ErrServiceException, err)
	}

	allowed := signer == sa.Consumer
	if !allowed {
		allowed, err = a.Chain.IsController(c.Request.Context(), sa.Consumer, signer)
		if err != nil {
			return nil, 0, 0, false, gwerrors.New(gwerrors.ErrServiceException, err)
		}
	}

	now := time.Now().Unix()
	checked := allowed && sa.Start <= now && now <= sa.Start+sa.Period
	if !checked {
		return nil, 0, 0, false, nil
	}

	plan, err := a.Chain.GetPlanTemplate(c.Request.Context(), sa.TemplateID)
	if err != nil {
		return nil, 0, 0, false, gwerrors.New(gwerrors.ErrServiceException, err)
	}

	return &agreementID, plan.DailyReqCap, plan.RateLimit, true, nil
}
