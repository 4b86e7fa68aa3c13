package gateway

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/subquery/indexer-query-gateway/internal/auth"
	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
)

// handleQuery is query_handler: a JWT-authenticated, non-PAYG metered
// query. When AuthEnabled, the deployment the token was minted for
// must match the path's :deployment — a token is scoped to one project.
func (a *App) handleQuery(c *gin.Context) {
	deploymentID := c.Param("deployment")

	if a.AuthEnabled {
		tokenDeployment, _ := auth.DeploymentFromContext(c)
		if tokenDeployment != deploymentID {
			respondErr(c, gwerrors.New(gwerrors.ErrAuthVerifyInvalid, nil))
			return
		}
	}

	deployment, err := a.Registry.MustGet(deploymentID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := a.checkProjectRateCap(c, deploymentID, deployment.RateCapPerSec); err != nil {
		respondErr(c, err)
		return
	}

	endpoint, ok := deployment.EndpointByName(c.Query("ep_name"))
	if !ok {
		respondErr(c, gwerrors.New(gwerrors.ErrInvalidServiceEndpoint, nil))
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondErr(c, gwerrors.New(gwerrors.ErrInvalidRequest, err))
		return
	}

	data, err := a.forwardQuery(c, endpoint, body)
	if err != nil {
		respondErr(c, err)
		return
	}

	signature, err := a.signResponse(data)
	if err != nil {
		respondErr(c, err)
		return
	}
	writeQueryResponse(c, data, signature)
}

// handleQueryLimit is query_limit_handler: reports the calling token's
// daily/rate budget and today's/this-second's usage without consuming
// any of it.
func (a *App) handleQueryLimit(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c)
	if !ok || claims.Agreement == nil {
		c.JSON(http.StatusOK, gin.H{"daily_limit": 1, "daily_used": 0, "rate_limit": 1, "rate_used": 0})
		return
	}
	dailyLimit, dailyUsed, rateLimit, rateUsed := a.Limiter.Limits(c.Request.Context(), *claims.Agreement)
	c.JSON(http.StatusOK, gin.H{
		"daily_limit": dailyLimit,
		"daily_used":  dailyUsed,
		"rate_limit":  rateLimit,
		"rate_used":   rateUsed,
	})
}
