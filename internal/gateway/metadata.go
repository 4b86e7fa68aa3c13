package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
)

// handleMetadata is metadata_handler: a lightweight, unauthenticated
// summary of a deployment's configured endpoints and PAYG terms,
// useful for a consumer deciding whether to open a channel.
func (a *App) handleMetadata(c *gin.Context) {
	deployment, err := a.Registry.MustGet(c.Param("deployment"))
	if err != nil {
		respondErr(c, err)
		return
	}

	resp := gin.H{
		"indexer":        a.Indexer.Hex(),
		"deploymentId":   c.Param("deployment"),
		"defaultEndpoint": deployment.DefaultEndpoint(),
		"rateCapPerSec":  deployment.RateCapPerSec,
	}
	if deployment.PaygPrice != nil {
		resp["paygPrice"] = deployment.PaygPrice.String()
		resp["paygToken"] = deployment.PaygToken.Hex()
		resp["paygExpiration"] = deployment.PaygExpiration
	}
	c.JSON(http.StatusOK, resp)
}

// handleHealthy is healthy_handler: a trivial liveness probe reporting
// the indexer this process answers for.
func (a *App) handleHealthy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"indexer": a.Indexer.Hex(), "up": true})
}

// handleMetrics is metrics_handler: bearer-token-gated access to a
// Prometheus-text endpoint. No collectors are registered anywhere in
// the process; past the gate this handler serves a fixed placeholder
// exposition with a single "up 1" sample.
func (a *App) handleMetrics(c *gin.Context) {
	header := c.GetHeader("Authorization")
	name, token, ok := strings.Cut(header, " ")
	if !ok || name != "Bearer" || token != a.MetricsToken {
		respondErr(c, gwerrors.New(gwerrors.ErrPermission, nil))
		return
	}
	c.Header("Content-Type", "text/plain; version=0.0.4")
	c.String(http.StatusOK, "# indexer-query-gateway metrics placeholder\nup "+strconv.Itoa(1)+"\n")
}
