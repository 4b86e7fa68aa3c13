// Package gateway wires every other component into the HTTP surface
// consumers and indexer-controllers talk to: token issuance, metered
// free queries, PAYG state-channel queries, and the read-only
// metadata/health/metrics endpoints. It plays the role the teacher's
// pkg/sdk client-facing package plays in reverse — the teacher wraps
// outbound calls to a marketplace API, this wraps inbound calls from
// one — and borrows gin-gonic the same way the teacher borrows its own
// HTTP transport, one handler per route with dependencies injected
// through a single App rather than process-wide statics.
package gateway

import (
	"context"
	"crypto/ecdsa"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/subquery/indexer-query-gateway/internal/auth"
	"github.com/subquery/indexer-query-gateway/internal/chain"
	"github.com/subquery/indexer-query-gateway/internal/channelstore"
	"github.com/subquery/indexer-query-gateway/internal/coordinator"
	"github.com/subquery/indexer-query-gateway/internal/payg"
	"github.com/subquery/indexer-query-gateway/internal/registry"
)

// upstreamTimeout bounds a forwarded query the same way the
// coordinator's own GraphQL timeout does.
const upstreamTimeout = 40 * time.Second

// App is the gateway's full dependency set: every handler is a method
// on App rather than a closure over package-level state, so a test can
// build one with fakes for Coordinator/Chain and a miniredis-backed KV.
type App struct {
	Registry    *registry.Registry
	Coordinator coordinator.Client
	Chain       chain.Reader
	Engine      *payg.Engine
	Limiter     *auth.Limiter
	KV          channelstore.KV

	Controller         *ecdsa.PrivateKey
	ControllerAddress  common.Address
	Indexer            common.Address
	ChainID            int64

	JWTSecret     []byte
	TokenDuration time.Duration
	AuthEnabled   bool
	MetricsToken  string
	FreeTrialRate int64 // not read: handleToken grants a free-trial consumer a fixed rate of 1 request/sec

	HTTPClient *http.Client
	Upgrader   websocket.Upgrader
}

// New builds the gin engine and registers every route this gateway
// answers, grouped the way server.rs's router table groups them.
func New(app *App) *gin.Engine {
	if app.HTTPClient == nil {
		app.HTTPClient = &http.Client{Timeout: upstreamTimeout}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.POST("/token", app.handleToken)

	authed := r.Group("")
	if app.AuthEnabled {
		authed.Use(auth.RequireToken(app.JWTSecret, app.Limiter))
	}
	authed.POST("/query/:deployment", app.handleQuery)
	authed.GET("/query/:deployment/ws", app.handleQueryWS)
	authed.GET("/query-limit", app.handleQueryLimit)

	r.GET("/payg-price", app.handlePaygPrice)
	r.POST("/payg-open", app.handlePaygOpen)
	r.POST("/payg/:deployment", app.handlePaygQuery)
	r.POST("/payg-extend/:channel", app.handlePaygExtend)
	r.GET("/payg-state/:channel", app.handlePaygState)
	r.POST("/payg-pay", app.handlePaygPay)

	r.GET("/metadata/:deployment", app.handleMetadata)
	r.GET("/metrics", app.handleMetrics)
	r.GET("/healthy", app.handleHealthy)

	return r
}

// corsMiddleware mirrors the permissive CorsLayer the reference router
// installs: any origin, any header, GET/POST only, headers exposed.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST")
		c.Header("Access-Control-Expose-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// backgroundContext detaches from the request's own context, used
// wherever a handler kicks off work that must outlive a client
// disconnect (payg accounting already does this internally via
// payg.Dispatcher; this is for the handful of calls made directly from
// gateway code, such as the Limiter.SaveLimits write handleToken makes).
func backgroundContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}
