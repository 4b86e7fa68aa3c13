package gateway

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/subquery/indexer-query-gateway/internal/auth"
	"go.uber.org/zap"
)

// handleQueryWS is ws_query_handler: it upgrades the inbound
// connection, dials the deployment's upstream endpoint as a
// WebSocket, and relays messages synchronously in both directions,
// countersigning every response frame the same way the HTTP query
// path signs its single response.
func (a *App) handleQueryWS(c *gin.Context) {
	deploymentID := c.Param("deployment")

	if a.AuthEnabled {
		tokenDeployment, _ := auth.DeploymentFromContext(c)
		if tokenDeployment != deploymentID {
			c.Status(401)
			return
		}
	}

	deployment, err := a.Registry.MustGet(deploymentID)
	if err != nil {
		c.Status(404)
		return
	}
	endpoint, ok := deployment.EndpointByName("")
	if !ok {
		c.Status(502)
		return
	}

	client, err := a.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Warn("gateway: websocket upgrade failed", zap.Error(err))
		return
	}
	defer client.Close()

	remote, _, err := websocket.DefaultDialer.Dial(toWebsocketURL(endpoint), nil)
	if err != nil {
		_ = client.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "upstream dial failed"))
		return
	}
	defer remote.Close()

	wrapped := c.GetHeader(headerResponseFormat) == formatWrapped

	for {
		mt, msg, err := client.ReadMessage()
		if err != nil {
			_ = remote.Close()
			return
		}
		if mt == websocket.CloseMessage {
			_ = remote.Close()
			return
		}
		if err := remote.WriteMessage(mt, msg); err != nil {
			return
		}

		rmt, rmsg, err := remote.ReadMessage()
		if err != nil {
			_ = client.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "upstream closed"))
			return
		}
		signature, err := a.signResponse(rmsg)
		if err != nil {
			return
		}
		out := rmsg
		if wrapped {
			out, err = json.Marshal(gin.H{
				"result":    base64.StdEncoding.EncodeToString(rmsg),
				"signature": signature,
			})
			if err != nil {
				return
			}
		}
		if err := client.WriteMessage(rmt, out); err != nil {
			return
		}
	}
}

// toWebsocketURL rewrites an http(s) endpoint URL to its ws(s)
// equivalent; an already-ws(s) endpoint is returned unchanged.
func toWebsocketURL(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	default:
		return endpoint
	}
}
