package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
)

// respondErr writes err as the gateway's closed-taxonomy JSON error
// envelope, falling back to a bare 500 for anything that somehow
// escapes gwerrors.New.
func respondErr(c *gin.Context, err error) {
	if ge, ok := err.(*gwerrors.GatewayError); ok {
		c.JSON(ge.HTTPStatus, gin.H{"code": ge.Code, "error": ge.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
