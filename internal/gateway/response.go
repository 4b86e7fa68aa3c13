package gateway

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
	"github.com/subquery/indexer-query-gateway/internal/stateproto"
)

const (
	headerResponseFormat = "X-Indexer-Response-Format"
	headerChannelBlock   = "X-Channel-Block"
	headerChannelState   = "X-Channel-State"
	headerIndexerSig     = "X-Indexer-Sig"
	formatWrapped        = "wrapped"
)

// signResponse countersigns a forwarded upstream body as the indexer,
// returning the "<unix-seconds> <hex-signature>" string every response
// envelope (inline header or wrapped JSON field) carries.
func (a *App) signResponse(body []byte) (string, error) {
	now := time.Now().Unix()
	digest := sha256.Sum256(body)
	msg, err := stateproto.ResponseDigest(a.Indexer, digest, now)
	if err != nil {
		return "", gwerrors.New(gwerrors.ErrInvalidSignature, err)
	}
	sig, err := stateproto.Sign(msg, a.Controller)
	if err != nil {
		return "", gwerrors.New(gwerrors.ErrInvalidSignature, err)
	}
	return fmt.Sprintf("%d %s", now, sig.HexString()), nil
}

// writeQueryResponse answers a plain (non-PAYG) metered query:
// inline echoes the raw upstream body plus an X-Indexer-Sig header;
// any other X-Indexer-Response-Format wraps it as base64 JSON.
func writeQueryResponse(c *gin.Context, data []byte, signature string) {
	if c.GetHeader(headerResponseFormat) == formatWrapped {
		c.Header(headerResponseFormat, formatWrapped)
		c.JSON(http.StatusOK, gin.H{
			"result":    base64.StdEncoding.EncodeToString(data),
			"signature": signature,
		})
		return
	}
	c.Header(headerIndexerSig, signature)
	c.Header(headerResponseFormat, "inline")
	c.Data(http.StatusOK, "application/json", data)
}

// writePaygResponse is writeQueryResponse plus the countersigned
// channel state, either as a header (inline) or a JSON field (wrapped).
func writePaygResponse(c *gin.Context, data []byte, signature, stateB64 string) {
	if c.GetHeader(headerResponseFormat) == formatWrapped {
		c.Header(headerResponseFormat, formatWrapped)
		c.JSON(http.StatusOK, gin.H{
			"result":    base64.StdEncoding.EncodeToString(data),
			"signature": signature,
			"state":     stateB64,
		})
		return
	}
	c.Header(headerIndexerSig, signature)
	c.Header(headerChannelState, stateB64)
	c.Header(headerResponseFormat, "inline")
	c.Data(http.StatusOK, "application/json", data)
}

// forwardQuery posts body to deployment's named (or default) endpoint
// and returns the raw response bytes. A non-2xx upstream response is
// still returned as data (the upstream's own GraphQL error envelope is
// meaningful to the caller), only a transport failure is an error.
func (a *App) forwardQuery(c *gin.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, gwerrors.New(gwerrors.ErrServiceException, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, gwerrors.New(gwerrors.ErrGraphQLQuery, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.New(gwerrors.ErrGraphQLQuery, err)
	}
	return data, nil
}

// checkProjectRateCap enforces a deployment's RateCapPerSec using a
// one-second counter key, the same shape Limiter uses for its own
// per-second bucket. A cap of 0 means unlimited.
func (a *App) checkProjectRateCap(c *gin.Context, deploymentID string, capPerSec int) error {
	if capPerSec <= 0 {
		return nil
	}
	key := deploymentID + "-rate-" + strconv.FormatInt(time.Now().Unix(), 10)
	count, err := a.KV.Incr(c.Request.Context(), key)
	if err != nil {
		return gwerrors.New(gwerrors.ErrServiceException, err)
	}
	if count == 1 {
		_ = a.KV.Expire(c.Request.Context(), key, time.Second)
	}
	if count > int64(capPerSec) {
		return gwerrors.New(gwerrors.ErrRateLimitProject, nil)
	}
	return nil
}
