package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
)

// maxClockSkewMs is the maximum drift allowed, in milliseconds,
// between a token-request payload's timestamp and the gateway's own
// clock.
const maxClockSkewMs = int64(120_000)

// IssueParams carries the already-recovered (signature-verified)
// fields needed to mint a token. Signature recovery happens one layer
// up, in the gateway handler, via stateproto.RecoverTypedData.
type IssueParams struct {
	Indexer       string
	Agreement     *string
	DeploymentID  string
	TimestampMs   int64
	TokenDuration time.Duration
	Secret        []byte
}

// Issue mints an HS512 JWT for the given, already-authenticated
// payload. A timestamp more than 120s away from the gateway's clock is
// rejected as a replay-window violation.
func Issue(p IssueParams, now time.Time) (string, error) {
	if abs64(now.UnixMilli()-p.TimestampMs) > maxClockSkewMs {
		return "", gwerrors.New(gwerrors.ErrAuthCreateSkew, nil)
	}

	claims := Claims{
		Indexer:      p.Indexer,
		Agreement:    p.Agreement,
		DeploymentID: p.DeploymentID,
		Iat:          p.TimestampMs,
		Exp:          now.Add(p.TokenDuration).UnixMilli(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString(p.Secret)
	if err != nil {
		return "", gwerrors.New(gwerrors.ErrAuthCreateSigner, err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token, distinguishing an
// expired token (1006) from any other malformed/invalid one (1005).
func Verify(tokenString string, secret []byte) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS512"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, gwerrors.New(gwerrors.ErrAuthExpired, err)
		}
		return nil, gwerrors.New(gwerrors.ErrAuthVerifyInvalid, err)
	}
	return &claims, nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
