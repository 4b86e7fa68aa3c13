// Package auth implements component C: JWT issuance and verification
// for PAYG-free query access, plus the per-agreement daily/rate limit
// bookkeeping and the whitelist header bypass.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the gateway's JWT payload. exp/iat are millisecond unix
// timestamps, matching the wire format consumers and indexers agree on
// when requesting a token, not jwt's usual second-resolution NumericDate.
type Claims struct {
	Indexer      string  `json:"indexer"`
	Agreement    *string `json:"agreement,omitempty"`
	DeploymentID string  `json:"deploymentId"`
	Iat          int64   `json:"iat"`
	Exp          int64   `json:"exp"`
}

func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.UnixMilli(c.Exp)), nil
}

func (c Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.UnixMilli(c.Iat)), nil
}

func (c Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c Claims) GetIssuer() (string, error)              { return "", nil }
func (c Claims) GetSubject() (string, error)              { return "", nil }
func (c Claims) GetAudience() (jwt.ClaimStrings, error)   { return nil, nil }
