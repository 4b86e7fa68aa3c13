// Package gwerrors defines the closed numeric error taxonomy carried
// end-to-end through the gateway: every rejection a caller can observe
// is one of these codes, each bound to a fixed HTTP status and a fixed
// human string. Handlers translate a GatewayError directly into the
// error envelope; internal callers compare codes with errors.As.
package gwerrors

import (
	"fmt"
	"net/http"
)

// Kind groups related codes for logging and metrics, matching the
// component-level groupings in the error handling design.
type Kind string

const (
	KindAuthCreate         Kind = "AuthCreate"
	KindAuthVerify         Kind = "AuthVerify"
	KindAuthExpired        Kind = "AuthExpired"
	KindPermission         Kind = "Permission"
	KindInvalidAuthHeader  Kind = "InvalidAuthHeader"
	KindInvalidProjectID   Kind = "InvalidProjectId"
	KindInvalidPrice       Kind = "InvalidProjectPrice"
	KindInvalidExpiration  Kind = "InvalidProjectExpiration"
	KindInvalidEndpoint    Kind = "InvalidServiceEndpoint"
	KindInvalidController  Kind = "InvalidController"
	KindInvalidSignature   Kind = "InvalidSignature"
	KindInvalidRequest     Kind = "InvalidRequest"
	KindEncrypt            Kind = "Encrypt"
	KindPaygConflict       Kind = "PaygConflict"
	KindDailyLimit         Kind = "DailyLimit"
	KindRateLimit          Kind = "RateLimit"
	KindExpired            Kind = "Expired"
	KindOverflow           Kind = "Overflow"
	KindSerialize          Kind = "Serialize"
	KindGraphQLQuery       Kind = "GraphQLQuery"
	KindGraphQLInternal    Kind = "GraphQLInternal"
	KindServiceException   Kind = "ServiceException"
)

// GatewayError is the concrete error type returned by every component.
// Code is the closed numeric taxonomy value; HTTPStatus and Kind are
// derived from it via New, never set independently, so the mapping in
// spec §7 cannot drift from the code.
type GatewayError struct {
	Code       int
	Kind       Kind
	HTTPStatus int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s(%d): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s(%d): %s", e.Kind, e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// WithErr returns a copy of e carrying the wrapped cause, used when a
// lower-level failure (redis, http, abi decode) should be preserved for
// debugging without changing the caller-visible code.
func (e *GatewayError) WithErr(err error) *GatewayError {
	c := *e
	c.Err = err
	return &c
}

func codeEntry(code int, kind Kind, status int, message string) *GatewayError {
	return &GatewayError{Code: code, Kind: kind, HTTPStatus: status, Message: message}
}

// The taxonomy. Values are sentinels that New/WithErr copy, so a
// returned error is never the sentinel pointer itself: callers inspect
// .Code (directly or after errors.As) rather than using errors.Is.
var (
	ErrAuthCreateSkew       = codeEntry(1000, KindAuthCreate, http.StatusUnauthorized, "timestamp outside allowed skew")
	ErrAuthCreateSigner     = codeEntry(1003, KindAuthCreate, http.StatusUnauthorized, "signer does not match indexer or consumer")
	ErrAuthVerifyMalformed  = codeEntry(1004, KindAuthVerify, http.StatusUnauthorized, "malformed JWT")
	ErrAuthVerifyInvalid    = codeEntry(1005, KindAuthVerify, http.StatusUnauthorized, "invalid JWT signature")
	ErrAuthExpired          = codeEntry(1006, KindAuthExpired, http.StatusUnauthorized, "JWT expired")
	ErrPermission           = codeEntry(1020, KindPermission, http.StatusUnauthorized, "missing or invalid authorization header")
	ErrInvalidAuthHeader    = codeEntry(1030, KindInvalidAuthHeader, http.StatusBadRequest, "bearer token format invalid")
	ErrInvalidProjectID     = codeEntry(1032, KindInvalidProjectID, http.StatusBadRequest, "unknown deployment")
	ErrInvalidProjectPrice  = codeEntry(1033, KindInvalidPrice, http.StatusBadRequest, "price below project minimum")
	ErrInvalidPriceMismatch = codeEntry(1034, KindInvalidPrice, http.StatusBadRequest, "claimed spend inconsistent with price")
	ErrInvalidExpiration    = codeEntry(1035, KindInvalidExpiration, http.StatusBadRequest, "expiration exceeds project maximum")
	ErrInvalidServiceEndpoint = codeEntry(1036, KindInvalidEndpoint, http.StatusBadRequest, "deployment has no usable endpoints")
	ErrInvalidRequest       = codeEntry(1045, KindInvalidRequest, http.StatusBadRequest, "request does not target this indexer")
	ErrInvalidSignature     = codeEntry(1041, KindInvalidSignature, http.StatusBadRequest, "signature recovery failed")
	ErrInvalidQuotePrice    = codeEntry(1048, KindInvalidPrice, http.StatusBadRequest, "price quote signer is not the controller")
	ErrInvalidExtendPrice   = codeEntry(1049, KindInvalidPrice, http.StatusBadRequest, "extend price or expiration drift rejected")
	ErrPaygConflict         = codeEntry(1050, KindPaygConflict, http.StatusBadRequest, "conflict window exceeded overflow tolerance")
	ErrDailyLimit           = codeEntry(1051, KindDailyLimit, http.StatusBadRequest, "daily query budget exhausted")
	ErrRateLimit            = codeEntry(1052, KindRateLimit, http.StatusBadRequest, "per-second rate exceeded")
	ErrExpiredAgreement     = codeEntry(1053, KindExpired, http.StatusBadRequest, "agreement window not active")
	ErrExpiredChannel       = codeEntry(1054, KindExpired, http.StatusBadRequest, "channel missing or expired")
	ErrInvalidMembership    = codeEntry(1055, KindInvalidSignature, http.StatusBadRequest, "query signer not in channel's allowed set")
	ErrOverflowTotal        = codeEntry(1056, KindOverflow, http.StatusBadRequest, "spend would exceed channel total")
	ErrRateLimitProject     = codeEntry(1057, KindRateLimit, http.StatusBadRequest, "project-level per-second cap exceeded")
	ErrOverflowRange        = codeEntry(1059, KindOverflow, http.StatusBadRequest, "requested range exceeds maximum")
	ErrGraphQLInternal      = codeEntry(1010, KindGraphQLInternal, http.StatusInternalServerError, "coordinator call failed")
	ErrGraphQLNotFound      = codeEntry(1011, KindGraphQLInternal, http.StatusNotFound, "coordinator resource not found")
	ErrGraphQLQuery         = codeEntry(1012, KindGraphQLQuery, http.StatusNotFound, "upstream query failed")
	ErrSerialize            = codeEntry(1116, KindSerialize, http.StatusBadRequest, "malformed state encoding")
	ErrSerializeVersion     = codeEntry(1136, KindSerialize, http.StatusBadRequest, "channel cache version mismatch")
	ErrServiceException     = codeEntry(1021, KindServiceException, http.StatusInternalServerError, "backing store unavailable")
)

// New returns a fresh copy of a sentinel with err attached, so handlers
// never mutate the package-level sentinels.
func New(sentinel *GatewayError, err error) *GatewayError {
	return sentinel.WithErr(err)
}
