// Package common defines shared constants and sentinel errors used across
// client and server layers of stockauth. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// ErrStoreUnavailable wraps infrastructure failures of the persistent store.
	// It is distinct from token invalidity and may be retried by the caller.
	ErrStoreUnavailable = errors.New("store unavailable")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")
	ErrRateLimited    = errors.New("rate limited")

	// Access token verification errors.
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenExpired     = errors.New("token expired")

	// ErrInvalidRefreshToken is the single outward signal for any refresh
	// problem: expired, revoked, already rotated or never issued.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)
