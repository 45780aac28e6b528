package session

import "errors"

var (
	// ErrInvalidToken is returned when an access token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenNotFound is returned when a refresh token does not match any row.
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrTokenExpired is returned when the refresh token is past its expiry.
	ErrTokenExpired = errors.New("refresh token expired")

	// ErrTokenRevoked is returned when the refresh token was explicitly revoked.
	ErrTokenRevoked = errors.New("refresh token revoked")

	// ErrTokenRotated is returned by the store when a conditional rotation
	// matched zero rows: the token was already rotated by a concurrent request.
	ErrTokenRotated = errors.New("refresh token already rotated")

	// ErrTokenReuseDetected is returned when a rotated-out refresh token is
	// presented again. The whole family has been revoked by the time the
	// caller sees this; it must clear session cookies and force a fresh login.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")

	// ErrSessionNotFound is returned when a session row is missing or not
	// owned by the caller.
	ErrSessionNotFound = errors.New("session not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
