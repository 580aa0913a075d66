// Package common defines shared constants and sentinel errors used across
// the repository, service and transport layers. Callers should use errors.Is
// to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Account lifecycle errors.
	ErrDuplicateEmail  = errors.New("email already in use")
	ErrAlreadyVerified = errors.New("account already verified")
	ErrForbidden       = errors.New("forbidden")

	// ErrInvalidCredentials covers a missing account, a wrong password and
	// an unverified account before the password has matched.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnverified is only returned after a successful password match.
	ErrUnverified = errors.New("account not verified")

	// Token errors. Expired, malformed, mismatched and already used tokens
	// all collapse into ErrInvalidOrExpiredToken.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrMissingToken          = errors.New("missing token")

	// Collaborator errors.
	ErrDeliveryFailed = errors.New("email delivery failed")
	ErrRateLimited    = errors.New("rate limited")
)
