package ig

import (
	"errors"
	"net/http"

	"github.com/eshaffer321/ig-go/internal/types"
)

var (
	// ErrBadCredentials is returned when login is refused
	ErrBadCredentials = types.ErrBadCredentials

	// ErrUnauthorized is returned on a 401 that is not an OAuth expiry
	ErrUnauthorized = types.ErrUnauthorized

	// ErrOAuthTokenExpired is returned when the provider rejects the access
	// token again after a refresh
	ErrOAuthTokenExpired = types.ErrOAuthTokenExpired

	// ErrRateLimitExceeded is returned when quota retries run out
	ErrRateLimitExceeded = types.ErrRateLimitExceeded

	// ErrUnexpectedStatus is returned for any other non-2xx response
	ErrUnexpectedStatus = types.ErrUnexpectedStatus

	// ErrInvalidInput is returned before any call for bad arguments
	ErrInvalidInput = types.ErrInvalidInput

	// ErrAuth is returned when a login or switch response is unusable
	ErrAuth = types.ErrAuth

	// ErrNotAuthenticated is returned when a session is required
	ErrNotAuthenticated = types.ErrNotAuthenticated
)

// Error is the error type returned by the client
type Error = types.Error

// IsAuthError checks if error is authentication related
func IsAuthError(err error) bool {
	return errors.Is(err, ErrBadCredentials) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrOAuthTokenExpired) ||
		errors.Is(err, ErrAuth) ||
		errors.Is(err, ErrNotAuthenticated)
}

// IsRetryable checks if a later attempt could succeed
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimitExceeded) {
		return true
	}

	code := StatusCode(err)
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	return types.StatusCode(err)
}
