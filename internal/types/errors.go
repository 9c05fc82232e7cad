package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error taxonomy. AuthManager and the request pipeline are the only producers.
var (
	// ErrBadCredentials is returned when the provider rejects the login credentials
	ErrBadCredentials = errors.New("bad credentials")

	// ErrUnauthorized is returned for a 401 that is not an OAuth expiry
	ErrUnauthorized = errors.New("unauthorized")

	// ErrOAuthTokenExpired is returned for a 401 carrying the OAuth invalid marker
	ErrOAuthTokenExpired = errors.New("oauth token expired")

	// ErrRateLimitExceeded is returned when quota retries are exhausted
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrUnexpectedStatus is wrapped by every Unexpected(status) error
	ErrUnexpectedStatus = errors.New("unexpected status")

	// ErrInvalidInput is returned for caller errors
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuth is returned when a provider auth response is malformed
	ErrAuth = errors.New("authentication error")

	// ErrNotAuthenticated is returned when an operation needs a session and none exists
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Error codes carried by *Error
const (
	CodeBadCredentials    = "BAD_CREDENTIALS"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeOAuthTokenExpired = "OAUTH_TOKEN_EXPIRED"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeUnexpectedStatus  = "UNEXPECTED_STATUS"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeAuth              = "AUTH_ERROR"
)

// Error represents an API error
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Body       string `json:"body,omitempty"`
	Err        error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches target
func (e *Error) Is(target error) bool {
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}

	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Code == t.Code
}

// NewUnexpected builds the Unexpected(status) error
func NewUnexpected(statusCode int, body string) *Error {
	msg := fmt.Sprintf("status %d", statusCode)
	if desc := HTTPStatusDescription(statusCode); desc != "" {
		msg = fmt.Sprintf("status %d (%s)", statusCode, desc)
	}
	return &Error{
		Code:       CodeUnexpectedStatus,
		Message:    msg,
		StatusCode: statusCode,
		Body:       truncate(body, 512),
		Err:        ErrUnexpectedStatus,
	}
}

// NewAuthError builds an ErrAuth error for a malformed auth response
func NewAuthError(message string) *Error {
	return &Error{
		Code:    CodeAuth,
		Message: message,
		Err:     ErrAuth,
	}
}

// NewInvalidInput builds an ErrInvalidInput error
func NewInvalidInput(message string) *Error {
	return &Error{
		Code:    CodeInvalidInput,
		Message: message,
		Err:     ErrInvalidInput,
	}
}

// NewRateLimitExceeded builds an ErrRateLimitExceeded error after attempts tries
func NewRateLimitExceeded(attempts int, body string) *Error {
	return &Error{
		Code:       CodeRateLimitExceeded,
		Message:    fmt.Sprintf("quota still exceeded after %d attempt(s)", attempts),
		StatusCode: http.StatusForbidden,
		Body:       truncate(body, 512),
		Err:        ErrRateLimitExceeded,
	}
}

// StatusCode extracts the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsQuotaExceeded reports whether a 403 body names an exhausted allowance
func IsQuotaExceeded(body string) bool {
	for _, marker := range QuotaExceededMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// IsOAuthInvalid reports whether a 401 body names an invalid OAuth token
func IsOAuthInvalid(body string) bool {
	return strings.Contains(body, OAuthInvalidMarker)
}

// HTTPStatusDescription returns a human-readable description for common HTTP status codes.
func HTTPStatusDescription(statusCode int) string {
	descriptions := map[int]string{
		400: "Bad Request",
		403: "Forbidden",
		404: "Not Found",
		409: "Conflict",
		429: "Too Many Requests",
		500: "Internal Server Error",
		501: "Not Implemented",
		502: "Bad Gateway",
		503: "Service Unavailable",
		504: "Gateway Timeout",
		520: "Web Server Error",
		521: "Web Server Is Down",
		522: "Connection Timed Out",
		523: "Origin Is Unreachable",
		524: "A Timeout Occurred",
		525: "SSL Handshake Failed",
		526: "Invalid SSL Certificate",
	}
	return descriptions[statusCode]
}

// ValidationError represents a validation error on one field
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors struct {
	Errors []*ValidationError `json:"errors"`
}

// Error implements the error interface
func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d validation errors occurred", len(e.Errors))
}

// Unwrap lets errors.Is match ErrInvalidInput against a validation failure
func (e *ValidationErrors) Unwrap() error {
	return ErrInvalidInput
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
