package types

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewUnexpected(t *testing.T) {
	err := NewUnexpected(502, "<html>gateway</html>")

	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Equal(t, 502, StatusCode(err))
	assert.Contains(t, err.Error(), "Bad Gateway")
	assert.Equal(t, 502, StatusCode(fmt.Errorf("wrapped: %w", err)))
}

func TestNewUnexpected_TruncatesBody(t *testing.T) {
	err := NewUnexpected(500, strings.Repeat("x", 2000))
	assert.Len(t, err.Body, 515)
}

func TestError_IsMatchesCode(t *testing.T) {
	err := &Error{Code: CodeInvalidInput, Message: "bad"}
	assert.True(t, errors.Is(err, &Error{Code: CodeInvalidInput}))
	assert.False(t, errors.Is(err, &Error{Code: CodeAuth}))
}

func TestConstructorsWrapSentinels(t *testing.T) {
	assert.ErrorIs(t, NewAuthError("x"), ErrAuth)
	assert.ErrorIs(t, NewInvalidInput("x"), ErrInvalidInput)
	assert.ErrorIs(t, NewRateLimitExceeded(3, ""), ErrRateLimitExceeded)
	assert.Equal(t, 403, StatusCode(NewRateLimitExceeded(3, "")))
	assert.Equal(t, 0, StatusCode(errors.New("plain")))
}

func TestMarkers(t *testing.T) {
	for _, m := range QuotaExceededMarkers {
		assert.True(t, IsQuotaExceeded(`{"errorCode":"error.public-api.`+m+`"}`), m)
	}
	assert.False(t, IsQuotaExceeded(`{"errorCode":"error.security.forbidden"}`))

	assert.True(t, IsOAuthInvalid(`{"errorCode":"error.security.oauth-token-invalid"}`))
	assert.False(t, IsOAuthInvalid(`{"errorCode":"error.security.client-token-invalid"}`))
}

func TestValidationErrors(t *testing.T) {
	single := &ValidationErrors{Errors: []*ValidationError{{Field: "IG_API_KEY", Message: "is required"}}}
	assert.Equal(t, "validation error on field 'IG_API_KEY': is required", single.Error())
	assert.ErrorIs(t, single, ErrInvalidInput)

	multi := &ValidationErrors{Errors: []*ValidationError{{Field: "a"}, {Field: "b"}}}
	assert.Equal(t, "2 validation errors occurred", multi.Error())
}

func TestRetryConfig(t *testing.T) {
	bounded := WithMaxRetries(2)
	assert.True(t, bounded.Allows(1))
	assert.True(t, bounded.Allows(2))
	assert.False(t, bounded.Allows(3))
	assert.Equal(t, DefaultRetryDelay, bounded.RetryDelay())

	infinite := InfiniteRetry()
	assert.True(t, infinite.Unbounded())
	assert.True(t, infinite.Allows(10000))

	custom := WithMaxRetriesAndDelay(1, time.Second)
	assert.Equal(t, time.Second, custom.RetryDelay())
	assert.Equal(t, DefaultRetryDelay, RetryConfig{}.RetryDelay())
	assert.Equal(t, 5*time.Second, WithDelay(5*time.Second).RetryDelay())
	assert.Equal(t, InfiniteRetry(), DefaultRetryConfig())
}

func TestLoggerOrNoop(t *testing.T) {
	assert.IsType(t, NoopLogger{}, LoggerOrNoop(nil))
	l := NoopLogger{}
	assert.Equal(t, l, LoggerOrNoop(l))
}
