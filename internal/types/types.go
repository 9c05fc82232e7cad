package types

import (
	"context"
	"net/http"
	"time"
)

// Credentials are the static login credentials, loaded once at startup
type Credentials struct {
	Username  string `json:"username"`
	Password  string `json:"-"`
	APIKey    string `json:"-"`
	AccountID string `json:"accountId"`
}

// Logger interface for logging
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// RetryConfig configures retry behavior on quota-exceeded responses.
// MaxRetries of 0 means retry forever.
type RetryConfig struct {
	MaxRetries int           `json:"maxRetries"`
	Delay      time.Duration `json:"delay"`
}

// DefaultRetryConfig retries forever with the default delay
func DefaultRetryConfig() RetryConfig {
	return InfiniteRetry()
}

// InfiniteRetry retries forever with the default delay
func InfiniteRetry() RetryConfig {
	return RetryConfig{Delay: DefaultRetryDelay}
}

// WithMaxRetries bounds the number of retries, using the default delay
func WithMaxRetries(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, Delay: DefaultRetryDelay}
}

// WithDelay retries forever with a custom delay
func WithDelay(d time.Duration) RetryConfig {
	return RetryConfig{Delay: d}
}

// WithMaxRetriesAndDelay bounds retries and sets a custom delay
func WithMaxRetriesAndDelay(n int, d time.Duration) RetryConfig {
	return RetryConfig{MaxRetries: n, Delay: d}
}

// Unbounded reports whether retries never run out
func (r RetryConfig) Unbounded() bool {
	return r.MaxRetries <= 0
}

// Allows reports whether the given retry number (1-based) may be attempted
func (r RetryConfig) Allows(retry int) bool {
	return r.Unbounded() || retry <= r.MaxRetries
}

// RetryDelay returns the delay between retries, falling back to the default
func (r RetryConfig) RetryDelay() time.Duration {
	if r.Delay <= 0 {
		return DefaultRetryDelay
	}
	return r.Delay
}

// Hooks provides lifecycle hooks for requests
type Hooks struct {
	OnRequest  func(ctx context.Context, req *http.Request)
	OnResponse func(ctx context.Context, resp *http.Response, duration time.Duration)
	OnError    func(ctx context.Context, err error)
}

// NoopLogger discards everything
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...interface{}) {}
func (NoopLogger) Info(string, ...interface{})  {}
func (NoopLogger) Warn(string, ...interface{})  {}
func (NoopLogger) Error(string, ...interface{}) {}

// LoggerOrNoop returns l, or a NoopLogger when l is nil
func LoggerOrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}
