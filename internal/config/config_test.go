package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/ig-go/internal/ratelimit"
	"github.com/eshaffer321/ig-go/internal/types"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg := LoadFrom(envMap(nil))

	assert.Equal(t, "https://demo-api.ig.com/gateway/deal", cfg.BaseURL)
	assert.Equal(t, 3, cfg.APIVersion)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, ratelimit.NonTrading, cfg.RateLimit.Type)
	assert.Equal(t, 30, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 0.8, cfg.RateLimit.SafetyMargin)
	assert.True(t, cfg.Retry.Unbounded())
	assert.Equal(t, 10*time.Second, cfg.Retry.RetryDelay())
	assert.Equal(t, 5*time.Minute, cfg.RefreshMargin)
}

func TestLoadFrom_AllVariables(t *testing.T) {
	cfg := LoadFrom(envMap(map[string]string{
		EnvUsername:          " trader ",
		EnvPassword:          "secret",
		EnvAPIKey:            "key",
		EnvAccountID:         "ACC1",
		EnvBaseURL:           "https://api.ig.com/gateway/deal/",
		EnvTimeout:           "15",
		EnvRateLimitType:     "trading",
		EnvRateLimitMax:      "50",
		EnvRateLimitPeriod:   "30",
		EnvRateLimitBurst:    "5",
		EnvRateLimitMargin:   "0.5",
		EnvAPIVersion:        "2",
		EnvMaxRetryCount:     "4",
		EnvRetryDelaySecs:    "2",
		EnvRefreshMarginSecs: "120",
		EnvSentryDSN:         "https://key@sentry.example/1",
	}))

	assert.Equal(t, "trader", cfg.Credentials.Username)
	assert.Equal(t, "secret", cfg.Credentials.Password)
	assert.Equal(t, "ACC1", cfg.Credentials.AccountID)
	assert.Equal(t, "https://api.ig.com/gateway/deal", cfg.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.APIVersion)
	assert.Equal(t, ratelimit.Config{
		Type:         ratelimit.Trading,
		MaxRequests:  50,
		Period:       30 * time.Second,
		BurstSize:    5,
		SafetyMargin: 0.5,
	}, cfg.RateLimit)
	assert.Equal(t, types.WithMaxRetriesAndDelay(4, 2*time.Second), cfg.Retry)
	assert.Equal(t, 2*time.Minute, cfg.RefreshMargin)
	assert.Equal(t, "https://key@sentry.example/1", cfg.SentryDSN)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFrom_RateLimitTypeSetsProviderQuota(t *testing.T) {
	cfg := LoadFrom(envMap(map[string]string{EnvRateLimitType: "trading"}))
	assert.Equal(t, 100, cfg.RateLimit.MaxRequests)
}

func TestLoadFrom_InvalidValuesKeepDefaults(t *testing.T) {
	cfg := LoadFrom(envMap(map[string]string{
		EnvAPIVersion:      "7",
		EnvTimeout:         "soon",
		EnvRateLimitMargin: "1.5",
		EnvMaxRetryCount:   "-1",
	}))

	assert.Equal(t, 3, cfg.APIVersion)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 0.8, cfg.RateLimit.SafetyMargin)
	assert.Equal(t, 0, cfg.Retry.MaxRetries)
}

func TestValidate_ReportsMissingCredentials(t *testing.T) {
	cfg := LoadFrom(envMap(map[string]string{EnvUsername: "trader"}))

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	var verrs *types.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs.Errors, 2)
	assert.Equal(t, EnvPassword, verrs.Errors[0].Field)
	assert.Equal(t, EnvAPIKey, verrs.Errors[1].Field)
}

func TestValidate_BaseURL(t *testing.T) {
	cfg := LoadFrom(envMap(map[string]string{
		EnvUsername: "u", EnvPassword: "p", EnvAPIKey: "k",
		EnvBaseURL: "demo-api.ig.com",
	}))
	assert.Error(t, cfg.Validate())
}
