// Package config loads client settings from the environment, once, at startup.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eshaffer321/ig-go/internal/ratelimit"
	"github.com/eshaffer321/ig-go/internal/types"
)

// Environment variable names
const (
	EnvUsername          = "IG_USERNAME"
	EnvPassword          = "IG_PASSWORD"
	EnvAPIKey            = "IG_API_KEY"
	EnvAccountID         = "IG_ACCOUNT_ID"
	EnvBaseURL           = "IG_REST_BASE_URL"
	EnvTimeout           = "IG_REST_TIMEOUT"
	EnvRateLimitType     = "IG_RATE_LIMIT_TYPE"
	EnvRateLimitMax      = "IG_RATE_LIMIT_MAX_REQUESTS"
	EnvRateLimitPeriod   = "IG_RATE_LIMIT_PERIOD_SECONDS"
	EnvRateLimitBurst    = "IG_RATE_LIMIT_BURST_SIZE"
	EnvRateLimitMargin   = "IG_RATE_LIMIT_SAFETY_MARGIN"
	EnvAPIVersion        = "IG_API_VERSION"
	EnvMaxRetryCount     = "MAX_RETRY_COUNT"
	EnvRetryDelaySecs    = "RETRY_DELAY_SECS"
	EnvRefreshMarginSecs = "IG_TOKEN_REFRESH_MARGIN_SECS"
	EnvSentryDSN         = "SENTRY_DSN"
	EnvSentryEnvironment = "SENTRY_ENVIRONMENT"
)

// Config is the complete client configuration
type Config struct {
	Credentials   types.Credentials
	BaseURL       string
	Timeout       time.Duration
	APIVersion    int
	RateLimit     ratelimit.Config
	Retry         types.RetryConfig
	RefreshMargin time.Duration

	SentryDSN         string
	SentryEnvironment string
}

// Default returns the configuration used when no variable is set
func Default() *Config {
	return &Config{
		BaseURL:    types.DefaultBaseURL,
		Timeout:    types.DefaultTimeout,
		APIVersion: types.DefaultAPIVersion,
		RateLimit: ratelimit.Config{
			Type:         ratelimit.NonTrading,
			MaxRequests:  ratelimit.DefaultMaxRequests(ratelimit.NonTrading),
			Period:       ratelimit.DefaultPeriod,
			SafetyMargin: ratelimit.DefaultSafetyMargin,
		},
		Retry:         types.DefaultRetryConfig(),
		RefreshMargin: types.DefaultRefreshMargin,
	}
}

// Load reads the process environment
func Load() *Config {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv. Unparseable values keep their
// defaults.
func LoadFrom(getenv func(string) string) *Config {
	cfg := Default()

	cfg.Credentials = types.Credentials{
		Username:  strings.TrimSpace(getenv(EnvUsername)),
		Password:  getenv(EnvPassword),
		APIKey:    strings.TrimSpace(getenv(EnvAPIKey)),
		AccountID: strings.TrimSpace(getenv(EnvAccountID)),
	}

	if v := getenv(EnvBaseURL); v != "" {
		cfg.BaseURL = strings.TrimSuffix(v, "/")
	}
	if secs, ok := intVar(getenv, EnvTimeout); ok && secs > 0 {
		cfg.Timeout = time.Duration(secs) * time.Second
	}

	// anything other than 2 means OAuth
	if v, ok := intVar(getenv, EnvAPIVersion); ok && v == 2 {
		cfg.APIVersion = 2
	}

	if v := getenv(EnvRateLimitType); v != "" {
		cfg.RateLimit.Type = ratelimit.ParseLimitType(v)
		cfg.RateLimit.MaxRequests = ratelimit.DefaultMaxRequests(cfg.RateLimit.Type)
	}
	if v, ok := intVar(getenv, EnvRateLimitMax); ok && v > 0 {
		cfg.RateLimit.MaxRequests = v
	}
	if v, ok := intVar(getenv, EnvRateLimitPeriod); ok && v > 0 {
		cfg.RateLimit.Period = time.Duration(v) * time.Second
	}
	if v, ok := intVar(getenv, EnvRateLimitBurst); ok && v > 0 {
		cfg.RateLimit.BurstSize = v
	}
	if v := getenv(EnvRateLimitMargin); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			cfg.RateLimit.SafetyMargin = f
		}
	}

	if v, ok := intVar(getenv, EnvMaxRetryCount); ok && v >= 0 {
		cfg.Retry.MaxRetries = v
	}
	if v, ok := intVar(getenv, EnvRetryDelaySecs); ok && v > 0 {
		cfg.Retry.Delay = time.Duration(v) * time.Second
	}
	if v, ok := intVar(getenv, EnvRefreshMarginSecs); ok && v >= 0 {
		cfg.RefreshMargin = time.Duration(v) * time.Second
	}

	cfg.SentryDSN = getenv(EnvSentryDSN)
	cfg.SentryEnvironment = getenv(EnvSentryEnvironment)

	return cfg
}

func intVar(getenv func(string) string, key string) (int, bool) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate reports every missing credential at once
func (c *Config) Validate() error {
	var errs []*types.ValidationError
	required := []struct {
		field string
		value string
	}{
		{EnvUsername, c.Credentials.Username},
		{EnvPassword, c.Credentials.Password},
		{EnvAPIKey, c.Credentials.APIKey},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, &types.ValidationError{Field: r.field, Message: "is required"})
		}
	}
	if c.APIVersion != 2 && c.APIVersion != 3 {
		errs = append(errs, &types.ValidationError{Field: EnvAPIVersion, Message: "must be 2 or 3", Value: c.APIVersion})
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		errs = append(errs, &types.ValidationError{Field: EnvBaseURL, Message: "must be an http(s) URL", Value: c.BaseURL})
	}
	if len(errs) > 0 {
		return &types.ValidationErrors{Errors: errs}
	}
	return nil
}
