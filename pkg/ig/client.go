// Package ig is a client for the IG REST trading API. It logs in, keeps the
// session valid, throttles calls to stay inside the provider's quotas and
// retries calls the provider rejected for quota reasons.
package ig

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/eshaffer321/ig-go/internal/auth"
	"github.com/eshaffer321/ig-go/internal/config"
	"github.com/eshaffer321/ig-go/internal/ratelimit"
	"github.com/eshaffer321/ig-go/internal/transport"
	"github.com/eshaffer321/ig-go/internal/types"
)

const (
	// DefaultBaseURL is the IG demo REST gateway
	DefaultBaseURL = types.DefaultBaseURL

	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = types.DefaultTimeout
)

// Client is the main IG API client
type Client struct {
	// Service interfaces
	Session   SessionService
	Markets   MarketService
	Hierarchy HierarchyService

	// Internal fields
	baseURL    string
	httpClient *http.Client
	auth       *auth.Manager
	transport  *transport.RESTTransport
	options    *ClientOptions
	logger     types.Logger
}

// ClientOptions configures the client
type ClientOptions struct {
	// BaseURL overrides the default API base URL
	BaseURL string

	// HTTPClient allows using a custom HTTP client
	HTTPClient *http.Client

	// Timeout sets the HTTP client timeout
	Timeout time.Duration

	// Credentials used to log in
	Credentials Credentials

	// APIVersion 2 logs in with CST/X-SECURITY-TOKEN, anything else with OAuth
	APIVersion int

	// RateLimit overrides the quota of its limit type and picks the limiter
	// sessions use by default. Nil means non-trading with provider defaults.
	RateLimit *RateLimitConfig

	// RetryConfig configures retries on quota-exceeded responses
	RetryConfig *RetryConfig

	// RefreshMargin is how close to expiry a session gets refreshed
	RefreshMargin time.Duration

	// SessionFile path for session persistence
	SessionFile string

	// Logger for debug logging
	Logger Logger

	// Hooks for observability
	Hooks *Hooks

	// SentryDSN enables Sentry error tracking when set
	SentryDSN string

	// SentryOptions allows custom Sentry configuration
	SentryOptions *sentry.ClientOptions
}

// NewClient creates a new IG client. Nothing is sent until the first call.
func NewClient(opts *ClientOptions) (*Client, error) {
	if opts == nil {
		opts = &ClientOptions{}
	}

	// Initialize Sentry if DSN is provided
	if opts.SentryDSN != "" || opts.SentryOptions != nil {
		sentryOpts := sentry.ClientOptions{}

		if opts.SentryOptions != nil {
			sentryOpts = *opts.SentryOptions
		}

		if opts.SentryDSN != "" {
			sentryOpts.Dsn = opts.SentryDSN
		}

		if sentryOpts.Environment == "" {
			sentryOpts.Environment = "production"
		}

		// Log error but don't fail client creation
		if err := sentry.Init(sentryOpts); err != nil && opts.Logger != nil {
			opts.Logger.Error("Failed to initialize Sentry", "error", err)
		}
	}

	// Set defaults
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout: DefaultTimeout,
		}
	}

	if opts.Timeout > 0 {
		opts.HTTPClient.Timeout = opts.Timeout
	}

	limitType := ratelimit.NonTrading
	var overrides []ratelimit.Config
	if opts.RateLimit != nil {
		overrides = append(overrides, *opts.RateLimit)
		if opts.RateLimit.Type != "" {
			limitType = opts.RateLimit.Type
		}
	}
	registry := ratelimit.NewRegistry(ratelimit.DefaultSafetyMargin, overrides...)

	manager := auth.NewManager(&auth.Options{
		BaseURL:       opts.BaseURL,
		Credentials:   opts.Credentials,
		APIVersion:    opts.APIVersion,
		HTTPClient:    opts.HTTPClient,
		Registry:      registry,
		LimitType:     limitType,
		RefreshMargin: opts.RefreshMargin,
		Logger:        opts.Logger,
	})

	trans := transport.NewRESTTransport(manager, &transport.Options{
		BaseURL:     opts.BaseURL,
		HTTPClient:  opts.HTTPClient,
		RetryConfig: opts.RetryConfig,
		Logger:      opts.Logger,
		Hooks:       opts.Hooks,
	})

	c := &Client{
		baseURL:    opts.BaseURL,
		httpClient: opts.HTTPClient,
		auth:       manager,
		transport:  trans,
		options:    opts,
		logger:     types.LoggerOrNoop(opts.Logger),
	}

	c.initServices()

	// Load session if file specified
	if opts.SessionFile != "" {
		if err := manager.LoadSession(opts.SessionFile); err != nil {
			c.logger.Warn("Failed to load session", "error", err)
		}
	}

	return c, nil
}

// NewClientFromEnv creates a client configured from IG_* environment variables
func NewClientFromEnv(logger Logger) (*Client, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewClientFromConfig(cfg, logger)
}

// NewClientFromConfig creates a client from a loaded configuration
func NewClientFromConfig(cfg *config.Config, logger Logger) (*Client, error) {
	rateLimit := cfg.RateLimit
	retry := cfg.Retry

	opts := &ClientOptions{
		BaseURL:       cfg.BaseURL,
		Timeout:       cfg.Timeout,
		Credentials:   cfg.Credentials,
		APIVersion:    cfg.APIVersion,
		RateLimit:     &rateLimit,
		RetryConfig:   &retry,
		RefreshMargin: cfg.RefreshMargin,
		Logger:        logger,
		SentryDSN:     cfg.SentryDSN,
	}
	if cfg.SentryEnvironment != "" {
		opts.SentryOptions = &sentry.ClientOptions{Environment: cfg.SentryEnvironment}
	}
	return NewClient(opts)
}

// initServices initializes all service implementations
func (c *Client) initServices() {
	c.Session = &sessionService{client: c}
	c.Markets = &marketService{client: c}
	c.Hierarchy = newHierarchyBuilder(c)
}

// RetryConfig returns the quota retry policy in use
func (c *Client) RetryConfig() RetryConfig {
	return c.transport.RetryConfig()
}

// Do performs req and decodes a 2xx body into result, which may be nil.
// When the provider rejects the OAuth access token the session is refreshed
// and req is sent once more; a second rejection is returned as is.
func (c *Client) Do(ctx context.Context, req *Request, result interface{}) error {
	r := withRequestID(req)

	err := c.doWithRefresh(ctx, r, result)
	if err != nil {
		c.captureError(ctx, r, err)
	}
	return err
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, path string, version int, result interface{}) error {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Version: version}, result)
}

// Post performs a POST request
func (c *Client) Post(ctx context.Context, path string, version int, body, result interface{}) error {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Version: version, Body: body}, result)
}

// Put performs a PUT request
func (c *Client) Put(ctx context.Context, path string, version int, body, result interface{}) error {
	return c.Do(ctx, &Request{Method: http.MethodPut, Path: path, Version: version, Body: body}, result)
}

// Delete performs a DELETE request. The provider expects deletes with a body
// as POST with a _method header, which callers set through Request.Headers.
func (c *Client) Delete(ctx context.Context, path string, version int, result interface{}) error {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path, Version: version}, result)
}

func (c *Client) doWithRefresh(ctx context.Context, req *Request, result interface{}) error {
	rejected, err := c.transport.ExecuteSession(ctx, req, result)
	if !errors.Is(err, types.ErrOAuthTokenExpired) {
		return err
	}

	c.logger.Warn("OAuth token expired, refreshing", "path", req.Path)
	if _, err := c.auth.RefreshStale(ctx, rejected); err != nil {
		return errors.Wrap(err, "failed to refresh session")
	}
	return c.transport.Execute(ctx, req, result)
}

// execute runs req without the refresh wrapper
func (c *Client) execute(ctx context.Context, req *Request, result interface{}) error {
	return c.transport.Execute(ctx, withRequestID(req), result)
}

func withRequestID(req *Request) *Request {
	r := *req
	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[k] = v
	}
	if headers[types.HeaderRequestID] == "" {
		headers[types.HeaderRequestID] = uuid.New().String()
	}
	r.Headers = headers
	return &r
}

func (c *Client) captureError(ctx context.Context, req *Request, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	capture := func(hub *sentry.Hub) {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("http.method", methodOrGet(req.Method))
			scope.SetTag("http.path", req.Path)
			if code := StatusCode(err); code != 0 {
				scope.SetTag("http.status", strconv.Itoa(code))
			}
			scope.SetTag("request.id", req.Headers[types.HeaderRequestID])
			hub.CaptureException(err)
		})
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		capture(hub)
	} else {
		capture(sentry.CurrentHub())
	}
}

func methodOrGet(method string) string {
	if method == "" {
		return http.MethodGet
	}
	return method
}

// Close flushes any pending Sentry events and performs cleanup
func (c *Client) Close() {
	// Flush Sentry events with a 2 second timeout
	sentry.Flush(2 * time.Second)
}
