// Package transport sends authenticated, rate-limited requests to the
// provider's REST API and classifies its responses.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/eshaffer321/ig-go/internal/ratelimit"
	"github.com/eshaffer321/ig-go/internal/session"
	"github.com/eshaffer321/ig-go/internal/types"
)

// SessionSource supplies a valid session and the limiters calls must wait on
type SessionSource interface {
	GetSession(ctx context.Context) (*session.Session, error)
	APIKey() string
	Limiter(accountID string, t ratelimit.LimitType) *ratelimit.Limiter
}

// Request is one logical call. Version defaults to 1.
type Request struct {
	Method    string
	Path      string
	Query     url.Values
	Body      interface{}
	Version   int
	LimitType ratelimit.LimitType
	Headers   map[string]string
}

// RESTTransport runs the request pipeline: session, limiter wait, headers,
// send, classify, and retry while the provider reports an exhausted quota
type RESTTransport struct {
	baseURL    string
	httpClient *http.Client
	sessions   SessionSource
	headers    map[string]string
	retry      types.RetryConfig
	logger     types.Logger
	hooks      *types.Hooks
	sleep      func(ctx context.Context, d time.Duration) error
}

// Options for REST transport
type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	Headers     map[string]string
	RetryConfig *types.RetryConfig
	Logger      types.Logger
	Hooks       *types.Hooks
}

// NewRESTTransport creates a new REST transport
func NewRESTTransport(sessions SessionSource, opts *Options) *RESTTransport {
	if opts == nil {
		opts = &Options{}
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = types.DefaultBaseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: types.DefaultTimeout,
		}
	}

	retry := types.DefaultRetryConfig()
	if opts.RetryConfig != nil {
		retry = *opts.RetryConfig
	}

	headers := map[string]string{
		types.HeaderAccept:      types.ContentTypeJSON,
		types.HeaderContentType: types.ContentTypeJSON,
		types.HeaderUserAgent:   types.UserAgent,
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &RESTTransport{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		sessions:   sessions,
		headers:    headers,
		retry:      retry,
		logger:     types.LoggerOrNoop(opts.Logger),
		hooks:      opts.Hooks,
		sleep:      sleepContext,
	}
}

// RetryConfig returns the quota retry policy
func (t *RESTTransport) RetryConfig() types.RetryConfig {
	return t.retry
}

// Execute performs req and decodes a 2xx body into result, which may be nil.
//
// A 403 carrying a quota marker is retried after the configured delay until
// the retry bound is hit, then ErrRateLimitExceeded is returned. A 401 carrying
// the OAuth invalid marker returns ErrOAuthTokenExpired so the caller can
// refresh and retry once; this method never refreshes by itself.
func (t *RESTTransport) Execute(ctx context.Context, req *Request, result interface{}) error {
	_, err := t.ExecuteSession(ctx, req, result)
	return err
}

// ExecuteSession is Execute that also returns the session the last attempt
// was sent with, or nil when none was obtained. On ErrOAuthTokenExpired it is
// the session the provider rejected.
func (t *RESTTransport) ExecuteSession(ctx context.Context, req *Request, result interface{}) (*session.Session, error) {
	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal request")
		}
	}

	retries := 0
	for {
		sess, err := t.sessions.GetSession(ctx)
		if err != nil {
			return nil, err
		}

		if limiter := t.limiterFor(sess, req.LimitType); limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return sess, err
			}
		}

		status, body, err := t.send(ctx, sess, req, payload)
		if err != nil {
			return sess, err
		}

		if status >= 200 && status < 300 {
			sess.Timer().Refresh()
			return sess, decode(body, result)
		}

		if status == http.StatusForbidden && types.IsQuotaExceeded(string(body)) {
			retries++
			if !t.retry.Allows(retries) {
				t.logger.Error("Quota retries exhausted", "path", req.Path, "attempts", retries)
				return sess, types.NewRateLimitExceeded(retries, string(body))
			}

			delay := t.retry.RetryDelay()
			t.logger.Warn("Quota exceeded, retrying", "path", req.Path, "retry", retries, "delay", delay)
			if err := t.sleep(ctx, delay); err != nil {
				return sess, err
			}
			continue
		}

		return sess, t.handleHTTPError(status, body)
	}
}

func (t *RESTTransport) limiterFor(sess *session.Session, lt ratelimit.LimitType) *ratelimit.Limiter {
	if lt == "" {
		return sess.RateLimiter()
	}
	return t.sessions.Limiter(sess.AccountID(), lt)
}

// send performs one physical attempt
func (t *RESTTransport) send(ctx context.Context, sess *session.Session, req *Request, payload []byte) (int, []byte, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, t.url(req), bodyReader)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to create request")
	}

	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	version := req.Version
	if version <= 0 {
		version = 1
	}
	httpReq.Header.Set(types.HeaderVersion, strconv.Itoa(version))
	httpReq.Header.Set(types.HeaderAPIKey, t.sessions.APIKey())
	if httpReq.Header.Get(types.HeaderRequestID) == "" {
		httpReq.Header.Set(types.HeaderRequestID, uuid.New().String())
	}
	sess.Credentials().ApplyHeaders(httpReq.Header, sess.AccountID())

	if t.hooks != nil && t.hooks.OnRequest != nil {
		t.hooks.OnRequest(ctx, httpReq)
	}

	t.logger.Debug("REST request", "method", method, "path", req.Path, "version", version, "request_id", httpReq.Header.Get(types.HeaderRequestID))

	start := time.Now()
	resp, err := t.httpClient.Do(httpReq)
	duration := time.Since(start)

	if err != nil {
		if t.hooks != nil && t.hooks.OnError != nil {
			t.hooks.OnError(ctx, err)
		}
		return 0, nil, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if t.hooks != nil && t.hooks.OnResponse != nil {
		t.hooks.OnResponse(ctx, resp, duration)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to read response")
	}

	t.logger.Debug("REST response", "status", resp.StatusCode, "duration", duration, "size", len(respBody))

	return resp.StatusCode, respBody, nil
}

func (t *RESTTransport) url(req *Request) string {
	u := t.baseURL + "/" + strings.TrimPrefix(req.Path, "/")
	if len(req.Query) == 0 {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + req.Query.Encode()
}

func decode(body []byte, result interface{}) error {
	if result == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}

// handleHTTPError maps a non-2xx response that is not a quota error
func (t *RESTTransport) handleHTTPError(statusCode int, body []byte) error {
	var errResp struct {
		ErrorCode string `json:"errorCode"`
	}
	_ = json.Unmarshal(body, &errResp)

	switch statusCode {
	case http.StatusUnauthorized:
		if types.IsOAuthInvalid(string(body)) {
			t.logger.Warn("OAuth token rejected")
			return &types.Error{
				Code:       types.CodeOAuthTokenExpired,
				Message:    "oauth token rejected by provider",
				StatusCode: statusCode,
				Err:        types.ErrOAuthTokenExpired,
			}
		}
		return &types.Error{
			Code:       types.CodeUnauthorized,
			Message:    providerMessage("unauthorized", errResp.ErrorCode),
			StatusCode: statusCode,
			Err:        types.ErrUnauthorized,
		}
	default:
		apiErr := types.NewUnexpected(statusCode, string(body))
		if errResp.ErrorCode != "" {
			apiErr.Message = fmt.Sprintf("%s: %s", apiErr.Message, errResp.ErrorCode)
		}
		t.logger.Error("Unexpected response", "status", statusCode, "error_code", errResp.ErrorCode)
		return apiErr
	}
}

func providerMessage(base, code string) string {
	if code == "" {
		return base
	}
	return base + ": " + code
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
