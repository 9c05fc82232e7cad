package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/eshaffer321/ig-go/internal/ratelimit"
	"github.com/eshaffer321/ig-go/internal/session"
	"github.com/eshaffer321/ig-go/internal/transport"
	"github.com/eshaffer321/ig-go/internal/types"
)

type loginRequest struct {
	Identifier        string `json:"identifier"`
	Password          string `json:"password"`
	EncryptedPassword *bool  `json:"encryptedPassword"`
}

type loginV2Response struct {
	AccountID             string `json:"accountId"`
	CurrentAccountID      string `json:"currentAccountId"`
	ClientID              string `json:"clientId"`
	LightstreamerEndpoint string `json:"lightstreamerEndpoint"`
	TimezoneOffset        int    `json:"timezoneOffset"`
}

type loginV3Response struct {
	ClientID              string             `json:"clientId"`
	AccountID             string             `json:"accountId"`
	TimezoneOffset        int                `json:"timezoneOffset"`
	LightstreamerEndpoint string             `json:"lightstreamerEndpoint"`
	OAuthToken            session.OAuthToken `json:"oauthToken"`
}

// refreshResponse accepts both the bare token and the full v3 session shape
type refreshResponse struct {
	session.OAuthToken
	ClientID              string              `json:"clientId"`
	AccountID             string              `json:"accountId"`
	LightstreamerEndpoint string              `json:"lightstreamerEndpoint"`
	Nested                *session.OAuthToken `json:"oauthToken"`
}

// refreshRejectedError marks a non-2xx refresh answer, which triggers a full login
type refreshRejectedError struct {
	statusCode int
}

func (e *refreshRejectedError) Error() string {
	return fmt.Sprintf("refresh rejected with status %d", e.statusCode)
}

// limitedTransport waits on a limiter before every physical request
type limitedTransport struct {
	base    http.RoundTripper
	limiter *ratelimit.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// newLoginClient builds the retrying client used before any account limiter
// exists. Only quota-exceeded 403s are retried.
func newLoginClient(base *http.Client, appLimiter *ratelimit.Limiter, opts *Options) *retryablehttp.Client {
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}

	limited := *base
	limited.Transport = &limitedTransport{base: rt, limiter: appLimiter}

	wait := opts.LoginRetryWait
	if wait <= 0 {
		wait = types.LoginInitialBackoff
	}
	jitter := opts.LoginMaxJitter
	if jitter == 0 {
		jitter = types.LoginMaxJitter
	}
	retries := opts.LoginMaxRetries
	if retries <= 0 {
		retries = types.LoginMaxRetries
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &limited
	client.RetryMax = retries
	client.RetryWaitMin = wait
	client.RetryWaitMax = wait * time.Duration(1<<uint(retries))
	client.CheckRetry = loginCheckRetry
	client.Backoff = jitteredBackoff(jitter)
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = transport.NewRetryLogger(opts.Logger)
	return client
}

// loginCheckRetry retries a 403 whose body names an exhausted allowance. The
// body is restored so the caller can still read it.
func loginCheckRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		return false, err
	}

	body, rerr := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if rerr != nil {
		return false, nil
	}
	return types.IsQuotaExceeded(string(body)), nil
}

// jitteredBackoff doubles min on every attempt and adds up to maxJitter
func jitteredBackoff(maxJitter time.Duration) retryablehttp.Backoff {
	return func(min, max time.Duration, attemptNum int, _ *http.Response) time.Duration {
		mult := math.Pow(2, float64(attemptNum))
		sleep := time.Duration(float64(min) * mult)
		if sleep > max || sleep <= 0 {
			sleep = max
		}
		if maxJitter > 0 {
			sleep += time.Duration(rand.Int63n(int64(maxJitter)))
		}
		return sleep
	}
}

func (m *Manager) login(ctx context.Context) (*session.Session, error) {
	req := loginRequest{
		Identifier: m.creds.Username,
		Password:   m.creds.Password,
	}
	if m.apiVersion == 2 {
		encrypted := false
		req.EncryptedPassword = &encrypted
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal login request")
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, m.url(types.SessionEndpoint), payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create login request")
	}
	m.setBaseHeaders(httpReq.Header, strconv.Itoa(m.apiVersion))
	httpReq.Header.Set(types.HeaderRequestID, uuid.New().String())

	m.logger.Debug("Login request", "version", m.apiVersion, "username", m.creds.Username)

	resp, err := m.loginClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "login request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read login response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, m.loginFailure(resp.StatusCode, body)
	}

	if m.apiVersion == 3 {
		return m.sessionFromV3(body)
	}
	return m.sessionFromV2(resp.Header, body)
}

func (m *Manager) loginFailure(statusCode int, body []byte) error {
	m.logger.Error("Login failed", "status", statusCode, "body", truncate(string(body), 256))

	switch statusCode {
	case http.StatusUnauthorized:
		return &types.Error{Code: types.CodeBadCredentials, Message: "login rejected", StatusCode: statusCode, Err: types.ErrBadCredentials}
	case http.StatusForbidden:
		if types.IsQuotaExceeded(string(body)) {
			return types.NewRateLimitExceeded(m.loginClient.RetryMax+1, string(body))
		}
		return &types.Error{Code: types.CodeBadCredentials, Message: "login forbidden", StatusCode: statusCode, Err: types.ErrBadCredentials}
	default:
		return types.NewUnexpected(statusCode, string(body))
	}
}

func (m *Manager) sessionFromV2(h http.Header, body []byte) (*session.Session, error) {
	tokens, err := session.SecurityTokensFromHeader(h)
	if err != nil {
		return nil, err
	}

	var resp loginV2Response
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, types.NewAuthError("malformed v2 login response: " + err.Error())
		}
	}

	accountID := resp.CurrentAccountID
	if accountID == "" {
		accountID = resp.AccountID
	}
	if accountID == "" {
		accountID = m.creds.AccountID
	}

	return m.newSession(session.Info{
		AccountID:             accountID,
		ClientID:              resp.ClientID,
		LightstreamerEndpoint: resp.LightstreamerEndpoint,
		TimezoneOffset:        resp.TimezoneOffset,
		APIVersion:            2,
	}, tokens)
}

func (m *Manager) sessionFromV3(body []byte) (*session.Session, error) {
	var resp loginV3Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, types.NewAuthError("malformed v3 login response: " + err.Error())
	}

	accountID := resp.AccountID
	if accountID == "" {
		accountID = m.creds.AccountID
	}

	tok := resp.OAuthToken
	return m.newSession(session.Info{
		AccountID:             accountID,
		ClientID:              resp.ClientID,
		LightstreamerEndpoint: resp.LightstreamerEndpoint,
		TimezoneOffset:        resp.TimezoneOffset,
		APIVersion:            3,
	}, &tok)
}

// refreshOAuth exchanges the refresh token. A non-2xx answer or an unusable
// body is reported as *refreshRejectedError; transport failures are returned as is.
func (m *Manager) refreshOAuth(ctx context.Context, cur *session.Session) (*session.Session, error) {
	tok, ok := cur.OAuth()
	if !ok {
		return nil, types.NewInvalidInput("refresh requires an OAuth session")
	}

	payload, err := json.Marshal(map[string]string{"refresh_token": tok.RefreshToken})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal refresh request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url(types.RefreshTokenEndpoint), bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create refresh request")
	}
	m.setBaseHeaders(req.Header, "1")
	req.Header.Set(types.HeaderRequestID, uuid.New().String())

	m.logger.Debug("OAuth refresh request", "refresh_token_len", len(tok.RefreshToken))

	resp, err := m.loginClient.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "refresh request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read refresh response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.logger.Debug("OAuth refresh response", "status", resp.StatusCode, "body", truncate(string(body), 256))
		return nil, &refreshRejectedError{statusCode: resp.StatusCode}
	}

	var rr refreshResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, &refreshRejectedError{statusCode: resp.StatusCode}
	}

	newTok := rr.OAuthToken
	if rr.Nested != nil && rr.Nested.AccessToken != "" {
		newTok = *rr.Nested
	}
	if newTok.RefreshToken == "" {
		newTok.RefreshToken = tok.RefreshToken
	}

	info := cur.Info()
	if rr.AccountID != "" {
		info.AccountID = rr.AccountID
	}
	if rr.ClientID != "" {
		info.ClientID = rr.ClientID
	}
	if rr.LightstreamerEndpoint != "" {
		info.LightstreamerEndpoint = rr.LightstreamerEndpoint
	}

	s, err := m.newSession(info, &newTok)
	if err != nil {
		return nil, &refreshRejectedError{statusCode: resp.StatusCode}
	}
	return s, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
