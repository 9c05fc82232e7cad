// Package auth owns the authoritative session: login, refresh, account switch
// and logout against the provider's session endpoints.
package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/eshaffer321/ig-go/internal/ratelimit"
	"github.com/eshaffer321/ig-go/internal/session"
	"github.com/eshaffer321/ig-go/internal/types"
)

// Options configures a Manager
type Options struct {
	BaseURL     string
	Credentials types.Credentials
	// APIVersion 3 logs in with OAuth, anything else with CST/X-SECURITY-TOKEN
	APIVersion int
	HTTPClient *http.Client
	Registry   *ratelimit.Registry
	// LimitType picks the per-account limiter attached to new sessions
	LimitType     ratelimit.LimitType
	RefreshMargin time.Duration
	Logger        types.Logger

	// LoginRetryWait is the first backoff after a quota-exceeded login
	LoginRetryWait time.Duration
	// LoginMaxJitter bounds the random jitter added to each login backoff.
	// Zero means the default, negative disables jitter.
	LoginMaxJitter  time.Duration
	LoginMaxRetries int

	Clock func() time.Time
}

// Manager hands out a valid session, logging in or refreshing as needed.
// At most one login and one refresh run at a time; concurrent callers share
// the result.
type Manager struct {
	mu      sync.RWMutex
	current *session.Session

	baseURL       string
	creds         types.Credentials
	apiVersion    int
	limitType     ratelimit.LimitType
	refreshMargin time.Duration

	registry    *ratelimit.Registry
	httpClient  *http.Client
	loginClient *retryablehttp.Client
	group       singleflight.Group

	logger types.Logger
	now    func() time.Time
}

// NewManager creates a Manager. Nothing is sent until a session is needed.
func NewManager(opts *Options) *Manager {
	if opts == nil {
		opts = &Options{}
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = types.DefaultBaseURL
	}

	apiVersion := opts.APIVersion
	if apiVersion != 2 {
		apiVersion = types.DefaultAPIVersion
	}

	registry := opts.Registry
	if registry == nil {
		registry = ratelimit.NewRegistry(ratelimit.DefaultSafetyMargin)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: types.DefaultTimeout}
	}

	refreshMargin := opts.RefreshMargin
	if refreshMargin <= 0 {
		refreshMargin = types.DefaultRefreshMargin
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	m := &Manager{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		creds:         opts.Credentials,
		apiVersion:    apiVersion,
		limitType:     opts.LimitType,
		refreshMargin: refreshMargin,
		registry:      registry,
		httpClient:    httpClient,
		logger:        types.LoggerOrNoop(opts.Logger),
		now:           now,
	}
	m.loginClient = newLoginClient(httpClient, registry.App(), opts)
	return m
}

// APIVersion is the version login uses
func (m *Manager) APIVersion() int {
	return m.apiVersion
}

// APIKey is sent on every call, including login
func (m *Manager) APIKey() string {
	return m.creds.APIKey
}

// Registry returns the limiter registry shared with the request pipeline
func (m *Manager) Registry() *ratelimit.Registry {
	return m.registry
}

// Limiter returns the limiter for an account and limit type
func (m *Manager) Limiter(accountID string, t ratelimit.LimitType) *ratelimit.Limiter {
	return m.registry.For(accountID, t)
}

// Current returns the cached session without checking expiry, or nil
func (m *Manager) Current() *session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// SetSession replaces the cached session
func (m *Manager) SetSession(s *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = s
}

// GetSession returns the cached session, logging in when there is none and
// refreshing when it expires within the refresh margin
func (m *Manager) GetSession(ctx context.Context) (*session.Session, error) {
	m.mu.RLock()
	s := m.current
	m.mu.RUnlock()

	if s == nil {
		m.logger.Info("No active session, logging in")
		return m.doLogin(ctx, true)
	}
	if s.NeedsRefresh(m.refreshMargin) {
		m.logger.Debug("Session needs refresh", s.LogFields()...)
		return m.RefreshToken(ctx)
	}
	return s, nil
}

// Login authenticates from scratch and replaces the cached session
func (m *Manager) Login(ctx context.Context) (*session.Session, error) {
	return m.doLogin(ctx, false)
}

// doLogin runs at most one login at a time. With ifMissing set, a session
// stored by a login that finished just before is returned instead.
func (m *Manager) doLogin(ctx context.Context, ifMissing bool) (*session.Session, error) {
	s, shared, err := m.shared(ctx, "login", func(ctx context.Context) (*session.Session, error) {
		if cur := m.Current(); ifMissing && cur != nil {
			return cur, nil
		}
		s, err := m.login(ctx)
		if err != nil {
			return nil, err
		}
		m.SetSession(s)
		m.logger.Info("Login successful", s.LogFields()...)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug("Joined in-flight login")
	}
	return s, nil
}

// shared runs fn once for all concurrent callers of key. fn runs detached
// from the caller's cancellation, so a caller that gives up returns its own
// ctx error without failing the others or abandoning the provider call
// halfway. Each attempt stays bounded by the HTTP client timeout.
func (m *Manager) shared(ctx context.Context, key string, fn func(context.Context) (*session.Session, error)) (*session.Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (interface{}, error) {
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*session.Session), res.Shared, nil
	}
}

// RefreshToken renews the cached session. OAuth sessions call the refresh
// endpoint and fall back to a full login when it answers non-2xx. Token
// sessions are returned as is unless their TokenTimer has expired.
func (m *Manager) RefreshToken(ctx context.Context) (*session.Session, error) {
	return m.RefreshStale(ctx, m.Current())
}

// RefreshStale refreshes only if stale is still the cached session. A caller
// that was rejected with a session another caller has since replaced gets the
// replacement without a second refresh.
func (m *Manager) RefreshStale(ctx context.Context, stale *session.Session) (*session.Session, error) {
	s, _, err := m.shared(ctx, "refresh", func(ctx context.Context) (*session.Session, error) {
		cur := m.Current()
		if cur == nil {
			m.logger.Warn("No session to refresh, logging in")
			return m.Login(ctx)
		}
		// another caller already replaced the session we saw
		if cur != stale && !cur.NeedsRefresh(m.refreshMargin) {
			return cur, nil
		}

		if cur.IsTokenAuth() {
			if !cur.Timer().IsExpired() {
				return cur, nil
			}
			m.logger.Warn("Session expired, logging in", cur.LogFields()...)
			return m.Login(ctx)
		}

		s, err := m.refreshOAuth(ctx, cur)
		if err != nil {
			var fallback *refreshRejectedError
			if errors.As(err, &fallback) {
				m.logger.Warn("OAuth refresh rejected, logging in", "status", fallback.statusCode)
				return m.Login(ctx)
			}
			return nil, err
		}
		m.SetSession(s)
		m.logger.Info("OAuth token refreshed", s.LogFields()...)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Relogin logs in again when the cached session is within 30 minutes of
// either TokenTimer bound, otherwise returns it
func (m *Manager) Relogin(ctx context.Context) (*session.Session, error) {
	cur := m.Current()
	if cur == nil || cur.Timer().IsExpiredWithMargin(types.ReloginMargin) {
		return m.Login(ctx)
	}
	return cur, nil
}

// LoginAndSwitchAccount logs in and then switches to accountID if it differs
func (m *Manager) LoginAndSwitchAccount(ctx context.Context, accountID string, setDefault *bool) (*session.Session, error) {
	s, err := m.Login(ctx)
	if err != nil {
		return nil, err
	}
	if accountID == "" || accountID == s.AccountID() {
		return s, nil
	}
	return m.SwitchAccount(ctx, accountID, setDefault)
}

// Logout drops the cached session. The provider needs no call.
func (m *Manager) Logout() {
	m.SetSession(nil)
	m.logger.Info("Logged out")
}

func (m *Manager) url(endpoint string) string {
	return m.baseURL + "/" + endpoint
}

func (m *Manager) newSession(info session.Info, creds session.Credentials) (*session.Session, error) {
	return session.New(info, creds,
		session.WithLimiter(m.registry.For(info.AccountID, m.limitType)),
		session.WithClock(m.now),
	)
}

func (m *Manager) setBaseHeaders(h http.Header, version string) {
	h.Set(types.HeaderAPIKey, m.creds.APIKey)
	h.Set(types.HeaderContentType, types.ContentTypeJSON)
	h.Set(types.HeaderAccept, types.ContentTypeJSON)
	h.Set(types.HeaderVersion, version)
	h.Set(types.HeaderUserAgent, types.UserAgent)
}
