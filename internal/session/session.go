// Package session models an authenticated provider session and its expiry.
package session

import (
	"time"

	"github.com/pkg/errors"

	"github.com/eshaffer321/ig-go/internal/ratelimit"
)

// Info holds the identifiers shared by both auth schemes
type Info struct {
	AccountID             string `json:"accountId"`
	ClientID              string `json:"clientId"`
	LightstreamerEndpoint string `json:"lightstreamerEndpoint"`
	TimezoneOffset        int    `json:"timezoneOffset"`
	APIVersion            int    `json:"apiVersion"`
}

// Session is an authenticated session. It is immutable once built; a refresh
// or account switch produces a new Session. The TokenTimer and limiter it
// carries are shared and synchronized on their own.
type Session struct {
	info     Info
	creds    Credentials
	issuedAt time.Time
	timer    *TokenTimer
	limiter  *ratelimit.Limiter
	now      func() time.Time
}

// Option configures a Session
type Option func(*Session)

// WithLimiter attaches the limiter calls under this session must wait on
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Session) {
		s.limiter = l
	}
}

// WithClock overrides the clock used for issuedAt and the TokenTimer
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a session from validated credentials
func New(info Info, creds Credentials, opts ...Option) (*Session, error) {
	if creds == nil {
		return nil, errors.New("session: nil credentials")
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		info:  info,
		creds: creds,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.issuedAt = s.now()
	s.timer = newTokenTimer(s.now)
	return s, nil
}

// IsOAuth reports whether the session uses bearer tokens
func (s *Session) IsOAuth() bool {
	return s.creds.Scheme() == SchemeOAuth
}

// IsTokenAuth reports whether the session uses CST/X-SECURITY-TOKEN
func (s *Session) IsTokenAuth() bool {
	return s.creds.Scheme() == SchemeSecurityToken
}

// Scheme returns the auth scheme
func (s *Session) Scheme() Scheme {
	return s.creds.Scheme()
}

// AccountID is the active account
func (s *Session) AccountID() string { return s.info.AccountID }

// ClientID is the provider's client identifier
func (s *Session) ClientID() string { return s.info.ClientID }

// LightstreamerEndpoint is the streaming endpoint returned at login
func (s *Session) LightstreamerEndpoint() string { return s.info.LightstreamerEndpoint }

// TimezoneOffset is the account's offset from UTC in hours
func (s *Session) TimezoneOffset() int { return s.info.TimezoneOffset }

// APIVersion is the session endpoint version the session was created with
func (s *Session) APIVersion() int { return s.info.APIVersion }

// Info returns a copy of the account details
func (s *Session) Info() Info { return s.info }

// IssuedAt is when the provider issued the tokens
func (s *Session) IssuedAt() time.Time { return s.issuedAt }

// Credentials returns the scheme-specific tokens
func (s *Session) Credentials() Credentials { return s.creds }

// Timer returns the session's TokenTimer
func (s *Session) Timer() *TokenTimer { return s.timer }

// RateLimiter returns the limiter for this session, which may be nil
func (s *Session) RateLimiter() *ratelimit.Limiter {
	return s.limiter
}

// SecurityTokens returns the scheme A tokens, if that is the scheme
func (s *Session) SecurityTokens() (*SecurityTokens, bool) {
	t, ok := s.creds.(*SecurityTokens)
	return t, ok
}

// OAuth returns the scheme B token, if that is the scheme
func (s *Session) OAuth() (*OAuthToken, bool) {
	t, ok := s.creds.(*OAuthToken)
	return t, ok
}

// ExpiresAt is issuedAt + expires_in for OAuth sessions. For token sessions it
// is the TokenTimer's effective expiry, which starts at issuedAt + 6h.
func (s *Session) ExpiresAt() time.Time {
	if s.IsOAuth() {
		return s.creds.expiresAt(s.issuedAt)
	}
	return s.timer.EffectiveExpiry()
}

// NeedsRefresh reports whether the session expires within margin
func (s *Session) NeedsRefresh(margin time.Duration) bool {
	if s.IsOAuth() {
		return !s.now().Before(s.ExpiresAt().Add(-margin))
	}
	return s.timer.IsExpiredWithMargin(margin)
}

// IsExpired reports whether the session is past its expiry with no margin
func (s *Session) IsExpired() bool {
	return s.NeedsRefresh(0)
}

// SecondsUntilExpiry may be negative once expired
func (s *Session) SecondsUntilExpiry() int64 {
	return int64(s.ExpiresAt().Sub(s.now()) / time.Second)
}

// LogFields returns key/value pairs safe to log. Tokens are reduced to lengths.
func (s *Session) LogFields() []interface{} {
	fields := []interface{}{
		"scheme", string(s.Scheme()),
		"account_id", s.info.AccountID,
		"api_version", s.info.APIVersion,
		"expires_at", s.ExpiresAt().Format(time.RFC3339),
	}
	switch c := s.creds.(type) {
	case *SecurityTokens:
		fields = append(fields, "cst_len", len(c.CST), "security_token_len", len(c.SecurityToken))
	case *OAuthToken:
		fields = append(fields, "access_token_len", len(c.AccessToken), "expires_in", int64(c.ExpiresIn))
	}
	return fields
}
