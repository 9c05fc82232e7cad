package session

import (
	"time"

	"github.com/pkg/errors"
)

// Snapshot is the persisted form of a Session
type Snapshot struct {
	Info          Info        `json:"info"`
	Scheme        Scheme      `json:"scheme"`
	CST           string      `json:"cst,omitempty"`
	SecurityToken string      `json:"securityToken,omitempty"`
	OAuth         *OAuthToken `json:"oauth,omitempty"`
	IssuedAt      time.Time   `json:"issuedAt"`
}

// Snapshot captures the session for persistence
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Info:     s.info,
		Scheme:   s.Scheme(),
		IssuedAt: s.issuedAt,
	}
	switch c := s.creds.(type) {
	case *SecurityTokens:
		snap.CST = c.CST
		snap.SecurityToken = c.SecurityToken
	case *OAuthToken:
		tok := *c
		snap.OAuth = &tok
	}
	return snap
}

// Restore rebuilds a session from a snapshot. Its TokenTimer counts from the
// original issue time, so a stale snapshot restores as expired.
func Restore(snap Snapshot, opts ...Option) (*Session, error) {
	var creds Credentials
	switch snap.Scheme {
	case SchemeSecurityToken:
		creds = &SecurityTokens{CST: snap.CST, SecurityToken: snap.SecurityToken}
	case SchemeOAuth:
		if snap.OAuth == nil {
			return nil, errors.New("session: snapshot has no oauth token")
		}
		tok := *snap.OAuth
		creds = &tok
	default:
		return nil, errors.Errorf("session: unknown scheme %q", snap.Scheme)
	}

	s, err := New(snap.Info, creds, opts...)
	if err != nil {
		return nil, err
	}
	if !snap.IssuedAt.IsZero() {
		s.issuedAt = snap.IssuedAt
		s.timer = newTokenTimerAt(snap.IssuedAt, s.now)
	}
	return s, nil
}
