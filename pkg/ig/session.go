package ig

import (
	"context"
)

// sessionService implements the SessionService interface
type sessionService struct {
	client *Client
}

// Login performs a fresh login
func (s *sessionService) Login(ctx context.Context) (*Session, error) {
	sess, err := s.client.auth.Login(ctx)
	if err != nil {
		return nil, err
	}
	s.persist()
	return sess, nil
}

// Get returns a valid session
func (s *sessionService) Get(ctx context.Context) (*Session, error) {
	return s.client.auth.GetSession(ctx)
}

// Current returns the cached session, or nil
func (s *sessionService) Current() *Session {
	return s.client.auth.Current()
}

// Refresh renews the cached session
func (s *sessionService) Refresh(ctx context.Context) (*Session, error) {
	sess, err := s.client.auth.RefreshToken(ctx)
	if err != nil {
		return nil, err
	}
	s.persist()
	return sess, nil
}

// Relogin logs in again when the session is close to expiry
func (s *sessionService) Relogin(ctx context.Context) (*Session, error) {
	sess, err := s.client.auth.Relogin(ctx)
	if err != nil {
		return nil, err
	}
	s.persist()
	return sess, nil
}

// SwitchAccount moves a CST session to another account
func (s *sessionService) SwitchAccount(ctx context.Context, accountID string, setDefault *bool) (*Session, error) {
	sess, err := s.client.auth.SwitchAccount(ctx, accountID, setDefault)
	if err != nil {
		return nil, err
	}
	s.persist()
	return sess, nil
}

// LoginAndSwitchAccount logs in and switches account if needed
func (s *sessionService) LoginAndSwitchAccount(ctx context.Context, accountID string, setDefault *bool) (*Session, error) {
	sess, err := s.client.auth.LoginAndSwitchAccount(ctx, accountID, setDefault)
	if err != nil {
		return nil, err
	}
	s.persist()
	return sess, nil
}

// Logout drops the cached session
func (s *sessionService) Logout() {
	s.client.auth.Logout()
}

// SaveSession saves session to file
func (s *sessionService) SaveSession(path string) error {
	return s.client.auth.SaveSession(path)
}

// LoadSession loads session from file
func (s *sessionService) LoadSession(path string) error {
	return s.client.auth.LoadSession(path)
}

// Limits reports usage of every rate limiter in use
func (s *sessionService) Limits() []LimitStats {
	return s.client.auth.Registry().Snapshot()
}

// persist saves the session if a session file is configured
func (s *sessionService) persist() {
	path := s.client.options.SessionFile
	if path == "" {
		return
	}
	if err := s.client.auth.SaveSession(path); err != nil {
		s.client.logger.Warn("Failed to save session", "path", path, "error", err)
	}
}
