package auth

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/eshaffer321/ig-go/internal/session"
	"github.com/eshaffer321/ig-go/internal/types"
)

// SaveSession writes the cached session to path with owner-only permissions
func (m *Manager) SaveSession(path string) error {
	cur := m.Current()
	if cur == nil {
		return types.ErrNotAuthenticated
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "failed to create session directory")
	}

	data, err := json.MarshalIndent(cur.Snapshot(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal session")
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write session file")
	}

	m.logger.Info("Session saved", "path", path)
	return nil
}

// LoadSession restores a session saved by SaveSession. An expired session is
// not loaded.
func (m *Manager) LoadSession(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.ErrNotAuthenticated
		}
		return errors.Wrap(err, "failed to read session file")
	}

	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.Wrap(err, "failed to unmarshal session")
	}

	s, err := session.Restore(snap,
		session.WithLimiter(m.registry.For(snap.Info.AccountID, m.limitType)),
		session.WithClock(m.now),
	)
	if err != nil {
		return errors.Wrap(err, "failed to restore session")
	}

	if s.IsExpired() {
		return errors.Wrap(types.ErrNotAuthenticated, "saved session expired")
	}

	m.SetSession(s)
	m.logger.Info("Session loaded", "path", path, "account_id", s.AccountID())
	return nil
}
