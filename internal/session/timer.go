package session

import (
	"sync"
	"time"

	"github.com/eshaffer321/ig-go/internal/types"
)

// TokenTimer tracks the soft expiry and hard max age of a session.
//
// Refresh only moves the soft expiry and never clamps it to the max age, so
// Expiry alone is not authoritative: always ask IsExpired.
type TokenTimer struct {
	mu            sync.RWMutex
	expiry        time.Time
	lastRefreshed time.Time
	maxAge        time.Time
	now           func() time.Time
}

// NewTokenTimer starts a timer at the current time
func NewTokenTimer() *TokenTimer {
	return newTokenTimer(time.Now)
}

func newTokenTimer(now func() time.Time) *TokenTimer {
	if now == nil {
		now = time.Now
	}
	return newTokenTimerAt(now(), now)
}

// newTokenTimerAt starts a timer as if it had been created at t
func newTokenTimerAt(t time.Time, now func() time.Time) *TokenTimer {
	return &TokenTimer{
		expiry:        t.Add(types.TokenSoftLifetime),
		lastRefreshed: t,
		maxAge:        t.Add(types.TokenMaxAge),
		now:           now,
	}
}

// IsExpired reports whether either the soft expiry or the max age has passed
func (t *TokenTimer) IsExpired() bool {
	return t.IsExpiredWithMargin(0)
}

// IsExpiredWithMargin reports whether either bound is within margin of now
func (t *TokenTimer) IsExpiredWithMargin(margin time.Duration) bool {
	now := t.now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	return !now.Before(t.expiry.Add(-margin)) || !now.Before(t.maxAge.Add(-margin))
}

// Refresh extends the soft expiry to a full lifetime from now
func (t *TokenTimer) Refresh() {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.expiry = now.Add(types.TokenSoftLifetime)
	t.lastRefreshed = now
}

// Expiry returns the soft expiry
func (t *TokenTimer) Expiry() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.expiry
}

// MaxAge returns the hard ceiling, fixed at creation
func (t *TokenTimer) MaxAge() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxAge
}

// LastRefreshed returns when Refresh last ran, or the creation time
func (t *TokenTimer) LastRefreshed() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastRefreshed
}

// EffectiveExpiry is the earlier of the soft expiry and the max age
func (t *TokenTimer) EffectiveExpiry() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.maxAge.Before(t.expiry) {
		return t.maxAge
	}
	return t.expiry
}
