// Package ratelimit throttles outgoing provider calls against per-account quotas.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// LimitType identifies which provider quota a limiter enforces
type LimitType string

const (
	// Trading covers order and position calls, counted per account
	Trading LimitType = "trading"
	// NonTrading covers everything else, counted per account
	NonTrading LimitType = "non_trading"
	// AppNonTrading is counted per API key and guards unauthenticated calls
	AppNonTrading LimitType = "app_non_trading"
)

// DefaultSafetyMargin leaves 20% headroom under the provider quota
const DefaultSafetyMargin = 0.8

// DefaultPeriod is the provider's quota window
const DefaultPeriod = time.Minute

// DefaultMaxRequests returns the provider quota per period for a limit type
func DefaultMaxRequests(t LimitType) int {
	switch t {
	case Trading:
		return 100
	case AppNonTrading:
		return 60
	default:
		return 30
	}
}

// ParseLimitType maps a config string onto a LimitType, defaulting to NonTrading
func ParseLimitType(s string) LimitType {
	switch LimitType(s) {
	case Trading, AppNonTrading:
		return LimitType(s)
	default:
		return NonTrading
	}
}

// Config configures a Limiter. Zero values fall back to the provider defaults.
type Config struct {
	Type         LimitType
	MaxRequests  int
	Period       time.Duration
	BurstSize    int
	SafetyMargin float64
}

func (c Config) normalized() Config {
	if c.Type == "" {
		c.Type = NonTrading
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests(c.Type)
	}
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.SafetyMargin <= 0 || c.SafetyMargin > 1 {
		c.SafetyMargin = DefaultSafetyMargin
	}
	return c
}

// EffectiveQuota is MaxRequests scaled by the safety margin
func (c Config) EffectiveQuota() float64 {
	c = c.normalized()
	return float64(c.MaxRequests) * c.SafetyMargin
}

// Stats is a point-in-time view of a limiter's usage
type Stats struct {
	Type           LimitType     `json:"type"`
	EffectiveQuota float64       `json:"effectiveQuota"`
	Period         time.Duration `json:"period"`
	Burst          int           `json:"burst"`
	InWindow       int           `json:"inWindow"`
	Remaining      int           `json:"remaining"`
	NextIn         time.Duration `json:"nextIn"`
}

// Limiter admits calls at EffectiveQuota per Period, allowing bursts of up to
// Burst calls, and never more than floor(EffectiveQuota) calls in any rolling
// Period. It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	cfg      Config
	interval time.Duration
	burst    int
	// most calls admitted in any rolling period
	capacity int
	// theoretical arrival time of the next call
	tat     time.Time
	history []time.Time
	now     func() time.Time
}

// New creates a limiter
func New(cfg Config) *Limiter {
	return newWithClock(cfg, time.Now)
}

func newWithClock(cfg Config, now func() time.Time) *Limiter {
	cfg = cfg.normalized()
	quota := cfg.EffectiveQuota()

	interval := time.Duration(float64(cfg.Period) / quota)
	if interval <= 0 {
		interval = time.Nanosecond
	}

	maxBurst := int(math.Floor(quota))
	if maxBurst < 1 {
		maxBurst = 1
	}
	burst := cfg.BurstSize
	if burst <= 0 || burst > maxBurst {
		burst = maxBurst
	}

	return &Limiter{
		cfg:      cfg,
		interval: interval,
		burst:    burst,
		capacity: maxBurst,
		now:      now,
	}
}

// Type returns the quota this limiter enforces
func (l *Limiter) Type() LimitType {
	return l.cfg.Type
}

// Config returns the normalized configuration
func (l *Limiter) Config() Config {
	return l.cfg
}

// Interval is the sustained spacing between admitted calls
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Burst is the number of calls admitted back to back from idle
func (l *Limiter) Burst() int {
	return l.burst
}

// reserve admits a call at now, returning 0, or returns how long the caller
// must wait before trying again. Nothing is recorded unless the call is admitted.
func (l *Limiter) reserve(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.history = l.prune(now)
	if wait := l.waitLocked(now, l.history); wait > 0 {
		return wait
	}

	tat := l.tat
	if tat.Before(now) {
		tat = now
	}
	l.tat = tat.Add(l.interval)
	l.history = append(l.history, now)
	return 0
}

// waitLocked is how long until both the steady rate and the rolling window
// allow another call. Caller holds mu and passes pruned history.
func (l *Limiter) waitLocked(now time.Time, history []time.Time) time.Duration {
	var wait time.Duration

	tat := l.tat
	if tat.Before(now) {
		tat = now
	}
	if allowAt := tat.Add(-time.Duration(l.burst-1) * l.interval); now.Before(allowAt) {
		wait = allowAt.Sub(now)
	}

	// the oldest calls must leave the window before another fits
	if over := len(history) - l.capacity; over >= 0 {
		if w := history[over].Add(l.cfg.Period).Sub(now); w > wait {
			wait = w
		}
	}
	return wait
}

// prune drops history older than one period. Caller holds mu.
func (l *Limiter) prune(now time.Time) []time.Time {
	cutoff := now.Add(-l.cfg.Period)
	i := 0
	for i < len(l.history) && !l.history[i].After(cutoff) {
		i++
	}
	return l.history[i:]
}

// Wait blocks until one more call fits in the quota, then records it.
// It only returns an error when ctx is done first, in which case no slot is consumed.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait := l.reserve(l.now())
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire admits a call if one fits right now, without waiting
func (l *Limiter) TryAcquire() bool {
	return l.reserve(l.now()) == 0
}

// Stats reports usage over the trailing period. It has no side effects.
func (l *Limiter) Stats() Stats {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.prune(now)
	inWindow := len(history)
	remaining := l.capacity - inWindow
	if remaining < 0 {
		remaining = 0
	}

	return Stats{
		Type:           l.cfg.Type,
		EffectiveQuota: l.cfg.EffectiveQuota(),
		Period:         l.cfg.Period,
		Burst:          l.burst,
		InWindow:       inWindow,
		Remaining:      remaining,
		NextIn:         l.waitLocked(now, history),
	}
}
