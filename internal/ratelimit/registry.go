package ratelimit

import (
	"sort"
	"sync"
)

type key struct {
	accountID string
	limitType LimitType
}

// Registry hands out one limiter per (account, limit type) and a single
// process-wide limiter for calls made before a session exists. Limiters
// outlive sessions so quota history survives a refresh or re-login.
type Registry struct {
	mu        sync.Mutex
	overrides map[LimitType]Config
	margin    float64
	limiters  map[key]*Limiter
	app       *Limiter
	newFn     func(Config) *Limiter
}

// NewRegistry creates a registry. Each override replaces the provider defaults
// for its Type; margin applies to every type without an explicit one.
func NewRegistry(margin float64, overrides ...Config) *Registry {
	return newRegistry(margin, New, overrides...)
}

func newRegistry(margin float64, newFn func(Config) *Limiter, overrides ...Config) *Registry {
	r := &Registry{
		overrides: make(map[LimitType]Config),
		margin:    margin,
		limiters:  make(map[key]*Limiter),
		newFn:     newFn,
	}
	for _, o := range overrides {
		o = o.normalizedType()
		r.overrides[o.Type] = o
	}
	r.app = newFn(r.configFor(AppNonTrading))
	return r
}

func (c Config) normalizedType() Config {
	if c.Type == "" {
		c.Type = NonTrading
	}
	return c
}

func (r *Registry) configFor(t LimitType) Config {
	cfg, ok := r.overrides[t]
	if !ok {
		cfg = Config{Type: t}
	}
	if cfg.SafetyMargin == 0 {
		cfg.SafetyMargin = r.margin
	}
	return cfg
}

// For returns the limiter for an account and limit type, creating it on first use
func (r *Registry) For(accountID string, t LimitType) *Limiter {
	if t == AppNonTrading {
		return r.app
	}
	if t == "" {
		t = NonTrading
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{accountID: accountID, limitType: t}
	if l, ok := r.limiters[k]; ok {
		return l
	}
	l := r.newFn(r.configFor(t))
	r.limiters[k] = l
	return l
}

// App returns the process-wide limiter for unauthenticated calls
func (r *Registry) App() *Limiter {
	return r.app
}

// AccountStats pairs limiter stats with the account they belong to
type AccountStats struct {
	AccountID string `json:"accountId,omitempty"`
	Stats
}

// Snapshot returns stats for every limiter created so far, app limiter first
func (r *Registry) Snapshot() []AccountStats {
	r.mu.Lock()
	keys := make([]key, 0, len(r.limiters))
	for k := range r.limiters {
		keys = append(keys, k)
	}
	limiters := make(map[key]*Limiter, len(r.limiters))
	for k, l := range r.limiters {
		limiters[k] = l
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].accountID != keys[j].accountID {
			return keys[i].accountID < keys[j].accountID
		}
		return keys[i].limitType < keys[j].limitType
	})

	out := make([]AccountStats, 0, len(keys)+1)
	out = append(out, AccountStats{Stats: r.app.Stats()})
	for _, k := range keys {
		out = append(out, AccountStats{AccountID: k.accountID, Stats: limiters[k].Stats()})
	}
	return out
}
