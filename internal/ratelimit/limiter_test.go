package ratelimit

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestConfig_Defaults(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantType LimitType
		wantMax  int
	}{
		{"empty", Config{}, NonTrading, 30},
		{"trading", Config{Type: Trading}, Trading, 100},
		{"app", Config{Type: AppNonTrading}, AppNonTrading, 60},
		{"explicit max", Config{Type: Trading, MaxRequests: 7}, Trading, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg.normalized()
			assert.Equal(t, tt.wantType, cfg.Type)
			assert.Equal(t, tt.wantMax, cfg.MaxRequests)
			assert.Equal(t, DefaultPeriod, cfg.Period)
			assert.Equal(t, DefaultSafetyMargin, cfg.SafetyMargin)
		})
	}
}

func TestConfig_InvalidMarginFallsBack(t *testing.T) {
	assert.Equal(t, DefaultSafetyMargin, Config{SafetyMargin: 1.5}.normalized().SafetyMargin)
	assert.Equal(t, DefaultSafetyMargin, Config{SafetyMargin: -0.1}.normalized().SafetyMargin)
	assert.Equal(t, 1.0, Config{SafetyMargin: 1}.normalized().SafetyMargin)
}

func TestParseLimitType(t *testing.T) {
	assert.Equal(t, Trading, ParseLimitType("trading"))
	assert.Equal(t, AppNonTrading, ParseLimitType("app_non_trading"))
	assert.Equal(t, NonTrading, ParseLimitType("non_trading"))
	assert.Equal(t, NonTrading, ParseLimitType("bogus"))
}

func TestLimiter_HalfMarginSpacing(t *testing.T) {
	clock := newFakeClock()
	l := newWithClock(Config{MaxRequests: 3, Period: time.Minute, SafetyMargin: 0.5}, clock.Now)

	assert.Equal(t, 40*time.Second, l.Interval())
	assert.Equal(t, 1, l.Burst())

	require.Equal(t, time.Duration(0), l.reserve(clock.Now()))

	// calls 2, 3 and 4 issued immediately must all suspend until the first
	// call leaves the window: 1.5/min admits one call per rolling minute
	for i := 0; i < 3; i++ {
		assert.Equal(t, time.Minute, l.reserve(clock.Now()))
	}

	clock.Advance(39 * time.Second)
	assert.Equal(t, 21*time.Second, l.reserve(clock.Now()))

	clock.Advance(21 * time.Second)
	assert.Equal(t, time.Duration(0), l.reserve(clock.Now()))
	assert.Equal(t, time.Minute, l.reserve(clock.Now()))
}

func TestLimiter_DefaultQuotaPerRollingMinute(t *testing.T) {
	clock := newFakeClock()
	l := newWithClock(Config{Type: NonTrading}, clock.Now)
	start := clock.Now()

	admitted := 0
	for clock.Now().Before(start.Add(time.Minute)) {
		wait := l.reserve(clock.Now())
		if wait == 0 {
			admitted++
			continue
		}
		clock.Advance(wait)
	}

	// 30/min with the 0.8 margin
	assert.Equal(t, 24, admitted)
}

func TestLimiter_BurstClampedToEffectiveQuota(t *testing.T) {
	l := New(Config{MaxRequests: 10, Period: time.Minute, SafetyMargin: 0.5, BurstSize: 50})
	assert.Equal(t, 5, l.Burst())

	l = New(Config{MaxRequests: 10, Period: time.Minute, SafetyMargin: 0.5, BurstSize: 2})
	assert.Equal(t, 2, l.Burst())

	l = New(Config{MaxRequests: 1, Period: time.Minute, SafetyMargin: 0.5})
	assert.Equal(t, 1, l.Burst())
	assert.Equal(t, 2*time.Minute, l.Interval())
}

func TestLimiter_TryAcquire(t *testing.T) {
	clock := newFakeClock()
	l := newWithClock(Config{MaxRequests: 10, Period: time.Minute, SafetyMargin: 0.5}, clock.Now)

	for i := 0; i < 5; i++ {
		assert.True(t, l.TryAcquire(), "call %d should fit in the burst", i)
	}
	assert.False(t, l.TryAcquire())

	// the steady rate would allow one more, the rolling window does not
	clock.Advance(12 * time.Second)
	assert.False(t, l.TryAcquire())

	clock.Advance(48 * time.Second)
	for i := 0; i < 5; i++ {
		assert.True(t, l.TryAcquire(), "call %d should fit once the window moved", i)
	}
	assert.False(t, l.TryAcquire())
}

func TestLimiter_TryAcquireConcurrent(t *testing.T) {
	clock := newFakeClock()
	l := newWithClock(Config{MaxRequests: 10, Period: time.Minute, SafetyMargin: 0.5}, clock.Now)

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), admitted)
	assert.Equal(t, 5, l.Stats().InWindow)
}

func TestLimiter_Stats(t *testing.T) {
	clock := newFakeClock()
	l := newWithClock(Config{Type: Trading, MaxRequests: 10, Period: time.Minute, SafetyMargin: 0.5}, clock.Now)

	require.True(t, l.TryAcquire())
	require.True(t, l.TryAcquire())

	stats := l.Stats()
	assert.Equal(t, Trading, stats.Type)
	assert.Equal(t, 5.0, stats.EffectiveQuota)
	assert.Equal(t, 2, stats.InWindow)
	assert.Equal(t, 3, stats.Remaining)
	assert.Equal(t, time.Duration(0), stats.NextIn)

	// stats must not consume capacity
	for i := 0; i < 10; i++ {
		_ = l.Stats()
	}
	assert.Equal(t, 2, l.Stats().InWindow)

	clock.Advance(61 * time.Second)
	stats = l.Stats()
	assert.Equal(t, 0, stats.InWindow)
	assert.Equal(t, 5, stats.Remaining)
}

func TestLimiter_StatsNextIn(t *testing.T) {
	clock := newFakeClock()
	l := newWithClock(Config{MaxRequests: 3, Period: time.Minute, SafetyMargin: 0.5}, clock.Now)

	require.True(t, l.TryAcquire())
	clock.Advance(10 * time.Second)
	stats := l.Stats()
	assert.Equal(t, 50*time.Second, stats.NextIn)
	assert.Equal(t, 0, stats.Remaining)
}

func TestLimiter_Wait(t *testing.T) {
	l := New(Config{MaxRequests: 10, Period: 100 * time.Millisecond, SafetyMargin: 1, BurstSize: 1})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
	assert.Equal(t, 3, l.Stats().InWindow)
}

func TestLimiter_WaitCancelledLeavesNoTrace(t *testing.T) {
	clock := newFakeClock()
	l := newWithClock(Config{MaxRequests: 3, Period: time.Minute, SafetyMargin: 0.5}, clock.Now)
	require.True(t, l.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Stats().InWindow)

	// once the first call leaves the window the abandoned wait must not have eaten the slot
	clock.Advance(time.Minute)
	assert.True(t, l.TryAcquire())
}

func TestLimiter_WaitAlreadyCancelled(t *testing.T) {
	l := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
	assert.Equal(t, 0, l.Stats().InWindow)
}

// Any run of admitted calls between t_i and t_j never exceeds the burst plus
// what the sustained rate allows over that span, and no rolling period holds
// more than floor(EffectiveQuota) calls.
func TestLimiter_PropertyNeverExceedsRate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxRequests := rapid.IntRange(1, 200).Draw(t, "maxRequests")
		periodSecs := rapid.IntRange(1, 120).Draw(t, "periodSecs")
		margin := rapid.Float64Range(0.1, 1).Draw(t, "margin")
		burstSize := rapid.IntRange(0, 20).Draw(t, "burstSize")
		calls := rapid.IntRange(1, 80).Draw(t, "calls")

		cfg := Config{
			MaxRequests:  maxRequests,
			Period:       time.Duration(periodSecs) * time.Second,
			SafetyMargin: margin,
			BurstSize:    burstSize,
		}
		clock := newFakeClock()
		l := newWithClock(cfg, clock.Now)

		admitted := make([]time.Time, 0, calls)
		for i := 0; i < calls; i++ {
			gapMillis := rapid.IntRange(0, int(2*l.Interval()/time.Millisecond)).Draw(t, "gap")
			clock.Advance(time.Duration(gapMillis) * time.Millisecond)

			for {
				wait := l.reserve(clock.Now())
				if wait == 0 {
					break
				}
				if wait < 0 {
					t.Fatalf("negative wait %v", wait)
				}
				clock.Advance(wait)
			}
			admitted = append(admitted, clock.Now())
		}

		capacity := int(math.Floor(l.Config().EffectiveQuota()))
		if capacity < 1 {
			capacity = 1
		}

		for i := 0; i < len(admitted); i++ {
			inWindow := 0
			for j := i; j < len(admitted); j++ {
				span := admitted[j].Sub(admitted[i])
				count := j - i + 1
				allowed := l.Burst() + int(span/l.Interval())
				if count > allowed {
					t.Fatalf("admitted %d calls in %v, allowed %d", count, span, allowed)
				}
				if span < cfg.Period {
					inWindow++
				}
			}
			if inWindow > capacity {
				t.Fatalf("admitted %d calls within %v of %v, quota %d", inWindow, cfg.Period, admitted[i], capacity)
			}
		}
	})
}
