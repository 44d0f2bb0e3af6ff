package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestAllow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}

	t.Run("burst then reject", func(t *testing.T) {
		l := New(1, 3, WithClock(clock.Now))
		for i := range 3 {
			res := l.Allow("203.0.113.0")
			require.True(t, res.Allowed, "request %d", i)
			assert.Equal(t, 3, res.Limit)
		}

		res := l.Allow("203.0.113.0")
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
		assert.InDelta(t, time.Second.Seconds(), res.RetryAfter.Seconds(), 0.01)
	})

	t.Run("keys are independent", func(t *testing.T) {
		l := New(1, 1, WithClock(clock.Now))
		assert.True(t, l.Allow("203.0.113.0").Allowed)
		assert.False(t, l.Allow("203.0.113.0").Allowed)
		assert.True(t, l.Allow("198.51.100.0").Allowed)
	})

	t.Run("refills over time", func(t *testing.T) {
		l := New(2, 1, WithClock(clock.Now))
		assert.True(t, l.Allow("k").Allowed)
		assert.False(t, l.Allow("k").Allowed)

		clock.Advance(500 * time.Millisecond)
		assert.True(t, l.Allow("k").Allowed)
	})

	t.Run("rejection does not consume a token", func(t *testing.T) {
		l := New(1, 1, WithClock(clock.Now))
		assert.True(t, l.Allow("k").Allowed)
		for range 5 {
			assert.False(t, l.Allow("k").Allowed)
		}
		clock.Advance(time.Second)
		assert.True(t, l.Allow("k").Allowed)
	})
}

func TestCleanupDropsIdleBuckets(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := New(1, 2, WithClock(clock.Now))

	l.Allow("idle")
	l.Allow("busy")
	require.Equal(t, 2, l.Len())

	clock.Advance(cleanupEvery)
	l.Allow("busy")

	// Both buckets had refilled; only "busy" came back.
	assert.Equal(t, 1, l.Len())
}
