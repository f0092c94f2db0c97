package ratelimit

import (
	"context"
	"testing"
	"time"

	"prize_wheel/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func newClock() *clock { return &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func limited(t *testing.T, l Limiter) bool {
	t.Helper()
	v, err := l.IsLimited(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	return v
}

func TestDBLimiter_BlocksAtThreshold(t *testing.T) {
	clk := newClock()
	l := NewDBLimiter(storetest.Open(t), Policy{}).WithClock(clk.now)
	ctx := context.Background()

	assert.False(t, limited(t, l))
	for i := 0; i < DefaultMaxAttempts-1; i++ {
		require.NoError(t, l.RecordFailure(ctx, "203.0.113.7"))
	}
	assert.False(t, limited(t, l))

	require.NoError(t, l.RecordFailure(ctx, "203.0.113.7"))
	assert.True(t, limited(t, l))

	// 其他客户端不受影响
	other, err := l.IsLimited(ctx, "198.51.100.2")
	require.NoError(t, err)
	assert.False(t, other)
}

func TestDBLimiter_WindowExpiry(t *testing.T) {
	clk := newClock()
	l := NewDBLimiter(storetest.Open(t), Policy{}).WithClock(clk.now)
	ctx := context.Background()

	for i := 0; i < DefaultMaxAttempts; i++ {
		require.NoError(t, l.RecordFailure(ctx, "203.0.113.7"))
	}
	clk.advance(DefaultWindow - time.Second)
	assert.True(t, limited(t, l))

	clk.advance(2 * time.Second)
	assert.False(t, limited(t, l))
	n, err := l.Attempts(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDBLimiter_FailureAfterWindowStartsFresh(t *testing.T) {
	clk := newClock()
	l := NewDBLimiter(storetest.Open(t), Policy{MaxAttempts: 3, Window: time.Minute}).WithClock(clk.now)
	ctx := context.Background()

	require.NoError(t, l.RecordFailure(ctx, "id"))
	require.NoError(t, l.RecordFailure(ctx, "id"))
	clk.advance(2 * time.Minute)
	require.NoError(t, l.RecordFailure(ctx, "id"))

	n, err := l.Attempts(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDBLimiter_Reset(t *testing.T) {
	clk := newClock()
	l := NewDBLimiter(storetest.Open(t), Policy{}).WithClock(clk.now)
	ctx := context.Background()

	for i := 0; i < DefaultMaxAttempts; i++ {
		require.NoError(t, l.RecordFailure(ctx, "203.0.113.7"))
	}
	require.NoError(t, l.Reset(ctx, "203.0.113.7"))
	assert.False(t, limited(t, l))
	// 不存在的记录 reset 也不报错
	require.NoError(t, l.Reset(ctx, "nobody"))
}

func TestDBLimiter_Purge(t *testing.T) {
	clk := newClock()
	l := NewDBLimiter(storetest.Open(t), Policy{Window: time.Minute}).WithClock(clk.now)
	ctx := context.Background()

	require.NoError(t, l.RecordFailure(ctx, "old"))
	clk.advance(2 * time.Minute)
	require.NoError(t, l.RecordFailure(ctx, "fresh"))

	n, err := l.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	left, err := l.Attempts(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, left)
	gone, err := l.Attempts(ctx, "old")
	require.NoError(t, err)
	assert.Zero(t, gone)
}

func TestPolicyDefaults(t *testing.T) {
	p := Policy{}.withDefaults()
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts)
	assert.Equal(t, DefaultWindow, p.Window)
	assert.Equal(t, Policy{MaxAttempts: 2, Window: time.Second}, Policy{MaxAttempts: 2, Window: time.Second}.withDefaults())
}
