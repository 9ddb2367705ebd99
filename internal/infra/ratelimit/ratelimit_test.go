package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemory_DeniesSixthRequestInWindow(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	m := NewMemory(60*time.Second, 5).WithClock(clk.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := m.Limit(ctx, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, 5-(i+1), res.Remaining)
		clk.Advance(time.Second)
	}

	res, err := m.Limit(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 5, res.Limit)
	// oldest request at t0 leaves the window at t0+60s; now is t0+5s
	assert.Equal(t, 55, res.RetryAfter(clk.Now()))

	other, _ := m.Limit(ctx, "10.0.0.2")
	assert.True(t, other.Allowed, "clients are limited independently")
}

func TestMemory_AllowsAfterWindowElapses(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	m := NewMemory(60*time.Second, 5).WithClock(clk.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = m.Limit(ctx, "c")
	}
	res, _ := m.Limit(ctx, "c")
	require.False(t, res.Allowed)

	clk.Advance(61 * time.Second)
	res, err := m.Limit(ctx, "c")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}

func TestMemory_DeniedRequestsDoNotExtendWindow(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	m := NewMemory(10*time.Second, 1).WithClock(clk.Now)
	ctx := context.Background()

	_, _ = m.Limit(ctx, "c")
	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		res, _ := m.Limit(ctx, "c")
		require.False(t, res.Allowed)
	}
	clk.Advance(5 * time.Second)
	res, _ := m.Limit(ctx, "c")
	assert.True(t, res.Allowed)
}

func TestMemory_SweepRemovesIdleClients(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	m := NewMemory(time.Minute, 5).WithClock(clk.Now)
	ctx := context.Background()

	_, _ = m.Limit(ctx, "idle")
	clk.Advance(50 * time.Second)
	_, _ = m.Limit(ctx, "busy")
	clk.Advance(20 * time.Second)

	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, m.Clients())
}

func TestResult_RetryAfterAtLeastOneSecond(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 1, Result{ResetAt: now}.RetryAfter(now))
	assert.Equal(t, 1, Result{ResetAt: now.Add(-time.Second)}.RetryAfter(now))
	assert.Equal(t, 2, Result{ResetAt: now.Add(1500 * time.Millisecond)}.RetryAfter(now))
}

type failingStrategy struct{ calls int }

func (f *failingStrategy) Name() string { return "redis" }
func (f *failingStrategy) Limit(context.Context, string) (Result, error) {
	f.calls++
	return Result{}, errors.New("dial tcp: connection refused")
}

type fixedStrategy struct{ res Result }

func (f fixedStrategy) Name() string { return "fixed" }
func (f fixedStrategy) Limit(context.Context, string) (Result, error) {
	return f.res, nil
}

func TestFallback_UsesLocalWhenPrimaryFails(t *testing.T) {
	primary := &failingStrategy{}
	local := NewMemory(time.Minute, 2)
	f := NewFallback(primary, local, nil)
	ctx := context.Background()

	r1, err := f.Limit(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, r1.Allowed)
	r2, _ := f.Limit(ctx, "ip")
	assert.True(t, r2.Allowed)
	r3, _ := f.Limit(ctx, "ip")
	assert.False(t, r3.Allowed, "local window still enforces the limit")
	assert.Equal(t, 3, primary.calls, "primary is retried on every request")
}

func TestFallback_PrefersPrimary(t *testing.T) {
	want := Result{Allowed: false, Limit: 9, Remaining: 0, ResetAt: time.Unix(10, 0)}
	f := NewFallback(fixedStrategy{res: want}, NewMemory(time.Minute, 100), nil)
	got, err := f.Limit(context.Background(), "ip")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, "fixed", f.Name())
}
