package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestCalculateBackoffDelay_NoJitterIsExact(t *testing.T) {
	o := Options{InitialDelay: 100 * time.Millisecond, Factor: 2, MaxDelay: 30 * time.Second}
	for attempt, want := range []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	} {
		assert.Equal(t, want, CalculateBackoffDelay(attempt, o), "attempt %d", attempt)
	}
}

func TestCalculateBackoffDelay_NeverExceedsCap(t *testing.T) {
	o := Options{InitialDelay: time.Second, Factor: 2, MaxDelay: 30 * time.Second, Jitter: true, Rand: func() float64 { return 0.999 }}
	for attempt := 0; attempt < 200; attempt++ {
		d := CalculateBackoffDelay(attempt, o)
		require.LessOrEqual(t, d, 30*time.Second, "attempt %d", attempt)
		require.Greater(t, d, time.Duration(0))
	}
	assert.Equal(t, 30*time.Second, CalculateBackoffDelay(1000, o))
}

func TestCalculateBackoffDelay_JitterRange(t *testing.T) {
	base := Options{InitialDelay: time.Second, Factor: 2, MaxDelay: time.Minute, Jitter: true}

	low := base
	low.Rand = func() float64 { return 0 }
	assert.Equal(t, 2*time.Second, CalculateBackoffDelay(1, low))

	high := base
	high.Rand = func() float64 { return 0.99 }
	d := CalculateBackoffDelay(1, high)
	assert.GreaterOrEqual(t, d, 2*time.Second)
	assert.Less(t, d, time.Duration(float64(2*time.Second)*1.3))
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	const failures = 2
	calls := 0
	var retried []int
	var delays []time.Duration

	v, err := Do(context.Background(), Options{
		MaxAttempts:  4,
		InitialDelay: 10 * time.Millisecond,
		Factor:       2,
		Sleep:        noSleep,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			retried = append(retried, attempt)
			delays = append(delays, delay)
		},
	}, func(ctx context.Context, attempt int) (string, error) {
		calls++
		if calls <= failures {
			return "", errors.New("transient")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, failures+1, calls)
	assert.Equal(t, []int{1, 2}, retried)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestDo_ExhaustsAndReturnsLastError(t *testing.T) {
	slept := 0
	calls := 0
	_, err := Do(context.Background(), Options{
		MaxAttempts: 3,
		Sleep: func(context.Context, time.Duration) error {
			slept++
			return nil
		},
	}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errors.New("fail " + string(rune('0'+attempt)))
	})

	require.EqualError(t, err, "fail 3")
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, slept, "no delay after the final attempt")
}

func TestDo_ShouldRetryStopsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	_, err := Do(context.Background(), Options{
		MaxAttempts: 5,
		Sleep:       noSleep,
		ShouldRetry: func(err error) bool { return !errors.Is(err, permanent) },
	}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_OnAttemptNumbersIncrease(t *testing.T) {
	var seen []int
	_, _ = Do(context.Background(), Options{
		MaxAttempts: 3,
		Sleep:       noSleep,
		OnAttempt:   func(a int) { seen = append(seen, a) },
	}, func(ctx context.Context, attempt int) (int, error) {
		return 0, errors.New("x")
	})
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	boom := errors.New("boom")
	calls := 0
	_, err := Do(ctx, Options{
		MaxAttempts:  5,
		InitialDelay: time.Hour,
		OnRetry:      func(int, error, time.Duration) { cancel() },
	}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
