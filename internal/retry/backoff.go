// Package retry runs an operation with bounded attempts and exponential
// backoff plus jitter.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = time.Second
	DefaultFactor       = 2.0
	DefaultMaxDelay     = 30 * time.Second
	// JitterRatio bounds the random extra delay: [0, JitterRatio) of the base.
	JitterRatio = 0.3
)

// Options configures Do. Zero values fall back to the defaults above.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	Jitter       bool

	// ShouldRetry decides whether a failed attempt may be retried. Nil retries
	// everything.
	ShouldRetry func(err error) bool
	// OnAttempt fires before every attempt, 1-based.
	OnAttempt func(attempt int)
	// OnRetry fires after a failed attempt that will be retried, with the
	// 1-based number of the failed attempt and the delay about to be slept.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Rand returns a value in [0,1); Sleep waits or returns ctx.Err(). Both
	// exist so tests can run without wall-clock delays.
	Rand  func() float64
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.Factor <= 0 {
		o.Factor = DefaultFactor
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	if o.Sleep == nil {
		o.Sleep = SleepContext
	}
	return o
}

// CalculateBackoffDelay returns InitialDelay × Factor^attempt (attempt is
// 0-based), plus up to 30% jitter when enabled, never above MaxDelay.
func CalculateBackoffDelay(attempt int, o Options) time.Duration {
	o = o.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	base := float64(o.InitialDelay) * math.Pow(o.Factor, float64(attempt))
	if o.Jitter {
		base += base * JitterRatio * o.Rand()
	}
	if math.IsInf(base, 0) || math.IsNaN(base) || base > float64(o.MaxDelay) {
		return o.MaxDelay
	}
	return time.Duration(base)
}

// Do calls fn until it succeeds, ShouldRetry rejects the error, attempts run
// out or ctx ends. It never sleeps after the final attempt. The returned
// error is the last one fn produced (or ctx.Err() when cancelled while
// waiting).
func Do[T any](ctx context.Context, o Options, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	o = o.withDefaults()
	var zero T
	var lastErr error
	for attempt := 1; attempt <= o.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}
		if o.OnAttempt != nil {
			o.OnAttempt(attempt)
		}
		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if o.ShouldRetry != nil && !o.ShouldRetry(err) {
			return zero, err
		}
		if attempt == o.MaxAttempts {
			break
		}
		delay := CalculateBackoffDelay(attempt-1, o)
		if o.OnRetry != nil {
			o.OnRetry(attempt, err, delay)
		}
		if serr := o.Sleep(ctx, delay); serr != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// SleepContext waits d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
