// Package ratelimit throttles clients with a sliding window over their recent
// requests.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// Strategy decides whether one more request from clientID fits its window.
type Strategy interface {
	Limit(ctx context.Context, clientID string) (Result, error)
	Name() string
}

// Result is the outcome of one Limit call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time // when the oldest counted request leaves the window
}

// RetryAfter is the whole number of seconds until a denied client may retry,
// never below one.
func (r Result) RetryAfter(now time.Time) int {
	s := int(math.Ceil(r.ResetAt.Sub(now).Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
