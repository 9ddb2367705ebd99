// File: internal/infra/redis/sliding_window.go
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"splitmate-scan/internal/infra/metrics"
	"splitmate-scan/internal/infra/ratelimit"
)

var _ ratelimit.Strategy = (*SlidingWindowLimiter)(nil)

// Prunes, counts and conditionally records in one round trip so concurrent
// instances agree on the window. Returns {allowed, count, resetMs}.
var luaSlidingWindow = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
local allowed = 0
if count < limit then
	redis.call("ZADD", key, now, member)
	count = count + 1
	allowed = 1
end
redis.call("PEXPIRE", key, window)

local reset = now + window
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}`)

// SlidingWindowLimiter keeps one sorted set of request timestamps per client.
type SlidingWindowLimiter struct {
	client RedisClient
	window time.Duration
	max    int
	prefix string
	now    func() time.Time
}

func NewSlidingWindowLimiter(client RedisClient, window time.Duration, maxRequests int) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		client: client,
		window: window,
		max:    maxRequests,
		prefix: "rate_limit:scan:",
		now:    time.Now,
	}
}

func (l *SlidingWindowLimiter) Name() string { return "redis" }

func RateLimitKey(prefix, clientID string) string {
	return prefix + clientID
}

func (l *SlidingWindowLimiter) Limit(ctx context.Context, clientID string) (ratelimit.Result, error) {
	nowMs := l.now().UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	raw, err := l.client.RunScript(ctx, luaSlidingWindow,
		[]string{RateLimitKey(l.prefix, clientID)},
		nowMs, l.window.Milliseconds(), l.max, member)
	if err != nil {
		return ratelimit.Result{}, fmt.Errorf("sliding window script: %w", err)
	}
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return ratelimit.Result{}, fmt.Errorf("sliding window script: unexpected reply %T", raw)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	resetMs, _ := vals[2].(int64)

	res := ratelimit.Result{
		Allowed:   allowed == 1,
		Limit:     l.max,
		Remaining: max(l.max-int(count), 0),
		ResetAt:   time.UnixMilli(resetMs),
	}
	metrics.IncRateLimitDecision(l.Name(), res.Allowed)
	return res, nil
}
