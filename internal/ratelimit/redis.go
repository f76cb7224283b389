package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes atomically on the Redis side.
// KEYS[1] bucket hash; ARGV limit, period_ms, now_ms.
// Returns 1 when a token was consumed, 0 when denied.
var tokenBucketScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local period = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
	tokens = limit
	ts = now
end

local elapsed = now - ts
if elapsed > 0 then
	tokens = math.min(limit, tokens + elapsed * limit / period)
	ts = now
end

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], period * 2)
return allowed
`)

// RedisLimiter shares buckets across instances.
type RedisLimiter struct {
	client *redis.Client
	rules  Rules
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, rules Rules) *RedisLimiter {
	return &RedisLimiter{client: client, rules: rules, prefix: "warden:rl:", now: time.Now}
}

func (r *RedisLimiter) CheckRate(ctx context.Context, key, kind string) (bool, error) {
	rule := r.rules.For(kind)
	if rule.Limit <= 0 {
		return true, nil
	}
	res, err := tokenBucketScript.Run(ctx, r.client,
		[]string{r.prefix + bucketKey(key, kind)},
		rule.Limit, rule.Period.Milliseconds(), r.now().UnixMilli(),
	).Int()
	if err != nil {
		return true, fmt.Errorf("running token bucket script: %w", err)
	}
	return res == 1, nil
}

// Close is a no-op; the client is shared and closed by main.
func (r *RedisLimiter) Close() error {
	return nil
}
