package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes, counts and records in one round trip so two
// instances racing on the same key cannot both take the last slot.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now_ms - window_ms)
local count = redis.call("ZCARD", key)

local allowed = 0
if count < limit then
  redis.call("ZADD", key, now_ms, member)
  allowed = 1
end
redis.call("PEXPIRE", key, window_ms)

local reset_ms = now_ms + window_ms
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if oldest and oldest[2] then
  reset_ms = tonumber(oldest[2]) + window_ms
end
return {allowed, count, reset_ms}
`)

// RedisLimiter keeps one sorted set of attempt timestamps per (email, kind)
// so every instance shares the same budget. Keys expire after one window.
type RedisLimiter struct {
	client   redis.UniversalClient
	prefix   string
	policies Policies
	now      func() time.Time
}

type RedisOption func(*RedisLimiter)

// WithRedisClock sets the clock used to score attempts.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(l *RedisLimiter) { l.now = now }
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, policies Policies, opts ...RedisOption) *RedisLimiter {
	if prefix == "" {
		prefix = "otp-rl"
	}
	l := &RedisLimiter{
		client:   client,
		prefix:   prefix,
		policies: policies,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLimiter) Check(ctx context.Context, email string, kind Kind) (Decision, error) {
	pol, err := l.policies.lookup(kind)
	if err != nil {
		return Decision{}, err
	}
	if l.client == nil {
		return Decision{}, fmt.Errorf("redis client is nil")
	}
	now := l.now()
	nowMS := now.UnixMilli()
	storeKey := fmt.Sprintf("%s:%s:%s", l.prefix, kind, normalize(email))

	raw, err := slidingWindowScript.Run(ctx, l.client,
		[]string{storeKey},
		nowMS,
		pol.Window.Milliseconds(),
		pol.Max,
		fmt.Sprintf("%d-%s", nowMS, uuid.NewString()),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("unexpected redis script response type")
	}

	allowedInt, err := parseRedisInt64(values[0])
	if err != nil {
		return Decision{}, err
	}
	count, err := parseRedisInt64(values[1])
	if err != nil {
		return Decision{}, err
	}
	resetMS, err := parseRedisInt64(values[2])
	if err != nil {
		return Decision{}, err
	}
	allowed := allowedInt == 1
	return Decision{
		Allowed:   allowed,
		Remaining: remaining(pol.Max, int(count), allowed),
		ResetAt:   time.UnixMilli(resetMS),
	}, nil
}

func parseRedisInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("redis response overflows int64")
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected redis response type %T", v)
	}
}
