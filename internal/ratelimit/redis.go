package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript atomically refills and consumes a token bucket.
// Two keys per bucket: the token count and the last-refill timestamp.
// Returns: [allowed (0/1), remaining].
var tokenBucketScript = redis.NewScript(`
local tokens_key = KEYS[1]
local ts_key = KEYS[2]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local tokens = tonumber(redis.call('GET', tokens_key))
if tokens == nil then
    tokens = capacity
end
local last = tonumber(redis.call('GET', ts_key))
if last == nil then
    last = now
end

local delta = now - last
if delta < 0 then
    delta = 0
end
tokens = tokens + (delta * rate / 1000)
if tokens > capacity then
    tokens = capacity
end

local allowed = 0
if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
end

redis.call('SET', tokens_key, tokens, 'EX', ttl)
redis.call('SET', ts_key, now, 'EX', ttl)

return { allowed, math.floor(tokens) }
`)

// RedisLimiter is a distributed token bucket shared across instances.
type RedisLimiter struct {
	client    *redis.Client
	prefix    string
	rate      int
	capacity  int
	ttl       time.Duration
	opTimeout time.Duration
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, s Settings) *RedisLimiter {
	ttl := s.BucketTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLimiter{
		client:    client,
		prefix:    "gw:rl:",
		rate:      s.Replenish,
		capacity:  s.Burst,
		ttl:       ttl,
		opTimeout: 100 * time.Millisecond,
	}
}

// Allow runs the bucket script for the key. Errors surface to the
// caller, which fails open.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, rl.opTimeout)
	defer cancel()

	tokensKey := rl.prefix + key + ":tokens"
	tsKey := rl.prefix + key + ":ts"

	result, err := tokenBucketScript.Run(ctx, rl.client,
		[]string{tokensKey, tsKey},
		rl.rate,
		rl.capacity,
		time.Now().UnixMilli(),
		1,
		int(rl.ttl.Seconds()),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit store: %w", err)
	}
	if len(result) != 2 {
		return Decision{}, fmt.Errorf("rate limit store: unexpected script reply")
	}

	return Decision{
		Allowed:   result[0] == 1,
		Remaining: int(result[1]),
	}, nil
}
