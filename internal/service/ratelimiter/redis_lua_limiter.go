package ratelimiter

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLuaLimiter keeps one token bucket per key in a Redis hash and updates
// it atomically with a Lua script, so several analyzer processes share limits.
type RedisLuaLimiter struct {
	redis   redis.Scripter
	buckets map[string]BucketConfig
	script  *redis.Script
	prefix  string
	now     func() time.Time
	mu      sync.RWMutex
}

// NewRedisLuaLimiter returns nil when rdb is nil; a nil limiter allows everything.
func NewRedisLuaLimiter(rdb redis.Scripter, buckets map[string]BucketConfig) *RedisLuaLimiter {
	if rdb == nil {
		return nil
	}
	if buckets == nil {
		buckets = map[string]BucketConfig{}
	}
	return &RedisLuaLimiter{
		redis:   rdb,
		buckets: buckets,
		script:  redis.NewScript(luaTokenBucketScript),
		prefix:  "analyzer:rate:",
		now:     time.Now,
	}
}

// Redis truncates Lua numbers to integers in replies, so tokens are returned
// floored and retry_after in whole milliseconds. ARGV[5] == "1" peeks: the
// bucket is refilled in memory only and nothing is written.
const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local peek = ARGV[5] == "1"
local ttl = ARGV[6]

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end
if last_refill == nil then
  last_refill = now
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end
tokens = math.min(capacity, tokens + delta * refill_rate)

local need = cost
if peek or need < 1 then
  need = 1
end

local allowed = 0
local retry_ms = 0
if tokens >= need then
  allowed = 1
  if not peek then
    tokens = tokens - cost
  end
elseif refill_rate > 0 then
  retry_ms = math.ceil((need - tokens) / refill_rate * 1000)
end

if not peek then
  redis.call("HSET", key, "tokens", tostring(tokens), "last_refill", tostring(now))
  redis.call("EXPIRE", key, ttl)
end

return { allowed, math.floor(tokens), retry_ms }
`

func (l *RedisLuaLimiter) bucket(key string) (BucketConfig, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg, ok := l.buckets[key]
	return cfg, ok && cfg.valid()
}

func (l *RedisLuaLimiter) run(ctx context.Context, key string, cfg BucketConfig, cost int64, peek bool) (allowed bool, tokens int64, retryAfter time.Duration, err error) {
	nowSec := float64(l.now().UnixNano()) / 1e9
	peekArg := "0"
	if peek {
		peekArg = "1"
	}
	res, err := l.script.Run(ctx, l.redis, []string{l.prefix + key}, cfg.Capacity, cfg.RefillRate, nowSec, cost, peekArg, bucketTTL(cfg)).Int64Slice()
	if err != nil {
		return false, 0, 0, err
	}
	if len(res) < 3 {
		slog.Error("redis rate limiter unexpected script result", slog.String("key", key), slog.Any("result", res))
		return true, cfg.Capacity, 0, nil
	}
	return res[0] == 1, res[1], time.Duration(res[2]) * time.Millisecond, nil
}

// bucketTTL is twice the time an empty bucket takes to refill, capped at a week.
func bucketTTL(cfg BucketConfig) int64 {
	ttl := int64(math.Ceil(float64(cfg.Capacity)/cfg.RefillRate))*2 + 1
	if ttl > 7*24*3600 || ttl <= 0 {
		ttl = 7 * 24 * 3600
	}
	return ttl
}

// Allow consumes cost tokens. Redis errors fail open and are returned for logging.
func (l *RedisLuaLimiter) Allow(ctx context.Context, key string, cost int64) (bool, time.Duration, error) {
	if l == nil || l.redis == nil {
		return true, 0, nil
	}
	cfg, ok := l.bucket(key)
	if !ok {
		return true, 0, nil
	}
	if cost <= 0 {
		cost = 1
	}
	allowed, _, retryAfter, err := l.run(ctx, key, cfg, cost, false)
	if err != nil {
		slog.Error("redis rate limiter script error", slog.String("key", key), slog.Any("error", err))
		return true, 0, err
	}
	return allowed, retryAfter, nil
}

// Peek reads the bucket without consuming. Redis errors report the bucket as
// full so that a broken Redis never blocks calls.
func (l *RedisLuaLimiter) Peek(ctx context.Context, key string) (Status, error) {
	if l == nil || l.redis == nil {
		return Status{Unlimited: true}, nil
	}
	cfg, ok := l.bucket(key)
	if !ok {
		return Status{Unlimited: true}, nil
	}
	_, tokens, retryAfter, err := l.run(ctx, key, cfg, 0, true)
	if err != nil {
		slog.Error("redis rate limiter peek error", slog.String("key", key), slog.Any("error", err))
		return Status{Tokens: cfg.Capacity, Capacity: cfg.Capacity}, err
	}
	return Status{Tokens: tokens, Capacity: cfg.Capacity, RetryAfter: retryAfter}, nil
}

// SetBucketConfig updates or creates the bucket configuration for key.
// It is safe for concurrent use.
func (l *RedisLuaLimiter) SetBucketConfig(key string, cfg BucketConfig) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buckets == nil {
		l.buckets = map[string]BucketConfig{}
	}
	l.buckets[key] = cfg
}
