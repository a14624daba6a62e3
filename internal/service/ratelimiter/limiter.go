// Package ratelimiter provides per-model token buckets, backed by Redis when
// available and by an in-process limiter otherwise.
package ratelimiter

import (
	"context"
	"time"
)

// Limiter is a keyed token bucket.
type Limiter interface {
	// Allow consumes cost tokens from key's bucket when available.
	Allow(ctx context.Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error)
	// Peek reports the bucket state without consuming tokens.
	Peek(ctx context.Context, key string) (Status, error)
}

// Status is a bucket snapshot. Unlimited is set for keys without a
// configured bucket.
type Status struct {
	Unlimited  bool
	Tokens     int64
	Capacity   int64
	RetryAfter time.Duration
}

// Exhausted reports whether the next call of cost one would be refused.
func (s Status) Exhausted() bool {
	return !s.Unlimited && s.Tokens < 1
}

// BucketConfig sizes one token bucket. RefillRate is in tokens per second.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64
}

func (c BucketConfig) valid() bool {
	return c.Capacity > 0 && c.RefillRate > 0
}

// NewBucketConfigFromPerMinute returns a bucket holding perMinute tokens that
// refills fully once a minute. A non-positive perMinute yields a disabled bucket.
func NewBucketConfigFromPerMinute(perMinute int) BucketConfig {
	if perMinute <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{
		Capacity:   int64(perMinute),
		RefillRate: float64(perMinute) / 60.0,
	}
}

// BucketsFor gives every key the same per-minute bucket.
func BucketsFor(keys []string, perMinute int) map[string]BucketConfig {
	cfg := NewBucketConfigFromPerMinute(perMinute)
	out := make(map[string]BucketConfig, len(keys))
	if !cfg.valid() {
		return out
	}
	for _, k := range keys {
		out[k] = cfg
	}
	return out
}
