package ratelimiter

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter is the in-process Limiter used when no Redis is configured.
type LocalLimiter struct {
	mu       sync.Mutex
	buckets  map[string]BucketConfig
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// NewLocalLimiter builds one rate.Limiter per configured bucket.
func NewLocalLimiter(buckets map[string]BucketConfig) *LocalLimiter {
	l := &LocalLimiter{
		buckets:  map[string]BucketConfig{},
		limiters: map[string]*rate.Limiter{},
		now:      time.Now,
	}
	for k, cfg := range buckets {
		l.SetBucketConfig(k, cfg)
	}
	return l
}

// SetBucketConfig replaces key's bucket, starting it full.
func (l *LocalLimiter) SetBucketConfig(key string, cfg BucketConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !cfg.valid() {
		delete(l.buckets, key)
		delete(l.limiters, key)
		return
	}
	l.buckets[key] = cfg
	l.limiters[key] = rate.NewLimiter(rate.Limit(cfg.RefillRate), int(cfg.Capacity))
}

func (l *LocalLimiter) limiter(key string) (*rate.Limiter, BucketConfig, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	return lim, l.buckets[key], ok
}

// Allow consumes cost tokens from key's bucket.
func (l *LocalLimiter) Allow(_ context.Context, key string, cost int64) (bool, time.Duration, error) {
	lim, _, ok := l.limiter(key)
	if !ok {
		return true, 0, nil
	}
	if cost <= 0 {
		cost = 1
	}
	now := l.now()
	if lim.AllowN(now, int(cost)) {
		return true, 0, nil
	}
	return false, retryAfter(lim, now, float64(cost)), nil
}

// Peek reports the bucket without consuming tokens.
func (l *LocalLimiter) Peek(_ context.Context, key string) (Status, error) {
	lim, cfg, ok := l.limiter(key)
	if !ok {
		return Status{Unlimited: true}, nil
	}
	now := l.now()
	st := Status{
		Tokens:   int64(math.Floor(math.Max(0, lim.TokensAt(now)))),
		Capacity: cfg.Capacity,
	}
	if st.Tokens < 1 {
		st.RetryAfter = retryAfter(lim, now, 1)
	}
	return st, nil
}

func retryAfter(lim *rate.Limiter, now time.Time, need float64) time.Duration {
	shortage := need - lim.TokensAt(now)
	if shortage <= 0 || lim.Limit() <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(shortage / float64(lim.Limit()) * float64(time.Second)))
}
