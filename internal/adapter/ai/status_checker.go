package ai

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
	"github.com/fairyhunter13/ai-product-analyzer/internal/service/ratelimiter"
)

// UnknownRemaining is reported when a model has no token bucket.
const UnknownRemaining = -1

// StatusChecker answers rate-limit checks by combining the block cache, the
// circuit breakers and the token buckets. It also implements
// domain.CallReporter so call outcomes flow back into those stores.
type StatusChecker struct {
	cache    *RateLimitCache
	breakers *CircuitBreakerManager
	limiter  ratelimiter.Limiter
	now      func() time.Time
}

// NewStatusChecker wires the three stores. limiter may be nil.
func NewStatusChecker(cache *RateLimitCache, breakers *CircuitBreakerManager, limiter ratelimiter.Limiter) *StatusChecker {
	return &StatusChecker{
		cache:    cache,
		breakers: breakers,
		limiter:  limiter,
		now:      time.Now,
	}
}

var (
	_ domain.RateLimitChecker = (*StatusChecker)(nil)
	_ domain.CallReporter     = (*StatusChecker)(nil)
)

// Check reports whether model is limited. ResetTime is the latest instant
// any of the stores will unblock it. Check only reads state.
func (s *StatusChecker) Check(ctx context.Context, model string) (domain.RateLimitStatus, error) {
	st := domain.RateLimitStatus{Remaining: UnknownRemaining}
	var reset time.Time
	extend := func(t time.Time) {
		st.Limited = true
		if t.After(reset) {
			reset = t
		}
	}

	if until, blocked := s.cache.BlockedUntil(model); blocked {
		extend(until)
	}
	if until, open := s.breakers.OpenUntil(model); open {
		extend(until)
	}
	if s.limiter != nil {
		bucket, err := s.limiter.Peek(ctx, model)
		switch {
		case err != nil:
			// fail open
			observability.LoggerFromContext(ctx).Warn("token bucket peek failed",
				slog.String("model", model), slog.Any("error", err))
		case !bucket.Unlimited:
			st.Remaining = int(bucket.Tokens)
			if bucket.Exhausted() {
				extend(s.now().Add(bucket.RetryAfter))
			}
		}
	}

	if st.Limited {
		st.ResetTime = &reset
	}
	return st, nil
}

// ReportSuccess clears block and breaker state for model.
func (s *StatusChecker) ReportSuccess(model string) {
	s.cache.RecordSuccess(model)
	s.breakers.GetBreaker(model).RecordSuccess()
}

// ReportFailure counts a non rate-limit failure against model's breaker and
// its soft-failure streak in the block cache.
func (s *StatusChecker) ReportFailure(model string, err error) {
	slog.Debug("recording model failure", slog.String("model", model), slog.Any("error", err))
	s.breakers.GetBreaker(model).RecordFailure()
	s.cache.RecordFailure(model)
}

// ReportRateLimit blocks model for retryAfter, or the cache default.
func (s *StatusChecker) ReportRateLimit(model string, retryAfter time.Duration) {
	s.cache.RecordRateLimit(model, retryAfter)
}

// ModelHealth is the usage_stats view of one model.
type ModelHealth struct {
	Status    domain.RateLimitStatus `json:"status"`
	RateLimit *RateLimitStats        `json:"rateLimit,omitempty"`
	Circuit   *CircuitStats          `json:"circuit,omitempty"`
}

// Unavailable lists the models blocked in the cache and those whose breaker
// is open, each sorted.
func (s *StatusChecker) Unavailable() (blocked, open []string) {
	return s.cache.GetBlockedModels(), s.breakers.GetOpenModels()
}

// Snapshot returns the health of every model in models.
func (s *StatusChecker) Snapshot(ctx context.Context, models []string) map[string]ModelHealth {
	rl := s.cache.GetAllStats()
	cb := s.breakers.GetAllStats()
	out := make(map[string]ModelHealth, len(models))
	for _, model := range models {
		st, _ := s.Check(ctx, model)
		h := ModelHealth{Status: st}
		if v, ok := rl[model]; ok {
			h.RateLimit = &v
		}
		if v, ok := cb[model]; ok {
			h.Circuit = &v
		}
		out[model] = h
	}
	return out
}
