// Package usage keeps in-memory per-model call and token counters.
package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
	"github.com/fairyhunter13/ai-product-analyzer/internal/service/ratelimiter"
)

// ModelUsage are the counters of one backend since process start.
type ModelUsage struct {
	Calls            int64     `json:"calls"`
	PromptTokens     int64     `json:"promptTokens"`
	CompletionTokens int64     `json:"completionTokens"`
	LastUsed         time.Time `json:"lastUsed"`
}

// Tracker implements domain.UsageRecorder. Each recorded call also consumes
// one token from the model's bucket so rate-limit checks see real traffic.
type Tracker struct {
	mu      sync.Mutex
	byModel map[string]*ModelUsage
	counter *tokencount.Counter
	limiter ratelimiter.Limiter
	now     func() time.Time
}

var _ domain.UsageRecorder = (*Tracker)(nil)

// NewTracker creates a tracker. counter defaults to tokencount.DefaultCounter;
// limiter may be nil.
func NewTracker(counter *tokencount.Counter, limiter ratelimiter.Limiter) *Tracker {
	if counter == nil {
		counter = tokencount.DefaultCounter
	}
	return &Tracker{
		byModel: make(map[string]*ModelUsage),
		counter: counter,
		limiter: limiter,
		now:     time.Now,
	}
}

// RecordUsage counts one successful call of model.
func (t *Tracker) RecordUsage(ctx context.Context, model, prompt, completion string) {
	u := t.counter.CalculateUsage(prompt, completion)

	t.mu.Lock()
	m, ok := t.byModel[model]
	if !ok {
		m = &ModelUsage{}
		t.byModel[model] = m
	}
	m.Calls++
	m.PromptTokens += int64(u.PromptTokens)
	m.CompletionTokens += int64(u.CompletionTokens)
	m.LastUsed = t.now()
	t.mu.Unlock()

	observability.ObserveTokens(model, u.PromptTokens, u.CompletionTokens)

	if t.limiter == nil {
		return
	}
	allowed, retryAfter, err := t.limiter.Allow(ctx, model, 1)
	lg := observability.LoggerFromContext(ctx)
	if err != nil {
		lg.Warn("token bucket update failed", slog.String("model", model), slog.Any("error", err))
		return
	}
	if !allowed {
		lg.Debug("token bucket exhausted by recorded call",
			slog.String("model", model),
			slog.Duration("retry_after", retryAfter))
	}
}

// Snapshot returns a copy of all counters.
func (t *Tracker) Snapshot() map[string]ModelUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]ModelUsage, len(t.byModel))
	for model, m := range t.byModel {
		out[model] = *m
	}
	return out
}
