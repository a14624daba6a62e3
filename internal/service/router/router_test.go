package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/ai"
	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-product-analyzer/internal/config"
	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
)

type fakeChecker struct {
	mu          sync.Mutex
	limited     map[string]domain.RateLimitStatus
	successes   []string
	failures    []string
	rateLimited map[string]time.Duration
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{limited: map[string]domain.RateLimitStatus{}, rateLimited: map[string]time.Duration{}}
}

func (f *fakeChecker) limit(model string, reset *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limited[model] = domain.RateLimitStatus{Limited: true, ResetTime: reset}
}

func (f *fakeChecker) Check(_ context.Context, model string) (domain.RateLimitStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limited[model], nil
}

func (f *fakeChecker) ReportSuccess(model string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, model)
}

func (f *fakeChecker) ReportFailure(model string, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, model)
}

func (f *fakeChecker) ReportRateLimit(model string, retryAfter time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rateLimited[model] = retryAfter
	f.limited[model] = domain.RateLimitStatus{Limited: true}
}

type usageLog struct {
	mu     sync.Mutex
	models []string
}

func (u *usageLog) RecordUsage(_ context.Context, model, _, _ string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.models = append(u.models, model)
}

type fixture struct {
	client  *stub.Client
	checker *fakeChecker
	usage   *usageLog
	router  *Router
}

func newFixture(t *testing.T, keys map[string]string, opts Options) fixture {
	t.Helper()
	if keys == nil {
		keys = map[string]string{"gemini-flash": "k1", "gemini-pro": "k2", "gemini-25": "k3"}
	}
	f := fixture{client: stub.New(), checker: newFakeChecker(), usage: &usageLog{}}
	f.router = New(Deps{
		Client:      f.client,
		Checker:     f.checker,
		Reporter:    f.checker,
		Credentials: ai.NewCredentials(keys),
		Usage:       f.usage,
		Fallbacks:   config.DefaultModels(),
	}, opts)
	return f
}

func TestCall_ServesRequestedModel(t *testing.T) {
	f := newFixture(t, nil, Options{})
	reply := f.router.Call(context.Background(), "gemini-flash", "hello")

	assert.True(t, reply.Served)
	assert.Equal(t, "gemini-flash", reply.Model)
	assert.Equal(t, "Response from gemini-flash: hello...", reply.Text)
	assert.Equal(t, []string{"gemini-flash"}, reply.Attempted)
	assert.Equal(t, []string{"gemini-flash"}, f.checker.successes)
	assert.Equal(t, []string{"gemini-flash"}, f.usage.models)

	calls := f.client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "k1", calls[0].APIKey)
}

func TestCall_MissingCredential(t *testing.T) {
	f := newFixture(t, map[string]string{"gemini-flash": "k1"}, Options{})
	reply := f.router.Call(context.Background(), "gemini-pro", "hello")

	assert.False(t, reply.Served)
	assert.Equal(t, "Error: API key for gemini-pro is not configured", reply.Text)
	assert.Empty(t, f.client.Calls())
	assert.Empty(t, f.usage.models)
}

func TestCall_LimitedFallsBackToAlternate(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.checker.limit("gemini-flash", nil)

	reply := f.router.Call(context.Background(), "gemini-flash", "hello")
	assert.True(t, reply.Served)
	assert.Equal(t, "gemini-25", reply.Model)
	assert.Equal(t, "Response from gemini-25: hello...", reply.Text)
	assert.Equal(t, []string{"gemini-flash", "gemini-25"}, reply.Attempted)
	assert.Equal(t, []string{"gemini-25"}, f.usage.models)
}

func TestCall_SkipsLimitedAlternates(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.checker.limit("gemini-pro", nil)
	f.checker.limit("gemini-flash", nil)

	reply := f.router.Call(context.Background(), "gemini-pro", "x")
	assert.True(t, reply.Served)
	assert.Equal(t, "gemini-25", reply.Model)
}

func TestCall_CountsEachLimitedModelOnce(t *testing.T) {
	limited := func(model string) float64 {
		return testutil.ToFloat64(observability.ModelLimitedTotal.WithLabelValues(model))
	}
	f := newFixture(t, nil, Options{})
	f.checker.limit("gemini-pro", nil)
	f.checker.limit("gemini-flash", nil)
	pro, flash, deep := limited("gemini-pro"), limited("gemini-flash"), limited("gemini-25")

	reply := f.router.Call(context.Background(), "gemini-pro", "x")
	require.True(t, reply.Served)
	assert.Equal(t, pro+1, limited("gemini-pro"))
	assert.Equal(t, flash+1, limited("gemini-flash"))
	assert.Equal(t, deep, limited("gemini-25"))
}

func TestCall_ExhaustedWithResetTime(t *testing.T) {
	f := newFixture(t, nil, Options{})
	reset := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	f.checker.limit("gemini-flash", &reset)
	f.checker.limit("gemini-25", nil)

	reply := f.router.Call(context.Background(), "gemini-flash", "x")
	assert.False(t, reply.Served)
	assert.Equal(t, "API rate limit for gemini-flash exceeded. Retry after 2026-10-18T12:00:00Z or use another model.", reply.Text)
	assert.Empty(t, f.client.Calls())
}

func TestCall_ExhaustedWithoutResetTime(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.checker.limit("gemini-flash", nil)
	f.checker.limit("gemini-25", nil)

	reply := f.router.Call(context.Background(), "gemini-25", "x")
	assert.Equal(t, "API rate limit for gemini-25 exceeded. Try again later or use another model.", reply.Text)
}

func TestCall_UpstreamRateLimitFallsBack(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.client.Script("gemini-flash", stub.Reply{Err: &domain.RateLimitError{Model: "gemini-flash", RetryAfter: 9 * time.Second}})

	reply := f.router.Call(context.Background(), "gemini-flash", "hello")
	assert.True(t, reply.Served)
	assert.Equal(t, "gemini-25", reply.Model)
	assert.Equal(t, 9*time.Second, f.checker.rateLimited["gemini-flash"])
	assert.Len(t, f.client.Calls(), 2)
}

func TestCall_TimeoutCountsAsLimited(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.client.Script("gemini-25", stub.Reply{Err: domain.ErrUpstreamTimeout})

	reply := f.router.Call(context.Background(), "gemini-25", "hello")
	assert.True(t, reply.Served)
	assert.Equal(t, "gemini-flash", reply.Model)
	_, reported := f.checker.rateLimited["gemini-25"]
	assert.True(t, reported)
}

func TestCall_OtherErrorIsExplained(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.client.Script("gemini-pro", stub.Reply{Err: errors.New("bad gateway")})

	reply := f.router.Call(context.Background(), "gemini-pro", "hello")
	assert.False(t, reply.Served)
	assert.Equal(t, "Error calling gemini-pro: bad gateway", reply.Text)
	assert.Equal(t, []string{"gemini-pro"}, f.checker.failures)
	assert.Len(t, f.client.Calls(), 1)
}

func TestCall_CycleGuardStopsMutualFallback(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.client.Script("gemini-flash", stub.Reply{Err: domain.ErrUpstreamRateLimit})
	f.client.Script("gemini-25", stub.Reply{Err: domain.ErrUpstreamRateLimit})

	reply := f.router.Call(context.Background(), "gemini-flash", "hello")
	assert.False(t, reply.Served)
	assert.Equal(t, "gemini-25", reply.Model)
	assert.Contains(t, reply.Text, "API rate limit for gemini-25 exceeded")
	assert.Equal(t, []string{"gemini-flash", "gemini-25"}, reply.Attempted)
	assert.Len(t, f.client.Calls(), 2)
}

func TestCall_MaxDepthBoundsHops(t *testing.T) {
	f := newFixture(t, nil, Options{MaxDepth: 1})
	f.checker.limit("gemini-pro", nil)
	f.client.Script("gemini-flash", stub.Reply{Err: domain.ErrUpstreamRateLimit})

	reply := f.router.Call(context.Background(), "gemini-pro", "x")
	assert.False(t, reply.Served)
	assert.Equal(t, "gemini-flash", reply.Model)
	assert.Equal(t, []string{"gemini-pro", "gemini-flash"}, reply.Attempted)
}

func TestCall_CanceledRequestDoesNotFallBack(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reply := f.router.Call(ctx, "gemini-flash", "x")
	assert.False(t, reply.Served)
	assert.Contains(t, reply.Text, "Error calling gemini-flash")
	assert.Empty(t, f.checker.rateLimited)
}
