package real

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-product-analyzer/internal/config"
	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
)

type chatReq struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	cfg := config.Config{
		AppEnv:            "test",
		OpenRouterBaseURL: ts.URL + "/",
		OpenRouterReferer: "https://example.test",
		OpenRouterTitle:   "analyzer-test",
		AICallTimeout:     5 * time.Second,
	}
	return New(cfg, config.DefaultModels()), ts
}

func writeChat(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model":   "google/gemini-2.0-flash-001",
		"choices": []map[string]any{{"message": map[string]any{"content": content}}},
	})
}

func TestCall_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k1", r.Header.Get("Authorization"))
		assert.Equal(t, "https://example.test", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "analyzer-test", r.Header.Get("X-Title"))
		var cr chatReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cr))
		assert.Equal(t, "google/gemini-2.0-flash-001", cr.Model)
		require.Len(t, cr.Messages, 1)
		assert.Equal(t, "user", cr.Messages[0]["role"])
		assert.Equal(t, "hello", cr.Messages[0]["content"])
		writeChat(w, `{"score": 8}`)
	})

	out, err := c.Call(context.Background(), domain.CallRequest{Model: "gemini-flash", APIKey: "k1", Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, `{"score": 8}`, out)
}

func TestCall_MissingKey(t *testing.T) {
	c, _ := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := c.Call(context.Background(), domain.CallRequest{Model: "gemini-flash"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCall_RateLimitIsImmediateAndTyped(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Call(context.Background(), domain.CallRequest{Model: "gemini-pro", APIKey: "k"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamRateLimit)
	var rl *domain.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, "gemini-pro", rl.Model)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCall_RetriesServerErrors(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeChat(w, "finally")
	})

	out, err := c.Call(context.Background(), domain.CallRequest{Model: "gemini-25", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "finally", out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestCall_ClientErrorIsPermanent(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	})

	_, err := c.Call(context.Background(), domain.CallRequest{Model: "gemini-25", APIKey: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat status 401")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCall_EmptyChoices(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	})
	_, err := c.Call(context.Background(), domain.CallRequest{Model: "gemini-25", APIKey: "k"})
	assert.Error(t, err)
}

func TestCall_DeadlineIsUpstreamTimeout(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Call(ctx, domain.CallRequest{Model: "gemini-25", APIKey: "k"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"12", 12 * time.Second},
		{"-3", 0},
		{"soon", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRetryAfter(tt.in, now))
		})
	}
}
