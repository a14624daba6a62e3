// Package real implements an AI client backed by an OpenRouter-compatible
// chat completions API.
package real

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-product-analyzer/internal/config"
	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
)

const maxBodySnippet = 512

// ModelResolver maps a backend identifier to the provider model slug.
type ModelResolver interface {
	ProviderID(model string) string
}

// Client implements domain.AIClient against /chat/completions.
type Client struct {
	cfg      config.Config
	hc       *http.Client
	resolver ModelResolver
}

// New constructs a real AI client. The per-call deadline comes from the
// caller's context; the HTTP timeout is only a backstop.
func New(cfg config.Config, resolver ModelResolver) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("AI %s %s", r.Method, r.URL.Path)
		}),
	)
	timeout := cfg.AICallTimeout + 5*time.Second
	return &Client{
		cfg:      cfg,
		hc:       &http.Client{Timeout: timeout, Transport: transport},
		resolver: resolver,
	}
}

// getBackoffConfig returns a configured ExponentialBackOff based on the current environment.
func (c *Client) getBackoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()

	maxElapsedTime, initialInterval, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsedTime
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier

	return expo
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call sends req.Prompt as a single user message. A 429 is returned at once
// as *domain.RateLimitError so the router can fall back instead of waiting;
// other 4xx are permanent; 5xx and transport errors are retried with backoff.
func (c *Client) Call(ctx domain.Context, req domain.CallRequest) (string, error) {
	if req.APIKey == "" {
		return "", fmt.Errorf("%w: api key for %s missing", domain.ErrInvalidArgument, req.Model)
	}
	lg := observability.LoggerFromContext(ctx)
	providerModel := req.Model
	if c.resolver != nil {
		providerModel = c.resolver.ProviderID(req.Model)
	}
	endpoint := strings.TrimRight(c.cfg.OpenRouterBaseURL, "/") + "/chat/completions"

	body, err := json.Marshal(map[string]any{
		"model":       providerModel,
		"temperature": 0.2,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("op=real.Call: marshal: %w", err)
	}

	var out chatResponse
	op := func() error {
		start := time.Now()
		// Recreate request each attempt to avoid reusing consumed bodies
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		r.Header.Set("Authorization", "Bearer "+req.APIKey)
		r.Header.Set("Content-Type", "application/json")
		if c.cfg.OpenRouterReferer != "" {
			r.Header.Set("HTTP-Referer", c.cfg.OpenRouterReferer)
		}
		if c.cfg.OpenRouterTitle != "" {
			r.Header.Set("X-Title", c.cfg.OpenRouterTitle)
		}

		resp, err := c.hc.Do(r)
		if err != nil {
			observability.ObserveAICall(req.Model, "transport_error", time.Since(start))
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			observability.ObserveAICall(req.Model, "read_error", time.Since(start))
			return err
		}
		observability.ObserveAICall(req.Model, strconv.Itoa(resp.StatusCode), time.Since(start))

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			lg.Warn("ai provider rate limited",
				slog.String("model", req.Model),
				slog.Duration("retry_after", retryAfter),
				slog.String("x_request_id", resp.Header.Get("X-Request-Id")))
			return backoff.Permanent(&domain.RateLimitError{Model: req.Model, RetryAfter: retryAfter})
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			lg.Warn("ai provider 4xx",
				slog.String("model", req.Model),
				slog.Int("status", resp.StatusCode),
				slog.String("body", snippet(bodyBytes)))
			return backoff.Permanent(fmt.Errorf("chat status %d: %s", resp.StatusCode, snippet(bodyBytes)))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			lg.Error("ai provider non-2xx",
				slog.String("model", req.Model),
				slog.Int("status", resp.StatusCode),
				slog.String("body", snippet(bodyBytes)))
			return fmt.Errorf("chat status %d", resp.StatusCode)
		}

		out = chatResponse{}
		if err := json.Unmarshal(bodyBytes, &out); err != nil {
			lg.Error("ai provider decode error", slog.String("model", req.Model), slog.Any("error", err))
			return backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrSchemaInvalid, err))
		}
		return nil
	}

	bo := backoff.WithContext(c.getBackoffConfig(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s: %v", domain.ErrUpstreamTimeout, req.Model, err)
		}
		var rl *domain.RateLimitError
		if errors.As(err, &rl) {
			return "", rl
		}
		return "", fmt.Errorf("openrouter api failed: %w", err)
	}

	if out.Error != nil {
		return "", fmt.Errorf("openrouter api error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("empty choices from OpenRouter API")
	}
	if out.Model != "" && out.Model != providerModel {
		lg.Warn("model substitution detected",
			slog.String("requested_model", providerModel),
			slog.String("actual_model", out.Model))
	}
	return out.Choices[0].Message.Content, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Unparseable or past
// values yield zero, which lets the rate-limit cache apply its default.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(b []byte) string {
	s := string(b)
	if len(s) > maxBodySnippet {
		s = s[:maxBodySnippet]
	}
	return s
}
