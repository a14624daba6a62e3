// Package router routes AI calls to backend models and substitutes a
// throttled model with the first available alternate from the fallback table.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
)

// FallbackTable lists the ordered alternates of a model.
type FallbackTable interface {
	Alternates(model string) []string
}

// Deps are the collaborators of a Router. Reporter and Usage are optional.
type Deps struct {
	Client      domain.AIClient
	Checker     domain.RateLimitChecker
	Reporter    domain.CallReporter
	Credentials domain.CredentialStore
	Usage       domain.UsageRecorder
	Fallbacks   FallbackTable
}

// Options bound a single routed call.
type Options struct {
	// CallTimeout bounds each capability call. Zero means no extra bound.
	CallTimeout time.Duration
	// MaxDepth bounds how many fallback hops one call may take.
	MaxDepth int
}

// Reply is the outcome of a routed call. Text is always set; it is an
// explanatory message when Served is false.
type Reply struct {
	Text string
	// Model is the backend that produced Text, or the requested model when
	// nothing served the call.
	Model     string
	Served    bool
	Attempted []string
}

// Router implements the rate-limit-aware model fallback.
type Router struct {
	deps Deps
	opts Options
}

// New builds a Router. A non-positive MaxDepth defaults to 3.
func New(deps Deps, opts Options) *Router {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 3
	}
	return &Router{deps: deps, opts: opts}
}

type trail struct {
	seen  map[string]bool
	order []string
}

func (t *trail) add(model string) {
	if !t.seen[model] {
		t.seen[model] = true
		t.order = append(t.order, model)
	}
}

// Call sends prompt to model, falling back to alternates while the model is
// limited. It never returns an error: missing credentials, exhausted
// alternates and capability failures become explanatory text.
func (r *Router) Call(ctx context.Context, model, prompt string) Reply {
	ctx, span := observability.StartSpan(ctx, "router.Call", attribute.String("ai.model.requested", model))
	defer span.End()

	tr := &trail{seen: map[string]bool{}}
	reply := r.call(ctx, model, prompt, tr, 0)
	reply.Attempted = tr.order

	span.SetAttributes(
		attribute.String("ai.model.used", reply.Model),
		attribute.Bool("ai.served", reply.Served),
		attribute.StringSlice("ai.models.attempted", reply.Attempted),
	)
	if !reply.Served {
		span.SetStatus(codes.Error, reply.Text)
	}
	return reply
}

func (r *Router) call(ctx context.Context, model, prompt string, tr *trail, depth int) Reply {
	tr.add(model)
	lg := observability.LoggerFromContext(ctx).With(slog.String("model", model), slog.Int("depth", depth))

	key, ok := r.deps.Credentials.Credential(model)
	if !ok || key == "" {
		lg.Warn("credential missing for model")
		return Reply{Text: MissingCredentialText(model), Model: model}
	}

	status, err := r.deps.Checker.Check(ctx, model)
	if err != nil {
		lg.Warn("rate limit check failed; assuming not limited", slog.Any("error", err))
		status = domain.RateLimitStatus{}
	}
	if status.Limited {
		lg.Info("model is rate limited", slog.Any("reset_time", status.ResetTime))
		observability.RecordLimited(model)
		return r.fallback(ctx, model, prompt, status, tr, depth)
	}

	callCtx := ctx
	if r.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.opts.CallTimeout)
		defer cancel()
	}
	start := time.Now()
	text, err := r.deps.Client.Call(callCtx, domain.CallRequest{Model: model, APIKey: key, Prompt: prompt})
	if err == nil {
		lg.Debug("model call succeeded", slog.Duration("duration", time.Since(start)))
		if r.deps.Reporter != nil {
			r.deps.Reporter.ReportSuccess(model)
		}
		if r.deps.Usage != nil {
			r.deps.Usage.RecordUsage(ctx, model, prompt, text)
		}
		return Reply{Text: text, Model: model, Served: true}
	}

	if ctx.Err() != nil {
		lg.Warn("request canceled during model call", slog.Any("error", err))
		return Reply{Text: CallErrorText(model, ctx.Err()), Model: model}
	}

	if limited, retryAfter := limitedLike(err); limited {
		lg.Warn("model call throttled; treating as limited", slog.Any("error", err))
		observability.RecordLimited(model)
		if r.deps.Reporter != nil {
			r.deps.Reporter.ReportRateLimit(model, retryAfter)
		}
		st := domain.RateLimitStatus{Limited: true}
		if retryAfter > 0 {
			reset := time.Now().Add(retryAfter)
			st.ResetTime = &reset
		}
		return r.fallback(ctx, model, prompt, st, tr, depth)
	}

	lg.Error("model call failed", slog.Any("error", err))
	if r.deps.Reporter != nil {
		r.deps.Reporter.ReportFailure(model, err)
	}
	return Reply{Text: CallErrorText(model, err), Model: model}
}

// fallback tries the alternates of model in table order and recurses into the
// first one that is not limited and not yet attempted.
func (r *Router) fallback(ctx context.Context, model, prompt string, status domain.RateLimitStatus, tr *trail, depth int) Reply {
	lg := observability.LoggerFromContext(ctx).With(slog.String("model", model))
	if depth >= r.opts.MaxDepth {
		lg.Warn("fallback depth exhausted", slog.Int("max_depth", r.opts.MaxDepth))
		return Reply{Text: ExhaustedText(model, status.ResetTime), Model: model}
	}

	for _, alt := range r.deps.Fallbacks.Alternates(model) {
		if tr.seen[alt] {
			continue
		}
		altStatus, err := r.deps.Checker.Check(ctx, alt)
		if err == nil && altStatus.Limited {
			lg.Debug("alternate is limited too", slog.String("alternate", alt))
			observability.RecordLimited(alt)
			continue
		}
		lg.Info("switching to alternate model", slog.String("alternate", alt))
		observability.RecordFallback(model, alt)
		return r.call(ctx, alt, prompt, tr, depth+1)
	}

	lg.Warn("no alternate model available")
	return Reply{Text: ExhaustedText(model, status.ResetTime), Model: model}
}

// limitedLike reports whether err should be handled as a rate limit.
func limitedLike(err error) (bool, time.Duration) {
	var rl *domain.RateLimitError
	switch {
	case errors.As(err, &rl):
		return true, rl.RetryAfter
	case errors.Is(err, domain.ErrUpstreamRateLimit),
		errors.Is(err, domain.ErrUpstreamTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return true, 0
	}
	return false, 0
}

// MissingCredentialText is returned when model has no API key.
func MissingCredentialText(model string) string {
	return fmt.Sprintf("Error: API key for %s is not configured", model)
}

// ExhaustedText is returned when model and every alternate are limited.
func ExhaustedText(model string, reset *time.Time) string {
	if reset != nil && !reset.IsZero() {
		return fmt.Sprintf("API rate limit for %s exceeded. Retry after %s or use another model.",
			model, reset.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("API rate limit for %s exceeded. Try again later or use another model.", model)
}

// CallErrorText is returned when the capability fails for another reason.
func CallErrorText(model string, err error) string {
	return fmt.Sprintf("Error calling %s: %v", model, err)
}
