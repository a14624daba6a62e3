// Package app wires application components and startup helpers.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/ai"
	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/ai/real"
	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/catalog"
	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/pageparser"
	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/rpcserver"
	"github.com/fairyhunter13/ai-product-analyzer/internal/config"
	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
	"github.com/fairyhunter13/ai-product-analyzer/internal/service/ratelimiter"
	"github.com/fairyhunter13/ai-product-analyzer/internal/service/router"
	"github.com/fairyhunter13/ai-product-analyzer/internal/usage"
	"github.com/fairyhunter13/ai-product-analyzer/internal/usecase"
)

const redisPingTimeout = 2 * time.Second

// App is the fully wired analyzer.
type App struct {
	Config  config.Config
	Models  config.Models
	Server  *rpcserver.Server
	Router  *router.Router
	Checker *ai.StatusChecker
	Usage   *usage.Tracker

	cache     *ai.RateLimitCache
	rdb       *redis.Client
	ownsRedis bool
}

type options struct {
	client domain.AIClient
	rdb    *redis.Client
}

// Option customizes New.
type Option func(*options)

// WithAIClient replaces the provider selected by AI_PROVIDER.
func WithAIClient(c domain.AIClient) Option {
	return func(o *options) { o.client = c }
}

// WithRedisClient uses rdb for the shared token buckets instead of dialing REDIS_URL.
func WithRedisClient(rdb *redis.Client) Option {
	return func(o *options) { o.rdb = rdb }
}

// New builds every component from cfg. Call Close when done.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	models, err := config.LoadModels(cfg.ModelsFile)
	if err != nil {
		return nil, err
	}
	backends := models.Backends()
	creds := ai.NewCredentials(cfg.APIKeys(models, domain.PlaceholderCredential))

	a := &App{Config: cfg, Models: models, rdb: o.rdb}
	if a.rdb == nil && cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("op=app.New: parse REDIS_URL: %w", err)
		}
		a.rdb = redis.NewClient(ropts)
		a.ownsRedis = true
	}

	buckets := ratelimiter.BucketsFor(backends, cfg.AIRateLimitPerMin)
	var limiter ratelimiter.Limiter
	if a.rdb != nil {
		if err := BuildRedisCheck(a.rdb, redisPingTimeout)(ctx); err != nil {
			logger.Warn("redis unavailable; using in-process rate limiter", slog.Any("error", err))
			a.closeRedis()
		} else {
			limiter = ratelimiter.NewRedisLuaLimiter(a.rdb, buckets)
			logger.Info("using redis rate limiter")
		}
	}
	if limiter == nil {
		limiter = ratelimiter.NewLocalLimiter(buckets)
	}

	a.cache = ai.NewRateLimitCache(
		ai.WithBlockDuration(cfg.AIRateLimitBlock),
		ai.WithMaxFailures(cfg.AISoftFailureLimit),
	)
	breakers := ai.NewCircuitBreakerManager(cfg.AICircuitThreshold, cfg.AICircuitRecovery)
	a.Checker = ai.NewStatusChecker(a.cache, breakers, limiter)
	a.Usage = usage.NewTracker(nil, limiter)

	client := o.client
	if client == nil {
		switch cfg.AIProvider {
		case config.ProviderOpenRouter:
			client = real.New(cfg, models)
		default:
			client = stub.New()
		}
	}

	a.Router = router.New(router.Deps{
		Client:      client,
		Checker:     a.Checker,
		Reporter:    a.Checker,
		Credentials: creds,
		Usage:       a.Usage,
		Fallbacks:   models,
	}, router.Options{CallTimeout: cfg.AICallTimeout, MaxDepth: cfg.AIMaxFallbackDepth})

	pages, err := pageparser.New(cfg.ProductURLPattern)
	if err != nil {
		a.Close()
		return nil, err
	}
	analyzer := usecase.NewConsistencyAnalyzer(a.Router, models, cfg.AnalysisParallel)
	gate := usecase.NewEscalationGate(a.Router, models, creds)
	products := usecase.NewProductService(pages, analyzer, catalog.NewStub(), gate)

	a.Server = rpcserver.New(logger, rpcserver.WithMaxLineBytes(cfg.MaxRequestLineBytes))
	rpcserver.RegisterHandlers(a.Server, rpcserver.Services{
		Products: products,
		Gate:     gate,
		Usage:    a.Usage,
		Health:   a.Checker,
		Models:   backends,
	})

	logger.Info("analyzer wired",
		slog.String("provider", cfg.AIProvider),
		slog.Any("models", backends),
		slog.Bool("deep_available", gate.DeepAvailable()))
	return a, nil
}

// Serve runs the request loop until r is exhausted.
func (a *App) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	return a.Server.Serve(ctx, r, w)
}

// Close stops background routines and releases the Redis client it opened.
func (a *App) Close() {
	if a.cache != nil {
		a.cache.Stop()
	}
	a.closeRedis()
}

func (a *App) closeRedis() {
	if a.rdb != nil && a.ownsRedis {
		_ = a.rdb.Close()
	}
	a.rdb = nil
	a.ownsRedis = false
}
