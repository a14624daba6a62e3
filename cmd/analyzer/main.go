// Command analyzer serves product analysis requests as line-delimited
// JSON-RPC on stdin/stdout. Logs go to stderr.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-product-analyzer/internal/app"
	"github.com/fairyhunter13/ai-product-analyzer/internal/config"
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", slog.Any("error", err))
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return 1
	}

	logger := observability.SetupLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	observability.InitMetrics()
	stopMetrics := observability.StartMetricsServer(cfg.MetricsAddr)

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to start analyzer", slog.Any("error", err))
		return 1
	}
	defer application.Close()

	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := stopMetrics(sctx); err != nil {
			slog.Warn("metrics server shutdown", slog.Any("error", err))
		}
		if shutdownTracer != nil {
			_ = shutdownTracer(sctx)
		}
	}()

	// Serve blocks on stdin; a signal must not wait for the next line.
	errCh := make(chan error, 1)
	go func() { errCh <- application.Serve(ctx, os.Stdin, os.Stdout) }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("request loop stopped", slog.Any("error", err))
			return 1
		}
		slog.Info("input closed; exiting")
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}
	return 0
}
