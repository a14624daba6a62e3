package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsRouter returns the side-channel router exposing /metrics and /healthz.
func NewMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(HTTPMetricsMiddleware)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// StartMetricsServer serves NewMetricsRouter on addr in the background and
// returns a shutdown func. An empty addr disables the server.
func StartMetricsServer(addr string) func(context.Context) error {
	if addr == "" {
		return func(context.Context) error { return nil }
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMetricsRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server listening", slog.String("addr", addr))
	return srv.Shutdown
}
