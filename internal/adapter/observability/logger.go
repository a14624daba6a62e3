package observability

import (
	"io"
	"log/slog"
	"os"

	"github.com/fairyhunter13/ai-product-analyzer/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields.
// Stdout carries the protocol stream, so a nil writer means stderr.
func SetupLogger(cfg config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{}
	// In dev, show debug level; in prod, default to info
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}
