// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Provider values for AI_PROVIDER.
const (
	ProviderStub       = "stub"
	ProviderOpenRouter = "openrouter"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv          string `env:"APP_ENV" envDefault:"dev"`
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ai-product-analyzer"`
	// MetricsAddr enables the /metrics and /healthz side server when set, e.g. ":9090".
	MetricsAddr string `env:"METRICS_ADDR"`

	// AIProvider selects the capability backend: "stub" or "openrouter".
	AIProvider        string `env:"AI_PROVIDER" envDefault:"stub"`
	OpenRouterBaseURL string `env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	OpenRouterReferer string `env:"OPENROUTER_REFERER"`
	OpenRouterTitle   string `env:"OPENROUTER_TITLE" envDefault:"AI Product Analyzer"`
	// OpenRouterAPIKey is used for every backend that has no dedicated key.
	OpenRouterAPIKey  string `env:"OPENROUTER_API_KEY"`
	GeminiFlashAPIKey string `env:"GEMINI_FLASH_API_KEY"`
	GeminiProAPIKey   string `env:"GEMINI_PRO_API_KEY"`
	Gemini25APIKey    string `env:"GEMINI_25_API_KEY"`
	// ModelsFile optionally overrides role bindings and the fallback table.
	ModelsFile string `env:"MODELS_FILE"`

	AICallTimeout      time.Duration `env:"AI_CALL_TIMEOUT" envDefault:"60s"`
	AIMaxFallbackDepth int           `env:"AI_MAX_FALLBACK_DEPTH" envDefault:"3"`
	// AI Backoff Configuration
	AIBackoffMaxElapsedTime  time.Duration `env:"AI_BACKOFF_MAX_ELAPSED_TIME" envDefault:"30s"`
	AIBackoffInitialInterval time.Duration `env:"AI_BACKOFF_INITIAL_INTERVAL" envDefault:"1s"`
	AIBackoffMaxInterval     time.Duration `env:"AI_BACKOFF_MAX_INTERVAL" envDefault:"10s"`
	AIBackoffMultiplier      float64       `env:"AI_BACKOFF_MULTIPLIER" envDefault:"1.5"`

	// AIRateLimitPerMin sizes the per-model token bucket. Zero disables bucket limiting.
	AIRateLimitPerMin   int           `env:"AI_RATE_LIMIT_PER_MIN" envDefault:"20"`
	AIRateLimitBlock    time.Duration `env:"AI_RATE_LIMIT_BLOCK" envDefault:"20s"`
	AICircuitThreshold  int           `env:"AI_CIRCUIT_THRESHOLD" envDefault:"3"`
	// AISoftFailureLimit is the failure streak after which a model is blocked,
	// doubling the block for every further failure.
	AISoftFailureLimit  int           `env:"AI_SOFT_FAILURE_LIMIT" envDefault:"5"`
	AICircuitRecovery   time.Duration `env:"AI_CIRCUIT_RECOVERY" envDefault:"30s"`
	RedisURL            string        `env:"REDIS_URL"`
	AnalysisParallel    bool          `env:"ANALYSIS_PARALLEL" envDefault:"true"`
	ProductURLPattern   string        `env:"PRODUCT_URL_PATTERN" envDefault:"^https?://(www\\.)?ozon\\.ru/product/"`
	MaxRequestLineBytes int           `env:"MAX_REQUEST_LINE_BYTES" envDefault:"33554432"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	switch cfg.AIProvider {
	case ProviderStub, ProviderOpenRouter:
	default:
		return Config{}, fmt.Errorf("op=config.Load: unknown AI_PROVIDER %q", cfg.AIProvider)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// GetAIBackoffConfig returns backoff configuration appropriate for the current environment.
// In test environments, uses much shorter timeouts for faster test execution.
func (c Config) GetAIBackoffConfig() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64) {
	if c.IsTest() {
		return 2 * time.Second, 10 * time.Millisecond, 100 * time.Millisecond, 2.0
	}
	return c.AIBackoffMaxElapsedTime, c.AIBackoffInitialInterval, c.AIBackoffMaxInterval, c.AIBackoffMultiplier
}

// APIKeys returns the configured credential for every backend in reg. A
// backend without a dedicated key falls back to OPENROUTER_API_KEY; with the
// stub provider every backend falls back to the placeholder key so the
// process works out of the box.
func (c Config) APIKeys(reg Models, placeholder string) map[string]string {
	dedicated := map[string]string{
		"gemini-flash": c.GeminiFlashAPIKey,
		"gemini-pro":   c.GeminiProAPIKey,
		"gemini-25":    c.Gemini25APIKey,
	}
	keys := make(map[string]string)
	for _, model := range reg.Backends() {
		key := dedicated[model]
		if key == "" {
			key = c.OpenRouterAPIKey
		}
		if key == "" && c.AIProvider == ProviderStub {
			key = placeholder
		}
		if key != "" {
			keys[model] = key
		}
	}
	return keys
}
