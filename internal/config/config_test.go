package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "dev")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.IsProd())
	assert.False(t, cfg.IsTest())
	assert.Equal(t, ProviderStub, cfg.AIProvider)
	assert.Equal(t, 60*time.Second, cfg.AICallTimeout)
	assert.Equal(t, 3, cfg.AIMaxFallbackDepth)
	assert.Equal(t, 5, cfg.AISoftFailureLimit)
	assert.True(t, cfg.AnalysisParallel)
	assert.Equal(t, `^https?://(www\.)?ozon\.ru/product/`, cfg.ProductURLPattern)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("AI_PROVIDER", "openrouter")
	t.Setenv("AI_CALL_TIMEOUT", "5s")
	t.Setenv("AI_MAX_FALLBACK_DEPTH", "1")
	t.Setenv("ANALYSIS_PARALLEL", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, ProviderOpenRouter, cfg.AIProvider)
	assert.Equal(t, 5*time.Second, cfg.AICallTimeout)
	assert.Equal(t, 1, cfg.AIMaxFallbackDepth)
	assert.False(t, cfg.AnalysisParallel)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown provider", "AI_PROVIDER", "carrier-pigeon"},
		{"bad duration", "AI_CALL_TIMEOUT", "soon"},
		{"bad int", "AI_MAX_FALLBACK_DEPTH", "many"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AI_PROVIDER", "stub")
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "op=config.Load")
		})
	}
}

func TestGetAIBackoffConfig(t *testing.T) {
	cfg := Config{AppEnv: "test"}
	maxElapsed, initial, maxInterval, mult := cfg.GetAIBackoffConfig()
	assert.Equal(t, 2*time.Second, maxElapsed)
	assert.Equal(t, 10*time.Millisecond, initial)
	assert.Equal(t, 100*time.Millisecond, maxInterval)
	assert.Equal(t, 2.0, mult)

	cfg = Config{
		AppEnv:                   "prod",
		AIBackoffMaxElapsedTime:  time.Minute,
		AIBackoffInitialInterval: time.Second,
		AIBackoffMaxInterval:     3 * time.Second,
		AIBackoffMultiplier:      1.5,
	}
	maxElapsed, initial, maxInterval, mult = cfg.GetAIBackoffConfig()
	assert.Equal(t, time.Minute, maxElapsed)
	assert.Equal(t, time.Second, initial)
	assert.Equal(t, 3*time.Second, maxInterval)
	assert.Equal(t, 1.5, mult)
}

func TestAPIKeys(t *testing.T) {
	reg := DefaultModels()

	t.Run("dedicated keys win over shared key", func(t *testing.T) {
		cfg := Config{AIProvider: ProviderOpenRouter, OpenRouterAPIKey: "shared", Gemini25APIKey: "deep"}
		keys := cfg.APIKeys(reg, "demo_key")
		assert.Equal(t, map[string]string{
			"gemini-flash": "shared",
			"gemini-pro":   "shared",
			"gemini-25":    "deep",
		}, keys)
	})

	t.Run("openrouter without keys leaves credentials absent", func(t *testing.T) {
		cfg := Config{AIProvider: ProviderOpenRouter, GeminiProAPIKey: "pro"}
		keys := cfg.APIKeys(reg, "demo_key")
		assert.Equal(t, map[string]string{"gemini-pro": "pro"}, keys)
	})

	t.Run("stub falls back to placeholder", func(t *testing.T) {
		cfg := Config{AIProvider: ProviderStub}
		keys := cfg.APIKeys(reg, "demo_key")
		assert.Len(t, keys, 3)
		for _, k := range keys {
			assert.Equal(t, "demo_key", k)
		}
	})
}
