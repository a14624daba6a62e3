package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-product-analyzer/internal/config"
)

func TestSetupLogger_WritesJSONWithServiceFields(t *testing.T) {
	var buf bytes.Buffer
	lg := SetupLogger(config.Config{AppEnv: "dev", OTELServiceName: "svc"}, &buf)
	lg.Debug("hello", slog.String("k", "v"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "svc", rec["service"])
	assert.Equal(t, "dev", rec["env"])
	assert.Equal(t, "v", rec["k"])
}

func TestSetupLogger_ProdSkipsDebug(t *testing.T) {
	var buf bytes.Buffer
	lg := SetupLogger(config.Config{AppEnv: "prod", OTELServiceName: "svc"}, &buf)
	lg.Debug("quiet")
	assert.Empty(t, buf.String())
	lg.Info("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestSetupLogger_NilWriter(t *testing.T) {
	assert.NotNil(t, SetupLogger(config.Config{AppEnv: "test"}, nil))
}

func TestLoggerContext(t *testing.T) {
	assert.Equal(t, slog.Default(), LoggerFromContext(context.Background()))

	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := ContextWithLogger(context.Background(), lg)
	assert.Same(t, lg, LoggerFromContext(ctx))

	assert.Equal(t, ctx, ContextWithLogger(ctx, nil))
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Equal(t, ctx, ContextWithRequestID(ctx, ""))

	ctx = ContextWithRequestID(ctx, "01HZX")
	assert.Equal(t, "01HZX", RequestIDFromContext(ctx))
}

func TestMetricsHelpers(t *testing.T) {
	InitMetrics()
	InitMetrics()

	before := testutil.ToFloat64(ModelFallbacksTotal.WithLabelValues("gemini-pro", "gemini-flash"))
	RecordFallback("gemini-pro", "gemini-flash")
	assert.Equal(t, before+1, testutil.ToFloat64(ModelFallbacksTotal.WithLabelValues("gemini-pro", "gemini-flash")))

	ObserveRPC("ping", "ok", time.Millisecond)
	assert.GreaterOrEqual(t, testutil.ToFloat64(RPCRequestsTotal.WithLabelValues("ping", "ok")), 1.0)

	ObserveAICall("gemini-flash", "success", 10*time.Millisecond)
	ObserveTokens("gemini-flash", 12, 3)
	assert.GreaterOrEqual(t, testutil.ToFloat64(AITokensTotal.WithLabelValues("gemini-flash", "prompt")), 12.0)

	RecordLimited("gemini-25")
	RecordCircuitBreakerState("gemini-25", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(CircuitBreakerState.WithLabelValues("gemini-25")))

	ObserveConsistencyScore(7)
	ObserveConsistencyScore(42)
	RecordDeepOffer()
}

func TestMetricsRouter(t *testing.T) {
	InitMetrics()
	h := NewMetricsRouter()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "rpc_requests_total") || rec.Body.Len() > 0)

	assert.GreaterOrEqual(t, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/healthz", http.MethodGet, "OK")), 1.0)
}

func TestStartMetricsServer_Disabled(t *testing.T) {
	shutdown := StartMetricsServer("")
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTracing_Disabled(t *testing.T) {
	shutdown, err := SetupTracing(config.Config{})
	require.NoError(t, err)
	assert.Nil(t, shutdown)

	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()
	assert.NotNil(t, ctx)
}
