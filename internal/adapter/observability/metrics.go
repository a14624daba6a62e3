package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_requests_total",
			Help: "Total number of JSON-RPC requests by method and outcome code",
		},
		[]string{"method", "code"},
	)
	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpc_request_duration_seconds",
			Help:    "JSON-RPC request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served by the metrics server",
		},
		[]string{"route", "method", "status"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by model and outcome",
		},
		[]string{"model", "outcome"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)
	AITokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Tokens exchanged with AI models by direction",
		},
		[]string{"model", "direction"},
	)

	ModelFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_fallbacks_total",
			Help: "Total number of rate-limit fallbacks from one model to another",
		},
		[]string{"from", "to"},
	)
	ModelLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_limited_total",
			Help: "Total number of times a model was found rate limited",
		},
		[]string{"model"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ai_circuit_breaker_state",
			Help: "Circuit breaker state per model (0 closed, 1 open, 2 half-open)",
		},
		[]string{"model"},
	)

	ConsistencyScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_consistency_score",
			Help:    "Distribution of consistency scores ([0,10])",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)
	DeepAnalysisOffersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_deep_offers_total",
			Help: "Total number of deep analysis offers attached to results",
		},
	)
)

var registerOnce sync.Once

// InitMetrics registers all collectors with the default registry.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RPCRequestsTotal,
			RPCRequestDuration,
			HTTPRequestsTotal,
			AIRequestsTotal,
			AIRequestDuration,
			AITokensTotal,
			ModelFallbacksTotal,
			ModelLimitedTotal,
			CircuitBreakerState,
			ConsistencyScoreHistogram,
			DeepAnalysisOffersTotal,
		)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
	})
}

// ObserveRPC records one handled request.
func ObserveRPC(method, code string, dur time.Duration) {
	RPCRequestsTotal.WithLabelValues(method, code).Inc()
	RPCRequestDuration.WithLabelValues(method).Observe(dur.Seconds())
}

// ObserveAICall records one capability call and its outcome.
func ObserveAICall(model, outcome string, dur time.Duration) {
	AIRequestsTotal.WithLabelValues(model, outcome).Inc()
	AIRequestDuration.WithLabelValues(model).Observe(dur.Seconds())
}

// ObserveTokens adds token counts for one call.
func ObserveTokens(model string, prompt, completion int) {
	AITokensTotal.WithLabelValues(model, "prompt").Add(float64(prompt))
	AITokensTotal.WithLabelValues(model, "completion").Add(float64(completion))
}

// RecordFallback counts a substitution of from by to.
func RecordFallback(from, to string) {
	ModelFallbacksTotal.WithLabelValues(from, to).Inc()
}

// RecordLimited counts a model found limited.
func RecordLimited(model string) {
	ModelLimitedTotal.WithLabelValues(model).Inc()
}

// RecordCircuitBreakerState publishes the breaker state for model.
func RecordCircuitBreakerState(model string, state int) {
	CircuitBreakerState.WithLabelValues(model).Set(float64(state))
}

// ObserveConsistencyScore records the final score of an analysis.
func ObserveConsistencyScore(score int) {
	if score >= 0 && score <= 10 {
		ConsistencyScoreHistogram.Observe(float64(score))
	}
}

// RecordDeepOffer counts an escalation offer.
func RecordDeepOffer() {
	DeepAnalysisOffersTotal.Inc()
}
