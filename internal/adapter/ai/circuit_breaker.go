package ai

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/observability"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the recovery timeout has elapsed.
	CircuitOpen
	// CircuitHalfOpen lets a probe call through after recovery timeout.
	CircuitHalfOpen
)

// String returns a string representation of the circuit state
func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks consecutive hard failures of one model. Rate limits
// are handled by RateLimitCache and never count here.
type CircuitBreaker struct {
	mu               sync.RWMutex
	model            string
	failureThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time
	state            CircuitState
	failureCount     int
	lastFailureTime  time.Time
	totalRequests    int
	totalFailures    int
}

// NewCircuitBreaker creates a breaker for model. Non-positive arguments fall
// back to 3 failures and 30 seconds.
func NewCircuitBreaker(model string, threshold int, recovery time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if recovery <= 0 {
		recovery = 30 * time.Second
	}
	return &CircuitBreaker{
		model:            model,
		failureThreshold: threshold,
		recoveryTimeout:  recovery,
		now:              time.Now,
		state:            CircuitClosed,
	}
}

// OpenUntil returns the instant an open breaker will allow a probe. It does
// not change the breaker state.
func (cb *CircuitBreaker) OpenUntil() (time.Time, bool) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.effectiveState() != CircuitOpen {
		return time.Time{}, false
	}
	return cb.lastFailureTime.Add(cb.recoveryTimeout), true
}

// effectiveState reports an open breaker whose recovery timeout has passed as
// half-open. Callers must hold mu.
func (cb *CircuitBreaker) effectiveState() CircuitState {
	if cb.state == CircuitOpen && !cb.now().Before(cb.lastFailureTime.Add(cb.recoveryTimeout)) {
		return CircuitHalfOpen
	}
	return cb.state
}

// RecordSuccess closes the breaker and resets the failure streak.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	cb.failureCount = 0
	if cb.state != CircuitClosed {
		slog.Info("circuit breaker closed after successful call", slog.String("model", cb.model))
		cb.setState(CircuitClosed)
	}
}

// RecordFailure counts a hard failure. A failed half-open probe reopens the
// breaker immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	probe := cb.effectiveState() == CircuitHalfOpen
	cb.failureCount++
	cb.totalFailures++
	cb.totalRequests++
	cb.lastFailureTime = cb.now()

	if probe || cb.failureCount >= cb.failureThreshold {
		if probe || cb.state != CircuitOpen {
			slog.Warn("circuit breaker opened due to consecutive failures",
				slog.String("model", cb.model),
				slog.Int("failure_count", cb.failureCount),
				slog.Int("threshold", cb.failureThreshold))
		}
		cb.setState(CircuitOpen)
	}
}

// GetState returns the current circuit state
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.effectiveState()
}

// CircuitStats is a read-only snapshot of a breaker.
type CircuitStats struct {
	State         string    `json:"state"`
	FailureCount  int       `json:"failureCount"`
	TotalRequests int       `json:"totalRequests"`
	TotalFailures int       `json:"totalFailures"`
	LastFailure   time.Time `json:"lastFailure"`
}

// GetStats returns circuit breaker statistics
func (cb *CircuitBreaker) GetStats() CircuitStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return CircuitStats{
		State:         cb.effectiveState().String(),
		FailureCount:  cb.failureCount,
		TotalRequests: cb.totalRequests,
		TotalFailures: cb.totalFailures,
		LastFailure:   cb.lastFailureTime,
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(s CircuitState) {
	cb.state = s
	observability.RecordCircuitBreakerState(cb.model, int(s))
}

// CircuitBreakerManager lazily creates one breaker per model.
type CircuitBreakerManager struct {
	mu        sync.Mutex
	breakers  map[string]*CircuitBreaker
	threshold int
	recovery  time.Duration
	now       func() time.Time
}

// NewCircuitBreakerManager creates a manager whose breakers share threshold and recovery.
func NewCircuitBreakerManager(threshold int, recovery time.Duration) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		recovery:  recovery,
		now:       time.Now,
	}
}

// GetBreaker returns or creates the breaker for model.
func (m *CircuitBreakerManager) GetBreaker(model string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[model]; ok {
		return b
	}
	b := NewCircuitBreaker(model, m.threshold, m.recovery)
	b.now = m.now
	m.breakers[model] = b
	return b
}

// OpenUntil reports the open window of model's breaker without creating one.
func (m *CircuitBreakerManager) OpenUntil(model string) (time.Time, bool) {
	m.mu.Lock()
	b, ok := m.breakers[model]
	m.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return b.OpenUntil()
}

// GetAllStats returns statistics for all circuit breakers
func (m *CircuitBreakerManager) GetAllStats() map[string]CircuitStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(map[string]CircuitStats, len(m.breakers))
	for model, b := range m.breakers {
		stats[model] = b.GetStats()
	}
	return stats
}

// GetOpenModels returns models whose breaker is open, sorted.
func (m *CircuitBreakerManager) GetOpenModels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var open []string
	for model, b := range m.breakers {
		if b.GetState() == CircuitOpen {
			open = append(open, model)
		}
	}
	sort.Strings(open)
	return open
}
