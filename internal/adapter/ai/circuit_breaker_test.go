package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("gemini-flash", 0, 0)
	assert.Equal(t, 3, cb.failureThreshold)
	assert.Equal(t, 30*time.Second, cb.recoveryTimeout)
	assert.Equal(t, CircuitClosed, cb.GetState())
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	clock := newTestClock()
	cb := NewCircuitBreaker("gemini-pro", 2, 10*time.Second)
	cb.now = clock.Now

	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.GetState())
	_, open := cb.OpenUntil()
	assert.False(t, open)

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
	until, open := cb.OpenUntil()
	require.True(t, open)
	assert.Equal(t, clock.Now().Add(10*time.Second), until)

	clock.Advance(11 * time.Second)
	_, open = cb.OpenUntil()
	assert.False(t, open)
	assert.Equal(t, CircuitHalfOpen, cb.GetState())
	assert.Equal(t, "half-open", cb.GetStats().State)

	// A failed probe reopens immediately.
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())

	clock.Advance(11 * time.Second)
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.GetState())

	stats := cb.GetStats()
	assert.Equal(t, "closed", stats.State)
	assert.Equal(t, 0, stats.FailureCount)
	assert.Equal(t, 4, stats.TotalRequests)
	assert.Equal(t, 3, stats.TotalFailures)
}

func TestCircuitBreaker_ReadsDoNotChangeState(t *testing.T) {
	clock := newTestClock()
	cb := NewCircuitBreaker("gemini-pro", 1, 10*time.Second)
	cb.now = clock.Now

	cb.RecordFailure()
	clock.Advance(11 * time.Second)
	for i := 0; i < 3; i++ {
		_, _ = cb.OpenUntil()
		_ = cb.GetState()
		_ = cb.GetStats()
	}

	cb.mu.RLock()
	defer cb.mu.RUnlock()
	assert.Equal(t, CircuitOpen, cb.state)
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestCircuitBreakerManager(t *testing.T) {
	m := NewCircuitBreakerManager(1, time.Minute)
	a := m.GetBreaker("a")
	assert.Same(t, a, m.GetBreaker("a"))

	m.GetBreaker("b").RecordFailure()
	assert.Equal(t, []string{"b"}, m.GetOpenModels())

	_, open := m.OpenUntil("b")
	assert.True(t, open)
	_, open = m.OpenUntil("never-seen")
	assert.False(t, open)

	stats := m.GetAllStats()
	assert.Len(t, stats, 2, "OpenUntil must not create breakers")
	assert.Equal(t, "open", stats["b"].State)
}
