package ai

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// RateLimitEntry is the block state of one model.
type RateLimitEntry struct {
	Model         string
	BlockedUntil  time.Time
	FailureCount  int
	LastFailure   time.Time
	BlockDuration time.Duration
	MaxFailures   int
}

func (e *RateLimitEntry) isBlocked(now time.Time) bool {
	return now.Before(e.BlockedUntil)
}

// recordFailure counts a soft failure and blocks the model once MaxFailures
// consecutive failures are seen. The block doubles per extra failure, capped
// at ten minutes.
func (e *RateLimitEntry) recordFailure(now time.Time) {
	e.FailureCount++
	e.LastFailure = now
	if e.FailureCount < e.MaxFailures {
		return
	}
	shift := e.FailureCount - e.MaxFailures
	if shift > 6 {
		shift = 6
	}
	blockFor := e.BlockDuration * time.Duration(1<<shift)
	if blockFor > 10*time.Minute {
		blockFor = 10 * time.Minute
	}
	e.BlockedUntil = now.Add(blockFor)
	slog.Warn("model blocked after consecutive failures",
		slog.String("model", e.Model),
		slog.Int("failure_count", e.FailureCount),
		slog.Duration("block_duration", blockFor),
		slog.Time("blocked_until", e.BlockedUntil))
}

// RateLimitStats is a read-only snapshot of one entry.
type RateLimitStats struct {
	Blocked       bool      `json:"blocked"`
	FailureCount  int       `json:"failureCount"`
	LastFailure   time.Time `json:"lastFailure"`
	BlockedUntil  time.Time `json:"blockedUntil"`
	TimeRemaining string    `json:"timeRemaining"`
}

// RateLimitCache remembers which models are throttled and until when.
// It is fed by capability outcomes and read by StatusChecker.
type RateLimitCache struct {
	mu              sync.RWMutex
	entries         map[string]*RateLimitEntry
	defaultDuration time.Duration
	maxFailures     int
	cleanupInterval time.Duration
	now             func() time.Time
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// RateLimitCacheOption configures a RateLimitCache.
type RateLimitCacheOption func(*RateLimitCache)

// WithBlockDuration sets the default block applied when no Retry-After is known.
func WithBlockDuration(d time.Duration) RateLimitCacheOption {
	return func(c *RateLimitCache) {
		if d > 0 {
			c.defaultDuration = d
		}
	}
}

// WithMaxFailures sets how many consecutive soft failures block a model.
func WithMaxFailures(n int) RateLimitCacheOption {
	return func(c *RateLimitCache) {
		if n > 0 {
			c.maxFailures = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) RateLimitCacheOption {
	return func(c *RateLimitCache) { c.now = now }
}

// WithCleanupInterval sets how often expired entries are purged. Zero disables
// the background routine.
func WithCleanupInterval(d time.Duration) RateLimitCacheOption {
	return func(c *RateLimitCache) { c.cleanupInterval = d }
}

// NewRateLimitCache creates a cache and starts its cleanup routine. Call Stop
// to release it.
func NewRateLimitCache(opts ...RateLimitCacheOption) *RateLimitCache {
	c := &RateLimitCache{
		entries:         make(map[string]*RateLimitEntry),
		defaultDuration: 20 * time.Second,
		maxFailures:     5,
		cleanupInterval: 30 * time.Second,
		now:             time.Now,
		stopCleanup:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cleanupInterval > 0 {
		go c.cleanupRoutine()
	}
	return c
}

// BlockedUntil returns the end of the model's block window and whether it is
// still in the future.
func (c *RateLimitCache) BlockedUntil(model string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[model]
	if !ok || !e.isBlocked(c.now()) {
		return time.Time{}, false
	}
	return e.BlockedUntil, true
}

// RecordRateLimit blocks model for retryAfter, or the default duration when
// retryAfter is not positive.
func (c *RateLimitCache) RecordRateLimit(model string, retryAfter time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e := c.getOrCreateEntry(model)
	e.FailureCount++
	e.LastFailure = now

	blockFor := retryAfter
	if blockFor <= 0 {
		blockFor = c.defaultDuration
	}
	if until := now.Add(blockFor); until.After(e.BlockedUntil) {
		e.BlockedUntil = until
	}

	slog.Warn("model rate-limited; blocking until retry-after",
		slog.String("model", model),
		slog.Duration("retry_after", blockFor),
		slog.Time("blocked_until", e.BlockedUntil),
		slog.Int("failure_count", e.FailureCount))
}

// RecordFailure counts a soft failure that may eventually block model.
func (c *RateLimitCache) RecordFailure(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.getOrCreateEntry(model).recordFailure(c.now())
}

// RecordSuccess clears the failure count and any block for model.
func (c *RateLimitCache) RecordSuccess(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[model]
	if !ok {
		return
	}
	if e.FailureCount > 0 {
		slog.Info("model unblocked after successful request",
			slog.String("model", model),
			slog.Int("previous_failures", e.FailureCount))
	}
	e.FailureCount = 0
	e.BlockedUntil = time.Time{}
}

// GetBlockedModels returns the currently blocked models, sorted.
func (c *RateLimitCache) GetBlockedModels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	var blocked []string
	for model, e := range c.entries {
		if e.isBlocked(now) {
			blocked = append(blocked, model)
		}
	}
	sort.Strings(blocked)
	return blocked
}

// GetAllStats returns a snapshot of every tracked model.
func (c *RateLimitCache) GetAllStats() map[string]RateLimitStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	stats := make(map[string]RateLimitStats, len(c.entries))
	for model, e := range c.entries {
		var remaining time.Duration
		if e.isBlocked(now) {
			remaining = e.BlockedUntil.Sub(now)
		}
		stats[model] = RateLimitStats{
			Blocked:       e.isBlocked(now),
			FailureCount:  e.FailureCount,
			LastFailure:   e.LastFailure,
			BlockedUntil:  e.BlockedUntil,
			TimeRemaining: remaining.Round(time.Millisecond).String(),
		}
	}
	return stats
}

// Stop stops the cleanup routine. It is safe to call more than once.
func (c *RateLimitCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

func (c *RateLimitCache) getOrCreateEntry(model string) *RateLimitEntry {
	e, ok := c.entries[model]
	if !ok {
		e = &RateLimitEntry{
			Model:         model,
			BlockDuration: c.defaultDuration,
			MaxFailures:   c.maxFailures,
		}
		c.entries[model] = e
	}
	return e
}

func (c *RateLimitCache) cleanupRoutine() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

// cleanup removes entries that are unblocked and have been quiet for twice
// the default block duration.
func (c *RateLimitCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for model, e := range c.entries {
		if !e.isBlocked(now) && now.Sub(e.LastFailure) > c.defaultDuration*2 {
			delete(c.entries, model)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("cleaned up expired rate limit entries", slog.Int("count", removed))
	}
}
