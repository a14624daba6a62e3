package domain

import (
	"fmt"
	"time"
)

// RateLimitError is returned by AI backends that answered with a throttling
// response. It matches ErrUpstreamRateLimit with errors.Is.
type RateLimitError struct {
	Model      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("model %s rate limited, retry after %s", e.Model, e.RetryAfter)
	}
	return fmt.Sprintf("model %s rate limited", e.Model)
}

// Is reports whether target is ErrUpstreamRateLimit.
func (e *RateLimitError) Is(target error) bool { return target == ErrUpstreamRateLimit }
