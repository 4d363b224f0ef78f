package patterns

import (
	"context"
	"time"
)

// DefaultTimeout is the default timeout for collaborator requests
const DefaultTimeout = 3 * time.Second

// SlowServiceTimeout covers provider calls that wait on a bank
const SlowServiceTimeout = 10 * time.Second

// WithTimeout derives a bounded context for one outbound call
func WithTimeout(parent context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = DefaultTimeout
	}
	return context.WithTimeout(parent, duration)
}
