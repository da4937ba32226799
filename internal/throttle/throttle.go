// Package throttle counts attempts per key inside a fixed window.
package throttle

import (
	"context"
	"time"
)

// Result of a single attempt.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter records attempts. Attempt counts the call and reports whether
// it stays within max attempts for the current window of key.
type Limiter interface {
	Attempt(ctx context.Context, key string, max int, window time.Duration) (Result, error)
	Reset(ctx context.Context, key string) error
}
