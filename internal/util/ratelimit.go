package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces callers with a token bucket of burst 1. A zero-value
// limiter (or one built with a non-positive rate) never blocks.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)}
}

// NewIntervalLimiter creates a RateLimiter that allows one operation per
// interval. The first call passes immediately.
func NewIntervalLimiter(interval time.Duration) *RateLimiter {
	if interval <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until a token is available or the context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil || rl.lim == nil {
		return ctx.Err()
	}
	return rl.lim.Wait(ctx)
}
