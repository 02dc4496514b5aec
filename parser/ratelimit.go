package parser

import (
	"context"
	"time"
)

// RateLimiter spaces out sequential operations by a fixed interval.
// A zero interval disables waiting entirely.
type RateLimiter struct {
	ticker *time.Ticker
}

// NewRateLimiter creates a new rate limiter with the specified interval.
//
// Example usage:
//
//	limiter := parser.NewRateLimiter(500 * time.Millisecond)
//	defer limiter.Stop()
//
//	for _, ref := range assets {
//	    if err := limiter.Wait(ctx); err != nil {
//	        return err
//	    }
//	    // ... fetch ...
//	}
func NewRateLimiter(interval time.Duration) *RateLimiter {
	rl := &RateLimiter{}
	if interval > 0 {
		rl.ticker = time.NewTicker(interval)
	}
	return rl
}

// Wait blocks until the next tick or until ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil || rl.ticker == nil {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rl.ticker.C:
		return nil
	}
}

// Stop releases the ticker. Typically used with defer.
func (rl *RateLimiter) Stop() {
	if rl != nil && rl.ticker != nil {
		rl.ticker.Stop()
	}
}
