// Package ratelimit spaces request starts by a fixed delay.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/gif-crawler/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// Delay is the minimum gap between consecutive request starts.
	// Zero disables limiting.
	Delay time.Duration
}

// Limiter enforces Config.Delay across every task of an engine.
type Limiter struct {
	delay   time.Duration
	limiter *rate.Limiter
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	l := &Limiter{delay: cfg.Delay}
	if cfg.Delay > 0 {
		l.limiter = rate.NewLimiter(rate.Every(cfg.Delay), 1)
	}
	return l
}

// Enabled reports whether a delay is enforced.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limiter != nil
}

// Delay returns the configured gap.
func (l *Limiter) Delay() time.Duration {
	if l == nil {
		return 0
	}
	return l.delay
}

// Wait blocks until the next request may start, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	if !l.Enabled() {
		return nil
	}
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}
