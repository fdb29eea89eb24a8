// Package retry decides whether a failed fetch is attempted again and
// mutates the task's options for the next attempt.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/gif-crawler/internal/crawler"
)

// Policy decides the fate of a failed attempt.
type Policy interface {
	// Next returns the delay before the next attempt and true, or false when
	// the failure is terminal. It updates opts in place.
	Next(err error, opts *crawler.Options) (time.Duration, bool)
}

// Controller retries transport errors with a fixed delay, spending one unit
// of the task's retry budget and rotating its proxies each time.
type Controller struct {
	minDelay time.Duration
}

var _ Policy = (*Controller)(nil)

// New builds a Controller. minDelay is a floor applied to each task's delay.
func New(minDelay time.Duration) *Controller {
	if minDelay < 0 {
		minDelay = 0
	}
	return &Controller{minDelay: minDelay}
}

// Retryable reports whether err may succeed on another attempt.
// Cancellation means the engine is shutting down and is never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Next implements Policy.
func (c *Controller) Next(err error, opts *crawler.Options) (time.Duration, bool) {
	if !Retryable(err) || opts == nil || opts.Retries <= 0 {
		return 0, false
	}
	opts.Retries--
	opts.Proxies = Rotate(opts.Proxies)
	delay := opts.RetryDelay
	if delay < c.minDelay {
		delay = c.minDelay
	}
	return delay, true
}

// Rotate moves the first proxy to the back. It returns a new slice.
func Rotate(proxies []string) []string {
	if len(proxies) < 2 {
		return proxies
	}
	out := make([]string, 0, len(proxies))
	out = append(out, proxies[1:]...)
	return append(out, proxies[0])
}
