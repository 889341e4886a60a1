// Package retry runs an operation with exponential backoff until it
// succeeds, fails permanently or runs out of attempts.
//
// strobe uses it while a freshly started target has not mapped its image
// yet:
//
//	err := retry.Do(ctx, retry.Config{MaxRetries: 5, InitialBackoff: 50 * time.Millisecond},
//		func() error { slide, err = p.Slide(); return err },
//		func(err error) bool { return errors.Is(err, target.ErrNoMapping) })
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config bounds a retry loop.
type Config struct {
	// MaxRetries is the number of calls made at most. Values below one
	// are treated as one.
	MaxRetries int

	// InitialBackoff is the wait before the second call. It doubles for
	// each call after that.
	InitialBackoff time.Duration

	// MaxBackoff caps a single wait. Zero means uncapped.
	MaxBackoff time.Duration
}

// Backoff returns the wait before call number attempt+1, for attempt >= 1.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		if c.MaxBackoff > 0 && d >= c.MaxBackoff {
			break
		}
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// ShouldRetryFunc reports whether err is transient. A nil func retries
// every error.
type ShouldRetryFunc func(error) bool

// Do calls fn until it returns nil, returns an error shouldRetry rejects,
// or cfg.MaxRetries calls have failed. The last case wraps fn's final
// error. A cancelled ctx ends the loop during a wait with ctx.Err().
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	attempts := max(cfg.MaxRetries, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(cfg.Backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
