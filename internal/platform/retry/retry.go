package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/apperr"
)

// Config parameterizes exponential backoff. MaxAttempts counts total tries
// including the first; zero or negative means unbounded.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the backoff before try attempt+1: BaseDelay doubled per
// attempt, capped at MaxDelay, with +/-20% jitter so synchronized workers
// spread out.
func (c Config) Delay(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= c.MaxDelay {
			d = c.MaxDelay
			break
		}
	}
	if d <= 0 {
		return 0
	}
	span := int64(2 * d / 5)
	if span > 0 {
		d += time.Duration(rand.Int63n(span)) - d/5
	}
	return d
}

// Do runs fn until it succeeds, returns a permanent error, the attempt
// budget runs out, or ctx is done. Sleeps between tries per Delay.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; cfg.MaxAttempts <= 0 || attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Delay(attempt - 1)):
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !apperr.IsTransient(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
