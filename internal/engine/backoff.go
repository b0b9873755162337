package engine

import (
	"context"
	"time"
)

// Backoff returns the delay before retry attempt+1: InitialDelay doubled
// attempt times, capped at MaxDelay.
func (c Config) Backoff(attempt int) time.Duration {
	c = c.withDefaults()
	d := c.InitialDelay
	for i := 0; i < attempt; i++ {
		if d >= c.MaxDelay/2 {
			return c.MaxDelay
		}
		d *= 2
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
