// Package backoff provides the retry delay schedule shared by the filter's
// store retries and the publisher's send retries.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with jitter. The zero value is
// not usable; construct with the fields set or use a Default* helper from
// the consuming package. Backoff is stateless: the delay depends only on
// the attempt index, so one value is safely shared across goroutines.
type Backoff struct {
	Initial    time.Duration // delay before the first retry
	Max        time.Duration // cap applied after multiplication
	Multiplier float64       // growth per attempt
	Jitter     float64       // jitter fraction 0-1 applied as ±Jitter
}

// Duration returns the delay for the given zero-based retry attempt.
func (b Backoff) Duration(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay < 0 {
		delay = float64(b.Initial)
	}
	return time.Duration(delay)
}

// Sleep blocks for d or until the context is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
