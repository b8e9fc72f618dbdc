package retry

import (
	"context"
	"math/rand"
	"time"

	errs "socialdash/pkg/errors"
)

// BackoffStrategy yields the pause after a failed attempt (1-based)
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows the delay by Multiplier per attempt, capped at
// MaxDelay, with +/- JitterFactor of random spread
type ExponentialBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64

	// Rand returns values in [0, 1); nil uses math/rand
	Rand func() float64
}

// DefaultExponentialBackoff starts at 1s and caps at 30s
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NextDelay implements BackoffStrategy
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}

	limit := float64(b.MaxDelay)
	d := float64(b.BaseDelay)
	for i := 1; i < attempt && (b.MaxDelay <= 0 || d < limit); i++ {
		d *= b.Multiplier
	}
	if b.MaxDelay > 0 && d > limit {
		d = limit
	}

	if b.JitterFactor > 0 {
		r := rand.Float64
		if b.Rand != nil {
			r = b.Rand
		}
		d += d * b.JitterFactor * (2*r() - 1)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// ConstantBackoff waits Delay between every attempt
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay implements BackoffStrategy
func (b *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return b.Delay
}

// delayFor honours a server Retry-After hint when it is longer than the
// strategy's own delay
func delayFor(b BackoffStrategy, attempt int, err error) time.Duration {
	d := b.NextDelay(attempt)
	if hint := errs.RetryAfter(err); hint > d {
		return hint
	}
	return d
}

// Wait sleeps for delay unless ctx ends first
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
