// Package retry runs fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy configures the retry executor.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are coerced to 1.
	MaxAttempts int
	// BaseDelay is the delay after the first failed attempt.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// ExponentialBase is the backoff multiplier per attempt (default 2).
	ExponentialBase float64
	// Jitter multiplies each delay by a uniform random factor in [0.5, 1.5).
	Jitter bool
	// Retriable decides whether an error is worth another attempt.
	// A nil Retriable retries everything.
	Retriable func(error) bool
}

// Default is the policy used for LLM calls unless configured otherwise.
func Default() Policy {
	return Policy{
		MaxAttempts:     3,
		BaseDelay:       200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		ExponentialBase: 2,
		Jitter:          true,
	}
}

// Delay returns the backoff before attempt i+1 (i is 1-indexed), without jitter.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.ExponentialBase
	if base <= 0 {
		base = 2
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(base, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, a non-retriable error occurs, attempts are
// exhausted, or ctx is done. When the context deadline elapses mid-wait,
// the context error wraps the last attempt's error.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return joinCtx(err, lastErr)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retriable != nil && !p.Retriable(lastErr) {
			return lastErr
		}
		if i == attempts {
			break
		}

		d := p.Delay(i)
		if p.Jitter {
			d = time.Duration(float64(d) * (0.5 + rand.Float64()))
		}
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return joinCtx(ctx.Err(), lastErr)
		}
	}
	return lastErr
}

func joinCtx(ctxErr, lastErr error) error {
	if lastErr == nil {
		return ctxErr
	}
	return errors.Join(ctxErr, lastErr)
}
