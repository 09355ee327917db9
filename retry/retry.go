// Package retry implements a small bounded-backoff retry helper for calls to
// external services (model providers, the knowledge store).
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy controls retry behavior. The zero value retries nothing; use
// DefaultPolicy for sensible defaults.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// Delay is the wait before the second attempt.
	Delay time.Duration
	// Backoff multiplies the delay after each failed attempt.
	Backoff float64
	// Jitter adds up to this fraction of the current delay randomly.
	Jitter float64
}

// DefaultPolicy retries twice more after the first failure with a short
// doubling delay.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Delay: 200 * time.Millisecond, Backoff: 2, Jitter: 0.2}
}

// Permanent marks an error as non-retryable. Do returns the wrapped error
// immediately without consuming further attempts.
type Permanent struct{ Err error }

// Error implements the error interface.
func (p *Permanent) Error() string { return p.Err.Error() }

// Unwrap exposes the wrapped error.
func (p *Permanent) Unwrap() error { return p.Err }

// NonRetryable wraps err so Do stops retrying.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Do runs fn until it succeeds, the policy is exhausted, or ctx is done. The
// last error is returned on exhaustion.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	delay := p.Delay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *Permanent
		if errors.As(lastErr, &perm) {
			return perm.Err
		}
		if attempt == p.MaxAttempts {
			break
		}
		wait := delay
		if p.Jitter > 0 {
			wait += time.Duration(rand.Float64() * p.Jitter * float64(delay))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if p.Backoff > 1 {
			delay = time.Duration(float64(delay) * p.Backoff)
		}
	}
	return lastErr
}
