// Package retry runs an operation a bounded number of times with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 200 * time.Millisecond
	DefaultMultiplier  = 2.0
)

// Policy bounds how an operation is retried.
//
// The delay before attempt n+1 is BaseDelay * Multiplier^(n-1), so the default policy waits
// 200ms and then 400ms between its three attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64

	// Retryable reports whether a failure is worth another attempt. Nil retries every error.
	Retryable func(error) bool

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Outcome describes how many times the operation ran.
type Outcome struct {
	Attempts   int
	RetryCount int
}

// Default returns the 3 attempt, 200ms, x2 policy.
func Default() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
	}
}

// Delay returns the wait that follows failed attempt n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < n; i++ {
		d *= mult
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds, returns a non-retryable error, or MaxAttempts is reached.
//
// The returned error is the last one fn produced, or the context error if the wait was cut short.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) (Outcome, error) {
	attempts := max(p.MaxAttempts, 1)
	sleep := p.Sleep
	if sleep == nil {
		sleep = wait
	}

	var out Outcome
	var err error
	for n := 1; n <= attempts; n++ {
		out.Attempts = n
		out.RetryCount = n - 1

		if err = fn(ctx); err == nil {
			return out, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return out, err
		}
		if n == attempts {
			break
		}
		if serr := sleep(ctx, p.Delay(n)); serr != nil {
			return out, fmt.Errorf("retry aborted after %d attempts: %w", n, serr)
		}
	}
	return out, err
}

func wait(ctx context.Context, d time.Duration) error {
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
