// Package retry runs a fallible call under a bounded attempt budget with
// rate-limit aware backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailtriage/internal/llm"
)

type Policy struct {
	MaxAttempts int
	// RateLimitBackoff is used when a rate-limit error carries no hint.
	RateLimitBackoff time.Duration
	// MinBackoff and MaxBackoff clamp every rate-limit wait.
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	ErrorBackoff time.Duration

	// Sleep waits d or returns ctx.Err(). Nil means a timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      3,
		RateLimitBackoff: 5 * time.Second,
		MinBackoff:       time.Second,
		MaxBackoff:       60 * time.Second,
		ErrorBackoff:     time.Second,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Backoff returns how long to wait after a failed attempt.
func (p Policy) Backoff(err error) time.Duration {
	var rl *llm.RateLimitError
	if !errors.As(err, &rl) {
		return p.ErrorBackoff
	}

	wait := p.RateLimitBackoff
	if rl.RetryAfter > 0 {
		wait = rl.RetryAfter
	}
	if p.MinBackoff > 0 && wait < p.MinBackoff {
		wait = p.MinBackoff
	}
	if p.MaxBackoff > 0 && wait > p.MaxBackoff {
		wait = p.MaxBackoff
	}
	return wait
}

// Do calls fn until it succeeds or the attempt budget is spent. It returns how many
// attempts ran. No sleep follows the final attempt. Permanent errors, caller
// cancellation and a done ctx stop immediately.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if IsPermanent(err) {
			return attempt, err
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return attempt, err
		}
		if attempt == maxAttempts {
			break
		}

		wait := p.Backoff(err)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if sleepErr := sleep(ctx, wait); sleepErr != nil {
			return attempt, sleepErr
		}
	}

	return maxAttempts, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, err)
}

// Sleep waits d unless ctx is done first.
func Sleep(ctx context.Context, d time.Duration) error {
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
