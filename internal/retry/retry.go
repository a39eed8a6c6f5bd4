// Package retry repeats an operation after transient failures with
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do returns it without another attempt.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// WaitError carries a wait requested by the remote side, typically from a
// Retry-After header.
type WaitError struct {
	Err  error
	Wait time.Duration
}

func (e *WaitError) Error() string { return e.Err.Error() }
func (e *WaitError) Unwrap() error { return e.Err }

// After wraps err so that the next attempt waits at least d.
func After(err error, d time.Duration) error {
	return &WaitError{Err: err, Wait: d}
}

// Policy describes a retry schedule. The zero value makes a single attempt.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps the backoff between attempts. Zero means uncapped. A
	// requested wait longer than MaxDelay ends the retries.
	MaxDelay time.Duration
}

// Do runs fn until it succeeds, returns a permanent error, the attempts run
// out or ctx ends. fn receives the zero-based attempt number. The last
// error from fn is returned unwrapped of any retry markers.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		wait, ok := p.backoff(attempt, err)
		var we *WaitError
		if errors.As(err, &we) {
			err = we.Err
		}
		if !ok || attempt == attempts-1 {
			return err
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// backoff returns the pause before attempt+1. It reports false when the
// remote side asked for a longer wait than the policy allows.
func (p Policy) backoff(attempt int, err error) (time.Duration, bool) {
	d := p.BaseDelay << min(attempt, 30)
	if d < 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	// Equal jitter: half fixed, half random.
	if half := d / 2; half > 0 {
		d = half + time.Duration(rand.Int64N(int64(half)+1))
	}

	var we *WaitError
	if errors.As(err, &we) && we.Wait > d {
		if p.MaxDelay > 0 && we.Wait > p.MaxDelay {
			return 0, false
		}
		d = we.Wait
	}
	return d, true
}
