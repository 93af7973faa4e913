// Package retry provides a bounded retry combinator for calls to flaky
// upstream services.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"
)

// DefaultAttempts is the retry budget used for upstream pricing calls.
const DefaultAttempts = 4

// ErrExhausted is matched by the error returned once every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// ExhaustedError reports the attempt count and the last failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error { return []error{ErrExhausted, e.Last} }

// StatusError is an unexpected HTTP status from an upstream.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Code)
}

// RateLimited reports whether err is an HTTP 429 from an upstream.
func RateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusTooManyRequests
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Policy retries a call up to maxAttempts times. Between attempts it sleeps
// a random whole number of units in [minUnits, maxUnits]; a rate-limited
// attempt scales that sleep by the attempt number.
type Policy struct {
	maxAttempts int
	unit        time.Duration
	minUnits    int
	maxUnits    int
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a policy sleeping 1 to 3 units between attempts.
func NewPolicy(maxAttempts int, unit time.Duration) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Policy{
		maxAttempts: maxAttempts,
		unit:        unit,
		minUnits:    1,
		maxUnits:    3,
		sleep:       sleepCtx,
	}
}

// MaxAttempts returns the retry budget.
func (p *Policy) MaxAttempts() int { return p.maxAttempts }

// Delay returns the pause taken after a failed attempt (1-based).
func (p *Policy) Delay(attempt int, err error) time.Duration {
	units := p.minUnits
	if p.maxUnits > p.minUnits {
		units += rand.Intn(p.maxUnits - p.minUnits + 1)
	}
	d := time.Duration(units) * p.unit
	if RateLimited(err) {
		d *= time.Duration(attempt)
	}
	return d
}

// Execute runs fn until it succeeds, returns a Permanent error, the context
// ends, or the budget is spent. The last case yields an *ExhaustedError.
func (p *Policy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		// Don't sleep after last attempt
		if attempt < p.maxAttempts {
			if serr := p.sleep(ctx, p.Delay(attempt, err)); serr != nil {
				return fmt.Errorf("retry interrupted after %d attempts: %w", attempt, lastErr)
			}
		}
	}
	return &ExhaustedError{Attempts: p.maxAttempts, Last: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
