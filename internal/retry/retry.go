// Package retry implements bounded-attempt retries as an explicit loop,
// so callers see Success / RetryableFailure / FatalFailure as visible
// branches instead of exception-style control flow.
package retry

import (
	"context"
	"errors"
	"time"

	"stackwatch/internal/domain"
)

// Outcome classifies one attempt.
type Outcome int

const (
	Success Outcome = iota
	RetryableFailure
	FatalFailure
)

// Classify maps an attempt error to its outcome. Backend-unavailable errors
// are the only retryable class; everything else fails fast.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, domain.ErrModelUnavailable):
		return RetryableFailure
	default:
		return FatalFailure
	}
}

// Do runs fn up to maxAttempts times, sleeping base, 2*base, 4*base ...
// between retryable failures. It returns the first success, the first fatal
// error, or the last retryable error once attempts are exhausted.
func Do(ctx context.Context, maxAttempts int, base time.Duration, fn func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	delay := base
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		switch Classify(err) {
		case Success:
			return nil
		case FatalFailure:
			return err
		case RetryableFailure:
			lastErr = err
		}

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return lastErr
}
