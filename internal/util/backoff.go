package util

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backoff retries an operation with exponentially increasing delay, bounded
// by both an attempt count and a total elapsed-time budget. Only errors the
// Retryable predicate accepts are retried; any other error is returned to
// the caller immediately.
type Backoff struct {
	MaxAttempts int           // total attempts, including the first (<=0 means 1)
	MaxElapsed  time.Duration // wall-clock budget across all attempts (0 means no budget)
	BaseDelay   time.Duration // delay before the second attempt, doubled thereafter
	MaxDelay    time.Duration // cap on a single delay (0 means uncapped)

	// Retryable classifies errors. Nil means every error is retryable.
	Retryable func(error) bool
}

// ErrBudgetExhausted wraps the last attempt's error once the attempt count
// or elapsed-time budget has been spent.
type ErrBudgetExhausted struct {
	Attempts int
	Elapsed  time.Duration
	Last     error
}

func (e *ErrBudgetExhausted) Error() string {
	return fmt.Sprintf("retry budget exhausted after %d attempts (%s): %v", e.Attempts, e.Elapsed.Round(time.Millisecond), e.Last)
}

func (e *ErrBudgetExhausted) Unwrap() error { return e.Last }

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// backoff budget is spent. It respects context cancellation between
// attempts.
func (b Backoff) Retry(ctx context.Context, fn func() error) error {
	maxAttempts := b.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	start := time.Now()
	delay := b.BaseDelay

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if b.Retryable != nil && !b.Retryable(err) {
			return err
		}

		elapsed := time.Since(start)
		if attempt >= maxAttempts || (b.MaxElapsed > 0 && elapsed+delay > b.MaxElapsed) {
			return &ErrBudgetExhausted{Attempts: attempt, Elapsed: elapsed, Last: err}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if b.MaxDelay > 0 && delay > b.MaxDelay {
			delay = b.MaxDelay
		}
	}
}

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or the last error
// if all attempts fail.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	err := Backoff{MaxAttempts: maxAttempts, BaseDelay: baseDelay}.Retry(ctx, fn)
	var exhausted *ErrBudgetExhausted
	if errors.As(err, &exhausted) {
		return exhausted.Last
	}
	return err
}
