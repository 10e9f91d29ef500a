// Package backoff retries operations according to a RetryPolicy.
package backoff

import (
	"context"
	"time"

	"github.com/dagu-org/rangeload/internal/cmn/logger"
	"github.com/dagu-org/rangeload/internal/cmn/logger/tag"
)

type (
	// Operation to retry
	Operation func(ctx context.Context) error

	// IsRetriableFunc defines a function that checks if an error is retriable.
	IsRetriableFunc func(err error) bool
)

// minInterval replaces non-positive intervals computed by a policy.
const minInterval = 100 * time.Millisecond

// Retry executes the operation with retry logic based on the provided policy.
// If isRetriable is nil, all errors are considered retriable. The error of
// the last attempt is returned unchanged.
func Retry(ctx context.Context, op Operation, policy RetryPolicy, isRetriable IsRetriableFunc) error {
	if isRetriable == nil {
		isRetriable = func(_ error) bool { return true }
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Debug(ctx, "Retried operation succeeded", tag.Attempt(attempt))
			}
			return nil
		}

		if !isRetriable(err) {
			return err
		}

		interval, retryErr := policy.ComputeNextInterval(attempt-1, time.Since(start), err)
		if retryErr != nil {
			logger.Warn(ctx, "Retry attempts exhausted", tag.Attempt(attempt), tag.Error(err))
			return err
		}
		if interval <= 0 {
			interval = minInterval
		}

		logger.Debug(ctx, "Operation failed; scheduling retry",
			tag.Attempt(attempt),
			tag.Interval(interval),
			tag.Error(err),
		)

		if err := wait(ctx, interval); err != nil {
			return err
		}
	}
}

func wait(ctx context.Context, interval time.Duration) error {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
