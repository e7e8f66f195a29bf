// Package retry provides a generic retry-with-exponential-backoff wrapper
// used by all upstream calls.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Operation is a unit of work that may fail transiently.
type Operation[T any] func(ctx context.Context) (T, error)

// Do executes op, retrying on any error up to maxRetries additional attempts
// (maxRetries+1 total). Before each retry it sleeps baseDelay * 2^attempt with
// no jitter. Every error is retried; callers needing selective retry must
// filter before invoking. On final failure the last error is returned
// unchanged so the caller can inspect its type.
func Do[T any](ctx context.Context, label string, maxRetries int, baseDelay time.Duration, op Operation[T]) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt < maxRetries {
			delay := baseDelay * (1 << uint(attempt))
			logrus.WithFields(logrus.Fields{
				"operation": label,
				"attempt":   attempt + 1,
				"of":        maxRetries + 1,
				"delay":     delay.String(),
				"error":     err.Error(),
			}).Warn("Operation failed, retrying")

			if err := sleep(ctx, delay); err != nil {
				return zero, fmt.Errorf("%s aborted during backoff: %w", label, err)
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"operation": label,
		"attempts":  maxRetries + 1,
		"error":     lastErr.Error(),
	}).Error("Operation failed after all attempts")

	return zero, lastErr
}

// sleep waits for the given duration, returning early if ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
