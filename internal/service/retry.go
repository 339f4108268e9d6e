package service

import (
	"context"
	"time"
)

// retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. Errors for which shouldRetry returns false end the loop at once.
// Context cancellation is honoured between attempts.
func retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, shouldRetry func(error) bool, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}

func always(error) bool { return true }
