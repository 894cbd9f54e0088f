package retry

import (
	"context"
	"errors"
	"time"

	"github.com/spetersoncode/runchat"
)

// retryAfterFromError extracts the RetryAfter duration from a CategorizedError.
func retryAfterFromError(err error) time.Duration {
	var ce runchat.CategorizedError
	if errors.As(err, &ce) {
		return ce.RetryAfter()
	}
	return 0
}

// effectiveDelay returns the delay to use, honoring server's Retry-After if larger.
func effectiveDelay(configuredDelay time.Duration, err error) time.Duration {
	serverDelay := retryAfterFromError(err)
	if serverDelay > configuredDelay {
		return serverDelay
	}
	return configuredDelay
}

// Do executes fn with retry logic.
// It respects context cancellation during backoff waits.
// Returns the result on success, or the last error if all attempts fail.
func Do[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	return DoWithHook(ctx, cfg, nil, fn)
}

// DoWithHook is like Do but reports each attempt to hook.
// Pass a nil hook to disable reporting (equivalent to Do).
func DoWithHook[T any](ctx context.Context, cfg Config, hook Hook, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		hook.emit(Event{Type: EventAttemptStart, Attempt: attempt + 1, MaxAttempts: attempts})

		result, err := fn()
		if err == nil {
			hook.emit(Event{Type: EventSuccess, Attempt: attempt + 1, MaxAttempts: attempts})
			return result, nil
		}

		lastErr = err
		retryable := IsTransient(err)

		hook.emit(Event{
			Type:        EventAttemptFailed,
			Attempt:     attempt + 1,
			MaxAttempts: attempts,
			Error:       err,
			Retryable:   retryable,
		})

		if !retryable {
			return zero, err
		}

		// Don't sleep after the last attempt
		if attempt < attempts-1 {
			delay := effectiveDelay(cfg.Delay(attempt), err)

			hook.emit(Event{Type: EventRetrying, Attempt: attempt + 1, MaxAttempts: attempts, Delay: delay})

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}

	hook.emit(Event{Type: EventExhausted, Attempt: attempts, MaxAttempts: attempts, Error: lastErr})

	return zero, lastErr
}
