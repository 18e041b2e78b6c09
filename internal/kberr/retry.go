package kberr

import (
	"context"
	"time"
)

// RetryConfig configures retry behavior for backend and embedder calls.
type RetryConfig struct {
	// MaxRetries is the number of retry attempts after the initial attempt.
	MaxRetries int

	// Delay is the linear backoff between attempts.
	Delay time.Duration
}

// DefaultRetryConfig returns the retry policy for transient backend errors:
// a single retry after a 100 ms linear backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 1,
		Delay:      100 * time.Millisecond,
	}
}

// RetryBackend executes fn, retrying transient failures per cfg. After the
// retry budget is exhausted the last error surfaces as KindBackendUnavailable.
// Structured errors that are not transient (InvalidArgument, NotFound, ...)
// surface immediately without a retry. Context cancellation surfaces as
// KindCanceled.
func RetryBackend(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return FromContext(ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}

		// Non-transient structured errors are final.
		if kind := KindOf(err); kind != KindInternal && kind != KindBackendUnavailable {
			return err
		}

		lastErr = err
		if attempt >= cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return FromContext(ctx.Err())
		case <-time.After(cfg.Delay):
		}
	}

	return Wrap(KindBackendUnavailable, "backend unavailable after retry", lastErr)
}

// RetryBackendResult is RetryBackend for functions that return a value.
func RetryBackendResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	err := RetryBackend(ctx, cfg, func() error {
		var callErr error
		result, callErr = fn()
		return callErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
