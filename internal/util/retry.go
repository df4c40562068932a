package util

import (
	"context"
	"errors"
)

// RetryWithContext calls fn until it succeeds, up to maxTries attempts, and
// returns the result of the first successful call. Attempts stop early when
// the context is done, and a context error coming out of fn is returned
// as-is instead of being retried. With maxTries < 1 a single attempt is
// still made. When every attempt fails, the last error is returned.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < max(maxTries, 1); attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
	}

	return zero, lastErr
}

// Retry2WithContext is RetryWithContext for calls that return two results.
func Retry2WithContext[T1, T2 any](ctx context.Context, maxTries int, fn func(context.Context) (T1, T2, error)) (T1, T2, error) {
	type pair struct {
		first  T1
		second T2
	}
	result, err := RetryWithContext(ctx, maxTries, func(ctx context.Context) (pair, error) {
		first, second, err := fn(ctx)
		return pair{first: first, second: second}, err
	})
	return result.first, result.second, err
}

// RetryErrWithContext is RetryWithContext for calls that only report an error.
func RetryErrWithContext(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	_, err := RetryWithContext(ctx, maxTries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
