package retry

import (
	"context"
	"errors"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// ErrInvalidAttempts is returned when Options.Attempts is not positive.
var ErrInvalidAttempts = errors.New("retry: attempts must be greater than zero")

// Options controls a retry loop.
type Options struct {
	// Attempts is the total number of calls, including the first.
	Attempts int
	// BaseDelay is the wait after the first failure; it doubles per attempt.
	BaseDelay time.Duration
	// ShouldRetry decides whether an error is transient. Defaults to IsTransient.
	ShouldRetry func(error) bool
}

// DefaultOptions returns three attempts with a 200ms base delay.
func DefaultOptions() Options {
	return Options{
		Attempts:  3,
		BaseDelay: 200 * time.Millisecond,
	}
}

// Result is the value delivered by Go.
type Result[T any] struct {
	Value T
	Err   error
}

// MaxDelay caps the wait between two attempts.
const MaxDelay = time.Minute

// Delay returns the wait before the attempt following failed attempt n
// (1-based), doubling from base and capped at MaxDelay.
func Delay(base time.Duration, n int) time.Duration {
	if base <= 0 {
		return 0
	}
	if base >= MaxDelay {
		return MaxDelay
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= MaxDelay {
			return MaxDelay
		}
	}
	return d
}

// Do runs op until it succeeds, returns a non-transient error, or the
// attempts are exhausted. The last error is returned unwrapped.
func Do[T any](ctx context.Context, opts Options, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if opts.Attempts <= 0 {
		return zero, ErrInvalidAttempts
	}
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	attempt := 0
	backoff := goretry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		if attempt >= opts.Attempts {
			return 0, true
		}
		return Delay(opts.BaseDelay, attempt), false
	})

	var value T
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			value = v
			return nil
		}
		if shouldRetry(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return zero, err
	}
	return value, nil
}

// DoErr is Do for operations without a result value.
func DoErr(ctx context.Context, opts Options, op func(context.Context) error) error {
	_, err := Do(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Go runs Do on its own goroutine and delivers the outcome on the returned
// channel, so the caller stays free while the loop sleeps between attempts.
func Go[T any](ctx context.Context, opts Options, op func(context.Context) (T, error)) <-chan Result[T] {
	out := make(chan Result[T], 1)
	go func() {
		defer close(out)
		v, err := Do(ctx, opts, op)
		out <- Result[T]{Value: v, Err: err}
	}()
	return out
}
