package s3

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how hard we try to read a job object.
type RetryPolicy struct {
	// MaxAttempts counts the first call.
	MaxAttempts int
	// NewBackOff returns a fresh delay schedule for one operation.
	NewBackOff func() backoff.BackOff
	Retryable  func(error) bool
	Sleep      func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy makes 4 attempts, waiting 0.4s, 0.8s and 1.6s between
// them, and retries only throttling errors.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		NewBackOff:  jobFetchBackOff,
		Retryable: func(err error) bool {
			return errors.Is(err, ErrThrottled)
		},
		Sleep: sleepContext,
	}
}

// jobFetchBackOff yields 0.2s * 2^n for n = 1, 2, 3...
func jobFetchBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 400 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs op until it succeeds, fails with a non-retryable error, or runs out
// of attempts. It returns the number of calls made and the last error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	newBackOff := p.NewBackOff
	if newBackOff == nil {
		newBackOff = jobFetchBackOff
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	b := backoff.WithMaxRetries(newBackOff(), uint64(maxAttempts-1))
	b.Reset()

	attempts := 0
	for {
		attempts++
		err := op(ctx)
		if err == nil {
			return attempts, nil
		}
		if !retryable(err) {
			return attempts, err
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return attempts, err
		}
		if serr := sleep(ctx, wait); serr != nil {
			return attempts, errors.Join(err, serr)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
