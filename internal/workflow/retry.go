package workflow

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrInvalidRetryPolicy indicates a RetryPolicy that cannot be
// satisfied (zero attempts or MaxDelay below BaseDelay).
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// RetryPolicy bounds retries of calls into transient-flaky
// collaborators (the research tool, the model). Retries happen inside
// a stage and are invisible to the engine's state machine.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the
	// first. A value of 1 disables retries.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff between attempts.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Nil retries every error.
	Retryable func(error) bool
}

// DefaultRetryPolicy matches the collaborator contract: up to 3
// attempts with exponential backoff between 2s and 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// Validate checks the policy's constraints.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if p.MaxDelay > 0 && p.BaseDelay > 0 && p.MaxDelay < p.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// Retry runs op until it succeeds, the policy is exhausted, or the
// context is cancelled. The last error is returned on exhaustion.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	if err := p.Validate(); err != nil {
		return zero, err
	}

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff(attempt-1, p.BaseDelay, p.MaxDelay)):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

// backoff computes min(base * 2^attempt, maxDelay) plus jitter in
// [0, base) to avoid synchronized retry storms.
func backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- retry jitter, not security
	return delay + jitter
}
