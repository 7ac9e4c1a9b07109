package backend

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryPolicy configures exponential backoff around adapter calls.
type RetryPolicy struct {
	MaxRetries int     // retry attempts after the initial call
	BaseDelay  float64 // seconds
	MaxDelay   float64 // seconds
	Multiplier float64
	Jitter     bool
}

// DefaultRetryPolicy returns the policy used by the turn controller.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  1.0,
		MaxDelay:   30.0,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Delay computes the backoff delay for attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := math.Min(p.BaseDelay*math.Pow(p.Multiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		delay *= 0.5 + rand.Float64() // [0.5, 1.5)
	}
	return time.Duration(delay * float64(time.Second))
}

// Retry runs fn, retrying transient failures per the policy. Rate limit
// errors carrying a Retry-After hint override the computed delay unless the
// hint exceeds MaxDelay, in which case the error surfaces immediately.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		if !IsRetryable(err) {
			return zero, err
		}

		delay := policy.Delay(attempt)
		if rl, ok := err.(*RateLimitError); ok && rl.RetryAfter != nil {
			hinted := time.Duration(*rl.RetryAfter * float64(time.Second))
			if hinted > time.Duration(policy.MaxDelay*float64(time.Second)) {
				return zero, err
			}
			delay = hinted
		}

		log.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).
			Msg("retrying backend call")

		select {
		case <-ctx.Done():
			return zero, &CancelledError{BackendError: BackendError{Message: "cancelled during retry backoff", Cause: ctx.Err()}}
		case <-time.After(delay):
		}

		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
	}

	return zero, err
}
