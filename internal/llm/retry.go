package llm

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RetryPolicy bounds how often a retryable failure is repeated. The delay
// before attempt n (1-based, n > 1) is BaseDelay * 2^(n-2).
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Second}
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// attempts are used up.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := range attempts {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}

		lastErr = err
		if attempt < attempts-1 {
			backoff := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}
