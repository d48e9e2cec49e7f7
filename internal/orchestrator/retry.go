package orchestrator

import (
	"context"
	"log"
	"time"
)

// RetryPolicy bounds the attempts made on a stage's work function.
// MaxAttempts < 1 is treated as a single attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// withRetry invokes attempt up to policy.MaxAttempts times with exponential
// backoff (BaseDelay << n) between tries. Intermediate failures are logged,
// never surfaced; only the final attempt's error escapes. The wrapper is a
// standalone function so any stage composes retry behavior without a shared
// base type.
func withRetry(ctx context.Context, policy RetryPolicy, logger *log.Logger, name string,
	attempt func(ctx context.Context) (*Outcome, error)) (*Outcome, error) {

	max := policy.MaxAttempts
	if max < 1 {
		max = 1
	}

	var lastErr error
	for n := 0; n < max; n++ {
		outcome, err := attempt(ctx)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if n == max-1 {
			break
		}
		logger.Printf("%s attempt %d/%d failed: %v", name, n+1, max, err)

		delay := policy.BaseDelay << uint(n)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}
