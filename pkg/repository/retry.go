package repository

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// RetryPolicy is a bounded retry with a fixed delay between attempts
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1"`
	Delay       time.Duration `yaml:"delay" validate:"gte=0"`
}

// DefaultRetryPolicy makes 3 attempts, 100ms apart
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Delay:       100 * time.Millisecond,
}

// Do calls fn until it succeeds or MaxAttempts is reached. onRetry, when set,
// runs after a failed attempt that will be retried and before the delay; it
// is where callers reopen their backend. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(ctx context.Context, attempt int, err error)) error {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if isNotFound(lastErr) || attempt == attempts {
			break
		}

		if onRetry != nil {
			onRetry(ctx, attempt, lastErr)
		}

		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return goerr.Wrap(ctx.Err(), "retry aborted", goerr.V("attempt", attempt), goerr.V("last_error", lastErr.Error()))
		case <-timer.C:
		}
	}

	return lastErr
}
