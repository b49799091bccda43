package shell

import (
	"context"
	"log/slog"
	"time"

	"github.com/spader/whisperbuild/internal/logging"
)

// RetryPolicy bounds retries of operations known to fail transiently, such
// as package index refreshes. Compilation is never retried.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy matches the package manager refresh budget: three
// attempts, 1.5s, then 3s between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 1500 * time.Millisecond}
}

// Retry runs op until it succeeds or the attempt budget is spent. The delay
// before attempt n+1 is n times the base delay. The last error is returned.
func Retry(ctx context.Context, logger *slog.Logger, policy RetryPolicy, label string, op func(context.Context) error) error {
	logger = logging.Ensure(logger)
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		logger.Warn("command failed, retrying",
			"operation", label,
			"attempt", attempt,
			"attempts", attempts,
			"error", lastErr,
		)
		if err := sleep(ctx, time.Duration(attempt)*policy.BaseDelay); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
