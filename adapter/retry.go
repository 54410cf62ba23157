package adapter

import (
	"context"
	"fmt"
	"time"
)

// BaseBackoff is the delay before the first retry. It doubles on each
// further retry.
const BaseBackoff = 500 * time.Millisecond

// Retry calls attempt up to 1+retries times, sleeping between attempts
// with exponential backoff. It stops early on success, when ctx ends, or
// when permanent reports the error cannot succeed on retry. The returned
// error is prefixed with name.
func Retry(ctx context.Context, name string, retries int, base time.Duration, attempt func(context.Context) error, permanent func(error) bool) error {
	if base <= 0 {
		base = BaseBackoff
	}
	attempts := 1 + retries

	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * base
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
