package llm

import (
	"context"
	"fmt"
	"time"
)

// GenerateWithRetry runs fn up to maxRetries+1 times, sleeping
// delay x attempt-number between attempts. Providers wrap their raw
// transport call with this so transient vendor failures are absorbed
// before the engine ever sees them.
func GenerateWithRetry(ctx context.Context, maxRetries int, delay time.Duration, fn func(context.Context) (*Response, error)) (*Response, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt == maxRetries {
			break
		}
		wait := delay * time.Duration(attempt+1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("llm: generate failed after %d attempts: %w", maxRetries+1, lastErr)
}
