package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/jmylchreest/chatcrawler/internal/logger"
)

// maxRetryDelay caps the backoff between attempts.
const maxRetryDelay = 8 * time.Second

// RetryDelays returns n backoff delays: 1s, 2s, 4s, then 8s for the rest.
func RetryDelays(n int) []time.Duration {
	delays := make([]time.Duration, 0, n)
	d := time.Second
	for i := 0; i < n; i++ {
		delays = append(delays, d)
		if d < maxRetryDelay {
			d *= 2
		}
	}
	return delays
}

// FetchWithRetry fetches url, retrying after each delay on failure.
// ErrAuth and context errors are returned immediately.
func FetchWithRetry(ctx context.Context, b Backend, url string, delays []time.Duration) (Document, int, error) {
	maxAttempts := len(delays) + 1

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		doc, err := b.Fetch(ctx, url)
		if err == nil {
			return doc, attempt + 1, nil
		}
		lastErr = err

		if errors.Is(err, ErrAuth) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Document{}, attempt + 1, err
		}
		if attempt >= maxAttempts-1 {
			break
		}

		logger.Warn("fetch failed, retrying",
			"url", url,
			"attempt", attempt+2,
			"delay", delays[attempt],
			"error", err)

		select {
		case <-ctx.Done():
			return Document{}, attempt + 1, ctx.Err()
		case <-time.After(delays[attempt]):
		}
	}

	return Document{}, maxAttempts, lastErr
}
