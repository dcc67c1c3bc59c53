// Package backoff implements the truncated exponential backoff used to
// retry transient Mongo "auto-reconnect" errors: attempt-indexed
// exponential delay clamped to a ceiling, with context-aware sleep.
package backoff

import (
	"context"
	"time"
)

// Delay returns min(maxBackoff, baseBackoff * 2^failures). No jitter is
// applied.
func Delay(failures int, baseBackoff, maxBackoff time.Duration) time.Duration {
	if baseBackoff <= 0 {
		return 0
	}
	d := baseBackoff
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Sleep waits for d, returning early with ctx.Err() if ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls op repeatedly while it returns an error for which retryable
// reports true, sleeping Delay(failures, base, max) between attempts, up
// to maxFailures retries. It gives up (returning the last error) once
// failures exceeds maxFailures.
func Retry(ctx context.Context, maxFailures int, base, maxBackoff time.Duration, retryable func(error) bool, op func() error) error {
	failures := 0
	for {
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		failures++
		if failures > maxFailures {
			return err
		}
		if sleepErr := Sleep(ctx, Delay(failures, base, maxBackoff)); sleepErr != nil {
			return sleepErr
		}
	}
}
