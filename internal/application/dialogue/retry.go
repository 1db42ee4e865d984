package dialogue

import (
	"context"
	"math/rand"
	"time"
)

// BackoffPolicy is the jittered exponential backoff schedule for both
// provider calls and append retries (§4.4 steps 4 and 8).
type BackoffPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Multiplier  float64
	Max         time.Duration
	Jitter      float64 // fraction, e.g. 0.2 for ±20%
}

// delay returns the sleep duration before the given 0-indexed attempt,
// i.e. delay(0) is the wait before the second try.
func (b BackoffPolicy) delay(attempt int) time.Duration {
	d := float64(b.Initial)
	for i := 0; i < attempt; i++ {
		d *= b.Multiplier
	}
	if maxD := float64(b.Max); d > maxD {
		d = maxD
	}
	if b.Jitter > 0 {
		spread := d * b.Jitter
		d += (rand.Float64()*2 - 1) * spread
		if d < 0 {
			d = 0
		}
	}
	return time.Duration(d)
}

// sleep waits for the attempt's backoff delay or ctx cancellation, whichever
// comes first. Returns ctx.Err() on cancellation.
func (b BackoffPolicy) sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(b.delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// doWithRetry runs fn up to policy.MaxAttempts times. shouldRetry decides
// whether a given error warrants another attempt; onAttempt is called after
// every attempt, failed (including the last) or successful (with a nil
// error), for breaker/metric bookkeeping.
func doWithRetry[T any](ctx context.Context, policy BackoffPolicy, shouldRetry func(error) bool, onAttempt func(attempt int, err error), fn func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			if onAttempt != nil {
				onAttempt(attempt, nil)
			}
			return result, nil
		}
		lastErr = err
		if onAttempt != nil {
			onAttempt(attempt, err)
		}
		if !shouldRetry(err) {
			return zero, err
		}
		if attempt == maxAttempts-1 {
			break
		}
		if err := policy.sleep(ctx, attempt); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}
