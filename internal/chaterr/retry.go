package chaterr

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times while it returns a retryable error,
// sleeping base, 2*base, 4*base... between attempts. The last error is
// returned when attempts are exhausted.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	delay := base
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil || !Retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return Unavailable.Wrap(ctx.Err(), "retry aborted after %d attempts", i+1)
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
