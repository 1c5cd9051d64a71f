// Package backoff retries operations that fail with transient errors using
// exponential backoff with jitter.
package backoff

import (
	"context"
	"fmt"
	"time"

	cbackoff "github.com/cenkalti/backoff/v5"
)

// Config bounds a retry loop.
type Config struct {
	MaxAttempts int
	Base        time.Duration
	MaxDelay    time.Duration
}

// Exponential returns a jittered exponential schedule starting at cfg.Base.
func (cfg Config) Exponential() *cbackoff.ExponentialBackOff {
	b := cbackoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Base
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	if cfg.MaxDelay > 0 {
		b.MaxInterval = cfg.MaxDelay
	} else {
		b.MaxInterval = cfg.Base * 16
	}
	b.Reset()
	return b
}

// Retry runs fn until it succeeds, returns an error retryable rejects, or MaxAttempts
// is reached. It returns the number of attempts made and the last error.
func Retry(ctx context.Context, cfg Config, retryable func(error) bool, fn func(context.Context) error) (int, error) {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	schedule := cfg.Exponential()
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !retryable(err) || attempt == attempts {
			return attempt, err
		}
		if sleepErr := SleepWithContext(ctx, schedule.NextBackOff()); sleepErr != nil {
			return attempt, sleepErr
		}
	}
	return attempts, err
}

// SleepWithContext sleeps for d unless ctx is done first.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
