// Package retry runs a fallible call with bounded attempts and exponential
// backoff. Fetching pages and downloading attachments share this policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// ErrExhausted is wrapped into the terminal error once all attempts failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy configures attempts and backoff. The zero value makes a single attempt.
type Policy struct {
	// MaxAttempts includes the initial attempt. Minimum 1.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; each later wait doubles.
	BaseDelay time.Duration

	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff wait with the attempt that failed.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Retryable overrides Classify.
	Retryable func(err error) bool
}

// Delay returns the wait after the given failed attempt (1-based):
// BaseDelay * 2^(attempt-1).
func (p Policy) Delay(attempt int) time.Duration {
	b := p.schedule()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (p Policy) schedule() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Duration(math.MaxInt64),
	}
	b.Reset()
	return b
}

// Do calls fn until it succeeds, fails with a non-retryable error, the context
// ends, or MaxAttempts is reached. It returns the number of attempts made.
// Attempts are strictly sequential.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = Classify
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	sched := p.schedule()

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if !retryable(err) {
			return attempt, err
		}
		if attempt == max {
			break
		}
		delay := sched.NextBackOff()
		log.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying")
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}
	return max, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, max, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
