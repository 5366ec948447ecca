package provider

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryPolicy is exponential backoff on an injectable clock.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	Clock    clockwork.Clock
}

var DefaultRetry = RetryPolicy{
	Attempts: 3,
	Base:     500 * time.Millisecond,
	Max:      5 * time.Second,
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.Base << attempt
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Retry runs fn until it succeeds, returns a non-transient error, or attempts run out.
func Retry(ctx context.Context, p RetryPolicy, fn func(context.Context) error) error {
	return RetryIf(ctx, p, IsTransient, fn)
}

// RetryIf is Retry with a custom retry predicate.
func RetryIf(ctx context.Context, p RetryPolicy, shouldRetry func(error) bool, fn func(context.Context) error) error {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	attempts := max(p.Attempts, 1)

	var err error
	for attempt := range attempts {
		if err = fn(ctx); err == nil || !shouldRetry(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		timer := clock.NewTimer(p.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
		}
	}
	return err
}
