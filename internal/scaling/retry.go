package scaling

import (
	"context"
	"time"

	"github.com/radiusdt/campaign-scaler/internal/platform"
)

// RetryPolicy is a bounded, fixed-delay retry for platform calls.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error)
	// Retryable reports whether err may succeed on a later attempt. Nil means
	// transient platform errors only.
	Retryable func(err error) bool
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return platform.IsTransient(err)
}

// Do calls fn until it succeeds, returns a definitive error, or the attempts
// run out. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if !p.retryable(err) || attempt == attempts {
			return attempt, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}
	}
	return attempts, err
}
