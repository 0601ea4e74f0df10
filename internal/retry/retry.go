package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
)

// Policy bounds a retried operation. Zero values select the defaults.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
}

func (p Policy) normalized() Policy {
	if p.Attempts < 1 {
		p.Attempts = DefaultAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	return p
}

// Backoff is the wait after the given failed attempt (1-based):
// BaseDelay, 2*BaseDelay, 4*BaseDelay, ...
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay << (attempt - 1)
}

// Do runs op up to p.Attempts times, sleeping Backoff(k) after the k-th
// failure. Every error is retried; the last one is returned. Cancelling ctx
// while waiting aborts the loop.
func Do[T any](ctx context.Context, p Policy, log *zap.Logger, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	if log == nil {
		log = zap.NewNop()
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == p.Attempts {
			break
		}

		wait := p.Backoff(attempt)
		log.Warn("attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.Attempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry aborted after %d attempt(s): %w (last error: %v)", attempt, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return zero, lastErr
}
