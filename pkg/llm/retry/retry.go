// Package retry wraps transient-failure-prone calls with a bounded number
// of attempts and exponential backoff. Cancellation is never retried and is
// reported as the context error so callers can distinguish an abort from an
// exhausted attempt budget.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config controls retry behaviour.
type Config struct {
	Enabled        bool
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig matches the daemon defaults: three attempts starting at
// half a second.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// ExhaustedError reports that every attempt failed. LastErr is the error
// from the final attempt.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// Operation is one retryable call.
type Operation func(ctx context.Context) error

// Do runs op until it succeeds, the context is cancelled, or the attempt
// budget is spent. With retries disabled it runs op exactly once and
// returns its error unchanged.
func Do(ctx context.Context, cfg Config, op Operation) error {
	if !cfg.Enabled {
		return op(ctx)
	}

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	if cfg.InitialBackoff > 0 {
		eb.InitialInterval = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		eb.MaxInterval = cfg.MaxBackoff
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		select {
		case <-time.After(eb.NextBackOff()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return &ExhaustedError{Attempts: attempts, LastErr: lastErr}
}

// IsExhausted reports whether err is an ExhaustedError, returning it.
func IsExhausted(err error) (*ExhaustedError, bool) {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted, true
	}
	return nil, false
}
