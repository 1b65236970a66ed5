package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/iamgideonidoko/pulse/pkg/logger"
)

var (
	ErrNoConnection = errors.New("no database connection")
	ErrMaxRetries   = errors.New("max retries exceeded")
)

type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 3,
	InitialWait: 100 * time.Millisecond,
	MaxWait:     2 * time.Second,
	Multiplier:  2.0,
}

// WithRetry runs operation with exponential backoff until it succeeds, returns
// a permanent error, or runs out of attempts.
func WithRetry(ctx context.Context, config RetryConfig, operation func() error) error {
	var lastErr error
	wait := config.InitialWait
	attempts := max(config.MaxAttempts, 1)

	for attempt := 1; attempt <= attempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		if attempt >= attempts {
			break
		}

		logger.Warn("Database operation failed, retrying", map[string]any{
			"attempt": attempt,
			"max":     attempts,
			"wait_ms": wait.Milliseconds(),
			"error":   err.Error(),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		wait = time.Duration(float64(wait) * config.Multiplier)
		wait = min(wait, config.MaxWait)
	}

	return fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
}

// retryable reports whether err is transient. Constraint and syntax errors
// will fail the same way on every attempt.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, sql.ErrNoRows):
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", // connection exception
			"40", // transaction rollback
			"53", // insufficient resources
			"57": // operator intervention
			return true
		default:
			return false
		}
	}
	return true
}
