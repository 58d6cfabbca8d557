package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"

	"github.com/AlibekovAA/class-schedule/internal/common/logger"
)

type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

var DefaultRetryConfig = RetryConfig{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
}

// IsRetryableError reports connection loss, serialization failures and lock
// timeouts. Everything else is permanent.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "08000", "08003", "08006", "08001", "08004", "08007", "08P01":
			return true
		case "40001", "40P01":
			return true
		case "55P03":
			return true
		}
		return false
	}

	return pgconn.SafeToRetry(err)
}

// RetryWithBackoff runs operation until it succeeds, fails permanently or
// runs out of attempts. It is for background jobs only; request paths surface
// store failures to their caller instead. name labels the log entries.
func RetryWithBackoff(ctx context.Context, log *logger.Logger, config RetryConfig, name string, operation func(context.Context) error) error {
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := config.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = operation(ctx)
		if lastErr == nil {
			if attempt > 1 {
				log.WithFields(ctx, logger.Fields{
					"operation": name,
					"attempts":  attempt,
				}).Infof("%s succeeded after retry", name)
			}
			return nil
		}
		if !IsRetryableError(lastErr) || attempt == attempts {
			break
		}

		log.WithFields(ctx, logger.Fields{
			"operation": name,
			"attempt":   attempt,
			"action":    "db_retry",
		}).Warnf("%s failed, retrying in %v: %v", name, delay, lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: retry interrupted: %w", name, ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	if !IsRetryableError(lastErr) {
		return lastErr
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, lastErr)
}
