package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/solargatsby/airdroptool/internal/logging"
)

// Config configures retry behavior. Attempts are bounded by count, not wall-clock
// deadline, and are spaced by a fixed interval.
type Config struct {
	MaxAttempts int           // Maximum number of attempts, including the first
	Interval    time.Duration // Fixed delay between attempts
}

// SubmissionConfig returns the retry budget for ledger transaction submission.
// Pattern: 3 attempts, 5s apart.
func SubmissionConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Interval:    5 * time.Second,
	}
}

// ConfirmationConfig returns the retry budget for receipt polling. Much larger
// than the submission budget because confirmation latency is expected to be long.
// Pattern: 60 attempts, 10s apart.
func ConfirmationConfig() *Config {
	return &Config{
		MaxAttempts: 60,
		Interval:    10 * time.Second,
	}
}

// Result contains information about the retry operation
type Result struct {
	Attempts      int           `json:"attempts"`
	Success       bool          `json:"success"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastError     error         `json:"lastError,omitempty"`
}

// Func is a function that can be retried
type Func func(ctx context.Context, attempt int) error

// WithFixedInterval executes a function with bounded fixed-interval retry.
// It stops on the first success, on context cancellation, or once MaxAttempts
// is exhausted; the Result carries the last observed error either way.
func WithFixedInterval(ctx context.Context, config *Config, fn Func) *Result {
	logger := logging.FromContext(ctx)
	startTime := time.Now()

	result := &Result{}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)

			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"attempts":      attempt,
					"totalDuration": result.TotalDuration,
				}).Info("Operation succeeded after retry")
			}

			return result
		}

		result.LastError = err

		if attempt >= config.MaxAttempts {
			logger.WithFields(map[string]interface{}{
				"attempts":      attempt,
				"totalDuration": time.Since(startTime),
				"error":         err.Error(),
			}).Error("Operation failed after max retry attempts")
			break
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			break
		}

		logger.WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": config.MaxAttempts,
			"interval":    config.Interval,
			"error":       err.Error(),
		}).Warn("Operation failed, retrying after fixed interval")

		select {
		case <-time.After(config.Interval):
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// Do is a convenience wrapper that converts an exhausted Result into an error.
func Do(ctx context.Context, config *Config, fn Func) error {
	result := WithFixedInterval(ctx, config, fn)
	if !result.Success {
		return fmt.Errorf("operation failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return nil
}
