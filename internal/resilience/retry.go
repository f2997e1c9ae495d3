package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// RetryPolicy configures caller-level retries. Each attempt is a fresh
// operation; nothing is resumed.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	Backoff     string        `json:"backoff,omitempty" yaml:"backoff,omitempty"` // constant | linear | exponential
	Delay       time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
	MaxDelay    time.Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// IsRetryableError classifies whether a failed attempt may be retried.
// Definition problems and an open circuit are not worth retrying immediately.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch schema.ErrorCode(err) {
	case schema.ErrCodeValidation, schema.ErrCodeNotFound, schema.ErrCodeCycleDetected,
		schema.ErrCodePrerequisites, schema.ErrCodeShuttingDown, schema.ErrCodeCircuitOpen:
		return false
	}
	return true
}

// ComputeBackoff calculates the delay before retry number attempt (0-based).
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		multiplier := time.Duration(1)
		for i := 0; i < attempt; i++ {
			multiplier *= 2
		}
		delay = policy.Delay * multiplier
	case "linear":
		delay = policy.Delay * time.Duration(attempt+1)
	default:
		delay = policy.Delay
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early if the context is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry invokes op until it succeeds, returns a non-retryable error, or the
// policy's attempts are exhausted. The last error is returned.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context, attempt int) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = op(ctx, attempt); err == nil {
			return nil
		}
		if !IsRetryableError(err) || attempt == attempts-1 {
			break
		}
		if werr := WaitForBackoff(ctx, ComputeBackoff(policy, attempt)); werr != nil {
			return werr
		}
	}
	return err
}
