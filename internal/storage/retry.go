package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64
	OnRetry       func(attempt int, err error, nextDelay time.Duration)
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        0.1,
	}
}

var retryableErrors = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"temporary failure",
	"network is unreachable",
	"no such host",
	"TLS handshake timeout",
	"i/o timeout",
	"EOF",
	"broken pipe",
	"SlowDown",
	"ServiceUnavailable",
	"InternalError",
}

var nonRetryableErrors = []string{
	"access denied",
	"AccessDenied",
	"InvalidAccessKeyId",
	"SignatureDoesNotMatch",
	"NoSuchBucket",
	"InvalidBucketName",
	"PreconditionFailed",
	"forbidden",
	"unauthorized",
	"invalid key",
}

// IsRetryableError decides from the error text whether a storage call is
// worth repeating. Anything unrecognised is not retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errLower := strings.ToLower(err.Error())

	for _, pattern := range nonRetryableErrors {
		if strings.Contains(errLower, strings.ToLower(pattern)) {
			return false
		}
	}

	for _, pattern := range retryableErrors {
		if strings.Contains(errLower, strings.ToLower(pattern)) {
			return true
		}
	}

	return false
}

func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return fmt.Errorf("non-retryable error: %w", err)
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		nextDelay := backoff(cfg, attempt)

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, nextDelay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(nextDelay):
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

func backoff(cfg RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= cfg.BackoffFactor
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter > 0 {
		delay += delay * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}
