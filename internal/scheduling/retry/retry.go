package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Class determines how a failed operation is handled.
type Class int

const (
	// ClassRetryable covers transport failures, store timeouts and upstream
	// 5xx/429 responses.
	ClassRetryable Class = iota

	// ClassSkippable covers errors indicating the desired end state already
	// holds (remote resource already absent, already in target state). These
	// are treated as success.
	ClassSkippable

	// ClassFatal covers everything else: validation, malformed data, logic
	// errors. Never retried.
	ClassFatal
)

// Classify determines the class for a given error.
func Classify(err error) Class {
	if err == nil {
		return ClassSkippable // Should not happen
	}

	s := err.Error()
	sLower := strings.ToLower(s)

	// Skippable (desired end state already achieved)
	if strings.Contains(sLower, "not found") || strings.Contains(sLower, "already") ||
		strings.Contains(sLower, "does not exist") {
		return ClassSkippable
	}

	// Cancellation belongs to the caller, not the operation
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}

	// Retryable (network, timeouts, upstream 5xx/429)
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassRetryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}
	if strings.Contains(sLower, "timeout") || strings.Contains(sLower, "timed out") ||
		strings.Contains(sLower, "connection refused") ||
		strings.Contains(sLower, "connection reset") ||
		strings.Contains(sLower, "broken pipe") ||
		strings.Contains(sLower, "unexpected eof") ||
		strings.Contains(s, "429") || strings.Contains(sLower, "too many requests") ||
		strings.Contains(s, "500") || strings.Contains(s, "502") ||
		strings.Contains(s, "503") || strings.Contains(s, "504") ||
		strings.Contains(sLower, "bad gateway") ||
		strings.Contains(sLower, "service unavailable") {
		return ClassRetryable
	}

	return ClassFatal
}

// Config defines retry behavior.
type Config struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	Exponential bool          `yaml:"exponential"`
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxAttempts: 3,
	Delay:       500 * time.Millisecond,
	Exponential: true,
}

// Do executes fn with classification-driven retries. A skippable failure
// returns skipped=true and no error; a fatal failure returns immediately; a
// retryable failure is retried up to MaxAttempts with backoff
// Delay * 2^(attempt-1) in exponential mode, constant Delay otherwise.
//
// fn must be idempotent or its effect safe to apply more than once: there is
// no rollback.
func Do(ctx context.Context, op string, cfg Config, fn func(context.Context) error) (skipped bool, err error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return false, nil
		}

		switch Classify(err) {
		case ClassSkippable:
			return true, nil
		case ClassFatal:
			return false, err
		}

		lastErr = err
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Delay
		if cfg.Exponential {
			delay = cfg.Delay << (attempt - 1)
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
	}

	return false, fmt.Errorf("%s failed after %d attempts: %w", op, cfg.MaxAttempts, lastErr)
}
