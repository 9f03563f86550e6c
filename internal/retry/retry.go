// Package retry provides an exponential-backoff wrapper over fallible
// operations, with a predicate distinguishing retryable failures.
package retry

import (
	"strings"
	"time"

	"github.com/hagan/claudia-statusline/internal/errs"
)

// Config controls the backoff schedule of a retried operation.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultConfig mirrors the source's (3, 100ms, 5s, 2.0) defaults.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second, BackoffFactor: 2.0}
}

// ForFileOps is the schedule used around JSON-stats-file lock acquisition.
func ForFileOps() Config {
	return Config{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second, BackoffFactor: 2.0}
}

// ForDBOps is the schedule used around relational-store transactions.
func ForDBOps() Config {
	return Config{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second, BackoffFactor: 1.5}
}

// ForGitOps is the schedule used around git subprocess invocations.
func ForGitOps() Config {
	return Config{MaxAttempts: 2, InitialDelay: 100 * time.Millisecond, MaxDelay: 1 * time.Second, BackoffFactor: 2.0}
}

// sleepFunc is overridable in tests to avoid real sleeps.
var sleepFunc = time.Sleep

// WithBackoff runs op up to cfg.MaxAttempts times, sleeping
// initial_delay * backoff_factor^k (capped at max_delay) before the
// (k+1)-th attempt. No sleep follows the final attempt.
func WithBackoff[T any](cfg Config, op func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := cfg.InitialDelay
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt < cfg.MaxAttempts-1 {
			sleepFunc(delay)
			next := time.Duration(float64(delay) * cfg.BackoffFactor)
			if next > cfg.MaxDelay {
				next = cfg.MaxDelay
			}
			delay = next
		}
	}
	return zero, lastErr
}

// Simple runs op up to maxAttempts times with a fixed delay between
// attempts (backoff_factor == 1.0), used for the short git/file retries.
func Simple[T any](maxAttempts int, delay time.Duration, op func() (T, error)) (T, error) {
	return WithBackoff(Config{MaxAttempts: maxAttempts, InitialDelay: delay, MaxDelay: delay, BackoffFactor: 1.0}, op)
}

// IfRetryable runs op like WithBackoff but stops immediately once an
// error is classified as non-retryable.
func IfRetryable[T any](cfg Config, op func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := cfg.InitialDelay
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return zero, err
		}
		if attempt < cfg.MaxAttempts-1 {
			sleepFunc(delay)
			next := time.Duration(float64(delay) * cfg.BackoffFactor)
			if next > cfg.MaxDelay {
				next = cfg.MaxDelay
			}
			delay = next
		}
	}
	return zero, lastErr
}

// IsRetryable classifies an error per spec §4.8 / §4.10: transient I/O,
// lock-acquisition failure, relational busy/locked/timeout, and git
// lock/busy/timeout are retryable. InvalidPath and JSON-parse errors
// (and anything else) are not.
func IsRetryable(err error) bool {
	var e *errs.Error
	if !asError(err, &e) {
		return false
	}
	switch e.Kind {
	case errs.KindIO:
		return true
	case errs.KindLockFailed:
		return true
	case errs.KindDatabase:
		return containsAny(e.Msg, "busy", "locked", "timeout")
	case errs.KindGitOperation:
		return containsAny(e.Msg, "lock", "busy", "timeout")
	default:
		return false
	}
}

func asError(err error, target **errs.Error) bool {
	for err != nil {
		if e, ok := err.(*errs.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
