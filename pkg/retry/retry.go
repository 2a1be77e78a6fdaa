// Package retry implements the jittered exponential backoff used when
// establishing per-tenant connection pools.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Policy configures a retry schedule. Delays follow
// min(MaxDelay, InitialDelay * Multiplier^(n-1)), optionally scaled by a
// uniform random factor in [1.0, 1.25] when Jitter is set.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	// IsRetryable decides whether an attempt's error should be retried.
	// Defaults to DefaultRetryable when nil.
	IsRetryable func(error) bool
}

// Validate checks the policy invariants spec.md §4.1 requires.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: maxAttempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay > p.MaxDelay {
		return fmt.Errorf("retry: initialDelay (%s) must be <= maxDelay (%s)", p.InitialDelay, p.MaxDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry: multiplier must be >= 1, got %v", p.Multiplier)
	}
	return nil
}

// Result reports how an operation completed.
type Result struct {
	Attempts    int
	TotalTimeMs int64
}

// ExhaustedError wraps the final error when Do gives up, either because
// MaxAttempts is reached or because the error is not retryable. Attempts is
// the number of attempts actually made.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs op, retrying per the policy until success, attempt exhaustion, or
// a non-retryable error. ctx cancellation aborts the wait between attempts.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	isRetryable := p.IsRetryable
	if isRetryable == nil {
		isRetryable = DefaultRetryable
	}

	start := time.Now()
	delay := p.InitialDelay

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		attempts = attempt
		lastErr = op(ctx)
		if lastErr == nil {
			return Result{Attempts: attempt, TotalTimeMs: time.Since(start).Milliseconds()}, nil
		}

		if attempt == p.MaxAttempts || !isRetryable(lastErr) {
			break
		}

		wait := delay
		if p.Jitter {
			factor := 1.0 + rand.Float64()*0.25
			wait = time.Duration(float64(wait) * factor)
		}

		select {
		case <-ctx.Done():
			return Result{Attempts: attempt, TotalTimeMs: time.Since(start).Milliseconds()}, ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return Result{Attempts: attempts, TotalTimeMs: time.Since(start).Milliseconds()},
		&ExhaustedError{Attempts: attempts, Err: lastErr}
}

// transientSubstrings lists well-known transient-condition fragments from
// spec.md §4.1. Matching is case-insensitive and substring-based because
// drivers surface these conditions with varying error wrapping.
var transientSubstrings = []string{
	"econnrefused",
	"econnreset",
	"etimedout",
	"socket hang up",
	"too many connections",
	"too many clients",
	"database system is starting up",
	"database system is shutting down",
	"server closed the connection unexpectedly",
	"could not connect to server",
	"ssl handshake",
	"tls handshake",
}

// DefaultRetryable implements spec.md §4.1's default retryability predicate.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
