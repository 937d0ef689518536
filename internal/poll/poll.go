package poll

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// DefaultStageTimeout bounds a single reconciliation or command run.
const DefaultStageTimeout = 30 * time.Minute

// DefaultRetryMax is the default maximum number of retries for transient errors.
const DefaultRetryMax = 3

// Policy drives a fixed-interval poll loop. Sleep is injectable so tests run
// against a fake clock instead of real delays.
type Policy struct {
	Interval time.Duration
	Timeout  time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
}

// NewPolicy returns a policy polling at the given interval, bounded by the
// default stage timeout.
func NewPolicy(interval time.Duration) Policy {
	return Policy{Interval: interval, Timeout: DefaultStageTimeout}
}

// Wait blocks for one poll interval or until the context is cancelled.
func (p Policy) Wait(ctx context.Context) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = realSleep
	}
	return sleep(ctx, p.Interval)
}

// Run invokes step on the policy's interval until step reports done, the
// context is cancelled, or the policy's timeout elapses. The first step call
// happens immediately.
func (p Policy) Run(ctx context.Context, step func(ctx context.Context) (done bool, err error)) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	for {
		done, err := step(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := p.Wait(ctx); err != nil {
			return err
		}
	}
}

func realSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("poll cancelled: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}

// RetryPolicy defines retry behavior for transient cloud API errors.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Sleep      func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns a sensible default retry policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: DefaultRetryMax,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// RetryWithBackoff executes fn with exponential backoff and jitter.
// It retries only if shouldRetry returns true for the error.
func RetryWithBackoff(ctx context.Context, policy *RetryPolicy, fn func() error, shouldRetry func(error) bool) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = realSleep
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt < policy.MaxRetries {
			if err := sleep(ctx, backoff(attempt, policy.BaseDelay, policy.MaxDelay)); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", policy.MaxRetries, lastErr)
}

// backoff returns exponential backoff with jitter.
func backoff(attempt int, base, max time.Duration) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt))
	if d > float64(max) {
		d = float64(max)
	}
	return time.Duration(rand.Float64() * d)
}

// IsTransientError checks if an error is likely transient and retryable.
// This checks for common cloud API throttling and network errors.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"throttl",
		"rate exceed",
		"too many requests",
		"request limit",
		"service unavailable",
		"internal server error",
		"connection reset",
		"connection refused",
		"timeout",
		"tls handshake",
		"i/o timeout",
		"temporary failure",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
