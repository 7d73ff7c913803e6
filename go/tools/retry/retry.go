// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retry

import (
	"context"
	"time"
)

// Timer abstracts time.After so tests can run retry loops without sleeping.
type Timer interface {
	After(d time.Duration) <-chan time.Time
}

type realTimer struct{}

func (realTimer) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Retry manages backoff state for retry loops.
// Use the iterator-style StartAttempt method to implement retry logic.
//
// Example usage:
//
//	r := retry.New(100*time.Millisecond, 30*time.Second)
//	for {
//	    if err := r.StartAttempt(ctx); err != nil {
//	        return err // Context cancelled or timed out
//	    }
//	    result, err := makeAPICall()
//	    if err == nil {
//	        return result // Success!
//	    }
//	    // Will backoff before next attempt
//	}
type Retry struct {
	cfg     retryConfig
	attempt int
	timer   Timer
}

// retryConfig holds the configuration for retry behavior.
type retryConfig struct {
	// InitialDelay adds a delay before the first attempt (attempt 0).
	// Useful when you've already tried once before calling StartAttempt().
	// Default: false (call operation immediately)
	InitialDelay bool

	// backoff strategy for calculating delays between retries.
	backoff backoff
}

// Option is a functional option for configuring a Retry.
type Option func(*retryConfig)

// WithInitialDelay configures the retry to add a delay before the first attempt.
// Use this when you've already tried once before calling StartAttempt().
func WithInitialDelay() Option {
	return func(c *retryConfig) { c.InitialDelay = true }
}

// New creates a new Retry using exponential backoff with full jitter.
// Panics if the parameters are invalid (represents a coding error).
//
// Parameters:
//   - baseDelay: Base delay for exponential backoff (delay = baseDelay × 2^attempt)
//   - maxDelay: Maximum delay cap to prevent unbounded growth
func New(baseDelay, maxDelay time.Duration, opts ...Option) *Retry {
	if baseDelay <= 0 {
		panic("retry: BaseDelay must be positive")
	}
	if maxDelay <= 0 {
		panic("retry: MaxDelay must be positive")
	}
	if baseDelay > maxDelay {
		panic("retry: BaseDelay cannot be greater than MaxDelay")
	}
	return newRetry(newExponentialFullJitterBackoff(baseDelay, maxDelay), opts...)
}

// NewConstant creates a Retry that waits interval before every attempt after
// the first. A zero interval retries immediately. Panics on a negative interval.
func NewConstant(interval time.Duration, opts ...Option) *Retry {
	if interval < 0 {
		panic("retry: interval cannot be negative")
	}
	return newRetry(newConstantBackoff(interval), opts...)
}

func newRetry(b backoff, opts ...Option) *Retry {
	cfg := retryConfig{backoff: b}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Retry{
		cfg:   cfg,
		timer: realTimer{},
	}
}

// StartAttempt prepares for the next retry attempt by waiting for the backoff delay.
// On the first call (attempt 0), it returns immediately unless WithInitialDelay was configured.
// On subsequent calls, it waits for the backoff delay.
//
// Returns:
//   - nil if the caller should proceed with the next attempt
//   - ctx.Err() if the context was cancelled or timed out during the wait
func (r *Retry) StartAttempt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if r.attempt > 0 || r.cfg.InitialDelay {
		delay := r.cfg.backoff.nextDelay()
		if delay > 0 {
			select {
			case <-r.timer.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	r.attempt++
	return nil
}

// Attempt returns the current attempt number (1-indexed after first StartAttempt call).
// Returns 0 before the first call to StartAttempt.
func (r *Retry) Attempt() int {
	return r.attempt
}

// Reset resets the backoff state to the initial delay.
//
// Note: Reset only affects the backoff calculation. The attempt counter returned
// by Attempt() is never reset and continues to increment monotonically.
func (r *Retry) Reset() {
	r.cfg.backoff.reset()
}

// Attempts returns an iterator for range-based retry loops.
// Yields (attempt number, error) pairs where error is nil for each retry attempt,
// or non-nil when the context is cancelled/timed out (final iteration).
//
// Example usage:
//
//	r := retry.New(100*time.Millisecond, 30*time.Second)
//	for attempt, err := range r.Attempts(ctx) {
//	    if err != nil {
//	        return fmt.Errorf("retry failed after %d attempts: %w", attempt, err)
//	    }
//
//	    result, err := makeAPICall()
//	    if err == nil {
//	        return result // Success!
//	    }
//	}
func (r *Retry) Attempts(ctx context.Context) func(yield func(int, error) bool) {
	return func(yield func(int, error) bool) {
		for {
			err := r.StartAttempt(ctx)
			if !yield(r.attempt, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}
