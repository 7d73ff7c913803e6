// Copyright 2026 Supabase, Inc.
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
	"errors"
	"time"
)

// ErrExhausted is returned by Poll when the attempt budget runs out before
// the check reports success.
var ErrExhausted = errors.New("retry: poll attempts exhausted")

// PollConfig bounds a verification loop.
type PollConfig struct {
	// MaxAttempts is the number of checks to run. Must be positive.
	MaxAttempts int
	// Interval is the wait between consecutive checks.
	Interval time.Duration
	// SettleDelay is waited once before the first check.
	SettleDelay time.Duration

	// timer overrides the real clock in tests.
	timer Timer
}

// CheckFunc reports whether the polled condition holds. A non-nil error
// aborts the poll immediately.
type CheckFunc func(ctx context.Context, attempt int) (done bool, err error)

// Poll runs check up to cfg.MaxAttempts times, cfg.Interval apart, after an
// initial cfg.SettleDelay. The deadline of ctx bounds the whole loop,
// including the settle delay.
//
// Poll returns the number of checks that ran and:
//   - nil once check reports done
//   - the error returned by check
//   - ErrExhausted if every attempt ran without success
//   - ctx.Err() if the context ended first
func Poll(ctx context.Context, cfg PollConfig, check CheckFunc) (int, error) {
	if cfg.MaxAttempts <= 0 {
		panic("retry: MaxAttempts must be positive")
	}
	timer := cfg.timer
	if timer == nil {
		timer = realTimer{}
	}

	if cfg.SettleDelay > 0 {
		select {
		case <-timer.After(cfg.SettleDelay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	r := NewConstant(cfg.Interval)
	r.timer = timer
	completed := 0
	for attempt, err := range r.Attempts(ctx) {
		if err != nil {
			return completed, err
		}
		done, err := check(ctx, attempt)
		completed = attempt
		if err != nil {
			return completed, err
		}
		if done {
			return completed, nil
		}
		if attempt >= cfg.MaxAttempts {
			return completed, ErrExhausted
		}
	}
	return completed, ErrExhausted
}

// Wait blocks for d or until ctx ends, returning ctx.Err() in the latter
// case. A non-positive d returns immediately.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
