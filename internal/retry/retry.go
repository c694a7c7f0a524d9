// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter shortens each delay by a random fraction in [0, Jitter).
	Jitter float64
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// Delay returns the wait before attempt (attempt >= 2) without jitter.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 2 {
		return 0
	}
	delay := p.BaseDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Attempt is reported to the Observer after every failed try.
type Attempt struct {
	Number    int
	Err       error
	Retryable bool
	NextDelay time.Duration
}

type Outcome struct {
	Attempts int
	Delays   []time.Duration
}

// FinalError is returned when every attempt failed with a retryable error.
type FinalError struct {
	Attempts  int
	LastError error
}

func (e *FinalError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.LastError)
}

func (e *FinalError) Unwrap() error {
	return e.LastError
}

// Executor carries no state between calls; the zero value uses DefaultPolicy.
type Executor struct {
	Policy   Policy
	Sleep    func(ctx context.Context, d time.Duration) error
	Observer func(Attempt)
	// Rand returns a float in [0, 1); used only when Policy.Jitter > 0.
	Rand func() float64
}

func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}

// Do calls op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. Non-retryable errors are returned as-is.
func Do[T any](ctx context.Context, ex Executor, op func(ctx context.Context, attempt int) (T, error)) (T, Outcome, error) {
	var zero T
	policy := ex.Policy.normalized()
	sleep := ex.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var outcome Outcome
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, outcome, err
		}
		outcome.Attempts = attempt

		value, err := op(ctx, attempt)
		if err == nil {
			return value, outcome, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return zero, outcome, err
		}

		retryable := IsRetryable(err)
		var next time.Duration
		if retryable && attempt < policy.MaxAttempts {
			next = ex.jittered(policy, policy.Delay(attempt+1))
		}
		if ex.Observer != nil {
			ex.Observer(Attempt{Number: attempt, Err: err, Retryable: retryable, NextDelay: next})
		}
		if !retryable {
			return zero, outcome, err
		}
		if attempt >= policy.MaxAttempts {
			return zero, outcome, &FinalError{Attempts: attempt, LastError: err}
		}

		outcome.Delays = append(outcome.Delays, next)
		if err := sleep(ctx, next); err != nil {
			return zero, outcome, err
		}
	}
}

func (ex Executor) jittered(policy Policy, delay time.Duration) time.Duration {
	if policy.Jitter <= 0 || delay <= 0 {
		return delay
	}
	random := ex.Rand
	if random == nil {
		random = rand.Float64
	}
	cut := time.Duration(float64(delay) * policy.Jitter * random())
	return delay - cut
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
