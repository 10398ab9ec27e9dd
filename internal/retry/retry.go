// Package retry re-issues idempotent actions on a fixed sequence of delays.
package retry

import (
	"context"
	"time"
)

// DefaultDelays are the waits between attempts when none are configured.
var DefaultDelays = []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond}

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy is a bounded retry schedule. The zero Policy uses DefaultDelays.
type Policy struct {
	Delays []time.Duration
	Sleep  Sleeper
}

// New creates a policy with the given delays. Passing no delays selects
// DefaultDelays; use an empty, non-nil slice for a single attempt.
func New(delays ...time.Duration) Policy {
	if delays == nil {
		return Policy{Delays: DefaultDelays}
	}
	return Policy{Delays: delays}
}

// Attempts returns the maximum number of times an action runs.
func (p Policy) Attempts() int {
	return len(p.delays()) + 1
}

func (p Policy) delays() []time.Duration {
	if p.Delays == nil {
		return DefaultDelays
	}
	return p.Delays
}

// Do runs action, and while isSuccess rejects the result waits the next
// delay and runs it again. The last result is returned whether or not it
// succeeded. Actions report failure through their result; Do never
// inspects errors. A cancelled ctx ends the schedule early.
func Do[T any](ctx context.Context, p Policy, action func(context.Context) T, isSuccess func(T) bool) T {
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	result := action(ctx)
	if isSuccess(result) {
		return result
	}
	for _, d := range p.delays() {
		if err := sleep(ctx, d); err != nil {
			return result
		}
		result = action(ctx)
		if isSuccess(result) {
			return result
		}
	}
	return result
}

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
