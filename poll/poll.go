// Package poll waits for an external resource to reach a terminal status.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned when the deadline or attempt budget is exhausted
	// before a terminal state is observed.
	ErrTimeout = errors.New("timed out waiting for terminal state")
	// ErrTerminalFailure is returned when a failure state is observed.
	ErrTerminalFailure = errors.New("resource reached failure state")
)

// DefaultInterval is used when Options.Interval is not positive.
const DefaultInterval = time.Second

// Options controls Until. A zero Timeout or MaxAttempts means no limit.
type Options struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxAttempts int
	Success     []string
	Failure     []string
}

// CheckFunc returns the current status of the polled resource.
type CheckFunc func(ctx context.Context) (string, error)

// Until calls check until it reports a success or failure state. Any other
// state is transient and retried after Interval. Errors from check are
// returned as-is.
func Until(ctx context.Context, opts Options, check CheckFunc) (string, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var last string
	for attempt := 1; ; attempt++ {
		state, err := check(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && opts.Timeout > 0 {
				return last, fmt.Errorf("%w after %v (last state %q)", ErrTimeout, opts.Timeout, last)
			}
			return state, err
		}
		last = state
		if contains(opts.Success, state) {
			return state, nil
		}
		if contains(opts.Failure, state) {
			return state, fmt.Errorf("%w: %s", ErrTerminalFailure, state)
		}
		if opts.MaxAttempts > 0 && attempt >= opts.MaxAttempts {
			return state, fmt.Errorf("%w after %d attempts (last state %q)", ErrTimeout, attempt, state)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && opts.Timeout > 0 {
				return state, fmt.Errorf("%w after %v (last state %q)", ErrTimeout, opts.Timeout, state)
			}
			return state, ctx.Err()
		case <-timer.C:
		}
	}
}

func contains(states []string, state string) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}
