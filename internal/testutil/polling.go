// Package testutil holds helpers shared by package tests: condition polling
// for ticker-driven code, a manual clock and unique test names.
package testutil

import (
	"context"
	"fmt"
	"time"
)

// PollingInterval is the default interval between condition checks.
const PollingInterval = 5 * time.Millisecond

// Poll checks condition every interval until it holds, timeout elapses or
// ctx is done.
func Poll(ctx context.Context, condition func() bool, timeout, interval time.Duration) error {
	_, err := WaitFor(ctx, condition, func(ok bool) bool { return ok }, timeout, interval)
	return err
}

// WaitFor polls getter until predicate accepts its result, returning that
// result.
func WaitFor[T any](ctx context.Context, getter func() T, predicate func(T) bool, timeout, interval time.Duration) (T, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		v := getter()
		if predicate(v) {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-deadline.C:
			var zero T
			return zero, fmt.Errorf("timeout after %v waiting for condition, last value %v", timeout, v)
		case <-tick.C:
		}
	}
}
