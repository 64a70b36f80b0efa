// Package testutil provides polling helpers for asynchronous tests.
// The runner settles work on timers and worker goroutines, so tests
// wait on observable state instead of sleeping fixed amounts.
package testutil

import (
	"testing"
	"time"
)

const (
	defaultWaitTimeout  = 30 * time.Second
	defaultWaitInterval = 100 * time.Millisecond
)

// WaitOptions configures the polling loop.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// WaitOption mutates WaitOptions.
type WaitOption func(*WaitOptions)

// WithTimeout overrides the 30s default deadline.
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) { o.Timeout = d }
}

// WithInterval overrides the 100ms default polling interval.
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) { o.Interval = d }
}

// WaitFor polls condition until it returns true or the deadline passes.
// Reports whether the condition was met.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()

	o := WaitOptions{Timeout: defaultWaitTimeout, Interval: defaultWaitInterval}
	for _, opt := range opts {
		opt(&o)
	}

	deadline := time.Now().Add(o.Timeout)
	for {
		if condition() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(o.Interval)
	}
}

// MustWaitFor is WaitFor that fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}
