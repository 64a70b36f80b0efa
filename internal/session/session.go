// Package session manages the per-job execution session that drives a
// browser worker against a job's target URL.
package session

import (
	"context"
	"time"
)

// OpenRequest describes the session to open for a claimed job.
type OpenRequest struct {
	JobKey    string
	ApplyURL  string
	Timeout   time.Duration // watchdog budget, advertised to the worker
	ResultURL string        // where the worker reports its outcome
}

// Backend opens and closes execution sessions. Implementations must
// tolerate Close for a key that was never opened.
type Backend interface {
	// Open starts a session for the job. The worker is expected to
	// report its result before the timeout elapses.
	Open(ctx context.Context, req OpenRequest) error

	// Close tears down the session for the job, if any.
	Close(ctx context.Context, jobKey string) error

	// Ready checks whether the backend can open sessions.
	Ready(ctx context.Context) error
}
