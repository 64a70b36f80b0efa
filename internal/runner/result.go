package runner

import (
	"fmt"

	"jobrunner/internal/apperrors"
)

// ExecutionResult is the per-attempt outcome reported for a job.
type ExecutionResult string

const (
	ResultPending             ExecutionResult = "pending"
	ResultProcessing          ExecutionResult = "processing"
	ResultJobExpired          ExecutionResult = "job_expired"
	ResultUnsupportedPlatform ExecutionResult = "unsupported_platform"
	ResultFailed              ExecutionResult = "failed"
	ResultApplied             ExecutionResult = "applied"
)

// ParseExecutionResult validates a reported result token.
func ParseExecutionResult(s string) (ExecutionResult, error) {
	switch ExecutionResult(s) {
	case ResultPending, ResultProcessing, ResultJobExpired,
		ResultUnsupportedPlatform, ResultFailed, ResultApplied:
		return ExecutionResult(s), nil
	}
	return "", apperrors.Validation("result", fmt.Sprintf("invalid execution result %q", s))
}

// ApplicationStatus is the persisted business status of a job.
// Only terminal results move it; everything else leaves it at init.
type ApplicationStatus string

const (
	StatusInit       ApplicationStatus = "init"
	StatusInProgress ApplicationStatus = "in_progress"
	StatusJobExpired ApplicationStatus = "job_expired"
	StatusApplied    ApplicationStatus = "applied"
)

// FailureAction selects how classifiable failures are handled.
type FailureAction string

const (
	// Continue skips the failed job and keeps the chain going, bounded
	// by the consecutive-failure ceilings.
	Continue FailureAction = "CONTINUE"
	// AlertStop notifies the failure sink, then halts the chain.
	AlertStop FailureAction = "ALERT_STOP"
	// SilentStop halts the chain without notifying.
	SilentStop FailureAction = "SILENT_STOP"
)

// ParseFailureAction validates a policy token from configuration.
func ParseFailureAction(s string) (FailureAction, error) {
	switch FailureAction(s) {
	case Continue, AlertStop, SilentStop:
		return FailureAction(s), nil
	}
	return "", apperrors.Validation("failureAction", fmt.Sprintf("invalid failure action %q", s))
}

// persistencePlan maps a reported result to what gets written to the store.
//
//	reported              executionResult        applicationStatus
//	pending               failed                 unchanged
//	job_expired           job_expired            job_expired
//	unsupported_platform  unsupported_platform   unchanged
//	failed                failed                 unchanged
//	applied               applied                applied
//	anything else         -                      - (invalid input)
func persistencePlan(reported ExecutionResult) (ExecutionResult, *ApplicationStatus, bool) {
	switch reported {
	case ResultPending:
		return ResultFailed, nil, true
	case ResultJobExpired:
		status := StatusJobExpired
		return ResultJobExpired, &status, true
	case ResultUnsupportedPlatform:
		return ResultUnsupportedPlatform, nil, true
	case ResultFailed:
		return ResultFailed, nil, true
	case ResultApplied:
		status := StatusApplied
		return ResultApplied, &status, true
	}
	return "", nil, false
}
