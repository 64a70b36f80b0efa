// Package runner implements the job chain orchestrator. One runner
// identity processes one job at a time: claim from the queue store,
// open an execution session, arm a watchdog, wait for the result
// report, persist it and continue the chain until the queue drains or
// the failure policy halts it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"jobrunner/internal/apperrors"
	"jobrunner/internal/events"
	"jobrunner/internal/notify"
	"jobrunner/internal/session"
	"jobrunner/internal/store"

	"github.com/google/uuid"
)

const (
	// maxRunJobFailures bounds consecutive session-open failures
	// before a Continue chain gives up.
	maxRunJobFailures = 3
	// maxExecutionFailures bounds consecutive finalization failures
	// before a Continue chain gives up.
	maxExecutionFailures = 5

	sourceRunner = "runner"
)

// appliedAtFormat matches the millisecond UTC timestamp shape the
// store expects for applied_at.
const appliedAtFormat = "2006-01-02T15:04:05.000Z"

// Reasons reported to callers and observers.
const (
	ReasonStarted            = "started"
	ReasonAlreadyRunning     = "automation_already_running"
	ReasonAllJobsCompleted   = "all_jobs_completed"
	ReasonChainDisabled      = "disabled_chain_ended_execution"
	ReasonStopRequested      = "stop_requested"
	ReasonFetchFailure       = "job_fetch_database_error"
	ReasonMissingTarget      = "job_without_applyurl_database_error"
	ReasonOpenFailure        = "failed_to_open_session"
	ReasonPersistFailure     = "database_update_failure"
	ReasonInvalidResult      = "invalid_execution_result"
	ReasonPendingActiveChain = "pending_not_allowed_for_active_chain"
	ReasonFatalSetResult     = "fatal_error_setting_execution_result"
	ReasonStaleReport        = "stale_result_report"
	ReasonJobTimedOut        = "job_timed_out"
	ReasonOrphanPending      = "orphan_pending_job_does_not_need_initialization"
	ReasonOrphanComplete     = "orphan_job_execution_complete"
)

// openRetriesReason is the halt reason for an exhausted session-open
// retry ceiling.
func openRetriesReason() string {
	return fmt.Sprintf("failed_to_open_session_with_%d_retries", maxRunJobFailures)
}

// errLeaseExpired marks a session open whose watchdog fired first; the
// timeout callback owns the chain from there.
var errLeaseExpired = errors.New("lease expired during session open")

// Result is the structured outcome of a runner operation.
type Result struct {
	Success bool
	Reason  string
	Err     error
}

// Report is a finalization report for a job attempt. Key is ignored
// for chained reports; the leased job's identity wins.
type Report struct {
	Key         string
	Result      string
	Fingerprint string
	SoftData    map[string]any
	Source      string
}

// MetricsRecorder is an optional interface for recording runner metrics.
type MetricsRecorder interface {
	RecordJobClaimed(ctx context.Context)
	RecordJobResult(ctx context.Context, result string)
	RecordWatchdogTimeout(ctx context.Context)
	RecordChainHalt(ctx context.Context, reason string)
	SetRunnerActive(ctx context.Context, active bool)
}

// lease is the claim on a single job attempt. The watchdog callback and
// the result report race to settle it; exactly one wins and performs
// the terminal store write.
type lease struct {
	job     *store.Job
	token   string
	timer   *time.Timer
	settled atomic.Bool
}

// settle returns true for exactly one caller.
func (l *lease) settle() bool {
	return l.settled.CompareAndSwap(false, true)
}

// cancelWatchdog stops the timer. Safe to call repeatedly.
func (l *lease) cancelWatchdog() {
	if l.timer != nil {
		l.timer.Stop()
	}
}

// Config holds dependencies and settings for a Runner.
type Config struct {
	Queue         store.Queue
	Sessions      session.Backend
	Timeouts      *TimeoutResolver // nil uses the built-in rules
	Publisher     *events.Publisher
	Notifier      notify.Notifier // nil disables alerts
	Metrics       MetricsRecorder // nil disables metrics
	RunnerID      string
	FailureAction FailureAction
	ResultURL     string // where workers report results
}

// Runner drives the job chain for a single runner identity.
type Runner struct {
	queue     store.Queue
	sessions  session.Backend
	timeouts  *TimeoutResolver
	publisher *events.Publisher
	notifier  notify.Notifier
	metrics   MetricsRecorder
	runnerID  string
	policy    FailureAction
	resultURL string
	logger    *slog.Logger

	// active is the mutual-exclusion gate: held from a successful
	// Start until the chain halts. chain gates auto-continuation;
	// clearing it stops the chain cooperatively at the next boundary.
	active atomic.Bool
	chain  atomic.Bool

	mu           sync.Mutex
	current      *lease
	runFailures  int // consecutive session-open failures
	execFailures int // consecutive finalization failures
	processed    int // jobs finalized in the current chain
}

// New creates a Runner. Jobs left in-flight by a prior crash are reset
// back to pending; a store failure here is fatal.
func New(ctx context.Context, cfg Config) (*Runner, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session backend is required")
	}
	if cfg.Timeouts == nil {
		cfg.Timeouts = DefaultTimeoutResolver()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NewPublisher(events.PublisherConfig{RunnerID: cfg.RunnerID})
	}
	if cfg.FailureAction == "" {
		cfg.FailureAction = AlertStop
	}

	if err := cfg.Queue.ResetStuckJobs(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset stuck jobs: %w", err)
	}

	return &Runner{
		queue:     cfg.Queue,
		sessions:  cfg.Sessions,
		timeouts:  cfg.Timeouts,
		publisher: cfg.Publisher,
		notifier:  cfg.Notifier,
		metrics:   cfg.Metrics,
		runnerID:  cfg.RunnerID,
		policy:    cfg.FailureAction,
		resultURL: cfg.ResultURL,
		logger:    slog.With("component", "runner", "runner", cfg.RunnerID),
	}, nil
}

// Active reports whether a chain currently holds the runner.
func (r *Runner) Active() bool {
	return r.active.Load()
}

// Start begins a job chain. At most one chain runs at a time; a second
// caller observes automation_already_running without claiming anything.
func (r *Runner) Start(ctx context.Context) Result {
	if !r.active.CompareAndSwap(false, true) {
		return Result{Success: false, Reason: ReasonAlreadyRunning}
	}
	r.chain.Store(true)

	r.mu.Lock()
	r.runFailures = 0
	r.execFailures = 0
	r.processed = 0
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetRunnerActive(ctx, true)
	}
	r.logger.Info("Job chain started")
	return r.claimNext()
}

// Stop disables the chain cooperatively. An in-flight job finishes its
// current attempt; no further jobs are claimed.
func (r *Runner) Stop() Result {
	wasActive := r.active.Load()
	r.chain.Store(false)
	if wasActive {
		r.publisher.JobsStopped(ReasonStopRequested)
		r.logger.Info("Job chain stop requested")
	}
	return Result{Success: true, Reason: ReasonStopRequested}
}

// Shutdown halts the chain and tears down any open session. Used on
// process shutdown only; the leased job is left for the startup reset.
func (r *Runner) Shutdown(ctx context.Context) {
	r.chain.Store(false)
	if r.active.Load() {
		r.teardownLease()
		r.deactivate()
	}
}

// claimNext runs the claim loop: fetch, resolve timeout, open session,
// arm watchdog. The caller must hold the active flag. Skippable
// failures loop to the next job instead of recursing.
func (r *Runner) claimNext() Result {
	ctx := context.Background()

	for {
		if !r.chain.Load() {
			r.deactivate()
			r.logger.Info("Chain disabled, ending run")
			return Result{Success: true, Reason: ReasonChainDisabled}
		}

		job, err := r.queue.FetchAndLockNext(ctx, r.runnerID)
		if err != nil {
			// Store reachability failures are fatal for the whole run,
			// never retried inside the loop.
			return r.halt(ReasonFetchFailure, err)
		}
		if job == nil {
			r.mu.Lock()
			processed := r.processed
			r.mu.Unlock()
			r.publisher.JobsDrained(processed)
			r.deactivate()
			r.logger.Info("Queue drained", "processed", processed)
			return Result{Success: true, Reason: ReasonAllJobsCompleted}
		}

		if r.metrics != nil {
			r.metrics.RecordJobClaimed(ctx)
		}

		applyURL := job.ApplyURL()
		if applyURL == "" {
			// Data integrity problem, not an execution failure.
			if r.policy == Continue {
				r.logger.Warn("Job has no target URL, skipping", "jobKey", job.Key)
				continue
			}
			return r.halt(ReasonMissingTarget, fmt.Errorf("job %s has no target URL", job.Key))
		}

		timeout := r.timeouts.Resolve(applyURL)
		if err := r.openSession(ctx, job, applyURL, timeout); err != nil {
			if errors.Is(err, errLeaseExpired) {
				// The watchdog consumed this attempt and is driving the
				// chain from its own callback.
				return Result{Success: false, Reason: ReasonJobTimedOut, Err: err}
			}
			r.logger.Error("Failed to open session", "jobKey", job.Key, "error", err)
			// The claimed job must not stay processing in the store.
			// Best effort, a failure here is logged and swallowed.
			if uerr := r.queue.Upsert(ctx, store.UpsertRequest{
				Key:         job.Key,
				Fingerprint: job.Fingerprint,
				Force:       map[string]any{"executionResult": string(ResultFailed)},
				Source:      sourceRunner,
			}); uerr != nil {
				r.logger.Error("Failed to persist open failure", "jobKey", job.Key, "error", uerr)
			}
			if r.policy == Continue {
				r.mu.Lock()
				r.runFailures++
				failures := r.runFailures
				r.mu.Unlock()
				if failures >= maxRunJobFailures {
					return r.halt(openRetriesReason(), err)
				}
				continue
			}
			return r.halt(ReasonOpenFailure, err)
		}

		r.mu.Lock()
		r.runFailures = 0
		r.mu.Unlock()

		r.publisher.JobStarted(job.Key, applyURL)
		r.logger.Info("Job started", "jobKey", job.Key, "timeout", timeout)
		return Result{Success: true, Reason: ReasonStarted}
	}
}

// openSession installs the lease and arms the watchdog before opening
// the execution session, so a hung open is still bounded by the timer.
// The open itself carries a matching context deadline.
func (r *Runner) openSession(ctx context.Context, job *store.Job, applyURL string, timeout time.Duration) error {
	l := &lease{job: job, token: uuid.NewString()}
	r.mu.Lock()
	r.current = l
	r.mu.Unlock()
	l.timer = time.AfterFunc(timeout, func() { r.onTimeout(l) })

	openCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := r.sessions.Open(openCtx, session.OpenRequest{
		JobKey:    job.Key,
		ApplyURL:  applyURL,
		Timeout:   timeout,
		ResultURL: r.resultURL,
	})
	if err == nil {
		if l.settled.Load() {
			// The open outlived the watchdog; its session is stale.
			_ = r.sessions.Close(ctx, job.Key)
			return errLeaseExpired
		}
		return nil
	}
	if !l.settle() {
		return errLeaseExpired
	}
	r.closeLease(l)
	return err
}

// SetResult finalizes a job attempt from an externally reported result.
// For chained reports the leased job's key wins over the reported one;
// reports with no active chain are treated as orphans.
func (r *Runner) SetResult(ctx context.Context, report Report) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			r.logger.Error("Unexpected failure finalizing result", "panic", rec)
			r.haltChain(ReasonFatalSetResult, err)
			res = Result{Success: false, Reason: ReasonFatalSetResult, Err: err}
		}
	}()

	r.mu.Lock()
	l := r.current
	r.mu.Unlock()

	if r.active.Load() && l != nil {
		return r.finalizeChained(ctx, l, report)
	}
	return r.finalizeOrphan(ctx, report)
}

// finalizeChained settles the lease against the watchdog, persists the
// outcome and continues the chain.
func (r *Runner) finalizeChained(ctx context.Context, l *lease, report Report) Result {
	if !l.settle() {
		// The watchdog already consumed this attempt.
		r.logger.Warn("Stale result report", "jobKey", l.job.Key, "lease", l.token)
		return Result{Success: false, Reason: ReasonStaleReport}
	}
	l.cancelWatchdog()

	report.Key = l.job.Key
	if report.Fingerprint == "" {
		report.Fingerprint = l.job.Fingerprint
	}

	reported := ExecutionResult(report.Result)
	degraded := false

	if reported == ResultPending {
		// A chain must always produce a real terminal result. Beyond
		// the consecutive-failure cap the degraded write is skipped.
		if r.policy != Continue || r.overFailureCap() {
			return r.failAttempt(ctx, l, ReasonPendingActiveChain,
				apperrors.Validation("result", "pending is not a valid outcome for the active job"))
		}
		degraded = true
	}

	execResult, status, ok := persistencePlan(reported)
	if !ok {
		return r.failAttempt(ctx, l, ReasonInvalidResult,
			apperrors.Validation("result", fmt.Sprintf("invalid execution result %q", report.Result)))
	}

	if err := r.persistOutcome(ctx, report, execResult, status); err != nil {
		return r.failAttempt(ctx, l, ReasonPersistFailure, err)
	}

	r.closeLease(l)
	if r.metrics != nil {
		r.metrics.RecordJobResult(ctx, string(execResult))
	}
	r.publisher.JobCompleted(report.Key, string(execResult))
	r.logger.Info("Job completed", "jobKey", report.Key, "result", execResult)

	r.mu.Lock()
	if degraded {
		// The swallowed pending-in-chain counts toward the cap.
		r.execFailures++
	} else {
		r.execFailures = 0
	}
	r.processed++
	r.mu.Unlock()

	return r.claimNext()
}

// finalizeOrphan persists an out-of-band report without touching the
// chain. Orphan pending reports are a deliberate no-op.
func (r *Runner) finalizeOrphan(ctx context.Context, report Report) Result {
	if ExecutionResult(report.Result) == ResultPending {
		return Result{Success: true, Reason: ReasonOrphanPending}
	}
	if report.Key == "" {
		return Result{
			Success: false,
			Reason:  ReasonInvalidResult,
			Err:     apperrors.Validation("key", "job key is required for an orphan report"),
		}
	}

	execResult, status, ok := persistencePlan(ExecutionResult(report.Result))
	if !ok {
		return Result{
			Success: false,
			Reason:  ReasonInvalidResult,
			Err:     apperrors.Validation("result", fmt.Sprintf("invalid execution result %q", report.Result)),
		}
	}

	if err := r.persistOutcome(ctx, report, execResult, status); err != nil {
		return Result{Success: false, Reason: ReasonPersistFailure, Err: err}
	}

	if r.metrics != nil {
		r.metrics.RecordJobResult(ctx, string(execResult))
	}
	r.publisher.JobCompleted(report.Key, string(execResult))
	r.logger.Info("Orphan job finalized", "jobKey", report.Key, "result", execResult)
	return Result{Success: true, Reason: ReasonOrphanComplete}
}

// onTimeout is the watchdog callback. It races the result report for
// the lease; the loser is a no-op.
func (r *Runner) onTimeout(l *lease) {
	if !l.settle() {
		return
	}

	ctx := context.Background()
	r.logger.Warn("Job watchdog fired", "jobKey", l.job.Key, "lease", l.token)
	if r.metrics != nil {
		r.metrics.RecordWatchdogTimeout(ctx)
	}

	// A timeout must never itself throw; the persistence failure is
	// logged and swallowed.
	err := r.queue.Upsert(ctx, store.UpsertRequest{
		Key:         l.job.Key,
		Fingerprint: l.job.Fingerprint,
		Force:       map[string]any{"executionResult": string(ResultFailed)},
		Source:      sourceRunner,
	})
	if err != nil {
		r.logger.Error("Failed to persist timeout result", "jobKey", l.job.Key, "error", err)
	}

	r.closeLease(l)
	r.publisher.JobCompleted(l.job.Key, ReasonJobTimedOut)

	if res := r.claimNext(); !res.Success {
		r.logger.Error("Chain stopped after timeout", "reason", res.Reason, "error", res.Err)
	}
}

// failAttempt handles a finalization failure for the leased job,
// branching on the failure policy.
func (r *Runner) failAttempt(ctx context.Context, l *lease, reason string, err error) Result {
	r.closeLease(l)
	r.logger.Error("Job finalization failed", "jobKey", l.job.Key, "reason", reason, "error", err)

	if r.policy != Continue {
		return r.halt(reason, err)
	}
	if r.overFailureCap() {
		return r.halt(reason, fmt.Errorf("beyond %d consecutive execution failures: %w", maxExecutionFailures, err))
	}
	r.mu.Lock()
	r.execFailures++
	r.mu.Unlock()

	if cont := r.claimNext(); !cont.Success {
		return cont
	}
	return Result{Success: false, Reason: reason, Err: err}
}

// overFailureCap reports whether the Continue allowance for consecutive
// finalization failures is exhausted. Failures are tolerated until the
// counter sits at the cap; the next one halts the chain.
func (r *Runner) overFailureCap() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.execFailures >= maxExecutionFailures
}

// persistOutcome writes the mapped result through the idempotent
// force/soft upsert.
func (r *Runner) persistOutcome(ctx context.Context, report Report, execResult ExecutionResult, status *ApplicationStatus) error {
	force := map[string]any{"executionResult": string(execResult)}
	if status != nil {
		force["applicationStatus"] = string(*status)
	}
	if execResult == ResultApplied {
		force["applied_at"] = time.Now().UTC().Format(appliedAtFormat)
	}

	source := report.Source
	if source == "" {
		source = sourceRunner
	}

	return r.queue.Upsert(ctx, store.UpsertRequest{
		Key:         report.Key,
		Fingerprint: report.Fingerprint,
		Force:       force,
		Soft:        report.SoftData,
		Source:      source,
	})
}

// halt tears the chain down and returns the failure to the caller.
func (r *Runner) halt(reason string, err error) Result {
	r.haltChain(reason, err)
	return Result{Success: false, Reason: reason, Err: err}
}

// haltChain releases the lease, publishes the stop event, alerts under
// AlertStop and clears the active flag so a later start is possible.
func (r *Runner) haltChain(reason string, err error) {
	r.teardownLease()
	r.publisher.JobsStopped(reason)

	if r.policy == AlertStop {
		fields := map[string]any{"runner": r.runnerID}
		if err != nil {
			fields["error"] = err.Error()
		}
		r.notifier.Alert(context.Background(), reason, fields)
	}
	if r.metrics != nil {
		r.metrics.RecordChainHalt(context.Background(), reason)
	}

	r.deactivate()
	r.logger.Warn("Job chain halted", "reason", reason, "error", err)
}

// teardownLease settles and releases the current lease, if any.
func (r *Runner) teardownLease() {
	r.mu.Lock()
	l := r.current
	r.current = nil
	r.mu.Unlock()

	if l == nil {
		return
	}
	l.settled.Store(true)
	l.cancelWatchdog()
	_ = r.sessions.Close(context.Background(), l.job.Key)
}

// closeLease releases the session and clears the lease pointer. The
// caller must already own the settled lease.
func (r *Runner) closeLease(l *lease) {
	l.cancelWatchdog()
	r.mu.Lock()
	if r.current == l {
		r.current = nil
	}
	r.mu.Unlock()
	_ = r.sessions.Close(context.Background(), l.job.Key)
}

func (r *Runner) deactivate() {
	r.chain.Store(false)
	r.active.Store(false)
	if r.metrics != nil {
		r.metrics.SetRunnerActive(context.Background(), false)
	}
}
