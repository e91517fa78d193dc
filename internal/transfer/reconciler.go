package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/javanstorm/vmxfer/pkg/hypervisor"
	"github.com/rs/zerolog"
)

const (
	// cancelJobTimeout bounds the best-effort job cancel after the caller
	// cancelled.
	cancelJobTimeout = 10 * time.Second

	// cancelGrace is how long a cancelled transfer waits for the platform
	// call to unwind before reporting.
	cancelGrace = 30 * time.Second
)

// reconciler merges the worker's state and the management job's state into
// one progress stream and one verdict. It runs on a ticker until a terminal
// condition is reached.
type reconciler struct {
	plan     *Plan
	platform hypervisor.Platform
	fs       Filesystem
	worker   *Worker
	locator  *JobLocator
	clock    Clock
	settings Settings
	log      zerolog.Logger
	t        *tracker

	launched     time.Time
	windowEnd    time.Time // Zero when discovery never gives up
	workerDoneAt time.Time
	tracking     Tracking
}

func newReconciler(plan *Plan, platform hypervisor.Platform, fs Filesystem, worker *Worker, locator *JobLocator,
	clock Clock, settings Settings, log zerolog.Logger, t *tracker, launched time.Time) *reconciler {
	r := &reconciler{
		plan:     plan,
		platform: platform,
		fs:       fs,
		worker:   worker,
		locator:  locator,
		clock:    clock,
		settings: settings,
		log:      log,
		t:        t,
		launched: launched,
		tracking: TrackingUnknown{},
	}
	if w := settings.discoveryWindow(plan.Request.Direction); w > 0 {
		r.windowEnd = launched.Add(w)
	}
	return r
}

// run polls until the transfer reaches a verdict. A nil error is a nominal
// success; the entity may be nil when the job completed but the platform call
// did not return one.
func (r *reconciler) run(ctx context.Context) (*hypervisor.Entity, *Error) {
	r.t.track(r.tracking)
	r.t.transition(StateRunningJobUnknown)

	ticker := r.clock.NewTicker(r.settings.PollInterval)
	defer ticker.Stop()

	workerDone := r.worker.Done()
	for {
		if entity, err, done := r.step(ctx); done {
			return entity, err
		}

		select {
		case <-ctx.Done():
			return r.cancelled(ctx)
		case <-ticker.C():
		case <-workerDone:
			// Evaluate right away, then go back to ticking.
			workerDone = nil
		}
	}
}

func (r *reconciler) step(ctx context.Context) (*hypervisor.Entity, *Error, bool) {
	if ctx.Err() != nil {
		entity, err := r.cancelled(ctx)
		return entity, err, true
	}

	now := r.clock.Now()
	finished := r.worker.State() != WorkerRunning
	if finished && r.workerDoneAt.IsZero() {
		r.workerDoneAt = now
		r.log.Debug().Str("worker", r.worker.State().String()).Msg("Platform call returned")
	}

	switch tr := r.tracking.(type) {
	case TrackingTracked:
		return r.stepTracked(ctx, tr.JobID, now, finished)

	case TrackingHeuristic:
		if finished {
			return r.fromWorker()
		}
		r.reportHeuristic(ctx, now)
		return nil, nil, false

	default:
		if finished {
			return r.fromWorker()
		}
		job, err := r.locator.Locate(ctx)
		if err != nil {
			r.log.Warn().Err(err).Msg("Failed to list management jobs")
		}
		if job != nil {
			r.pin(job.ID)
			return r.applyJob(ctx, job, now, finished)
		}
		if !r.windowEnd.IsZero() && !now.Before(r.windowEnd) {
			r.log.Info().Dur("window", r.windowEnd.Sub(r.launched)).
				Msg("No management job found, using estimated progress")
			r.tracking = TrackingHeuristic{}
			r.t.track(r.tracking)
			r.t.transition(StateRunningHeuristic)
		}
		r.reportHeuristic(ctx, now)
		return nil, nil, false
	}
}

func (r *reconciler) pin(jobID string) {
	r.tracking = TrackingTracked{JobID: jobID}
	r.log = r.log.With().Str("job_id", jobID).Logger()
	r.log.Info().Msg("Tracking management job")
	r.t.track(r.tracking)
	r.t.transition(StateRunningJobTracked)
}

// stepTracked re-reads the pinned job by id. Listing is never used again once
// a job is pinned.
func (r *reconciler) stepTracked(ctx context.Context, jobID string, now time.Time, finished bool) (*hypervisor.Entity, *Error, bool) {
	job, err := r.platform.GetJob(ctx, jobID)
	if errors.Is(err, hypervisor.ErrJobNotFound) {
		if finished {
			r.log.Info().Msg("Management job no longer listed, using platform call result")
			return r.fromWorker()
		}
		r.log.Debug().Msg("Management job not visible")
		return nil, nil, false
	}
	if err != nil {
		r.log.Warn().Err(err).Msg("Failed to read management job")
		if finished && r.settled(now) {
			return r.fromWorker()
		}
		return nil, nil, false
	}
	return r.applyJob(ctx, job, now, finished)
}

func (r *reconciler) applyJob(ctx context.Context, job *hypervisor.Job, now time.Time, finished bool) (*hypervisor.Entity, *Error, bool) {
	phase := string(r.plan.Request.Direction)
	msg := fmt.Sprintf("job %s", job.State)

	switch job.State {
	case hypervisor.JobCompleted:
		r.t.report(100, phase, SourceTracked, msg)
		return r.jobCompleted(ctx)
	case hypervisor.JobTerminated, hypervisor.JobKilled, hypervisor.JobError:
		var cause error
		if job.ErrorDescription != "" {
			cause = errors.New(job.ErrorDescription)
		}
		r.log.Error().Str("job_state", job.State.String()).Str("error", job.ErrorDescription).Msg("Management job failed")
		return nil, newError(KindJob, cause, "%s", job.State), true
	}

	r.t.report(job.PercentComplete, phase, SourceTracked, msg)

	if finished && r.settled(now) {
		r.log.Warn().Str("job_state", job.State.String()).Dur("timeout", r.settings.JobSettleTimeout).
			Msg("Management job did not settle after the platform call returned, using call result")
		return r.fromWorker()
	}
	return nil, nil, false
}

// jobCompleted waits up to JobSettleTimeout for the platform call and decides.
// A completed job wins over a failing call; only a failed relocation
// overrides it.
func (r *reconciler) jobCompleted(ctx context.Context) (*hypervisor.Entity, *Error, bool) {
	select {
	case <-r.worker.Done():
	case <-ctx.Done():
		entity, err := r.cancelled(ctx)
		return entity, err, true
	case <-r.clock.After(r.settings.JobSettleTimeout):
		return r.workerHung()
	}

	entity, err := r.worker.Result()
	var rel *relocationError
	switch {
	case errors.As(err, &rel):
		return nil, newError(KindIntegrity, rel.err, "relocate imported VM to %s", r.plan.Destination), true
	case err != nil:
		r.log.Warn().Err(err).Msg("Platform call failed after its job completed, keeping job result")
		return nil, nil, true
	}
	return entity, nil, true
}

// workerHung decides for a completed job whose platform call never returned.
// The call is cancelled. An import that may still owe a storage move cannot
// be confirmed, so it fails.
func (r *reconciler) workerHung() (*hypervisor.Entity, *Error, bool) {
	r.log.Warn().Dur("timeout", r.settings.JobSettleTimeout).
		Msg("Platform call still running after its job completed, cancelling it")
	r.worker.Cancel()

	req := r.plan.Request
	if req.Direction == DirectionImport && req.ImportMode != hypervisor.ImportRegister {
		return nil, newError(KindIntegrity, nil,
			"import job completed but the platform call did not return within %s; relocation to %s is unconfirmed",
			r.settings.JobSettleTimeout, r.plan.Destination), true
	}
	return nil, nil, true
}

// fromWorker decides from the platform call alone.
func (r *reconciler) fromWorker() (*hypervisor.Entity, *Error, bool) {
	entity, err := r.worker.Result()
	var rel *relocationError
	switch {
	case err == nil:
		src := SourceHeuristic
		if _, ok := r.tracking.(TrackingTracked); ok {
			src = SourceTracked
		}
		r.t.report(100, string(r.plan.Request.Direction), src, "platform call completed")
		return entity, nil, true
	case errors.As(err, &rel):
		return nil, newError(KindIntegrity, rel.err, "relocate imported VM to %s", r.plan.Destination), true
	case errors.Is(err, context.Canceled):
		return nil, newError(KindCancelled, err, "transfer cancelled"), true
	default:
		return nil, newError(KindWorker, err, "%s", err.Error()), true
	}
}

// cancelled stops the platform call and, when a job is pinned, asks the host
// to stop it too.
func (r *reconciler) cancelled(ctx context.Context) (*hypervisor.Entity, *Error) {
	r.worker.Cancel()

	if tr, ok := r.tracking.(TrackingTracked); ok {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelJobTimeout)
		defer cancel()
		if err := r.platform.CancelJob(cctx, tr.JobID); err != nil {
			r.log.Warn().Err(err).Msg("Failed to cancel management job")
		}
	}

	select {
	case <-r.worker.Done():
	case <-r.clock.After(cancelGrace):
		r.log.Warn().Dur("grace", cancelGrace).Msg("Platform call still running after cancel")
	}

	return nil, newError(KindCancelled, ctx.Err(), "transfer cancelled")
}

func (r *reconciler) settled(now time.Time) bool {
	return now.Sub(r.workerDoneAt) >= r.settings.JobSettleTimeout
}

func (r *reconciler) reportHeuristic(ctx context.Context, now time.Time) {
	pct, msg, ok := r.heuristicPercent(ctx, now)
	if !ok {
		return
	}
	r.t.report(pct, string(r.plan.Request.Direction), SourceHeuristic, msg)
}

// heuristicPercent estimates progress without a job: written payload bytes
// against the estimate for an export, elapsed time against the expected
// duration for an import. Neither estimate reaches completion on its own.
func (r *reconciler) heuristicPercent(ctx context.Context, now time.Time) (int, string, bool) {
	estimated := r.plan.Space.EstimatedBytes

	if r.plan.Request.Direction == DirectionExport {
		if estimated <= 0 {
			return 0, "waiting for export", true
		}
		files, err := r.fs.Files(ctx, r.plan.PayloadPath, patternAll)
		if err != nil {
			r.log.Debug().Err(err).Msg("Failed to measure export payload")
			return 0, "", false
		}
		written := totalSize(files)
		pct := clamp(int(written*100/estimated), 0, exportHeuristicCap)
		return pct, fmt.Sprintf("%d of %d bytes written", written, estimated), true
	}

	if estimated <= 0 {
		return 0, "waiting for import", true
	}
	expected := time.Duration(float64(estimated) / float64(r.settings.ImportThroughput) * float64(time.Second))
	elapsed := now.Sub(r.launched)
	pct := importHeuristicCap
	if expected > 0 {
		pct = clamp(int(elapsed*100/expected), 0, importHeuristicCap)
	}
	return pct, fmt.Sprintf("%s elapsed of about %s", elapsed.Truncate(time.Second), expected.Truncate(time.Second)), true
}
