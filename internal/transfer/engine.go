package transfer

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/javanstorm/vmxfer/pkg/hypervisor"
	"github.com/rs/zerolog"
)

// Options configures an Engine.
type Options struct {
	Platform hypervisor.Platform

	// Filesystem defaults to OSFilesystem.
	Filesystem Filesystem

	// Clock defaults to RealClock.
	Clock Clock

	Logger   zerolog.Logger
	Settings Settings

	// Resolver decides name conflicts; nil cancels.
	Resolver ConflictResolver

	// Recorder, if set, receives a Status on every state transition.
	Recorder Recorder
}

// Engine executes transfers against one platform. It is safe for concurrent
// use; concurrent transfers never track the same management job.
type Engine struct {
	platform hypervisor.Platform
	fs       Filesystem
	clock    Clock
	log      zerolog.Logger
	settings Settings
	resolver ConflictResolver
	recorder Recorder
	claims   *claimSet
}

// New creates an engine.
func New(opts Options) *Engine {
	e := &Engine{
		platform: opts.Platform,
		fs:       opts.Filesystem,
		clock:    opts.Clock,
		log:      opts.Logger,
		settings: opts.Settings.withDefaults(),
		resolver: opts.Resolver,
		recorder: opts.Recorder,
		claims:   newClaimSet(),
	}
	if e.fs == nil {
		e.fs = OSFilesystem{}
	}
	if e.clock == nil {
		e.clock = RealClock{}
	}
	if e.resolver == nil {
		e.resolver = CancelResolver{}
	}
	return e
}

// Execute runs one transfer to completion. Progress is delivered to emitter in
// order on the calling goroutine; the returned Outcome is the only verdict.
// Cancelling ctx stops the transfer with a Cancelled failure.
func (e *Engine) Execute(ctx context.Context, req *Request, emitter Emitter) Outcome {
	r := *req
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if emitter == nil {
		emitter = discardEmitter{}
	}

	log := e.log.With().Str("transfer_id", r.ID).Str("direction", string(r.Direction)).Logger()
	t := &tracker{
		clock:    e.clock,
		emitter:  emitter,
		recorder: e.recorder,
		log:      log,
		status: Status{
			ID:          r.ID,
			Direction:   r.Direction,
			Source:      r.Source,
			Destination: r.Destination,
			Target:      r.TargetName,
			State:       StatePreflight,
			Tracking:    TrackingLabel(TrackingUnknown{}),
			StartedAt:   e.clock.Now(),
		},
	}
	t.record()
	t.report(0, PhasePreflight, SourceHeuristic, "validating request")

	plan, perr := NewPreflight(e.platform, e.fs, e.resolver, e.settings, log).Run(ctx, r)
	if perr != nil {
		return e.fail(ctx, t, perr)
	}
	t.status.Destination = plan.Destination
	t.status.Target = plan.TargetName
	log.Info().Str("source", r.Source).Str("destination", plan.Destination).Str("target", plan.TargetName).
		Int64("required_bytes", plan.Space.RequiredBytes).Bool("space_checked", plan.SpaceChecked).
		Msg("Preflight passed")

	t.transition(StateStarting)
	launched := e.clock.Now()
	worker := StartWorker(ctx, transferUnit(e.platform, e.fs, plan))
	defer e.claims.release(r.ID)

	locator := newJobLocator(e.platform, r.Direction, plan.JobTarget, launched, r.ID, e.claims)
	rec := newReconciler(plan, e.platform, e.fs, worker, locator, e.clock, e.settings, log, t, launched)
	entity, rerr := rec.run(ctx)

	t.transition(StateTerminating)
	if rerr != nil {
		return e.fail(ctx, t, rerr)
	}

	entity, ferr := NewFinalizer(e.platform, e.fs, rec.log).Finalize(ctx, plan, entity)
	if ferr != nil {
		return e.fail(ctx, t, ferr)
	}

	t.transition(StateSucceeded)
	rec.log.Info().Str("vm", entity.Name).Str("vm_id", entity.ID).Msg("Transfer succeeded")
	location := entity.Path
	if r.Direction == DirectionExport {
		location = plan.PayloadPath
	}
	return Outcome{TransferID: r.ID, Entity: entity, Location: location}
}

func (e *Engine) fail(ctx context.Context, t *tracker, err *Error) Outcome {
	// Errors caused by the caller cancelling are cancellations, whichever
	// step noticed first.
	if err.Kind != KindCancelled && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = newError(KindCancelled, err.Err, "transfer cancelled")
	}
	t.status.Failure = err
	t.transition(StateFailed)
	t.log.Error().Str("kind", err.Kind.String()).Str("detail", err.Detail).Msg("Transfer failed")
	return Outcome{TransferID: t.status.ID, Failure: err}
}
