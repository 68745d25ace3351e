package workflow

import (
	"context"
	"errors"
	"fmt"

	"galley/internal/jobs"
	"galley/internal/logging"
	"galley/internal/services"
	"galley/internal/stage"
)

type sweptJob struct {
	job    *jobs.Job
	stored int
}

// sweep caches every job touched during one tick so later routes see the
// in-memory state rather than the stale stored copy.
type sweep struct {
	jobs  map[string]*sweptJob
	order []string
}

func newSweep() *sweep {
	return &sweep{jobs: make(map[string]*sweptJob)}
}

// Tick performs one advance-then-poll sweep and persists every job whose
// history grew. A processor error ends that job in Error; it never aborts
// the sweep.
func (d *Dispatcher) Tick(ctx context.Context) error {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	d.retryPendingCancels(ctx)

	sw := newSweep()
	var errs []error
	for _, r := range d.advance {
		if err := d.runRoute(ctx, sw, r, stageAdvance); err != nil {
			errs = append(errs, err)
			break
		}
	}
	if len(errs) == 0 {
		for _, r := range d.poll {
			if err := d.runRoute(ctx, sw, r, stagePoll); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	if err := d.persist(ctx, sw); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	d.recordTick(err)
	return err
}

type routeAction int

const (
	stageAdvance routeAction = iota
	stagePoll
)

func (a routeAction) String() string {
	if a == stageAdvance {
		return "advance"
	}
	return "poll"
}

func (d *Dispatcher) runRoute(ctx context.Context, sw *sweep, r Route, action routeAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	candidates, err := d.jobsIn(ctx, sw, r.State)
	if err != nil {
		return fmt.Errorf("list %s jobs: %w", r.State, err)
	}
	for _, job := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.handle(ctx, r, action, job)
	}
	return nil
}

// jobsIn merges stored jobs in state with jobs this sweep already moved
// into it, preferring the in-memory copy.
func (d *Dispatcher) jobsIn(ctx context.Context, sw *sweep, state jobs.State) ([]*jobs.Job, error) {
	stored, err := d.store.ListByState(ctx, state)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(stored))
	out := make([]*jobs.Job, 0, len(stored))
	for _, job := range stored {
		seen[job.ID] = struct{}{}
		if cached, ok := sw.jobs[job.ID]; ok {
			if cached.job.CurrentState() == state {
				out = append(out, cached.job)
			}
			continue
		}
		sw.jobs[job.ID] = &sweptJob{job: job, stored: len(job.History)}
		sw.order = append(sw.order, job.ID)
		out = append(out, job)
	}
	for _, id := range sw.order {
		if _, ok := seen[id]; ok {
			continue
		}
		if cached := sw.jobs[id]; cached.job.CurrentState() == state {
			out = append(out, cached.job)
		}
	}
	return out, nil
}

func (d *Dispatcher) handle(ctx context.Context, r Route, action routeAction, job *jobs.Job) {
	stageCtx := services.WithStage(services.WithJobID(ctx, job.ID), r.Processor.Name())
	var err error
	if action == stageAdvance {
		err = r.Processor.ProcessJob(stageCtx, job)
	} else {
		err = r.Processor.GetStatus(stageCtx, job)
	}
	if err == nil || services.IsCancellation(err) {
		return
	}
	logger := logging.WithContext(stageCtx, d.logger)
	if errors.Is(err, stage.ErrCancelUnconfirmed) && job.IsTerminal() {
		d.retryCancels[job.ID] = r.Processor
		logging.WarnWithContext(logger, "stage cancel not confirmed; will retry", "stage_cancel_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check object store access; the backing system may keep working"),
		)
		return
	}
	logger.Warn("stage processor failed",
		logging.String("action", action.String()),
		logging.Error(err),
		logging.String(logging.FieldEventType, "stage_processor_failed"),
		logging.String(logging.FieldErrorHint, "inspect the job error detail"),
	)
	if failErr := stage.Fail(job, r.Processor.Name(), err, d.clock()); failErr != nil {
		logger.Error("could not record stage failure",
			logging.Error(failErr),
			logging.String(logging.FieldEventType, "stage_failure_record_failed"),
			logging.String(logging.FieldErrorHint, "job history may be inconsistent"),
		)
	}
}

// retryPendingCancels re-sends cancellation for terminal jobs whose backing
// work could not be stopped during an earlier sweep. Deleted jobs are dropped.
func (d *Dispatcher) retryPendingCancels(ctx context.Context) {
	for id, proc := range d.retryCancels {
		if ctx.Err() != nil {
			return
		}
		job, err := d.store.Get(ctx, id)
		if errors.Is(err, jobs.ErrNotFound) {
			delete(d.retryCancels, id)
			continue
		}
		if err != nil {
			continue
		}
		logger := logging.WithContext(services.WithJobID(ctx, id), d.logger)
		if err := proc.CancelJob(services.WithStage(ctx, proc.Name()), job); err != nil {
			logger.Warn("stage cancel retry failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "stage_cancel_failed"),
				logging.String(logging.FieldErrorHint, "check object store access"),
			)
			continue
		}
		delete(d.retryCancels, id)
		logger.Info("stage cancel delivered on retry",
			logging.String(logging.FieldStage, proc.Name()),
			logging.String(logging.FieldEventType, "stage_cancel_retried"),
		)
	}
}

func (d *Dispatcher) persist(ctx context.Context, sw *sweep) error {
	// Persist even when the sweep was interrupted so appended entries survive.
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, id := range sw.order {
		entry := sw.jobs[id]
		if len(entry.job.History) == entry.stored {
			continue
		}
		if entry.job.IsTerminal() {
			entry.job.MarkCompleted(d.clock())
		}
		ok, err := d.store.Update(ctx, entry.job)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("persist job %s: %w", id, err))
		case !ok:
			d.logger.Info("job deleted during sweep", logging.String(logging.FieldJobID, id))
		}
	}
	return errors.Join(errs...)
}
