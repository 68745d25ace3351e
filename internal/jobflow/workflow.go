package jobflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"galley/internal/config"
	"galley/internal/jobs"
	"galley/internal/logging"
	"galley/internal/objectstore"
	"galley/internal/project"
	"galley/internal/render"
	"galley/internal/scheduler"
	"galley/internal/services"
	"galley/internal/stage"
	"galley/internal/validation"
)

const source = "workflow"

// Deps carries the collaborators a Workflow drives.
type Deps struct {
	Store    *jobs.Store
	Auth     project.Authorizer
	Catalog  project.Catalog
	Objects  objectstore.Store
	Pool     *render.Pool
	Paths    render.Paths
	Timeouts config.Workflow
	Clock    stage.Clock
	Logger   *slog.Logger
}

// Workflow executes validate, fetch template, tagged text, and render for
// one job, persisting every step.
type Workflow struct {
	deps   Deps
	clock  stage.Clock
	logger *slog.Logger
}

// New constructs a Workflow.
func New(deps Deps) *Workflow {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Workflow{
		deps:   deps,
		clock:  deps.Clock.OrSystem(),
		logger: logging.NewComponentLogger(logger, "jobflow"),
	}
}

// Unit wraps the workflow for jobID as a scheduler unit.
func (w *Workflow) Unit(jobID string) scheduler.Unit {
	return scheduler.NewUnit(jobID, func(ctx context.Context) error {
		return w.Run(ctx, jobID)
	})
}

// Run loads the job and drives it from its last durable state to a terminal
// one. Failures are recorded on the job as well as returned; cancellation is
// recorded as Cancelled.
func (w *Workflow) Run(ctx context.Context, jobID string) (err error) {
	job, err := w.deps.Store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.IsTerminal() {
		return nil
	}
	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, w.logger)
	started := w.clock()
	current := source
	defer func() {
		if services.IsCancellation(err) && scheduler.Interrupted(ctx) {
			logger.Info("job interrupted by shutdown",
				logging.String(logging.FieldState, string(job.CurrentState())),
				logging.String(logging.FieldEventType, "job_interrupted"),
			)
			return
		}
		err = w.complete(logger, job, err, current, started)
	}()

	job.MarkStarted(started)
	if err := w.save(ctx, job); err != nil {
		return err
	}

	steps := []struct {
		name  string
		until jobs.State
		run   func(context.Context, *jobs.Job) error
	}{
		{stage.NameValidation, jobs.StateValidated, w.validate},
		{stage.NameTemplate, jobs.StateTemplateReady, w.fetchTemplate},
		{stage.NameTaggedText, jobs.StateTaggedTextReady, w.taggedText},
		{stage.NameRender, jobs.StateRendered, w.render},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if reached(job.CurrentState(), step.until) {
			continue
		}
		current = step.name
		stepCtx := services.WithStage(ctx, step.name)
		stepStart := time.Now()
		if err := step.run(stepCtx, job); err != nil {
			return err
		}
		logging.WithContext(stepCtx, w.logger).Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.String(logging.FieldState, string(job.CurrentState())),
			logging.Duration("stage_duration", time.Since(stepStart)),
		)
	}
	return nil
}

func (w *Workflow) validate(ctx context.Context, job *jobs.Job) error {
	if err := validation.Check(ctx, w.deps.Auth, w.deps.Catalog, job); err != nil {
		return err
	}
	return w.advance(ctx, job, jobs.StateValidated, stage.NameValidation)
}

func (w *Workflow) fetchTemplate(ctx context.Context, job *jobs.Job) error {
	if err := w.advance(ctx, job, jobs.StateGeneratingTemplate, stage.NameTemplate); err != nil {
		return err
	}
	timeout := w.deps.Timeouts.TemplateTimeoutDuration()
	err := withTimeout(ctx, stage.NameTemplate, timeout, func(ctx context.Context) error {
		key := objectstore.TemplateKey(job.Selection.Project, job.Selection.Template)
		err := objectstore.Download(ctx, w.deps.Objects, key, w.deps.Paths.Template(job.ID))
		if errors.Is(err, objectstore.ErrNotFound) {
			return services.Wrap(services.ErrNotFound, stage.NameTemplate, "fetch", fmt.Sprintf("template %s not found", key), err)
		}
		return err
	})
	if err != nil {
		return err
	}
	return w.advance(ctx, job, jobs.StateTemplateReady, stage.NameTemplate)
}

func (w *Workflow) taggedText(ctx context.Context, job *jobs.Job) error {
	if err := w.advance(ctx, job, jobs.StateGeneratingTaggedText, stage.NameTaggedText); err != nil {
		return err
	}
	timeout := w.deps.Timeouts.TaggedTextTimeoutDuration()
	if err := withTimeout(ctx, stage.NameTaggedText, timeout, func(ctx context.Context) error {
		return w.deps.Pool.Run(ctx, job, render.PhaseTaggedText)
	}); err != nil {
		return err
	}
	return w.advance(ctx, job, jobs.StateTaggedTextReady, stage.NameTaggedText)
}

func (w *Workflow) render(ctx context.Context, job *jobs.Job) error {
	if err := w.advance(ctx, job, jobs.StateRendering, stage.NameRender); err != nil {
		return err
	}
	timeout := w.deps.Timeouts.RenderTimeoutDuration()
	if err := withTimeout(ctx, stage.NameRender, timeout, func(ctx context.Context) error {
		return w.deps.Pool.Run(ctx, job, render.PhaseDocument)
	}); err != nil {
		return err
	}
	return w.advance(ctx, job, jobs.StateRendered, stage.NameRender)
}

func (w *Workflow) advance(ctx context.Context, job *jobs.Job, state jobs.State, stageName string) error {
	if err := job.Append(state, stageName, w.clock()); err != nil {
		return err
	}
	return w.save(ctx, job)
}

// complete is the single exit hook: it records the outcome and persists the
// terminal timestamp once.
func (w *Workflow) complete(logger *slog.Logger, job *jobs.Job, runErr error, stageName string, started time.Time) error {
	now := w.clock()
	switch {
	case runErr == nil:
	case services.IsCancellation(runErr):
		logger.Debug("job cancelled", logging.String(logging.FieldState, string(job.CurrentState())))
		if err := stage.Cancel(job, source, now); err != nil {
			logger.Warn("could not record cancellation", logging.Error(err))
		}
	default:
		if err := stage.Fail(job, stageName, runErr, now); err != nil {
			logger.Warn("could not record failure", logging.Error(err))
		}
		logging.WarnWithContext(logger, "job failed", "job_failed",
			logging.Error(runErr),
			logging.String(logging.FieldErrorHint, services.Details(runErr).Message),
		)
	}
	if !job.IsTerminal() {
		return runErr
	}
	if job.MarkCompleted(now) {
		logger.Info("job finished",
			logging.String(logging.FieldState, string(job.CurrentState())),
			logging.Duration("job_duration", now.Sub(started)),
			logging.String(logging.FieldEventType, "job_complete"),
		)
	}
	if err := w.save(context.Background(), job); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func (w *Workflow) save(ctx context.Context, job *jobs.Job) error {
	ok, err := w.deps.Store.Update(context.WithoutCancel(ctx), job)
	if err != nil {
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}
	if !ok {
		return fmt.Errorf("persist job %s: %w", job.ID, jobs.ErrNotFound)
	}
	return nil
}

// withTimeout bounds fn by the stage budget and reports an expired budget
// as a stage timeout rather than a cancellation.
func withTimeout(ctx context.Context, stageName string, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(stepCtx)
	if err != nil && ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stageName, "run", fmt.Sprintf("exceeded timeout %s", timeout), err)
	}
	return err
}

var order = func() map[jobs.State]int {
	out := make(map[jobs.State]int)
	for i, s := range []jobs.State{
		jobs.StateSubmitted,
		jobs.StateValidated,
		jobs.StateGeneratingTemplate,
		jobs.StateTemplateReady,
		jobs.StateGeneratingTaggedText,
		jobs.StateTaggedTextReady,
		jobs.StateRendering,
		jobs.StateRendered,
	} {
		out[s] = i
	}
	return out
}()

// reached reports whether current is at or past target in the pipeline.
func reached(current, target jobs.State) bool {
	c, ok := order[current]
	if !ok {
		return false
	}
	return c >= order[target]
}
