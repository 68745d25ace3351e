package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"galley/internal/jobs"
	"galley/internal/logging"
	"galley/internal/objectstore"
	"galley/internal/services"
	"galley/internal/stage"
)

const healthTimeout = 2 * time.Second

// Stage moves jobs from TaggedTextReady through Rendering to Rendered using
// the pool's document phase.
type Stage struct {
	pool    *Pool
	store   objectstore.Store
	paths   Paths
	timeout time.Duration
	clock   stage.Clock
	logger  *slog.Logger
}

// NewStage constructs the render stage processor. store may be nil when
// tagged text is always written straight to the output directory.
func NewStage(pool *Pool, store objectstore.Store, paths Paths, timeout time.Duration, clock stage.Clock, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		pool:    pool,
		store:   store,
		paths:   paths,
		timeout: timeout,
		clock:   clock.OrSystem(),
		logger:  logging.NewComponentLogger(logger, stage.NameRender),
	}
}

func (s *Stage) Name() string { return stage.NameRender }

// ProcessJob stages the tagged text locally and hands the job to the pool.
func (s *Stage) ProcessJob(ctx context.Context, job *jobs.Job) error {
	ctx = services.WithStage(services.WithJobID(ctx, job.ID), stage.NameRender)
	if err := s.fetchTaggedText(ctx, job.ID); err != nil {
		if services.IsCancellation(err) {
			return err
		}
		return stage.Fail(job, stage.NameRender, err, s.clock())
	}
	if err := s.pool.Enqueue(job, PhaseDocument); err != nil {
		return stage.Fail(job, stage.NameRender, err, s.clock())
	}
	return job.Append(jobs.StateRendering, stage.NameRender, s.clock())
}

func (s *Stage) fetchTaggedText(ctx context.Context, jobID string) error {
	if s.store == nil {
		return nil
	}
	err := objectstore.Download(ctx, s.store, objectstore.JobKey(jobID, TaggedTextFile), s.paths.TaggedText(jobID))
	if err == nil || errors.Is(err, objectstore.ErrNotFound) {
		return nil
	}
	return services.Wrap(services.ErrTransient, stage.NameRender, "fetch", "copy tagged text from object store", err)
}

// GetStatus maps the pool's task status onto the job and escalates overdue
// renders.
func (s *Stage) GetStatus(ctx context.Context, job *jobs.Job) error {
	ctx = services.WithStage(services.WithJobID(ctx, job.ID), stage.NameRender)
	now := s.clock()
	status, taskErr := s.pool.Status(job.ID)
	switch status {
	case TaskSucceeded:
		s.pool.Forget(job.ID)
		if overdue, detail := stage.CheckOverdue(job, jobs.StateRendering, s.timeout, now); overdue {
			return s.escalate(ctx, job, detail, now)
		}
		return job.Append(jobs.StateRendered, stage.NameRender, now)
	case TaskFailed:
		s.pool.Forget(job.ID)
		return stage.Fail(job, stage.NameRender, taskErr, now)
	case TaskCancelled:
		s.pool.Forget(job.ID)
		return stage.Cancel(job, stage.NameRender, now)
	case TaskUnknown:
		// The task did not survive a restart; render again from the tagged text.
		logging.WithContext(ctx, s.logger).Info("render task lost; re-enqueueing",
			logging.String(logging.FieldEventType, "render_requeued"),
		)
		if err := s.pool.Enqueue(job, PhaseDocument); err != nil {
			return stage.Fail(job, stage.NameRender, err, now)
		}
	}
	if err := job.Append(jobs.StateRendering, stage.NameRender, now); err != nil {
		return err
	}
	overdue, detail := stage.CheckOverdue(job, jobs.StateRendering, s.timeout, now)
	if !overdue {
		return nil
	}
	return s.escalate(ctx, job, detail, now)
}

func (s *Stage) escalate(ctx context.Context, job *jobs.Job, detail string, now time.Time) error {
	logging.WarnWithContext(logging.WithContext(ctx, s.logger), "render overdue", "stage_overdue",
		logging.String("detail", detail),
		logging.String(logging.FieldErrorHint, "check the rendering endpoints"),
	)
	return stage.EscalateOverdue(ctx, job, stage.NameRender, detail, now, func(context.Context) error {
		s.pool.Cancel(job.ID)
		return nil
	})
}

// CancelJob records the cancellation and stops the pool task.
func (s *Stage) CancelJob(_ context.Context, job *jobs.Job) error {
	if err := stage.Cancel(job, stage.NameRender, s.clock()); err != nil {
		return err
	}
	s.pool.Cancel(job.ID)
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck is healthy when at least one endpoint answers.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	var failures []string
	for _, ep := range s.pool.Endpoints() {
		p, ok := ep.Runner.(pinger)
		if !ok {
			return stage.Healthy(stage.NameRender)
		}
		if err := p.Ping(ctx); err != nil {
			failures = append(failures, err.Error())
			continue
		}
		return stage.Healthy(stage.NameRender)
	}
	if len(failures) == 0 {
		return stage.Unhealthy(stage.NameRender, "no render endpoints configured")
	}
	return stage.Unhealthy(stage.NameRender, fmt.Sprintf("no endpoint reachable: %s", strings.Join(failures, "; ")))
}

var _ stage.Processor = (*Stage)(nil)
