package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"galley/internal/jobs"
	"galley/internal/logging"
	"galley/internal/services"
	"galley/internal/stage"
)

// QueueStage is a stage processor whose work runs on the transform cluster.
type QueueStage struct {
	name       string
	kind       Kind
	inProgress jobs.State
	ready      jobs.State
	complete   Status
	pending    []Status
	timeout    time.Duration
	bridge     *Bridge
	clock      stage.Clock
	logger     *slog.Logger
}

// NewTemplateStage moves jobs from Validated through GeneratingTemplate to
// TemplateReady.
func NewTemplateStage(bridge *Bridge, timeout time.Duration, clock stage.Clock, logger *slog.Logger) *QueueStage {
	s := newQueueStage(stage.NameTemplate, KindTemplate, jobs.StateGeneratingTemplate, jobs.StateTemplateReady, StatusTemplateComplete, bridge, timeout, clock, logger)
	s.pending = []Status{StatusWaiting, StatusProcessing}
	return s
}

// NewTaggedTextStage moves jobs from TemplateReady through
// GeneratingTaggedText to TaggedTextReady.
func NewTaggedTextStage(bridge *Bridge, timeout time.Duration, clock stage.Clock, logger *slog.Logger) *QueueStage {
	s := newQueueStage(stage.NameTaggedText, KindTaggedText, jobs.StateGeneratingTaggedText, jobs.StateTaggedTextReady, StatusTaggedTextComplete, bridge, timeout, clock, logger)
	// The template marker stays behind once the template stage is done.
	s.pending = []Status{StatusWaiting, StatusProcessing, StatusTemplateComplete}
	return s
}

func newQueueStage(name string, kind Kind, inProgress, ready jobs.State, complete Status, bridge *Bridge, timeout time.Duration, clock stage.Clock, logger *slog.Logger) *QueueStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &QueueStage{
		name:       name,
		kind:       kind,
		inProgress: inProgress,
		ready:      ready,
		complete:   complete,
		timeout:    timeout,
		bridge:     bridge,
		clock:      clock.OrSystem(),
		logger:     logging.NewComponentLogger(logger, name),
	}
}

// Name identifies the stage.
func (s *QueueStage) Name() string { return s.name }

// ProcessJob publishes the job and records the in-progress entry. A publish
// failure ends the job with an Error entry.
func (s *QueueStage) ProcessJob(ctx context.Context, job *jobs.Job) error {
	ctx = services.WithStage(services.WithJobID(ctx, job.ID), s.name)
	if err := s.bridge.Submit(ctx, job, s.kind); err != nil {
		if services.IsCancellation(err) {
			return err
		}
		logging.ErrorWithContext(logging.WithContext(ctx, s.logger), "transform submit failed", "transform_submit_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the AMQP broker and queue configuration"),
		)
		return stage.Fail(job, s.name, err, s.clock())
	}
	return job.Append(s.inProgress, s.name, s.clock())
}

// GetStatus maps the bridge status onto the job and escalates overdue work.
// The timeout is judged on every observation, so a completion marker that
// shows up after the deadline still ends the job in Error.
func (s *QueueStage) GetStatus(ctx context.Context, job *jobs.Job) error {
	ctx = services.WithStage(services.WithJobID(ctx, job.ID), s.name)
	logger := logging.WithContext(ctx, s.logger)

	status, err := s.bridge.Status(ctx, job.ID)
	now := s.clock()
	if err != nil {
		if services.IsCancellation(err) {
			return err
		}
		logger.Warn("transform status unavailable; will poll again",
			logging.Error(err),
			logging.String(logging.FieldEventType, "transform_status_failed"),
			logging.String(logging.FieldErrorHint, "check object store access"),
		)
		return s.checkOverdue(ctx, job, now)
	}

	switch {
	case status == s.complete:
		if overdue, detail := stage.CheckOverdue(job, s.inProgress, s.timeout, now); overdue {
			return s.escalate(ctx, job, detail, now)
		}
		logger.Info("transform stage complete", logging.String(logging.FieldEventType, "stage_complete"))
		return job.Append(s.ready, s.name, now)
	case status == StatusCancelled:
		return stage.Cancel(job, s.name, now)
	case slices.Contains(s.pending, status):
		if err := job.Append(s.inProgress, s.name, now); err != nil {
			return err
		}
		return s.checkOverdue(ctx, job, now)
	default:
		detail := fmt.Sprintf("unexpected transform status %q", status)
		return stage.Fail(job, s.name, services.Wrap(services.ErrRemote, s.name, "poll", detail, nil), now)
	}
}

func (s *QueueStage) checkOverdue(ctx context.Context, job *jobs.Job, now time.Time) error {
	overdue, detail := stage.CheckOverdue(job, s.inProgress, s.timeout, now)
	if !overdue {
		return nil
	}
	return s.escalate(ctx, job, detail, now)
}

func (s *QueueStage) escalate(ctx context.Context, job *jobs.Job, detail string, now time.Time) error {
	logging.WarnWithContext(logging.WithContext(ctx, s.logger), "transform stage overdue", "stage_overdue",
		logging.String("detail", detail),
		logging.String(logging.FieldErrorHint, "check the transform cluster workers"),
	)
	return stage.EscalateOverdue(ctx, job, s.name, detail, now, func(ctx context.Context) error {
		return s.bridge.Cancel(ctx, job.ID)
	})
}

// CancelJob records the cancellation and writes the cancel marker.
func (s *QueueStage) CancelJob(ctx context.Context, job *jobs.Job) error {
	if err := stage.Cancel(job, s.name, s.clock()); err != nil {
		return err
	}
	return s.bridge.Cancel(ctx, job.ID)
}

// HealthCheck reports whether the bridge can publish.
func (s *QueueStage) HealthCheck(context.Context) stage.Health {
	if s.bridge == nil {
		return stage.Unhealthy(s.name, "bridge unavailable")
	}
	if err := s.bridge.Ready(); err != nil {
		return stage.Unhealthy(s.name, err.Error())
	}
	return stage.Healthy(s.name)
}

var _ stage.Processor = (*QueueStage)(nil)

// errNoPublisher is returned by the disabled publisher used outside polling mode.
var errNoPublisher = errors.New("transform queues disabled")

// DisabledPublisher rejects every publish. Scheduled mode wires it so the
// bridge can still write cancel markers for jobs left over from polling mode.
type DisabledPublisher struct{}

func (DisabledPublisher) Publish(context.Context, string, Message) error { return errNoPublisher }
func (DisabledPublisher) Ready() error                                   { return errNoPublisher }
func (DisabledPublisher) Close() error                                   { return nil }
