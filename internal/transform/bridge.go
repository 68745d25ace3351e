package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"golang.org/x/time/rate"

	"galley/internal/config"
	"galley/internal/jobs"
	"galley/internal/logging"
	"galley/internal/objectstore"
	"galley/internal/services"
)

// Kind selects which transform queue receives a job.
type Kind string

const (
	KindTemplate   Kind = "template"
	KindTaggedText Kind = "tagged_text"
)

// Status is the cluster-side progress of a job as seen through its markers.
type Status string

const (
	StatusWaiting            Status = "waiting"
	StatusProcessing         Status = "processing"
	StatusTemplateComplete   Status = "template_complete"
	StatusTaggedTextComplete Status = "tagged_text_complete"
	StatusCancelled          Status = "cancelled"
	StatusError              Status = "error"
)

// Marker object names under jobs/{id}/.
const (
	MarkerCancel             = ".cancel"
	MarkerTemplateComplete   = ".complete-tg"
	MarkerTaggedTextComplete = ".complete-idtt"
)

// Bridge submits jobs to the transform queues and reads their progress back
// from the object store.
type Bridge struct {
	publisher Publisher
	store     objectstore.Store
	queues    map[Kind]string
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewBridge wires a bridge from the transform configuration.
func NewBridge(cfg config.Transform, publisher Publisher, store objectstore.Store, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = logging.NewNop()
	}
	limit := rate.Inf
	if cfg.StatusRatePerSecond > 0 {
		limit = rate.Limit(cfg.StatusRatePerSecond)
	}
	burst := cfg.StatusBurst
	if burst <= 0 {
		burst = 1
	}
	return &Bridge{
		publisher: publisher,
		store:     store,
		queues: map[Kind]string{
			KindTemplate:   cfg.TemplateQueue,
			KindTaggedText: cfg.TaggedTextQueue,
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logging.NewComponentLogger(logger, "transform-bridge"),
	}
}

// Submit serializes job and publishes it on the queue for kind. Resubmitting
// the same job is safe: the job id is the deduplication key.
func (b *Bridge) Submit(ctx context.Context, job *jobs.Job, kind Kind) error {
	queue, ok := b.queues[kind]
	if !ok || queue == "" {
		return services.Wrap(services.ErrConfiguration, string(kind), "submit", "no queue configured", nil)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	msg := Message{JobID: job.ID, JobPayload: payload}
	if err := b.publisher.Publish(ctx, queue, msg); err != nil {
		return services.Wrap(services.ErrTransient, string(kind), "submit", fmt.Sprintf("publish to %s", queue), err)
	}
	logging.WithContext(ctx, b.logger).Debug("job submitted to transform queue",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("queue", queue),
	)
	return nil
}

// Status lists the job's namespace and classifies the markers found there.
// Markers accumulate across stages, so the most advanced one wins and a
// cancel marker beats everything. A listing failure returns StatusError together with a transient error so
// callers can choose to poll again.
func (b *Bridge) Status(ctx context.Context, jobID string) (Status, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return StatusError, err
	}
	objects, err := b.store.List(ctx, objectstore.JobPrefix(jobID))
	if err != nil {
		return StatusError, services.Wrap(services.ErrTransient, "transform", "status", "list job namespace", err)
	}
	return classify(objects), nil
}

func classify(objects []objectstore.Object) Status {
	if len(objects) == 0 {
		return StatusWaiting
	}
	var cancel, template, taggedText bool
	for _, obj := range objects {
		switch path.Base(obj.Key) {
		case MarkerCancel:
			cancel = true
		case MarkerTemplateComplete:
			template = true
		case MarkerTaggedTextComplete:
			taggedText = true
		}
	}
	switch {
	case cancel:
		return StatusCancelled
	case taggedText:
		return StatusTaggedTextComplete
	case template:
		return StatusTemplateComplete
	default:
		return StatusProcessing
	}
}

// Cancel writes the cancel marker. The caller cannot assume the cluster will
// stop unless this returns nil.
func (b *Bridge) Cancel(ctx context.Context, jobID string) error {
	key := objectstore.JobKey(jobID, MarkerCancel)
	if err := b.store.Put(ctx, key, nil); err != nil {
		return fmt.Errorf("write cancel marker for %s: %w", jobID, err)
	}
	logging.WithContext(ctx, b.logger).Info("cancel marker written",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldEventType, "transform_cancel"),
	)
	return nil
}

// Ready reports publisher health.
func (b *Bridge) Ready() error {
	if b.publisher == nil {
		return fmt.Errorf("no publisher configured")
	}
	return b.publisher.Ready()
}

func (s Status) String() string {
	return strings.ReplaceAll(string(s), "_", " ")
}
