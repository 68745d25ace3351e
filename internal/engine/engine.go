package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"galley/internal/config"
	"galley/internal/jobflow"
	"galley/internal/jobs"
	"galley/internal/logging"
	"galley/internal/objectstore"
	"galley/internal/project"
	"galley/internal/render"
	"galley/internal/scheduler"
	"galley/internal/stage"
	"galley/internal/transform"
	"galley/internal/validation"
	"galley/internal/workflow"
)

// Option customizes engine collaborators, mostly for tests.
type Option func(*options)

type options struct {
	publisher transform.Publisher
	objects   objectstore.Store
	endpoints []render.Endpoint
	clock     stage.Clock
}

// WithPublisher replaces the AMQP publisher.
func WithPublisher(p transform.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithObjectStore replaces the configured object store.
func WithObjectStore(s objectstore.Store) Option {
	return func(o *options) { o.objects = s }
}

// WithEndpoints replaces the configured render endpoints.
func WithEndpoints(endpoints []render.Endpoint) Option {
	return func(o *options) { o.endpoints = endpoints }
}

// WithClock injects the clock used for history timestamps.
func WithClock(c stage.Clock) Option {
	return func(o *options) { o.clock = c }
}

// Engine owns the pipeline components for the configured mode.
type Engine struct {
	cfg       *config.Config
	mode      string
	store     *jobs.Store
	objects   objectstore.Store
	publisher transform.Publisher
	pool      *render.Pool
	paths     render.Paths
	stages    workflow.StageSet
	clock     stage.Clock
	logger    *slog.Logger

	dispatcher *workflow.Dispatcher
	scheduler  *scheduler.Scheduler
	workflow   *jobflow.Workflow

	mu      sync.Mutex
	running bool
	stopped bool
}

// New wires the engine. The store stays owned by the caller.
func New(ctx context.Context, cfg *config.Config, store *jobs.Store, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	clock := o.clock.OrSystem()

	objects := o.objects
	if objects == nil {
		var err error
		if objects, err = objectstore.New(ctx, cfg.Storage); err != nil {
			return nil, fmt.Errorf("open object store: %w", err)
		}
	}

	publisher := o.publisher
	if publisher == nil {
		if cfg.Engine.Mode == config.ModePolling {
			p, err := transform.NewAMQPPublisher(cfg.Transform.AMQPURL, cfg.Transform.Exchange, cfg.Transform.TemplateQueue, cfg.Transform.TaggedTextQueue)
			if err != nil {
				return nil, fmt.Errorf("connect transform queues: %w", err)
			}
			publisher = p
		} else {
			publisher = transform.DisabledPublisher{}
		}
	}

	endpoints := o.endpoints
	if endpoints == nil {
		endpoints = render.EndpointsFromConfig(cfg.Render)
	}
	paths := render.Paths{OutputDir: cfg.Paths.OutputDir, TemplateDir: cfg.Paths.TemplateDir}
	pool := render.NewPool(endpoints, render.NewProcedure(cfg.Render.Scripts, paths), logger)
	bridge := transform.NewBridge(cfg.Transform, publisher, objects, logger)
	dir := project.NewDirectory(cfg)

	stages := workflow.StageSet{
		Validator:  validation.New(dir, dir, clock, logger),
		Template:   transform.NewTemplateStage(bridge, cfg.Workflow.TemplateTimeoutDuration(), clock, logger),
		TaggedText: transform.NewTaggedTextStage(bridge, cfg.Workflow.TaggedTextTimeoutDuration(), clock, logger),
		Render:     render.NewStage(pool, objects, paths, cfg.Workflow.RenderTimeoutDuration(), clock, logger),
	}

	e := &Engine{
		cfg:       cfg,
		mode:      cfg.Engine.Mode,
		store:     store,
		objects:   objects,
		publisher: publisher,
		pool:      pool,
		paths:     paths,
		stages:    stages,
		clock:     clock,
		logger:    logging.NewComponentLogger(logger, "engine"),
	}
	switch e.mode {
	case config.ModePolling:
		e.dispatcher = workflow.NewDispatcher(store, stages, cfg.Workflow.SweepIntervalDuration(), clock, logger)
	case config.ModeScheduled:
		e.scheduler = scheduler.New(cfg.Scheduler.MaxConcurrentJobs, logger)
		e.workflow = jobflow.New(jobflow.Deps{
			Store:    store,
			Auth:     dir,
			Catalog:  dir,
			Objects:  objects,
			Pool:     pool,
			Paths:    paths,
			Timeouts: cfg.Workflow,
			Clock:    clock,
			Logger:   logger,
		})
	default:
		pool.Close()
		_ = publisher.Close()
		return nil, fmt.Errorf("unknown engine mode %q", e.mode)
	}
	return e, nil
}

// Mode reports the execution mode.
func (e *Engine) Mode() string { return e.mode }

// Start begins processing. In scheduled mode unfinished jobs from a previous
// run are resubmitted and resume from their last recorded state.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("engine already running")
	}
	if e.stopped {
		return errors.New("engine stopped")
	}
	switch e.mode {
	case config.ModePolling:
		if err := e.dispatcher.Start(ctx); err != nil {
			return err
		}
	case config.ModeScheduled:
		if err := e.recover(ctx); err != nil {
			return err
		}
	}
	e.running = true
	e.logger.Info("engine started",
		logging.String("mode", e.mode),
		logging.String(logging.FieldEventType, "engine_start"),
	)
	return nil
}

func (e *Engine) recover(ctx context.Context) error {
	resumed := 0
	for _, state := range jobs.AllStates() {
		if state.IsTerminal() {
			continue
		}
		list, err := e.store.ListByState(ctx, state)
		if err != nil {
			return fmt.Errorf("list %s jobs: %w", state, err)
		}
		for _, job := range list {
			if err := e.scheduler.Submit(e.workflow.Unit(job.ID)); err != nil && !errors.Is(err, scheduler.ErrDuplicate) {
				return fmt.Errorf("resubmit job %s: %w", job.ID, err)
			}
			resumed++
		}
	}
	if resumed > 0 {
		e.logger.Info("resumed unfinished jobs",
			logging.Int("count", resumed),
			logging.String(logging.FieldEventType, "engine_recover"),
		)
	}
	return nil
}

// Stop halts processing, cancelling in-flight work, and releases the pool
// and publisher.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}
	e.stopped = true
	var errs []error
	if e.dispatcher != nil {
		e.dispatcher.Stop()
	}
	if e.scheduler != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, e.cfg.Scheduler.ShutdownTimeoutDuration())
		if err := e.scheduler.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	e.pool.Close()
	if err := e.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	e.running = false
	return errors.Join(errs...)
}
