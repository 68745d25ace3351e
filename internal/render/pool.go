package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"galley/internal/config"
	"galley/internal/jobs"
	"galley/internal/logging"
	"galley/internal/services"
)

// TaskStatus is the pool's view of one job.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
	TaskUnknown   TaskStatus = "unknown"
)

// ErrPoolClosed is returned once Close has been called.
var ErrPoolClosed = errors.New("render pool closed")

// Endpoint is one rendering endpoint the pool can hand work to.
type Endpoint struct {
	Name   string
	Runner ScriptRunner
}

// EndpointsFromConfig builds HTTP clients for every configured endpoint.
func EndpointsFromConfig(cfg config.Render) []Endpoint {
	endpoints := make([]Endpoint, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		endpoints = append(endpoints, Endpoint{
			Name:   ep.Name,
			Runner: NewClient(ep.Name, ep.URL, WithTimeout(cfg.RequestTimeoutDuration())),
		})
	}
	return endpoints
}

type task struct {
	job      *jobs.Job
	phase    Phase
	ctx      context.Context
	cancel   context.CancelFunc
	status   TaskStatus
	err      error
	endpoint string
	done     chan struct{}
	// release drops the task record as soon as it finishes; nobody will
	// poll it again.
	release bool
}

func (t *task) finish(status TaskStatus, err error) {
	t.status = status
	t.err = err
	t.cancel()
	close(t.done)
}

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	Endpoints int
	Busy      int
	Queued    int
}

// Pool assigns render tasks to endpoints, at most one task per endpoint.
type Pool struct {
	endpoints []Endpoint
	procedure *Procedure
	logger    *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	busy   map[string]*task
	queue  []*task
	tasks  map[string]*task
	closed bool
}

// NewPool creates a pool over endpoints in the given order.
func NewPool(endpoints []Endpoint, procedure *Procedure, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		endpoints:  endpoints,
		procedure:  procedure,
		logger:     logging.NewComponentLogger(logger, "render-pool"),
		baseCtx:    ctx,
		baseCancel: cancel,
		busy:       make(map[string]*task, len(endpoints)),
		tasks:      make(map[string]*task),
	}
}

// Enqueue queues phase of job for asynchronous rendering. A job that is
// already queued or running is left alone.
func (p *Pool) Enqueue(job *jobs.Job, phase Phase) error {
	_, err := p.submit(p.baseCtx, job, phase)
	return err
}

// Run queues phase of job and waits for it to finish. Cancelling ctx cancels
// the task; Run still waits for the endpoint to be released.
func (p *Pool) Run(ctx context.Context, job *jobs.Job, phase Phase) error {
	t, err := p.submit(ctx, job, phase)
	if err != nil {
		return err
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		p.Cancel(job.ID)
		<-t.done
	}
	p.Forget(job.ID)
	if t.status == TaskCancelled {
		if err := ctx.Err(); err != nil {
			return err
		}
		return context.Canceled
	}
	return t.err
}

func (p *Pool) submit(parent context.Context, job *jobs.Job, phase Phase) (*task, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if existing, ok := p.tasks[job.ID]; ok {
		switch existing.status {
		case TaskQueued, TaskRunning:
			if existing.phase == phase {
				p.mu.Unlock()
				return existing, nil
			}
			p.mu.Unlock()
			return nil, fmt.Errorf("job %s already has %s work in the pool", job.ID, existing.phase)
		}
	}
	ctx, cancel := context.WithCancel(parent)
	t := &task{
		job:    job.Clone(),
		phase:  phase,
		ctx:    ctx,
		cancel: cancel,
		status: TaskQueued,
		done:   make(chan struct{}),
	}
	p.tasks[job.ID] = t
	p.queue = append(p.queue, t)
	p.drainLocked()
	p.mu.Unlock()
	return t, nil
}

// drainLocked starts queued tasks while an idle endpoint exists.
func (p *Pool) drainLocked() {
	for len(p.queue) > 0 {
		ep, ok := p.idleEndpointLocked()
		if !ok {
			return
		}
		t := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		if t.ctx.Err() != nil {
			t.finish(TaskCancelled, t.ctx.Err())
			continue
		}
		t.status = TaskRunning
		t.endpoint = ep.Name
		p.busy[ep.Name] = t
		p.wg.Add(1)
		go p.execute(ep, t)
	}
}

func (p *Pool) idleEndpointLocked() (Endpoint, bool) {
	for _, ep := range p.endpoints {
		if _, busy := p.busy[ep.Name]; !busy {
			return ep, true
		}
	}
	return Endpoint{}, false
}

func (p *Pool) execute(ep Endpoint, t *task) {
	defer p.wg.Done()
	ctx := services.WithStage(services.WithJobID(t.ctx, t.job.ID), "render")
	logger := logging.WithContext(ctx, p.logger).With(logging.String(logging.FieldEndpoint, ep.Name))
	logger.Debug("render task started", logging.String("phase", t.phase.String()))

	err := p.procedure.Run(ctx, ep.Runner, t.job, t.phase)

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.busy, ep.Name)
	switch {
	case err == nil:
		t.finish(TaskSucceeded, nil)
		logger.Info("render task succeeded",
			logging.String("phase", t.phase.String()),
			logging.String(logging.FieldEventType, "render_succeeded"),
		)
	case services.IsCancellation(err) || t.ctx.Err() != nil:
		t.finish(TaskCancelled, err)
		logger.Debug("render task cancelled", logging.String("phase", t.phase.String()))
	default:
		t.finish(TaskFailed, err)
		logger.Warn("render task failed",
			logging.String("phase", t.phase.String()),
			logging.Error(err),
			logging.String(logging.FieldEventType, "render_failed"),
			logging.String(logging.FieldErrorHint, "check the rendering endpoint logs"),
		)
	}
	p.releaseLocked(t)
	p.drainLocked()
}

// releaseLocked drops a finished task that was cancelled or forgotten while
// it was still in flight.
func (p *Pool) releaseLocked(t *task) {
	if !t.release {
		return
	}
	if current, ok := p.tasks[t.job.ID]; ok && current == t {
		delete(p.tasks, t.job.ID)
	}
}

// Cancel signals the job's task. A still-queued task is removed from the
// queue. The task's record is dropped once it has exited, so a later Status
// reports TaskUnknown. It returns false when there is nothing left to cancel.
func (p *Pool) Cancel(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[jobID]
	if !ok {
		return false
	}
	switch t.status {
	case TaskQueued:
		for i, queued := range p.queue {
			if queued == t {
				p.queue = append(p.queue[:i], p.queue[i+1:]...)
				break
			}
		}
		t.finish(TaskCancelled, context.Canceled)
		t.release = true
		p.releaseLocked(t)
		return true
	case TaskRunning:
		if t.ctx.Err() != nil {
			return false
		}
		t.release = true
		t.cancel()
		return true
	default:
		return false
	}
}

// Status reports the pool's view of jobID. For failed tasks the error is
// returned as well.
func (p *Pool) Status(jobID string) (TaskStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[jobID]
	if !ok {
		return TaskUnknown, nil
	}
	return t.status, t.err
}

// Forget drops a task's record. A task still in flight is dropped when it
// finishes.
func (p *Pool) Forget(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[jobID]
	if !ok {
		return
	}
	select {
	case <-t.done:
		delete(p.tasks, jobID)
	default:
		t.release = true
	}
}

// Stats reports pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Endpoints: len(p.endpoints), Busy: len(p.busy), Queued: len(p.queue)}
}

// Endpoints returns the configured endpoints in selection order.
func (p *Pool) Endpoints() []Endpoint {
	return append([]Endpoint(nil), p.endpoints...)
}

// Close cancels every task and waits for running ones to return.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, t := range p.queue {
		t.finish(TaskCancelled, context.Canceled)
	}
	p.queue = nil
	p.mu.Unlock()
	p.baseCancel()
	for _, t := range p.runningTasks() {
		t.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) runningTasks() []*task {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*task, 0, len(p.busy))
	for _, t := range p.busy {
		out = append(out, t)
	}
	return out
}
