package engine

import (
	"context"

	"galley/internal/jobs"
	"galley/internal/logging"
	"galley/internal/render"
	"galley/internal/scheduler"
	"galley/internal/stage"
)

// Status summarizes engine health for the status endpoint.
type Status struct {
	Mode      string
	Running   bool
	LastError string
	Jobs      map[jobs.State]int
	Stages    map[string]stage.Health
	Pool      render.PoolStats
	Scheduler *scheduler.Stats
}

// Status gathers job counts, stage health, and executor statistics.
func (e *Engine) Status(ctx context.Context) Status {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	out := Status{Mode: e.mode, Running: running, Pool: e.pool.Stats()}
	counts, err := e.store.CountByState(ctx)
	if err != nil {
		e.logger.Warn("failed to read job counts", logging.Error(err))
	}
	out.Jobs = counts

	if e.dispatcher != nil {
		summary := e.dispatcher.Status(ctx)
		out.Stages = summary.StageHealth
		out.LastError = summary.LastError
	} else {
		out.Stages = make(map[string]stage.Health, 2)
		for _, proc := range []stage.Processor{e.stages.Validator, e.stages.Render} {
			out.Stages[proc.Name()] = proc.HealthCheck(ctx)
		}
	}
	if e.scheduler != nil {
		stats := e.scheduler.Stats()
		out.Scheduler = &stats
	}
	return out
}
