package workflow

import (
	"context"
	"fmt"
	"time"

	"galley/internal/jobs"
	"galley/internal/logging"
	"galley/internal/stage"
)

// StatusSummary reports dispatcher diagnostics.
type StatusSummary struct {
	Running     bool
	LastTick    time.Time
	Ticks       int64
	LastError   string
	StageHealth map[string]stage.Health
}

// Status returns the latest dispatcher information.
func (d *Dispatcher) Status(ctx context.Context) StatusSummary {
	d.mu.RLock()
	summary := StatusSummary{Running: d.running, LastTick: d.lastTick, Ticks: d.ticks}
	if d.lastErr != nil {
		summary.LastError = d.lastErr.Error()
	}
	d.mu.RUnlock()

	summary.StageHealth = make(map[string]stage.Health)
	for _, r := range d.advance {
		if r.Processor == nil {
			continue
		}
		if _, done := summary.StageHealth[r.Processor.Name()]; done {
			continue
		}
		summary.StageHealth[r.Processor.Name()] = r.Processor.HealthCheck(ctx)
	}
	return summary
}

// Cancel stops a job's current stage between sweeps and persists the
// Cancelled entry. Terminal jobs are returned unchanged.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) (*jobs.Job, error) {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	job, err := d.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return job, nil
	}
	stored := len(job.History)
	proc, ok := d.processorFor(job.CurrentState())
	if !ok {
		return nil, fmt.Errorf("no processor handles %s", job.CurrentState())
	}
	cancelErr := proc.CancelJob(ctx, job)
	if cancelErr != nil {
		logging.WarnWithContext(logging.WithContext(ctx, d.logger), "stage cancel incomplete", "stage_cancel_failed",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(cancelErr),
			logging.String(logging.FieldErrorHint, "the backing system may keep working on this job"),
		)
	}
	if len(job.History) > stored {
		job.MarkCompleted(d.clock())
		if _, err := d.store.Update(context.WithoutCancel(ctx), job); err != nil {
			return nil, fmt.Errorf("persist cancellation: %w", err)
		}
	}
	return job, cancelErr
}

func (d *Dispatcher) recordTick(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastTick = d.clock()
	d.ticks++
	d.lastErr = err
}
