package workflow

import (
	"context"
	"errors"
	"time"

	"galley/internal/logging"
)

// Start runs an immediate sweep and then one per interval until Stop.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	if d.interval <= 0 {
		d.mu.Unlock()
		return errors.New("dispatcher sweep interval must be positive")
	}
	for _, r := range append(append([]Route(nil), d.advance...), d.poll...) {
		if r.Processor == nil {
			d.mu.Unlock()
			return errors.New("dispatcher route for " + string(r.State) + " has no processor")
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.wg.Add(1)
	d.mu.Unlock()

	go d.loop(runCtx)
	return nil
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	d.logger.Info("dispatcher started",
		logging.Duration("sweep_interval", d.interval),
		logging.String(logging.FieldEventType, "dispatcher_start"),
	)
	for {
		if err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			logging.ErrorWithContext(d.logger, "dispatcher sweep failed", "dispatcher_tick_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check job database access"),
			)
		}
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped", logging.String(logging.FieldEventType, "dispatcher_stop"))
			return
		case <-time.After(d.interval):
		}
	}
}
