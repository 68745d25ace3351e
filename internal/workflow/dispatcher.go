package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"galley/internal/jobs"
	"galley/internal/logging"
	"galley/internal/stage"
)

// Route binds a job state to the processor that handles jobs in it.
type Route struct {
	State     jobs.State
	Processor stage.Processor
}

// StageSet bundles the concrete processors the dispatcher drives.
type StageSet struct {
	Validator  stage.Processor
	Template   stage.Processor
	TaggedText stage.Processor
	Render     stage.Processor
}

// AdvanceRoutes lists entry states in pipeline order so a job can move
// through several stages within a single tick.
func (s StageSet) AdvanceRoutes() []Route {
	return []Route{
		{State: jobs.StateSubmitted, Processor: s.Validator},
		{State: jobs.StateValidated, Processor: s.Template},
		{State: jobs.StateTemplateReady, Processor: s.TaggedText},
		{State: jobs.StateTaggedTextReady, Processor: s.Render},
	}
}

// PollRoutes lists the in-progress states and their owners.
func (s StageSet) PollRoutes() []Route {
	return []Route{
		{State: jobs.StateGeneratingTemplate, Processor: s.Template},
		{State: jobs.StateGeneratingTaggedText, Processor: s.TaggedText},
		{State: jobs.StateRendering, Processor: s.Render},
	}
}

// Dispatcher sweeps the job store on a fixed interval.
type Dispatcher struct {
	store    *jobs.Store
	advance  []Route
	poll     []Route
	interval time.Duration
	clock    stage.Clock
	logger   *slog.Logger

	// tickMu serializes sweeps with out-of-band cancellation. It also guards
	// retryCancels.
	tickMu       sync.Mutex
	retryCancels map[string]stage.Processor

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastTick time.Time
	ticks    int64
}

// NewDispatcher builds the routing table once from stages.
func NewDispatcher(store *jobs.Store, stages StageSet, interval time.Duration, clock stage.Clock, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		store:    store,
		advance:  stages.AdvanceRoutes(),
		poll:     stages.PollRoutes(),
		interval: interval,
		clock:    clock.OrSystem(),
		logger:   logging.NewComponentLogger(logger, "dispatcher"),

		retryCancels: make(map[string]stage.Processor),
	}
}

// processorFor returns the processor responsible for a job in state.
func (d *Dispatcher) processorFor(state jobs.State) (stage.Processor, bool) {
	for _, routes := range [][]Route{d.poll, d.advance} {
		for _, r := range routes {
			if r.State == state && r.Processor != nil {
				return r.Processor, true
			}
		}
	}
	return nil, false
}
