package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"galley/internal/logging"
)

var (
	// ErrDuplicate is returned when a unit with the same id is pending or running.
	ErrDuplicate = errors.New("unit already scheduled")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("scheduler closed")
)

// Unit is one schedulable piece of work.
type Unit interface {
	ID() string
	Run(ctx context.Context) error
}

type funcUnit struct {
	id  string
	run func(context.Context) error
}

func (u funcUnit) ID() string                    { return u.id }
func (u funcUnit) Run(ctx context.Context) error { return u.run(ctx) }

// NewUnit adapts a function to Unit.
func NewUnit(id string, run func(context.Context) error) Unit {
	return funcUnit{id: id, run: run}
}

type handle struct {
	unit    Unit
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// Stats counts units by outcome.
type Stats struct {
	Capacity  int
	Submitted int64
	Completed int64
	Failed    int64
	Cancelled int64
	Running   int
	Pending   int
}

// Scheduler admits at most its capacity of units at once, in FIFO order.
type Scheduler struct {
	sem      *semaphore.Weighted
	capacity int
	logger   *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc
	loopDone   chan struct{}
	units      sync.WaitGroup

	mu      sync.Mutex
	pending []*handle
	handles map[string]*handle
	wake    chan struct{}
	closed  bool
	stats   Stats
}

// New starts a scheduler that runs up to capacity units concurrently.
func New(capacity int, logger *slog.Logger) *Scheduler {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	s := &Scheduler{
		sem:        semaphore.NewWeighted(int64(capacity)),
		capacity:   capacity,
		logger:     logging.NewComponentLogger(logger, "scheduler"),
		baseCtx:    ctx,
		baseCancel: cancel,
		loopDone:   make(chan struct{}),
		handles:    make(map[string]*handle),
		wake:       make(chan struct{}, 1),
	}
	go s.dispatch()
	return s
}

// Submit queues unit for execution.
func (s *Scheduler) Submit(unit Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	id := unit.ID()
	if _, exists := s.handles[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	h := &handle{unit: unit, ctx: ctx, cancel: cancel}
	s.handles[id] = h
	s.pending = append(s.pending, h)
	s.stats.Submitted++
	s.signal()
	return nil
}

// Cancel signals the unit with id and forgets it. A running unit observes the
// cancellation at its next blocking step. It reports false when no such unit
// is pending or running.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	if !ok {
		return false
	}
	delete(s.handles, id)
	h.cancel()
	if !h.running {
		s.stats.Cancelled++
	}
	return true
}

// Interrupted reports whether ctx was cancelled by Shutdown rather than by
// Cancel. Units use it to leave their work resumable.
func Interrupted(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrClosed)
}

// Contains reports whether id is pending or running.
func (s *Scheduler) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[id]
	return ok
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.Capacity = s.capacity
	out.Pending = len(s.pending)
	return out
}

// Shutdown stops dispatching, cancels every remaining unit with ErrClosed as
// the cause and waits for the loop and running units to return or for ctx to
// end.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for id, h := range s.handles {
			if !h.running {
				s.stats.Cancelled++
			}
			delete(s.handles, id)
		}
		s.pending = nil
	}
	s.mu.Unlock()
	s.baseCancel(ErrClosed)

	done := make(chan struct{})
	go func() {
		<-s.loopDone
		s.units.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatch() {
	defer close(s.loopDone)
	for {
		if err := s.sem.Acquire(s.baseCtx, 1); err != nil {
			return
		}
		h, ok := s.next()
		if !ok {
			s.sem.Release(1)
			return
		}
		s.units.Add(1)
		go s.run(h)
	}
}

// next blocks until a live pending unit is available or the scheduler
// closes. Cancelled units are dropped on the way.
func (s *Scheduler) next() (*handle, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, false
		}
		for len(s.pending) > 0 {
			h := s.pending[0]
			s.pending[0] = nil
			s.pending = s.pending[1:]
			if h.ctx.Err() != nil {
				// Cancelled while pending; Cancel already counted it.
				continue
			}
			h.running = true
			s.stats.Running++
			s.mu.Unlock()
			return h, true
		}
		s.mu.Unlock()
		select {
		case <-s.wake:
		case <-s.baseCtx.Done():
			return nil, false
		}
	}
}

func (s *Scheduler) run(h *handle) {
	id := h.unit.ID()
	defer s.units.Done()
	defer s.sem.Release(1)

	err := s.invoke(h)

	s.mu.Lock()
	s.stats.Running--
	if current, ok := s.handles[id]; ok && current == h {
		delete(s.handles, id)
	}
	switch {
	case err == nil:
		s.stats.Completed++
	case errors.Is(err, context.Canceled) || h.ctx.Err() != nil:
		s.stats.Cancelled++
	default:
		s.stats.Failed++
	}
	s.mu.Unlock()
	h.cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("unit failed",
			logging.String(logging.FieldJobID, id),
			logging.Error(err),
			logging.String(logging.FieldEventType, "unit_failed"),
			logging.String(logging.FieldErrorHint, "inspect the job history for details"),
		)
	}
}

func (s *Scheduler) invoke(h *handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit panicked: %v", r)
			s.logger.Error("unit panicked",
				logging.String(logging.FieldJobID, h.unit.ID()),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldEventType, "unit_panic"),
			)
		}
	}()
	return h.unit.Run(h.ctx)
}
