package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"galley/internal/scheduler"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	const capacity, total = 3, 12
	s := scheduler.New(capacity, nil)
	defer s.Shutdown(context.Background())

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	wg.Add(total)
	for i := 0; i < total; i++ {
		unit := scheduler.NewUnit(fmt.Sprintf("job-%d", i), func(ctx context.Context) error {
			defer wg.Done()
			now := running.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
		if err := s.Submit(unit); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()
	if got := peak.Load(); got > capacity {
		t.Fatalf("peak concurrency %d exceeded capacity %d", got, capacity)
	}
	waitFor(t, "completion counters", func() bool { return s.Stats().Completed == total })
}

func TestSchedulerCancelPendingAndRunning(t *testing.T) {
	s := scheduler.New(1, nil)
	defer s.Shutdown(context.Background())

	started := make(chan struct{})
	blocker := scheduler.NewUnit("running", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	var pendingRan atomic.Bool
	pending := scheduler.NewUnit("pending", func(context.Context) error {
		pendingRan.Store(true)
		return nil
	})
	if err := s.Submit(blocker); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	if err := s.Submit(pending); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if !s.Cancel("pending") {
		t.Fatal("first cancel of pending unit should succeed")
	}
	if s.Cancel("pending") {
		t.Fatal("second cancel should be a no-op")
	}
	if !s.Cancel("running") {
		t.Fatal("first cancel of running unit should succeed")
	}
	if s.Cancel("running") {
		t.Fatal("second cancel should be a no-op")
	}

	waitFor(t, "both units cancelled", func() bool {
		st := s.Stats()
		return st.Cancelled == 2 && st.Running == 0
	})
	if pendingRan.Load() {
		t.Fatal("cancelled pending unit must not run")
	}
	if s.Contains("running") || s.Contains("pending") {
		t.Fatal("cancelled units should leave the registry")
	}
}

func TestSchedulerSurvivesFailingUnits(t *testing.T) {
	s := scheduler.New(2, nil)
	defer s.Shutdown(context.Background())

	done := make(chan struct{})
	units := []scheduler.Unit{
		scheduler.NewUnit("fails", func(context.Context) error { return errors.New("boom") }),
		scheduler.NewUnit("panics", func(context.Context) error { panic("unexpected") }),
		scheduler.NewUnit("ok", func(context.Context) error { close(done); return nil }),
	}
	for _, u := range units {
		if err := s.Submit(u); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	<-done
	waitFor(t, "failure counters", func() bool {
		st := s.Stats()
		return st.Failed == 2 && st.Completed == 1
	})
}

func TestSchedulerRejectsDuplicatesAndClosedSubmit(t *testing.T) {
	s := scheduler.New(1, nil)
	release := make(chan struct{})
	unit := scheduler.NewUnit("job-1", func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	if err := s.Submit(unit); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := s.Submit(unit); !errors.Is(err, scheduler.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := s.Submit(scheduler.NewUnit("late", func(context.Context) error { return nil })); !errors.Is(err, scheduler.ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	close(release)
}

func TestShutdownMarksUnitsInterrupted(t *testing.T) {
	s := scheduler.New(1, nil)
	started := make(chan struct{})
	interrupted := make(chan bool, 2)
	run := func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		interrupted <- scheduler.Interrupted(ctx)
		return ctx.Err()
	}
	if err := s.Submit(scheduler.NewUnit("job-1", run)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !<-interrupted {
		t.Fatal("expected shutdown to be reported as an interruption")
	}

	s = scheduler.New(1, nil)
	defer s.Shutdown(context.Background())
	started = make(chan struct{})
	if err := s.Submit(scheduler.NewUnit("job-2", run)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	s.Cancel("job-2")
	if <-interrupted {
		t.Fatal("explicit cancel must not be reported as an interruption")
	}
}
