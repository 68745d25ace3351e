package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"galley/internal/jobs"
	"galley/internal/objectstore"
	"galley/internal/stage"
	"galley/internal/testsupport"
	"galley/internal/transform"
	"galley/internal/workflow"
)

func TestDispatcherDrivesJobToRendered(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, h.clock.Now())

	h.tick(t)
	h.expectState(t, job.ID, jobs.StateGeneratingTemplate)
	if got := h.job(t, job.ID).Count(jobs.StateValidated); got != 1 {
		t.Fatalf("expected one Validated entry, got %d", got)
	}

	h.mark(t, job.ID, "input.json")
	h.tick(t)
	h.expectState(t, job.ID, jobs.StateGeneratingTemplate)

	h.mark(t, job.ID, transform.MarkerTemplateComplete)
	h.tick(t)
	h.expectState(t, job.ID, jobs.StateTemplateReady)

	h.tick(t)
	h.expectState(t, job.ID, jobs.StateGeneratingTaggedText)

	if err := h.objects.Put(context.Background(), objectstore.JobKey(job.ID, "tagged-text.idtt"), []byte("<ParaStyle:Body>Salut")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	h.mark(t, job.ID, transform.MarkerTaggedTextComplete)
	h.tick(t)
	h.expectState(t, job.ID, jobs.StateTaggedTextReady)

	deadline := time.Now().Add(5 * time.Second)
	for h.job(t, job.ID).CurrentState() != jobs.StateRendered {
		if time.Now().After(deadline) {
			t.Fatalf("job never rendered: %+v", h.job(t, job.ID).History)
		}
		h.tick(t)
		time.Sleep(10 * time.Millisecond)
	}

	final := h.job(t, job.ID)
	if final.Count(jobs.StateError) != 0 || final.Failed {
		t.Fatalf("expected no errors, got %+v", final.History)
	}
	for _, s := range []jobs.State{jobs.StateSubmitted, jobs.StateValidated, jobs.StateTemplateReady, jobs.StateTaggedTextReady, jobs.StateRendered} {
		if final.Count(s) != 1 {
			t.Fatalf("expected exactly one %s entry, got %d", s, final.Count(s))
		}
	}
	for _, s := range []jobs.State{jobs.StateGeneratingTemplate, jobs.StateGeneratingTaggedText, jobs.StateRendering} {
		if final.Count(s) < 2 {
			t.Fatalf("expected a start entry plus still-working entries for %s, got %d", s, final.Count(s))
		}
	}
	if final.CompletedAt == nil {
		t.Fatal("terminal job should carry a completion time")
	}
	if queues := h.publisher.published(); len(queues) != 2 || queues[0] != h.cfg.Transform.TemplateQueue || queues[1] != h.cfg.Transform.TaggedTextQueue {
		t.Fatalf("unexpected publishes %v", queues)
	}
}

func TestDispatcherEscalatesStuckTaggedText(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, h.clock.Now())

	h.tick(t)
	h.mark(t, job.ID, transform.MarkerTemplateComplete)
	h.tick(t)
	h.tick(t)
	h.expectState(t, job.ID, jobs.StateGeneratingTaggedText)

	h.clock.Advance(h.cfg.Workflow.TaggedTextTimeoutDuration())
	h.tick(t)
	h.tick(t)

	stuck := h.expectState(t, job.ID, jobs.StateError)
	if stuck.Count(jobs.StateError) != 1 {
		t.Fatalf("expected exactly one Error entry, got %d", stuck.Count(jobs.StateError))
	}
	if stuck.ErrorDetail == "" || !stuck.Failed {
		t.Fatalf("expected error detail, got %+v", stuck)
	}
	objects, err := h.objects.List(context.Background(), objectstore.JobPrefix(job.ID))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	cancels := 0
	for _, obj := range objects {
		if obj.Key == objectstore.JobKey(job.ID, transform.MarkerCancel) {
			cancels++
		}
	}
	if cancels != 1 {
		t.Fatalf("expected one cancel marker, got %+v", objects)
	}
}

func (h *harness) cancelMarkers(t *testing.T, id string) int {
	t.Helper()
	objects, err := h.objects.List(context.Background(), objectstore.JobPrefix(id))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	n := 0
	for _, obj := range objects {
		if obj.Key == objectstore.JobKey(id, transform.MarkerCancel) {
			n++
		}
	}
	return n
}

func TestDispatcherRetriesFailedOverdueCancel(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, h.clock.Now())

	h.tick(t)
	h.mark(t, job.ID, transform.MarkerTemplateComplete)
	h.tick(t)
	h.tick(t)
	h.expectState(t, job.ID, jobs.StateGeneratingTaggedText)

	h.bridged.setFailCancels(true)
	h.clock.Advance(h.cfg.Workflow.TaggedTextTimeoutDuration())
	h.tick(t)
	h.tick(t)
	stuck := h.expectState(t, job.ID, jobs.StateError)
	if stuck.Count(jobs.StateError) != 1 {
		t.Fatalf("expected exactly one Error entry, got %d", stuck.Count(jobs.StateError))
	}
	if n := h.cancelMarkers(t, job.ID); n != 0 {
		t.Fatalf("marker write should have failed, found %d", n)
	}

	h.bridged.setFailCancels(false)
	h.tick(t)
	if n := h.cancelMarkers(t, job.ID); n != 1 {
		t.Fatalf("expected the cancel marker on retry, found %d", n)
	}
	if got := h.job(t, job.ID); got.Count(jobs.StateError) != 1 || got.Count(jobs.StateCancelled) != 0 {
		t.Fatalf("retry must not touch the history, got %+v", got.History)
	}
}

func TestDispatcherClearsLastErrorAfterCleanSweep(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.dispatcher.Tick(ctx); err == nil {
		t.Fatal("Tick with a cancelled context should fail")
	}
	if status := h.dispatcher.Status(context.Background()); status.LastError == "" {
		t.Fatal("failed sweep should be reported")
	}
	h.tick(t)
	if status := h.dispatcher.Status(context.Background()); status.LastError != "" {
		t.Fatalf("clean sweep should clear the last error, got %q", status.LastError)
	}
}

func TestDispatcherCancel(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, h.clock.Now())
	h.tick(t)

	cancelled, err := h.dispatcher.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.CurrentState() != jobs.StateCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.CurrentState())
	}
	h.expectState(t, job.ID, jobs.StateCancelled)
	again, err := h.dispatcher.Cancel(context.Background(), job.ID)
	if err != nil || again.Count(jobs.StateCancelled) != 1 {
		t.Fatalf("second cancel should be a no-op, got %v %+v", err, again)
	}
	if _, err := h.dispatcher.Cancel(context.Background(), "missing"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type failingProcessor struct{ name string }

func (f failingProcessor) Name() string { return f.name }
func (f failingProcessor) ProcessJob(context.Context, *jobs.Job) error {
	return errors.New("collaborator exploded")
}
func (f failingProcessor) GetStatus(context.Context, *jobs.Job) error { return nil }
func (f failingProcessor) CancelJob(context.Context, *jobs.Job) error { return nil }
func (f failingProcessor) HealthCheck(context.Context) stage.Health {
	return stage.Unhealthy(f.name, "always failing")
}

func TestDispatcherRecordsProcessorErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	proc := failingProcessor{name: "validation"}
	d := workflow.NewDispatcher(store, workflow.StageSet{Validator: proc, Template: proc, TaggedText: proc, Render: proc}, time.Second, nil, nil)

	first := testsupport.NewJob(t, store, time.Now())
	second := testsupport.NewJob(t, store, time.Now())
	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick should absorb processor errors, got %v", err)
	}
	for _, id := range []string{first.ID, second.ID} {
		job, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.CurrentState() != jobs.StateError || job.Count(jobs.StateError) != 1 {
			t.Fatalf("job %s should have one Error entry, got %+v", id, job.History)
		}
	}
	status := d.Status(context.Background())
	if status.Ticks != 1 || status.StageHealth["validation"].Ready {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestDispatcherStartStop(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, h.clock.Now())
	if err := h.dispatcher.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.dispatcher.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
	deadline := time.Now().Add(5 * time.Second)
	for h.job(t, job.ID).CurrentState() == jobs.StateSubmitted {
		if time.Now().After(deadline) {
			t.Fatal("dispatcher never swept the job")
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.dispatcher.Stop()
	h.dispatcher.Stop()
	if h.dispatcher.Status(context.Background()).Running {
		t.Fatal("dispatcher should report stopped")
	}
}
