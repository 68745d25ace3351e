package jobflow_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"galley/internal/config"
	"galley/internal/jobflow"
	"galley/internal/jobs"
	"galley/internal/objectstore"
	"galley/internal/project"
	"galley/internal/render"
	"galley/internal/scheduler"
	"galley/internal/testsupport"
)

type fixture struct {
	cfg      *config.Config
	store    *jobs.Store
	objects  *objectstore.LocalStore
	paths    render.Paths
	workflow *jobflow.Workflow
	calls    *atomic.Int32
}

// newFixture serves every script with handler, or success when nil.
func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if handler != nil {
			handler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errorCode":0,"result":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithRenderEndpoints(srv.URL))
	store := testsupport.MustOpenStore(t, cfg)
	objects, err := objectstore.NewLocalStore(cfg.Storage.LocalRoot)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	paths := render.Paths{OutputDir: cfg.Paths.OutputDir, TemplateDir: cfg.Paths.TemplateDir}
	pool := render.NewPool(render.EndpointsFromConfig(cfg.Render), render.NewProcedure(cfg.Render.Scripts, paths), nil)
	t.Cleanup(pool.Close)
	dir := project.NewDirectory(cfg)
	wf := jobflow.New(jobflow.Deps{
		Store:    store,
		Auth:     dir,
		Catalog:  dir,
		Objects:  objects,
		Pool:     pool,
		Paths:    paths,
		Timeouts: cfg.Workflow,
	})
	return &fixture{cfg: cfg, store: store, objects: objects, paths: paths, workflow: wf, calls: calls}
}

func (f *fixture) putTemplate(t *testing.T) {
	t.Helper()
	sel := testsupport.SampleSelection()
	if err := f.objects.Put(context.Background(), objectstore.TemplateKey(sel.Project, sel.Template), []byte("template-bytes")); err != nil {
		t.Fatalf("Put template: %v", err)
	}
}

func (f *fixture) load(t *testing.T, id string) *jobs.Job {
	t.Helper()
	job, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return job
}

func TestWorkflowRendersJob(t *testing.T) {
	f := newFixture(t, nil)
	f.putTemplate(t)
	job := testsupport.NewJob(t, f.store, time.Now())

	if err := f.workflow.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	done := f.load(t, job.ID)
	if done.CurrentState() != jobs.StateRendered || done.Failed {
		t.Fatalf("expected rendered, got %+v", done.History)
	}
	for _, s := range []jobs.State{
		jobs.StateSubmitted, jobs.StateValidated, jobs.StateGeneratingTemplate, jobs.StateTemplateReady,
		jobs.StateGeneratingTaggedText, jobs.StateTaggedTextReady, jobs.StateRendering, jobs.StateRendered,
	} {
		if done.Count(s) != 1 {
			t.Fatalf("expected one %s entry, got %d", s, done.Count(s))
		}
	}
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Fatalf("expected start and completion times, got %+v", done)
	}
	if data, err := os.ReadFile(f.paths.Template(job.ID)); err != nil || string(data) != "template-bytes" {
		t.Fatalf("template not fetched: %q %v", data, err)
	}
	if got := f.calls.Load(); got != 5 {
		t.Fatalf("expected 5 script calls, got %d", got)
	}
}

func TestWorkflowFailures(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*jobs.Selection) string
		template bool
		message  string
	}{
		{
			name:     "unauthorized",
			mutate:   func(*jobs.Selection) string { return "mallory" },
			template: true,
			message:  "requester is not authorized for this project",
		},
		{
			name: "unknown marker",
			mutate: func(sel *jobs.Selection) string {
				sel.CustomMarkers = true
				sel.Markers = []string{"\\nope"}
				return "alice"
			},
			template: true,
			message:  "invalid job parameters",
		},
		{
			name:    "missing template",
			mutate:  func(*jobs.Selection) string { return "alice" },
			message: "required resource not found",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			if tc.template {
				f.putTemplate(t)
			}
			sel := testsupport.SampleSelection()
			requester := tc.mutate(&sel)
			job, err := f.store.Add(context.Background(), jobs.New(requester, sel, jobs.Layout{}, "api", time.Now()))
			if err != nil {
				t.Fatalf("Add: %v", err)
			}
			if err := f.workflow.Run(context.Background(), job.ID); err == nil {
				t.Fatal("expected Run to report the failure")
			}
			failed := f.load(t, job.ID)
			if failed.CurrentState() != jobs.StateError || failed.Count(jobs.StateError) != 1 {
				t.Fatalf("expected one Error entry, got %+v", failed.History)
			}
			if failed.ErrorMessage != tc.message || failed.ErrorDetail == "" {
				t.Fatalf("message = %q detail = %q", failed.ErrorMessage, failed.ErrorDetail)
			}
			if failed.CompletedAt == nil {
				t.Fatal("failed job should carry a completion time")
			}
			if f.calls.Load() != 0 {
				t.Fatalf("no render work expected, got %d calls", f.calls.Load())
			}
		})
	}
}

func TestWorkflowKeepsRemoteMessage(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"errorCode": 17, "errorMessage": "chapter 2 has no translation"})
	})
	f.putTemplate(t)
	job := testsupport.NewJob(t, f.store, time.Now())

	if err := f.workflow.Run(context.Background(), job.ID); err == nil {
		t.Fatal("expected remote failure")
	}
	failed := f.load(t, job.ID)
	if failed.ErrorMessage != "chapter 2 has no translation" {
		t.Fatalf("remote message should be kept verbatim, got %q", failed.ErrorMessage)
	}
	if last := failed.History[len(failed.History)-1]; last.Source != "tagged_text" {
		t.Fatalf("error should be attributed to the tagged text stage, got %q", last.Source)
	}
}

func TestWorkflowCancelledThroughScheduler(t *testing.T) {
	entered := make(chan struct{}, 1)
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-r.Context().Done()
	})
	f.putTemplate(t)
	job := testsupport.NewJob(t, f.store, time.Now())

	s := scheduler.New(1, nil)
	defer s.Shutdown(context.Background())
	if err := s.Submit(f.workflow.Unit(job.ID)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-entered
	if !s.Cancel(job.ID) {
		t.Fatal("cancel should find the running unit")
	}

	deadline := time.Now().Add(5 * time.Second)
	for f.load(t, job.ID).CurrentState() != jobs.StateCancelled {
		if time.Now().After(deadline) {
			t.Fatalf("job never cancelled: %+v", f.load(t, job.ID).History)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancelled := f.load(t, job.ID)
	if cancelled.Count(jobs.StateError) != 0 || cancelled.Failed {
		t.Fatalf("cancellation must not be recorded as an error: %+v", cancelled.History)
	}
	if cancelled.CompletedAt == nil {
		t.Fatal("cancelled job should carry a completion time")
	}
}

func TestWorkflowShutdownLeavesJobResumable(t *testing.T) {
	entered := make(chan struct{}, 1)
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-r.Context().Done()
	})
	f.putTemplate(t)
	job := testsupport.NewJob(t, f.store, time.Now())

	s := scheduler.New(1, nil)
	if err := s.Submit(f.workflow.Unit(job.ID)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-entered
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	interrupted := f.load(t, job.ID)
	if interrupted.CurrentState() != jobs.StateGeneratingTaggedText {
		t.Fatalf("expected job left in tagged text stage, got %s", interrupted.CurrentState())
	}
	if interrupted.CompletedAt != nil {
		t.Fatal("interrupted job must not be marked complete")
	}
}

func TestWorkflowResumesFromDurableState(t *testing.T) {
	f := newFixture(t, nil)
	job := testsupport.NewJob(t, f.store, time.Now())
	for _, s := range []jobs.State{jobs.StateValidated, jobs.StateGeneratingTemplate, jobs.StateTemplateReady} {
		if err := job.Append(s, "earlier-run", time.Now()); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if _, err := f.store.Update(context.Background(), job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := f.workflow.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	done := f.load(t, job.ID)
	if done.CurrentState() != jobs.StateRendered || done.Count(jobs.StateValidated) != 1 {
		t.Fatalf("expected resume without repeating validation, got %+v", done.History)
	}
	if got := f.calls.Load(); got != 5 {
		t.Fatalf("expected only tagged text and document calls, got %d", got)
	}
}
