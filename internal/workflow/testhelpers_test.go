package workflow_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"
	"time"

	"galley/internal/config"
	"galley/internal/jobs"
	"galley/internal/objectstore"
	"galley/internal/project"
	"galley/internal/render"
	"galley/internal/testsupport"
	"galley/internal/transform"
	"galley/internal/validation"
	"galley/internal/workflow"
)

type countingPublisher struct {
	mu     sync.Mutex
	queues []string
}

func (p *countingPublisher) Publish(_ context.Context, queue string, _ transform.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues = append(p.queues, queue)
	return nil
}

func (p *countingPublisher) Ready() error { return nil }
func (p *countingPublisher) Close() error { return nil }

func (p *countingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.queues...)
}

// flakyObjects fails cancel marker writes while failCancels is set.
type flakyObjects struct {
	objectstore.Store

	mu          sync.Mutex
	failCancels bool
}

func (f *flakyObjects) setFailCancels(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCancels = fail
}

func (f *flakyObjects) Put(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	fail := f.failCancels && path.Base(key) == transform.MarkerCancel
	f.mu.Unlock()
	if fail {
		return errors.New("object store unavailable")
	}
	return f.Store.Put(ctx, key, data)
}

type harness struct {
	cfg        *config.Config
	store      *jobs.Store
	objects    *objectstore.LocalStore
	bridged    *flakyObjects
	publisher  *countingPublisher
	pool       *render.Pool
	clock      *testsupport.Clock
	dispatcher *workflow.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errorCode":0,"errorMessage":"","result":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithMode(config.ModePolling), testsupport.WithRenderEndpoints(srv.URL))
	store := testsupport.MustOpenStore(t, cfg)
	objects, err := objectstore.NewLocalStore(cfg.Storage.LocalRoot)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	clock := testsupport.NewClock(time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC))
	publisher := &countingPublisher{}
	bridged := &flakyObjects{Store: objects}
	bridge := transform.NewBridge(cfg.Transform, publisher, bridged, nil)
	paths := render.Paths{OutputDir: cfg.Paths.OutputDir, TemplateDir: cfg.Paths.TemplateDir}
	pool := render.NewPool(render.EndpointsFromConfig(cfg.Render), render.NewProcedure(cfg.Render.Scripts, paths), nil)
	t.Cleanup(pool.Close)
	dir := project.NewDirectory(cfg)

	stages := workflow.StageSet{
		Validator:  validation.New(dir, dir, clock.Now, nil),
		Template:   transform.NewTemplateStage(bridge, cfg.Workflow.TemplateTimeoutDuration(), clock.Now, nil),
		TaggedText: transform.NewTaggedTextStage(bridge, cfg.Workflow.TaggedTextTimeoutDuration(), clock.Now, nil),
		Render:     render.NewStage(pool, objects, paths, cfg.Workflow.RenderTimeoutDuration(), clock.Now, nil),
	}
	return &harness{
		cfg:        cfg,
		store:      store,
		objects:    objects,
		bridged:    bridged,
		publisher:  publisher,
		pool:       pool,
		clock:      clock,
		dispatcher: workflow.NewDispatcher(store, stages, cfg.Workflow.SweepIntervalDuration(), clock.Now, nil),
	}
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	h.clock.Advance(time.Second)
	if err := h.dispatcher.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}

func (h *harness) job(t *testing.T, id string) *jobs.Job {
	t.Helper()
	job, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return job
}

func (h *harness) mark(t *testing.T, id, name string) {
	t.Helper()
	if err := h.objects.Put(context.Background(), objectstore.JobKey(id, name), nil); err != nil {
		t.Fatalf("Put(%s): %v", name, err)
	}
}

func (h *harness) expectState(t *testing.T, id string, want jobs.State) *jobs.Job {
	t.Helper()
	job := h.job(t, id)
	if got := job.CurrentState(); got != want {
		t.Fatalf("job %s state = %s, want %s (history %+v)", id, got, want, job.History)
	}
	return job
}
