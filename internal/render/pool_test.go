package render_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"galley/internal/config"
	"galley/internal/jobs"
	"galley/internal/render"
	"galley/internal/services"
	"galley/internal/testsupport"
)

type call struct {
	script string
	args   []string
}

// gatedRunner blocks every script call until release is closed.
type gatedRunner struct {
	release chan struct{}
	started chan string
	fail    error

	mu    sync.Mutex
	calls []call
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{release: make(chan struct{}), started: make(chan string, 16)}
}

func (r *gatedRunner) RunScript(ctx context.Context, script string, args []string) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, call{script: script, args: args})
	first := len(r.calls) == 1
	r.mu.Unlock()
	if first {
		r.started <- args[0]
	}
	select {
	case <-r.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if r.fail != nil {
		return "", r.fail
	}
	return "ok", nil
}

func (r *gatedRunner) recorded() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func newTestPool(t *testing.T, runners ...render.ScriptRunner) *render.Pool {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	endpoints := make([]render.Endpoint, len(runners))
	for i, r := range runners {
		endpoints[i] = render.Endpoint{Name: fmt.Sprintf("ep-%d", i), Runner: r}
	}
	paths := render.Paths{OutputDir: cfg.Paths.OutputDir, TemplateDir: cfg.Paths.TemplateDir}
	pool := render.NewPool(endpoints, render.NewProcedure(cfg.Render.Scripts, paths), nil)
	t.Cleanup(pool.Close)
	return pool
}

func renderJob(id string) *jobs.Job {
	job := jobs.New("alice", testsupport.SampleSelection(), jobs.Layout{PageWidth: 432, PageHeight: 648, FontSize: 11, LineSpacing: 13, Margin: 54}, "api", time.Now())
	job.ID = id
	return job
}

func waitStatus(t *testing.T, pool *render.Pool, id string, want render.TaskStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := pool.Status(id); got == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, err := pool.Status(id)
	t.Fatalf("job %s status = %s (%v), want %s", id, got, err, want)
}

func TestPoolDrainsOneJobPerIdleEndpoint(t *testing.T) {
	const n = 3
	runners := make([]*gatedRunner, n)
	asRunners := make([]render.ScriptRunner, n)
	for i := range runners {
		runners[i] = newGatedRunner()
		asRunners[i] = runners[i]
	}
	pool := newTestPool(t, asRunners...)

	for i := 0; i < n; i++ {
		if err := pool.Enqueue(renderJob(fmt.Sprintf("job-%d", i)), render.PhaseDocument); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	stats := pool.Stats()
	if stats.Busy != n || stats.Queued != 0 {
		t.Fatalf("expected %d busy and none queued, got %+v", n, stats)
	}
	seen := map[string]bool{}
	for _, r := range runners {
		seen[<-r.started] = true
	}
	if len(seen) != n {
		t.Fatalf("expected each endpoint to receive a distinct job, got %v", seen)
	}

	if err := pool.Enqueue(renderJob("job-extra"), render.PhaseDocument); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if stats := pool.Stats(); stats.Queued != 1 {
		t.Fatalf("expected the extra job to wait, got %+v", stats)
	}

	close(runners[1].release)
	waitStatus(t, pool, "job-1", render.TaskSucceeded)
	close(runners[0].release)
	close(runners[2].release)
	waitStatus(t, pool, "job-extra", render.TaskSucceeded)

	scripts := runners[1].recorded()
	want := []string{"open-document.jsx", "apply-layout.jsx", "export-pdf.jsx", "export-package.jsx"}
	if len(scripts) < len(want) {
		t.Fatalf("expected %d script calls, got %+v", len(want), scripts)
	}
	for i, name := range want {
		if scripts[i].script != name {
			t.Fatalf("step %d ran %s, want %s", i, scripts[i].script, name)
		}
	}
}

func TestPoolCancelIsIdempotent(t *testing.T) {
	runner := newGatedRunner()
	pool := newTestPool(t, runner)

	if err := pool.Enqueue(renderJob("running"), render.PhaseDocument); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-runner.started
	if err := pool.Enqueue(renderJob("queued"), render.PhaseDocument); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if !pool.Cancel("queued") {
		t.Fatal("first cancel of queued job should succeed")
	}
	if pool.Cancel("queued") {
		t.Fatal("second cancel should be a no-op")
	}
	if status, _ := pool.Status("queued"); status != render.TaskUnknown {
		t.Fatalf("cancelled queued job should be released, got %s", status)
	}
	if stats := pool.Stats(); stats.Queued != 0 {
		t.Fatalf("cancelled job should leave the queue, got %+v", stats)
	}

	if !pool.Cancel("running") {
		t.Fatal("first cancel of running job should succeed")
	}
	if pool.Cancel("running") {
		t.Fatal("second cancel should be a no-op")
	}
	waitStatus(t, pool, "running", render.TaskUnknown)
	if pool.Cancel("never-seen") {
		t.Fatal("cancel of unknown job should report false")
	}
}

func TestPoolReleasesCancelledAndForgottenTasks(t *testing.T) {
	runner := newGatedRunner()
	pool := newTestPool(t, runner)

	if err := pool.Enqueue(renderJob("cancelled"), render.PhaseDocument); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-runner.started
	if !pool.Cancel("cancelled") {
		t.Fatal("cancel of running job should succeed")
	}
	pool.Forget("cancelled")
	waitStatus(t, pool, "cancelled", render.TaskUnknown)
	if stats := pool.Stats(); stats.Busy != 0 {
		t.Fatalf("endpoint should be released, got %+v", stats)
	}

	// A task forgotten mid-flight is dropped once it finishes.
	if err := pool.Enqueue(renderJob("forgotten"), render.PhaseDocument); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitStatus(t, pool, "forgotten", render.TaskRunning)
	pool.Forget("forgotten")
	if status, _ := pool.Status("forgotten"); status != render.TaskRunning {
		t.Fatalf("running task should stay visible until it exits, got %s", status)
	}
	close(runner.release)
	waitStatus(t, pool, "forgotten", render.TaskUnknown)
}

func TestPoolRunReturnsRemoteFailure(t *testing.T) {
	runner := newGatedRunner()
	runner.fail = &services.RemoteError{Code: 9, Message: "layout overflow"}
	close(runner.release)
	pool := newTestPool(t, runner)

	err := pool.Run(context.Background(), renderJob("job-1"), render.PhaseTaggedText)
	var remote *services.RemoteError
	if !errors.As(err, &remote) || remote.Code != 9 {
		t.Fatalf("expected remote failure, got %v", err)
	}
	if status, _ := pool.Status("job-1"); status != render.TaskUnknown {
		t.Fatalf("Run should forget its task, got %s", status)
	}
	if calls := runner.recorded(); len(calls) != 1 || calls[0].script != config.Default().Render.Scripts.TaggedText {
		t.Fatalf("expected a single tagged text call, got %+v", calls)
	}
}

func TestPoolRunHonoursCancellation(t *testing.T) {
	runner := newGatedRunner()
	pool := newTestPool(t, runner)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(ctx, renderJob("job-1"), render.PhaseDocument) }()
	<-runner.started
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if stats := pool.Stats(); stats.Busy != 0 {
		t.Fatalf("endpoint should be released, got %+v", stats)
	}
}
