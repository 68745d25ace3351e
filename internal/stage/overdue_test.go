package stage_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"galley/internal/jobs"
	"galley/internal/services"
	"galley/internal/stage"
)

func jobInState(t *testing.T, at time.Time, states ...jobs.State) *jobs.Job {
	t.Helper()
	job := jobs.New("alice", jobs.Selection{}, jobs.Layout{}, "test", at)
	for _, s := range states {
		if err := job.Append(s, "test", at); err != nil {
			t.Fatalf("Append(%s): %v", s, err)
		}
	}
	return job
}

func TestCheckOverdueBoundary(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	timeout := 10 * time.Minute
	job := jobInState(t, start, jobs.StateValidated, jobs.StateGeneratingTemplate)

	if overdue, _ := stage.CheckOverdue(job, jobs.StateGeneratingTemplate, timeout, start.Add(timeout-time.Millisecond)); overdue {
		t.Fatal("job should not be overdue before the timeout")
	}
	overdue, detail := stage.CheckOverdue(job, jobs.StateGeneratingTemplate, timeout, start.Add(timeout+time.Millisecond))
	if !overdue {
		t.Fatal("job should be overdue after the timeout")
	}
	if !strings.Contains(detail, "10m0s") || !strings.Contains(detail, "elapsed") {
		t.Fatalf("detail should name timeout and elapsed time: %q", detail)
	}
}

func TestCheckOverdueIgnoresStillWorkingEntries(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := jobInState(t, start, jobs.StateValidated, jobs.StateGeneratingTemplate)
	for i := 1; i <= 5; i++ {
		if err := job.Append(jobs.StateGeneratingTemplate, "poll", start.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if overdue, _ := stage.CheckOverdue(job, jobs.StateGeneratingTemplate, 5*time.Minute, start.Add(5*time.Minute+time.Second)); !overdue {
		t.Fatal("repeated progress entries must not extend the budget")
	}
}

func TestCheckOverdueNeverStarted(t *testing.T) {
	job := jobInState(t, time.Now(), jobs.StateValidated)
	overdue, detail := stage.CheckOverdue(job, jobs.StateGeneratingTemplate, time.Hour, time.Now())
	if !overdue || !strings.Contains(detail, "never started") {
		t.Fatalf("expected never-started overdue, got %v %q", overdue, detail)
	}
}

func TestEscalateOverdueAppendsErrorThenCancels(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := jobInState(t, start, jobs.StateValidated, jobs.StateGeneratingTemplate)

	var cancelled int
	err := stage.EscalateOverdue(context.Background(), job, stage.NameTemplate, "too slow", start.Add(time.Hour), func(context.Context) error {
		if job.CurrentState() != jobs.StateError {
			t.Fatal("cancel should run after the Error entry is appended")
		}
		cancelled++
		return nil
	})
	if err != nil {
		t.Fatalf("EscalateOverdue: %v", err)
	}
	if cancelled != 1 || job.Count(jobs.StateError) != 1 || !job.Failed {
		t.Fatalf("unexpected escalation result: cancelled=%d job=%+v", cancelled, job)
	}
	if !strings.Contains(job.ErrorDetail, "too slow") {
		t.Fatalf("detail not recorded: %q", job.ErrorDetail)
	}

	job2 := jobInState(t, start, jobs.StateValidated, jobs.StateGeneratingTemplate)
	err = stage.EscalateOverdue(context.Background(), job2, stage.NameTemplate, "too slow", start.Add(time.Hour), func(context.Context) error {
		return errors.New("marker write failed")
	})
	if !errors.Is(err, stage.ErrCancelUnconfirmed) || job2.CurrentState() != jobs.StateError {
		t.Fatalf("expected unconfirmed cancel with Error kept, got %v state %s", err, job2.CurrentState())
	}
}

func TestFailIgnoresCancellationAndTerminalJobs(t *testing.T) {
	at := time.Now()
	job := jobInState(t, at, jobs.StateValidated)
	if err := stage.Fail(job, "test", fmt.Errorf("x: %w", context.Canceled), at); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if job.CurrentState() != jobs.StateValidated {
		t.Fatalf("cancellation must not be recorded as Error, got %s", job.CurrentState())
	}

	remote := &services.RemoteError{Code: 3, Message: "no such book"}
	if err := stage.Fail(job, "test", remote, at); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if job.ErrorMessage != "no such book" {
		t.Fatalf("remote message not kept verbatim: %q", job.ErrorMessage)
	}
	if err := stage.Fail(job, "test", errors.New("again"), at); err != nil {
		t.Fatalf("Fail on terminal job: %v", err)
	}
	if job.Count(jobs.StateError) != 1 {
		t.Fatalf("expected exactly one Error entry, got %d", job.Count(jobs.StateError))
	}
	if err := stage.Cancel(job, "test", at); err != nil {
		t.Fatalf("Cancel on terminal job should be a no-op: %v", err)
	}
}
