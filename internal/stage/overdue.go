package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"galley/internal/jobs"
	"galley/internal/services"
)

// ErrCancelUnconfirmed marks an escalation whose Error entry was recorded but
// whose backing work could not be told to stop.
var ErrCancelUnconfirmed = errors.New("cancel not confirmed")

// CheckOverdue reports whether the job has spent longer than timeout in
// inProgress. Elapsed time runs from the first entry of the latest unbroken
// run of inProgress entries, so "still working" entries do not reset it. A job
// with no such entry never started and is always overdue.
func CheckOverdue(job *jobs.Job, inProgress jobs.State, timeout time.Duration, now time.Time) (bool, string) {
	start, ok := job.RunStart(inProgress)
	if !ok {
		return true, fmt.Sprintf("stage never started: no %s entry recorded", inProgress)
	}
	elapsed := now.Sub(start.Timestamp)
	if elapsed <= timeout {
		return false, ""
	}
	return true, fmt.Sprintf("%s exceeded timeout %s (elapsed %s)", inProgress, timeout, elapsed.Round(time.Millisecond))
}

// EscalateOverdue appends the Error entry for an overdue stage and then asks
// the backing system to stop. The Error entry stands even if cancel fails; the
// returned error then matches ErrCancelUnconfirmed so the caller can retry.
func EscalateOverdue(ctx context.Context, job *jobs.Job, source, detail string, at time.Time, cancel func(context.Context) error) error {
	err := services.Wrap(services.ErrTimeout, source, "poll", detail, nil)
	if failErr := Fail(job, source, err, at); failErr != nil {
		return failErr
	}
	if cancel == nil {
		return nil
	}
	if cancelErr := cancel(ctx); cancelErr != nil {
		return fmt.Errorf("%w: cancel overdue %s work for %s: %w", ErrCancelUnconfirmed, source, job.ID, cancelErr)
	}
	return nil
}

// Fail records err on the job as a terminal Error entry. Cancellation is not a
// failure and is ignored, as is a job that already finished.
func Fail(job *jobs.Job, source string, err error, at time.Time) error {
	if err == nil || services.IsCancellation(err) || job.IsTerminal() {
		return nil
	}
	d := services.Details(err)
	return job.Fail(source, d.Message, d.Detail, at)
}

// Cancel appends a Cancelled entry unless the job already finished.
func Cancel(job *jobs.Job, source string, at time.Time) error {
	if job.IsTerminal() {
		return nil
	}
	return job.Append(jobs.StateCancelled, source, at)
}
