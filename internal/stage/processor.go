package stage

import (
	"context"
	"time"

	"galley/internal/jobs"
)

// Stage names used as history sources and log fields.
const (
	NameValidation = "validation"
	NameTemplate   = "template"
	NameTaggedText = "tagged_text"
	NameRender     = "render"
)

// Processor describes the contract the dispatcher needs from each stage.
//
// ProcessJob starts or re-confirms the stage's work and appends the
// in-progress entry. GetStatus observes the backing system, appends what it
// saw, and escalates overdue work. CancelJob appends Cancelled and asks the
// backing system to stop. All three mutate the job in memory only; the
// caller persists it.
type Processor interface {
	Name() string
	ProcessJob(ctx context.Context, job *jobs.Job) error
	GetStatus(ctx context.Context, job *jobs.Job) error
	CancelJob(ctx context.Context, job *jobs.Job) error
	HealthCheck(ctx context.Context) Health
}

// Clock returns the current time. Processors take one so tests can control
// overdue detection.
type Clock func() time.Time

// SystemClock reads the wall clock.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// OrSystem returns c, or SystemClock when c is nil.
func (c Clock) OrSystem() Clock {
	if c == nil {
		return SystemClock
	}
	return c
}
