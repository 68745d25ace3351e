package api

import (
	"sort"
	"time"

	"galley/internal/engine"
	"galley/internal/jobs"
)

// FromJob converts a stored job to its API representation.
func FromJob(job *jobs.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:           job.ID,
		Requester:    job.Requester,
		State:        string(job.CurrentState()),
		Selection:    job.Selection,
		Layout:       job.Layout,
		History:      make([]HistoryEntry, 0, len(job.History)),
		Failed:       job.Failed,
		ErrorMessage: job.ErrorMessage,
		ErrorDetail:  job.ErrorDetail,
		CreatedAt:    formatTime(job.CreatedAt),
	}
	for _, entry := range job.History {
		dto.History = append(dto.History, HistoryEntry{
			State:     string(entry.State),
			Source:    entry.Source,
			Timestamp: formatTime(entry.Timestamp),
		})
	}
	if job.StartedAt != nil {
		dto.StartedAt = formatTime(*job.StartedAt)
	}
	if job.CompletedAt != nil {
		dto.CompletedAt = formatTime(*job.CompletedAt)
	}
	return dto
}

// FromJobs converts a list of jobs, preserving order.
func FromJobs(list []*jobs.Job) []Job {
	out := make([]Job, 0, len(list))
	for _, job := range list {
		out = append(out, FromJob(job))
	}
	return out
}

// FromEngineStatus converts an engine status snapshot.
func FromEngineStatus(status engine.Status) EngineStatus {
	dto := EngineStatus{
		Mode:      status.Mode,
		Running:   status.Running,
		LastError: status.LastError,
		JobCounts: make(map[string]int, len(status.Jobs)),
		Pool: PoolStatus{
			Endpoints: status.Pool.Endpoints,
			Busy:      status.Pool.Busy,
			Queued:    status.Pool.Queued,
		},
	}
	for state, count := range status.Jobs {
		dto.JobCounts[string(state)] = count
	}

	names := make([]string, 0, len(status.Stages))
	for name := range status.Stages {
		names = append(names, name)
	}
	sort.Strings(names)
	dto.StageHealth = make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := status.Stages[name]
		dto.StageHealth = append(dto.StageHealth, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}

	if s := status.Scheduler; s != nil {
		dto.Scheduler = &SchedulerStatus{
			Capacity:  s.Capacity,
			Running:   s.Running,
			Pending:   s.Pending,
			Submitted: s.Submitted,
			Completed: s.Completed,
			Failed:    s.Failed,
			Cancelled: s.Cancelled,
		}
	}
	return dto
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
