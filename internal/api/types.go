package api

import "galley/internal/jobs"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// CreateJobRequest is the body of POST /jobs.
type CreateJobRequest struct {
	Requester string               `json:"requester"`
	Selection jobs.Selection       `json:"selection"`
	Layout    jobs.LayoutOverrides `json:"layout"`
}

// HistoryEntry is one state transition in transport form.
type HistoryEntry struct {
	State     string `json:"state"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// Job describes a preview job for API consumers.
type Job struct {
	ID           string         `json:"id"`
	Requester    string         `json:"requester"`
	State        string         `json:"state"`
	Selection    jobs.Selection `json:"selection"`
	Layout       jobs.Layout    `json:"layout"`
	History      []HistoryEntry `json:"history"`
	Failed       bool           `json:"failed"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	ErrorDetail  string         `json:"errorDetail,omitempty"`
	CreatedAt    string         `json:"createdAt,omitempty"`
	StartedAt    string         `json:"startedAt,omitempty"`
	CompletedAt  string         `json:"completedAt,omitempty"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// PoolStatus reports render pool occupancy.
type PoolStatus struct {
	Endpoints int `json:"endpoints"`
	Busy      int `json:"busy"`
	Queued    int `json:"queued"`
}

// SchedulerStatus reports scheduler counters in scheduled mode.
type SchedulerStatus struct {
	Capacity  int   `json:"capacity"`
	Running   int   `json:"running"`
	Pending   int   `json:"pending"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// EngineStatus aggregates engine runtime information.
type EngineStatus struct {
	Mode        string           `json:"mode"`
	Running     bool             `json:"running"`
	LastError   string           `json:"lastError,omitempty"`
	JobCounts   map[string]int   `json:"jobCounts"`
	StageHealth []StageHealth    `json:"stageHealth"`
	Pool        PoolStatus       `json:"pool"`
	Scheduler   *SchedulerStatus `json:"scheduler,omitempty"`
}

// DaemonStatus is the body of GET /status.
type DaemonStatus struct {
	Running      bool         `json:"running"`
	PID          int          `json:"pid"`
	DatabasePath string       `json:"databasePath"`
	LockFilePath string       `json:"lockFilePath"`
	Engine       EngineStatus `json:"engine"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
