package jobs

import (
	"fmt"
	"time"
)

// Selection identifies the manuscript content a preview covers.
type Selection struct {
	Project        string   `json:"project"`
	Collection     string   `json:"collection"`
	Chapters       []int    `json:"chapters"`
	SourceLanguage string   `json:"sourceLanguage"`
	TargetLanguage string   `json:"targetLanguage"`
	Template       string   `json:"template"`
	CustomMarkers  bool     `json:"customMarkers"`
	Markers        []string `json:"markers,omitempty"`
}

// Layout holds the resolved typesetting parameters, in points.
type Layout struct {
	PageWidth   float64 `json:"pageWidth"`
	PageHeight  float64 `json:"pageHeight"`
	FontSize    float64 `json:"fontSize"`
	LineSpacing float64 `json:"lineSpacing"`
	Margin      float64 `json:"margin"`
}

// StateEntry is one immutable record in a job's history.
type StateEntry struct {
	State     State     `json:"state"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Job is a single preview request and its audit trail.
type Job struct {
	ID           string       `json:"id"`
	Requester    string       `json:"requester"`
	Selection    Selection    `json:"selection"`
	Layout       Layout       `json:"layout"`
	History      []StateEntry `json:"history"`
	Failed       bool         `json:"failed"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	ErrorDetail  string       `json:"errorDetail,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
	CompletedAt  *time.Time   `json:"completedAt,omitempty"`
}

// New builds a job whose history starts with Submitted.
func New(requester string, selection Selection, layout Layout, source string, now time.Time) *Job {
	now = now.UTC()
	job := &Job{
		Requester: requester,
		Selection: selection,
		Layout:    layout,
		CreatedAt: now,
	}
	job.History = []StateEntry{{State: StateSubmitted, Source: source, Timestamp: now}}
	return job
}

// CurrentState returns the state of the entry with the latest timestamp. Ties
// go to the later entry.
func (j *Job) CurrentState() State {
	if j == nil || len(j.History) == 0 {
		return ""
	}
	best := 0
	for i := 1; i < len(j.History); i++ {
		if !j.History[i].Timestamp.Before(j.History[best].Timestamp) {
			best = i
		}
	}
	return j.History[best].State
}

// IsTerminal reports whether the job has finished.
func (j *Job) IsTerminal() bool {
	return j.CurrentState().IsTerminal()
}

// Append records a transition. Timestamps earlier than the newest recorded
// entry are clamped forward so history stays in wall-clock order.
func (j *Job) Append(state State, source string, at time.Time) error {
	current := j.CurrentState()
	if current.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, j.ID, current)
	}
	if !CanTransition(current, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, state)
	}
	at = at.UTC()
	if n := len(j.History); n > 0 && at.Before(j.History[n-1].Timestamp) {
		at = j.History[n-1].Timestamp
	}
	j.History = append(j.History, StateEntry{State: state, Source: source, Timestamp: at})
	return nil
}

// Fail appends an Error entry and records the failure fields.
func (j *Job) Fail(source, message, detail string, at time.Time) error {
	if err := j.Append(StateError, source, at); err != nil {
		return err
	}
	j.Failed = true
	j.ErrorMessage = message
	j.ErrorDetail = detail
	return nil
}

// LastEntry returns the most recent entry recorded for state.
func (j *Job) LastEntry(state State) (StateEntry, bool) {
	for i := len(j.History) - 1; i >= 0; i-- {
		if j.History[i].State == state {
			return j.History[i], true
		}
	}
	return StateEntry{}, false
}

// RunStart returns the first entry of the most recent unbroken run of state.
// Repeated "still working" entries extend a run without moving its start.
func (j *Job) RunStart(state State) (StateEntry, bool) {
	last := -1
	for i := len(j.History) - 1; i >= 0; i-- {
		if j.History[i].State == state {
			last = i
			break
		}
	}
	if last < 0 {
		return StateEntry{}, false
	}
	first := last
	for first > 0 && j.History[first-1].State == state {
		first--
	}
	return j.History[first], true
}

// Count returns how many entries recorded state.
func (j *Job) Count(state State) int {
	n := 0
	for _, entry := range j.History {
		if entry.State == state {
			n++
		}
	}
	return n
}

// MarkStarted stamps StartedAt once.
func (j *Job) MarkStarted(at time.Time) {
	if j.StartedAt != nil {
		return
	}
	at = at.UTC()
	j.StartedAt = &at
}

// MarkCompleted stamps the terminal timestamp. It reports false when the
// timestamp was already set.
func (j *Job) MarkCompleted(at time.Time) bool {
	if j.CompletedAt != nil {
		return false
	}
	at = at.UTC()
	j.CompletedAt = &at
	return true
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.History = append([]StateEntry(nil), j.History...)
	cp.Selection.Chapters = append([]int(nil), j.Selection.Chapters...)
	cp.Selection.Markers = append([]string(nil), j.Selection.Markers...)
	if j.StartedAt != nil {
		started := *j.StartedAt
		cp.StartedAt = &started
	}
	if j.CompletedAt != nil {
		completed := *j.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}
