package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, requester, selection_json, layout_json, failed, error_message, error_detail, created_at, started_at, completed_at"

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job           Job
		selectionJSON string
		layoutJSON    string
		failed        int64
		errorMessage  sql.NullString
		errorDetail   sql.NullString
		createdRaw    string
		startedRaw    sql.NullString
		completedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.Requester,
		&selectionJSON,
		&layoutJSON,
		&failed,
		&errorMessage,
		&errorDetail,
		&createdRaw,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(selectionJSON), &job.Selection); err != nil {
		return nil, fmt.Errorf("decode selection for %s: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(layoutJSON), &job.Layout); err != nil {
		return nil, fmt.Errorf("decode layout for %s: %w", job.ID, err)
	}
	job.Failed = failed != 0
	job.ErrorMessage = errorMessage.String
	job.ErrorDetail = errorDetail.String
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	job.StartedAt = parseNullableTime(startedRaw)
	job.CompletedAt = parseNullableTime(completedRaw)
	return &job, nil
}

// loadHistories fills History for every job in one query.
func loadHistories(ctx context.Context, q queryer, list []*Job) error {
	if len(list) == 0 {
		return nil
	}
	byID := make(map[string]*Job, len(list))
	args := make([]any, 0, len(list))
	for _, job := range list {
		byID[job.ID] = job
		job.History = nil
		args = append(args, job.ID)
	}
	rows, err := q.QueryContext(ctx,
		`SELECT job_id, state, source, at FROM state_entries WHERE job_id IN (`+makePlaceholders(len(args))+`) ORDER BY job_id, seq`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			jobID string
			state string
			entry StateEntry
			atRaw string
		)
		if err := rows.Scan(&jobID, &state, &entry.Source, &atRaw); err != nil {
			return fmt.Errorf("scan history: %w", err)
		}
		entry.State = State(state)
		if at, err := parseTimeString(atRaw); err == nil {
			entry.Timestamp = at
		}
		if job := byID[jobID]; job != nil {
			job.History = append(job.History, entry)
		}
	}
	return rows.Err()
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var list []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, job)
	}
	return list, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
