package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Add inserts a new job. An empty ID is replaced with a fresh UUID; the job's
// history must already hold its Submitted entry.
func (s *Store) Add(ctx context.Context, job *Job) (*Job, error) {
	if job == nil {
		return nil, errors.New("job is nil")
	}
	if len(job.History) == 0 {
		return nil, fmt.Errorf("%w: new job has no history", ErrInvalidTransition)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.History[0].Timestamp
	}
	selectionJSON, layoutJSON, err := encodeParams(job)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (
                id, requester, selection_json, layout_json, current_state, failed,
                error_message, error_detail, created_at, started_at, completed_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID,
			job.Requester,
			selectionJSON,
			layoutJSON,
			string(job.CurrentState()),
			boolToInt(job.Failed),
			nullableString(job.ErrorMessage),
			nullableString(job.ErrorDetail),
			formatTime(job.CreatedAt),
			nullableTime(job.StartedAt),
			nullableTime(job.CompletedAt),
			formatTime(time.Now()),
		); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return insertEntries(ctx, tx, job.ID, 0, job.History)
	})
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// Get fetches a job and its history.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if err := loadHistories(ctx, s.db, []*Job{job}); err != nil {
		return nil, err
	}
	return job, nil
}

// Update persists new history entries and the job's error and timestamp
// fields. It reports false when the job no longer exists. The stored history
// must be a prefix of job.History; anything else is ErrHistoryConflict.
// CompletedAt is written only once; later values are ignored.
func (s *Store) Update(ctx context.Context, job *Job) (bool, error) {
	if job == nil {
		return false, errors.New("job is nil")
	}
	selectionJSON, layoutJSON, err := encodeParams(job)
	if err != nil {
		return false, err
	}

	found := true
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var stored int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE id = ?`, job.ID).Scan(&stored); err != nil {
			return fmt.Errorf("check job: %w", err)
		}
		if stored == 0 {
			found = false
			return nil
		}
		var (
			count     int
			lastState sql.NullString
			lastAt    sql.NullString
		)
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1), (SELECT state FROM state_entries WHERE job_id = ?1 ORDER BY seq DESC LIMIT 1),
                (SELECT at FROM state_entries WHERE job_id = ?1 ORDER BY seq DESC LIMIT 1)
             FROM state_entries WHERE job_id = ?1`,
			job.ID,
		).Scan(&count, &lastState, &lastAt); err != nil {
			return fmt.Errorf("read history head: %w", err)
		}
		if count > len(job.History) {
			return fmt.Errorf("%w: %s has %d stored entries, update carries %d", ErrHistoryConflict, job.ID, count, len(job.History))
		}
		if count > 0 {
			prev := job.History[count-1]
			if lastState.String != string(prev.State) || lastAt.String != formatTime(prev.Timestamp) {
				return fmt.Errorf("%w: %s diverged at entry %d", ErrHistoryConflict, job.ID, count-1)
			}
		}
		if err := insertEntries(ctx, tx, job.ID, count, job.History[count:]); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET
                selection_json = ?, layout_json = ?, current_state = ?, failed = ?,
                error_message = ?, error_detail = ?, started_at = COALESCE(started_at, ?),
                completed_at = COALESCE(completed_at, ?), updated_at = ?
             WHERE id = ?`,
			selectionJSON,
			layoutJSON,
			string(job.CurrentState()),
			boolToInt(job.Failed),
			nullableString(job.ErrorMessage),
			nullableString(job.ErrorDetail),
			nullableTime(job.StartedAt),
			nullableTime(job.CompletedAt),
			formatTime(time.Now()),
			job.ID,
		); err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Delete removes a job and its history, returning the removed job.
func (s *Store) Delete(ctx context.Context, id string) (*Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var affected int64
	err = retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("delete job: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, nil
}

// ListByState returns jobs whose current state is state, oldest first.
func (s *Store) ListByState(ctx context.Context, state State) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE current_state = ? ORDER BY created_at, id`,
		string(state),
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs by state: %w", err)
	}
	list, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("list jobs by state: %w", err)
	}
	if err := loadHistories(ctx, s.db, list); err != nil {
		return nil, err
	}
	return list, nil
}

// List returns every job, oldest first.
func (s *Store) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	list, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if err := loadHistories(ctx, s.db, list); err != nil {
		return nil, err
	}
	return list, nil
}

// CountByState returns how many jobs currently sit in each state.
func (s *Store) CountByState(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT current_state, COUNT(1) FROM jobs GROUP BY current_state`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	counts := make(map[State]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan counts: %w", err)
		}
		counts[State(state)] = n
	}
	return counts, rows.Err()
}

func insertEntries(ctx context.Context, tx *sql.Tx, jobID string, startSeq int, entries []StateEntry) error {
	for i, entry := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state_entries (job_id, seq, state, source, at) VALUES (?, ?, ?, ?, ?)`,
			jobID,
			startSeq+i,
			string(entry.State),
			entry.Source,
			formatTime(entry.Timestamp),
		); err != nil {
			return fmt.Errorf("insert state entry %d: %w", startSeq+i, err)
		}
	}
	return nil
}

func encodeParams(job *Job) (string, string, error) {
	selection, err := json.Marshal(job.Selection)
	if err != nil {
		return "", "", fmt.Errorf("encode selection: %w", err)
	}
	layout, err := json.Marshal(job.Layout)
	if err != nil {
		return "", "", fmt.Errorf("encode layout: %w", err)
	}
	return string(selection), string(layout), nil
}
