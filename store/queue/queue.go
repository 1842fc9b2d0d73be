// Package queue stores the jobs that the worker processes. Jobs are deduped
// while waiting: enqueueing an identical job before the first one started is
// a no-op.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nrednav/cuid2"

	"github.com/dataview-sh/dataview/db/types"
)

// Status of a job in the queue.
type Status string

// The job lifecycle: waiting -> started -> success | error.
const (
	StatusWaiting Status = "waiting"
	StatusStarted Status = "started"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Job is a unit of work for the worker: one computation of one kind for one
// dataset/config/split.
type Job struct {
	ID         string
	Type       string
	Dataset    string
	Config     string
	Split      string
	Status     Status
	Priority   int
	CreatedAt  time.Time
	StartedAt  sql.Null[time.Time]
	FinishedAt sql.Null[time.Time]
}

// Enqueue adds the job in waiting state. If an identical job is already
// waiting, the existing one is kept and no error is returned.
func (j *Job) Enqueue(ctx context.Context, d types.Querier) error {
	if j.Type == "" || j.Dataset == "" {
		return types.InvalidInputError{Msg: "both job type and dataset must be set"}
	}
	if j.ID == "" {
		j.ID = cuid2.Generate()
	}
	j.Status = StatusWaiting
	j.CreatedAt = d.TimeNow().UTC()

	stmt := `INSERT INTO jobs (id, type, dataset, config, split, status, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := d.ExecContext(ctx, stmt,
		j.ID, j.Type, j.Dataset, j.Config, j.Split, j.Status, j.Priority, j.CreatedAt)
	if err != nil {
		var dup *types.DuplicateError
		if errors.As(types.Err("job", j.key(), err), &dup) {
			return nil
		}
		return types.Err("job", j.key(), err)
	}

	return nil
}

// StartNext claims the highest-priority waiting job and marks it started.
// It returns a NoResultError if the queue has no waiting jobs.
func StartNext(ctx context.Context, d types.Querier) (*Job, error) {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed starting transaction: %w", err)
	}
	//nolint:errcheck // The rollback is a no-op after commit.
	defer tx.Rollback()

	var j Job
	err = tx.QueryRowContext(ctx,
		`SELECT id, type, dataset, config, split, priority, created_at
		 FROM jobs WHERE status = ?
		 ORDER BY priority DESC, created_at ASC LIMIT 1`, StatusWaiting).
		Scan(&j.ID, &j.Type, &j.Dataset, &j.Config, &j.Split, &j.Priority, &j.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NoResultError{ModelName: "job", ID: "status 'waiting'"}
	}
	if err != nil {
		return nil, types.ScanError{ModelName: "job", Err: err}
	}

	timeNow := d.TimeNow().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ? WHERE id = ?`,
		StatusStarted, timeNow, j.ID)
	if err != nil {
		return nil, fmt.Errorf("failed starting job '%s': %w", j.ID, err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed committing job start: %w", err)
	}

	j.Status = StatusStarted
	j.StartedAt = sql.Null[time.Time]{V: timeNow, Valid: true}

	return &j, nil
}

// Finish marks the job finished with the given terminal status.
func (j *Job) Finish(ctx context.Context, d types.Querier, status Status) error {
	if status != StatusSuccess && status != StatusError {
		return types.InvalidInputError{Msg: fmt.Sprintf("'%s' is not a terminal job status", status)}
	}

	timeNow := d.TimeNow().UTC()
	res, err := d.ExecContext(ctx,
		`UPDATE jobs SET status = ?, finished_at = ? WHERE id = ?`,
		status, timeNow, j.ID)
	if err != nil {
		return fmt.Errorf("failed finishing job '%s': %w", j.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed getting affected rows: %w", err)
	}
	if n == 0 {
		return types.NoResultError{ModelName: "job", ID: fmt.Sprintf("ID '%s'", j.ID)}
	}

	j.Status = status
	j.FinishedAt = sql.Null[time.Time]{V: timeNow, Valid: true}

	return nil
}

// Jobs returns queued jobs matching the optional filter, newest first.
func Jobs(ctx context.Context, d types.Querier, filter *types.Filter) ([]*Job, error) {
	where := "1=1"
	var args []any
	if filter != nil {
		where = filter.Where
		args = filter.Args
	}

	query := fmt.Sprintf(`SELECT id, type, dataset, config, split, status,
			priority, created_at, started_at, finished_at
		FROM jobs WHERE %s ORDER BY created_at DESC`, where)
	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var j Job
		err = rows.Scan(&j.ID, &j.Type, &j.Dataset, &j.Config, &j.Split,
			&j.Status, &j.Priority, &j.CreatedAt, &j.StartedAt, &j.FinishedAt)
		if err != nil {
			return nil, types.ScanError{ModelName: "job", Err: err}
		}
		jobs = append(jobs, &j)
	}

	//nolint:wrapcheck // This is fine.
	return jobs, rows.Err()
}

// Count is the number of jobs of one type with one status.
type Count struct {
	Type   string
	Status Status
	Count  int
}

// CountByTypeStatus aggregates jobs per (type, status). It feeds the metrics
// store.
func CountByTypeStatus(ctx context.Context, d types.Querier) ([]Count, error) {
	rows, err := d.QueryContext(ctx,
		`SELECT type, status, COUNT(*) FROM jobs
		 GROUP BY type, status ORDER BY type, status`)
	if err != nil {
		return nil, fmt.Errorf("failed counting jobs: %w", err)
	}
	defer rows.Close()

	var counts []Count
	for rows.Next() {
		var c Count
		if err = rows.Scan(&c.Type, &c.Status, &c.Count); err != nil {
			return nil, types.ScanError{ModelName: "job count", Err: err}
		}
		counts = append(counts, c)
	}

	//nolint:wrapcheck // This is fine.
	return counts, rows.Err()
}

func (j *Job) key() string {
	return fmt.Sprintf("type '%s' for '%s/%s/%s'", j.Type, j.Dataset, j.Config, j.Split)
}
