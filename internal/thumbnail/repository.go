package thumbnail

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const jobColumns = `id, asset_id, source_key, status, attempts, last_error, enqueued_at, available_at, started_at, completed_at`

type SQLRepository struct {
	db        *sql.DB
	claimNext string
}

// NewSQLRepository returns a repository for the given database/sql driver
// name ("sqlite3" or "postgres").
func NewSQLRepository(db *sql.DB, driver string) *SQLRepository {
	lock := ""
	if driver == "postgres" {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	claim := `UPDATE thumbnail_jobs SET status = 'running', attempts = attempts + 1, started_at = $1
			  WHERE id = (
				  SELECT id FROM thumbnail_jobs
				  WHERE status = 'pending' AND available_at <= $2
				  ORDER BY available_at, enqueued_at
				  LIMIT 1` + lock + `
			  ) AND status = 'pending'
			  RETURNING ` + jobColumns
	return &SQLRepository{db: db, claimNext: claim}
}

func (r *SQLRepository) Insert(ctx context.Context, job *Job) (bool, error) {
	query := `INSERT INTO thumbnail_jobs (id, asset_id, source_key, status, attempts, enqueued_at, available_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  ON CONFLICT DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.AssetID,
		job.SourceKey,
		job.Status,
		job.Attempts,
		job.EnqueuedAt,
		job.AvailableAt,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLRepository) GetActiveByAsset(ctx context.Context, assetID string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM thumbnail_jobs
			  WHERE asset_id = $1 AND status IN ('pending', 'running')`
	return r.getOne(ctx, assetID, query, assetID)
}

func (r *SQLRepository) GetLatestByAsset(ctx context.Context, assetID string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM thumbnail_jobs
			  WHERE asset_id = $1
			  ORDER BY enqueued_at DESC, COALESCE(completed_at, 0) DESC
			  LIMIT 1`
	return r.getOne(ctx, assetID, query, assetID)
}

func (r *SQLRepository) ClaimNext(ctx context.Context, now int64) (*Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, r.claimNext, now, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (r *SQLRepository) MarkDone(ctx context.Context, id string, now int64) error {
	return r.execRunning(ctx, id,
		`UPDATE thumbnail_jobs SET status = 'done', last_error = NULL, completed_at = $1
		 WHERE id = $2 AND status = 'running'`, now, id)
}

func (r *SQLRepository) Retry(ctx context.Context, id, lastError string, availableAt int64) error {
	return r.execRunning(ctx, id,
		`UPDATE thumbnail_jobs SET status = 'pending', last_error = $1, available_at = $2
		 WHERE id = $3 AND status = 'running'`, lastError, availableAt, id)
}

func (r *SQLRepository) Fail(ctx context.Context, id, lastError string, now int64) error {
	return r.execRunning(ctx, id,
		`UPDATE thumbnail_jobs SET status = 'failed', last_error = $1, completed_at = $2
		 WHERE id = $3 AND status = 'running'`, lastError, now, id)
}

func (r *SQLRepository) RequeueStale(ctx context.Context, cutoff, now int64) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE thumbnail_jobs SET status = 'pending', available_at = $1
		 WHERE status = 'running' AND started_at < $2`, now, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (r *SQLRepository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM thumbnail_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[Status]int{StatusPending: 0, StatusRunning: 0, StatusDone: 0, StatusFailed: 0}
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *SQLRepository) getOne(ctx context.Context, assetID, query string, args ...any) (*Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: asset %s", ErrJobNotFound, assetID)
	}
	return job, err
}

func (r *SQLRepository) execRunning(ctx context.Context, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotRunning, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	job := &Job{}
	var lastError sql.NullString
	var startedAt, completedAt sql.NullInt64

	err := row.Scan(
		&job.ID,
		&job.AssetID,
		&job.SourceKey,
		&job.Status,
		&job.Attempts,
		&lastError,
		&job.EnqueuedAt,
		&job.AvailableAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.LastError = lastError.String
	if startedAt.Valid {
		v := startedAt.Int64
		job.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Int64
		job.CompletedAt = &v
	}
	return job, nil
}
