package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prappser/prappser_media/internal/mediaerr"
)

const recordColumns = `id, asset_id, from_tier, to_tier, status, last_error, started_at, completed_at`

type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(ctx context.Context, record *Record) error {
	query := `INSERT INTO migration_records (id, asset_id, from_tier, to_tier, status, started_at)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.AssetID,
		record.FromTier,
		record.ToTier,
		record.Status,
		record.StartedAt,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: asset %s", mediaerr.ErrConcurrentMigration, record.AssetID)
	}
	return nil
}

func (r *SQLRepository) UpdateStatus(ctx context.Context, id string, status Status, lastError string, now int64) error {
	var completedAt sql.NullInt64
	if !status.Active() {
		completedAt = sql.NullInt64{Int64: now, Valid: true}
	}
	var errText sql.NullString
	if lastError != "" {
		errText = sql.NullString{String: lastError, Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE migration_records SET status = $1, last_error = $2, completed_at = $3
		 WHERE id = $4 AND status IN ('pending', 'copying', 'verifying', 'switched', 'cleaning')`,
		status, errText, completedAt, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s is not active", ErrRecordNotFound, id)
	}
	return nil
}

func (r *SQLRepository) GetLatestByAsset(ctx context.Context, assetID string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM migration_records
			  WHERE asset_id = $1
			  ORDER BY started_at DESC, COALESCE(completed_at, 0) DESC
			  LIMIT 1`

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, assetID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: asset %s", ErrRecordNotFound, assetID)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *SQLRepository) ListActiveStartedBefore(ctx context.Context, cutoff int64) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM migration_records
			  WHERE status IN ('pending', 'copying', 'verifying', 'switched', 'cleaning') AND started_at < $1
			  ORDER BY started_at`

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var lastError sql.NullString
	var completedAt sql.NullInt64
	err := row.Scan(
		&record.ID,
		&record.AssetID,
		&record.FromTier,
		&record.ToTier,
		&record.Status,
		&lastError,
		&record.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	record.LastError = lastError.String
	if completedAt.Valid {
		record.CompletedAt = &completedAt.Int64
	}
	return &record, nil
}
