package asset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prappser/prappser_media/internal/storage"
)

const assetColumns = `id, tenant_id, project_id, kind, storage_key, storage_tier, size_bytes, checksum, derived_thumbnail_key, deleted_at, created_at`

type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(ctx context.Context, a *Asset) error {
	query := `INSERT INTO assets (` + assetColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.TenantID,
		a.ProjectID,
		a.Kind,
		a.StorageKey,
		a.StorageTier,
		a.SizeBytes,
		a.Checksum,
		nullString(a.DerivedThumbnailKey),
		a.DeletedAt,
		a.CreatedAt,
	)
	return err
}

func (r *SQLRepository) GetByID(ctx context.Context, id string) (*Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE id = $1`

	a, err := scanAsset(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	return a, err
}

func (r *SQLRepository) SetThumbnailKey(ctx context.Context, id, key string) error {
	return r.execWithRowCheck(ctx, id, `UPDATE assets SET derived_thumbnail_key = $1 WHERE id = $2`, key, id)
}

// SwitchTier moves the storage pointer only if the asset is still on from.
func (r *SQLRepository) SwitchTier(ctx context.Context, id string, from, to storage.Tier, key string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE assets SET storage_tier = $1, storage_key = $2 WHERE id = $3 AND storage_tier = $4`,
		to, key, id, from)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 1 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is no longer on %s", ErrTierChanged, id, from)
}

func (r *SQLRepository) ListMigrationCandidates(ctx context.Context, tier storage.Tier, createdBefore int64, limit int) ([]*Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets
			  WHERE storage_tier = $1 AND created_at < $2 AND deleted_at IS NULL
			  ORDER BY created_at LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, tier, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (r *SQLRepository) execWithRowCheck(ctx context.Context, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*Asset, error) {
	a := &Asset{}
	var thumbnailKey sql.NullString
	var deletedAt sql.NullInt64

	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.ProjectID,
		&a.Kind,
		&a.StorageKey,
		&a.StorageTier,
		&a.SizeBytes,
		&a.Checksum,
		&thumbnailKey,
		&deletedAt,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if thumbnailKey.Valid {
		a.DerivedThumbnailKey = thumbnailKey.String
	}
	if deletedAt.Valid {
		d := deletedAt.Int64
		a.DeletedAt = &d
	}
	return a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
