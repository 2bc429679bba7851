package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/adaptauthoring/backend/internal/models"
)

// assetRepository implements asset record operations
type assetRepository struct {
	db *sql.DB
}

// NewAssetRepository creates a new asset repository
func NewAssetRepository(db *sql.DB) *assetRepository {
	return &assetRepository{
		db: db,
	}
}

// GetByCourse retrieves the distinct assets linked to a course through course asset records
func (r *assetRepository) GetByCourse(ctx context.Context, courseID string) ([]models.Asset, error) {
	query := `
		SELECT DISTINCT a.id, a.title, a.filename, a.repository, a.path, a.mime_type, a.size, a.created_by, a.created_at
		FROM assets a
		INNER JOIN course_assets ca ON ca.asset_id = a.id
		WHERE ca.course_id = ?
		ORDER BY a.filename
	`

	rows, err := r.db.QueryContext(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query course assets: %w", err)
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		var asset models.Asset
		err := rows.Scan(
			&asset.ID,
			&asset.Title,
			&asset.Filename,
			&asset.Repository,
			&asset.Path,
			&asset.MimeType,
			&asset.Size,
			&asset.CreatedBy,
			&asset.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}

	return assets, nil
}
