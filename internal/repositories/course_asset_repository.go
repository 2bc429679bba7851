package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/adaptauthoring/backend/internal/models"
)

// courseAssetRepository implements course asset link operations
type courseAssetRepository struct {
	db    *sql.DB
	newID func() string
	now   func() time.Time
}

// NewCourseAssetRepository creates a new course asset repository
func NewCourseAssetRepository(db *sql.DB) *courseAssetRepository {
	return &courseAssetRepository{
		db:    db,
		newID: newULID,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new course asset link and assigns its identifier
func (r *courseAssetRepository) Create(ctx context.Context, courseAsset *models.CourseAsset) error {
	id := r.newID()
	now := r.now()
	query := `
		INSERT INTO course_assets (id, course_id, content_type, content_type_id, content_type_parent_id, asset_id, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		id,
		courseAsset.CourseID,
		courseAsset.ContentType,
		courseAsset.ContentTypeID,
		courseAsset.ContentTypeParentID,
		courseAsset.AssetID,
		courseAsset.CreatedBy,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create course asset: %w", err)
	}

	courseAsset.ID = id
	courseAsset.CreatedAt = now
	return nil
}

// GetByCourse retrieves all course asset links of a course
func (r *courseAssetRepository) GetByCourse(ctx context.Context, courseID string) ([]models.CourseAsset, error) {
	query := `
		SELECT id, course_id, content_type, content_type_id, content_type_parent_id, asset_id, created_by, created_at
		FROM course_assets
		WHERE course_id = ?
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query course assets: %w", err)
	}
	defer rows.Close()

	var courseAssets []models.CourseAsset
	for rows.Next() {
		var ca models.CourseAsset
		err := rows.Scan(
			&ca.ID,
			&ca.CourseID,
			&ca.ContentType,
			&ca.ContentTypeID,
			&ca.ContentTypeParentID,
			&ca.AssetID,
			&ca.CreatedBy,
			&ca.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan course asset: %w", err)
		}
		courseAssets = append(courseAssets, ca)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating course assets: %w", err)
	}

	return courseAssets, nil
}

// DeleteByCourse removes all course asset links of a course
func (r *courseAssetRepository) DeleteByCourse(ctx context.Context, courseID string) error {
	query := `DELETE FROM course_assets WHERE course_id = ?`

	if _, err := r.db.ExecContext(ctx, query, courseID); err != nil {
		return fmt.Errorf("failed to delete course assets: %w", err)
	}

	return nil
}
