package services

import (
	"context"
	"fmt"

	"github.com/adaptauthoring/backend/internal/idmap"
	"github.com/adaptauthoring/backend/internal/models"
	"go.uber.org/zap"
)

// AssetReport summarises the course asset links copied into a duplicate
type AssetReport struct {
	Cloned int `json:"cloned"`
	// Skipped lists source link ids whose owning parent was not cloned
	Skipped []string `json:"skipped,omitempty"`
	// Failed lists source link ids whose copy could not be stored
	Failed []string `json:"failed,omitempty"`
}

// assetReassociator copies course asset links onto a duplicated course
type assetReassociator struct {
	repo   CourseAssetRepository
	logger *zap.Logger
}

func newAssetReassociator(repo CourseAssetRepository, logger *zap.Logger) *assetReassociator {
	return &assetReassociator{
		repo:   repo,
		logger: logger,
	}
}

// Reassociate copies every link of the source course whose parent was cloned.
// Course, owner and parent ids are remapped; the asset itself is shared, so its id is kept.
func (a *assetReassociator) Reassociate(ctx context.Context, sourceCourseID, courseID, userID string, ids *idmap.Map) (*AssetReport, error) {
	links, err := a.repo.GetByCourse(ctx, sourceCourseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get course assets: %w", err)
	}

	report := &AssetReport{}
	for _, link := range links {
		parentID, ok := ids.Lookup(link.ContentTypeParentID)
		if !ok {
			report.Skipped = append(report.Skipped, link.ID)
			continue
		}

		clone := &models.CourseAsset{
			CourseID:            courseID,
			ContentType:         link.ContentType,
			ContentTypeID:       ids.Resolve(link.ContentTypeID),
			ContentTypeParentID: parentID,
			AssetID:             link.AssetID,
			CreatedBy:           userID,
		}
		if err := a.repo.Create(ctx, clone); err != nil {
			a.logger.Error("failed to create course asset copy", zap.Error(err), zap.String("course_asset_id", link.ID))
			report.Failed = append(report.Failed, link.ID)
			continue
		}
		report.Cloned++
	}

	return report, nil
}
