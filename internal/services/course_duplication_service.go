package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/adaptauthoring/backend/internal/apperr"
	"github.com/adaptauthoring/backend/internal/idmap"
	"github.com/adaptauthoring/backend/internal/models"
	"go.uber.org/zap"
)

// ContentRepository is the interface that wraps methods for content entity data access
type ContentRepository interface {
	// Method Create inserts a new entity and assigns its identifier.
	//
	// "entity" parameter is the entity to insert. On success its ID, CourseID and timestamps are set.
	//
	// If some error occurs during data insert, the error will be returned.
	Create(ctx context.Context, entity *models.Entity) error
	// Method GetByID retrieves an entity of the given kind by its identifier.
	//
	// "kind" parameter selects the collection.
	// "id" parameter is the entity identifier.
	//
	// If the entity does not exist, an error matching apperr.ErrNotFound will be returned together with "nil" value.
	GetByID(ctx context.Context, kind models.Kind, id string) (*models.Entity, error)
	// Method GetByCourse retrieves all entities of a kind that belong to a course.
	//
	// "kind" parameter selects the collection.
	// "courseID" parameter is the identifier of the owning course.
	//
	// If some error occurs during data retrieve, the error will be returned together with "nil" value.
	GetByCourse(ctx context.Context, kind models.Kind, courseID string) ([]models.Entity, error)
	// Method Update stores the parent, sort order and payload of an existing entity.
	//
	// "entity" parameter is the entity to store.
	//
	// If the entity does not exist, an error matching apperr.ErrNotFound will be returned.
	Update(ctx context.Context, entity *models.Entity) error
	// Method DeleteByIDs removes entities of a kind.
	//
	// "kind" parameter selects the collection.
	// "ids" parameter lists the identifiers to remove.
	//
	// If some error occurs during data delete, the error will be returned.
	DeleteByIDs(ctx context.Context, kind models.Kind, ids []string) error
}

// CourseAssetRepository is the interface that wraps methods for course asset link data access
type CourseAssetRepository interface {
	// Method Create inserts a new course asset link and assigns its identifier.
	//
	// If some error occurs during data insert, the error will be returned.
	Create(ctx context.Context, courseAsset *models.CourseAsset) error
	// Method GetByCourse retrieves all course asset links of a course.
	//
	// "courseID" parameter is the identifier of the owning course.
	//
	// If some error occurs during data retrieve, the error will be returned together with "nil" value.
	GetByCourse(ctx context.Context, courseID string) ([]models.CourseAsset, error)
	// Method DeleteByCourse removes all course asset links of a course.
	//
	// If some error occurs during data delete, the error will be returned.
	DeleteByCourse(ctx context.Context, courseID string) error
}

// DuplicationReport describes the outcome of a course duplication
type DuplicationReport struct {
	SourceCourseID string                   `json:"sourceCourseId"`
	CourseID       string                   `json:"courseId"`
	Created        map[models.Kind]int      `json:"created"`
	Detached       map[models.Kind][]string `json:"detached,omitempty"`
	Failed         map[models.Kind][]string `json:"failed,omitempty"`
	Rewrite        *RewriteReport           `json:"rewrite"`
	Assets         *AssetReport             `json:"assets"`
}

// courseDuplicationService duplicates a course: clone, remap references, re-associate assets
type courseDuplicationService struct {
	content      ContentRepository
	courseAssets CourseAssetRepository
	cloner       *contentCloner
	rewriter     *referenceRewriter
	assets       *assetReassociator
	logger       *zap.Logger
}

// NewCourseDuplicationService creates a new course duplication service
func NewCourseDuplicationService(content ContentRepository, courseAssets CourseAssetRepository, logger *zap.Logger) *courseDuplicationService {
	return &courseDuplicationService{
		content:      content,
		courseAssets: courseAssets,
		cloner:       newContentCloner(content, logger),
		rewriter:     newReferenceRewriter(content, logger),
		assets:       newAssetReassociator(courseAssets, logger),
		logger:       logger,
	}
}

// DuplicateCourse creates a self-consistent copy of a course owned by userID.
//
// When the copy is usable but incomplete, the report is returned together with a non-nil error
// joining a DetachedEntityError and any StructuralError found while remapping.
// When duplication fails after records were created, the created records are deleted
// and only the error is returned.
func (s *courseDuplicationService) DuplicateCourse(ctx context.Context, courseID, userID string) (*DuplicationReport, error) {
	if courseID == "" {
		return nil, fmt.Errorf("course id is required")
	}

	ids := idmap.New()

	cloned, err := s.cloner.Clone(ctx, courseID, userID, ids)
	if err != nil {
		if cloned != nil {
			s.compensate(context.WithoutCancel(ctx), cloned.CourseID, ids)
		}
		return nil, fmt.Errorf("failed to duplicate course: %w", err)
	}

	rewrite := s.rewriter.Rewrite(ctx, cloned.Entities, ids)

	assets, err := s.assets.Reassociate(ctx, courseID, cloned.CourseID, userID, ids)
	if err != nil {
		s.compensate(context.WithoutCancel(ctx), cloned.CourseID, ids)
		return nil, fmt.Errorf("failed to duplicate course: %w", err)
	}

	report := &DuplicationReport{
		SourceCourseID: courseID,
		CourseID:       cloned.CourseID,
		Created:        make(map[models.Kind]int),
		Detached:       cloned.Detached,
		Failed:         cloned.Failed,
		Rewrite:        rewrite,
		Assets:         assets,
	}
	for kind, entities := range cloned.Entities {
		report.Created[kind] = len(entities)
	}

	var errs []error
	if len(cloned.Detached) > 0 {
		detached := make(map[string][]string, len(cloned.Detached))
		for kind, sourceIDs := range cloned.Detached {
			detached[string(kind)] = sourceIDs
		}
		errs = append(errs, &apperr.DetachedEntityError{Entities: detached})
	}
	errs = append(errs, rewrite.Errors()...)

	s.logger.Info("course duplicated",
		zap.String("source_course_id", courseID),
		zap.String("course_id", cloned.CourseID),
		zap.Int("mapped", ids.Len()),
		zap.Int("unresolved_references", len(rewrite.Unresolved)),
		zap.Int("course_assets", assets.Cloned),
	)

	return report, errors.Join(errs...)
}

// compensate deletes every record created for a failed duplicate, children first
func (s *courseDuplicationService) compensate(ctx context.Context, courseID string, ids *idmap.Map) {
	if courseID == "" {
		return
	}

	if err := s.courseAssets.DeleteByCourse(ctx, courseID); err != nil {
		s.logger.Error("failed to roll back course assets", zap.Error(err), zap.String("course_id", courseID))
	}

	for i := len(models.ContentKinds) - 1; i > 0; i-- {
		kind := models.ContentKinds[i]
		created := ids.Created(kind)
		if len(created) == 0 {
			continue
		}
		if err := s.content.DeleteByIDs(ctx, kind, created); err != nil {
			s.logger.Error("failed to roll back entities", zap.Error(err), zap.String("kind", string(kind)), zap.Int("count", len(created)))
		}
	}

	if err := s.content.DeleteByIDs(ctx, models.KindCourse, []string{courseID}); err != nil {
		s.logger.Error("failed to roll back course copy", zap.Error(err), zap.String("course_id", courseID))
	}
}
