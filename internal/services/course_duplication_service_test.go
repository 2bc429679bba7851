package services

import (
	"context"
	"errors"
	"testing"

	"github.com/adaptauthoring/backend/internal/apperr"
	"github.com/adaptauthoring/backend/internal/idmap"
	"github.com/adaptauthoring/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// seedBranchingCourse stores course C with pages P1 and P2 whose blocks branch to each other
func seedBranchingCourse(repo *memoryContentRepository) {
	repo.seed(models.Entity{ID: "C", Kind: models.KindCourse, CourseID: "C", Data: map[string]any{
		"title":  "Branching",
		"_start": map[string]any{"_startIds": []any{map[string]any{"_id": "P1"}}},
	}})
	repo.seed(models.Entity{ID: "CFG", Kind: models.KindConfig, CourseID: "C"})
	repo.seed(models.Entity{ID: "P1", Kind: models.KindContentObject, CourseID: "C", ParentID: "C", SortOrder: 1, Data: map[string]any{"_type": "page"}})
	repo.seed(models.Entity{ID: "P2", Kind: models.KindContentObject, CourseID: "C", ParentID: "P1", SortOrder: 1, Data: map[string]any{"_type": "page"}})
	repo.seed(models.Entity{ID: "A1", Kind: models.KindArticle, CourseID: "C", ParentID: "P1", SortOrder: 1})
	repo.seed(models.Entity{ID: "A2", Kind: models.KindArticle, CourseID: "C", ParentID: "P2", SortOrder: 1})
	repo.seed(models.Entity{ID: "B1", Kind: models.KindBlock, CourseID: "C", ParentID: "A1", SortOrder: 1, Data: map[string]any{
		"_extensions": map[string]any{"_branching": map[string]any{"_incorrect": "P2"}},
	}})
	repo.seed(models.Entity{ID: "B2", Kind: models.KindBlock, CourseID: "C", ParentID: "A2", SortOrder: 1, Data: map[string]any{
		"_extensions": map[string]any{"_branching": map[string]any{"_incorrect": "P1"}},
	}})
	repo.seed(models.Entity{ID: "CMP1", Kind: models.KindComponent, CourseID: "C", ParentID: "B1", SortOrder: 1, Data: map[string]any{"_component": "graphic"}})
}

func findByParent(t *testing.T, repo *memoryContentRepository, kind models.Kind, courseID, parentID string) *models.Entity {
	t.Helper()
	entities, err := repo.GetByCourse(context.Background(), kind, courseID)
	require.NoError(t, err)
	for i := range entities {
		if entities[i].ParentID == parentID {
			return &entities[i]
		}
	}
	t.Fatalf("no %s with parent %s in course %s", kind, parentID, courseID)
	return nil
}

func TestCourseDuplicationService_DuplicateCourse(t *testing.T) {
	repo := newMemoryContentRepository()
	seedBranchingCourse(repo)
	links := &memoryCourseAssetRepository{links: []models.CourseAsset{
		{ID: "L1", CourseID: "C", ContentType: models.KindComponent, ContentTypeID: "CMP1", ContentTypeParentID: "B1", AssetID: "asset-1"},
		{ID: "L2", CourseID: "C", ContentType: models.KindCourse, ContentTypeID: "C", ContentTypeParentID: "C", AssetID: "asset-2"},
		{ID: "L3", CourseID: "C", ContentType: models.KindComponent, ContentTypeID: "gone", ContentTypeParentID: "deleted-block", AssetID: "asset-3"},
	}}
	service := NewCourseDuplicationService(repo, links, zap.NewNop())

	report, err := service.DuplicateCourse(context.Background(), "C", "u2")

	require.NoError(t, err)
	require.NotNil(t, report)
	newCourseID := report.CourseID
	assert.NotEqual(t, "C", newCourseID)
	assert.Equal(t, 2, report.Created[models.KindContentObject])
	assert.Equal(t, 2, report.Created[models.KindBlock])

	p1 := findByParent(t, repo, models.KindContentObject, newCourseID, newCourseID)
	p2 := findByParent(t, repo, models.KindContentObject, newCourseID, p1.ID)
	a2 := findByParent(t, repo, models.KindArticle, newCourseID, p2.ID)
	b2 := findByParent(t, repo, models.KindBlock, newCourseID, a2.ID)
	a1 := findByParent(t, repo, models.KindArticle, newCourseID, p1.ID)
	b1 := findByParent(t, repo, models.KindBlock, newCourseID, a1.ID)

	branching, ok := models.MapAt(b2.Data, "_extensions", "_branching")
	require.True(t, ok)
	assert.Equal(t, p1.ID, branching["_incorrect"])
	assert.NotEqual(t, "P1", branching["_incorrect"])
	branching, _ = models.MapAt(b1.Data, "_extensions", "_branching")
	assert.Equal(t, p2.ID, branching["_incorrect"])

	course := repo.get(models.KindCourse, newCourseID)
	startIDs, _ := models.SliceAt(course.Data, "_start", "_startIds")
	assert.Equal(t, p1.ID, startIDs[0].(map[string]any)["_id"])

	// the source course is untouched
	source := repo.get(models.KindBlock, "B2")
	branching, _ = models.MapAt(source.Data, "_extensions", "_branching")
	assert.Equal(t, "P1", branching["_incorrect"])

	assert.Equal(t, 2, report.Assets.Cloned)
	assert.Equal(t, []string{"L3"}, report.Assets.Skipped)
	copied, err := links.GetByCourse(context.Background(), newCourseID)
	require.NoError(t, err)
	require.Len(t, copied, 2)
	cmp := findByParent(t, repo, models.KindComponent, newCourseID, b1.ID)
	assert.Equal(t, cmp.ID, copied[0].ContentTypeID)
	assert.Equal(t, b1.ID, copied[0].ContentTypeParentID)
	assert.Equal(t, "asset-1", copied[0].AssetID)
	assert.Equal(t, newCourseID, copied[1].ContentTypeID)
	assert.Equal(t, "u2", copied[1].CreatedBy)
}

func TestCourseDuplicationService_PartialSuccess(t *testing.T) {
	repo := newMemoryContentRepository()
	seedBranchingCourse(repo)
	repo.seed(models.Entity{ID: "B-ORPHAN", Kind: models.KindBlock, CourseID: "C", ParentID: "missing-article", SortOrder: 2})
	repo.seed(models.Entity{ID: "C", Kind: models.KindCourse, CourseID: "C", Data: map[string]any{"title": "No start"}})
	service := NewCourseDuplicationService(repo, &memoryCourseAssetRepository{}, zap.NewNop())

	report, err := service.DuplicateCourse(context.Background(), "C", "u2")

	require.Error(t, err)
	require.NotNil(t, report)
	var detached *apperr.DetachedEntityError
	require.True(t, errors.As(err, &detached))
	assert.Equal(t, []string{"B-ORPHAN"}, detached.Entities["block"])
	var structural *apperr.StructuralError
	require.True(t, errors.As(err, &structural))
	assert.Equal(t, "course", structural.Kind)
	assert.Equal(t, []string{"B-ORPHAN"}, report.Detached[models.KindBlock])
	assert.NotNil(t, repo.get(models.KindCourse, report.CourseID))
}

func TestCourseDuplicationService_Failures(t *testing.T) {
	tests := []struct {
		name       string
		courseID   string
		setup      func(*memoryContentRepository, *memoryCourseAssetRepository)
		rolledBack bool
	}{
		{
			name:     "empty course id",
			courseID: "",
			setup:    func(*memoryContentRepository, *memoryCourseAssetRepository) {},
		},
		{
			name:     "unknown course",
			courseID: "nope",
			setup:    func(*memoryContentRepository, *memoryCourseAssetRepository) {},
		},
		{
			name:     "listing failure rolls back created records",
			courseID: "C",
			setup: func(repo *memoryContentRepository, links *memoryCourseAssetRepository) {
				repo.listErr[models.KindBlock] = errDatabase
			},
			rolledBack: true,
		},
		{
			name:     "course asset listing failure rolls back created records",
			courseID: "C",
			setup: func(repo *memoryContentRepository, links *memoryCourseAssetRepository) {
				links.listErr = errDatabase
			},
			rolledBack: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemoryContentRepository()
			seedBranchingCourse(repo)
			links := &memoryCourseAssetRepository{}
			tt.setup(repo, links)
			service := NewCourseDuplicationService(repo, links, zap.NewNop())

			report, err := service.DuplicateCourse(context.Background(), tt.courseID, "u2")

			assert.Error(t, err)
			assert.Nil(t, report)
			if !tt.rolledBack {
				return
			}

			require.Len(t, repo.deleted[models.KindCourse], 1)
			newCourseID := repo.deleted[models.KindCourse][0]
			assert.Nil(t, repo.get(models.KindCourse, newCourseID))
			assert.Len(t, repo.deleted[models.KindContentObject], 2)
			assert.Equal(t, []string{newCourseID}, links.deleted)
			for _, kind := range models.ContentKinds {
				entities, err := repo.GetByCourse(context.Background(), kind, newCourseID)
				if kind == models.KindBlock && tt.name == "listing failure rolls back created records" {
					continue
				}
				require.NoError(t, err)
				assert.Empty(t, entities, "kind %s", kind)
			}
			assert.NotNil(t, repo.get(models.KindCourse, "C"))
		})
	}
}

func TestAssetReassociator_Reassociate(t *testing.T) {
	tests := []struct {
		name          string
		links         *memoryCourseAssetRepository
		expectedError bool
		validate      func(*testing.T, *AssetReport, *memoryCourseAssetRepository)
	}{
		{
			name: "remaps owner and parent but keeps asset id",
			links: &memoryCourseAssetRepository{links: []models.CourseAsset{
				{ID: "L1", CourseID: "c1", ContentType: models.KindComponent, ContentTypeID: "cmp1", ContentTypeParentID: "b1", AssetID: "asset-1"},
			}},
			validate: func(t *testing.T, report *AssetReport, links *memoryCourseAssetRepository) {
				assert.Equal(t, 1, report.Cloned)
				copied := links.links[1]
				assert.Equal(t, "c2", copied.CourseID)
				assert.Equal(t, "cmp2", copied.ContentTypeID)
				assert.Equal(t, "b2", copied.ContentTypeParentID)
				assert.Equal(t, "asset-1", copied.AssetID)
			},
		},
		{
			name: "owner without mapping keeps its id",
			links: &memoryCourseAssetRepository{links: []models.CourseAsset{
				{ID: "L1", CourseID: "c1", ContentType: models.KindComponent, ContentTypeID: "external", ContentTypeParentID: "b1", AssetID: "asset-1"},
			}},
			validate: func(t *testing.T, report *AssetReport, links *memoryCourseAssetRepository) {
				assert.Equal(t, "external", links.links[1].ContentTypeID)
			},
		},
		{
			name: "create failure is recorded",
			links: &memoryCourseAssetRepository{
				links:     []models.CourseAsset{{ID: "L1", CourseID: "c1", ContentTypeID: "cmp1", ContentTypeParentID: "b1"}},
				createErr: errDatabase,
			},
			validate: func(t *testing.T, report *AssetReport, links *memoryCourseAssetRepository) {
				assert.Equal(t, 0, report.Cloned)
				assert.Equal(t, []string{"L1"}, report.Failed)
			},
		},
		{
			name:          "listing failure",
			links:         &memoryCourseAssetRepository{listErr: errDatabase},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := idmap.New()
			require.NoError(t, ids.Set(models.KindBlock, "b1", "b2"))
			require.NoError(t, ids.Set(models.KindComponent, "cmp1", "cmp2"))
			reassociator := newAssetReassociator(tt.links, zap.NewNop())

			report, err := reassociator.Reassociate(context.Background(), "c1", "c2", "u2", ids)

			if tt.expectedError {
				assert.Error(t, err)
				assert.Nil(t, report)
				return
			}
			require.NoError(t, err)
			tt.validate(t, report, tt.links)
		})
	}
}
