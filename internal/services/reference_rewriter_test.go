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

// clonedFixture stores cloned entities in a repository and returns them grouped by kind
func clonedFixture(repo *memoryContentRepository, entities ...models.Entity) map[models.Kind][]*models.Entity {
	cloned := make(map[models.Kind][]*models.Entity)
	for _, e := range entities {
		repo.seed(e)
		cloned[e.Kind] = append(cloned[e.Kind], e.Clone())
	}
	return cloned
}

func newTestMap(t *testing.T, pairs ...string) *idmap.Map {
	t.Helper()
	ids := idmap.New()
	for i := 0; i+1 < len(pairs); i += 2 {
		require.NoError(t, ids.Set(models.KindContentObject, pairs[i], pairs[i+1]))
	}
	return ids
}

func TestReferenceRewriter_Rewrite(t *testing.T) {
	repo := newMemoryContentRepository()
	ids := newTestMap(t,
		"c1", "c2",
		"p1", "p1n",
		"p2", "p2n",
		"a1", "a1n",
		"b1", "b1n",
	)
	cloned := clonedFixture(repo,
		models.Entity{ID: "c2", Kind: models.KindCourse, Data: map[string]any{
			"_start": map[string]any{"_startIds": []any{
				map[string]any{"_id": "p1", "_skipIfComplete": true},
				map[string]any{"_id": "p2"},
			}},
		}},
		models.Entity{ID: "p1n", Kind: models.KindContentObject, Data: map[string]any{
			"_extensions": map[string]any{"_navigationFooter": map[string]any{"_buttons": map[string]any{"_custom": map[string]any{"_id": "p2"}}}},
		}},
		models.Entity{ID: "a1n", Kind: models.KindArticle, Data: map[string]any{
			"_extensions": map[string]any{
				"_branching":        map[string]any{"_start": "b1"},
				"_laerdalBranching": map[string]any{"_start": "b1"},
			},
		}},
		models.Entity{ID: "b1n", Kind: models.KindBlock, Data: map[string]any{
			"_extensions": map[string]any{
				"_laerdalBranching": map[string]any{"_correct": "p1", "_partlyCorrect": "p2", "_incorrect": "p1"},
				"_branching": map[string]any{
					"_correct":   "p2",
					"_incorrect": "p1",
					"_attemptBands": []any{
						map[string]any{"_attempts": 1.0, "_correct": "p1", "_incorrect": "p2"},
						map[string]any{"_attempts": 2.0, "_partlyCorrect": "p1"},
					},
				},
			},
		}},
		models.Entity{ID: "cmp1n", Kind: models.KindComponent, Data: map[string]any{
			"_component": "assessmentResultsTotal",
			"_extensions": map[string]any{"_additionalMaterial": map[string]any{"_items": []any{
				map[string]any{"_viewType": "modal", "_viewTypeModal": map[string]any{"_viewId": "p2"}},
				map[string]any{"_viewType": "link", "_viewTypeModal": map[string]any{"_viewId": "p2"}},
			}}},
			"properties": map[string]any{"_bands": []any{
				map[string]any{"_retry": map[string]any{"_routeToPage": "p1"}, "_review": map[string]any{"_routeToPageReview": "p2"}},
				map[string]any{"_review": map[string]any{"_routeToPageReview": "p1"}},
			}},
		}},
	)
	rewriter := newReferenceRewriter(repo, zap.NewNop())

	report := rewriter.Rewrite(context.Background(), cloned, ids)

	assert.Empty(t, report.Unresolved)
	assert.Empty(t, report.Failures)
	assert.Empty(t, report.Structural)
	assert.Equal(t, 1, report.Updated[models.KindBlock])
	assert.Equal(t, 1, report.Updated[models.KindComponent])

	course := repo.get(models.KindCourse, "c2")
	startIDs, _ := models.SliceAt(course.Data, "_start", "_startIds")
	assert.Equal(t, "p1n", startIDs[0].(map[string]any)["_id"])
	assert.Equal(t, true, startIDs[0].(map[string]any)["_skipIfComplete"])
	assert.Equal(t, "p2n", startIDs[1].(map[string]any)["_id"])

	page := repo.get(models.KindContentObject, "p1n")
	custom, _ := models.MapAt(page.Data, "_extensions", "_navigationFooter", "_buttons", "_custom")
	assert.Equal(t, "p2n", custom["_id"])

	article := repo.get(models.KindArticle, "a1n")
	for _, ns := range []string{"_branching", "_laerdalBranching"} {
		branching, _ := models.MapAt(article.Data, "_extensions", ns)
		assert.Equal(t, "b1n", branching["_start"], ns)
	}

	block := repo.get(models.KindBlock, "b1n")
	laerdal, _ := models.MapAt(block.Data, "_extensions", "_laerdalBranching")
	assert.Equal(t, "p1n", laerdal["_correct"])
	assert.Equal(t, "p2n", laerdal["_partlyCorrect"])
	assert.Equal(t, "p1n", laerdal["_incorrect"])
	branching, _ := models.MapAt(block.Data, "_extensions", "_branching")
	assert.Equal(t, "p2n", branching["_correct"])
	assert.Equal(t, "p1n", branching["_incorrect"])
	assert.NotContains(t, branching, "_partlyCorrect")
	bands := branching["_attemptBands"].([]any)
	assert.Equal(t, "p1n", bands[0].(map[string]any)["_correct"])
	assert.Equal(t, "p2n", bands[0].(map[string]any)["_incorrect"])
	assert.Equal(t, 1.0, bands[0].(map[string]any)["_attempts"])
	assert.Equal(t, "p1n", bands[1].(map[string]any)["_partlyCorrect"])
	assert.Equal(t, 2.0, bands[1].(map[string]any)["_attempts"])

	component := repo.get(models.KindComponent, "cmp1n")
	items, _ := models.SliceAt(component.Data, "_extensions", "_additionalMaterial", "_items")
	assert.Equal(t, "p2n", items[0].(map[string]any)["_viewTypeModal"].(map[string]any)["_viewId"])
	assert.Equal(t, "p2", items[1].(map[string]any)["_viewTypeModal"].(map[string]any)["_viewId"])
	resultBands, _ := models.SliceAt(component.Data, "properties", "_bands")
	assert.Equal(t, "p1n", resultBands[0].(map[string]any)["_retry"].(map[string]any)["_routeToPage"])
	assert.Equal(t, "p2n", resultBands[0].(map[string]any)["_review"].(map[string]any)["_routeToPageReview"])
	assert.Equal(t, "p1n", resultBands[1].(map[string]any)["_review"].(map[string]any)["_routeToPageReview"])
}

func TestReferenceRewriter_Idempotent(t *testing.T) {
	repo := newMemoryContentRepository()
	ids := newTestMap(t, "p1", "p1n", "p2", "p2n")
	cloned := clonedFixture(repo,
		models.Entity{ID: "b1n", Kind: models.KindBlock, Data: map[string]any{
			"_extensions": map[string]any{"_branching": map[string]any{"_correct": "p2", "_incorrect": "p1"}},
		}},
	)
	rewriter := newReferenceRewriter(repo, zap.NewNop())

	first := rewriter.Rewrite(context.Background(), cloned, ids)
	once := repo.get(models.KindBlock, "b1n").Clone()
	second := rewriter.Rewrite(context.Background(), cloned, ids)
	twice := repo.get(models.KindBlock, "b1n")

	assert.Equal(t, 1, first.Updated[models.KindBlock])
	assert.Zero(t, second.Updated[models.KindBlock])
	assert.Empty(t, second.Unresolved)
	assert.Equal(t, once.Data, twice.Data)
}

func TestReferenceRewriter_PreservesUnmappedReferences(t *testing.T) {
	repo := newMemoryContentRepository()
	ids := newTestMap(t, "p1", "p1n")
	cloned := clonedFixture(repo,
		models.Entity{ID: "b1n", Kind: models.KindBlock, Data: map[string]any{
			"_extensions": map[string]any{"_branching": map[string]any{"_correct": "p1", "_incorrect": "X"}},
		}},
	)
	rewriter := newReferenceRewriter(repo, zap.NewNop())

	report := rewriter.Rewrite(context.Background(), cloned, ids)

	block := repo.get(models.KindBlock, "b1n")
	branching, _ := models.MapAt(block.Data, "_extensions", "_branching")
	assert.Equal(t, "X", branching["_incorrect"])
	assert.Equal(t, "p1n", branching["_correct"])
	require.Len(t, report.Unresolved, 1)
	assert.Equal(t, UnresolvedReference{
		Kind:     models.KindBlock,
		EntityID: "b1n",
		Field:    "_extensions._branching._incorrect",
		Value:    "X",
	}, report.Unresolved[0])
}

func TestReferenceRewriter_Failures(t *testing.T) {
	tests := []struct {
		name     string
		course   map[string]any
		failID   string
		validate func(*testing.T, *RewriteReport, *memoryContentRepository)
	}{
		{
			name:   "course without start ids",
			course: map[string]any{"title": "Course"},
			validate: func(t *testing.T, report *RewriteReport, repo *memoryContentRepository) {
				require.Len(t, report.Errors(), 1)
				var structural *apperr.StructuralError
				require.True(t, errors.As(report.Errors()[0], &structural))
				assert.Equal(t, "_start", structural.Path)
				assert.Equal(t, 1, report.Updated[models.KindBlock])
			},
		},
		{
			name:   "malformed start entry leaves course untouched",
			course: map[string]any{"_start": map[string]any{"_startIds": []any{map[string]any{"_id": "p1"}, "p2"}}},
			validate: func(t *testing.T, report *RewriteReport, repo *memoryContentRepository) {
				require.Len(t, report.Structural, 1)
				assert.Contains(t, report.Structural[0], "_start._startIds[1]")
				course := repo.get(models.KindCourse, "c2")
				startIDs, _ := models.SliceAt(course.Data, "_start", "_startIds")
				assert.Equal(t, "p1", startIDs[0].(map[string]any)["_id"])
			},
		},
		{
			name:   "store failure on one block does not stop the others",
			course: map[string]any{"_start": map[string]any{"_startIds": []any{}}},
			failID: "b1n",
			validate: func(t *testing.T, report *RewriteReport, repo *memoryContentRepository) {
				require.Len(t, report.Failures, 1)
				assert.Equal(t, "b1n", report.Failures[0].EntityID)
				assert.Equal(t, 1, report.Updated[models.KindBlock])
				block := repo.get(models.KindBlock, "b2n")
				branching, _ := models.MapAt(block.Data, "_extensions", "_branching")
				assert.Equal(t, "p1n", branching["_correct"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemoryContentRepository()
			if tt.failID != "" {
				repo.updateErr = func(entity *models.Entity) error {
					if entity.ID == tt.failID {
						return errDatabase
					}
					return nil
				}
			}
			ids := newTestMap(t, "p1", "p1n")
			blockData := func() map[string]any {
				return map[string]any{"_extensions": map[string]any{"_branching": map[string]any{"_correct": "p1"}}}
			}
			cloned := clonedFixture(repo,
				models.Entity{ID: "c2", Kind: models.KindCourse, Data: tt.course},
				models.Entity{ID: "b1n", Kind: models.KindBlock, Data: blockData()},
				models.Entity{ID: "b2n", Kind: models.KindBlock, Data: blockData()},
			)
			if tt.failID == "" {
				delete(cloned, models.KindBlock)
				cloned[models.KindBlock] = []*models.Entity{{ID: "b1n", Kind: models.KindBlock, Data: blockData()}}
			}
			rewriter := newReferenceRewriter(repo, zap.NewNop())

			report := rewriter.Rewrite(context.Background(), cloned, ids)

			tt.validate(t, report, repo)
		})
	}
}
