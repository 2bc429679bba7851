package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/adaptauthoring/backend/internal/apperr"
	"github.com/adaptauthoring/backend/internal/idmap"
	"github.com/adaptauthoring/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func contentObject(id, parentID string, sortOrder int) models.Entity {
	return models.Entity{
		ID:        id,
		Kind:      models.KindContentObject,
		CourseID:  "c1",
		ParentID:  parentID,
		SortOrder: sortOrder,
		Data:      map[string]any{"_type": models.ContentObjectPage},
	}
}

func TestCreationOrder(t *testing.T) {
	tests := []struct {
		name     string
		entities []models.Entity
		validate func(*testing.T, map[string]int)
	}{
		{
			name: "synthetic tree in shuffled input order",
			entities: []models.Entity{
				contentObject("D", "B", 1),
				contentObject("C", "A", 2),
				contentObject("A", "c1", 1),
				contentObject("B", "A", 1),
			},
			validate: func(t *testing.T, order map[string]int) {
				assert.Equal(t, 1, order["A"])
				assert.Equal(t, 2, order["B"])
				assert.Greater(t, order["C"], order["A"])
				assert.Greater(t, order["D"], order["B"])
			},
		},
		{
			name: "siblings follow sort order",
			entities: []models.Entity{
				contentObject("third", "c1", 3),
				contentObject("first", "c1", 1),
				contentObject("second", "c1", 2),
			},
			validate: func(t *testing.T, order map[string]int) {
				assert.Equal(t, map[string]int{"first": 1, "second": 2, "third": 3}, order)
			},
		},
		{
			name: "cycle is numbered after reachable nodes",
			entities: []models.Entity{
				contentObject("X", "Y", 1),
				contentObject("Y", "X", 1),
				contentObject("R", "c1", 1),
				contentObject("S", "self-parent", 2),
			},
			validate: func(t *testing.T, order map[string]int) {
				assert.Equal(t, 1, order["R"])
				assert.Equal(t, 2, order["S"])
				assert.Greater(t, order["X"], 2)
				assert.Greater(t, order["Y"], 2)
				assert.NotEqual(t, order["X"], order["Y"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := creationOrder(tt.entities)

			assert.Len(t, order, len(tt.entities))
			tt.validate(t, order)
		})
	}
}

func TestCreationOrder_RandomForests(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 25; round++ {
		var entities []models.Entity
		for i := 0; i < 60; i++ {
			parentID := "c1"
			if i > 0 && rng.Intn(4) > 0 {
				parentID = fmt.Sprintf("co-%d", rng.Intn(i))
			}
			entities = append(entities, contentObject(fmt.Sprintf("co-%d", i), parentID, rng.Intn(5)+1))
		}
		rng.Shuffle(len(entities), func(i, j int) { entities[i], entities[j] = entities[j], entities[i] })

		sorted := sortByCreationOrder(entities)
		order := creationOrder(entities)

		position := make(map[string]int, len(sorted))
		for i, e := range sorted {
			position[e.ID] = i
		}
		for _, e := range entities {
			if e.ParentID == "c1" {
				continue
			}
			assert.Greater(t, order[e.ID], order[e.ParentID], "round %d: %s after %s", round, e.ID, e.ParentID)
			assert.Greater(t, position[e.ID], position[e.ParentID])
		}
	}
}

// seedCourse stores a small course: menu page tree, an orphaned article and a block with components
func seedCourse(repo *memoryContentRepository) {
	repo.seed(models.Entity{
		ID:        "c1",
		Kind:      models.KindCourse,
		CourseID:  "c1",
		CreatedBy: "author",
		Data: map[string]any{
			"title":       "Intro",
			"_hasPreview": true,
			"_trackingId": 5.0,
			"_start":      map[string]any{"_isEnabled": true, "_startIds": []any{map[string]any{"_id": "p1"}}},
		},
	})
	repo.seed(models.Entity{ID: "cfg1", Kind: models.KindConfig, CourseID: "c1", Data: map[string]any{"_theme": "adapt-contrib-vanilla"}})
	repo.seed(models.Entity{ID: "p2", Kind: models.KindContentObject, CourseID: "c1", ParentID: "p1", SortOrder: 1, Data: map[string]any{"_type": "page"}})
	repo.seed(models.Entity{ID: "p1", Kind: models.KindContentObject, CourseID: "c1", ParentID: "c1", SortOrder: 1, Data: map[string]any{"_type": "menu"}})
	repo.seed(models.Entity{ID: "a1", Kind: models.KindArticle, CourseID: "c1", ParentID: "p2", SortOrder: 1})
	repo.seed(models.Entity{ID: "a-orphan", Kind: models.KindArticle, CourseID: "c1", ParentID: "deleted-page", SortOrder: 2})
	repo.seed(models.Entity{ID: "b1", Kind: models.KindBlock, CourseID: "c1", ParentID: "a1", SortOrder: 1, Data: map[string]any{"_trackingId": 1.0}})
	repo.seed(models.Entity{ID: "b-orphan", Kind: models.KindBlock, CourseID: "c1", ParentID: "a-orphan", SortOrder: 2})
	repo.seed(models.Entity{ID: "cmp1", Kind: models.KindComponent, CourseID: "c1", ParentID: "b1", SortOrder: 1, Data: map[string]any{"_component": "text"}})
}

func TestContentCloner_Clone(t *testing.T) {
	repo := newMemoryContentRepository()
	seedCourse(repo)
	cloner := newContentCloner(repo, zap.NewNop())
	ids := idmap.New()

	result, err := cloner.Clone(context.Background(), "c1", "u2", ids)

	require.NoError(t, err)
	require.NotNil(t, result)

	course := repo.get(models.KindCourse, result.CourseID)
	require.NotNil(t, course)
	assert.Equal(t, "Copy of Intro", course.Title())
	assert.Equal(t, false, course.Data["_hasPreview"])
	assert.NotContains(t, course.Data, "_trackingId")
	assert.Equal(t, "u2", course.CreatedBy)

	assert.Equal(t, []string{"a-orphan"}, result.Detached[models.KindArticle])
	assert.Equal(t, []string{"b-orphan"}, result.Detached[models.KindBlock])
	assert.Len(t, result.Entities[models.KindContentObject], 2)
	assert.Len(t, result.Entities[models.KindComponent], 1)

	block := result.Entities[models.KindBlock][0]
	assert.NotContains(t, block.Data, "_trackingId")

	// every created entity is linked to a parent inside the new course
	newIDs := map[string]bool{result.CourseID: true}
	for _, entities := range result.Entities {
		for _, e := range entities {
			newIDs[e.ID] = true
		}
	}
	for kind, entities := range result.Entities {
		for _, e := range entities {
			assert.Equal(t, result.CourseID, e.CourseID)
			assert.Equal(t, "u2", e.CreatedBy)
			if kind == models.KindCourse || kind == models.KindConfig {
				continue
			}
			assert.True(t, newIDs[e.ParentID], "%s %s has parent %s outside the duplicate", kind, e.ID, e.ParentID)
		}
	}

	_, ok := ids.Lookup("a-orphan")
	assert.False(t, ok)
}

func TestContentCloner_CloneFailures(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*memoryContentRepository)
		expectFatal bool
		notFound    bool
		validate    func(*testing.T, *CloneResult)
	}{
		{
			name:        "missing source course",
			setup:       func(repo *memoryContentRepository) { repo.entities = map[models.Kind]map[string]*models.Entity{} },
			expectFatal: true,
			notFound:    true,
		},
		{
			name: "course creation failure is fatal",
			setup: func(repo *memoryContentRepository) {
				repo.createErr = func(entity *models.Entity) error {
					if entity.Kind == models.KindCourse {
						return errDatabase
					}
					return nil
				}
			},
			expectFatal: true,
		},
		{
			name: "block creation failure skips the block and detaches its children",
			setup: func(repo *memoryContentRepository) {
				repo.createErr = func(entity *models.Entity) error {
					if entity.Kind == models.KindBlock {
						return errDatabase
					}
					return nil
				}
			},
			validate: func(t *testing.T, result *CloneResult) {
				assert.ElementsMatch(t, []string{"b1"}, result.Failed[models.KindBlock])
				assert.Equal(t, []string{"cmp1"}, result.Detached[models.KindComponent])
				assert.Empty(t, result.Entities[models.KindComponent])
			},
		},
		{
			name: "listing failure returns partial result",
			setup: func(repo *memoryContentRepository) {
				repo.listErr[models.KindArticle] = errDatabase
			},
			expectFatal: true,
			validate: func(t *testing.T, result *CloneResult) {
				require.NotNil(t, result)
				assert.NotEmpty(t, result.CourseID)
				assert.Len(t, result.Entities[models.KindContentObject], 2)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemoryContentRepository()
			seedCourse(repo)
			tt.setup(repo)
			cloner := newContentCloner(repo, zap.NewNop())

			result, err := cloner.Clone(context.Background(), "c1", "u2", idmap.New())

			if tt.expectFatal {
				assert.Error(t, err)
				assert.Equal(t, tt.notFound, errors.Is(err, apperr.ErrNotFound))
			} else {
				assert.NoError(t, err)
			}
			if tt.validate != nil {
				tt.validate(t, result)
			}
		})
	}
}
