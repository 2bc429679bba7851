package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/adaptauthoring/backend/internal/idmap"
	"github.com/adaptauthoring/backend/internal/models"
	"go.uber.org/zap"
)

// copyTitlePrefix is prepended to the title of a duplicated course
const copyTitlePrefix = "Copy of "

// cloneOrder lists the collections copied after the course, parents before children
var cloneOrder = []models.Kind{
	models.KindConfig,
	models.KindContentObject,
	models.KindArticle,
	models.KindBlock,
	models.KindComponent,
}

// strippedKeys are payload keys that must not survive into a copy
var strippedKeys = []string{"_id", "_trackingId", "createdAt", "createdBy", "updatedAt", "_courseId", "_parentId"}

// CloneResult holds the entities created for a duplicate course
type CloneResult struct {
	SourceCourseID string
	CourseID       string
	Entities       map[models.Kind][]*models.Entity
	// Detached lists source ids skipped because their parent was not cloned
	Detached map[models.Kind][]string
	// Failed lists source ids whose creation failed in the store
	Failed map[models.Kind][]string
}

func newCloneResult(sourceCourseID string) *CloneResult {
	return &CloneResult{
		SourceCourseID: sourceCourseID,
		Entities:       make(map[models.Kind][]*models.Entity),
		Detached:       make(map[models.Kind][]string),
		Failed:         make(map[models.Kind][]string),
	}
}

// contentCloner copies a course content tree collection by collection
type contentCloner struct {
	repo   ContentRepository
	logger *zap.Logger
}

func newContentCloner(repo ContentRepository, logger *zap.Logger) *contentCloner {
	return &contentCloner{
		repo:   repo,
		logger: logger,
	}
}

// Clone copies the course and every entity reachable from it, registering each
// old -> new identifier pair in ids.
// A failure to create the course is fatal; a failure on any other entity is logged and skipped.
// When an error is returned after the course copy exists, the partial result is returned too.
func (c *contentCloner) Clone(ctx context.Context, sourceCourseID, userID string, ids *idmap.Map) (*CloneResult, error) {
	source, err := c.repo.GetByID(ctx, models.KindCourse, sourceCourseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}

	course := cloneCourse(source, userID)
	if err := c.repo.Create(ctx, course); err != nil {
		c.logger.Error("failed to create course copy", zap.Error(err), zap.String("course_id", sourceCourseID))
		return nil, fmt.Errorf("failed to create course copy: %w", err)
	}
	result := newCloneResult(sourceCourseID)
	result.CourseID = course.ID
	result.Entities[models.KindCourse] = []*models.Entity{course}

	if err := ids.Set(models.KindCourse, source.ID, course.ID); err != nil {
		return result, err
	}

	for _, kind := range cloneOrder {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		entities, err := c.repo.GetByCourse(ctx, kind, sourceCourseID)
		if err != nil {
			return result, fmt.Errorf("failed to get %s entities: %w", kind, err)
		}
		if kind == models.KindContentObject {
			entities = sortByCreationOrder(entities)
		}

		for i := range entities {
			c.cloneEntity(ctx, &entities[i], course.ID, userID, ids, result)
		}
	}

	return result, nil
}

func (c *contentCloner) cloneEntity(ctx context.Context, source *models.Entity, courseID, userID string, ids *idmap.Map, result *CloneResult) {
	entity := &models.Entity{
		Kind:      source.Kind,
		CourseID:  courseID,
		SortOrder: source.SortOrder,
		CreatedBy: userID,
		Data:      stripCopy(source.Data),
	}

	if source.ParentID != "" {
		parentID, ok := ids.Lookup(source.ParentID)
		if !ok {
			c.logger.Warn("skipping entity with unmapped parent",
				zap.String("kind", string(source.Kind)),
				zap.String("id", source.ID),
				zap.String("parent_id", source.ParentID),
			)
			result.Detached[source.Kind] = append(result.Detached[source.Kind], source.ID)
			return
		}
		entity.ParentID = parentID
	}

	if err := c.repo.Create(ctx, entity); err != nil {
		c.logger.Error("failed to create entity copy",
			zap.Error(err),
			zap.String("kind", string(source.Kind)),
			zap.String("id", source.ID),
		)
		result.Failed[source.Kind] = append(result.Failed[source.Kind], source.ID)
		return
	}

	if err := ids.Set(source.Kind, source.ID, entity.ID); err != nil {
		c.logger.Error("failed to register entity copy", zap.Error(err), zap.String("id", source.ID))
		result.Failed[source.Kind] = append(result.Failed[source.Kind], source.ID)
		return
	}

	result.Entities[source.Kind] = append(result.Entities[source.Kind], entity)
}

func cloneCourse(source *models.Entity, userID string) *models.Entity {
	data := stripCopy(source.Data)
	data["title"] = copyTitlePrefix + source.Title()
	data["_hasPreview"] = false

	return &models.Entity{
		Kind:      models.KindCourse,
		SortOrder: source.SortOrder,
		CreatedBy: userID,
		Data:      data,
	}
}

func stripCopy(data map[string]any) map[string]any {
	copied := models.CopyMap(data)
	if copied == nil {
		copied = make(map[string]any)
	}
	for _, key := range strippedKeys {
		delete(copied, key)
	}
	return copied
}

// creationOrder numbers content objects by a pre-order walk of their parent forest.
// Roots are entities whose parent is not in the batch. Siblings are visited by sort order.
// Entities unreachable from any root (parent cycles) are numbered after all reachable ones.
func creationOrder(entities []models.Entity) map[string]int {
	inBatch := make(map[string]bool, len(entities))
	for _, e := range entities {
		inBatch[e.ID] = true
	}

	children := make(map[string][]int)
	var roots []int
	for i, e := range entities {
		if e.ParentID == "" || e.ParentID == e.ID || !inBatch[e.ParentID] {
			roots = append(roots, i)
			continue
		}
		children[e.ParentID] = append(children[e.ParentID], i)
	}

	bySortOrder := func(idx []int) {
		sort.SliceStable(idx, func(a, b int) bool {
			return entities[idx[a]].SortOrder < entities[idx[b]].SortOrder
		})
	}

	order := make(map[string]int, len(entities))
	counter := 0

	var visit func(i int)
	visit = func(i int) {
		id := entities[i].ID
		if _, seen := order[id]; seen {
			return
		}
		counter++
		order[id] = counter

		kids := children[id]
		bySortOrder(kids)
		for _, k := range kids {
			visit(k)
		}
	}

	bySortOrder(roots)
	for _, r := range roots {
		visit(r)
	}

	for _, e := range entities {
		if _, seen := order[e.ID]; !seen {
			counter++
			order[e.ID] = counter
		}
	}

	return order
}

// sortByCreationOrder returns the entities sorted so that every parent precedes its children
func sortByCreationOrder(entities []models.Entity) []models.Entity {
	order := creationOrder(entities)
	sorted := append([]models.Entity(nil), entities...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return order[sorted[i].ID] < order[sorted[j].ID]
	})
	return sorted
}
