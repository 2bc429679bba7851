package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/adaptauthoring/backend/internal/apperr"
	"github.com/adaptauthoring/backend/internal/models"
	"github.com/adaptauthoring/backend/internal/plugins"
)

// memoryContentRepository is an in-memory implementation of ContentRepository
type memoryContentRepository struct {
	mu        sync.Mutex
	entities  map[models.Kind]map[string]*models.Entity
	seq       int
	createErr func(entity *models.Entity) error
	updateErr func(entity *models.Entity) error
	listErr   map[models.Kind]error
	deleted   map[models.Kind][]string
}

func newMemoryContentRepository() *memoryContentRepository {
	return &memoryContentRepository{
		entities: make(map[models.Kind]map[string]*models.Entity),
		listErr:  make(map[models.Kind]error),
		deleted:  make(map[models.Kind][]string),
	}
}

// seed stores an entity with a fixed identifier
func (r *memoryContentRepository) seed(entity models.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entities[entity.Kind] == nil {
		r.entities[entity.Kind] = make(map[string]*models.Entity)
	}
	if entity.Data == nil {
		entity.Data = make(map[string]any)
	}
	r.entities[entity.Kind][entity.ID] = entity.Clone()
}

func (r *memoryContentRepository) get(kind models.Kind, id string) *models.Entity {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.entities[kind][id]
}

func (r *memoryContentRepository) Create(ctx context.Context, entity *models.Entity) error {
	if r.createErr != nil {
		if err := r.createErr(entity); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	entity.ID = fmt.Sprintf("new-%d", r.seq)
	if entity.Kind == models.KindCourse {
		entity.CourseID = entity.ID
	}
	if r.entities[entity.Kind] == nil {
		r.entities[entity.Kind] = make(map[string]*models.Entity)
	}
	r.entities[entity.Kind][entity.ID] = entity.Clone()
	return nil
}

func (r *memoryContentRepository) GetByID(ctx context.Context, kind models.Kind, id string) (*models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entity, ok := r.entities[kind][id]
	if !ok {
		return nil, apperr.NotFound(string(kind), id)
	}
	return entity.Clone(), nil
}

func (r *memoryContentRepository) GetByCourse(ctx context.Context, kind models.Kind, courseID string) ([]models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.listErr[kind]; err != nil {
		return nil, err
	}

	var entities []models.Entity
	for _, entity := range r.entities[kind] {
		if entity.CourseID == courseID {
			entities = append(entities, *entity.Clone())
		}
	}
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].SortOrder != entities[j].SortOrder {
			return entities[i].SortOrder < entities[j].SortOrder
		}
		return entities[i].ID < entities[j].ID
	})
	return entities, nil
}

func (r *memoryContentRepository) Update(ctx context.Context, entity *models.Entity) error {
	if r.updateErr != nil {
		if err := r.updateErr(entity); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entities[entity.Kind][entity.ID]; !ok {
		return apperr.NotFound(string(entity.Kind), entity.ID)
	}
	r.entities[entity.Kind][entity.ID] = entity.Clone()
	return nil
}

func (r *memoryContentRepository) DeleteByIDs(ctx context.Context, kind models.Kind, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		delete(r.entities[kind], id)
	}
	r.deleted[kind] = append(r.deleted[kind], ids...)
	return nil
}

// memoryCourseAssetRepository is an in-memory implementation of CourseAssetRepository
type memoryCourseAssetRepository struct {
	links     []models.CourseAsset
	seq       int
	listErr   error
	createErr error
	deleted   []string
}

func (r *memoryCourseAssetRepository) Create(ctx context.Context, courseAsset *models.CourseAsset) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.seq++
	courseAsset.ID = fmt.Sprintf("ca-new-%d", r.seq)
	r.links = append(r.links, *courseAsset)
	return nil
}

func (r *memoryCourseAssetRepository) GetByCourse(ctx context.Context, courseID string) ([]models.CourseAsset, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var links []models.CourseAsset
	for _, link := range r.links {
		if link.CourseID == courseID {
			links = append(links, link)
		}
	}
	return links, nil
}

func (r *memoryCourseAssetRepository) DeleteByCourse(ctx context.Context, courseID string) error {
	r.deleted = append(r.deleted, courseID)
	kept := r.links[:0]
	for _, link := range r.links {
		if link.CourseID != courseID {
			kept = append(kept, link)
		}
	}
	r.links = kept
	return nil
}

// mockManifestReader is a mock implementation of ManifestReader
type mockManifestReader struct {
	deps map[string]map[string]string
	err  error
}

func (m *mockManifestReader) Dependencies(ctx context.Context, folder plugins.Folder, name string) (map[string]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	deps, ok := m.deps[name]
	if !ok {
		return nil, apperr.NotFound("plugin manifest", name)
	}
	return deps, nil
}

var errDatabase = errors.New("database error")
