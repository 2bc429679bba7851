package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adaptauthoring/backend/internal/apperr"
	"github.com/adaptauthoring/backend/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// collectionNames maps each entity kind to its Mongo collection
var collectionNames = map[models.Kind]string{
	models.KindCourse:        "courses",
	models.KindConfig:        "configs",
	models.KindContentObject: "contentobjects",
	models.KindArticle:       "articles",
	models.KindBlock:         "blocks",
	models.KindComponent:     "components",
	models.KindCourseAsset:   "courseassets",
}

// mongoContentRepository implements content entity operations on a Mongo database,
// one collection per kind
type mongoContentRepository struct {
	db  *mongo.Database
	now func() time.Time
}

// NewMongoContentRepository creates a new Mongo-backed content repository
func NewMongoContentRepository(db *mongo.Database) *mongoContentRepository {
	return &mongoContentRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *mongoContentRepository) collection(kind models.Kind) (*mongo.Collection, error) {
	name, ok := collectionNames[kind]
	if !ok || kind == models.KindCourseAsset {
		return nil, fmt.Errorf("unknown content kind %q", kind)
	}
	return r.db.Collection(name), nil
}

// Create inserts a new entity and assigns its identifier
func (r *mongoContentRepository) Create(ctx context.Context, entity *models.Entity) error {
	coll, err := r.collection(entity.Kind)
	if err != nil {
		return err
	}

	created := entity.Clone()
	created.ID = primitive.NewObjectID().Hex()
	if created.Kind == models.KindCourse {
		created.CourseID = created.ID
	}
	created.CreatedAt = r.now()
	created.UpdatedAt = created.CreatedAt

	if _, err := coll.InsertOne(ctx, entityToDocument(created)); err != nil {
		return fmt.Errorf("failed to create %s: %w", entity.Kind, err)
	}

	entity.ID = created.ID
	entity.CourseID = created.CourseID
	entity.CreatedAt = created.CreatedAt
	entity.UpdatedAt = created.UpdatedAt
	return nil
}

// GetByID retrieves an entity of the given kind by its identifier
func (r *mongoContentRepository) GetByID(ctx context.Context, kind models.Kind, id string) (*models.Entity, error) {
	coll, err := r.collection(kind)
	if err != nil {
		return nil, err
	}

	raw, err := coll.FindOne(ctx, bson.M{"_id": id}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound(string(kind), id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s by id: %w", kind, err)
	}

	return documentToEntity(kind, raw)
}

// GetByCourse retrieves all entities of a kind that belong to a course, ordered by sort order
func (r *mongoContentRepository) GetByCourse(ctx context.Context, kind models.Kind, courseID string) ([]models.Entity, error) {
	coll, err := r.collection(kind)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "_sortOrder", Value: 1}, {Key: "createdAt", Value: 1}})
	cursor, err := coll.Find(ctx, bson.M{"_courseId": courseID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s entities: %w", kind, err)
	}
	defer cursor.Close(ctx)

	var entities []models.Entity
	for cursor.Next(ctx) {
		entity, err := documentToEntity(kind, cursor.Current)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *entity)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s entities: %w", kind, err)
	}

	return entities, nil
}

// Update replaces the stored document of an existing entity
func (r *mongoContentRepository) Update(ctx context.Context, entity *models.Entity) error {
	coll, err := r.collection(entity.Kind)
	if err != nil {
		return err
	}

	updated := entity.Clone()
	updated.UpdatedAt = r.now()

	result, err := coll.ReplaceOne(ctx, bson.M{"_id": entity.ID}, entityToDocument(updated))
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity.Kind, err)
	}
	if result.MatchedCount == 0 {
		return apperr.NotFound(string(entity.Kind), entity.ID)
	}

	entity.UpdatedAt = updated.UpdatedAt
	return nil
}

// DeleteByIDs removes entities of a kind by identifier
func (r *mongoContentRepository) DeleteByIDs(ctx context.Context, kind models.Kind, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	coll, err := r.collection(kind)
	if err != nil {
		return err
	}

	if _, err := coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("failed to delete %s entities: %w", kind, err)
	}

	return nil
}

// entityMeta holds the reserved attributes of a stored entity document
type entityMeta struct {
	ID        string    `bson:"_id"`
	CourseID  string    `bson:"_courseId"`
	ParentID  string    `bson:"_parentId,omitempty"`
	SortOrder int       `bson:"_sortOrder"`
	CreatedBy string    `bson:"createdBy"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// entityToDocument merges the payload with the reserved attributes into one document
func entityToDocument(entity *models.Entity) bson.M {
	doc := bson.M{}
	for k, v := range entity.Data {
		doc[k] = v
	}
	doc["_id"] = entity.ID
	doc["_courseId"] = entity.CourseID
	if entity.ParentID != "" {
		doc["_parentId"] = entity.ParentID
	} else {
		delete(doc, "_parentId")
	}
	doc["_sortOrder"] = entity.SortOrder
	doc["createdBy"] = entity.CreatedBy
	doc["createdAt"] = entity.CreatedAt
	doc["updatedAt"] = entity.UpdatedAt
	return doc
}

// documentToEntity splits a stored document into reserved attributes and payload.
// The payload goes through relaxed extended JSON so it has the same shape as MySQL-backed entities.
func documentToEntity(kind models.Kind, raw bson.Raw) (*models.Entity, error) {
	var meta entityMeta
	if err := bson.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode %s document: %w", kind, err)
	}

	ext, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s %s: %w", kind, meta.ID, err)
	}

	data := make(map[string]any)
	if err := json.Unmarshal(ext, &data); err != nil {
		return nil, fmt.Errorf("failed to decode data of %s %s: %w", kind, meta.ID, err)
	}
	models.StripReserved(data)

	return &models.Entity{
		ID:        meta.ID,
		Kind:      kind,
		CourseID:  meta.CourseID,
		ParentID:  meta.ParentID,
		SortOrder: meta.SortOrder,
		CreatedBy: meta.CreatedBy,
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
		Data:      data,
	}, nil
}
