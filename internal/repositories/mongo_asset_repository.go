package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/adaptauthoring/backend/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoCourseAssetRepository implements course asset link operations on Mongo
type mongoCourseAssetRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoCourseAssetRepository creates a new Mongo-backed course asset repository
func NewMongoCourseAssetRepository(db *mongo.Database) *mongoCourseAssetRepository {
	return &mongoCourseAssetRepository{
		coll: db.Collection(collectionNames[models.KindCourseAsset]),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new course asset link and assigns its identifier
func (r *mongoCourseAssetRepository) Create(ctx context.Context, courseAsset *models.CourseAsset) error {
	created := *courseAsset
	created.ID = primitive.NewObjectID().Hex()
	created.CreatedAt = r.now()

	if _, err := r.coll.InsertOne(ctx, created); err != nil {
		return fmt.Errorf("failed to create course asset: %w", err)
	}

	courseAsset.ID = created.ID
	courseAsset.CreatedAt = created.CreatedAt
	return nil
}

// GetByCourse retrieves all course asset links of a course
func (r *mongoCourseAssetRepository) GetByCourse(ctx context.Context, courseID string) ([]models.CourseAsset, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := r.coll.Find(ctx, bson.M{"_courseId": courseID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query course assets: %w", err)
	}
	defer cursor.Close(ctx)

	var courseAssets []models.CourseAsset
	if err := cursor.All(ctx, &courseAssets); err != nil {
		return nil, fmt.Errorf("failed to decode course assets: %w", err)
	}

	return courseAssets, nil
}

// DeleteByCourse removes all course asset links of a course
func (r *mongoCourseAssetRepository) DeleteByCourse(ctx context.Context, courseID string) error {
	if _, err := r.coll.DeleteMany(ctx, bson.M{"_courseId": courseID}); err != nil {
		return fmt.Errorf("failed to delete course assets: %w", err)
	}
	return nil
}

// mongoAssetRepository implements asset record operations on Mongo
type mongoAssetRepository struct {
	assets       *mongo.Collection
	courseAssets *mongo.Collection
}

// NewMongoAssetRepository creates a new Mongo-backed asset repository
func NewMongoAssetRepository(db *mongo.Database) *mongoAssetRepository {
	return &mongoAssetRepository{
		assets:       db.Collection("assets"),
		courseAssets: db.Collection(collectionNames[models.KindCourseAsset]),
	}
}

// GetByCourse retrieves the distinct assets linked to a course through course asset records
func (r *mongoAssetRepository) GetByCourse(ctx context.Context, courseID string) ([]models.Asset, error) {
	assetIDs, err := r.courseAssets.Distinct(ctx, "_assetId", bson.M{"_courseId": courseID})
	if err != nil {
		return nil, fmt.Errorf("failed to query course asset ids: %w", err)
	}
	if len(assetIDs) == 0 {
		return nil, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "filename", Value: 1}})
	cursor, err := r.assets.Find(ctx, bson.M{"_id": bson.M{"$in": assetIDs}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer cursor.Close(ctx)

	var assets []models.Asset
	if err := cursor.All(ctx, &assets); err != nil {
		return nil, fmt.Errorf("failed to decode assets: %w", err)
	}

	return assets, nil
}
