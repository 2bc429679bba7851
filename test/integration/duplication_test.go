package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/adaptauthoring/backend/internal/bootstrap"
	"github.com/adaptauthoring/backend/internal/handlers"
	"github.com/adaptauthoring/backend/internal/models"
	"github.com/adaptauthoring/backend/internal/repositories"
	"github.com/adaptauthoring/backend/internal/services"
	"github.com/adaptauthoring/backend/libs/auth/middleware"
	"github.com/adaptauthoring/backend/libs/auth/service"
	"github.com/adaptauthoring/backend/libs/config"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	testDB     *sql.DB
	testRouter chi.Router
	testTokens *service.TokenGenerator
	testLogger *zap.Logger
)

func TestMain(m *testing.M) {
	// Initialize logger
	var err error
	testLogger, err = zap.NewDevelopment()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	// Setup test database
	cfg, err := config.LoadTestConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load test config: %v", err))
	}
	if cfg.Database.Host == "" {
		// Tests skip themselves when testDB is nil
		os.Exit(m.Run())
	}

	testDB, err = bootstrap.ConnectDB(cfg.DSN())
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to test database: %v", err))
	}

	setupTestSchema(testDB)

	testTokens = service.NewTokenGenerator("integration-secret", time.Hour)
	testRouter = setupTestRouter(testDB, testLogger)

	// Run tests
	code := m.Run()

	// Cleanup
	testDB.Close()
	os.Exit(code)
}

// setupTestSchema applies the up migrations in order
func setupTestSchema(db *sql.DB) {
	files, err := filepath.Glob("../../migrations/*.up.sql")
	if err != nil {
		panic(fmt.Sprintf("Failed to list migrations: %v", err))
	}
	sort.Strings(files)
	for _, file := range files {
		query, err := os.ReadFile(file)
		if err != nil {
			panic(fmt.Sprintf("Failed to read migration %s: %v", file, err))
		}
		if _, err := db.Exec(string(query)); err != nil {
			panic(fmt.Sprintf("Failed to apply migration %s: %v", file, err))
		}
	}
}

func setupTestRouter(db *sql.DB, logger *zap.Logger) chi.Router {
	content := repositories.NewContentRepository(db)
	courseAssets := repositories.NewCourseAssetRepository(db)
	duplicationService := services.NewCourseDuplicationService(content, courseAssets, logger)
	courseHandler := handlers.NewCourseHandler(duplicationService, nil, nil, nil, logger)

	authMiddleware := middleware.AuthMiddleware(testTokens)
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		courseHandler.RegisterRoutes(r, authMiddleware, middleware.RoleMiddleware(testTokens, service.RoleAuthor), middleware.APIKeyMiddleware(""))
	})
	return r
}

// cleanupTestData removes all content
func cleanupTestData(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, table := range []string{"course_assets", "assets", "content_entities"} {
		_, err := db.Exec("DELETE FROM " + table)
		require.NoError(t, err, "Failed to clear %s", table)
	}
}

type seededCourse struct {
	course    *models.Entity
	page      *models.Entity
	block     *models.Entity
	component *models.Entity
}

// seedCourse stores a course with one page, article, block and component, plus an asset link on the component
func seedCourse(t *testing.T, db *sql.DB) seededCourse {
	t.Helper()
	ctx := context.Background()
	content := repositories.NewContentRepository(db)
	courseAssets := repositories.NewCourseAssetRepository(db)

	create := func(entity *models.Entity) *models.Entity {
		require.NoError(t, content.Create(ctx, entity))
		return entity
	}

	course := create(&models.Entity{Kind: models.KindCourse, CreatedBy: "owner", Data: map[string]any{"title": "Safety basics"}})
	create(&models.Entity{Kind: models.KindConfig, CourseID: course.ID, ParentID: course.ID, Data: map[string]any{
		"_theme": "adapt-contrib-vanilla",
		"_menu":  "adapt-contrib-boxMenu",
	}})
	page := create(&models.Entity{Kind: models.KindContentObject, CourseID: course.ID, ParentID: course.ID, SortOrder: 1, Data: map[string]any{"_type": "page", "title": "Intro"}})
	article := create(&models.Entity{Kind: models.KindArticle, CourseID: course.ID, ParentID: page.ID, SortOrder: 1, Data: map[string]any{}})
	block := create(&models.Entity{Kind: models.KindBlock, CourseID: course.ID, ParentID: article.ID, SortOrder: 1, Data: map[string]any{}})
	component := create(&models.Entity{Kind: models.KindComponent, CourseID: course.ID, ParentID: block.ID, SortOrder: 1, Data: map[string]any{
		"_component": "graphic",
		"properties": map[string]any{"_graphic": map[string]any{"src": "course/en/assets/logo.png"}},
	}})

	course.Data["_start"] = map[string]any{"_startIds": []any{map[string]any{"_id": page.ID}}}
	require.NoError(t, content.Update(ctx, course))

	require.NoError(t, courseAssets.Create(ctx, &models.CourseAsset{
		CourseID:            course.ID,
		ContentType:         models.KindComponent,
		ContentTypeID:       component.ID,
		ContentTypeParentID: block.ID,
		AssetID:             "asset-1",
		CreatedBy:           "owner",
	}))

	return seededCourse{course: course, page: page, block: block, component: component}
}

func TestIntegration_DuplicateCourse(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	if testDB == nil {
		t.Skip("Skipping integration tests: test database is not configured")
	}
	cleanupTestData(t, testDB)
	defer cleanupTestData(t, testDB)

	source := seedCourse(t, testDB)
	token, err := testTokens.GenerateAccessToken("author-1", service.RoleAuthor)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/courses/"+source.course.ID+"/duplicate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	testRouter.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp handlers.DuplicateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Warnings)
	newCourseID := resp.Report.CourseID
	require.NotEmpty(t, newCourseID)
	assert.NotEqual(t, source.course.ID, newCourseID)

	ctx := context.Background()
	content := repositories.NewContentRepository(testDB)

	course, err := content.GetByID(ctx, models.KindCourse, newCourseID)
	require.NoError(t, err)
	assert.Equal(t, "author-1", course.CreatedBy)

	pages, err := content.GetByCourse(ctx, models.KindContentObject, newCourseID)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.NotEqual(t, source.page.ID, pages[0].ID)
	assert.Equal(t, newCourseID, pages[0].ParentID)

	startIDs, ok := models.SliceAt(course.Data, "_start", "_startIds")
	require.True(t, ok)
	require.Len(t, startIDs, 1)
	assert.Equal(t, pages[0].ID, startIDs[0].(map[string]any)["_id"])

	blocks, err := content.GetByCourse(ctx, models.KindBlock, newCourseID)
	require.NoError(t, err)
	components, err := content.GetByCourse(ctx, models.KindComponent, newCourseID)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Len(t, components, 1)
	assert.Equal(t, blocks[0].ID, components[0].ParentID)

	links, err := repositories.NewCourseAssetRepository(testDB).GetByCourse(ctx, newCourseID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, components[0].ID, links[0].ContentTypeID)
	assert.Equal(t, blocks[0].ID, links[0].ContentTypeParentID)
	assert.Equal(t, "asset-1", links[0].AssetID)
	assert.Equal(t, "author-1", links[0].CreatedBy)

	sourcePages, err := content.GetByCourse(ctx, models.KindContentObject, source.course.ID)
	require.NoError(t, err)
	assert.Len(t, sourcePages, 1, "source course must be left untouched")
}

func TestIntegration_DuplicateCourse_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	if testDB == nil {
		t.Skip("Skipping integration tests: test database is not configured")
	}
	cleanupTestData(t, testDB)

	token, err := testTokens.GenerateAccessToken("author-1", service.RoleAuthor)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/courses/missing/duplicate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	testRouter.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIntegration_DuplicateCourse_RequiresAuthor(t *testing.T) {
	if testDB == nil {
		t.Skip("Skipping integration tests: test database is not configured")
	}

	token, err := testTokens.GenerateAccessToken("viewer-1", service.RoleViewer)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/courses/any/duplicate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	testRouter.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}
