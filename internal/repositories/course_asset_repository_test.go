package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/adaptauthoring/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupCourseAssetTestRepository creates a course asset repository with a mock database
func setupCourseAssetTestRepository(t *testing.T) (*courseAssetRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewCourseAssetRepository(db)
	repo.newID = func() string { return "ca-new" }
	repo.now = func() time.Time { return fixedNow }

	cleanup := func() {
		db.Close()
	}

	return repo, mock, cleanup
}

func TestCourseAssetRepository_Create(t *testing.T) {
	tests := []struct {
		name          string
		setupMock     func(sqlmock.Sqlmock)
		expectedError bool
	}{
		{
			name: "success",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO course_assets`).
					WithArgs("ca-new", "c2", models.KindComponent, "cmp2", "b2", "asset-1", "u1", fixedNow).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "database error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO course_assets`).
					WillReturnError(errors.New("database error"))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, cleanup := setupCourseAssetTestRepository(t)
			defer cleanup()

			tt.setupMock(mock)

			courseAsset := &models.CourseAsset{
				CourseID:            "c2",
				ContentType:         models.KindComponent,
				ContentTypeID:       "cmp2",
				ContentTypeParentID: "b2",
				AssetID:             "asset-1",
				CreatedBy:           "u1",
			}
			err := repo.Create(context.Background(), courseAsset)

			if tt.expectedError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "ca-new", courseAsset.ID)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCourseAssetRepository_GetByCourse(t *testing.T) {
	repo, mock, cleanup := setupCourseAssetTestRepository(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "course_id", "content_type", "content_type_id", "content_type_parent_id", "asset_id", "created_by", "created_at"}).
		AddRow("ca1", "c1", "component", "cmp1", "b1", "asset-1", "u1", fixedNow).
		AddRow("ca2", "c1", "course", "c1", "c1", "asset-2", "u1", fixedNow)
	mock.ExpectQuery(`FROM course_assets`).
		WithArgs("c1").
		WillReturnRows(rows)

	courseAssets, err := repo.GetByCourse(context.Background(), "c1")

	require.NoError(t, err)
	require.Len(t, courseAssets, 2)
	assert.Equal(t, models.KindComponent, courseAssets[0].ContentType)
	assert.Equal(t, "asset-2", courseAssets[1].AssetID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseAssetRepository_DeleteByCourse(t *testing.T) {
	repo, mock, cleanup := setupCourseAssetTestRepository(t)
	defer cleanup()

	mock.ExpectExec(`DELETE FROM course_assets WHERE course_id = \?`).
		WithArgs("c2").
		WillReturnResult(sqlmock.NewResult(0, 3))

	assert.NoError(t, repo.DeleteByCourse(context.Background(), "c2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssetRepository_GetByCourse(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewAssetRepository(db)
	rows := sqlmock.NewRows([]string{"id", "title", "filename", "repository", "path", "mime_type", "size", "created_by", "created_at"}).
		AddRow("asset-1", "Logo", "logo.png", "local", "ab/logo.png", "image/png", int64(2048), "u1", fixedNow)
	mock.ExpectQuery(`SELECT DISTINCT a.id`).
		WithArgs("c1").
		WillReturnRows(rows)

	assets, err := repo.GetByCourse(context.Background(), "c1")

	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "logo.png", assets[0].Filename)
	assert.Equal(t, int64(2048), assets[0].Size)
	assert.NoError(t, mock.ExpectationsWereMet())
}
