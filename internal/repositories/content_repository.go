package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adaptauthoring/backend/internal/apperr"
	"github.com/adaptauthoring/backend/internal/models"
	"github.com/oklog/ulid/v2"
)

// contentRepository implements content entity operations on the content_entities table
type contentRepository struct {
	db    *sql.DB
	newID func() string
	now   func() time.Time
}

// NewContentRepository creates a new content repository
func NewContentRepository(db *sql.DB) *contentRepository {
	return &contentRepository{
		db:    db,
		newID: newULID,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func newULID() string {
	return strings.ToLower(ulid.Make().String())
}

// Create inserts a new entity and assigns its identifier.
// A course entity becomes its own course.
func (r *contentRepository) Create(ctx context.Context, entity *models.Entity) error {
	id := r.newID()
	courseID := entity.CourseID
	if entity.Kind == models.KindCourse {
		courseID = id
	}

	data, err := encodeData(entity.Data)
	if err != nil {
		return fmt.Errorf("failed to encode %s data: %w", entity.Kind, err)
	}

	now := r.now()
	query := `
		INSERT INTO content_entities (id, kind, course_id, parent_id, sort_order, data, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		id,
		entity.Kind,
		courseID,
		nullString(entity.ParentID),
		entity.SortOrder,
		data,
		entity.CreatedBy,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", entity.Kind, err)
	}

	entity.ID = id
	entity.CourseID = courseID
	entity.CreatedAt = now
	entity.UpdatedAt = now
	return nil
}

// GetByID retrieves an entity of the given kind by its identifier
func (r *contentRepository) GetByID(ctx context.Context, kind models.Kind, id string) (*models.Entity, error) {
	query := `
		SELECT id, kind, course_id, parent_id, sort_order, data, created_by, created_at, updated_at
		FROM content_entities
		WHERE id = ? AND kind = ?
		LIMIT 1
	`

	entity, err := scanEntity(r.db.QueryRowContext(ctx, query, id, kind))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound(string(kind), id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s by id: %w", kind, err)
	}

	return entity, nil
}

// GetByCourse retrieves all entities of a kind that belong to a course, ordered by sort order
func (r *contentRepository) GetByCourse(ctx context.Context, kind models.Kind, courseID string) ([]models.Entity, error) {
	query := `
		SELECT id, kind, course_id, parent_id, sort_order, data, created_by, created_at, updated_at
		FROM content_entities
		WHERE course_id = ? AND kind = ?
		ORDER BY sort_order, created_at
	`

	rows, err := r.db.QueryContext(ctx, query, courseID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s entities: %w", kind, err)
	}
	defer rows.Close()

	var entities []models.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		entities = append(entities, *entity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s entities: %w", kind, err)
	}

	return entities, nil
}

// Update stores the parent, sort order and payload of an existing entity
func (r *contentRepository) Update(ctx context.Context, entity *models.Entity) error {
	data, err := encodeData(entity.Data)
	if err != nil {
		return fmt.Errorf("failed to encode %s data: %w", entity.Kind, err)
	}

	now := r.now()
	query := `
		UPDATE content_entities
		SET parent_id = ?, sort_order = ?, data = ?, updated_at = ?
		WHERE id = ? AND kind = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		nullString(entity.ParentID),
		entity.SortOrder,
		data,
		now,
		entity.ID,
		entity.Kind,
	)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity.Kind, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperr.NotFound(string(entity.Kind), entity.ID)
	}

	entity.UpdatedAt = now
	return nil
}

// DeleteByIDs removes entities of a kind by identifier
func (r *contentRepository) DeleteByIDs(ctx context.Context, kind models.Kind, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	query := fmt.Sprintf(`DELETE FROM content_entities WHERE kind = ? AND id IN (%s)`, placeholders)

	args := make([]any, 0, len(ids)+1)
	args = append(args, kind)
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete %s entities: %w", kind, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	entity := &models.Entity{}
	var parentID sql.NullString
	var data []byte

	err := row.Scan(
		&entity.ID,
		&entity.Kind,
		&entity.CourseID,
		&parentID,
		&entity.SortOrder,
		&data,
		&entity.CreatedBy,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entity.ParentID = parentID.String
	entity.Data = make(map[string]any)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entity.Data); err != nil {
			return nil, fmt.Errorf("failed to decode data of %s %s: %w", entity.Kind, entity.ID, err)
		}
	}

	return entity, nil
}

func encodeData(data map[string]any) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	payload := models.CopyMap(data)
	models.StripReserved(payload)
	return json.Marshal(payload)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
