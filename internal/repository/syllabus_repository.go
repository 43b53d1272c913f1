package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/exowa/exowa-api/internal/models"
)

// SyllabusRepository manages persistence for the syllabus catalog.
type SyllabusRepository struct {
	db *sqlx.DB
}

// NewSyllabusRepository constructs a SyllabusRepository.
func NewSyllabusRepository(db *sqlx.DB) *SyllabusRepository {
	return &SyllabusRepository{db: db}
}

// FindByID fetches a live syllabus by ID.
func (r *SyllabusRepository) FindByID(ctx context.Context, id string) (*models.Syllabus, error) {
	const query = `SELECT id, name, author_id, is_deleted, created_at, updated_at FROM syllabuses WHERE id = $1 AND is_deleted = FALSE LIMIT 1`
	var syllabus models.Syllabus
	if err := r.db.GetContext(ctx, &syllabus, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find syllabus by id: %w", err)
	}
	return &syllabus, nil
}

// ExistsByName checks whether the author already owns a live syllabus with
// the name.
func (r *SyllabusRepository) ExistsByName(ctx context.Context, authorID, name string) (bool, error) {
	const query = `SELECT 1 FROM syllabuses WHERE author_id = $1 AND LOWER(name) = LOWER($2) AND is_deleted = FALSE LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, authorID, name); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check syllabus name: %w", err)
	}
	return true, nil
}

// Create inserts a new syllabus.
func (r *SyllabusRepository) Create(ctx context.Context, syllabus *models.Syllabus) error {
	if syllabus.ID == "" {
		syllabus.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if syllabus.CreatedAt.IsZero() {
		syllabus.CreatedAt = now
	}
	syllabus.UpdatedAt = now

	const query = `INSERT INTO syllabuses (id, name, author_id, is_deleted, created_at, updated_at)
        VALUES (:id, :name, :author_id, :is_deleted, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, syllabus); err != nil {
		return fmt.Errorf("create syllabus: %w", err)
	}
	return nil
}

// Update renames a syllabus.
func (r *SyllabusRepository) Update(ctx context.Context, syllabus *models.Syllabus) error {
	syllabus.UpdatedAt = time.Now().UTC()
	const query = `UPDATE syllabuses SET name = :name, updated_at = :updated_at WHERE id = :id AND is_deleted = FALSE`
	if _, err := r.db.NamedExecContext(ctx, query, syllabus); err != nil {
		return fmt.Errorf("update syllabus: %w", err)
	}
	return nil
}

// List returns syllabuses matching the provided filters with total count.
func (r *SyllabusRepository) List(ctx context.Context, filter models.CatalogFilter) ([]models.Syllabus, int, error) {
	baseQuery := `FROM syllabuses WHERE is_deleted = FALSE`
	var conditions []string
	var args []interface{}

	if filter.AuthorID != "" {
		conditions = append(conditions, fmt.Sprintf("author_id = $%d", len(args)+1))
		args = append(args, filter.AuthorID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"name":       true,
		"created_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT id, name, author_id, is_deleted, created_at, updated_at %s ORDER BY %s %s LIMIT %d OFFSET %d", baseQuery, sortBy, sortOrder, pageSize, offset)

	var syllabuses []models.Syllabus
	if err := r.db.SelectContext(ctx, &syllabuses, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list syllabuses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count syllabuses: %w", err)
	}

	return syllabuses, total, nil
}

// Delete soft-deletes a syllabus.
func (r *SyllabusRepository) Delete(ctx context.Context, id string) error {
	const query = `UPDATE syllabuses SET is_deleted = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("delete syllabus: %w", err)
	}
	return nil
}
