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

// PaperRepository manages persistence for generated papers.
type PaperRepository struct {
	db *sqlx.DB
}

// NewPaperRepository constructs a PaperRepository.
func NewPaperRepository(db *sqlx.DB) *PaperRepository {
	return &PaperRepository{db: db}
}

const paperColumns = `p.id, p.subject, p.syllabus, p.chapter_from, p.chapter_to, p.language, p.class_name,
        p.no_of_question, p.author_id, p.file, p.url, p.questions, p.answers, p.child_id, p.topics,
        p.otp, p.is_explanation_generated, p.is_deleted, p.created_at, p.updated_at`

// Create inserts a new paper with its embedded question set.
func (r *PaperRepository) Create(ctx context.Context, paper *models.Paper) error {
	if paper.ID == "" {
		paper.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if paper.CreatedAt.IsZero() {
		paper.CreatedAt = now
	}
	paper.UpdatedAt = now

	const query = `INSERT INTO papers (id, subject, syllabus, chapter_from, chapter_to, language, class_name,
        no_of_question, author_id, file, url, questions, answers, child_id, topics, otp,
        is_explanation_generated, is_deleted, created_at, updated_at)
        VALUES (:id, :subject, :syllabus, :chapter_from, :chapter_to, :language, :class_name,
        :no_of_question, :author_id, :file, :url, :questions, :answers, :child_id, :topics, :otp,
        :is_explanation_generated, :is_deleted, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, paper); err != nil {
		return fmt.Errorf("create paper: %w", err)
	}
	return nil
}

// FindByID fetches a live paper with author and assigned child populated.
func (r *PaperRepository) FindByID(ctx context.Context, id string) (*models.PaperDetail, error) {
	query := fmt.Sprintf(`SELECT %s,
        u.name AS author_name, u.email AS author_email,
        c.name AS child_name, c.grade AS child_grade
        FROM papers p
        LEFT JOIN users u ON u.id = p.author_id
        LEFT JOIN children c ON c.id = p.child_id
        WHERE p.id = $1 AND p.is_deleted = FALSE LIMIT 1`, paperColumns)
	var detail models.PaperDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find paper by id: %w", err)
	}
	return &detail, nil
}

// List returns papers matching the provided filters with total count.
func (r *PaperRepository) List(ctx context.Context, filter models.PaperFilter) ([]models.PaperDetail, int, error) {
	baseQuery := `FROM papers p
        LEFT JOIN users u ON u.id = p.author_id
        LEFT JOIN children c ON c.id = p.child_id
        WHERE p.is_deleted = FALSE`
	var conditions []string
	var args []interface{}

	if filter.AuthorID != "" {
		conditions = append(conditions, fmt.Sprintf("p.author_id = $%d", len(args)+1))
		args = append(args, filter.AuthorID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(p.subject) LIKE $%d OR LOWER(p.class_name) LIKE $%d OR LOWER(p.syllabus) LIKE $%d OR LOWER(p.language) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"subject":    "p.subject",
		"class_name": "p.class_name",
		"created_at": "p.created_at",
		"updated_at": "p.updated_at",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "p.created_at"
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

	listQuery := fmt.Sprintf(`SELECT %s,
        u.name AS author_name, u.email AS author_email,
        c.name AS child_name, c.grade AS child_grade
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, paperColumns, baseQuery, column, sortOrder, pageSize, offset)

	var papers []models.PaperDetail
	if err := r.db.SelectContext(ctx, &papers, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list papers: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count papers: %w", err)
	}

	return papers, total, nil
}

// AssignChild binds a paper to a child and installs a fresh access code.
func (r *PaperRepository) AssignChild(ctx context.Context, paperID, childID string, otp int) error {
	const query = `UPDATE papers SET child_id = $2, otp = $3, updated_at = $4 WHERE id = $1 AND is_deleted = FALSE`
	result, err := r.db.ExecContext(ctx, query, paperID, childID, otp, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("assign paper: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("assign paper rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RotateOTP replaces the access code on an already assigned paper.
// Papers without an assigned child cannot carry a code.
func (r *PaperRepository) RotateOTP(ctx context.Context, paperID string, otp int) error {
	const query = `UPDATE papers SET otp = $2, updated_at = $3 WHERE id = $1 AND child_id IS NOT NULL AND is_deleted = FALSE`
	result, err := r.db.ExecContext(ctx, query, paperID, otp, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("rotate otp: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate otp rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ConsumeOTP atomically clears an access code matching both the code and
// the assigned child. The conditional update makes the code single use
// even under concurrent logins; sql.ErrNoRows signals a stale code, a
// wrong code or a wrong child, and a mismatch leaves the code intact.
func (r *PaperRepository) ConsumeOTP(ctx context.Context, paperID, childID string, otp int) error {
	const query = `UPDATE papers SET otp = NULL, updated_at = $4
        WHERE id = $1 AND otp = $2 AND child_id = $3 AND is_deleted = FALSE`
	result, err := r.db.ExecContext(ctx, query, paperID, otp, childID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume otp rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SubmitAnswers stores the submitted answer set, retires any outstanding
// access code and resets the explanation flag for regeneration.
func (r *PaperRepository) SubmitAnswers(ctx context.Context, paperID string, answers models.AnswerList) error {
	const query = `UPDATE papers SET answers = $2, otp = NULL, is_explanation_generated = FALSE, updated_at = $3
        WHERE id = $1 AND is_deleted = FALSE`
	result, err := r.db.ExecContext(ctx, query, paperID, answers, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("submit answers: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("submit answers rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Update writes curriculum metadata changes. Questions, answers and the
// OTP lifecycle have dedicated statements and are not touched here.
func (r *PaperRepository) Update(ctx context.Context, paper *models.Paper) error {
	paper.UpdatedAt = time.Now().UTC()
	const query = `UPDATE papers SET subject = :subject, syllabus = :syllabus, chapter_from = :chapter_from,
        chapter_to = :chapter_to, language = :language, class_name = :class_name, topics = :topics,
        updated_at = :updated_at
        WHERE id = :id AND is_deleted = FALSE`
	result, err := r.db.NamedExecContext(ctx, query, paper)
	if err != nil {
		return fmt.Errorf("update paper: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update paper rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetMaterial records the stored source material filename and URL.
func (r *PaperRepository) SetMaterial(ctx context.Context, paperID, file, url string) error {
	const query = `UPDATE papers SET file = $2, url = $3, updated_at = $4 WHERE id = $1 AND is_deleted = FALSE`
	result, err := r.db.ExecContext(ctx, query, paperID, file, url, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set material: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set material rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetExplanationGenerated flips the per-paper explanation completion flag.
func (r *PaperRepository) SetExplanationGenerated(ctx context.Context, paperID string, generated bool) error {
	const query = `UPDATE papers SET is_explanation_generated = $2, updated_at = $3 WHERE id = $1 AND is_deleted = FALSE`
	if _, err := r.db.ExecContext(ctx, query, paperID, generated, time.Now().UTC()); err != nil {
		return fmt.Errorf("set explanation flag: %w", err)
	}
	return nil
}

// Delete soft-deletes a paper.
func (r *PaperRepository) Delete(ctx context.Context, id string) error {
	const query = `UPDATE papers SET is_deleted = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("delete paper: %w", err)
	}
	return nil
}
