package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/exowa/exowa-api/internal/models"
)

// ExplanationRepository manages persistence for generated explanations.
// The (paper_id, question_number) unique constraint is the cross-process
// dedup authority; inserts never clobber an existing winner.
type ExplanationRepository struct {
	db *sqlx.DB
}

// NewExplanationRepository constructs an ExplanationRepository.
func NewExplanationRepository(db *sqlx.DB) *ExplanationRepository {
	return &ExplanationRepository{db: db}
}

const explanationColumns = `id, paper_id, question_number, explanation, "references", generated_at, is_deleted`

// Insert stores an explanation unless one already exists for the pair.
// Returns true when this call won the insert, false when another writer
// got there first.
func (r *ExplanationRepository) Insert(ctx context.Context, exp *models.Explanation) (bool, error) {
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	if exp.GeneratedAt.IsZero() {
		exp.GeneratedAt = time.Now().UTC()
	}

	const query = `INSERT INTO explanations (id, paper_id, question_number, explanation, "references", generated_at, is_deleted)
        VALUES (:id, :paper_id, :question_number, :explanation, :references, :generated_at, :is_deleted)
        ON CONFLICT (paper_id, question_number) DO NOTHING`
	result, err := r.db.NamedExecContext(ctx, query, exp)
	if err != nil {
		return false, fmt.Errorf("insert explanation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert explanation rows: %w", err)
	}
	return affected > 0, nil
}

// Find fetches the explanation for one (paper, question number) pair.
func (r *ExplanationRepository) Find(ctx context.Context, paperID string, questionNumber int) (*models.Explanation, error) {
	query := fmt.Sprintf(`SELECT %s FROM explanations WHERE paper_id = $1 AND question_number = $2 AND is_deleted = FALSE LIMIT 1`, explanationColumns)
	var exp models.Explanation
	if err := r.db.GetContext(ctx, &exp, query, paperID, questionNumber); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find explanation: %w", err)
	}
	return &exp, nil
}

// ListByPaper returns all live explanations for a paper in question order.
func (r *ExplanationRepository) ListByPaper(ctx context.Context, paperID string) ([]models.Explanation, error) {
	query := fmt.Sprintf(`SELECT %s FROM explanations WHERE paper_id = $1 AND is_deleted = FALSE ORDER BY question_number ASC`, explanationColumns)
	var exps []models.Explanation
	if err := r.db.SelectContext(ctx, &exps, query, paperID); err != nil {
		return nil, fmt.Errorf("list explanations: %w", err)
	}
	return exps, nil
}

// CountByPaper counts live explanations stored for a paper.
func (r *ExplanationRepository) CountByPaper(ctx context.Context, paperID string) (int, error) {
	const query = `SELECT COUNT(*) FROM explanations WHERE paper_id = $1 AND is_deleted = FALSE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, paperID); err != nil {
		return 0, fmt.Errorf("count explanations: %w", err)
	}
	return count, nil
}

// DeleteByPaper soft-deletes every explanation attached to a paper.
func (r *ExplanationRepository) DeleteByPaper(ctx context.Context, paperID string) error {
	const query = `UPDATE explanations SET is_deleted = TRUE WHERE paper_id = $1`
	if _, err := r.db.ExecContext(ctx, query, paperID); err != nil {
		return fmt.Errorf("delete explanations: %w", err)
	}
	return nil
}
