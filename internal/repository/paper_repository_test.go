package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exowa/exowa-api/internal/models"
)

func newPaperMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPaperRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newPaperMock(t)
	defer cleanup()
	repo := NewPaperRepository(db)

	mock.ExpectExec("INSERT INTO papers").
		WillReturnResult(sqlmock.NewResult(1, 1))

	paper := &models.Paper{
		Subject:      "Math",
		Syllabus:     "CBSE",
		ChapterFrom:  "1",
		ChapterTo:    "3",
		Language:     "English",
		ClassName:    "5",
		NoOfQuestion: 10,
		AuthorID:     "author-1",
		Questions:    models.QuestionList{{QuestionNumber: 1, Question: "2+2?", Choices: map[string]string{"A": "4"}, CorrectAnswer: "A"}},
	}
	err := repo.Create(context.Background(), paper)
	require.NoError(t, err)
	assert.NotEmpty(t, paper.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaperRepositoryConsumeOTP(t *testing.T) {
	db, mock, cleanup := newPaperMock(t)
	defer cleanup()
	repo := NewPaperRepository(db)

	mock.ExpectExec("UPDATE papers SET otp = NULL").
		WithArgs("paper-1", 45231, "child-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ConsumeOTP(context.Background(), "paper-1", "child-1", 45231)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaperRepositoryConsumeOTPStale(t *testing.T) {
	db, mock, cleanup := newPaperMock(t)
	defer cleanup()
	repo := NewPaperRepository(db)

	// A second login with the same code matches no row.
	mock.ExpectExec("UPDATE papers SET otp = NULL").
		WithArgs("paper-1", 45231, "child-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ConsumeOTP(context.Background(), "paper-1", "child-1", 45231)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaperRepositoryConsumeOTPWrongChild(t *testing.T) {
	db, mock, cleanup := newPaperMock(t)
	defer cleanup()
	repo := NewPaperRepository(db)

	// The code belongs to a different child, so the update matches no row
	// and the code is not cleared.
	mock.ExpectExec("UPDATE papers SET otp = NULL").
		WithArgs("paper-1", 45231, "child-9", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ConsumeOTP(context.Background(), "paper-1", "child-9", 45231)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaperRepositoryAssignChild(t *testing.T) {
	db, mock, cleanup := newPaperMock(t)
	defer cleanup()
	repo := NewPaperRepository(db)

	mock.ExpectExec("UPDATE papers SET child_id").
		WithArgs("paper-1", "child-1", 12345, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.AssignChild(context.Background(), "paper-1", "child-1", 12345)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaperRepositoryAssignChildMissing(t *testing.T) {
	db, mock, cleanup := newPaperMock(t)
	defer cleanup()
	repo := NewPaperRepository(db)

	mock.ExpectExec("UPDATE papers SET child_id").
		WithArgs("paper-x", "child-1", 12345, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AssignChild(context.Background(), "paper-x", "child-1", 12345)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaperRepositoryRotateOTPUnassigned(t *testing.T) {
	db, mock, cleanup := newPaperMock(t)
	defer cleanup()
	repo := NewPaperRepository(db)

	mock.ExpectExec("UPDATE papers SET otp").
		WithArgs("paper-1", 54321, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RotateOTP(context.Background(), "paper-1", 54321)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaperRepositorySubmitAnswers(t *testing.T) {
	db, mock, cleanup := newPaperMock(t)
	defer cleanup()
	repo := NewPaperRepository(db)

	answers := models.AnswerList{{QuestionNumber: 1, Option: "A"}, {QuestionNumber: 2, Option: "C"}}
	mock.ExpectExec("UPDATE papers SET answers").
		WithArgs("paper-1", answers, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SubmitAnswers(context.Background(), "paper-1", answers)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaperRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newPaperMock(t)
	defer cleanup()
	repo := NewPaperRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "subject", "syllabus", "chapter_from", "chapter_to", "language", "class_name",
		"no_of_question", "author_id", "file", "url", "questions", "answers", "child_id", "topics",
		"otp", "is_explanation_generated", "is_deleted", "created_at", "updated_at",
		"author_name", "author_email", "child_name", "child_grade",
	}).AddRow(
		"paper-1", "Math", "CBSE", "1", "3", "English", "5",
		10, "author-1", nil, nil, []byte(`[{"questionNumber":1,"question":"2+2?","choices":{"A":"4","B":"5"},"correctAnswer":"A"}]`), []byte(`[]`), nil, "{}",
		nil, false, false, now, now,
		"Parent", "parent@example.com", nil, nil,
	)
	mock.ExpectQuery("SELECT (.+) FROM papers p").
		WithArgs("paper-1").
		WillReturnRows(rows)

	detail, err := repo.FindByID(context.Background(), "paper-1")
	require.NoError(t, err)
	assert.Equal(t, "Math", detail.Subject)
	require.Len(t, detail.Questions, 1)
	assert.Equal(t, "A", detail.Questions[0].CorrectAnswer)
	assert.NoError(t, mock.ExpectationsWereMet())
}
