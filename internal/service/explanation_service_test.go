package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exowa/exowa-api/internal/models"
	appErrors "github.com/exowa/exowa-api/pkg/errors"
)

type mockExplanationRepo struct {
	mu      sync.Mutex
	stored  map[string]models.Explanation
	inserts int
}

func explKey(paperID string, number int) string {
	return fmt.Sprintf("%s:%d", paperID, number)
}

func (m *mockExplanationRepo) Insert(ctx context.Context, exp *models.Explanation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored == nil {
		m.stored = make(map[string]models.Explanation)
	}
	m.inserts++
	key := explKey(exp.PaperID, exp.QuestionNumber)
	if _, ok := m.stored[key]; ok {
		return false, nil
	}
	if exp.ID == "" {
		exp.ID = key
	}
	m.stored[key] = *exp
	return true, nil
}

func (m *mockExplanationRepo) Find(ctx context.Context, paperID string, questionNumber int) (*models.Explanation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.stored[explKey(paperID, questionNumber)]; ok {
		return &exp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockExplanationRepo) ListByPaper(ctx context.Context, paperID string) ([]models.Explanation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Explanation
	for _, exp := range m.stored {
		if exp.PaperID == paperID {
			out = append(out, exp)
		}
	}
	return out, nil
}

func (m *mockExplanationRepo) CountByPaper(ctx context.Context, paperID string) (int, error) {
	exps, _ := m.ListByPaper(ctx, paperID)
	return len(exps), nil
}

type mockExplanationPapers struct {
	papers map[string]models.PaperDetail
	marked map[string]bool
}

func (m *mockExplanationPapers) FindByID(ctx context.Context, id string) (*models.PaperDetail, error) {
	if p, ok := m.papers[id]; ok {
		return &p, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockExplanationPapers) SetExplanationGenerated(ctx context.Context, paperID string, generated bool) error {
	if m.marked == nil {
		m.marked = make(map[string]bool)
	}
	m.marked[paperID] = generated
	return nil
}

type mockPaperAccess struct {
	papers *mockExplanationPapers
}

func (m *mockPaperAccess) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.PaperDetail, error) {
	detail, err := m.papers.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "paper not found")
	}
	return detail, nil
}

type mockExplanationGen struct {
	mu      sync.Mutex
	calls   int
	failFor map[int]error
}

func (m *mockExplanationGen) Generate(ctx context.Context, paper *models.Paper, questionNumber int) (*models.Explanation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err, ok := m.failFor[questionNumber]; ok {
		return nil, err
	}
	return &models.Explanation{
		PaperID:        paper.ID,
		QuestionNumber: questionNumber,
		Explanation:    fmt.Sprintf("rationale for %d", questionNumber),
		References:     models.ExplanationReferences{Videos: []string{}, Articles: []string{}, Books: []string{}},
	}, nil
}

func newExplanationFixture(questions int) (*ExplanationService, *mockExplanationRepo, *mockExplanationPapers, *mockExplanationGen) {
	papers := &mockExplanationPapers{papers: map[string]models.PaperDetail{
		"p1": {Paper: models.Paper{ID: "p1", AuthorID: "u1", Questions: sampleQuestions(questions)}},
	}}
	repo := &mockExplanationRepo{}
	gen := &mockExplanationGen{}
	svc := NewExplanationService(repo, papers, &mockPaperAccess{papers: papers}, gen, nil, ExplanationWorkerConfig{}, nil)
	return svc, repo, papers, gen
}

func TestExplanationServiceGetGeneratesOnMiss(t *testing.T) {
	svc, repo, _, gen := newExplanationFixture(2)

	exp, err := svc.Get(context.Background(), parentClaims("u1"), "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, "rationale for 1", exp.Explanation)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, 1, repo.inserts)

	// Second request is served from the store without regenerating.
	again, err := svc.Get(context.Background(), parentClaims("u1"), "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, exp.Explanation, again.Explanation)
	assert.Equal(t, 1, gen.calls)
}

func TestExplanationServiceGetUnknownQuestion(t *testing.T) {
	svc, _, _, _ := newExplanationFixture(2)

	_, err := svc.Get(context.Background(), parentClaims("u1"), "p1", 9)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestExplanationServiceGetWholePaper(t *testing.T) {
	svc, _, _, _ := newExplanationFixture(2)

	exp, err := svc.Get(context.Background(), parentClaims("u1"), "p1", models.WholePaperNumber)
	require.NoError(t, err)
	assert.Equal(t, models.WholePaperNumber, exp.QuestionNumber)
}

func TestExplanationServiceInsertRaceReturnsWinner(t *testing.T) {
	svc, repo, _, _ := newExplanationFixture(2)

	// Another writer already stored the pair.
	_, err := repo.Insert(context.Background(), &models.Explanation{
		PaperID:        "p1",
		QuestionNumber: 2,
		Explanation:    "winner",
	})
	require.NoError(t, err)

	paper := &models.Paper{ID: "p1", Questions: sampleQuestions(2)}
	exp, err := svc.generateAndStore(context.Background(), paper, 2)
	require.NoError(t, err)
	assert.Equal(t, "winner", exp.Explanation)
}

func TestExplanationServiceProcessBatch(t *testing.T) {
	svc, repo, papers, gen := newExplanationFixture(3)

	err := svc.ProcessBatch(context.Background(), "p1")
	require.NoError(t, err)

	// Three questions plus the whole-paper summary.
	assert.Equal(t, 4, gen.calls)
	count, _ := repo.CountByPaper(context.Background(), "p1")
	assert.Equal(t, 4, count)
	assert.True(t, papers.marked["p1"])
}

func TestExplanationServiceProcessBatchSkipsFailures(t *testing.T) {
	svc, repo, papers, gen := newExplanationFixture(3)
	gen.failFor = map[int]error{2: errors.New("provider down")}

	err := svc.ProcessBatch(context.Background(), "p1")
	require.Error(t, err)

	// The other explanations still landed and the pass advanced the flag
	// despite the failure.
	count, _ := repo.CountByPaper(context.Background(), "p1")
	assert.Equal(t, 3, count)
	assert.True(t, papers.marked["p1"])

	// A retry fills only the gap.
	gen.failFor = nil
	err = svc.ProcessBatch(context.Background(), "p1")
	require.NoError(t, err)
	count, _ = repo.CountByPaper(context.Background(), "p1")
	assert.Equal(t, 4, count)
	assert.True(t, papers.marked["p1"])
}

func TestExplanationServiceProcessBatchFlagsDespitePermanentFailure(t *testing.T) {
	svc, repo, papers, gen := newExplanationFixture(3)
	gen.failFor = map[int]error{2: errors.New("provider down")}

	// A question that never generates must not hold the paper hostage.
	for i := 0; i < 5; i++ {
		err := svc.ProcessBatch(context.Background(), "p1")
		require.Error(t, err)
	}

	assert.True(t, papers.marked["p1"])
	count, _ := repo.CountByPaper(context.Background(), "p1")
	assert.Equal(t, 3, count)
}

func TestExplanationServiceListByPaper(t *testing.T) {
	svc, repo, _, _ := newExplanationFixture(2)

	_, err := svc.ListByPaper(context.Background(), parentClaims("u1"), "p1")
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrExplanationPending.Code, appErr.Code)

	_, err = repo.Insert(context.Background(), &models.Explanation{PaperID: "p1", QuestionNumber: 1, Explanation: "x"})
	require.NoError(t, err)

	doc, err := svc.ListByPaper(context.Background(), parentClaims("u1"), "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.TotalExplanations)
	assert.Equal(t, "p1", doc.PaperID)
}
