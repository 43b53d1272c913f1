package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exowa/exowa-api/internal/genai"
	"github.com/exowa/exowa-api/internal/models"
	appErrors "github.com/exowa/exowa-api/pkg/errors"
	"github.com/exowa/exowa-api/pkg/storage"
)

type mockPaperRepo struct {
	papers     map[string]models.PaperDetail
	created    *models.Paper
	assigned   map[string]int
	rotated    map[string]int
	consumed   bool
	submission models.AnswerList
}

func (m *mockPaperRepo) Create(ctx context.Context, paper *models.Paper) error {
	if paper.ID == "" {
		paper.ID = "new-paper"
	}
	if m.papers == nil {
		m.papers = make(map[string]models.PaperDetail)
	}
	m.papers[paper.ID] = models.PaperDetail{Paper: *paper}
	m.created = paper
	return nil
}

func (m *mockPaperRepo) FindByID(ctx context.Context, id string) (*models.PaperDetail, error) {
	if p, ok := m.papers[id]; ok {
		return &p, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaperRepo) List(ctx context.Context, filter models.PaperFilter) ([]models.PaperDetail, int, error) {
	var list []models.PaperDetail
	for _, p := range m.papers {
		if filter.AuthorID != "" && p.AuthorID != filter.AuthorID {
			continue
		}
		list = append(list, p)
	}
	return list, len(list), nil
}

func (m *mockPaperRepo) AssignChild(ctx context.Context, paperID, childID string, otp int) error {
	p, ok := m.papers[paperID]
	if !ok {
		return sql.ErrNoRows
	}
	if m.assigned == nil {
		m.assigned = make(map[string]int)
	}
	m.assigned[paperID] = otp
	p.ChildID = &childID
	p.OTP = &otp
	m.papers[paperID] = p
	return nil
}

func (m *mockPaperRepo) RotateOTP(ctx context.Context, paperID string, otp int) error {
	p, ok := m.papers[paperID]
	if !ok || p.ChildID == nil {
		return sql.ErrNoRows
	}
	if m.rotated == nil {
		m.rotated = make(map[string]int)
	}
	m.rotated[paperID] = otp
	p.OTP = &otp
	m.papers[paperID] = p
	return nil
}

func (m *mockPaperRepo) ConsumeOTP(ctx context.Context, paperID, childID string, otp int) error {
	p, ok := m.papers[paperID]
	if !ok || p.OTP == nil || *p.OTP != otp || p.ChildID == nil || *p.ChildID != childID {
		return sql.ErrNoRows
	}
	m.consumed = true
	p.OTP = nil
	m.papers[paperID] = p
	return nil
}

func (m *mockPaperRepo) SubmitAnswers(ctx context.Context, paperID string, answers models.AnswerList) error {
	p, ok := m.papers[paperID]
	if !ok {
		return sql.ErrNoRows
	}
	m.submission = answers
	p.Answers = answers
	p.OTP = nil
	p.IsExplanationGenerated = false
	m.papers[paperID] = p
	return nil
}

func (m *mockPaperRepo) Update(ctx context.Context, paper *models.Paper) error {
	p, ok := m.papers[paper.ID]
	if !ok {
		return sql.ErrNoRows
	}
	p.Paper = *paper
	m.papers[paper.ID] = p
	return nil
}

func (m *mockPaperRepo) SetMaterial(ctx context.Context, paperID, file, url string) error {
	p, ok := m.papers[paperID]
	if !ok {
		return sql.ErrNoRows
	}
	p.File = &file
	p.URL = &url
	m.papers[paperID] = p
	return nil
}

func (m *mockPaperRepo) Delete(ctx context.Context, id string) error {
	delete(m.papers, id)
	return nil
}

type mockChildReader struct {
	children map[string]*models.Child
}

func (m *mockChildReader) FindByID(ctx context.Context, id string) (*models.Child, error) {
	if c, ok := m.children[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

type mockQuestionGen struct {
	questions []models.Question
	err       error
	spec      genai.PaperSpec
}

func (m *mockQuestionGen) Generate(ctx context.Context, spec genai.PaperSpec) ([]models.Question, error) {
	m.spec = spec
	if m.err != nil {
		return nil, m.err
	}
	return m.questions, nil
}

type mockTokenIssuer struct{}

func (m *mockTokenIssuer) IssueChildToken(child *models.Child) (string, time.Duration, error) {
	return "child-token", time.Hour, nil
}

type mockScheduler struct {
	scheduled []string
}

func (m *mockScheduler) ScheduleBatch(paperID string) {
	m.scheduled = append(m.scheduled, paperID)
}

func sampleQuestions(n int) []models.Question {
	out := make([]models.Question, n)
	for i := range out {
		out[i] = models.Question{
			QuestionNumber: i + 1,
			Question:       "What is 2+2?",
			Choices:        map[string]string{"A": "4", "B": "5", "C": "6", "D": "7"},
			CorrectAnswer:  "A",
		}
	}
	return out
}

func newPaperService(repo *mockPaperRepo, children *mockChildReader, gen *mockQuestionGen, sched *mockScheduler) *PaperService {
	return NewPaperService(repo, children, gen, &mockTokenIssuer{}, sched, nil, NewAuthorizationPolicy(true), nil, nil)
}

func parentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleParent}
}

func TestPaperServiceCreate(t *testing.T) {
	repo := &mockPaperRepo{}
	gen := &mockQuestionGen{questions: sampleQuestions(12)}
	svc := newPaperService(repo, &mockChildReader{}, gen, nil)

	paper, err := svc.Create(context.Background(), parentClaims("u1"), models.PaperCreateRequest{
		Subject:      "Math",
		Syllabus:     "CBSE",
		ChapterFrom:  "1",
		ChapterTo:    "3",
		Language:     "English",
		ClassName:    "5",
		NoOfQuestion: 12,
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", paper.AuthorID)
	assert.Len(t, paper.Questions, 12)
	assert.Equal(t, 12, gen.spec.Count)
	assert.NotNil(t, repo.created)
}

func TestPaperServiceCreateGenerationIncomplete(t *testing.T) {
	repo := &mockPaperRepo{}
	gen := &mockQuestionGen{err: &genai.ErrIncomplete{Want: 12, Got: 9}}
	svc := newPaperService(repo, &mockChildReader{}, gen, nil)

	_, err := svc.Create(context.Background(), parentClaims("u1"), models.PaperCreateRequest{
		Subject:      "Math",
		Syllabus:     "CBSE",
		ChapterFrom:  "1",
		ChapterTo:    "3",
		Language:     "English",
		ClassName:    "5",
		NoOfQuestion: 12,
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrGenerationIncomplete.Code, appErr.Code)
	// Nothing may be stored on failure.
	assert.Nil(t, repo.created)
}

func TestPaperServiceGetOwnership(t *testing.T) {
	repo := &mockPaperRepo{papers: map[string]models.PaperDetail{
		"p1": {Paper: models.Paper{ID: "p1", AuthorID: "u1"}},
	}}
	svc := newPaperService(repo, &mockChildReader{}, &mockQuestionGen{}, nil)

	_, err := svc.Get(context.Background(), parentClaims("u1"), "p1")
	assert.NoError(t, err)

	_, err = svc.Get(context.Background(), parentClaims("u2"), "p1")
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestPaperServiceAssignMintsOTP(t *testing.T) {
	repo := &mockPaperRepo{papers: map[string]models.PaperDetail{
		"p1": {Paper: models.Paper{ID: "p1", AuthorID: "u1"}},
	}}
	children := &mockChildReader{children: map[string]*models.Child{
		"c1": {ID: "c1", Name: "Asha", OwnerID: "u1"},
	}}
	svc := newPaperService(repo, children, &mockQuestionGen{}, nil)

	result, err := svc.Assign(context.Background(), parentClaims("u1"), models.PaperAssignRequest{PaperID: "p1", ChildID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "c1", result.ChildID)
	assert.GreaterOrEqual(t, result.OTP, otpMin)
	assert.LessOrEqual(t, result.OTP, otpMax)
}

func TestPaperServiceAssignForeignChild(t *testing.T) {
	repo := &mockPaperRepo{papers: map[string]models.PaperDetail{
		"p1": {Paper: models.Paper{ID: "p1", AuthorID: "u1"}},
	}}
	children := &mockChildReader{children: map[string]*models.Child{
		"c9": {ID: "c9", OwnerID: "other"},
	}}
	svc := newPaperService(repo, children, &mockQuestionGen{}, nil)

	_, err := svc.Assign(context.Background(), parentClaims("u1"), models.PaperAssignRequest{PaperID: "p1", ChildID: "c9"})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestPaperServiceChildLoginRoundTrip(t *testing.T) {
	otp := 45231
	childID := "c1"
	repo := &mockPaperRepo{papers: map[string]models.PaperDetail{
		"p1": {Paper: models.Paper{ID: "p1", AuthorID: "u1", ChildID: &childID, OTP: &otp}},
	}}
	children := &mockChildReader{children: map[string]*models.Child{
		"c1": {ID: "c1", Name: "Asha", Grade: "5", OwnerID: "u1"},
	}}
	svc := newPaperService(repo, children, &mockQuestionGen{}, nil)

	resp, err := svc.ChildLogin(context.Background(), "c1", models.ChildLoginRequest{PaperID: "p1", OTP: "45231"})
	require.NoError(t, err)
	assert.Equal(t, "child-token", resp.AccessToken)
	assert.Equal(t, "c1", resp.Child.ID)

	// The code is single use.
	_, err = svc.ChildLogin(context.Background(), "c1", models.ChildLoginRequest{PaperID: "p1", OTP: "45231"})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidOTP.Code, appErr.Code)
}

func TestPaperServiceChildLoginRejectsWrongChild(t *testing.T) {
	otp := 45231
	childID := "c1"
	repo := &mockPaperRepo{papers: map[string]models.PaperDetail{
		"p1": {Paper: models.Paper{ID: "p1", AuthorID: "u1", ChildID: &childID, OTP: &otp}},
	}}
	children := &mockChildReader{children: map[string]*models.Child{
		"c1": {ID: "c1", Name: "Asha", Grade: "5", OwnerID: "u1"},
		"c2": {ID: "c2", Name: "Ravi", Grade: "7", OwnerID: "u1"},
	}}
	svc := newPaperService(repo, children, &mockQuestionGen{}, nil)

	// A valid code presented for the wrong child fails like any bad code.
	_, err := svc.ChildLogin(context.Background(), "c2", models.ChildLoginRequest{PaperID: "p1", OTP: "45231"})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidOTP.Code, appErr.Code)

	// The mismatch does not burn the code; the assigned child still logs in.
	resp, err := svc.ChildLogin(context.Background(), "c1", models.ChildLoginRequest{PaperID: "p1", OTP: "45231"})
	require.NoError(t, err)
	assert.Equal(t, "c1", resp.Child.ID)
}

func TestPaperServiceChildLoginRejectsMalformedCode(t *testing.T) {
	svc := newPaperService(&mockPaperRepo{}, &mockChildReader{}, &mockQuestionGen{}, nil)

	for _, otp := range []string{"abc", "123", "999999"} {
		_, err := svc.ChildLogin(context.Background(), "c1", models.ChildLoginRequest{PaperID: "p1", OTP: otp})
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrInvalidOTP.Code, appErr.Code)
	}
}

func TestPaperServiceSubmitAnswers(t *testing.T) {
	otp := 45231
	repo := &mockPaperRepo{papers: map[string]models.PaperDetail{
		"p1": {Paper: models.Paper{ID: "p1", AuthorID: "u1", OTP: &otp, Questions: sampleQuestions(2)}},
	}}
	sched := &mockScheduler{}
	svc := newPaperService(repo, &mockChildReader{}, &mockQuestionGen{}, sched)

	detail, err := svc.SubmitAnswers(context.Background(), parentClaims("u1"), models.AnswerSubmissionRequest{
		PaperID: "p1",
		Answers: []models.Answer{{QuestionNumber: 1, Option: "A"}, {QuestionNumber: 2, Option: "C"}},
	})
	require.NoError(t, err)
	assert.Nil(t, detail.OTP)
	assert.False(t, detail.IsExplanationGenerated)
	assert.Len(t, repo.submission, 2)
	assert.Equal(t, []string{"p1"}, sched.scheduled)
}

func TestPaperServiceSubmitAnswersUnknownQuestion(t *testing.T) {
	repo := &mockPaperRepo{papers: map[string]models.PaperDetail{
		"p1": {Paper: models.Paper{ID: "p1", AuthorID: "u1", Questions: sampleQuestions(2)}},
	}}
	svc := newPaperService(repo, &mockChildReader{}, &mockQuestionGen{}, nil)

	_, err := svc.SubmitAnswers(context.Background(), parentClaims("u1"), models.AnswerSubmissionRequest{
		PaperID: "p1",
		Answers: []models.Answer{{QuestionNumber: 99, Option: "A"}},
	})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestPaperServiceUploadAndOpenMaterial(t *testing.T) {
	repo := &mockPaperRepo{papers: map[string]models.PaperDetail{
		"p1": {Paper: models.Paper{ID: "p1", AuthorID: "u1"}},
	}}
	svc := newPaperService(repo, &mockChildReader{}, &mockQuestionGen{}, nil)

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc.SetMaterialStore(store)

	detail, err := svc.UploadMaterial(context.Background(), parentClaims("u1"), "p1", "chapter-notes.pdf", strings.NewReader("source material"))
	require.NoError(t, err)
	require.NotNil(t, detail.File)
	assert.Equal(t, "p1-chapter-notes.pdf", *detail.File)
	require.NotNil(t, detail.URL)
	assert.Equal(t, "/papers/p1/material", *detail.URL)

	f, name, err := svc.OpenMaterial(context.Background(), parentClaims("u1"), "p1")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "p1-chapter-notes.pdf", name)

	payload, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "source material", string(payload))
}

func TestPaperServiceOpenMaterialMissing(t *testing.T) {
	repo := &mockPaperRepo{papers: map[string]models.PaperDetail{
		"p1": {Paper: models.Paper{ID: "p1", AuthorID: "u1"}},
	}}
	svc := newPaperService(repo, &mockChildReader{}, &mockQuestionGen{}, nil)

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc.SetMaterialStore(store)

	_, _, err = svc.OpenMaterial(context.Background(), parentClaims("u1"), "p1")
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

type mockDetailCache struct {
	entries map[string][]byte
	hits    int
	misses  int
	deletes []string
}

func newMockDetailCache() *mockDetailCache {
	return &mockDetailCache{entries: map[string][]byte{}}
}

func (m *mockDetailCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		m.misses++
		return appErrors.ErrCacheMiss
	}
	m.hits++
	return json.Unmarshal(raw, dest)
}

func (m *mockDetailCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *mockDetailCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.deletes = append(m.deletes, pattern)
	delete(m.entries, pattern)
	return nil
}

func TestPaperServiceGetUsesCache(t *testing.T) {
	repo := &mockPaperRepo{papers: map[string]models.PaperDetail{
		"p1": {Paper: models.Paper{ID: "p1", AuthorID: "u1", Questions: sampleQuestions(2)}},
	}}
	svc := newPaperService(repo, &mockChildReader{}, &mockQuestionGen{}, nil)
	cache := newMockDetailCache()
	svc.SetCache(cache, time.Minute)

	_, err := svc.Get(context.Background(), parentClaims("u1"), "p1")
	require.NoError(t, err)
	detail, err := svc.Get(context.Background(), parentClaims("u1"), "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", detail.ID)
	assert.Equal(t, 1, cache.misses)
	assert.Equal(t, 1, cache.hits)
}

func TestPaperServiceSubmitAnswersInvalidatesCache(t *testing.T) {
	otp := 45231
	repo := &mockPaperRepo{papers: map[string]models.PaperDetail{
		"p1": {Paper: models.Paper{ID: "p1", AuthorID: "u1", OTP: &otp, Questions: sampleQuestions(1)}},
	}}
	sched := &mockScheduler{}
	svc := newPaperService(repo, &mockChildReader{}, &mockQuestionGen{}, sched)
	cache := newMockDetailCache()
	svc.SetCache(cache, time.Minute)

	_, err := svc.SubmitAnswers(context.Background(), parentClaims("u1"), models.AnswerSubmissionRequest{
		PaperID: "p1",
		Answers: []models.Answer{{QuestionNumber: 1, Option: "B"}},
	})
	require.NoError(t, err)
	assert.Contains(t, cache.deletes, "paper:p1")
}

func TestPaperServiceUpdateMetadata(t *testing.T) {
	repo := &mockPaperRepo{papers: map[string]models.PaperDetail{
		"p1": {Paper: models.Paper{ID: "p1", AuthorID: "u1", Subject: "Math", Language: "English", Questions: sampleQuestions(2)}},
	}}
	svc := newPaperService(repo, &mockChildReader{}, &mockQuestionGen{}, nil)

	subject := "Physics"
	detail, err := svc.Update(context.Background(), parentClaims("u1"), "p1", models.PaperUpdateRequest{
		Subject: &subject,
		Topics:  []string{" waves ", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, "Physics", detail.Subject)
	assert.Equal(t, "English", detail.Language)
	assert.Equal(t, []string{"waves"}, []string(detail.Topics))
	assert.Len(t, detail.Questions, 2)
}

func TestPaperServiceUpdateRejectsChild(t *testing.T) {
	childID := "c1"
	repo := &mockPaperRepo{papers: map[string]models.PaperDetail{
		"p1": {Paper: models.Paper{ID: "p1", AuthorID: "u1", ChildID: &childID}},
	}}
	svc := newPaperService(repo, &mockChildReader{}, &mockQuestionGen{}, nil)

	subject := "Physics"
	_, err := svc.Update(context.Background(), &models.JWTClaims{UserID: "c1", Role: models.RoleChild}, "p1", models.PaperUpdateRequest{Subject: &subject})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}
