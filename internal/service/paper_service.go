package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/exowa/exowa-api/internal/genai"
	"github.com/exowa/exowa-api/internal/models"
	appErrors "github.com/exowa/exowa-api/pkg/errors"
)

const (
	otpMin = 10000
	otpMax = 99999
)

type paperRepository interface {
	Create(ctx context.Context, paper *models.Paper) error
	FindByID(ctx context.Context, id string) (*models.PaperDetail, error)
	Update(ctx context.Context, paper *models.Paper) error
	List(ctx context.Context, filter models.PaperFilter) ([]models.PaperDetail, int, error)
	AssignChild(ctx context.Context, paperID, childID string, otp int) error
	RotateOTP(ctx context.Context, paperID string, otp int) error
	ConsumeOTP(ctx context.Context, paperID, childID string, otp int) error
	SubmitAnswers(ctx context.Context, paperID string, answers models.AnswerList) error
	SetMaterial(ctx context.Context, paperID, file, url string) error
	Delete(ctx context.Context, id string) error
}

type paperChildRepository interface {
	FindByID(ctx context.Context, id string) (*models.Child, error)
}

type questionGenerator interface {
	Generate(ctx context.Context, spec genai.PaperSpec) ([]models.Question, error)
}

type childTokenIssuer interface {
	IssueChildToken(child *models.Child) (string, time.Duration, error)
}

type explanationScheduler interface {
	ScheduleBatch(paperID string)
}

type paperExporter interface {
	Render(paper *models.Paper) ([]byte, error)
}

type materialStore interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
}

type paperCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// PaperService owns the paper lifecycle: generation, assignment, the OTP
// gate and answer submission.
type PaperService struct {
	repo      paperRepository
	children  paperChildRepository
	generator questionGenerator
	tokens    childTokenIssuer
	scheduler explanationScheduler
	exporter  paperExporter
	policy    *AuthorizationPolicy
	metrics   *MetricsService
	store     materialStore
	cache     paperCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPaperService constructs a PaperService.
func NewPaperService(repo paperRepository, children paperChildRepository, generator questionGenerator, tokens childTokenIssuer, scheduler explanationScheduler, exporter paperExporter, policy *AuthorizationPolicy, validate *validator.Validate, logger *zap.Logger) *PaperService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if policy == nil {
		policy = NewAuthorizationPolicy(true)
	}
	return &PaperService{
		repo:      repo,
		children:  children,
		generator: generator,
		tokens:    tokens,
		scheduler: scheduler,
		exporter:  exporter,
		policy:    policy,
		validator: validate,
		logger:    logger,
	}
}

// SetScheduler wires the explanation scheduler after construction. The
// explanation service depends on paper access, so the two are linked in
// two steps at startup.
func (s *PaperService) SetScheduler(scheduler explanationScheduler) {
	s.scheduler = scheduler
}

// SetMetrics attaches instrumentation. A nil MetricsService is a no-op.
func (s *PaperService) SetMetrics(m *MetricsService) {
	s.metrics = m
}

// SetMaterialStore wires the store backing source material uploads.
func (s *PaperService) SetMaterialStore(store materialStore) {
	s.store = store
}

// SetCache enables read caching of paper details with the given TTL.
func (s *PaperService) SetCache(cache paperCache, ttl time.Duration) {
	s.cache = cache
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	s.cacheTTL = ttl
}

// Create generates a full question set for the requested curriculum and
// persists the paper. Generation failures surface as upstream errors, a
// partial set is never stored.
func (s *PaperService) Create(ctx context.Context, claims *models.JWTClaims, req models.PaperCreateRequest) (*models.Paper, error) {
	if claims == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing identity")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid paper payload")
	}

	start := time.Now()
	questions, err := s.generator.Generate(ctx, genai.PaperSpec{
		ClassName:   req.ClassName,
		Subject:     req.Subject,
		Syllabus:    req.Syllabus,
		ChapterFrom: req.ChapterFrom,
		ChapterTo:   req.ChapterTo,
		Language:    req.Language,
		Count:       req.NoOfQuestion,
	})
	s.metrics.ObserveGeneration("questions", time.Since(start), err)
	if err != nil {
		return nil, mapGenerationError(err)
	}
	s.metrics.AddQuestionsGenerated(len(questions))

	paper := &models.Paper{
		Subject:      req.Subject,
		Syllabus:     req.Syllabus,
		ChapterFrom:  req.ChapterFrom,
		ChapterTo:    req.ChapterTo,
		Language:     req.Language,
		ClassName:    req.ClassName,
		NoOfQuestion: req.NoOfQuestion,
		AuthorID:     claims.UserID,
		Questions:    questions,
		Answers:      models.AnswerList{},
		Topics:       trimTopics(req.Topics),
	}
	if err := s.repo.Create(ctx, paper); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store paper")
	}

	s.logger.Info("paper generated",
		zap.String("paper_id", paper.ID),
		zap.String("author_id", claims.UserID),
		zap.Int("questions", len(questions)))
	return paper, nil
}

// Get returns a paper the caller may access. Assigned children may read
// their own paper; parents are held to ownership.
func (s *PaperService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.PaperDetail, error) {
	detail, err := s.loadDetail(ctx, id)
	if err != nil {
		return nil, err
	}

	if claims != nil && claims.Role == models.RoleChild {
		if detail.ChildID == nil || *detail.ChildID != claims.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "paper is not assigned to this child")
		}
		return detail, nil
	}

	if err := s.policy.CanManage(claims, detail.AuthorID); err != nil {
		return nil, err
	}
	return detail, nil
}

// loadDetail fetches a paper, serving hot entries from the cache when one
// is configured. Access checks run on the result either way.
func (s *PaperService) loadDetail(ctx context.Context, id string) (*models.PaperDetail, error) {
	key := paperCacheKey(id)
	if s.cache != nil {
		var cached models.PaperDetail
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "paper not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load paper")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, detail, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache paper", zap.String("paper_id", id), zap.Error(err))
		}
	}
	return detail, nil
}

// invalidate drops any cached copy after a mutation.
func (s *PaperService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, paperCacheKey(id)); err != nil {
		s.logger.Warn("failed to invalidate paper cache", zap.String("paper_id", id), zap.Error(err))
	}
}

func paperCacheKey(id string) string {
	return "paper:" + id
}

// List returns the caller's papers; privileged roles see everything.
func (s *PaperService) List(ctx context.Context, claims *models.JWTClaims, filter models.PaperFilter) ([]models.PaperDetail, *models.Pagination, error) {
	if claims == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing identity")
	}
	if !s.policy.IsPrivileged(claims) {
		filter.AuthorID = claims.UserID
	}

	papers, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list papers")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return papers, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Update rewrites curriculum metadata on a paper the caller owns. The
// generated question set is immutable.
func (s *PaperService) Update(ctx context.Context, claims *models.JWTClaims, id string, req models.PaperUpdateRequest) (*models.PaperDetail, error) {
	if claims != nil && claims.Role == models.RoleChild {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "children cannot modify papers")
	}

	detail, err := s.Get(ctx, claims, id)
	if err != nil {
		return nil, err
	}

	if req.Subject != nil {
		detail.Subject = *req.Subject
	}
	if req.Syllabus != nil {
		detail.Syllabus = *req.Syllabus
	}
	if req.ChapterFrom != nil {
		detail.ChapterFrom = *req.ChapterFrom
	}
	if req.ChapterTo != nil {
		detail.ChapterTo = *req.ChapterTo
	}
	if req.Language != nil {
		detail.Language = *req.Language
	}
	if req.ClassName != nil {
		detail.ClassName = *req.ClassName
	}
	if req.Topics != nil {
		detail.Topics = trimTopics(req.Topics)
	}

	if err := s.repo.Update(ctx, &detail.Paper); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "paper not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update paper")
	}
	s.invalidate(ctx, detail.ID)
	return detail, nil
}

// Assign binds a paper to one of the caller's children and mints a fresh
// access code. The child must belong to the same owner as the paper.
func (s *PaperService) Assign(ctx context.Context, claims *models.JWTClaims, req models.PaperAssignRequest) (*models.AssignmentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	detail, err := s.Get(ctx, claims, req.PaperID)
	if err != nil {
		return nil, err
	}

	child, err := s.children.FindByID(ctx, req.ChildID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "child not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load child")
	}
	if err := s.policy.CanManage(claims, child.OwnerID); err != nil {
		return nil, err
	}

	otp, err := generateOTP()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate access code")
	}

	if err := s.repo.AssignChild(ctx, detail.ID, child.ID, otp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "paper not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign paper")
	}
	s.invalidate(ctx, detail.ID)

	s.logger.Info("paper assigned",
		zap.String("paper_id", detail.ID),
		zap.String("child_id", child.ID))
	return &models.AssignmentResult{PaperID: detail.ID, ChildID: child.ID, OTP: otp}, nil
}

// RotateOTP replaces the access code on an assigned paper, invalidating
// any previously shared code.
func (s *PaperService) RotateOTP(ctx context.Context, claims *models.JWTClaims, paperID string) (*models.AssignmentResult, error) {
	detail, err := s.Get(ctx, claims, paperID)
	if err != nil {
		return nil, err
	}
	if detail.ChildID == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "paper has no assigned child")
	}

	otp, err := generateOTP()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate access code")
	}

	if err := s.repo.RotateOTP(ctx, detail.ID, otp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "paper has no assigned child")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate access code")
	}
	s.invalidate(ctx, detail.ID)

	return &models.AssignmentResult{PaperID: detail.ID, ChildID: *detail.ChildID, OTP: otp}, nil
}

// ChildLogin consumes a paper access code and issues a short-lived token
// scoped to the named child. The atomic consume matches the code and the
// assigned child together, so a wrong code, a consumed code and a wrong
// child all fail the same way without revealing which check tripped.
func (s *PaperService) ChildLogin(ctx context.Context, childID string, req models.ChildLoginRequest) (*models.ChildLoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}
	if strings.TrimSpace(childID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "child id is required")
	}
	otp, err := strconv.Atoi(req.OTP)
	if err != nil || otp < otpMin || otp > otpMax {
		return nil, appErrors.Clone(appErrors.ErrInvalidOTP, "invalid or expired OTP")
	}

	if err := s.repo.ConsumeOTP(ctx, req.PaperID, childID, otp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidOTP, "invalid or expired OTP")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify access code")
	}
	s.invalidate(ctx, req.PaperID)

	child, err := s.children.FindByID(ctx, childID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assigned child no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load child")
	}

	token, expiry, err := s.tokens.IssueChildToken(child)
	if err != nil {
		return nil, err
	}

	s.logger.Info("child login",
		zap.String("paper_id", req.PaperID),
		zap.String("child_id", child.ID))
	return &models.ChildLoginResponse{
		AccessToken: token,
		ExpiresIn:   int64(expiry.Seconds()),
		Child: models.ChildInfo{
			ID:    child.ID,
			Name:  child.Name,
			Grade: child.Grade,
		},
	}, nil
}

// SubmitAnswers stores a wholesale answer set, retires the outstanding
// access code and kicks off background explanation generation.
func (s *PaperService) SubmitAnswers(ctx context.Context, claims *models.JWTClaims, req models.AnswerSubmissionRequest) (*models.PaperDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid answers payload")
	}

	detail, err := s.Get(ctx, claims, req.PaperID)
	if err != nil {
		return nil, err
	}

	known := make(map[int]bool, len(detail.Questions))
	for _, q := range detail.Questions {
		known[q.QuestionNumber] = true
	}
	for _, a := range req.Answers {
		if !known[a.QuestionNumber] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("answer references unknown question %d", a.QuestionNumber))
		}
	}

	answers := models.AnswerList(req.Answers)
	if err := s.repo.SubmitAnswers(ctx, detail.ID, answers); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "paper not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store answers")
	}
	s.invalidate(ctx, detail.ID)

	detail.Answers = answers
	detail.OTP = nil
	detail.IsExplanationGenerated = false

	if s.scheduler != nil {
		s.scheduler.ScheduleBatch(detail.ID)
	}

	s.logger.Info("answers submitted",
		zap.String("paper_id", detail.ID),
		zap.Int("answers", len(answers)))
	return detail, nil
}

// ExportPDF renders a printable sheet for a paper the caller may access.
func (s *PaperService) ExportPDF(ctx context.Context, claims *models.JWTClaims, id string) ([]byte, error) {
	detail, err := s.Get(ctx, claims, id)
	if err != nil {
		return nil, err
	}
	payload, err := s.exporter.Render(&detail.Paper)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render paper")
	}
	return payload, nil
}

// Delete soft-deletes a paper the caller owns.
func (s *PaperService) Delete(ctx context.Context, claims *models.JWTClaims, id string) error {
	detail, err := s.Get(ctx, claims, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, detail.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete paper")
	}
	s.invalidate(ctx, detail.ID)
	return nil
}

// UploadMaterial stores source material alongside a paper and records the
// stored filename on the row.
func (s *PaperService) UploadMaterial(ctx context.Context, claims *models.JWTClaims, paperID, filename string, r io.Reader) (*models.PaperDetail, error) {
	if s.store == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "upload storage is not configured")
	}

	detail, err := s.Get(ctx, claims, paperID)
	if err != nil {
		return nil, err
	}

	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) || base == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid file name")
	}
	stored := fmt.Sprintf("%s-%s", detail.ID, base)

	if _, err := s.store.SaveStream(stored, r); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store material")
	}

	url := fmt.Sprintf("/papers/%s/material", detail.ID)
	if err := s.repo.SetMaterial(ctx, detail.ID, stored, url); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "paper not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record material")
	}
	s.invalidate(ctx, detail.ID)

	detail.File = &stored
	detail.URL = &url
	return detail, nil
}

// OpenMaterial streams the stored source material of a paper. The caller
// closes the returned file.
func (s *PaperService) OpenMaterial(ctx context.Context, claims *models.JWTClaims, paperID string) (*os.File, string, error) {
	if s.store == nil {
		return nil, "", appErrors.Clone(appErrors.ErrInternal, "upload storage is not configured")
	}

	detail, err := s.Get(ctx, claims, paperID)
	if err != nil {
		return nil, "", err
	}
	if detail.File == nil || *detail.File == "" {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "paper has no source material")
	}

	f, err := s.store.Open(*detail.File)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "paper has no source material")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open material")
	}
	return f, *detail.File, nil
}

// generateOTP draws a uniform 5 digit access code.
func generateOTP() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return 0, err
	}
	return otpMin + int(n.Int64()), nil
}

// mapGenerationError translates pipeline failures into API errors.
func mapGenerationError(err error) error {
	var invalid *genai.ErrInvalidSpec
	if errors.As(err, &invalid) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, invalid.Error())
	}
	var incomplete *genai.ErrIncomplete
	if errors.As(err, &incomplete) {
		return appErrors.Wrap(err, appErrors.ErrGenerationIncomplete.Code, appErrors.ErrGenerationIncomplete.Status, incomplete.Error())
	}
	var failed *genai.ErrGenerationFailed
	if errors.As(err, &failed) {
		return appErrors.Wrap(err, appErrors.ErrGenerationFailed.Code, appErrors.ErrGenerationFailed.Status, failed.Error())
	}
	return appErrors.Wrap(err, appErrors.ErrGenerationFailed.Code, appErrors.ErrGenerationFailed.Status, "content generation failed")
}
