package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/exowa/exowa-api/internal/models"
	appErrors "github.com/exowa/exowa-api/pkg/errors"
	"github.com/exowa/exowa-api/pkg/jobs"
)

type explanationRepository interface {
	Insert(ctx context.Context, exp *models.Explanation) (bool, error)
	Find(ctx context.Context, paperID string, questionNumber int) (*models.Explanation, error)
	ListByPaper(ctx context.Context, paperID string) ([]models.Explanation, error)
	CountByPaper(ctx context.Context, paperID string) (int, error)
}

type explanationPaperRepository interface {
	FindByID(ctx context.Context, id string) (*models.PaperDetail, error)
	SetExplanationGenerated(ctx context.Context, paperID string, generated bool) error
}

type paperAccessor interface {
	Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.PaperDetail, error)
}

type explanationGenerator interface {
	Generate(ctx context.Context, paper *models.Paper, questionNumber int) (*models.Explanation, error)
}

type explanationCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ExplanationWorkerConfig tunes the background batch workers.
type ExplanationWorkerConfig struct {
	Concurrency int
	Retries     int
	CacheTTL    time.Duration
}

// explanationBatch is the queue payload: one paper whose full explanation
// set should be generated.
type explanationBatch struct {
	PaperID string
}

// ExplanationService serves explanations lazily: cached results are
// returned as-is, misses trigger generation exactly once per pair. The
// store's unique constraint is the cross-process authority; the
// singleflight group only collapses duplicate work inside this process.
type ExplanationService struct {
	repo      explanationRepository
	papers    explanationPaperRepository
	access    paperAccessor
	generator explanationGenerator
	cache     explanationCache
	cacheTTL  time.Duration
	group     singleflight.Group
	queue     *jobs.Queue[explanationBatch]
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewExplanationService constructs an ExplanationService with its own
// background batch queue. Call Start before serving and Stop on shutdown.
func NewExplanationService(repo explanationRepository, papers explanationPaperRepository, access paperAccessor, generator explanationGenerator, cache explanationCache, cfg ExplanationWorkerConfig, logger *zap.Logger) *ExplanationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}

	s := &ExplanationService{
		repo:      repo,
		papers:    papers,
		access:    access,
		generator: generator,
		cache:     cache,
		cacheTTL:  cfg.CacheTTL,
		logger:    logger,
	}
	s.queue = jobs.NewQueue("explanations", s.handleBatchJob, jobs.QueueConfig{
		Workers:    cfg.Concurrency,
		MaxRetries: cfg.Retries,
		Logger:     logger,
	})
	return s
}

// SetMetrics attaches instrumentation. A nil MetricsService is a no-op.
func (s *ExplanationService) SetMetrics(m *MetricsService) {
	s.metrics = m
}

// Start launches the background workers.
func (s *ExplanationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the background workers.
func (s *ExplanationService) Stop() {
	s.queue.Stop()
}

// Get returns the explanation for one question of a paper, generating and
// storing it on first request. Question number 0 addresses the whole paper.
func (s *ExplanationService) Get(ctx context.Context, claims *models.JWTClaims, paperID string, questionNumber int) (*models.Explanation, error) {
	detail, err := s.access.Get(ctx, claims, paperID)
	if err != nil {
		return nil, err
	}
	if questionNumber != models.WholePaperNumber {
		found := false
		for _, q := range detail.Questions {
			if q.QuestionNumber == questionNumber {
				found = true
				break
			}
		}
		if !found {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("question %d not found in paper", questionNumber))
		}
	}

	key := explanationCacheKey(paperID, questionNumber)
	if s.cache != nil {
		var cached models.Explanation
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.metrics.RecordExplanationLookup(true)
			return &cached, nil
		}
	}

	if exp, err := s.repo.Find(ctx, paperID, questionNumber); err == nil {
		s.metrics.RecordExplanationLookup(true)
		s.storeInCache(ctx, key, exp)
		return exp, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load explanation")
	}

	s.metrics.RecordExplanationLookup(false)
	result, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.generateAndStore(ctx, &detail.Paper, questionNumber)
	})
	if err != nil {
		return nil, err
	}

	exp := result.(*models.Explanation)
	s.storeInCache(ctx, key, exp)
	return exp, nil
}

// ListByPaper assembles every stored explanation of a paper into one
// document. Missing entries are not generated here.
func (s *ExplanationService) ListByPaper(ctx context.Context, claims *models.JWTClaims, paperID string) (*models.ExplanationDocument, error) {
	if _, err := s.access.Get(ctx, claims, paperID); err != nil {
		return nil, err
	}

	exps, err := s.repo.ListByPaper(ctx, paperID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list explanations")
	}
	if len(exps) == 0 {
		return nil, appErrors.Clone(appErrors.ErrExplanationPending, "no explanations generated yet")
	}

	return &models.ExplanationDocument{
		PaperID:           paperID,
		TotalExplanations: len(exps),
		Explanations:      exps,
	}, nil
}

// ScheduleBatch enqueues fire-and-forget generation of the full
// explanation set for a paper. Failures are logged, not surfaced.
func (s *ExplanationService) ScheduleBatch(paperID string) {
	err := s.queue.Enqueue(jobs.Job[explanationBatch]{
		ID:      uuid.NewString(),
		Payload: explanationBatch{PaperID: paperID},
	})
	if err != nil {
		s.logger.Warn("failed to enqueue explanation batch",
			zap.String("paper_id", paperID),
			zap.Error(err))
	}
}

func (s *ExplanationService) handleBatchJob(ctx context.Context, job jobs.Job[explanationBatch]) error {
	return s.ProcessBatch(ctx, job.Payload.PaperID)
}

// ProcessBatch generates any missing explanations for every question of
// the paper plus the whole-paper summary. Individual failures are skipped
// so one bad question does not block the rest, and the completion flag is
// set once the pass finishes either way. Failed entries stay absent and
// are filled by queue retries or the next lazy read.
func (s *ExplanationService) ProcessBatch(ctx context.Context, paperID string) error {
	detail, err := s.papers.FindByID(ctx, paperID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("explanation batch for missing paper", zap.String("paper_id", paperID))
			return nil
		}
		return fmt.Errorf("load paper for batch: %w", err)
	}

	numbers := make([]int, 0, len(detail.Questions)+1)
	numbers = append(numbers, models.WholePaperNumber)
	for _, q := range detail.Questions {
		numbers = append(numbers, q.QuestionNumber)
	}

	failures := 0
	for _, number := range numbers {
		if _, err := s.repo.Find(ctx, paperID, number); err == nil {
			continue
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check explanation %d: %w", number, err)
		}

		if _, err := s.generateAndStore(ctx, &detail.Paper, number); err != nil {
			failures++
			s.logger.Warn("explanation generation failed",
				zap.String("paper_id", paperID),
				zap.Int("question_number", number),
				zap.Error(err))
		}
	}

	count, err := s.repo.CountByPaper(ctx, paperID)
	if err != nil {
		return fmt.Errorf("count explanations: %w", err)
	}
	// The flag advances even when some questions failed so a stuck
	// provider cannot wedge the paper lifecycle.
	if err := s.papers.SetExplanationGenerated(ctx, paperID, true); err != nil {
		return fmt.Errorf("mark paper explained: %w", err)
	}
	s.logger.Info("explanation batch finished",
		zap.String("paper_id", paperID),
		zap.Int("explanations", count),
		zap.Int("failures", failures))

	if failures > 0 {
		return fmt.Errorf("%d of %d explanations failed", failures, len(numbers))
	}
	return nil
}

// generateAndStore produces an explanation and inserts it. On an insert
// race the winner's row is re-fetched so callers always see one canonical
// explanation per pair.
func (s *ExplanationService) generateAndStore(ctx context.Context, paper *models.Paper, questionNumber int) (*models.Explanation, error) {
	start := time.Now()
	exp, err := s.generator.Generate(ctx, paper, questionNumber)
	s.metrics.ObserveGeneration("explanation", time.Since(start), err)
	if err != nil {
		return nil, mapGenerationError(err)
	}

	won, err := s.repo.Insert(ctx, exp)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store explanation")
	}
	if !won {
		winner, err := s.repo.Find(ctx, paper.ID, questionNumber)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load stored explanation")
		}
		return winner, nil
	}
	return exp, nil
}

func (s *ExplanationService) storeInCache(ctx context.Context, key string, exp *models.Explanation) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, exp, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache explanation", zap.String("key", key), zap.Error(err))
	}
}

func explanationCacheKey(paperID string, questionNumber int) string {
	return fmt.Sprintf("explanation:%s:%d", paperID, questionNumber)
}
