package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/exowa/exowa-api/internal/models"
	appErrors "github.com/exowa/exowa-api/pkg/errors"
)

type syllabusRepository interface {
	FindByID(ctx context.Context, id string) (*models.Syllabus, error)
	ExistsByName(ctx context.Context, authorID, name string) (bool, error)
	Create(ctx context.Context, syllabus *models.Syllabus) error
	Update(ctx context.Context, syllabus *models.Syllabus) error
	List(ctx context.Context, filter models.CatalogFilter) ([]models.Syllabus, int, error)
	Delete(ctx context.Context, id string) error
}

// SyllabusService manages the per-author syllabus catalog.
type SyllabusService struct {
	repo      syllabusRepository
	policy    *AuthorizationPolicy
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSyllabusService constructs a SyllabusService.
func NewSyllabusService(repo syllabusRepository, policy *AuthorizationPolicy, validate *validator.Validate, logger *zap.Logger) *SyllabusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if policy == nil {
		policy = NewAuthorizationPolicy(true)
	}
	return &SyllabusService{repo: repo, policy: policy, validator: validate, logger: logger}
}

// Create adds a syllabus owned by the caller.
func (s *SyllabusService) Create(ctx context.Context, claims *models.JWTClaims, req models.CatalogRequest) (*models.Syllabus, error) {
	if claims == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing identity")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid syllabus payload")
	}

	exists, err := s.repo.ExistsByName(ctx, claims.UserID, req.Name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check syllabus name")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("syllabus %q already exists", req.Name))
	}

	syllabus := &models.Syllabus{Name: req.Name, AuthorID: claims.UserID}
	if err := s.repo.Create(ctx, syllabus); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create syllabus")
	}
	return syllabus, nil
}

// Get returns a syllabus the caller may access.
func (s *SyllabusService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.Syllabus, error) {
	syllabus, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "syllabus not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load syllabus")
	}
	if err := s.policy.CanManage(claims, syllabus.AuthorID); err != nil {
		return nil, err
	}
	return syllabus, nil
}

// List returns the caller's syllabuses; privileged roles see everything.
func (s *SyllabusService) List(ctx context.Context, claims *models.JWTClaims, filter models.CatalogFilter) ([]models.Syllabus, *models.Pagination, error) {
	if claims == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing identity")
	}
	if !s.policy.IsPrivileged(claims) {
		filter.AuthorID = claims.UserID
	}

	syllabuses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list syllabuses")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return syllabuses, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Update renames a syllabus the caller owns.
func (s *SyllabusService) Update(ctx context.Context, claims *models.JWTClaims, id string, req models.CatalogRequest) (*models.Syllabus, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid syllabus payload")
	}

	syllabus, err := s.Get(ctx, claims, id)
	if err != nil {
		return nil, err
	}

	if req.Name != syllabus.Name {
		exists, err := s.repo.ExistsByName(ctx, syllabus.AuthorID, req.Name)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check syllabus name")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("syllabus %q already exists", req.Name))
		}
	}

	syllabus.Name = req.Name
	if err := s.repo.Update(ctx, syllabus); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update syllabus")
	}
	return syllabus, nil
}

// Delete soft-deletes a syllabus the caller owns.
func (s *SyllabusService) Delete(ctx context.Context, claims *models.JWTClaims, id string) error {
	syllabus, err := s.Get(ctx, claims, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, syllabus.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete syllabus")
	}
	return nil
}
