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

type subjectRepository interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
	ExistsByName(ctx context.Context, authorID, name string) (bool, error)
	Create(ctx context.Context, subject *models.Subject) error
	Update(ctx context.Context, subject *models.Subject) error
	List(ctx context.Context, filter models.CatalogFilter) ([]models.Subject, int, error)
	Delete(ctx context.Context, id string) error
}

// SubjectService manages the per-author subject catalog.
type SubjectService struct {
	repo      subjectRepository
	policy    *AuthorizationPolicy
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSubjectService constructs a SubjectService.
func NewSubjectService(repo subjectRepository, policy *AuthorizationPolicy, validate *validator.Validate, logger *zap.Logger) *SubjectService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if policy == nil {
		policy = NewAuthorizationPolicy(true)
	}
	return &SubjectService{repo: repo, policy: policy, validator: validate, logger: logger}
}

// Create adds a subject owned by the caller.
func (s *SubjectService) Create(ctx context.Context, claims *models.JWTClaims, req models.CatalogRequest) (*models.Subject, error) {
	if claims == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing identity")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}

	exists, err := s.repo.ExistsByName(ctx, claims.UserID, req.Name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subject name")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("subject %q already exists", req.Name))
	}

	subject := &models.Subject{Name: req.Name, AuthorID: claims.UserID}
	if err := s.repo.Create(ctx, subject); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subject")
	}
	return subject, nil
}

// Get returns a subject the caller may access.
func (s *SubjectService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.Subject, error) {
	subject, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	if err := s.policy.CanManage(claims, subject.AuthorID); err != nil {
		return nil, err
	}
	return subject, nil
}

// List returns the caller's subjects; privileged roles see everything.
func (s *SubjectService) List(ctx context.Context, claims *models.JWTClaims, filter models.CatalogFilter) ([]models.Subject, *models.Pagination, error) {
	if claims == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing identity")
	}
	if !s.policy.IsPrivileged(claims) {
		filter.AuthorID = claims.UserID
	}

	subjects, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return subjects, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Update renames a subject the caller owns.
func (s *SubjectService) Update(ctx context.Context, claims *models.JWTClaims, id string, req models.CatalogRequest) (*models.Subject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}

	subject, err := s.Get(ctx, claims, id)
	if err != nil {
		return nil, err
	}

	if req.Name != subject.Name {
		exists, err := s.repo.ExistsByName(ctx, subject.AuthorID, req.Name)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subject name")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("subject %q already exists", req.Name))
		}
	}

	subject.Name = req.Name
	if err := s.repo.Update(ctx, subject); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update subject")
	}
	return subject, nil
}

// Delete soft-deletes a subject the caller owns.
func (s *SubjectService) Delete(ctx context.Context, claims *models.JWTClaims, id string) error {
	subject, err := s.Get(ctx, claims, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, subject.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete subject")
	}
	return nil
}
