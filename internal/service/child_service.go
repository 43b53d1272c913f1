package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/exowa/exowa-api/internal/models"
	appErrors "github.com/exowa/exowa-api/pkg/errors"
)

type childRepository interface {
	FindByID(ctx context.Context, id string) (*models.Child, error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	ExistsByName(ctx context.Context, ownerID, name, excludeID string) (bool, error)
	Create(ctx context.Context, child *models.Child) error
	Update(ctx context.Context, child *models.Child) error
	List(ctx context.Context, filter models.ChildFilter) ([]models.Child, int, error)
	Delete(ctx context.Context, id string) error
}

type childOwnerRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// UpdateWindow restricts profile edits to a seasonal MM-DD range.
// Disabled by default; the range is inclusive on both ends.
type UpdateWindow struct {
	Enabled bool
	From    string
	To      string
}

// Contains reports whether ts falls inside the window.
func (w UpdateWindow) Contains(ts time.Time) bool {
	if !w.Enabled {
		return true
	}
	from, err := time.Parse("01-02", w.From)
	if err != nil {
		return true
	}
	to, err := time.Parse("01-02", w.To)
	if err != nil {
		return true
	}
	day := time.Date(0, ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	fromDay := time.Date(0, from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	toDay := time.Date(0, to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	if fromDay.After(toDay) {
		// Window wraps the year boundary.
		return !day.Before(fromDay) || !day.After(toDay)
	}
	return !day.Before(fromDay) && !day.After(toDay)
}

// ChildService manages child profiles with quota and ownership checks.
type ChildService struct {
	repo      childRepository
	users     childOwnerRepository
	quota     *QuotaEnforcer
	policy    *AuthorizationPolicy
	window    UpdateWindow
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewChildService constructs a ChildService.
func NewChildService(repo childRepository, users childOwnerRepository, quota *QuotaEnforcer, policy *AuthorizationPolicy, window UpdateWindow, validate *validator.Validate, logger *zap.Logger) *ChildService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if quota == nil {
		quota = NewQuotaEnforcer(QuotaConfig{})
	}
	if policy == nil {
		policy = NewAuthorizationPolicy(true)
	}
	return &ChildService{
		repo:      repo,
		users:     users,
		quota:     quota,
		policy:    policy,
		window:    window,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a child under the caller, enforcing the child and topic
// quotas and the per-owner name uniqueness rule.
func (s *ChildService) Create(ctx context.Context, claims *models.JWTClaims, req models.ChildCreateRequest) (*models.Child, error) {
	if claims == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing identity")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid child payload")
	}

	owner, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "account no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}

	current, err := s.repo.CountByOwner(ctx, claims.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count children")
	}
	limit := s.quota.ResolveChildLimit(owner, claims)
	if err := s.quota.EnforceChildQuota(current, limit); err != nil {
		return nil, err
	}

	topics := trimTopics(req.Topics)
	topicLimit := s.quota.ResolveTopicLimit(nil, owner, claims)
	if err := s.quota.EnforceTopicQuota(topics, topicLimit); err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByName(ctx, claims.UserID, req.Name, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check child name")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("child %q already registered", req.Name))
	}

	child := &models.Child{
		Name:     req.Name,
		Age:      req.Age,
		Grade:    req.Grade,
		Topics:   topics,
		ParentID: &claims.UserID,
		OwnerID:  claims.UserID,
	}
	if err := s.repo.Create(ctx, child); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create child")
	}

	s.logger.Info("child registered", zap.String("child_id", child.ID), zap.String("owner_id", claims.UserID))
	return child, nil
}

// Get returns a child the caller may access.
func (s *ChildService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.Child, error) {
	child, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "child not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load child")
	}
	if err := s.policy.CanManage(claims, child.OwnerID); err != nil {
		return nil, err
	}
	return child, nil
}

// List returns the caller's children; privileged roles see every profile.
func (s *ChildService) List(ctx context.Context, claims *models.JWTClaims, filter models.ChildFilter) ([]models.Child, *models.Pagination, error) {
	if claims == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing identity")
	}
	if !s.policy.IsPrivileged(claims) {
		filter.OwnerID = claims.UserID
	}

	children, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list children")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return children, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Update modifies a child profile, honoring the seasonal edit window and
// the topic quota.
func (s *ChildService) Update(ctx context.Context, claims *models.JWTClaims, id string, req models.ChildUpdateRequest) (*models.Child, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid child payload")
	}

	child, err := s.Get(ctx, claims, id)
	if err != nil {
		return nil, err
	}

	if !s.window.Contains(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "child profiles can only be updated during the configured window")
	}

	if req.Name != nil && *req.Name != child.Name {
		exists, err := s.repo.ExistsByName(ctx, child.OwnerID, *req.Name, child.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check child name")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("child %q already registered", *req.Name))
		}
		child.Name = *req.Name
	}
	if req.Age != nil {
		child.Age = *req.Age
	}
	if req.Grade != nil {
		child.Grade = *req.Grade
	}
	if req.Topics != nil {
		topics := trimTopics(req.Topics)
		owner, err := s.users.FindByID(ctx, child.OwnerID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
		}
		limit := s.quota.ResolveTopicLimit(child, owner, claims)
		if err := s.quota.EnforceTopicQuota(topics, limit); err != nil {
			return nil, err
		}
		child.Topics = topics
	}

	if err := s.repo.Update(ctx, child); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update child")
	}
	return child, nil
}

// Delete soft-deletes a child the caller owns.
func (s *ChildService) Delete(ctx context.Context, claims *models.JWTClaims, id string) error {
	child, err := s.Get(ctx, claims, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, child.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete child")
	}
	s.logger.Info("child removed", zap.String("child_id", child.ID))
	return nil
}

func trimTopics(topics []string) []string {
	cleaned := make([]string, 0, len(topics))
	for _, topic := range topics {
		trimmed := strings.TrimSpace(topic)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
