package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exowa/exowa-api/internal/models"
	appErrors "github.com/exowa/exowa-api/pkg/errors"
)

type mockChildRepo struct {
	children map[string]models.Child
	created  *models.Child
	updated  *models.Child
	deleted  []string
}

func (m *mockChildRepo) FindByID(ctx context.Context, id string) (*models.Child, error) {
	if c, ok := m.children[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockChildRepo) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	count := 0
	for _, c := range m.children {
		if c.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

func (m *mockChildRepo) ExistsByName(ctx context.Context, ownerID, name, excludeID string) (bool, error) {
	for _, c := range m.children {
		if c.OwnerID == ownerID && strings.EqualFold(c.Name, name) && c.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockChildRepo) Create(ctx context.Context, child *models.Child) error {
	if m.children == nil {
		m.children = make(map[string]models.Child)
	}
	if child.ID == "" {
		child.ID = "new-child"
	}
	m.children[child.ID] = *child
	m.created = child
	return nil
}

func (m *mockChildRepo) Update(ctx context.Context, child *models.Child) error {
	m.children[child.ID] = *child
	m.updated = child
	return nil
}

func (m *mockChildRepo) List(ctx context.Context, filter models.ChildFilter) ([]models.Child, int, error) {
	var list []models.Child
	for _, c := range m.children {
		if filter.OwnerID != "" && c.OwnerID != filter.OwnerID {
			continue
		}
		list = append(list, c)
	}
	return list, len(list), nil
}

func (m *mockChildRepo) Delete(ctx context.Context, id string) error {
	delete(m.children, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockUserReader struct {
	users map[string]*models.User
}

func (m *mockUserReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func newChildService(repo *mockChildRepo, users *mockUserReader, window UpdateWindow) *ChildService {
	quota := NewQuotaEnforcer(QuotaConfig{DefaultChildLimit: 1, DefaultTopicLimit: 2})
	return NewChildService(repo, users, quota, NewAuthorizationPolicy(true), window, nil, nil)
}

func TestChildServiceCreate(t *testing.T) {
	repo := &mockChildRepo{}
	users := &mockUserReader{users: map[string]*models.User{"u1": {ID: "u1"}}}
	svc := newChildService(repo, users, UpdateWindow{})

	child, err := svc.Create(context.Background(), parentClaims("u1"), models.ChildCreateRequest{
		Name:   "Asha",
		Age:    10,
		Grade:  "5",
		Topics: []string{"algebra", " "},
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", child.OwnerID)
	// Blank topics are dropped before storage.
	assert.Equal(t, []string{"algebra"}, []string(child.Topics))
}

func TestChildServiceCreateQuotaExceeded(t *testing.T) {
	repo := &mockChildRepo{children: map[string]models.Child{
		"c1": {ID: "c1", Name: "Asha", OwnerID: "u1"},
	}}
	users := &mockUserReader{users: map[string]*models.User{"u1": {ID: "u1"}}}
	svc := newChildService(repo, users, UpdateWindow{})

	_, err := svc.Create(context.Background(), parentClaims("u1"), models.ChildCreateRequest{Name: "Ravi", Age: 8, Grade: "3"})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Code, appErr.Code)
}

func TestChildServiceCreateHonorsPersistedLimit(t *testing.T) {
	repo := &mockChildRepo{children: map[string]models.Child{
		"c1": {ID: "c1", Name: "Asha", OwnerID: "u1"},
	}}
	users := &mockUserReader{users: map[string]*models.User{"u1": {ID: "u1", ChildLimit: intPtr(3)}}}
	svc := newChildService(repo, users, UpdateWindow{})

	_, err := svc.Create(context.Background(), parentClaims("u1"), models.ChildCreateRequest{Name: "Ravi", Age: 8, Grade: "3"})
	assert.NoError(t, err)
}

func TestChildServiceCreateDuplicateName(t *testing.T) {
	repo := &mockChildRepo{children: map[string]models.Child{
		"c1": {ID: "c1", Name: "Asha", OwnerID: "u1"},
	}}
	users := &mockUserReader{users: map[string]*models.User{"u1": {ID: "u1", ChildLimit: intPtr(5)}}}
	svc := newChildService(repo, users, UpdateWindow{})

	_, err := svc.Create(context.Background(), parentClaims("u1"), models.ChildCreateRequest{Name: "asha", Age: 9, Grade: "4"})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestChildServiceUpdateTopicQuota(t *testing.T) {
	repo := &mockChildRepo{children: map[string]models.Child{
		"c1": {ID: "c1", Name: "Asha", OwnerID: "u1"},
	}}
	users := &mockUserReader{users: map[string]*models.User{"u1": {ID: "u1"}}}
	svc := newChildService(repo, users, UpdateWindow{})

	_, err := svc.Update(context.Background(), parentClaims("u1"), "c1", models.ChildUpdateRequest{
		Topics: []string{"algebra", "geometry", "fractions"},
	})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Code, appErr.Code)
}

func TestChildServiceUpdateOutsideWindow(t *testing.T) {
	repo := &mockChildRepo{children: map[string]models.Child{
		"c1": {ID: "c1", Name: "Asha", OwnerID: "u1"},
	}}
	users := &mockUserReader{users: map[string]*models.User{"u1": {ID: "u1"}}}
	svc := newChildService(repo, users, UpdateWindow{Enabled: true, From: "04-01", To: "05-30"})
	svc.now = func() time.Time { return time.Date(2026, time.August, 15, 0, 0, 0, 0, time.UTC) }

	name := "Ravi"
	_, err := svc.Update(context.Background(), parentClaims("u1"), "c1", models.ChildUpdateRequest{Name: &name})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	svc.now = func() time.Time { return time.Date(2026, time.April, 15, 0, 0, 0, 0, time.UTC) }
	_, err = svc.Update(context.Background(), parentClaims("u1"), "c1", models.ChildUpdateRequest{Name: &name})
	assert.NoError(t, err)
}

func TestChildServiceGetForeignChild(t *testing.T) {
	repo := &mockChildRepo{children: map[string]models.Child{
		"c1": {ID: "c1", Name: "Asha", OwnerID: "other"},
	}}
	users := &mockUserReader{users: map[string]*models.User{"u1": {ID: "u1"}}}
	svc := newChildService(repo, users, UpdateWindow{})

	_, err := svc.Get(context.Background(), parentClaims("u1"), "c1")
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	// Admins bypass ownership.
	_, err = svc.Get(context.Background(), &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}, "c1")
	assert.NoError(t, err)
}

func TestUpdateWindowContains(t *testing.T) {
	window := UpdateWindow{Enabled: true, From: "04-01", To: "05-30"}

	assert.True(t, window.Contains(time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, window.Contains(time.Date(2026, time.May, 30, 23, 0, 0, 0, time.UTC)))
	assert.False(t, window.Contains(time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC)))
	assert.False(t, window.Contains(time.Date(2026, time.May, 31, 0, 0, 0, 0, time.UTC)))

	// Disabled windows never restrict.
	assert.True(t, UpdateWindow{}.Contains(time.Date(2026, time.December, 25, 0, 0, 0, 0, time.UTC)))

	// Wrapping windows cover the year boundary.
	wrap := UpdateWindow{Enabled: true, From: "12-01", To: "01-31"}
	assert.True(t, wrap.Contains(time.Date(2026, time.December, 15, 0, 0, 0, 0, time.UTC)))
	assert.True(t, wrap.Contains(time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)))
	assert.False(t, wrap.Contains(time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)))
}
