package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exowa/exowa-api/internal/models"
	appErrors "github.com/exowa/exowa-api/pkg/errors"
)

type mockAuthRepo struct {
	users map[string]*models.User
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := m.FindByEmail(ctx, email)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (m *mockAuthRepo) Create(ctx context.Context, user *models.User) error {
	if m.users == nil {
		m.users = make(map[string]*models.User)
	}
	if user.ID == "" {
		user.ID = "new-user"
	}
	m.users[user.ID] = user
	return nil
}

func newAuthService(repo *mockAuthRepo) *AuthService {
	return NewAuthService(repo, nil, nil, AuthConfig{
		Secret:      "test_secret",
		Expiry:      24 * time.Hour,
		ChildExpiry: time.Hour,
		Issuer:      "test",
	})
}

func TestAuthServiceRegisterAndLogin(t *testing.T) {
	repo := &mockAuthRepo{}
	svc := newAuthService(repo)

	resp, err := svc.Register(context.Background(), models.RegisterRequest{
		Name:     "Parent",
		Email:    "parent@example.com",
		Password: "secret123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, models.RoleParent, resp.User.Role)

	login, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "parent@example.com",
		Password: "secret123",
	})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)
	assert.Equal(t, models.RoleParent, claims.Role)
}

func TestAuthServiceRegisterDuplicateEmail(t *testing.T) {
	repo := &mockAuthRepo{}
	svc := newAuthService(repo)

	_, err := svc.Register(context.Background(), models.RegisterRequest{Name: "A", Email: "a@example.com", Password: "secret123"})
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), models.RegisterRequest{Name: "B", Email: "a@example.com", Password: "secret456"})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	repo := &mockAuthRepo{}
	svc := newAuthService(repo)

	_, err := svc.Register(context.Background(), models.RegisterRequest{Name: "A", Email: "a@example.com", Password: "secret123"})
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "a@example.com", Password: "wrong-pass"})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
}

func TestAuthServiceChildToken(t *testing.T) {
	svc := newAuthService(&mockAuthRepo{})

	token, expiry, err := svc.IssueChildToken(&models.Child{ID: "c1", Name: "Asha", Grade: "5"})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, expiry)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "c1", claims.UserID)
	assert.Equal(t, models.RoleChild, claims.Role)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestAuthServiceValidateTokenRejectsTampered(t *testing.T) {
	svc := newAuthService(&mockAuthRepo{})
	other := NewAuthService(&mockAuthRepo{}, nil, nil, AuthConfig{Secret: "other_secret", Expiry: time.Hour})

	token, _, err := other.IssueChildToken(&models.Child{ID: "c1"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}
