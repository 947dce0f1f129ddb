package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/internal/repository"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
)

type mockUserRepo struct {
	user       *models.User
	lastParams repository.UpdateProfileParams
	users      []models.User
	total      int
	stateCalls []string
	stateErr   error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.user == nil || m.user.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, id string, params repository.UpdateProfileParams) error {
	m.lastParams = params
	return nil
}

func (m *mockUserRepo) SetAccountState(ctx context.Context, id string, role *models.UserRole, status *models.UserStatus) error {
	if m.stateErr != nil {
		return m.stateErr
	}
	m.stateCalls = append(m.stateCalls, id)
	return nil
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	return m.users, m.total, nil
}

func TestUserServiceGetUnknown(t *testing.T) {
	svc := NewUserService(&mockUserRepo{}, validator.New(), zap.NewNop())

	_, err := svc.Get(context.Background(), "usr-404")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUserServiceUpdateProfile(t *testing.T) {
	repo := &mockUserRepo{user: &models.User{ID: "usr-1", Name: "Asha"}}
	svc := NewUserService(repo, validator.New(), zap.NewNop())

	name := "  Asha Verma "
	parent := "parent@example.com"
	user, err := svc.UpdateProfile(context.Background(), "usr-1", UpdateProfileRequest{Name: &name, ParentEmail: &parent})
	require.NoError(t, err)
	assert.Equal(t, "usr-1", user.ID)
	require.NotNil(t, repo.lastParams.Name)
	assert.Equal(t, "Asha Verma", *repo.lastParams.Name)
	require.NotNil(t, repo.lastParams.ParentEmail)
	assert.Nil(t, repo.lastParams.PushToken)
}

func TestUserServiceUpdateProfileEmptyPayload(t *testing.T) {
	svc := NewUserService(&mockUserRepo{}, validator.New(), zap.NewNop())

	_, err := svc.UpdateProfile(context.Background(), "usr-1", UpdateProfileRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceUpdateProfileBadParentEmail(t *testing.T) {
	bad := "not-an-email"
	svc := NewUserService(&mockUserRepo{}, validator.New(), zap.NewNop())

	_, err := svc.UpdateProfile(context.Background(), "usr-1", UpdateProfileRequest{ParentEmail: &bad})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceBulkUpdate(t *testing.T) {
	repo := &mockUserRepo{}
	svc := NewUserService(repo, validator.New(), zap.NewNop())

	role := models.RoleTeacher
	status := models.StatusActive
	updated, err := svc.BulkUpdate(context.Background(), BulkUpdateRequest{Updates: []AccountUpdate{
		{ID: "usr-1", Role: &role},
		{ID: "usr-2", Status: &status},
		{ID: "usr-3"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, updated)
	assert.Equal(t, []string{"usr-1", "usr-2"}, repo.stateCalls)
}

func TestUserServiceBulkUpdateEmpty(t *testing.T) {
	svc := NewUserService(&mockUserRepo{}, validator.New(), zap.NewNop())

	_, err := svc.BulkUpdate(context.Background(), BulkUpdateRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceListDefaultsPagination(t *testing.T) {
	repo := &mockUserRepo{users: []models.User{{ID: "usr-1"}}, total: 41}
	svc := NewUserService(repo, validator.New(), zap.NewNop())

	users, pagination, err := svc.List(context.Background(), models.UserFilter{})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, 41, pagination.TotalCount)
}
