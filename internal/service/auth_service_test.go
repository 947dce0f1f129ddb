package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/pkg/config"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
	"github.com/attendly/attendly-api/pkg/jobs"
)

const (
	testEmailPattern   = `^[a-zA-Z0-9+_.-]+@gkv\.ac\.in$`
	testStudentPattern = `^\d{9}@gkv\.ac\.in$`
)

type mockQueue struct {
	jobs       []jobs.Job
	enqueueErr error
}

func (m *mockQueue) Enqueue(job jobs.Job) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.jobs = append(m.jobs, job)
	return nil
}

type mockAuthRepo struct {
	created     []*models.User
	userByEmail *models.User
	activated   *models.User
	resetUser   *models.User
	linkedID    string

	findByEmailErr   error
	activateErr      error
	setResetErr      error
	resetPasswordErr error
}

func (m *mockAuthRepo) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = "usr-new"
	}
	m.created = append(m.created, user)
	return nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.userByEmail != nil && m.userByEmail.ID == id {
		return m.userByEmail, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	if m.userByEmail == nil {
		return nil, sql.ErrNoRows
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) Activate(ctx context.Context, confirmToken string) (*models.User, error) {
	if m.activateErr != nil {
		return nil, m.activateErr
	}
	if m.activated == nil {
		return nil, sql.ErrNoRows
	}
	return m.activated, nil
}

func (m *mockAuthRepo) SetResetToken(ctx context.Context, email, token string, expires time.Time) (*models.User, error) {
	if m.setResetErr != nil {
		return nil, m.setResetErr
	}
	if m.resetUser == nil {
		return nil, sql.ErrNoRows
	}
	return m.resetUser, nil
}

func (m *mockAuthRepo) ResetPassword(ctx context.Context, token, passwordHash string) (*models.User, error) {
	if m.resetPasswordErr != nil {
		return nil, m.resetPasswordErr
	}
	if m.resetUser == nil {
		return nil, sql.ErrNoRows
	}
	return m.resetUser, nil
}

func (m *mockAuthRepo) LinkGoogle(ctx context.Context, id, googleID, profileImage string) error {
	m.linkedID = googleID
	return nil
}

func newTestAuthService(t *testing.T, repo *mockAuthRepo, queue *mockQueue) *AuthService {
	t.Helper()
	svc, err := NewAuthService(repo, queue, validator.New(), zap.NewNop(), AuthConfig{
		JWT:         config.JWTConfig{Secret: "secret", Expiration: time.Hour, Issuer: "attendly"},
		Institution: config.InstitutionConfig{EmailPattern: testEmailPattern, StudentPattern: testStudentPattern},
		BaseURL:     "http://localhost:8080",
	})
	require.NoError(t, err)
	return svc
}

func TestAuthServiceSignUpStudent(t *testing.T) {
	repo := &mockAuthRepo{}
	queue := &mockQueue{}
	svc := newTestAuthService(t, repo, queue)

	user, err := svc.SignUp(context.Background(), models.SignUpRequest{
		Name:     "Asha Verma",
		Email:    "196301045@gkv.ac.in",
		Password: "secret123",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.Equal(t, models.StatusPending, user.Status)
	require.NotNil(t, user.RegistrationNo)
	assert.Equal(t, "196301045", *user.RegistrationNo)
	require.NotNil(t, user.ConfirmToken)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, "mail", queue.jobs[0].Type)
}

func TestAuthServiceSignUpTeacher(t *testing.T) {
	repo := &mockAuthRepo{}
	svc := newTestAuthService(t, repo, &mockQueue{})

	user, err := svc.SignUp(context.Background(), models.SignUpRequest{
		Name:     "R. Sharma",
		Email:    "rsharma@gkv.ac.in",
		Password: "secret123",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleTeacher, user.Role)
	assert.Nil(t, user.RegistrationNo)
}

func TestAuthServiceSignUpRejectsOutsideEmail(t *testing.T) {
	svc := newTestAuthService(t, &mockAuthRepo{}, &mockQueue{})

	_, err := svc.SignUp(context.Background(), models.SignUpRequest{
		Name:     "Someone Else",
		Email:    "someone@gmail.com",
		Password: "secret123",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceSignUpDuplicate(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "usr-1", Email: "196301045@gkv.ac.in"}}
	svc := newTestAuthService(t, repo, &mockQueue{})

	_, err := svc.SignUp(context.Background(), models.SignUpRequest{
		Name:     "Asha Verma",
		Email:    "196301045@gkv.ac.in",
		Password: "secret123",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.DefaultCost)
	hashStr := string(hash)
	repo := &mockAuthRepo{userByEmail: &models.User{
		ID:           "usr-1",
		Email:        "196301045@gkv.ac.in",
		PasswordHash: &hashStr,
		Role:         models.RoleStudent,
		Status:       models.StatusActive,
	}}
	svc := newTestAuthService(t, repo, &mockQueue{})

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "196301045@gkv.ac.in", Password: "secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "usr-1", res.User.ID)

	claims, err := svc.ValidateToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "usr-1", claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
}

func TestAuthServiceLoginPendingAccount(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.DefaultCost)
	hashStr := string(hash)
	repo := &mockAuthRepo{userByEmail: &models.User{
		ID:           "usr-1",
		Email:        "196301045@gkv.ac.in",
		PasswordHash: &hashStr,
		Status:       models.StatusPending,
	}}
	svc := newTestAuthService(t, repo, &mockQueue{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "196301045@gkv.ac.in", Password: "secret123"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAccountPending.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginGoogleOnlyAccount(t *testing.T) {
	gid := "google-123"
	repo := &mockAuthRepo{userByEmail: &models.User{
		ID:       "usr-1",
		Email:    "196301045@gkv.ac.in",
		GoogleID: &gid,
		Status:   models.StatusActive,
	}}
	svc := newTestAuthService(t, repo, &mockQueue{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "196301045@gkv.ac.in", Password: "secret123"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceGoogleAuthCreatesActiveAccount(t *testing.T) {
	repo := &mockAuthRepo{}
	svc := newTestAuthService(t, repo, &mockQueue{})

	res, err := svc.GoogleAuth(context.Background(), models.GoogleAuthRequest{
		Name:     "Asha Verma",
		Email:    "196301045@gkv.ac.in",
		GoogleID: "google-123",
	})
	require.NoError(t, err)
	require.Len(t, repo.created, 1)
	assert.Equal(t, models.StatusActive, repo.created[0].Status)
	assert.Equal(t, models.RoleStudent, repo.created[0].Role)
	assert.NotEmpty(t, res.Token)
}

func TestAuthServiceGoogleAuthLinksExisting(t *testing.T) {
	hash := "$2a$10$hash"
	repo := &mockAuthRepo{userByEmail: &models.User{
		ID:           "usr-1",
		Email:        "196301045@gkv.ac.in",
		PasswordHash: &hash,
		Status:       models.StatusActive,
	}}
	svc := newTestAuthService(t, repo, &mockQueue{})

	res, err := svc.GoogleAuth(context.Background(), models.GoogleAuthRequest{
		Name:     "Asha Verma",
		Email:    "196301045@gkv.ac.in",
		GoogleID: "google-123",
	})
	require.NoError(t, err)
	assert.Equal(t, "google-123", repo.linkedID)
	assert.Empty(t, repo.created)
	assert.NotEmpty(t, res.Token)
}

func TestAuthServiceRecoverUnknownEmailStaysQuiet(t *testing.T) {
	queue := &mockQueue{}
	svc := newTestAuthService(t, &mockAuthRepo{}, queue)

	err := svc.Recover(context.Background(), models.RecoverRequest{Email: "nobody@gkv.ac.in"})
	require.NoError(t, err)
	assert.Empty(t, queue.jobs)
}

func TestAuthServiceRecoverQueuesResetMail(t *testing.T) {
	queue := &mockQueue{}
	repo := &mockAuthRepo{resetUser: &models.User{ID: "usr-1", Name: "Asha", Email: "196301045@gkv.ac.in"}}
	svc := newTestAuthService(t, repo, queue)

	err := svc.Recover(context.Background(), models.RecoverRequest{Email: "196301045@gkv.ac.in"})
	require.NoError(t, err)
	require.Len(t, queue.jobs, 1)
}

func TestAuthServiceResetPasswordBadToken(t *testing.T) {
	svc := newTestAuthService(t, &mockAuthRepo{}, &mockQueue{})

	err := svc.ResetPassword(context.Background(), "bogus", models.ResetPasswordRequest{Password: "newsecret"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceConfirm(t *testing.T) {
	repo := &mockAuthRepo{activated: &models.User{ID: "usr-1", Status: models.StatusActive}}
	svc := newTestAuthService(t, repo, &mockQueue{})

	user, err := svc.Confirm(context.Background(), "token-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, user.Status)

	repo.activated = nil
	_, err = svc.Confirm(context.Background(), "token-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateTokenRejectsGarbage(t *testing.T) {
	svc := newTestAuthService(t, &mockAuthRepo{}, &mockQueue{})

	_, err := svc.ValidateToken("not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
