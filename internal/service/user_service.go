package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/internal/repository"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, id string, params repository.UpdateProfileParams) error
	SetAccountState(ctx context.Context, id string, role *models.UserRole, status *models.UserStatus) error
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
}

// UpdateProfileRequest carries self-service profile changes. Absent fields
// stay untouched.
type UpdateProfileRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=3"`
	ProfileImage *string `json:"profile_image" validate:"omitempty,url"`
	PushToken    *string `json:"push_token"`
	ParentEmail  *string `json:"parent_email" validate:"omitempty,email"`
	ParentPhone  *string `json:"parent_phone" validate:"omitempty,min=7,max=20"`
}

// UserService exposes profile and directory use cases.
type UserService struct {
	repo      userRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService constructs a UserService instance.
func NewUserService(repo userRepository, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, validator: validate, logger: logger}
}

// Get returns one user by id.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// UpdateProfile applies the caller's own profile changes.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}
	if req.Name == nil && req.ProfileImage == nil && req.PushToken == nil && req.ParentEmail == nil && req.ParentPhone == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nothing to update")
	}
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		req.Name = &trimmed
	}

	params := repository.UpdateProfileParams{
		Name:         req.Name,
		ProfileImage: req.ProfileImage,
		PushToken:    req.PushToken,
		ParentEmail:  req.ParentEmail,
		ParentPhone:  req.ParentPhone,
	}
	if err := s.repo.UpdateProfile(ctx, userID, params); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}
	return s.Get(ctx, userID)
}

// AccountUpdate is one admin change to a user account.
type AccountUpdate struct {
	ID     string             `json:"id" validate:"required"`
	Role   *models.UserRole   `json:"role" validate:"omitempty,oneof=student teacher admin"`
	Status *models.UserStatus `json:"status" validate:"omitempty,oneof=pending active"`
}

// BulkUpdateRequest applies admin changes to several accounts at once.
type BulkUpdateRequest struct {
	Updates []AccountUpdate `json:"updates" validate:"required,min=1,dive"`
}

// BulkUpdate applies role and status changes per account. A failing account
// is logged and skipped so one bad id cannot abort the batch. Returns the
// number of accounts updated.
func (s *UserService) BulkUpdate(ctx context.Context, req BulkUpdateRequest) (int, error) {
	if err := s.validator.Struct(req); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk update payload")
	}

	updated := 0
	for _, update := range req.Updates {
		if update.Role == nil && update.Status == nil {
			continue
		}
		if err := s.repo.SetAccountState(ctx, update.ID, update.Role, update.Status); err != nil {
			s.logger.Warn("account update failed", zap.String("user_id", update.ID), zap.Error(err))
			continue
		}
		updated++
	}
	return updated, nil
}

// List returns users for the admin directory.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return users, pagination, nil
}
