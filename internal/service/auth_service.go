package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/pkg/config"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
	"github.com/attendly/attendly-api/pkg/jobs"
	"github.com/attendly/attendly-api/pkg/mailer"
)

type authUserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Activate(ctx context.Context, confirmToken string) (*models.User, error)
	SetResetToken(ctx context.Context, email, token string, expires time.Time) (*models.User, error)
	ResetPassword(ctx context.Context, token, passwordHash string) (*models.User, error)
	LinkGoogle(ctx context.Context, id, googleID, profileImage string) error
}

type jobQueue interface {
	Enqueue(job jobs.Job) error
}

// AuthConfig defines configuration for the authentication flows.
type AuthConfig struct {
	JWT         config.JWTConfig
	Institution config.InstitutionConfig
	BaseURL     string
	ResetTTL    time.Duration
}

// AuthService provides signup, confirmation, login and recovery use cases.
type AuthService struct {
	repo      authUserRepository
	mailQueue jobQueue
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig

	emailRe   *regexp.Regexp
	studentRe *regexp.Regexp
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, mailQueue jobQueue, validate *validator.Validate, logger *zap.Logger, cfg AuthConfig) (*AuthService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	emailRe, err := regexp.Compile(cfg.Institution.EmailPattern)
	if err != nil {
		return nil, fmt.Errorf("compile institution email pattern: %w", err)
	}
	studentRe, err := regexp.Compile(cfg.Institution.StudentPattern)
	if err != nil {
		return nil, fmt.Errorf("compile student email pattern: %w", err)
	}
	return &AuthService{
		repo:      repo,
		mailQueue: mailQueue,
		validator: validate,
		logger:    logger,
		config:    cfg,
		emailRe:   emailRe,
		studentRe: studentRe,
	}, nil
}

// SignUp registers a pending account and queues the confirmation email.
func (s *AuthService) SignUp(ctx context.Context, req models.SignUpRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid signup payload")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !s.emailRe.MatchString(email) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "please sign up with your institutional email address")
	}

	if existing, err := s.repo.FindByEmail(ctx, email); err == nil && existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an account with this email already exists")
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing account")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	token, err := randomToken()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate confirmation token")
	}

	hashStr := string(hash)
	user := &models.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		PasswordHash: &hashStr,
		Role:         s.roleForEmail(email),
		Status:       models.StatusPending,
		ConfirmToken: &token,
	}
	if reg := s.registrationNoFor(email, user.Role); reg != "" {
		user.RegistrationNo = &reg
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}

	confirmURL := fmt.Sprintf("%s/auth/confirm/%s", s.config.BaseURL, token)
	s.enqueueMail(mailer.ConfirmAccount(user.Email, user.Name, confirmURL))

	return user, nil
}

// Confirm activates the account matching the confirmation token.
func (s *AuthService) Confirm(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "missing confirmation token")
	}
	user, err := s.repo.Activate(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invalid or already used confirmation token")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm account")
	}
	return user, nil
}

// Login authenticates credentials and returns a signed token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if user.PasswordHash == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "this account uses Google sign-in")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}
	if user.Status != models.StatusActive {
		return nil, appErrors.Clone(appErrors.ErrAccountPending, "please confirm your email address first")
	}

	return s.issueToken(user)
}

// GoogleAuth signs a user in with a verified Google profile, creating the
// account on first sight. Google-backed accounts skip email confirmation
// since the address is already verified by the provider.
func (s *AuthService) GoogleAuth(ctx context.Context, req models.GoogleAuthRequest) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid google auth payload")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !s.emailRe.MatchString(email) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "please sign in with your institutional email address")
	}

	user, err := s.repo.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if user.GoogleID == nil {
			if err := s.repo.LinkGoogle(ctx, user.ID, req.GoogleID, req.ProfileImage); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to link google account")
			}
			user.GoogleID = &req.GoogleID
			if req.ProfileImage != "" {
				user.ProfileImage = &req.ProfileImage
			}
		}
	case errors.Is(err, sql.ErrNoRows):
		user = &models.User{
			Name:     strings.TrimSpace(req.Name),
			Email:    email,
			GoogleID: &req.GoogleID,
			Role:     s.roleForEmail(email),
			Status:   models.StatusActive,
		}
		if req.ProfileImage != "" {
			user.ProfileImage = &req.ProfileImage
		}
		if reg := s.registrationNoFor(email, user.Role); reg != "" {
			user.RegistrationNo = &reg
		}
		if err := s.repo.Create(ctx, user); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
		}
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	return s.issueToken(user)
}

// Recover starts the password reset flow. It reports success whether or not
// the address exists, so callers cannot probe for accounts.
func (s *AuthService) Recover(ctx context.Context, req models.RecoverRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid recover payload")
	}

	token, err := randomToken()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate reset token")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := s.repo.SetResetToken(ctx, email, token, time.Now().UTC().Add(s.config.ResetTTL))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Debug("password recovery for unknown email", zap.String("email", email))
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set reset token")
	}

	resetURL := fmt.Sprintf("%s/auth/reset/%s", s.config.BaseURL, token)
	s.enqueueMail(mailer.PasswordReset(user.Email, user.Name, resetURL))
	return nil
}

// ResetPassword completes the reset flow with the emailed token.
func (s *AuthService) ResetPassword(ctx context.Context, token string, req models.ResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset payload")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user, err := s.repo.ResetPassword(ctx, token, string(hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "invalid or expired reset token")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset password")
	}

	s.enqueueMail(mailer.PasswordChanged(user.Email, user.Name, user.Email))
	return nil
}

// ValidateToken parses and verifies an access token.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	claims := &models.JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.config.JWT.Secret), nil
	})
	if err != nil || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired token")
	}
	return claims, nil
}

func (s *AuthService) issueToken(user *models.User) (*models.AuthResponse, error) {
	now := time.Now().UTC()
	claims := models.JWTClaims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.config.JWT.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.JWT.Expiration)),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.JWT.Secret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign token")
	}
	return &models.AuthResponse{
		Token:     token,
		User:      user,
		ExpiresIn: int64(s.config.JWT.Expiration.Seconds()),
		IssuedAt:  now,
	}, nil
}

func (s *AuthService) roleForEmail(email string) models.UserRole {
	if s.studentRe.MatchString(email) {
		return models.RoleStudent
	}
	return models.RoleTeacher
}

// registrationNoFor pulls the leading digits off a student address.
func (s *AuthService) registrationNoFor(email string, role models.UserRole) string {
	if role != models.RoleStudent {
		return ""
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	return email[:at]
}

func (s *AuthService) enqueueMail(msg mailer.Message) {
	if s.mailQueue == nil {
		return
	}
	if err := s.mailQueue.Enqueue(jobs.Job{Type: "mail", Payload: msg}); err != nil {
		s.logger.Warn("failed to enqueue mail", zap.Error(err))
	}
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
