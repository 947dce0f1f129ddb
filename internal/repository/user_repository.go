package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/attendly/attendly-api/internal/models"
)

// UserRepository handles persistence of users.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository constructs the repository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, name, email, google_id, password_hash, profile_image, registration_no,
        role, status, parent_email, parent_phone, push_token, confirm_token, reset_token, reset_expires,
        created_at, updated_at`

// Create persists a new user record.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	const query = `INSERT INTO users (id, name, email, google_id, password_hash, profile_image, registration_no,
        role, status, parent_email, parent_phone, push_token, confirm_token, reset_token, reset_expires, created_at, updated_at)
        VALUES (:id, :name, :email, :google_id, :password_hash, :profile_image, :registration_no,
        :role, :status, :parent_email, :parent_phone, :push_token, :confirm_token, :reset_token, :reset_expires, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// FindByID returns a user by its ID.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail returns a user by email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		return nil, err
	}
	return &user, nil
}

// Activate flips a pending account to active by its confirmation code.
func (r *UserRepository) Activate(ctx context.Context, confirmToken string) (*models.User, error) {
	query := fmt.Sprintf(`UPDATE users SET status = $2, confirm_token = NULL, updated_at = $3
        WHERE confirm_token = $1 RETURNING %s`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, confirmToken, models.StatusActive, time.Now().UTC()); err != nil {
		return nil, err
	}
	return &user, nil
}

// SetResetToken stamps a reset token on the account with the given email.
func (r *UserRepository) SetResetToken(ctx context.Context, email, token string, expires time.Time) (*models.User, error) {
	query := fmt.Sprintf(`UPDATE users SET reset_token = $2, reset_expires = $3, updated_at = $4
        WHERE email = $1 RETURNING %s`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email, token, expires, time.Now().UTC()); err != nil {
		return nil, err
	}
	return &user, nil
}

// ResetPassword consumes an unexpired reset token and stores the new hash.
func (r *UserRepository) ResetPassword(ctx context.Context, token, passwordHash string) (*models.User, error) {
	query := fmt.Sprintf(`UPDATE users SET password_hash = $2, reset_token = NULL, reset_expires = NULL, updated_at = $3
        WHERE reset_token = $1 AND reset_expires > $3 RETURNING %s`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, token, passwordHash, time.Now().UTC()); err != nil {
		return nil, err
	}
	return &user, nil
}

// LinkGoogle attaches a Google identity to an existing account.
func (r *UserRepository) LinkGoogle(ctx context.Context, id, googleID, profileImage string) error {
	const query = `UPDATE users SET google_id = $2, profile_image = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, googleID, profileImage, time.Now().UTC()); err != nil {
		return fmt.Errorf("link google identity: %w", err)
	}
	return nil
}

// UpdateProfileParams carries the self-service profile fields. Nil pointers
// leave the stored value untouched.
type UpdateProfileParams struct {
	Name         *string `db:"name"`
	ProfileImage *string `db:"profile_image"`
	PushToken    *string `db:"push_token"`
	ParentEmail  *string `db:"parent_email"`
	ParentPhone  *string `db:"parent_phone"`
}

// UpdateProfile applies self-service profile changes.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, params UpdateProfileParams) error {
	const query = `UPDATE users SET
        name = COALESCE(:name, name),
        profile_image = COALESCE(:profile_image, profile_image),
        push_token = COALESCE(:push_token, push_token),
        parent_email = COALESCE(:parent_email, parent_email),
        parent_phone = COALESCE(:parent_phone, parent_phone),
        updated_at = :updated_at
        WHERE id = :id`
	args := struct {
		ID        string    `db:"id"`
		UpdatedAt time.Time `db:"updated_at"`
		UpdateProfileParams
	}{ID: id, UpdatedAt: time.Now().UTC(), UpdateProfileParams: params}
	res, err := r.db.NamedExecContext(ctx, query, args)
	if err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("update user profile: no such user %s", id)
	}
	return nil
}

// SetAccountState applies admin changes to a user account. Nil pointers
// leave the stored value untouched.
func (r *UserRepository) SetAccountState(ctx context.Context, id string, role *models.UserRole, status *models.UserStatus) error {
	const query = `UPDATE users SET
        role = COALESCE(:role, role),
        status = COALESCE(:status, status),
        updated_at = :updated_at
        WHERE id = :id`
	args := struct {
		ID        string             `db:"id"`
		Role      *models.UserRole   `db:"role"`
		Status    *models.UserStatus `db:"status"`
		UpdatedAt time.Time          `db:"updated_at"`
	}{ID: id, Role: role, Status: status, UpdatedAt: time.Now().UTC()}
	res, err := r.db.NamedExecContext(ctx, query, args)
	if err != nil {
		return fmt.Errorf("set account state: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("set account state: no such user %s", id)
	}
	return nil
}

// List returns users filtered by the provided criteria.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Role != nil {
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)+1))
		args = append(args, *filter.Role)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		userColumns, clause, size, offset)

	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM users" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	return users, total, nil
}

// ListStudents returns every active student account. The daily report sweep
// iterates this set.
func (r *UserRepository) ListStudents(ctx context.Context) ([]models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE role = $1 AND status = $2 ORDER BY created_at`, userColumns)
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, models.RoleStudent, models.StatusActive); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return users, nil
}

// PushTokens returns the non-empty push tokens for the given user ids.
func (r *UserRepository) PushTokens(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT push_token FROM users WHERE id IN (?) AND push_token IS NOT NULL`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("build push token query: %w", err)
	}
	query = r.db.Rebind(query)
	var tokens []string
	if err := r.db.SelectContext(ctx, &tokens, query, args...); err != nil {
		return nil, fmt.Errorf("list push tokens: %w", err)
	}
	return tokens, nil
}
