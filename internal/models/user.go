package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleTeacher UserRole = "teacher"
	RoleStudent UserRole = "student"
)

// UserStatus tracks account activation.
type UserStatus string

const (
	StatusPending UserStatus = "pending"
	StatusActive  UserStatus = "active"
)

// User represents an application user stored in the users table.
// PasswordHash is empty for Google-only accounts.
type User struct {
	ID             string     `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	Email          string     `db:"email" json:"email"`
	GoogleID       *string    `db:"google_id" json:"-"`
	PasswordHash   *string    `db:"password_hash" json:"-"`
	ProfileImage   *string    `db:"profile_image" json:"profile_image,omitempty"`
	RegistrationNo *string    `db:"registration_no" json:"registration_no,omitempty"`
	Role           UserRole   `db:"role" json:"role"`
	Status         UserStatus `db:"status" json:"status"`
	ParentEmail    *string    `db:"parent_email" json:"parent_email,omitempty"`
	ParentPhone    *string    `db:"parent_phone" json:"parent_phone,omitempty"`
	PushToken      *string    `db:"push_token" json:"-"`
	ConfirmToken   *string    `db:"confirm_token" json:"-"`
	ResetToken     *string    `db:"reset_token" json:"-"`
	ResetExpires   *time.Time `db:"reset_expires" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// StudentInfo is the roster projection of a user.
type StudentInfo struct {
	ID             string  `db:"id" json:"id"`
	Name           string  `db:"name" json:"name"`
	RegistrationNo *string `db:"registration_no" json:"registration_no,omitempty"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role     *UserRole
	Status   *UserStatus
	Search   string
	Page     int
	PageSize int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
