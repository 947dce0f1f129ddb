package models

import "time"

// Course groups students under one owning teacher. Code is the short random
// string students use to self-enroll.
type Course struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Code        string    `db:"code" json:"code"`
	TeacherID   string    `db:"teacher_id" json:"teacher_id"`
	Radius      float64   `db:"radius" json:"radius"`
	ActiveClass bool      `db:"active_class" json:"active_class"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CourseDetail adds the enrollment roster to a course.
type CourseDetail struct {
	Course
	Students []StudentInfo `json:"students"`
}

// InviteOutcome reports the result of one bulk-invite address.
type InviteOutcome struct {
	Email  string `json:"email"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

const (
	InviteEnrolled = "enrolled"
	InviteCreated  = "created"
	InviteSkipped  = "skipped"
)

// CreateCourseRequest creates a course owned by the calling teacher.
type CreateCourseRequest struct {
	Name   string  `json:"name" validate:"required,min=2"`
	Radius float64 `json:"radius" validate:"omitempty,gt=0,lte=5000"`
}

// EnrollRequest joins the calling student to a course by its code.
type EnrollRequest struct {
	Code string `json:"code" validate:"required"`
}

// RemoveStudentsRequest drops students from a course roster.
type RemoveStudentsRequest struct {
	StudentIDs []string `json:"student_ids" validate:"required,min=1,dive,required"`
}
