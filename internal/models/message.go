package models

import "time"

// Message is a teacher-authored announcement broadcast to a course roster.
type Message struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	AuthorID  string    `db:"author_id" json:"author_id"`
	Title     string    `db:"title" json:"title"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MessageFilter captures list criteria for announcements.
type MessageFilter struct {
	CourseID string
	AuthorID string
	Search   string
	Page     int
	PageSize int
}
