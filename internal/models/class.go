package models

import (
	"time"

	"github.com/attendly/attendly-api/pkg/geo"
)

// Class is one attendance-taking session for a course, bounded by a geofence
// and a time limit. A dismissed class is never reactivated.
type Class struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	Latitude  float64   `db:"latitude" json:"latitude"`
	Longitude float64   `db:"longitude" json:"longitude"`
	Radius    float64   `db:"radius" json:"radius"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Center returns the session geofence center.
func (c Class) Center() geo.Point {
	return geo.Point{Latitude: c.Latitude, Longitude: c.Longitude}
}

// ClassDetail adds the checked-in roster to a session.
type ClassDetail struct {
	Class
	Attendees []StudentInfo `json:"attendees"`
}

// StartClassRequest opens an attendance session centered on the teacher's
// current location.
type StartClassRequest struct {
	CourseID  string  `json:"course_id" validate:"required"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Radius    float64 `json:"radius" validate:"omitempty,gt=0,lte=5000"`
}

// MarkRequest checks the calling student into a running session.
type MarkRequest struct {
	CourseID  string  `json:"course_id" validate:"required"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// EditRosterRequest corrects the attendance record of a past session.
type EditRosterRequest struct {
	PresentIDs []string `json:"present_ids"`
	AbsentIDs  []string `json:"absent_ids"`
}
