package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/attendly/attendly-api/internal/models"
)

// ClassRepository handles persistence of attendance sessions and check-ins.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

const classColumns = `id, course_id, latitude, longitude, radius, active, created_at`

// Start creates a new running session for the course. The insert is guarded
// by a NOT EXISTS check in the same statement, so under concurrent start
// attempts exactly one caller wins; the rest observe started == false.
func (r *ClassRepository) Start(ctx context.Context, class *models.Class) (bool, error) {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	if class.CreatedAt.IsZero() {
		class.CreatedAt = time.Now().UTC()
	}
	class.Active = true
	const query = `INSERT INTO classes (id, course_id, latitude, longitude, radius, active, created_at)
        SELECT $1, $2, $3, $4, $5, TRUE, $6
        WHERE NOT EXISTS (SELECT 1 FROM classes WHERE course_id = $2 AND active)`
	res, err := r.db.ExecContext(ctx, query, class.ID, class.CourseID, class.Latitude, class.Longitude, class.Radius, class.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("start class: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("start class: %w", err)
	}
	return affected > 0, nil
}

// FindByID returns a session by its ID.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	query := fmt.Sprintf(`SELECT %s FROM classes WHERE id = $1`, classColumns)
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// FindRunningByCourse returns the course's active session, if any.
func (r *ClassRepository) FindRunningByCourse(ctx context.Context, courseID string) (*models.Class, error) {
	query := fmt.Sprintf(`SELECT %s FROM classes WHERE course_id = $1 AND active`, classColumns)
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, courseID); err != nil {
		return nil, err
	}
	return &class, nil
}

// DismissRunning deactivates the course's running session and returns its id.
// sql.ErrNoRows means the course was already idle.
func (r *ClassRepository) DismissRunning(ctx context.Context, courseID string) (string, error) {
	const query = `UPDATE classes SET active = FALSE WHERE course_id = $1 AND active RETURNING id`
	var id string
	if err := r.db.GetContext(ctx, &id, query, courseID); err != nil {
		return "", err
	}
	return id, nil
}

// DismissByID deactivates one specific session. The id guard keeps a stale
// auto-dismiss timer from closing a newer session for the same course.
func (r *ClassRepository) DismissByID(ctx context.Context, classID string) (bool, error) {
	const query = `UPDATE classes SET active = FALSE WHERE id = $1 AND active`
	res, err := r.db.ExecContext(ctx, query, classID)
	if err != nil {
		return false, fmt.Errorf("dismiss class %s: %w", classID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dismiss class %s: %w", classID, err)
	}
	return affected > 0, nil
}

// AddAttendee records a check-in. Duplicate check-ins are absorbed by the
// conflict clause and reported as added == false.
func (r *ClassRepository) AddAttendee(ctx context.Context, classID, studentID string) (bool, error) {
	const query = `INSERT INTO class_attendance (class_id, student_id) VALUES ($1, $2)
        ON CONFLICT (class_id, student_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, classID, studentID)
	if err != nil {
		return false, fmt.Errorf("mark attendance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark attendance: %w", err)
	}
	return affected > 0, nil
}

// HasAttendee reports whether the student already checked into the session.
func (r *ClassRepository) HasAttendee(ctx context.Context, classID, studentID string) (bool, error) {
	var exists int
	const query = `SELECT 1 FROM class_attendance WHERE class_id = $1 AND student_id = $2 LIMIT 1`
	if err := r.db.GetContext(ctx, &exists, query, classID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check attendance: %w", err)
	}
	return true, nil
}

// AddAttendees inserts a batch of roster corrections, ignoring duplicates.
func (r *ClassRepository) AddAttendees(ctx context.Context, classID string, studentIDs []string) error {
	if len(studentIDs) == 0 {
		return nil
	}
	const query = `INSERT INTO class_attendance (class_id, student_id)
        SELECT $1, unnest($2::text[])
        ON CONFLICT (class_id, student_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, classID, pq.Array(studentIDs)); err != nil {
		return fmt.Errorf("add attendees: %w", err)
	}
	return nil
}

// RemoveAttendees drops the given students from the check-in set.
func (r *ClassRepository) RemoveAttendees(ctx context.Context, classID string, studentIDs []string) error {
	if len(studentIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM class_attendance WHERE class_id = ? AND student_id IN (?)`, classID, studentIDs)
	if err != nil {
		return fmt.Errorf("build attendance delete: %w", err)
	}
	query = r.db.Rebind(query)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("remove attendees: %w", err)
	}
	return nil
}

// Attendees returns the checked-in students with display fields.
func (r *ClassRepository) Attendees(ctx context.Context, classID string) ([]models.StudentInfo, error) {
	const query = `SELECT u.id, u.name, u.registration_no FROM class_attendance ca
        JOIN users u ON u.id = ca.student_id
        WHERE ca.class_id = $1 ORDER BY u.registration_no NULLS LAST, u.name`
	var students []models.StudentInfo
	if err := r.db.SelectContext(ctx, &students, query, classID); err != nil {
		return nil, fmt.Errorf("load class attendees: %w", err)
	}
	return students, nil
}

// AttendeeIDs returns just the checked-in student ids for a session.
func (r *ClassRepository) AttendeeIDs(ctx context.Context, classID string) ([]string, error) {
	var ids []string
	const query = `SELECT student_id FROM class_attendance WHERE class_id = $1`
	if err := r.db.SelectContext(ctx, &ids, query, classID); err != nil {
		return nil, fmt.Errorf("load attendee ids: %w", err)
	}
	return ids, nil
}

// ListByCourse returns a course's sessions, newest first.
func (r *ClassRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Class, error) {
	query := fmt.Sprintf(`SELECT %s FROM classes WHERE course_id = $1 ORDER BY created_at DESC`, classColumns)
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, courseID); err != nil {
		return nil, fmt.Errorf("list course classes: %w", err)
	}
	return classes, nil
}

// ListAttendedByCourse returns the course sessions the student checked into.
func (r *ClassRepository) ListAttendedByCourse(ctx context.Context, courseID, studentID string) ([]models.Class, error) {
	const query = `SELECT c.id, c.course_id, c.latitude, c.longitude, c.radius, c.active, c.created_at
        FROM classes c
        JOIN class_attendance ca ON ca.class_id = c.id
        WHERE c.course_id = $1 AND ca.student_id = $2 ORDER BY c.created_at DESC`
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, courseID, studentID); err != nil {
		return nil, fmt.Errorf("list attended classes: %w", err)
	}
	return classes, nil
}

// ListByCourseBetween returns the course sessions created inside [from, to).
func (r *ClassRepository) ListByCourseBetween(ctx context.Context, courseID string, from, to time.Time) ([]models.Class, error) {
	query := fmt.Sprintf(`SELECT %s FROM classes WHERE course_id = $1 AND created_at >= $2 AND created_at < $3 ORDER BY created_at`, classColumns)
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, courseID, from, to); err != nil {
		return nil, fmt.Errorf("list classes between: %w", err)
	}
	return classes, nil
}

// Delete removes a session and its check-ins.
func (r *ClassRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin class delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM class_attendance WHERE class_id = $1`, id); err != nil {
		return fmt.Errorf("delete class attendance: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit class delete: %w", err)
	}
	return nil
}
