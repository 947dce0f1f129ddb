package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/attendly/attendly-api/internal/models"
)

// CourseRepository handles persistence of courses and their rosters.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

const courseColumns = `id, name, code, teacher_id, radius, active_class, is_active, created_at, updated_at`

// Create persists a new course record.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, name, code, teacher_id, radius, active_class, is_active, created_at, updated_at)
        VALUES (:id, :name, :code, :teacher_id, :radius, :active_class, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE id = $1`, courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// FindByCode returns a course by its enrollment code.
func (r *CourseRepository) FindByCode(ctx context.Context, code string) (*models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE code = $1`, courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, code); err != nil {
		return nil, err
	}
	return &course, nil
}

// CodeExists reports whether the enrollment code is already taken.
func (r *CourseRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists int
	if err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM courses WHERE code = $1 LIMIT 1`, code); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check course code: %w", err)
	}
	return true, nil
}

// ListByTeacher returns courses owned by the given teacher.
func (r *CourseRepository) ListByTeacher(ctx context.Context, teacherID string) ([]models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE teacher_id = $1 ORDER BY created_at DESC`, courseColumns)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, teacherID); err != nil {
		return nil, fmt.Errorf("list teacher courses: %w", err)
	}
	return courses, nil
}

// ListByStudent returns courses the given student is enrolled in.
func (r *CourseRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Course, error) {
	const query = `SELECT c.id, c.name, c.code, c.teacher_id, c.radius, c.active_class, c.is_active, c.created_at, c.updated_at
        FROM courses c
        JOIN course_students cs ON cs.course_id = c.id
        WHERE cs.student_id = $1 ORDER BY c.created_at DESC`
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, studentID); err != nil {
		return nil, fmt.Errorf("list student courses: %w", err)
	}
	return courses, nil
}

// SetEnrollment toggles whether students may join the course.
func (r *CourseRepository) SetEnrollment(ctx context.Context, id string, open bool) error {
	const query = `UPDATE courses SET is_active = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, open, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("toggle course enrollment: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SyncActiveClass recomputes the running-session flag from the classes
// table. A recompute cannot go stale: even if a dismiss and a fresh start
// interleave, whichever statement lands last reads the current truth.
func (r *CourseRepository) SyncActiveClass(ctx context.Context, id string) error {
	const query = `UPDATE courses SET
        active_class = EXISTS (SELECT 1 FROM classes WHERE course_id = $1 AND active),
        updated_at = $2
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("sync active class flag: %w", err)
	}
	return nil
}

// AddStudent enrolls a student. Returns false when the student was already on
// the roster; the insert itself is a single atomic upsert.
func (r *CourseRepository) AddStudent(ctx context.Context, courseID, studentID string) (bool, error) {
	const query = `INSERT INTO course_students (course_id, student_id) VALUES ($1, $2)
        ON CONFLICT (course_id, student_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, courseID, studentID)
	if err != nil {
		return false, fmt.Errorf("enroll student: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enroll student: %w", err)
	}
	return affected > 0, nil
}

// RemoveStudents drops the given ids from the roster. Ids not on the roster
// are ignored.
func (r *CourseRepository) RemoveStudents(ctx context.Context, courseID string, studentIDs []string) error {
	if len(studentIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM course_students WHERE course_id = ? AND student_id IN (?)`, courseID, studentIDs)
	if err != nil {
		return fmt.Errorf("build roster delete: %w", err)
	}
	query = r.db.Rebind(query)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("remove students: %w", err)
	}
	return nil
}

// IsEnrolled reports roster membership.
func (r *CourseRepository) IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error) {
	var exists int
	const query = `SELECT 1 FROM course_students WHERE course_id = $1 AND student_id = $2 LIMIT 1`
	if err := r.db.GetContext(ctx, &exists, query, courseID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}

// Roster returns the enrolled students with their display fields.
func (r *CourseRepository) Roster(ctx context.Context, courseID string) ([]models.StudentInfo, error) {
	const query = `SELECT u.id, u.name, u.registration_no FROM course_students cs
        JOIN users u ON u.id = cs.student_id
        WHERE cs.course_id = $1 ORDER BY u.registration_no NULLS LAST, u.name`
	var students []models.StudentInfo
	if err := r.db.SelectContext(ctx, &students, query, courseID); err != nil {
		return nil, fmt.Errorf("load course roster: %w", err)
	}
	return students, nil
}

// RosterIDs returns just the enrolled student ids.
func (r *CourseRepository) RosterIDs(ctx context.Context, courseID string) ([]string, error) {
	var ids []string
	const query = `SELECT student_id FROM course_students WHERE course_id = $1`
	if err := r.db.SelectContext(ctx, &ids, query, courseID); err != nil {
		return nil, fmt.Errorf("load roster ids: %w", err)
	}
	return ids, nil
}

// Delete removes the course and everything owned by it in one transaction:
// session attendance, sessions, roster rows and announcements.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin course delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	steps := []string{
		`DELETE FROM class_attendance WHERE class_id IN (SELECT id FROM classes WHERE course_id = $1)`,
		`DELETE FROM classes WHERE course_id = $1`,
		`DELETE FROM course_students WHERE course_id = $1`,
		`DELETE FROM messages WHERE course_id = $1`,
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step, id); err != nil {
			return fmt.Errorf("cascade course delete: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit course delete: %w", err)
	}
	return nil
}
