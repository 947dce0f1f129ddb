package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/attendly/attendly-api/internal/models"
)

func newCourseRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "postgres"), mock, func() { db.Close() }
}

func TestCourseRepositoryFindByCode(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	rows := sqlmock.NewRows([]string{"id", "name", "code", "teacher_id", "radius", "active_class", "is_active", "created_at", "updated_at"}).
		AddRow("course-1", "Data Structures", "ax7c0d", "tch-1", 50.0, false, true, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, code, teacher_id, radius, active_class, is_active, created_at, updated_at FROM courses WHERE code = $1")).
		WithArgs("ax7c0d").
		WillReturnRows(rows)

	course, err := repo.FindByCode(context.Background(), "ax7c0d")
	require.NoError(t, err)
	require.Equal(t, "course-1", course.ID)
	require.True(t, course.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryAddStudentSetSemantics(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO course_students (course_id, student_id) VALUES ($1, $2)")).
		WithArgs("course-1", "stu-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO course_students (course_id, student_id) VALUES ($1, $2)")).
		WithArgs("course-1", "stu-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	added, err := repo.AddStudent(context.Background(), "course-1", "stu-1")
	require.NoError(t, err)
	require.True(t, added)

	added, err = repo.AddStudent(context.Background(), "course-1", "stu-1")
	require.NoError(t, err)
	require.False(t, added)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositorySetEnrollmentMissingCourse(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET is_active = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("course-404", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetEnrollment(context.Background(), "course-404", false)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryListByStudent(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	rows := sqlmock.NewRows([]string{"id", "name", "code", "teacher_id", "radius", "active_class", "is_active", "created_at", "updated_at"}).
		AddRow("course-1", "Data Structures", "ax7c0d", "tch-1", 50.0, false, true, time.Now(), time.Now())
	mock.ExpectQuery("SELECT c.id, .+ FROM courses c").
		WithArgs("stu-1").
		WillReturnRows(rows)

	courses, err := repo.ListByStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, courses, 1)
	require.Equal(t, "ax7c0d", courses[0].Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryRoster(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	reg := "196301045"
	rows := sqlmock.NewRows([]string{"id", "name", "registration_no"}).
		AddRow("stu-1", "Asha Verma", &reg)
	mock.ExpectQuery("SELECT u.id, u.name, u.registration_no FROM course_students cs").
		WithArgs("course-1").
		WillReturnRows(rows)

	students, err := repo.Roster(context.Background(), "course-1")
	require.NoError(t, err)
	require.Len(t, students, 1)
	require.Equal(t, "Asha Verma", students[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryDeleteCascade(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM class_attendance").
		WithArgs("course-1").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM classes WHERE course_id = $1")).
		WithArgs("course-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM course_students WHERE course_id = $1")).
		WithArgs("course-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM messages WHERE course_id = $1")).
		WithArgs("course-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM courses WHERE id = $1")).
		WithArgs("course-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Delete(context.Background(), "course-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec("INSERT INTO courses").
		WillReturnResult(sqlmock.NewResult(0, 1))

	course := &models.Course{Name: "Data Structures", Code: "ax7c0d", TeacherID: "tch-1", Radius: 50}
	err := repo.Create(context.Background(), course)
	require.NoError(t, err)
	require.NotEmpty(t, course.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositorySyncActiveClassRecomputes(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("active_class = EXISTS (SELECT 1 FROM classes WHERE course_id = $1 AND active)")).
		WithArgs("course-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SyncActiveClass(context.Background(), "course-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
