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

func newClassRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestClassRepositoryStartWinsWhenIdle(t *testing.T) {
	db, mock, cleanup := newClassRepoMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO classes")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	class := &models.Class{CourseID: "course-1", Latitude: 29.9457, Longitude: 78.1642, Radius: 25}
	started, err := repo.Start(context.Background(), class)
	require.NoError(t, err)
	require.True(t, started)
	require.NotEmpty(t, class.ID)
	require.True(t, class.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryStartLosesWhenRunning(t *testing.T) {
	db, mock, cleanup := newClassRepoMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO classes")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	started, err := repo.Start(context.Background(), &models.Class{CourseID: "course-1"})
	require.NoError(t, err)
	require.False(t, started)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryDismissRunning(t *testing.T) {
	db, mock, cleanup := newClassRepoMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE classes SET active = FALSE WHERE course_id = $1 AND active RETURNING id")).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("class-1"))

	id, err := repo.DismissRunning(context.Background(), "course-1")
	require.NoError(t, err)
	require.Equal(t, "class-1", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryDismissRunningIdleCourse(t *testing.T) {
	db, mock, cleanup := newClassRepoMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE classes SET active = FALSE WHERE course_id = $1 AND active RETURNING id")).
		WithArgs("course-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.DismissRunning(context.Background(), "course-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryDismissByIDStaleTimer(t *testing.T) {
	db, mock, cleanup := newClassRepoMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE classes SET active = FALSE WHERE id = $1 AND active")).
		WithArgs("class-old").
		WillReturnResult(sqlmock.NewResult(0, 0))

	dismissed, err := repo.DismissByID(context.Background(), "class-old")
	require.NoError(t, err)
	require.False(t, dismissed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryAddAttendeeDuplicate(t *testing.T) {
	db, mock, cleanup := newClassRepoMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_attendance (class_id, student_id) VALUES ($1, $2)")).
		WithArgs("class-1", "stu-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	added, err := repo.AddAttendee(context.Background(), "class-1", "stu-1")
	require.NoError(t, err)
	require.False(t, added)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryFindRunningByCourse(t *testing.T) {
	db, mock, cleanup := newClassRepoMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	rows := sqlmock.NewRows([]string{"id", "course_id", "latitude", "longitude", "radius", "active", "created_at"}).
		AddRow("class-1", "course-1", 29.9457, 78.1642, 25.0, true, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, course_id, latitude, longitude, radius, active, created_at FROM classes WHERE course_id = $1 AND active")).
		WithArgs("course-1").
		WillReturnRows(rows)

	class, err := repo.FindRunningByCourse(context.Background(), "course-1")
	require.NoError(t, err)
	require.Equal(t, "class-1", class.ID)
	require.True(t, class.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryListByCourseBetween(t *testing.T) {
	db, mock, cleanup := newClassRepoMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	rows := sqlmock.NewRows([]string{"id", "course_id", "latitude", "longitude", "radius", "active", "created_at"}).
		AddRow("class-1", "course-1", 29.9457, 78.1642, 25.0, false, from.Add(9*time.Hour)).
		AddRow("class-2", "course-1", 29.9457, 78.1642, 25.0, false, from.Add(14*time.Hour))
	mock.ExpectQuery("SELECT .+ FROM classes WHERE course_id = .+ AND created_at >= .+ AND created_at <").
		WithArgs("course-1", from, to).
		WillReturnRows(rows)

	classes, err := repo.ListByCourseBetween(context.Background(), "course-1", from, to)
	require.NoError(t, err)
	require.Len(t, classes, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newClassRepoMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM class_attendance WHERE class_id = $1")).
		WithArgs("class-404").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM classes WHERE id = $1")).
		WithArgs("class-404").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "class-404")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
