package repository

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	appErrors "github.com/attendly/attendly-api/pkg/errors"
)

type memoryRosterCache struct {
	entries map[string][]byte
	deleted []string
}

func newMemoryRosterCache() *memoryRosterCache {
	return &memoryRosterCache{entries: make(map[string][]byte)}
}

func (c *memoryRosterCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryRosterCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *memoryRosterCache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(c.entries, key)
		c.deleted = append(c.deleted, key)
	}
	return nil
}

func TestCachedCourseRepositoryServesRosterIDsFromCache(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCachedCourseRepository(NewCourseRepository(db), newMemoryRosterCache(), time.Minute, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id FROM course_students WHERE course_id = $1")).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow("stu-1").AddRow("stu-2"))

	ids, err := repo.RosterIDs(context.Background(), "course-1")
	require.NoError(t, err)
	require.Equal(t, []string{"stu-1", "stu-2"}, ids)

	// Second read must not touch the database.
	ids, err = repo.RosterIDs(context.Background(), "course-1")
	require.NoError(t, err)
	require.Equal(t, []string{"stu-1", "stu-2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedCourseRepositoryInvalidatesOnRemoval(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	cache := newMemoryRosterCache()
	repo := NewCachedCourseRepository(NewCourseRepository(db), cache, time.Minute, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id FROM course_students WHERE course_id = $1")).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow("stu-1").AddRow("stu-2"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM course_students WHERE course_id = $1 AND student_id IN ($2)")).
		WithArgs("course-1", "stu-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id FROM course_students WHERE course_id = $1")).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow("stu-1"))

	_, err := repo.RosterIDs(context.Background(), "course-1")
	require.NoError(t, err)

	require.NoError(t, repo.RemoveStudents(context.Background(), "course-1", []string{"stu-2"}))
	require.Contains(t, cache.deleted, rosterIDsKey("course-1"))
	require.Contains(t, cache.deleted, rosterKey("course-1"))

	ids, err := repo.RosterIDs(context.Background(), "course-1")
	require.NoError(t, err)
	require.Equal(t, []string{"stu-1"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
