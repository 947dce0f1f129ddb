package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/attendly/attendly-api/internal/models"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
)

type rosterCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CachedCourseRepository layers a Redis roster cache over CourseRepository.
// Roster reads run on every session-start notification fan-out, so they are
// served from cache between enrollment changes. All other operations pass
// through.
type CachedCourseRepository struct {
	*CourseRepository

	cache  rosterCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedCourseRepository wraps the repository with roster caching.
func NewCachedCourseRepository(repo *CourseRepository, cache rosterCache, ttl time.Duration, logger *zap.Logger) *CachedCourseRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedCourseRepository{CourseRepository: repo, cache: cache, ttl: ttl, logger: logger}
}

func rosterKey(courseID string) string {
	return fmt.Sprintf("course:%s:roster", courseID)
}

func rosterIDsKey(courseID string) string {
	return fmt.Sprintf("course:%s:roster_ids", courseID)
}

// Roster serves the enrolled-student listing from cache when possible.
func (r *CachedCourseRepository) Roster(ctx context.Context, courseID string) ([]models.StudentInfo, error) {
	key := rosterKey(courseID)
	var cached []models.StudentInfo
	err := r.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, appErrors.ErrCacheMiss) {
		r.logger.Warn("roster cache read failed", zap.String("key", key), zap.Error(err))
	}

	roster, err := r.CourseRepository.Roster(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, key, roster, r.ttl); err != nil {
		r.logger.Warn("roster cache write failed", zap.String("key", key), zap.Error(err))
	}
	return roster, nil
}

// RosterIDs serves the enrolled-student id set from cache when possible.
func (r *CachedCourseRepository) RosterIDs(ctx context.Context, courseID string) ([]string, error) {
	key := rosterIDsKey(courseID)
	var cached []string
	err := r.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, appErrors.ErrCacheMiss) {
		r.logger.Warn("roster cache read failed", zap.String("key", key), zap.Error(err))
	}

	ids, err := r.CourseRepository.RosterIDs(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, key, ids, r.ttl); err != nil {
		r.logger.Warn("roster cache write failed", zap.String("key", key), zap.Error(err))
	}
	return ids, nil
}

// AddStudent invalidates the cached roster after a successful enrollment.
func (r *CachedCourseRepository) AddStudent(ctx context.Context, courseID, studentID string) (bool, error) {
	added, err := r.CourseRepository.AddStudent(ctx, courseID, studentID)
	if err == nil && added {
		r.invalidate(ctx, courseID)
	}
	return added, err
}

// RemoveStudents invalidates the cached roster after removals.
func (r *CachedCourseRepository) RemoveStudents(ctx context.Context, courseID string, studentIDs []string) error {
	if err := r.CourseRepository.RemoveStudents(ctx, courseID, studentIDs); err != nil {
		return err
	}
	r.invalidate(ctx, courseID)
	return nil
}

// Delete invalidates the cached roster along with the course.
func (r *CachedCourseRepository) Delete(ctx context.Context, id string) error {
	if err := r.CourseRepository.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *CachedCourseRepository) invalidate(ctx context.Context, courseID string) {
	if err := r.cache.Delete(ctx, rosterKey(courseID), rosterIDsKey(courseID)); err != nil {
		r.logger.Warn("roster cache invalidation failed", zap.String("course_id", courseID), zap.Error(err))
	}
}
