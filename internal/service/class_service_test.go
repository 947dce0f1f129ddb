package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/pkg/config"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
)

type mockClassRepo struct {
	startOK   bool
	running   *models.Class
	byID      *models.Class
	attendees map[string]bool
	dismissed []string
	added     []string
	removed   []string
	deleted   []string
}

func (m *mockClassRepo) Start(ctx context.Context, class *models.Class) (bool, error) {
	if m.startOK {
		class.ID = "class-new"
		class.Active = true
	}
	return m.startOK, nil
}

func (m *mockClassRepo) FindByID(ctx context.Context, id string) (*models.Class, error) {
	if m.byID == nil || m.byID.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.byID, nil
}

func (m *mockClassRepo) FindRunningByCourse(ctx context.Context, courseID string) (*models.Class, error) {
	if m.running == nil {
		return nil, sql.ErrNoRows
	}
	return m.running, nil
}

func (m *mockClassRepo) DismissRunning(ctx context.Context, courseID string) (string, error) {
	if m.running == nil {
		return "", sql.ErrNoRows
	}
	m.dismissed = append(m.dismissed, m.running.ID)
	return m.running.ID, nil
}

func (m *mockClassRepo) DismissByID(ctx context.Context, classID string) (bool, error) {
	m.dismissed = append(m.dismissed, classID)
	return true, nil
}

func (m *mockClassRepo) AddAttendee(ctx context.Context, classID, studentID string) (bool, error) {
	if m.attendees[studentID] {
		return false, nil
	}
	if m.attendees == nil {
		m.attendees = make(map[string]bool)
	}
	m.attendees[studentID] = true
	return true, nil
}

func (m *mockClassRepo) AddAttendees(ctx context.Context, classID string, studentIDs []string) error {
	m.added = append(m.added, studentIDs...)
	return nil
}

func (m *mockClassRepo) RemoveAttendees(ctx context.Context, classID string, studentIDs []string) error {
	m.removed = append(m.removed, studentIDs...)
	return nil
}

func (m *mockClassRepo) Attendees(ctx context.Context, classID string) ([]models.StudentInfo, error) {
	return []models.StudentInfo{{ID: "stu-1", Name: "Asha"}}, nil
}

func (m *mockClassRepo) ListByCourse(ctx context.Context, courseID string) ([]models.Class, error) {
	if m.byID == nil {
		return nil, nil
	}
	return []models.Class{*m.byID}, nil
}

func (m *mockClassRepo) ListAttendedByCourse(ctx context.Context, courseID, studentID string) ([]models.Class, error) {
	return nil, nil
}

func (m *mockClassRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type mockClassCourseRepo struct {
	course    *models.Course
	enrolled  bool
	rosterIDs []string
	syncedIDs []string
}

func (m *mockClassCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if m.course == nil || m.course.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.course, nil
}

func (m *mockClassCourseRepo) SyncActiveClass(ctx context.Context, id string) error {
	m.syncedIDs = append(m.syncedIDs, id)
	return nil
}

func (m *mockClassCourseRepo) IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error) {
	return m.enrolled, nil
}

func (m *mockClassCourseRepo) RosterIDs(ctx context.Context, courseID string) ([]string, error) {
	return m.rosterIDs, nil
}

type mockTokenRepo struct {
	tokens []string
}

func (m *mockTokenRepo) PushTokens(ctx context.Context, userIDs []string) ([]string, error) {
	return m.tokens, nil
}

func newTestClassService(classes *mockClassRepo, courses *mockClassCourseRepo, queue *mockQueue) *ClassService {
	return NewClassService(classes, courses, &mockTokenRepo{tokens: []string{"ExponentPushToken[abc]"}}, queue, nil, validator.New(), zap.NewNop(), config.GeofenceConfig{
		DefaultRadiusMeters: 50,
		SessionTTL:          time.Hour,
	})
}

func TestClassServiceStartNotifiesRoster(t *testing.T) {
	classes := &mockClassRepo{startOK: true}
	courses := &mockClassCourseRepo{
		course:    &models.Course{ID: "course-1", Name: "Data Structures", TeacherID: "tch-1", Radius: 25},
		rosterIDs: []string{"stu-1"},
	}
	queue := &mockQueue{}
	svc := newTestClassService(classes, courses, queue)
	defer svc.Shutdown()

	class, err := svc.Start(context.Background(), "tch-1", models.StartClassRequest{
		CourseID:  "course-1",
		Latitude:  29.9457,
		Longitude: 78.1642,
	})
	require.NoError(t, err)
	assert.Equal(t, 25.0, class.Radius)
	assert.Equal(t, []string{"course-1"}, courses.syncedIDs)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, "push", queue.jobs[0].Type)
}

func TestClassServiceStartConflict(t *testing.T) {
	classes := &mockClassRepo{startOK: false}
	courses := &mockClassCourseRepo{course: &models.Course{ID: "course-1", TeacherID: "tch-1"}}
	svc := newTestClassService(classes, courses, &mockQueue{})
	defer svc.Shutdown()

	_, err := svc.Start(context.Background(), "tch-1", models.StartClassRequest{CourseID: "course-1", Latitude: 1, Longitude: 1})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestClassServiceStartRequiresOwnership(t *testing.T) {
	classes := &mockClassRepo{startOK: true}
	courses := &mockClassCourseRepo{course: &models.Course{ID: "course-1", TeacherID: "tch-1"}}
	svc := newTestClassService(classes, courses, &mockQueue{})
	defer svc.Shutdown()

	_, err := svc.Start(context.Background(), "tch-2", models.StartClassRequest{CourseID: "course-1", Latitude: 1, Longitude: 1})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestClassServiceMarkInsideGeofence(t *testing.T) {
	classes := &mockClassRepo{running: &models.Class{
		ID: "class-1", CourseID: "course-1", Latitude: 29.9457, Longitude: 78.1642, Radius: 50, Active: true,
	}}
	courses := &mockClassCourseRepo{enrolled: true}
	svc := newTestClassService(classes, courses, &mockQueue{})
	defer svc.Shutdown()

	err := svc.Mark(context.Background(), "stu-1", models.MarkRequest{
		CourseID:  "course-1",
		Latitude:  29.9458,
		Longitude: 78.1642,
	})
	require.NoError(t, err)
	assert.True(t, classes.attendees["stu-1"])
}

func TestClassServiceMarkOutOfRange(t *testing.T) {
	classes := &mockClassRepo{running: &models.Class{
		ID: "class-1", CourseID: "course-1", Latitude: 29.9457, Longitude: 78.1642, Radius: 25, Active: true,
	}}
	courses := &mockClassCourseRepo{enrolled: true}
	svc := newTestClassService(classes, courses, &mockQueue{})
	defer svc.Shutdown()

	// Roughly 1.1 km north of the geofence center.
	err := svc.Mark(context.Background(), "stu-1", models.MarkRequest{
		CourseID:  "course-1",
		Latitude:  29.9557,
		Longitude: 78.1642,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrOutOfRange.Code, appErrors.FromError(err).Code)
	assert.False(t, classes.attendees["stu-1"])
}

func TestClassServiceMarkDuplicate(t *testing.T) {
	classes := &mockClassRepo{
		running:   &models.Class{ID: "class-1", CourseID: "course-1", Latitude: 1, Longitude: 1, Radius: 50, Active: true},
		attendees: map[string]bool{"stu-1": true},
	}
	courses := &mockClassCourseRepo{enrolled: true}
	svc := newTestClassService(classes, courses, &mockQueue{})
	defer svc.Shutdown()

	err := svc.Mark(context.Background(), "stu-1", models.MarkRequest{CourseID: "course-1", Latitude: 1, Longitude: 1})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestClassServiceMarkNoRunningClass(t *testing.T) {
	classes := &mockClassRepo{}
	courses := &mockClassCourseRepo{enrolled: true}
	svc := newTestClassService(classes, courses, &mockQueue{})
	defer svc.Shutdown()

	err := svc.Mark(context.Background(), "stu-1", models.MarkRequest{CourseID: "course-1", Latitude: 1, Longitude: 1})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestClassServiceMarkRequiresEnrollment(t *testing.T) {
	classes := &mockClassRepo{running: &models.Class{ID: "class-1", CourseID: "course-1", Radius: 50}}
	courses := &mockClassCourseRepo{enrolled: false}
	svc := newTestClassService(classes, courses, &mockQueue{})
	defer svc.Shutdown()

	err := svc.Mark(context.Background(), "stu-1", models.MarkRequest{CourseID: "course-1", Latitude: 1, Longitude: 1})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestClassServiceDismissIdleCourse(t *testing.T) {
	classes := &mockClassRepo{}
	courses := &mockClassCourseRepo{course: &models.Course{ID: "course-1", TeacherID: "tch-1"}}
	svc := newTestClassService(classes, courses, &mockQueue{})
	defer svc.Shutdown()

	err := svc.Dismiss(context.Background(), "tch-1", "course-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestClassServiceDismissCancelsTimer(t *testing.T) {
	classes := &mockClassRepo{startOK: true}
	courses := &mockClassCourseRepo{course: &models.Course{ID: "course-1", TeacherID: "tch-1", Radius: 25}}
	svc := newTestClassService(classes, courses, &mockQueue{})
	defer svc.Shutdown()

	class, err := svc.Start(context.Background(), "tch-1", models.StartClassRequest{CourseID: "course-1", Latitude: 1, Longitude: 1})
	require.NoError(t, err)

	svc.mu.Lock()
	_, scheduled := svc.timers[class.ID]
	svc.mu.Unlock()
	assert.True(t, scheduled)

	classes.running = class
	require.NoError(t, svc.Dismiss(context.Background(), "tch-1", "course-1"))

	svc.mu.Lock()
	_, scheduled = svc.timers[class.ID]
	svc.mu.Unlock()
	assert.False(t, scheduled)
}

func TestClassServiceDeleteRejectsRunning(t *testing.T) {
	classes := &mockClassRepo{byID: &models.Class{ID: "class-1", CourseID: "course-1", Active: true}}
	courses := &mockClassCourseRepo{course: &models.Course{ID: "course-1", TeacherID: "tch-1"}}
	svc := newTestClassService(classes, courses, &mockQueue{})
	defer svc.Shutdown()

	err := svc.Delete(context.Background(), "tch-1", "class-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, classes.deleted)
}

func TestClassServiceEditRoster(t *testing.T) {
	classes := &mockClassRepo{byID: &models.Class{ID: "class-1", CourseID: "course-1"}}
	courses := &mockClassCourseRepo{course: &models.Course{ID: "course-1", TeacherID: "tch-1"}}
	svc := newTestClassService(classes, courses, &mockQueue{})
	defer svc.Shutdown()

	err := svc.EditRoster(context.Background(), "tch-1", "class-1", models.EditRosterRequest{
		PresentIDs: []string{"stu-1"},
		AbsentIDs:  []string{"stu-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"stu-1"}, classes.added)
	assert.Equal(t, []string{"stu-2"}, classes.removed)
}
