package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/pkg/config"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
	"github.com/attendly/attendly-api/pkg/geo"
	"github.com/attendly/attendly-api/pkg/jobs"
	"github.com/attendly/attendly-api/pkg/push"
)

type classRepository interface {
	Start(ctx context.Context, class *models.Class) (bool, error)
	FindByID(ctx context.Context, id string) (*models.Class, error)
	FindRunningByCourse(ctx context.Context, courseID string) (*models.Class, error)
	DismissRunning(ctx context.Context, courseID string) (string, error)
	DismissByID(ctx context.Context, classID string) (bool, error)
	AddAttendee(ctx context.Context, classID, studentID string) (bool, error)
	AddAttendees(ctx context.Context, classID string, studentIDs []string) error
	RemoveAttendees(ctx context.Context, classID string, studentIDs []string) error
	Attendees(ctx context.Context, classID string) ([]models.StudentInfo, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Class, error)
	ListAttendedByCourse(ctx context.Context, courseID, studentID string) ([]models.Class, error)
	Delete(ctx context.Context, id string) error
}

type classCourseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	SyncActiveClass(ctx context.Context, id string) error
	IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
	RosterIDs(ctx context.Context, courseID string) ([]string, error)
}

type pushTokenRepository interface {
	PushTokens(ctx context.Context, userIDs []string) ([]string, error)
}

// ClassService runs the attendance session lifecycle. Every running session
// has one auto-dismiss timer registered under its session id, so a timer
// that fires after an explicit dismiss, or after a newer session started,
// finds nothing to do.
type ClassService struct {
	classes   classRepository
	courses   classCourseRepository
	tokens    pushTokenRepository
	pushQueue jobQueue
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger

	sessionTTL    time.Duration
	defaultRadius float64

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewClassService constructs a ClassService instance.
func NewClassService(classes classRepository, courses classCourseRepository, tokens pushTokenRepository, pushQueue jobQueue, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg config.GeofenceConfig) *ClassService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ClassService{
		classes:       classes,
		courses:       courses,
		tokens:        tokens,
		pushQueue:     pushQueue,
		metrics:       metrics,
		validator:     validate,
		logger:        logger,
		sessionTTL:    ttl,
		defaultRadius: cfg.DefaultRadiusMeters,
		timers:        make(map[string]*time.Timer),
	}
}

// Start opens a session for the course. At most one session per course can
// run at a time; a second start reports Conflict.
func (s *ClassService) Start(ctx context.Context, teacherID string, req models.StartClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start payload")
	}

	course, err := s.ownedCourse(ctx, req.CourseID, teacherID)
	if err != nil {
		return nil, err
	}

	radius := req.Radius
	if radius <= 0 {
		radius = course.Radius
	}
	if radius <= 0 {
		radius = s.defaultRadius
	}

	class := &models.Class{
		CourseID:  course.ID,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Radius:    radius,
	}
	started, err := s.classes.Start(ctx, class)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start class")
	}
	if !started {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a class is already running for this course")
	}

	if err := s.courses.SyncActiveClass(ctx, course.ID); err != nil {
		s.logger.Warn("failed to sync active class flag", zap.String("course_id", course.ID), zap.Error(err))
	}

	s.metrics.RecordSessionStarted()
	s.scheduleDismiss(class.ID, course.ID)
	s.notifyRoster(ctx, course, fmt.Sprintf("%s is taking attendance", course.Name), "Check in now before the session closes.")

	return class, nil
}

// Mark checks the calling student into the course's running session.
func (s *ClassService) Mark(ctx context.Context, studentID string, req models.MarkRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mark payload")
	}

	enrolled, err := s.courses.IsEnrolled(ctx, req.CourseID, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return appErrors.Clone(appErrors.ErrForbidden, "not enrolled in this course")
	}

	class, err := s.classes.FindRunningByCourse(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "no class is currently running for this course")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load running class")
	}

	distance := geo.Distance(class.Center(), geo.Point{Latitude: req.Latitude, Longitude: req.Longitude})
	if distance > class.Radius {
		s.metrics.RecordCheckin("out_of_range")
		return appErrors.Clone(appErrors.ErrOutOfRange,
			fmt.Sprintf("you are %.0f m from the class, outside the %.0f m geofence", distance, class.Radius))
	}

	added, err := s.classes.AddAttendee(ctx, class.ID, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}
	if !added {
		s.metrics.RecordCheckin("duplicate")
		return appErrors.Clone(appErrors.ErrConflict, "attendance already marked for this class")
	}
	s.metrics.RecordCheckin("marked")
	return nil
}

// Dismiss closes the course's running session and cancels its timer.
func (s *ClassService) Dismiss(ctx context.Context, teacherID, courseID string) error {
	if _, err := s.ownedCourse(ctx, courseID, teacherID); err != nil {
		return err
	}

	classID, err := s.classes.DismissRunning(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "no class is currently running for this course")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to dismiss class")
	}

	s.cancelDismiss(classID)
	s.metrics.RecordSessionClosed("teacher")
	if err := s.courses.SyncActiveClass(ctx, courseID); err != nil {
		s.logger.Warn("failed to sync active class flag", zap.String("course_id", courseID), zap.Error(err))
	}
	return nil
}

// Get returns one session with its checked-in roster.
func (s *ClassService) Get(ctx context.Context, teacherID, classID string) (*models.ClassDetail, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if _, err := s.ownedCourse(ctx, class.CourseID, teacherID); err != nil {
		return nil, err
	}

	attendees, err := s.classes.Attendees(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendees")
	}
	return &models.ClassDetail{Class: *class, Attendees: attendees}, nil
}

// ListByCourse returns a course's sessions. Teachers see every session of an
// owned course; students see only the sessions they attended.
func (s *ClassService) ListByCourse(ctx context.Context, callerID string, role models.UserRole, courseID string) ([]models.Class, error) {
	if role == models.RoleStudent {
		enrolled, err := s.courses.IsEnrolled(ctx, courseID, callerID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		if !enrolled {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not enrolled in this course")
		}
		classes, err := s.classes.ListAttendedByCourse(ctx, courseID, callerID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
		}
		return classes, nil
	}

	if _, err := s.ownedCourse(ctx, courseID, callerID); err != nil {
		return nil, err
	}
	classes, err := s.classes.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	return classes, nil
}

// EditRoster corrects the attendance record of a session, past or running.
func (s *ClassService) EditRoster(ctx context.Context, teacherID, classID string, req models.EditRosterRequest) error {
	if len(req.PresentIDs) == 0 && len(req.AbsentIDs) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "nothing to change")
	}

	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if _, err := s.ownedCourse(ctx, class.CourseID, teacherID); err != nil {
		return err
	}

	if err := s.classes.AddAttendees(ctx, classID, req.PresentIDs); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark present")
	}
	if err := s.classes.RemoveAttendees(ctx, classID, req.AbsentIDs); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark absent")
	}
	return nil
}

// Delete removes a past session and its attendance rows.
func (s *ClassService) Delete(ctx context.Context, teacherID, classID string) error {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if _, err := s.ownedCourse(ctx, class.CourseID, teacherID); err != nil {
		return err
	}
	if class.Active {
		return appErrors.Clone(appErrors.ErrConflict, "dismiss the class before deleting it")
	}

	if err := s.classes.Delete(ctx, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete class")
	}
	return nil
}

// Shutdown cancels all pending auto-dismiss timers.
func (s *ClassService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *ClassService) scheduleDismiss(classID, courseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[classID] = time.AfterFunc(s.sessionTTL, func() {
		s.autoDismiss(classID, courseID)
	})
}

func (s *ClassService) cancelDismiss(classID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[classID]; ok {
		timer.Stop()
		delete(s.timers, classID)
	}
}

// autoDismiss closes the session when the TTL elapses. The update is guarded
// by the session id, so it no-ops when the teacher already dismissed it or
// a newer session replaced it.
func (s *ClassService) autoDismiss(classID, courseID string) {
	s.mu.Lock()
	delete(s.timers, classID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dismissed, err := s.classes.DismissByID(ctx, classID)
	if err != nil {
		s.logger.Error("auto dismiss failed", zap.String("class_id", classID), zap.Error(err))
		return
	}
	if !dismissed {
		return
	}
	s.metrics.RecordSessionClosed("timeout")

	if err := s.courses.SyncActiveClass(ctx, courseID); err != nil {
		s.logger.Warn("failed to sync active class flag", zap.String("course_id", courseID), zap.Error(err))
	}
	s.logger.Info("class auto dismissed",
		zap.String("class_id", classID),
		zap.String("course_id", courseID),
		zap.Duration("ttl", s.sessionTTL))
}

func (s *ClassService) ownedCourse(ctx context.Context, courseID, teacherID string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.TeacherID != teacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you do not own this course")
	}
	return course, nil
}

func (s *ClassService) notifyRoster(ctx context.Context, course *models.Course, title, body string) {
	if s.pushQueue == nil {
		return
	}
	ids, err := s.courses.RosterIDs(ctx, course.ID)
	if err != nil {
		s.logger.Warn("failed to load roster for push", zap.String("course_id", course.ID), zap.Error(err))
		return
	}
	tokens, err := s.tokens.PushTokens(ctx, ids)
	if err != nil {
		s.logger.Warn("failed to load push tokens", zap.String("course_id", course.ID), zap.Error(err))
		return
	}
	if len(tokens) == 0 {
		return
	}
	job := jobs.Job{Type: "push", Payload: push.Notification{
		To:    tokens,
		Title: title,
		Body:  body,
		Data:  map[string]string{"course_id": course.ID},
	}}
	if err := s.pushQueue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue push", zap.Error(err))
	}
}
