package service

import (
	"context"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/pkg/jobs"
	"github.com/attendly/attendly-api/pkg/mailer"
)

var parentEmailRe = regexp.MustCompile(`^[a-zA-Z0-9+_.-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

type reportUserRepository interface {
	ListStudents(ctx context.Context) ([]models.User, error)
}

type reportCourseRepository interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Course, error)
}

type reportClassRepository interface {
	ListByCourseBetween(ctx context.Context, courseID string, from, to time.Time) ([]models.Class, error)
	HasAttendee(ctx context.Context, classID, studentID string) (bool, error)
}

// ReportService runs the end-of-day parent summary. One email per student
// with at least one missed session and a usable parent address. A failure on
// one student never stops the sweep.
type ReportService struct {
	users     reportUserRepository
	courses   reportCourseRepository
	classes   reportClassRepository
	mailQueue jobQueue
	logger    *zap.Logger
	location  *time.Location
}

// NewReportService constructs a ReportService instance. The location decides
// what "today" means for the sweep.
func NewReportService(users reportUserRepository, courses reportCourseRepository, classes reportClassRepository, mailQueue jobQueue, logger *zap.Logger, location *time.Location) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}
	return &ReportService{
		users:     users,
		courses:   courses,
		classes:   classes,
		mailQueue: mailQueue,
		logger:    logger,
		location:  location,
	}
}

// RunDaily sweeps every active student and queues parent summaries for the
// current day. Returns the number of emails queued.
func (s *ReportService) RunDaily(ctx context.Context) (int, error) {
	now := time.Now().In(s.location)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	return s.runFor(ctx, dayStart, dayStart.Add(24*time.Hour))
}

func (s *ReportService) runFor(ctx context.Context, from, to time.Time) (int, error) {
	students, err := s.users.ListStudents(ctx)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, student := range students {
		if ctx.Err() != nil {
			return queued, ctx.Err()
		}
		missed, err := s.missedCourses(ctx, student.ID, from, to)
		if err != nil {
			s.logger.Warn("parent report skipped for student",
				zap.String("student_id", student.ID),
				zap.Error(err))
			continue
		}
		if len(missed) == 0 {
			continue
		}
		if student.ParentEmail == nil || !parentEmailRe.MatchString(*student.ParentEmail) {
			continue
		}
		s.enqueueMail(mailer.ParentReport(*student.ParentEmail, student.Name, missed))
		queued++
	}

	s.logger.Info("daily parent report sweep finished",
		zap.Int("students", len(students)),
		zap.Int("emails_queued", queued))
	return queued, nil
}

// missedCourses returns the names of courses where the student missed at
// least one session inside the window.
func (s *ReportService) missedCourses(ctx context.Context, studentID string, from, to time.Time) ([]string, error) {
	courses, err := s.courses.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	var missed []string
	for _, course := range courses {
		classes, err := s.classes.ListByCourseBetween(ctx, course.ID, from, to)
		if err != nil {
			s.logger.Warn("parent report skipped for course",
				zap.String("student_id", studentID),
				zap.String("course_id", course.ID),
				zap.Error(err))
			continue
		}
		for _, class := range classes {
			present, err := s.classes.HasAttendee(ctx, class.ID, studentID)
			if err != nil {
				s.logger.Warn("attendance lookup failed",
					zap.String("class_id", class.ID),
					zap.String("student_id", studentID),
					zap.Error(err))
				continue
			}
			if !present {
				missed = append(missed, course.Name)
				break
			}
		}
	}
	return missed, nil
}

func (s *ReportService) enqueueMail(msg mailer.Message) {
	if s.mailQueue == nil {
		return
	}
	if err := s.mailQueue.Enqueue(jobs.Job{Type: "mail", Payload: msg}); err != nil {
		s.logger.Warn("failed to enqueue parent report", zap.Error(err))
	}
}
