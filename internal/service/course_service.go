package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/pkg/config"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
	"github.com/attendly/attendly-api/pkg/export"
	"github.com/attendly/attendly-api/pkg/jobs"
	"github.com/attendly/attendly-api/pkg/mailer"
)

// codeAlphabet excludes glyphs that read ambiguously on a phone screen.
const (
	codeAlphabet   = "acdefhiklmnoqrstuvwxyz0123456789"
	codeLength     = 6
	codeMaxRetries = 5
)

type courseRepository interface {
	Create(ctx context.Context, course *models.Course) error
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindByCode(ctx context.Context, code string) (*models.Course, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]models.Course, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Course, error)
	SetEnrollment(ctx context.Context, id string, open bool) error
	AddStudent(ctx context.Context, courseID, studentID string) (bool, error)
	RemoveStudents(ctx context.Context, courseID string, studentIDs []string) error
	IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
	Roster(ctx context.Context, courseID string) ([]models.StudentInfo, error)
	Delete(ctx context.Context, id string) error
}

type courseUserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type courseClassRepository interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Class, error)
	AttendeeIDs(ctx context.Context, classID string) ([]string, error)
}

type sheetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type sheetStorage interface {
	Save(filename string, data []byte) (string, error)
}

// CourseService manages courses, rosters and attendance sheet delivery.
type CourseService struct {
	courses   courseRepository
	users     courseUserRepository
	classes   courseClassRepository
	mailQueue jobQueue
	csv       sheetRenderer
	pdf       sheetRenderer
	storage   sheetStorage
	validator *validator.Validate
	logger    *zap.Logger

	baseURL       string
	defaultRadius float64
	emailRe       *regexp.Regexp
	studentRe     *regexp.Regexp
}

// CourseServiceParams bundles the service dependencies.
type CourseServiceParams struct {
	Courses   courseRepository
	Users     courseUserRepository
	Classes   courseClassRepository
	MailQueue jobQueue
	CSV       sheetRenderer
	PDF       sheetRenderer
	Storage   sheetStorage
	Validator *validator.Validate
	Logger    *zap.Logger

	BaseURL     string
	Geofence    config.GeofenceConfig
	Institution config.InstitutionConfig
}

// NewCourseService constructs a CourseService instance.
func NewCourseService(p CourseServiceParams) (*CourseService, error) {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Validator == nil {
		p.Validator = validator.New()
	}
	emailRe, err := regexp.Compile(p.Institution.EmailPattern)
	if err != nil {
		return nil, fmt.Errorf("compile institution email pattern: %w", err)
	}
	studentRe, err := regexp.Compile(p.Institution.StudentPattern)
	if err != nil {
		return nil, fmt.Errorf("compile student email pattern: %w", err)
	}
	return &CourseService{
		courses:       p.Courses,
		users:         p.Users,
		classes:       p.Classes,
		mailQueue:     p.MailQueue,
		csv:           p.CSV,
		pdf:           p.PDF,
		storage:       p.Storage,
		validator:     p.Validator,
		logger:        p.Logger,
		baseURL:       p.BaseURL,
		defaultRadius: p.Geofence.DefaultRadiusMeters,
		emailRe:       emailRe,
		studentRe:     studentRe,
	}, nil
}

// Create registers a course under the calling teacher with a fresh code.
func (s *CourseService) Create(ctx context.Context, teacherID string, req models.CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	radius := req.Radius
	if radius <= 0 {
		radius = s.defaultRadius
	}

	course := &models.Course{
		Name:      strings.TrimSpace(req.Name),
		TeacherID: teacherID,
		Radius:    radius,
		IsActive:  true,
	}

	for attempt := 0; attempt < codeMaxRetries; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate course code")
		}
		exists, err := s.courses.CodeExists(ctx, code)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course code")
		}
		if exists {
			continue
		}
		course.Code = code
		if err := s.courses.Create(ctx, course); err != nil {
			// A concurrent insert can win the code between the existence
			// check and here. That collision consumes a retry like any other.
			if isUniqueViolation(err) {
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
		}
		return course, nil
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "could not allocate a unique course code")
}

// Get returns a course with its roster. Teachers must own the course;
// students must be enrolled.
func (s *CourseService) Get(ctx context.Context, courseID, callerID string, role models.UserRole) (*models.CourseDetail, error) {
	course, err := s.authorize(ctx, courseID, callerID, role)
	if err != nil {
		return nil, err
	}
	students, err := s.courses.Roster(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	return &models.CourseDetail{Course: *course, Students: students}, nil
}

// List returns the caller's courses, owned for teachers, enrolled for
// students.
func (s *CourseService) List(ctx context.Context, callerID string, role models.UserRole) ([]models.Course, error) {
	var (
		courses []models.Course
		err     error
	)
	if role == models.RoleStudent {
		courses, err = s.courses.ListByStudent(ctx, callerID)
	} else {
		courses, err = s.courses.ListByTeacher(ctx, callerID)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, nil
}

// Enroll joins a student to the course matching the code.
func (s *CourseService) Enroll(ctx context.Context, studentID string, req models.EnrollRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enroll payload")
	}

	code := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(req.Code), " ", ""))
	course, err := s.courses.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no course matches this code")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up course")
	}
	if !course.IsActive {
		return nil, appErrors.Clone(appErrors.ErrEnrollmentClosed, "this course is closed for enrollment")
	}

	added, err := s.courses.AddStudent(ctx, course.ID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll")
	}
	if !added {
		return nil, appErrors.Clone(appErrors.ErrConflict, "already enrolled in this course")
	}
	return course, nil
}

// ToggleEnrollment opens or closes a course for new enrollments.
func (s *CourseService) ToggleEnrollment(ctx context.Context, teacherID, courseID string, open bool) error {
	if _, err := s.authorizeOwner(ctx, courseID, teacherID); err != nil {
		return err
	}
	if err := s.courses.SetEnrollment(ctx, courseID, open); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}
	return nil
}

// RemoveStudents drops students from the roster. Unknown ids are ignored.
func (s *CourseService) RemoveStudents(ctx context.Context, teacherID, courseID string, req models.RemoveStudentsRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid remove payload")
	}
	if _, err := s.authorizeOwner(ctx, courseID, teacherID); err != nil {
		return err
	}
	if err := s.courses.RemoveStudents(ctx, courseID, req.StudentIDs); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove students")
	}
	return nil
}

// Leave removes the calling student from the roster.
func (s *CourseService) Leave(ctx context.Context, studentID, courseID string) error {
	enrolled, err := s.courses.IsEnrolled(ctx, courseID, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return appErrors.Clone(appErrors.ErrNotFound, "not enrolled in this course")
	}
	if err := s.courses.RemoveStudents(ctx, courseID, []string{studentID}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to leave course")
	}
	return nil
}

// Delete removes a course along with its sessions, roster and messages.
func (s *CourseService) Delete(ctx context.Context, teacherID, courseID string) error {
	if _, err := s.authorizeOwner(ctx, courseID, teacherID); err != nil {
		return err
	}
	if err := s.courses.Delete(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	return nil
}

// BulkInvite reads one email address per CSV row, enrolls known students,
// creates pending accounts for unknown ones and queues the invitation mail.
// A bad address is recorded and skipped, never fatal.
func (s *CourseService) BulkInvite(ctx context.Context, teacherID, courseID string, csvFile io.Reader) ([]models.InviteOutcome, error) {
	course, err := s.authorizeOwner(ctx, courseID, teacherID)
	if err != nil {
		return nil, err
	}
	teacher, err := s.users.FindByID(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}

	emails, err := export.ReadColumn(csvFile)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "could not parse the uploaded CSV")
	}
	if len(emails) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "the uploaded CSV contains no addresses")
	}

	outcomes := make([]models.InviteOutcome, 0, len(emails))
	var invited []string
	for _, raw := range emails {
		email := strings.ToLower(strings.TrimSpace(raw))
		if !s.studentRe.MatchString(email) {
			outcomes = append(outcomes, models.InviteOutcome{Email: email, Status: models.InviteSkipped, Reason: "not a student address"})
			continue
		}

		outcome, err := s.inviteOne(ctx, course.ID, email)
		if err != nil {
			s.logger.Warn("bulk invite failed for address",
				zap.String("email", email),
				zap.String("course_id", course.ID),
				zap.Error(err))
			outcomes = append(outcomes, models.InviteOutcome{Email: email, Status: models.InviteSkipped, Reason: "processing failed"})
			continue
		}
		outcomes = append(outcomes, outcome)
		if outcome.Status != models.InviteSkipped {
			invited = append(invited, email)
		}
		if outcome.Status == models.InviteCreated {
			signupURL := fmt.Sprintf("%s/auth/signUp", s.baseURL)
			s.enqueueMail(mailer.Welcome(email, course.Name, signupURL))
		}
	}

	if len(invited) > 0 {
		s.enqueueMail(mailer.CourseInvite(invited, teacher.Name, course.Name, course.Code))
	}
	return outcomes, nil
}

func (s *CourseService) inviteOne(ctx context.Context, courseID, email string) (models.InviteOutcome, error) {
	user, err := s.users.FindByEmail(ctx, email)
	status := models.InviteEnrolled
	switch {
	case errors.Is(err, sql.ErrNoRows):
		reg := email[:strings.IndexByte(email, '@')]
		user = &models.User{
			Name:           reg,
			Email:          email,
			Role:           models.RoleStudent,
			Status:         models.StatusPending,
			RegistrationNo: &reg,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return models.InviteOutcome{}, err
		}
		status = models.InviteCreated
	case err != nil:
		return models.InviteOutcome{}, err
	}

	added, err := s.courses.AddStudent(ctx, courseID, user.ID)
	if err != nil {
		return models.InviteOutcome{}, err
	}
	if !added && status == models.InviteEnrolled {
		return models.InviteOutcome{Email: email, Status: models.InviteSkipped, Reason: "already enrolled"}, nil
	}
	return models.InviteOutcome{Email: email, Status: status}, nil
}

// EmailAttendanceSheet renders the full attendance matrix for a course and
// mails it to the owning teacher as an attachment.
func (s *CourseService) EmailAttendanceSheet(ctx context.Context, teacherID, courseID, format string) error {
	course, err := s.authorizeOwner(ctx, courseID, teacherID)
	if err != nil {
		return err
	}
	teacher, err := s.users.FindByID(ctx, teacherID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}

	dataset, err := s.buildAttendanceDataset(ctx, course)
	if err != nil {
		return err
	}

	var renderer sheetRenderer
	ext := "csv"
	switch strings.ToLower(format) {
	case "", "csv":
		renderer = s.csv
	case "pdf":
		renderer = s.pdf
		ext = "pdf"
	default:
		return appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	data, err := renderer.Render(*dataset)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render attendance sheet")
	}

	filename := fmt.Sprintf("attendance-%s-%s.%s", course.Code, time.Now().UTC().Format("20060102-150405"), ext)
	path, err := s.storage.Save(filename, data)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attendance sheet")
	}

	s.enqueueMail(mailer.AttendanceSheet(teacher.Email, course.Name, path))
	return nil
}

// buildAttendanceDataset produces one row per enrolled student and one
// column per session, marked "P" where the student checked in.
func (s *CourseService) buildAttendanceDataset(ctx context.Context, course *models.Course) (*export.Dataset, error) {
	roster, err := s.courses.Roster(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	classes, err := s.classes.ListByCourse(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions")
	}

	// Oldest session first so columns read left to right in date order.
	for i, j := 0, len(classes)-1; i < j; i, j = i+1, j-1 {
		classes[i], classes[j] = classes[j], classes[i]
	}

	title := fmt.Sprintf("%s (%s) attendance", course.Name, course.Code)
	headers := []string{"Registration No", "Student Name"}
	columns := make([]string, 0, len(classes))
	present := make(map[string]map[string]bool, len(classes))
	used := make(map[string]int, len(classes))
	for _, class := range classes {
		col := class.CreatedAt.Format("02 Jan 2006 15:04")
		// Two sessions in the same minute must still get distinct columns.
		used[col]++
		if n := used[col]; n > 1 {
			col = fmt.Sprintf("%s (%d)", col, n)
		}
		headers = append(headers, col)
		columns = append(columns, col)

		ids, err := s.classes.AttendeeIDs(ctx, class.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
		}
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		present[col] = set
	}

	rows := make([]map[string]string, 0, len(roster))
	for _, student := range roster {
		row := map[string]string{"Student Name": student.Name}
		if student.RegistrationNo != nil {
			row["Registration No"] = *student.RegistrationNo
		}
		for _, col := range columns {
			if present[col][student.ID] {
				row[col] = "P"
			}
		}
		rows = append(rows, row)
	}
	return &export.Dataset{Title: title, Headers: headers, Rows: rows}, nil
}

func (s *CourseService) authorize(ctx context.Context, courseID, callerID string, role models.UserRole) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	switch role {
	case models.RoleStudent:
		enrolled, err := s.courses.IsEnrolled(ctx, courseID, callerID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		if !enrolled {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not enrolled in this course")
		}
	case models.RoleAdmin:
	default:
		if course.TeacherID != callerID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you do not own this course")
		}
	}
	return course, nil
}

func (s *CourseService) authorizeOwner(ctx context.Context, courseID, teacherID string) (*models.Course, error) {
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

func (s *CourseService) enqueueMail(msg mailer.Message) {
	if s.mailQueue == nil {
		return
	}
	if err := s.mailQueue.Enqueue(jobs.Job{Type: "mail", Payload: msg}); err != nil {
		s.logger.Warn("failed to enqueue mail", zap.Error(err))
	}
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
