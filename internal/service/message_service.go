package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/attendly/attendly-api/internal/models"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
	"github.com/attendly/attendly-api/pkg/jobs"
	"github.com/attendly/attendly-api/pkg/push"
)

type messageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	FindByID(ctx context.Context, id string) (*models.Message, error)
	List(ctx context.Context, filter models.MessageFilter) ([]models.Message, int, error)
	Update(ctx context.Context, msg *models.Message) error
	Delete(ctx context.Context, id string) error
}

type messageCourseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
	RosterIDs(ctx context.Context, courseID string) ([]string, error)
}

// CreateMessageRequest posts an announcement to a course.
type CreateMessageRequest struct {
	Title string `json:"title" validate:"required,min=1,max=200"`
	Body  string `json:"body" validate:"required,min=1"`
}

// MessageService manages course announcements and their push broadcast.
type MessageService struct {
	messages  messageRepository
	courses   messageCourseRepository
	tokens    pushTokenRepository
	pushQueue jobQueue
	validator *validator.Validate
	logger    *zap.Logger
}

// NewMessageService constructs a MessageService instance.
func NewMessageService(messages messageRepository, courses messageCourseRepository, tokens pushTokenRepository, pushQueue jobQueue, validate *validator.Validate, logger *zap.Logger) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &MessageService{
		messages:  messages,
		courses:   courses,
		tokens:    tokens,
		pushQueue: pushQueue,
		validator: validate,
		logger:    logger,
	}
}

// Create posts an announcement and queues a push to the course roster.
func (s *MessageService) Create(ctx context.Context, teacherID, courseID string, req CreateMessageRequest) (*models.Message, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid message payload")
	}

	course, err := s.ownedCourse(ctx, courseID, teacherID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		CourseID: course.ID,
		AuthorID: teacherID,
		Title:    req.Title,
		Body:     req.Body,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create message")
	}

	s.broadcast(ctx, course, msg)
	return msg, nil
}

// List returns a course's announcements, newest first. Students must be
// enrolled, teachers must own the course.
func (s *MessageService) List(ctx context.Context, callerID string, role models.UserRole, filter models.MessageFilter) ([]models.Message, int, error) {
	if filter.CourseID == "" {
		return nil, 0, appErrors.Clone(appErrors.ErrValidation, "course id is required")
	}

	course, err := s.courses.FindByID(ctx, filter.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if role == models.RoleStudent {
		enrolled, err := s.courses.IsEnrolled(ctx, filter.CourseID, callerID)
		if err != nil {
			return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		if !enrolled {
			return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "not enrolled in this course")
		}
	} else if course.TeacherID != callerID && role != models.RoleAdmin {
		return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "you do not own this course")
	}

	messages, total, err := s.messages.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list messages")
	}
	return messages, total, nil
}

// Update rewrites an announcement the caller authored.
func (s *MessageService) Update(ctx context.Context, teacherID, messageID string, req CreateMessageRequest) (*models.Message, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid message payload")
	}

	msg, err := s.authoredMessage(ctx, messageID, teacherID)
	if err != nil {
		return nil, err
	}

	msg.Title = req.Title
	msg.Body = req.Body
	if err := s.messages.Update(ctx, msg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "message not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update message")
	}
	return msg, nil
}

// Delete removes an announcement the caller authored.
func (s *MessageService) Delete(ctx context.Context, teacherID, messageID string) error {
	if _, err := s.authoredMessage(ctx, messageID, teacherID); err != nil {
		return err
	}
	if err := s.messages.Delete(ctx, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "message not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete message")
	}
	return nil
}

func (s *MessageService) ownedCourse(ctx context.Context, courseID, teacherID string) (*models.Course, error) {
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

func (s *MessageService) authoredMessage(ctx context.Context, messageID, teacherID string) (*models.Message, error) {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "message not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load message")
	}
	if msg.AuthorID != teacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you did not author this message")
	}
	return msg, nil
}

func (s *MessageService) broadcast(ctx context.Context, course *models.Course, msg *models.Message) {
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
		Title: course.Name + ": " + msg.Title,
		Body:  msg.Body,
		Data:  map[string]string{"course_id": course.ID, "message_id": msg.ID},
	}}
	if err := s.pushQueue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue push", zap.Error(err))
	}
}
