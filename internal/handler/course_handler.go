package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/internal/service"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
	"github.com/attendly/attendly-api/pkg/response"
)

// CourseHandler wires HTTP endpoints to the course service.
type CourseHandler struct {
	service *service.CourseService
}

// NewCourseHandler creates a new handler.
func NewCourseHandler(svc *service.CourseService) *CourseHandler {
	return &CourseHandler{service: svc}
}

// Create godoc
// @Summary Create course
// @Description Create a course owned by the calling teacher
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body models.CreateCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /course [post]
// @Security BearerAuth
func (h *CourseHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid course payload"))
		return
	}

	course, err := h.service.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "course created", course)
}

// List godoc
// @Summary List courses
// @Description Teachers see owned courses, students see enrolled ones
// @Tags Courses
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /course [get]
// @Security BearerAuth
func (h *CourseHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	courses, err := h.service.List(c.Request.Context(), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "courses fetched", courses)
}

// Get godoc
// @Summary Course detail
// @Description One course with its enrollment roster
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /course/{id} [get]
// @Security BearerAuth
func (h *CourseHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	detail, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "course fetched", detail)
}

// Enroll godoc
// @Summary Join course
// @Description Enroll the calling student by course code
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body models.EnrollRequest true "Enroll payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /course/enroll [post]
// @Security BearerAuth
func (h *CourseHandler) Enroll(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enroll payload"))
		return
	}

	course, err := h.service.Enroll(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "enrolled", course)
}

// updateCourseRequest is the polymorphic PUT /course/:id body. Teachers
// either toggle enrollment or remove students; students leave the course.
type updateCourseRequest struct {
	Open       *bool    `json:"open"`
	StudentIDs []string `json:"student_ids"`
}

// Update godoc
// @Summary Update course
// @Description Toggle enrollment, remove students, or leave as a student
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body handler.updateCourseRequest false "Update payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /course/{id} [put]
// @Security BearerAuth
func (h *CourseHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	courseID := c.Param("id")

	if claims.Role == models.RoleStudent {
		if err := h.service.Leave(c.Request.Context(), claims.UserID, courseID); err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, "left course", nil)
		return
	}

	var req updateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid update payload"))
		return
	}

	switch {
	case len(req.StudentIDs) > 0:
		err := h.service.RemoveStudents(c.Request.Context(), claims.UserID, courseID, models.RemoveStudentsRequest{StudentIDs: req.StudentIDs})
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, "students removed", nil)
	case req.Open != nil:
		if err := h.service.ToggleEnrollment(c.Request.Context(), claims.UserID, courseID, *req.Open); err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, "enrollment updated", nil)
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "nothing to update"))
	}
}

// Delete godoc
// @Summary Delete course
// @Description Remove a course, its sessions, roster and messages
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /course/{id} [delete]
// @Security BearerAuth
func (h *CourseHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// BulkInvite godoc
// @Summary Bulk invite students
// @Description Upload a CSV of addresses to enroll and invite
// @Tags Courses
// @Accept multipart/form-data
// @Produce json
// @Param courseId query string true "Course ID"
// @Param file formData file true "CSV with one address per row"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /course/invite [post]
// @Security BearerAuth
func (h *CourseHandler) BulkInvite(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	courseID := c.Query("courseId")
	if courseID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "courseId query parameter is required"))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "a CSV file upload is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "could not read the uploaded file"))
		return
	}
	defer file.Close()

	outcomes, err := h.service.BulkInvite(c.Request.Context(), claims.UserID, courseID, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "invitations processed", outcomes)
}

// EmailAttendanceSheet godoc
// @Summary Email attendance sheet
// @Description Render the course attendance matrix and mail it to the teacher
// @Tags Courses
// @Produce json
// @Param courseId query string true "Course ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /course/attendance [get]
// @Security BearerAuth
func (h *CourseHandler) EmailAttendanceSheet(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	courseID := c.Query("courseId")
	if courseID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "courseId query parameter is required"))
		return
	}

	if err := h.service.EmailAttendanceSheet(c.Request.Context(), claims.UserID, courseID, c.Query("format")); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "attendance sheet is on its way", nil)
}
