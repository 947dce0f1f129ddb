package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/internal/service"
	appErrors "github.com/attendly/attendly-api/pkg/errors"
	"github.com/attendly/attendly-api/pkg/response"
)

// ClassHandler wires HTTP endpoints to the class service.
type ClassHandler struct {
	service *service.ClassService
}

// NewClassHandler creates a new handler.
func NewClassHandler(svc *service.ClassService) *ClassHandler {
	return &ClassHandler{service: svc}
}

// Start godoc
// @Summary Start attendance session
// @Description Open a geofenced attendance session for an owned course
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body models.StartClassRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /class [post]
// @Security BearerAuth
func (h *ClassHandler) Start(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.StartClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid session payload"))
		return
	}

	class, err := h.service.Start(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "class started", class)
}

// classActionRequest is the polymorphic PUT /class body. Students check in
// with their location; teachers dismiss with just the course id.
type classActionRequest struct {
	CourseID  string  `json:"course_id" binding:"required"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Update godoc
// @Summary Mark attendance or dismiss
// @Description Students check into the running session, teachers dismiss it
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body handler.classActionRequest true "Action payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /class [put]
// @Security BearerAuth
func (h *ClassHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req classActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid class payload"))
		return
	}

	if claims.Role == models.RoleStudent {
		err := h.service.Mark(c.Request.Context(), claims.UserID, models.MarkRequest{
			CourseID:  req.CourseID,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
		})
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, "attendance marked", nil)
		return
	}

	if err := h.service.Dismiss(c.Request.Context(), claims.UserID, req.CourseID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "class dismissed", nil)
}

// EditRoster godoc
// @Summary Edit session attendance
// @Description Correct the check-in record of a session
// @Tags Classes
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body models.EditRosterRequest true "Roster changes"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /class/{id} [put]
// @Security BearerAuth
func (h *ClassHandler) EditRoster(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.EditRosterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid roster payload"))
		return
	}

	if err := h.service.EditRoster(c.Request.Context(), claims.UserID, c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "attendance updated", nil)
}

// List godoc
// @Summary List course sessions
// @Description List sessions of a course, filtered by role
// @Tags Classes
// @Produce json
// @Param courseId query string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /class [get]
// @Security BearerAuth
func (h *ClassHandler) List(c *gin.Context) {
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

	classes, err := h.service.ListByCourse(c.Request.Context(), claims.UserID, claims.Role, courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "classes fetched", classes)
}

// Get godoc
// @Summary Session detail
// @Description One session with its checked-in students
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /class/{id} [get]
// @Security BearerAuth
func (h *ClassHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	detail, err := h.service.Get(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "class fetched", detail)
}

// Delete godoc
// @Summary Delete session
// @Description Remove a dismissed session and its check-ins
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /class/{id} [delete]
// @Security BearerAuth
func (h *ClassHandler) Delete(c *gin.Context) {
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
