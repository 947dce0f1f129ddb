package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendly/attendly-api/internal/middleware"
	"github.com/attendly/attendly-api/internal/models"
)

func newTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return c, w
}

func setJSONBody(c *gin.Context, method, target string, payload interface{}) {
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
}

func asTeacher(c *gin.Context) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher})
}

func TestCourseHandlerCreateUnauthenticated(t *testing.T) {
	handler := NewCourseHandler(nil)
	c, w := newTestContext(t)
	setJSONBody(c, http.MethodPost, "/course", models.CreateCourseRequest{Name: "Discrete Maths"})

	handler.Create(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCourseHandlerCreateInvalidBody(t *testing.T) {
	handler := NewCourseHandler(nil)
	c, w := newTestContext(t)
	req, _ := http.NewRequest(http.MethodPost, "/course", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	asTeacher(c)

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCourseHandlerEnrollMissingCode(t *testing.T) {
	handler := NewCourseHandler(nil)
	c, w := newTestContext(t)
	setJSONBody(c, http.MethodPost, "/course/enroll", map[string]string{})
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent})

	handler.Enroll(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCourseHandlerBulkInviteMissingCourseID(t *testing.T) {
	handler := NewCourseHandler(nil)
	c, w := newTestContext(t)
	req, _ := http.NewRequest(http.MethodPost, "/course/invite", nil)
	c.Request = req
	asTeacher(c)

	handler.BulkInvite(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCourseHandlerAttendanceSheetMissingCourseID(t *testing.T) {
	handler := NewCourseHandler(nil)
	c, w := newTestContext(t)
	req, _ := http.NewRequest(http.MethodGet, "/course/attendance", nil)
	c.Request = req
	asTeacher(c)

	handler.EmailAttendanceSheet(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCourseHandlerUpdateNothingToDo(t *testing.T) {
	handler := NewCourseHandler(nil)
	c, w := newTestContext(t)
	setJSONBody(c, http.MethodPut, "/course/c1", updateCourseRequest{})
	c.Params = gin.Params{{Key: "id", Value: "c1"}}
	asTeacher(c)

	handler.Update(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
