package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageHandlerCreateMissingFields(t *testing.T) {
	handler := NewMessageHandler(nil)
	c, w := newTestContext(t)
	setJSONBody(c, http.MethodPost, "/message", map[string]string{"title": "Exam moved"})
	asTeacher(c)

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessageHandlerDeleteUnauthenticated(t *testing.T) {
	handler := NewMessageHandler(nil)
	c, w := newTestContext(t)
	req, _ := http.NewRequest(http.MethodDelete, "/message/m1", nil)
	c.Request = req

	handler.Delete(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
