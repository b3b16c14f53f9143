package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/logging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CorrelationID(), RequestLogger())
	r.GET("/test", handler)
	return r
}

func TestCorrelationID_GeneratesNew(t *testing.T) {
	var fromGin, fromCtx any
	r := newRouter(func(c *gin.Context) {
		fromGin, _ = c.Get(string(logging.CorrelationIDKey))
		fromCtx = c.Request.Context().Value(logging.CorrelationIDKey)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	id := resp.Header().Get(HeaderXCorrelationID)
	assert.Len(t, id, 36)
	assert.Equal(t, id, fromGin)
	assert.Equal(t, id, fromCtx)
}

func TestCorrelationID_PropagatesExisting(t *testing.T) {
	existingID := "existing-uuid-123"
	var fromCtx any
	r := newRouter(func(c *gin.Context) {
		fromCtx = c.Request.Context().Value(logging.CorrelationIDKey)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderXCorrelationID, existingID)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, existingID, resp.Header().Get(HeaderXCorrelationID))
	assert.Equal(t, existingID, fromCtx)
}

func TestCorrelationID_ReplacesMalformed(t *testing.T) {
	r := newRouter(func(c *gin.Context) {})

	for _, bad := range []string{strings.Repeat("a", 65), "has space", "tab\there"} {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(HeaderXCorrelationID, bad)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		got := resp.Header().Get(HeaderXCorrelationID)
		assert.NotEqual(t, bad, got)
		assert.Len(t, got, 36)
	}
}
