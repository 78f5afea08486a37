package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func protectedRouter(apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIKeyMiddleware(apiKey))
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	return r
}

func request(r *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIKeyDisabledWhenEmpty(t *testing.T) {
	r := protectedRouter("")
	assert.Equal(t, http.StatusOK, request(r, "").Code)
}

func TestAPIKeyMissing(t *testing.T) {
	r := protectedRouter("secret")
	assert.Equal(t, http.StatusUnauthorized, request(r, "").Code)
}

func TestAPIKeyWrong(t *testing.T) {
	r := protectedRouter("secret")
	assert.Equal(t, http.StatusForbidden, request(r, "wrong").Code)
}

func TestAPIKeyValid(t *testing.T) {
	r := protectedRouter("secret")
	w := request(r, "secret")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}
