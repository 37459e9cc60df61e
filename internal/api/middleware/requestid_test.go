package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequestIDGenerated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected a generated request ID on the response")
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())

	var seen string
	router.GET("/", func(c *gin.Context) {
		seen = c.GetString(RequestIDKey)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-supplied-by-proxy")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if seen != "req-supplied-by-proxy" {
		t.Errorf("Expected proxy-supplied ID, got %q", seen)
	}
	if w.Header().Get(RequestIDHeader) != "req-supplied-by-proxy" {
		t.Errorf("Expected echo of supplied ID, got %q", w.Header().Get(RequestIDHeader))
	}
}
