package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/pkg/logger"
)

type staticAuth map[string]model.Identity

func (a staticAuth) ValidateToken(_ context.Context, token string) (*model.Identity, error) {
	if id, ok := a[token]; ok {
		return &id, nil
	}
	return nil, fmt.Errorf("invalid token")
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	auth := NewAuthMiddleware(staticAuth{
		"admin-token":    {UserID: "a1", Role: model.RoleAdmin},
		"customer-token": {UserID: "c1", Role: model.RoleCustomer},
	})

	r := gin.New()
	r.Use(Recovery(), RequestID())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	r.GET("/rid", func(c *gin.Context) {
		c.String(http.StatusOK, "%v", c.Request.Context().Value(logger.RequestIDKey{}))
	})
	r.GET("/admin", auth.Authenticate(), auth.RequireRole(model.RoleAdmin), func(c *gin.Context) {
		identity, _ := IdentityFrom(c)
		c.String(http.StatusOK, identity.UserID)
	})
	r.POST("/small", SizeLimit(8), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticateAndRequireRole(t *testing.T) {
	r := newEngine()

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic admin-token", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer customer-token", http.StatusForbidden},
		{"admin", "Bearer admin-token", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(r, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "a1", w.Body.String())
			}
		})
	}
}

func TestRequestIDPropagates(t *testing.T) {
	r := newEngine()

	req := httptest.NewRequest(http.MethodGet, "/rid", nil)
	req.Header.Set(HeaderXRequestID, "abc")
	w := serve(r, req)
	assert.Equal(t, "abc", w.Header().Get(HeaderXRequestID))
	assert.Equal(t, "abc", w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodGet, "/rid", nil))
	assert.NotEmpty(t, w.Header().Get(HeaderXRequestID))
}

func TestRecoveryReturnsInternalError(t *testing.T) {
	w := serve(newEngine(), httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"internal"`)
}

func TestSizeLimit(t *testing.T) {
	r := newEngine()

	w := serve(r, httptest.NewRequest(http.MethodPost, "/small", strings.NewReader("tiny")))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/small", strings.NewReader("far too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 1}).RateLimit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	from := func(addr string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		return req
	}

	assert.Equal(t, http.StatusOK, serve(r, from("10.0.0.1:1234")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, from("10.0.0.1:1234")).Code)
	// other clients have their own budget
	assert.Equal(t, http.StatusOK, serve(r, from("10.0.0.2:1234")).Code)
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://app.example"}
	r := gin.New()
	r.Use(CORS(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example")
	w := serve(r, req)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example")
	assert.Equal(t, http.StatusNoContent, serve(r, req).Code)
}
