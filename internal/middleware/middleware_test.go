package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"construction_chat/internal/repository"
	"construction_chat/internal/service"
	apperrors "construction_chat/pkg/errors"
	"construction_chat/pkg/jwt"
	"construction_chat/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func authRouter(tokens *jwt.Manager) *gin.Engine {
	r := gin.New()
	auth := NewAuthMiddleware(tokens, logger.Nop())
	r.GET("/me", auth.RequireAuth(), func(c *gin.Context) {
		id, _ := UserID(c)
		c.String(http.StatusOK, id.String())
	})
	return r
}

func TestRequireAuth(t *testing.T) {
	tokens := jwt.NewManager("secret", "test")
	r := authRouter(tokens)
	userID := uuid.New()
	token, err := tokens.Issue(userID, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		prepare func(*http.Request)
		target  string
		status  int
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, "/me", http.StatusOK},
		{"missing", func(*http.Request) {}, "/me", http.StatusUnauthorized},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+token) }, "/me", http.StatusUnauthorized},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, "/me", http.StatusUnauthorized},
		{"query token on upgrade", func(r *http.Request) { r.Header.Set("Upgrade", "websocket") }, "/me?token=" + token, http.StatusOK},
		{"query token without upgrade", func(*http.Request) {}, "/me?token=" + token, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			tt.prepare(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, userID.String(), w.Body.String())
			} else {
				var body apperrors.APIError
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, "unauthorized", body.Code)
			}
		})
	}
}

func TestErrorHandlerRendersTaxonomy(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(logger.Nop()))
	r.GET("/fail/:kind", func(c *gin.Context) {
		switch c.Param("kind") {
		case "expired":
			_ = c.Error(fmt.Errorf("edit: %w", apperrors.ErrExpired))
		case "boom":
			_ = c.Error(fmt.Errorf("db exploded"))
		}
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail/expired", nil))
	assert.Equal(t, http.StatusGone, w.Code)
	assert.JSONEq(t, `{"error":"edit: message can no longer be changed","code":"expired"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "exploded")
}

func TestConnectionIDHeader(t *testing.T) {
	r := gin.New()
	r.Use(ConnectionID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, ConnectionIDFrom(c)) })

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderConnectionID, id)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, id, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderConnectionID, "<script>")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Body.String())
}

func TestRateLimitMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc := service.NewRateLimitService(repository.NewRateLimitRepository(rdb, logger.Nop()), true, 60, logger.Nop())
	r := gin.New()
	r.Use(NewRateLimitMiddleware(svc, 2, 60, logger.Nop()).Limit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[i] = w.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	disabled := service.NewRateLimitService(nil, false, 60, logger.Nop())
	r = gin.New()
	r.Use(NewRateLimitMiddleware(disabled, 1, 60, logger.Nop()).Limit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
