package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"construction_chat/internal/service"
	apperrors "construction_chat/pkg/errors"
	"construction_chat/pkg/logger"
)

type RateLimitMiddleware struct {
	rateLimitService service.RateLimitService
	limit            int
	window           int
	log              logger.Logger
}

// NewRateLimitMiddleware limits requests per caller to limit per windowSeconds.
func NewRateLimitMiddleware(rateLimitService service.RateLimitService, limit, windowSeconds int, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		limit:            limit,
		window:           windowSeconds,
		log:              log,
	}
}

func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.rateLimitService.Enabled() {
			c.Next()
			return
		}

		key := "ratelimit:ip:" + c.ClientIP()
		if userID, ok := UserID(c); ok {
			key = "ratelimit:user:" + userID.String()
		}

		allowed, err := m.rateLimitService.CheckLimit(c.Request.Context(), key, m.limit, m.window)
		if err != nil {
			// Redis outages degrade to no limiting.
			m.log.Error("Rate limit check failed", "error", err)
			c.Next()
			return
		}

		if !allowed {
			c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apperrors.NewAPIError(apperrors.ErrRateLimited))
			return
		}

		count, err := m.rateLimitService.Increment(c.Request.Context(), key, m.window)
		if err != nil {
			m.log.Error("Rate limit increment failed", "error", err)
		}

		remaining := m.limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}
