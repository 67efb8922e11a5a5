package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "construction_chat/pkg/errors"
	"construction_chat/pkg/jwt"
	"construction_chat/pkg/logger"
)

const (
	ContextUserID       = "user_id"
	ContextConnectionID = "connection_id"
)

// AuthMiddleware validates tokens issued by the external auth service.
type AuthMiddleware struct {
	tokens *jwt.Manager
	log    logger.Logger
}

func NewAuthMiddleware(tokens *jwt.Manager, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		log:    log,
	}
}

// RequireAuth requires a Bearer token. Browsers cannot set headers on a
// WebSocket handshake, so upgrade requests may pass it as ?token= instead.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "Authorization header required")
			return
		}

		userID, err := m.tokens.Parse(token)
		if err != nil {
			m.log.Debug("Token validation failed", "error", err)
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(ContextUserID, userID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		if token := c.Query("token"); token != "" {
			return token, true
		}
	}
	return "", false
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, &apperrors.APIError{
		Message: message,
		Code:    apperrors.CodeFromError(apperrors.ErrUnauthorized),
	})
}

// UserID returns the authenticated user set by RequireAuth.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
