package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderConnectionID carries the push connection id a client got in its
// "connected" frame, so fan-out can skip the originating connection.
const HeaderConnectionID = "X-Connection-ID"

// ConnectionID stores a well formed X-Connection-ID in the context. Malformed
// values are dropped rather than rejected.
func ConnectionID() gin.HandlerFunc {
	return func(c *gin.Context) {
		connectionID := c.GetHeader(HeaderConnectionID)
		if connectionID != "" {
			if _, err := uuid.Parse(connectionID); err != nil {
				connectionID = ""
			}
		}

		c.Set(ContextConnectionID, connectionID)
		c.Next()
	}
}

func ConnectionIDFrom(c *gin.Context) string {
	return c.GetString(ContextConnectionID)
}
