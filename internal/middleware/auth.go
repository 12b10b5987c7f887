package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"remote-relay/internal/auth"
)

const adminIDContextKey = "adminID"

func AdminIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(adminIDContextKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// RequireAuth gates admin endpoints behind a Bearer token.
func RequireAuth(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		claims, err := auth.VerifyToken(parts[1], cfg)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		c.Set(adminIDContextKey, claims.UserID)
		c.Next()
	}
}
