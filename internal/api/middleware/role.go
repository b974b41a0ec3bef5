package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireRole 限定路由只对指定角色开放，置于 AuthMiddleware 之后。
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(userRoleKey)
		if !ok {
			abortUnauthorized(c)
			return
		}
		if r, ok := v.(string); !ok || r != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}
