package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"classvault/internal/auth"
	"classvault/internal/database"
)

const (
	userIDKey   = "userID"
	userRoleKey = "userRole"
)

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func abortForbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid credential"})
}

// extractToken 依次尝试 Authorization: Bearer 头与 ?token= 查询参数。
// 查询参数形式服务于 <video> 标签等无法携带自定义头的场景。
func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(c.Query("token"))
}

// AuthMiddleware 校验访问令牌并将 userID/role 注入上下文。
// 缺凭证 401，凭证无效 403，任何存储 I/O 之前完成。
func AuthMiddleware(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken := extractToken(c)
		if rawToken == "" {
			abortUnauthorized(c)
			return
		}

		claims, err := authService.ValidateToken(rawToken)
		if err != nil || claims.TokenType != "access" {
			abortForbidden(c)
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(userRoleKey, claims.Role)
		c.Next()
	}
}

// OptionalAuthMiddleware 尝试解析凭证但不强制。
// 无凭证时继续匿名处理；凭证存在但无效仍按 403 拒绝，
// 避免无效令牌被当作匿名放行。
func OptionalAuthMiddleware(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken := extractToken(c)
		if rawToken == "" {
			c.Next()
			return
		}

		claims, err := authService.ValidateToken(rawToken)
		if err != nil || claims.TokenType != "access" {
			abortForbidden(c)
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(userRoleKey, claims.Role)
		c.Next()
	}
}

// UserFromContext 由令牌声明构造请求用户视图；未认证返回 nil。
// 访问判定只需要 ID 与角色，不必每个请求回查数据库。
func UserFromContext(c *gin.Context) *database.User {
	value, exists := c.Get(userIDKey)
	if !exists {
		return nil
	}
	userID, ok := value.(uint)
	if !ok {
		return nil
	}

	role := database.RoleMember
	if v, ok := c.Get(userRoleKey); ok {
		if r, ok := v.(string); ok && r != "" {
			role = r
		}
	}

	user := &database.User{Role: role}
	user.ID = userID
	return user
}
