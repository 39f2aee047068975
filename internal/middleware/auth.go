package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"buddychat-go/internal/service"
)

// SessionKey 是会话在 Gin 上下文中的键。
const SessionKey = "session"

// SessionAuth 创建一个 Gin 中间件，用于会话令牌认证。
// 它从 Authorization 请求头中提取 Bearer 令牌，并将对应的会话存入 Gin 的上下文中。
func SessionAuth(sessions service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权头"})
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的授权头格式"})
			return
		}

		sess, err := sessions.Authenticate(c.Request.Context(), strings.TrimPrefix(authHeader, bearerPrefix))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}

		c.Set(SessionKey, sess)
		c.Next()
	}
}

// CurrentSession 取出 SessionAuth 存入的会话。
func CurrentSession(c *gin.Context) *service.Session {
	v, ok := c.Get(SessionKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*service.Session)
	return sess
}
