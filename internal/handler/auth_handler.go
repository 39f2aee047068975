// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"buddychat-go/internal/service"
	"buddychat-go/pkg/log"
)

// AuthHandler 负责创建会话并签发会话令牌。
type AuthHandler struct {
	sessions service.SessionService
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(sessions service.SessionService) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

// CreateSession 创建新会话。返回的 token 用于 Authorization 头和 WebSocket 连接。
func (h *AuthHandler) CreateSession(c *gin.Context) {
	sess, tok, expiresAt, err := h.sessions.Create(c.Request.Context())
	if err != nil {
		log.Error("CreateSession: failed to create session", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建会话失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Session created successfully",
		"data": gin.H{
			"sessionId": sess.ID,
			"token":     tok,
			"expiresAt": expiresAt.UnixMilli(),
		},
	})
}
