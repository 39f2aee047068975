package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"buddychat-go/internal/middleware"
	"buddychat-go/internal/persistence"
	"buddychat-go/internal/service"
	"buddychat-go/pkg/log"
)

// ProfileHandler 负责会话的设置与用户资料。
type ProfileHandler struct {
	profileService service.ProfileService
}

// NewProfileHandler 创建一个新的 ProfileHandler 实例。
func NewProfileHandler(profileService service.ProfileService) *ProfileHandler {
	return &ProfileHandler{profileService: profileService}
}

// UsernameRequest 定义了设置用户名 API 的请求体结构。
type UsernameRequest struct {
	Username string `json:"username"`
}

// SuggestionRequest 定义了记录建议使用次数 API 的请求体结构。
type SuggestionRequest struct {
	Suggestion string `json:"suggestion"`
}

// ThemeRequest 定义了设置主题 API 的请求体结构。
type ThemeRequest struct {
	Theme string `json:"theme"`
}

func respondData(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

// GetProfile 返回会话的全部资料，凭证已掩码。
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	respondData(c, h.profileService.Get(c.Request.Context(), middleware.CurrentSession(c)))
}

// GetSettings 返回设置，凭证已掩码。
func (h *ProfileHandler) GetSettings(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	respondData(c, service.MaskedSettings(sess.Storage.LoadSettings(c.Request.Context())))
}

// UpdateSettings 部分更新设置。
func (h *ProfileHandler) UpdateSettings(c *gin.Context) {
	var req service.SettingsUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}
	settings, err := h.profileService.UpdateSettings(c.Request.Context(), middleware.CurrentSession(c), req)
	if err != nil {
		// 写入失败时内存中的设置仍然返回，客户端可以继续使用
		log.Warnf("UpdateSettings: 保存设置失败: %v", err)
	}
	respondData(c, settings)
}

// GetUsername 返回用户名。
func (h *ProfileHandler) GetUsername(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	respondData(c, gin.H{"username": sess.Storage.LoadUsername(c.Request.Context())})
}

// SetUsername 设置用户名，空白用户名恢复默认值。
func (h *ProfileHandler) SetUsername(c *gin.Context) {
	var req UsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}
	name, err := h.profileService.SetUsername(c.Request.Context(), middleware.CurrentSession(c), req.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, gin.H{"username": name})
}

// GetQuestions 返回最近的问题历史。
func (h *ProfileHandler) GetQuestions(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	respondData(c, gin.H{"questions": sess.Storage.LoadQuestionHistory(c.Request.Context())})
}

// GetSuggestions 返回建议的使用次数。
func (h *ProfileHandler) GetSuggestions(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	respondData(c, gin.H{"usedSuggestions": sess.Storage.LoadSuggestions(c.Request.Context())})
}

// RecordSuggestion 将建议的使用次数加一。
func (h *ProfileHandler) RecordSuggestion(c *gin.Context) {
	var req SuggestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}
	counts, err := h.profileService.RecordSuggestion(c.Request.Context(), middleware.CurrentSession(c), req.Suggestion)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, gin.H{"usedSuggestions": counts})
}

// GetTheme 返回主题。
func (h *ProfileHandler) GetTheme(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	respondData(c, gin.H{"theme": persistence.Load(c.Request.Context(), sess.Storage, persistence.KeyTheme, service.DefaultTheme)})
}

// SetTheme 保存主题。
func (h *ProfileHandler) SetTheme(c *gin.Context) {
	var req ThemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}
	if err := h.profileService.SetTheme(c.Request.Context(), middleware.CurrentSession(c), req.Theme); err != nil {
		respondError(c, err)
		return
	}
	if req.Theme == "" {
		req.Theme = service.DefaultTheme
	}
	respondData(c, gin.H{"theme": req.Theme})
}

// GetOnboarding 返回是否已看过引导。
func (h *ProfileHandler) GetOnboarding(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	respondData(c, gin.H{"hasSeenOnboarding": persistence.Load(c.Request.Context(), sess.Storage, persistence.KeyOnboarding, false)})
}

// CompleteOnboarding 标记引导已完成。
func (h *ProfileHandler) CompleteOnboarding(c *gin.Context) {
	if err := h.profileService.CompleteOnboarding(c.Request.Context(), middleware.CurrentSession(c)); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, gin.H{"hasSeenOnboarding": true})
}

// ClearAll 清空消息并删除会话的所有持久化数据。
func (h *ProfileHandler) ClearAll(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	if err := h.profileService.ClearAll(c.Request.Context(), sess); err != nil {
		respondError(c, err)
		return
	}
	log.Infof("会话 %s 的数据已全部清除", sess.ID)
	respondData(c, nil)
}
