package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"buddychat-go/internal/middleware"
	"buddychat-go/internal/model"
	"buddychat-go/internal/service"
	"buddychat-go/pkg/log"
	"buddychat-go/pkg/relay"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

const wsWriteTimeout = 10 * time.Second

// maxImportSize 是导入请求体的大小上限。
const maxImportSize = 10 * 1024 * 1024

// ChatHandler 负责会话内的消息操作和 WebSocket 变更推送。
type ChatHandler struct {
	sessions        service.SessionService
	feedbackService service.FeedbackService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(sessions service.SessionService, feedbackService service.FeedbackService) *ChatHandler {
	return &ChatHandler{sessions: sessions, feedbackService: feedbackService}
}

// SendMessageRequest 定义了发送消息 API 的请求体结构。Model 与 Mode 为空时使用会话设置。
type SendMessageRequest struct {
	Input string         `json:"input"`
	Model model.Provider `json:"model"`
	Mode  model.ChatMode `json:"mode"`
}

// EditMessageRequest 定义了编辑消息 API 的请求体结构。
type EditMessageRequest struct {
	Content string `json:"content"`
}

// ReactionRequest 定义了切换反应 API 的请求体结构。
type ReactionRequest struct {
	Reaction string `json:"reaction"`
}

// FeedbackRequest 定义了提交反馈 API 的请求体结构。
type FeedbackRequest struct {
	Type    model.FeedbackKind `json:"type"`
	Message string             `json:"message"`
}

// ImageRequest 定义了生成图片 API 的请求体结构。
type ImageRequest struct {
	Prompt string `json:"prompt"`
}

// feedPayload 是推送给客户端的完整快照。
type feedPayload struct {
	Type           string            `json:"type"`
	Messages       []model.Message   `json:"messages"`
	State          service.ChatState `json:"state"`
	RegeneratingID string            `json:"regeneratingId,omitempty"`
}

func snapshotOf(sess *service.Session) feedPayload {
	st := sess.Chat.State()
	return feedPayload{
		Type:           "messages",
		Messages:       sess.Messages.Snapshot(),
		State:          st.State,
		RegeneratingID: st.RegeneratingID,
	}
}

func respondSnapshot(c *gin.Context, sess *service.Session) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": snapshotOf(sess)})
}

func respondMessage(c *gin.Context, msg model.Message) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": msg})
}

// respondError 将服务层错误映射为 HTTP 状态码。
func respondError(c *gin.Context, err error) {
	var rerr *relay.Error
	switch {
	case errors.Is(err, service.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrEmptyInput), errors.Is(err, service.ErrInvalidImport):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNoSession):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.As(err, &rerr):
		c.JSON(rerr.Status, rerr.Payload())
	default:
		log.Errorf("请求处理失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
	}
}

// ListMessages 返回消息快照与编排器状态。
func (h *ChatHandler) ListMessages(c *gin.Context) {
	respondSnapshot(c, middleware.CurrentSession(c))
}

// SendMessage 追加用户消息并等待回复完成。流式内容通过 WebSocket 推送。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}
	err := sess.Chat.SendMessage(c.Request.Context(), service.SendInput{Content: req.Input, Model: req.Model, Mode: req.Mode})
	if err != nil {
		respondError(c, err)
		return
	}
	respondSnapshot(c, sess)
}

// EditMessage 修改消息内容，必要时重新生成其后的回复。
func (h *ChatHandler) EditMessage(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}
	if _, err := sess.Chat.EditCascade(c.Request.Context(), c.Param("id"), req.Content); err != nil {
		respondError(c, err)
		return
	}
	respondSnapshot(c, sess)
}

// DeleteMessage 删除单条消息。
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	if !sess.Messages.Delete(c.Param("id")) {
		respondError(c, service.ErrMessageNotFound)
		return
	}
	respondSnapshot(c, sess)
}

// Regenerate 重新生成指定消息。
func (h *ChatHandler) Regenerate(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	if err := sess.Chat.Regenerate(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondSnapshot(c, sess)
}

// ToggleReaction 添加或移除消息上的反应。
func (h *ChatHandler) ToggleReaction(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}
	msg, err := h.feedbackService.ToggleReaction(sess, c.Param("id"), req.Reaction)
	if err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, msg)
}

// SubmitFeedback 记录对消息的反馈。
func (h *ChatHandler) SubmitFeedback(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}
	msg, err := h.feedbackService.Submit(c.Request.Context(), sess, c.Param("id"), req.Type, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, msg)
}

// ClearMessages 取消在途请求并清空消息。
func (h *ChatHandler) ClearMessages(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	sess.Chat.Clear()
	respondSnapshot(c, sess)
}

// Export 以 JSON 数组下载全部消息。
func (h *ChatHandler) Export(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	data, err := service.ExportMessages(sess)
	if err != nil {
		respondError(c, err)
		return
	}
	filename := "buddychat-" + time.Now().Format("2006-01-02") + ".json"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// Import 用请求体中的 JSON 数组替换全部消息。
func (h *ChatHandler) Import(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	if sess.Chat.State().State != service.StateIdle {
		respondError(c, service.ErrBusy)
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法读取请求体"})
		return
	}
	if _, err := service.ImportMessages(sess, data); err != nil {
		respondError(c, err)
		return
	}
	respondSnapshot(c, sess)
}

// GenerateImage 生成图片并追加为助手消息。
func (h *ChatHandler) GenerateImage(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	var req ImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}
	msg, err := sess.Chat.GenerateImage(c.Request.Context(), req.Prompt)
	if err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, msg)
}

// Watch 处理 WebSocket 连接：连接建立时推送一次完整快照，之后每次变更再推送一次。
// 客户端发送 {"type":"stop"} 可中断在途请求。
func (h *ChatHandler) Watch(c *gin.Context) {
	sess, err := h.sessions.Authenticate(c.Request.Context(), c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的 token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	changes, unsubscribe := sess.Messages.Subscribe()
	defer unsubscribe()
	log.Infof("WebSocket 连接已建立，会话: %s", sess.ID)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ctrl struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(message, &ctrl) == nil && ctrl.Type == "stop" {
				log.Info("收到停止指令，正在中断流式响应...")
				sess.Chat.Stop()
			}
		}
	}()

	if err := writeFeed(conn, sess); err != nil {
		log.Warnf("向 WebSocket 写入快照失败: %v", err)
		return
	}
	for {
		select {
		case <-closed:
			log.Infof("WebSocket 连接已关闭，会话: %s", sess.ID)
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := writeFeed(conn, sess); err != nil {
				log.Warnf("向 WebSocket 写入快照失败: %v", err)
				return
			}
		}
	}
}

func writeFeed(conn *websocket.Conn, sess *service.Session) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(snapshotOf(sess))
}
