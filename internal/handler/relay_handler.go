package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"buddychat-go/internal/model"
	"buddychat-go/internal/service"
	"buddychat-go/pkg/log"
	"buddychat-go/pkg/relay"
	"buddychat-go/pkg/sse"
)

// RelayHandler 是浏览器与上游供应商之间的中继接口。
type RelayHandler struct {
	relayService service.RelayService
	imageService service.ImageService
}

// NewRelayHandler 创建一个新的 RelayHandler 实例。
func NewRelayHandler(relayService service.RelayService, imageService service.ImageService) *RelayHandler {
	return &RelayHandler{relayService: relayService, imageService: imageService}
}

// Chat 转发一次对话请求。
// 单次返回的供应商响应 JSON；流式供应商在收到第一段增量时才写出 SSE 响应头，
// 因此在此之前发生的错误仍然以 JSON 错误负载和对应状态码返回。
func (h *RelayHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Message is required"})
		return
	}

	started := false
	startStream := func() {
		if started {
			return
		}
		started = true
		header := c.Writer.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		header.Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		c.Writer.WriteHeaderNow()
	}

	resp, err := h.relayService.Relay(c.Request.Context(), req, func(delta model.StreamDelta) error {
		startStream()
		if err := sse.WriteData(c.Writer, delta); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	if err != nil {
		var rerr *relay.Error
		if !errors.As(err, &rerr) {
			rerr = &relay.Error{Status: http.StatusInternalServerError, Message: "Internal server error"}
		}
		if started {
			// 响应头已发出，只能结束流
			log.Warnf("流式响应中断: provider=%s, error=%s", req.Model, rerr.Message)
			return
		}
		c.JSON(rerr.Status, rerr.Payload())
		return
	}

	if resp == nil {
		startStream()
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GenerateImage 为提示词返回一张图片的地址。
func (h *RelayHandler) GenerateImage(c *gin.Context) {
	var req model.ImageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Prompt is required"})
		return
	}

	imageURL, err := h.imageService.Generate(req.Prompt)
	if err != nil {
		log.Error("GenerateImage: failed to generate image", err)
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Error generating image"})
		return
	}
	c.JSON(http.StatusOK, model.ImageResponse{ImageURL: imageURL, Prompt: req.Prompt})
}
