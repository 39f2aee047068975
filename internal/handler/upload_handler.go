package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"buddychat-go/internal/model"
	"buddychat-go/internal/service"
	"buddychat-go/pkg/log"
)

// UploadHandler 负责处理文件上传请求。
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// Upload 接收表单字段 file 并保存到对象存储。
func (h *UploadHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, service.MaxUploadSize+1024*1024)

	header, err := c.FormFile("file")
	if err != nil || header.Size == 0 {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid file"})
		return
	}
	if header.Size > service.MaxUploadSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid file"})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid file"})
		return
	}
	defer file.Close()

	result, err := h.uploadService.Upload(c.Request.Context(), header.Filename, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, service.ErrUploadDisabled) {
			c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{Error: "File upload is not configured"})
			return
		}
		log.Error("Upload: failed to store file", err)
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "File upload failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}
