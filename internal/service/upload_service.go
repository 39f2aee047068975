package service

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"buddychat-go/internal/model"
	"buddychat-go/pkg/log"
	"buddychat-go/pkg/storage"
)

// MaxUploadSize 是单个上传文件的大小上限 (20MB)。
const MaxUploadSize = 20 * 1024 * 1024

// UploadService 保存用户上传的附件。
type UploadService interface {
	Upload(ctx context.Context, fileName string, r io.Reader, size int64, contentType string) (model.UploadResult, error)
}

type uploadService struct {
	store storage.ObjectStore
}

// NewUploadService 创建一个新的 UploadService 实例。store 为 nil 时上传不可用。
func NewUploadService(store storage.ObjectStore) UploadService {
	return &uploadService{store: store}
}

// Upload 以随机文件名保存附件并保留原扩展名。
func (s *uploadService) Upload(ctx context.Context, fileName string, r io.Reader, size int64, contentType string) (model.UploadResult, error) {
	if s.store == nil {
		return model.UploadResult{}, ErrUploadDisabled
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	objectName := uuid.NewString() + ext
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	url, err := s.store.Put(ctx, objectName, r, size, contentType)
	if err != nil {
		log.Errorf("[Upload] 上传文件失败: %s, error: %v", fileName, err)
		return model.UploadResult{}, err
	}
	log.Infof("[Upload] 文件上传成功: %s -> %s", fileName, objectName)
	return model.UploadResult{
		FileName: objectName,
		FilePath: "/uploads/" + objectName,
		URL:      url,
	}, nil
}
