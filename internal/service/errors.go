package service

import "errors"

var (
	// ErrBusy 表示会话中已有进行中的请求。
	ErrBusy = errors.New("another request is in flight")
	// ErrEmptyInput 表示输入为空或只有空白。
	ErrEmptyInput = errors.New("input is empty")
	// ErrNoSession 表示会话不存在或令牌无效。
	ErrNoSession = errors.New("session not found")
	// ErrMessageNotFound 表示消息 ID 不存在。
	ErrMessageNotFound = errors.New("message not found")
	// ErrInvalidImport 表示导入的数据不是合法的消息数组。
	ErrInvalidImport = errors.New("invalid import payload")
	// ErrUploadDisabled 表示未配置对象存储。
	ErrUploadDisabled = errors.New("upload is not configured")
)
