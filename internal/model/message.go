// Package model 包含了应用的数据模型定义。
package model

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// Role 表示消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ImageGeneratorModel 是图片生成消息使用的模型标识。
const ImageGeneratorModel = "image-generator"

// Message 代表会话中的单条消息。
// 顺序以切片中的位置为准，Timestamp 仅供展示，多条消息可能共享同一时间戳。
type Message struct {
	ID            string   `json:"id"`
	Role          Role     `json:"role"`
	Content       string   `json:"content"`
	Timestamp     int64    `json:"timestamp"` // epoch 毫秒
	Model         string   `json:"model"`
	Edited        bool     `json:"edited,omitempty"`
	FeedbackGiven bool     `json:"feedbackGiven,omitempty"`
	Reactions     []string `json:"reactions,omitempty"`
}

// NewMessage 创建一条带有新 ID 与当前时间戳的消息。
func NewMessage(role Role, content, model string) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		Model:     model,
	}
}

// NewID 生成 "时间戳(36进制)+随机串" 形式的消息 ID，不保证严格按时间有序。
func NewID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + hex.EncodeToString(b)
}

// Clone 返回消息的深拷贝（Reactions 不与原消息共享底层数组）。
func (m Message) Clone() Message {
	if m.Reactions != nil {
		m.Reactions = append([]string(nil), m.Reactions...)
	}
	return m
}

// HasReaction 判断消息是否已包含指定的反应。
func (m Message) HasReaction(token string) bool {
	for _, r := range m.Reactions {
		if r == token {
			return true
		}
	}
	return false
}

// CloneMessages 深拷贝一组消息。
func CloneMessages(in []Message) []Message {
	if in == nil {
		return []Message{}
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
