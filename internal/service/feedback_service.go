package service

import (
	"context"
	"time"

	"buddychat-go/internal/model"
	"buddychat-go/pkg/log"
)

// FeedbackPublisher 投递反馈事件。
type FeedbackPublisher interface {
	PublishFeedback(ctx context.Context, event model.FeedbackEvent) error
}

// FeedbackService 处理消息反馈与反应。
type FeedbackService interface {
	Submit(ctx context.Context, sess *Session, messageID string, kind model.FeedbackKind, text string) (model.Message, error)
	ToggleReaction(sess *Session, messageID, reaction string) (model.Message, error)
}

type feedbackService struct {
	publisher FeedbackPublisher
}

// NewFeedbackService 创建一个新的 FeedbackService 实例。publisher 为 nil 时只在本地标记。
func NewFeedbackService(publisher FeedbackPublisher) FeedbackService {
	return &feedbackService{publisher: publisher}
}

func (s *feedbackService) Submit(ctx context.Context, sess *Session, messageID string, kind model.FeedbackKind, text string) (model.Message, error) {
	if !kind.Valid() {
		kind = model.FeedbackOther
	}
	msg, ok := sess.Messages.MarkFeedback(messageID)
	if !ok {
		return model.Message{}, ErrMessageNotFound
	}
	log.Infow("收到用户反馈", "session", sess.ID, "message", messageID, "type", kind)

	if s.publisher == nil {
		return msg, nil
	}
	event := model.FeedbackEvent{
		SessionID: sess.ID,
		MessageID: messageID,
		Model:     msg.Model,
		Type:      kind,
		Message:   text,
		Timestamp: time.Now().UnixMilli(),
	}
	// 投递失败不影响本地标记
	if err := s.publisher.PublishFeedback(ctx, event); err != nil {
		log.Errorf("投递反馈事件失败: %v", err)
	}
	return msg, nil
}

func (s *feedbackService) ToggleReaction(sess *Session, messageID, reaction string) (model.Message, error) {
	if reaction == "" {
		return model.Message{}, ErrEmptyInput
	}
	msg, ok := sess.Messages.ToggleReaction(messageID, reaction)
	if !ok {
		return model.Message{}, ErrMessageNotFound
	}
	return msg, nil
}
